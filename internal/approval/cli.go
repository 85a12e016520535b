package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Resolver receives the answer for a permission request.
// *Broker satisfies this; the indirection keeps the CLI client testable.
type Resolver interface {
	Resolve(requestID string, granted bool) bool
}

// CLIClient prompts the user for approval on the terminal. It is the
// interactive client used when the broker runs in the foreground; the
// desktop UI registers its own Client instead.
type CLIClient struct {
	resolver Resolver
	reader   io.Reader
	writer   io.Writer

	// mu serializes prompts so concurrent requests don't interleave on
	// the terminal.
	mu sync.Mutex
}

// NewCLIClient creates a terminal-based permission client.
func NewCLIClient(resolver Resolver) *CLIClient {
	return &CLIClient{
		resolver: resolver,
		reader:   os.Stdin,
		writer:   os.Stdout,
	}
}

// NewCLIClientWithIO creates a CLI client with custom IO (for testing).
func NewCLIClientWithIO(resolver Resolver, reader io.Reader, writer io.Writer) *CLIClient {
	return &CLIClient{
		resolver: resolver,
		reader:   reader,
		writer:   writer,
	}
}

// ShowPermissionRequest prompts and resolves the request from the
// user's answer. EOF or unrecognized input denies.
func (c *CLIClient) ShowPermissionRequest(req Request) {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		fmt.Fprintf(c.writer, "\n")
		fmt.Fprintf(c.writer, "Capability approval required:\n")
		fmt.Fprintf(c.writer, "  Integration: %s\n", req.IntegrationID)
		fmt.Fprintf(c.writer, "  Capability:  %s\n", req.Capability)
		fmt.Fprintf(c.writer, "  Scope:       %s\n", req.ScopeKey)
		fmt.Fprintf(c.writer, "\n")
		fmt.Fprintf(c.writer, "Approve execution? [y/N]: ")

		scanner := bufio.NewScanner(c.reader)
		if !scanner.Scan() {
			c.resolver.Resolve(req.ID, false)
			return
		}

		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			c.resolver.Resolve(req.ID, true)
		default:
			c.resolver.Resolve(req.ID, false)
		}
	}()
}

// DenyAllClient denies every permission request immediately. Used in
// unattended mode, where nothing sensitive may run without a
// pre-recorded grant.
type DenyAllClient struct {
	resolver Resolver
}

// NewDenyAllClient creates an unattended permission client.
func NewDenyAllClient(resolver Resolver) *DenyAllClient {
	return &DenyAllClient{resolver: resolver}
}

// ShowPermissionRequest denies the request.
func (d *DenyAllClient) ShowPermissionRequest(req Request) {
	d.resolver.Resolve(req.ID, false)
}
