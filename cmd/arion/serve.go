// Copyright 2025 GeoRetina
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/api"
	"github.com/GeoRetina/arion/internal/approval"
	"github.com/GeoRetina/arion/internal/backend"
	"github.com/GeoRetina/arion/internal/broker"
	"github.com/GeoRetina/arion/internal/capability"
	"github.com/GeoRetina/arion/internal/config"
	ilog "github.com/GeoRetina/arion/internal/log"
	"github.com/GeoRetina/arion/internal/mcp"
	"github.com/GeoRetina/arion/internal/policy"
)

// lateResolver breaks the construction cycle between the approval broker
// and the CLI client that answers its requests.
type lateResolver struct {
	broker *approval.Broker
}

func (r *lateResolver) Resolve(requestID string, granted bool) bool {
	if r.broker == nil {
		return false
	}
	return r.broker.Resolve(requestID, granted)
}

func newServeCommand() *cobra.Command {
	var (
		policyPath string
		mcpPath    string
		grantsPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker and its API",
		Long: `Start the capability broker in the foreground. The broker connects
to configured MCP servers, loads the connector policy, and serves the
management API on a loopback address. Approval prompts appear on this
terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return runServe(cmd, addr, policyPath, mcpPath, grantsPath)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "Path to the policy file (default: config dir)")
	cmd.Flags().StringVar(&mcpPath, "mcp-config", "", "Path to the MCP servers file (default: config dir)")
	cmd.Flags().StringVar(&grantsPath, "grants", "", "Path to the grants database (default: data dir)")

	return cmd
}

func runServe(cmd *cobra.Command, addr, policyPath, mcpPath, grantsPath string) error {
	logger := ilog.New(ilog.FromEnv())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MCP servers: a connection failure degrades routing for that server
	// but never prevents startup.
	var mcpCfg *mcp.ServersConfig
	var err error
	if mcpPath != "" {
		mcpCfg, err = mcp.LoadConfigFile(mcpPath)
	} else {
		mcpCfg, err = mcp.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("loading MCP config: %w", err)
	}
	manager, err := mcp.NewManager(mcpCfg, mcp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating MCP manager: %w", err)
	}
	defer manager.CloseAll()
	if err := manager.ConnectAll(ctx); err != nil {
		logger.Warn("Some MCP servers failed to connect", ilog.Error(err))
	}

	caps, err := capability.NewRegistry(capability.Builtin())
	if err != nil {
		return fmt.Errorf("building capability registry: %w", err)
	}
	native := backend.NewRegistry(backend.KindNative)
	plugin := backend.NewRegistry(backend.KindPlugin)

	// Policy: loaded from disk, hot-reloaded on change. A bad edit keeps
	// the previous policy in force.
	store, err := policy.NewFileStore(policyPath)
	if err != nil {
		return err
	}
	pol, err := store.Get()
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	if err := pol.Validate(caps); err != nil {
		return fmt.Errorf("invalid policy in %s: %w", store.Path(), err)
	}

	if grantsPath == "" {
		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		grantsPath = filepath.Join(dataDir, "grants.db")
	}
	grantStore, err := approval.NewSQLiteGrantStore(grantsPath)
	if err != nil {
		return fmt.Errorf("opening grants database: %w", err)
	}
	defer grantStore.Close()
	ledger, err := approval.NewLedger(grantStore, logger)
	if err != nil {
		return err
	}

	resolver := &lateResolver{}
	approvals := approval.NewBroker(approval.BrokerConfig{
		Ledger: ledger,
		Client: approval.NewCLIClient(resolver),
		Logger: logger,
	})
	resolver.broker = approvals

	b := broker.New(broker.Config{
		Capabilities: caps,
		Router:       broker.NewRouter(native, plugin, manager),
		Approvals:    approvals,
		Ledger:       ledger,
		Policy:       pol,
		Logger:       logger,
	})

	watcher, err := policy.NewWatcher(store.Path(), func() {
		next, err := store.Get()
		if err != nil {
			logger.Warn("Policy reload failed, keeping previous policy", ilog.Error(err))
			return
		}
		if err := b.SetPolicy(next); err != nil {
			logger.Warn("Policy rejected, keeping previous policy", ilog.Error(err))
			return
		}
		logger.Info("Policy reloaded", slog.String("path", store.Path()))
	}, logger)
	if err != nil {
		logger.Warn("Policy watcher unavailable, edits require a restart", ilog.Error(err))
	} else {
		defer watcher.Close()
	}

	srv := api.New(api.Config{
		Broker:  b,
		Manager: manager,
		Policy:  store,
		Addr:    addr,
		Logger:  logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Broker started",
		slog.String("addr", addr),
		slog.String("version", version),
		slog.Int("capabilities", caps.Len()),
		slog.Int("mcp_servers", len(manager.Names())),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
