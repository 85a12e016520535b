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

// Package secrets stores per-integration connection credentials for
// backend implementations. The broker itself never reads secrets; only
// backend handles do, through the Store interface.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrSecretNotFound is returned when a key does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when the storage mechanism cannot
	// be used in the current environment.
	ErrBackendUnavailable = errors.New("secret backend unavailable")
)

// Store provides storage for sensitive per-integration values.
type Store interface {
	// Name returns the store identifier (e.g. "keychain", "file").
	Name() string

	// Get retrieves a secret value.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a secret value.
	Set(ctx context.Context, key string, value string) error

	// Delete removes a secret.
	Delete(ctx context.Context, key string) error

	// Available reports whether the store can be used right now.
	Available() bool
}

// Key builds the namespaced key for one integration field, e.g.
// "arion/postgresql-postgis/password".
func Key(integrationID, field string) (string, error) {
	if integrationID == "" || field == "" {
		return "", fmt.Errorf("integration and field are required")
	}
	if strings.ContainsRune(integrationID, '/') || strings.ContainsRune(field, '/') {
		return "", fmt.Errorf("integration and field must not contain '/'")
	}
	return "arion/" + integrationID + "/" + field, nil
}

// Open returns the preferred store for this environment: the system
// keychain when it is reachable, otherwise the file store under the data
// directory.
func Open(logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kc := NewKeychainStore()
	if kc.Available() {
		return kc, nil
	}

	logger.Warn("system keychain unavailable, falling back to file secret store")
	fs, err := NewFileStore("")
	if err != nil {
		return nil, err
	}
	return fs, nil
}
