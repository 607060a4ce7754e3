// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secrets provides the narrow credential-store contract the
// pipeline consults before hosted-provider requests. Absence of a
// credential is a reportable configuration state, never a crash.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/morganforge/cadence/internal/util"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the credential-store collaborator.
type Store interface {
	// Retrieve returns the named secret. ok is false when absent.
	Retrieve(name string) (secret string, ok bool)
}

// Writer extends Store with mutation, for operator tooling.
type Writer interface {
	Store
	Put(name, secret string) error
	Delete(name string) error
}

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps one 0600 file per secret name under a private directory.
// Used as the fallback when no platform keychain integration is wired in.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed store rooted at dir
// (default ~/.cadence/secrets when dir is empty).
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".cadence", "secrets")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Retrieve reads the named secret file.
func (f *FileStore) Retrieve(name string) (string, bool) {
	data, err := os.ReadFile(f.path(name))
	if err != nil {
		return "", false
	}
	secret := strings.TrimSpace(string(data))
	return secret, secret != ""
}

// Put writes the secret with restricted permissions.
func (f *FileStore) Put(name, secret string) error {
	if err := util.AtomicWriteFile(f.path(name), []byte(secret), 0600); err != nil {
		return fmt.Errorf("failed to write secret: %w", err)
	}
	return nil
}

// Delete removes the named secret.
func (f *FileStore) Delete(name string) error {
	if err := os.Remove(f.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (f *FileStore) path(name string) string {
	// Secret names are config-controlled identifiers; flatten anything
	// path-like just in case.
	safe := strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(f.dir, safe)
}

// =============================================================================
// ENV STORE
// =============================================================================

// EnvStore resolves secrets from environment variables, uppercasing the
// name: "cadence_api_key" reads CADENCE_API_KEY.
type EnvStore struct{}

// Retrieve implements Store.
func (EnvStore) Retrieve(name string) (string, bool) {
	v := os.Getenv(strings.ToUpper(name))
	return v, v != ""
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain queries stores in order and returns the first hit.
type Chain []Store

// Retrieve implements Store.
func (c Chain) Retrieve(name string) (string, bool) {
	for _, s := range c {
		if v, ok := s.Retrieve(name); ok {
			return v, true
		}
	}
	return "", false
}
