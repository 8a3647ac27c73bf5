// SpacePanda - privacy-first peer-to-peer encrypted group messaging
// Copyright (C) 2025 spacepanda-project
//
// This file is part of SpacePanda.
//
// SpacePanda is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpacePanda is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SpacePanda. If not, see <https://www.gnu.org/licenses/>.

package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists a single keystore container on disk, identified
// by a file name under a base directory. Writes are atomic: the
// container is written to a temp file and renamed into place so a
// crash mid-write never leaves a half-written container.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if
// necessary with owner-only permissions.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save encrypts state with passphrase (nil for an unencrypted
// container) and atomically writes the result to name.
func (s *FileStore) Save(name string, state, passphrase []byte) error {
	container, err := Export(state, passphrase)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	tmp, err := os.CreateTemp(s.baseDir, ".tmp-"+filepath.Base(name)+"-*")
	if err != nil {
		return fmt.Errorf("keystore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(container); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keystore: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("keystore: rename into place: %w", err)
	}
	return nil
}

// Load reads and decrypts the container named name.
func (s *FileStore) Load(name string, passphrase []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("keystore: read file: %w", err)
	}
	return Import(data, passphrase)
}

// Exists reports whether a container named name is present.
func (s *FileStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(name))
	return err == nil
}

// Delete removes the container named name.
func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		return fmt.Errorf("keystore: delete file: %w", err)
	}
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.baseDir, filepath.Base(name))
}
