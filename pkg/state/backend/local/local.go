// Package local implements a local filesystem state backend.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/groundwork-io/groundctl/pkg/state/backend"
)

func init() {
	backend.Register("local", NewBackend)
}

// Backend implements the state backend interface for local filesystem storage.
type Backend struct {
	basePath string
}

// NewBackend creates a new local backend.
func NewBackend(config map[string]string) (backend.Backend, error) {
	path := config["path"]
	if path == "" {
		// Default to ~/.groundctl/state
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".groundctl", "state")
	}

	// Ensure base path exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Backend{basePath: path}, nil
}

func (b *Backend) Type() string {
	return "local"
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := b.fullPath(path)

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
	}

	return file, nil
}

func (b *Backend) Write(ctx context.Context, path string, data io.Reader) error {
	fullPath := b.fullPath(path)

	// Ensure parent directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Write to temp file first, then rename for atomicity
	tempFile, err := os.CreateTemp(dir, ".groundctl-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	_, err = io.Copy(tempFile, data)
	if closeErr := tempFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write state: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save state: %w", err)
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	fullPath := b.fullPath(path)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil // Idempotent
		}
		return fmt.Errorf("failed to delete %s: %w", fullPath, err)
	}

	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)

	var paths []string
	err := filepath.Walk(fullPrefix, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			// Return path relative to base
			relPath, _ := filepath.Rel(b.basePath, path)
			paths = append(paths, relPath)
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", fullPrefix, err)
	}

	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := b.fullPath(path)

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", fullPath, err)
	}

	return true, nil
}

func (b *Backend) Lock(ctx context.Context, path string, info backend.LockInfo) (backend.Lock, error) {
	lockFilePath := b.lockFilePath(path)

	dir := filepath.Dir(lockFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	info.ID = uuid.New().String()
	info.Path = path
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	// Conditional create: O_EXCL fails if a lock file already exists.
	// An expired record is removed once and the create retried.
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(lockFilePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			if _, werr := file.Write(lockData); werr != nil {
				file.Close()
				os.Remove(lockFilePath)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			if cerr := file.Close(); cerr != nil {
				os.Remove(lockFilePath)
				return nil, fmt.Errorf("failed to write lock file: %w", cerr)
			}
			return &localLock{backend: b, filePath: lockFilePath, info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, rerr := b.readLockFile(lockFilePath)
		if rerr == nil && !existing.Expired() {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}

		// Stale or unreadable lock record: take it over.
		if rerr := os.Remove(lockFilePath); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("failed to remove expired lock: %w", rerr)
		}
	}

	return nil, &backend.LockError{Err: backend.ErrLocked}
}

func (b *Backend) ReadLock(ctx context.Context, path string) (backend.LockInfo, error) {
	return b.readLockFile(b.lockFilePath(path))
}

func (b *Backend) ForceUnlock(ctx context.Context, path string) error {
	if err := os.Remove(b.lockFilePath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (b *Backend) readLockFile(lockFilePath string) (backend.LockInfo, error) {
	data, err := os.ReadFile(lockFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return backend.LockInfo{}, backend.ErrNotFound
		}
		return backend.LockInfo{}, fmt.Errorf("failed to read lock file: %w", err)
	}

	var info backend.LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return backend.LockInfo{}, fmt.Errorf("failed to decode lock file: %w", err)
	}
	return info, nil
}

func (b *Backend) fullPath(path string) string {
	return filepath.Join(b.basePath, path)
}

func (b *Backend) lockFilePath(path string) string {
	return b.fullPath(path + ".lock")
}

// localLock implements the Lock interface for local filesystem.
type localLock struct {
	backend  *Backend
	filePath string
	info     backend.LockInfo
}

func (l *localLock) ID() string {
	return l.info.ID
}

func (l *localLock) Info() backend.LockInfo {
	return l.info
}

func (l *localLock) Renew(ctx context.Context, lease time.Duration) error {
	current, err := l.backend.readLockFile(l.filePath)
	if err != nil || current.ID != l.info.ID {
		return backend.ErrLockExpired
	}

	l.info.Created = time.Now()
	l.info.Lease = lease

	lockData, err := json.Marshal(l.info)
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if err := os.WriteFile(l.filePath, lockData, 0644); err != nil {
		return fmt.Errorf("failed to renew lock file: %w", err)
	}
	return nil
}

func (l *localLock) Unlock(ctx context.Context) error {
	current, err := l.backend.readLockFile(l.filePath)
	if err == nil && current.ID != l.info.ID {
		return backend.ErrLockNotHeld
	}

	if err := os.Remove(l.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	return nil
}
