// Package state provides snapshot and lock management for groundctl.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/groundwork-io/groundctl/pkg/errors"
	"github.com/groundwork-io/groundctl/pkg/state/backend"
	"github.com/groundwork-io/groundctl/pkg/state/types"
)

// Manager provides high-level state operations over a backend.
//
// The snapshot is the sole source of truth for what currently exists;
// existence is never inferred from provider side effects directly. All
// writes go through the optimistic digest check.
type Manager interface {
	// ReadSnapshot returns the snapshot for the given state key and its
	// content digest. A missing snapshot yields an empty one, so reads
	// never block and never fail on first use.
	ReadSnapshot(ctx context.Context, key string) (*types.Snapshot, string, error)

	// WriteSnapshot stores the snapshot if the store's current digest
	// matches expectedDigest, returning the new digest. A mismatch is a
	// StaleWriteError and nothing is written.
	WriteSnapshot(ctx context.Context, key string, snap *types.Snapshot, expectedDigest string) (string, error)

	// DeleteSnapshot removes the snapshot for the given state key.
	DeleteSnapshot(ctx context.Context, key string) error

	// ListKeys returns all state keys known to the backend.
	ListKeys(ctx context.Context) ([]string, error)

	// Lock acquires the lock for a state key, retrying with exponential
	// backoff until the scope's wait deadline. Exceeding the deadline
	// surfaces as a LOCK_BUSY error, never an indefinite block.
	Lock(ctx context.Context, scope LockScope) (backend.Lock, error)

	// ReadLock returns the current lock record for a state key.
	ReadLock(ctx context.Context, key string) (backend.LockInfo, error)

	// ForceUnlock removes a lock record regardless of holder.
	ForceUnlock(ctx context.Context, key string) error

	// Backend returns the underlying backend.
	Backend() backend.Backend
}

// LockScope defines what to lock and for how long.
type LockScope struct {
	// Key is the logical state identifier.
	Key string

	// Who identifies the caller (user@host or CI job id).
	Who string

	// Operation names what the caller is doing (plan, apply, destroy).
	Operation string

	// Lease is how long the lock stays valid without renewal.
	Lease time.Duration

	// Wait bounds how long acquisition may retry before giving up.
	// Zero means fail fast on the first Busy.
	Wait time.Duration
}

// DefaultLease is used when a scope does not specify one.
const DefaultLease = 10 * time.Minute

// manager implements the Manager interface.
type manager struct {
	backend backend.Backend
}

// NewManager creates a new state manager with the given backend.
func NewManager(b backend.Backend) Manager {
	return &manager{backend: b}
}

// NewManagerFromConfig creates a new state manager from backend configuration.
func NewManagerFromConfig(config backend.Config) (Manager, error) {
	b, err := backend.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewManager(b), nil
}

func (m *manager) Backend() backend.Backend {
	return m.backend
}

func (m *manager) ReadSnapshot(ctx context.Context, key string) (*types.Snapshot, string, error) {
	snap, err := m.readSnapshot(ctx, key)
	if err != nil {
		if stderrors.Is(err, backend.ErrNotFound) {
			empty := types.NewSnapshot(key)
			return empty, empty.Digest(), nil
		}
		return nil, "", errors.BackendError(m.backend.Type(), "read", err)
	}
	return snap, snap.Digest(), nil
}

func (m *manager) WriteSnapshot(ctx context.Context, key string, snap *types.Snapshot, expectedDigest string) (string, error) {
	// Optimistic concurrency: the write is accepted only if the store's
	// current content still carries the digest the caller read.
	_, currentDigest, err := m.ReadSnapshot(ctx, key)
	if err != nil {
		return "", err
	}
	if currentDigest != expectedDigest {
		return "", errors.StaleWriteError(expectedDigest, currentDigest)
	}

	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := m.backend.Write(ctx, snapshotPath(key), bytes.NewReader(content)); err != nil {
		return "", errors.BackendError(m.backend.Type(), "write", err)
	}

	return snap.Digest(), nil
}

func (m *manager) DeleteSnapshot(ctx context.Context, key string) error {
	if err := m.backend.Delete(ctx, snapshotPath(key)); err != nil {
		return errors.BackendError(m.backend.Type(), "delete", err)
	}
	return nil
}

func (m *manager) ListKeys(ctx context.Context) ([]string, error) {
	paths, err := m.backend.List(ctx, "states/")
	if err != nil {
		return nil, errors.BackendError(m.backend.Type(), "list", err)
	}

	// Path format: states/<key>/snapshot.state.json
	keys := make(map[string]bool)
	for _, p := range paths {
		if !strings.HasSuffix(p, "snapshot.state.json") {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(p, "states/"), "/snapshot.state.json")
		if trimmed != "" {
			keys[trimmed] = true
		}
	}

	result := make([]string, 0, len(keys))
	for key := range keys {
		result = append(result, key)
	}
	return result, nil
}

func (m *manager) Lock(ctx context.Context, scope LockScope) (backend.Lock, error) {
	if scope.Lease == 0 {
		scope.Lease = DefaultLease
	}

	info := backend.LockInfo{
		Who:       scope.Who,
		Operation: scope.Operation,
		Lease:     scope.Lease,
	}

	deadline := time.Now().Add(scope.Wait)
	backoff := 250 * time.Millisecond

	for {
		lock, err := m.backend.Lock(ctx, lockPath(scope.Key), info)
		if err == nil {
			return lock, nil
		}

		var lockErr *backend.LockError
		if !stderrors.As(err, &lockErr) {
			return nil, errors.BackendError(m.backend.Type(), "lock", err)
		}

		if scope.Wait == 0 || time.Now().Add(backoff).After(deadline) {
			holder := errors.LockInfo{
				ID:        lockErr.Info.ID,
				Path:      lockErr.Info.Path,
				Who:       lockErr.Info.Who,
				Operation: lockErr.Info.Operation,
				Created:   lockErr.Info.Created,
				Lease:     lockErr.Info.Lease,
			}
			return nil, errors.LockBusy(scope.Key, holder)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > 4*time.Second {
			backoff = 4 * time.Second
		}
	}
}

func (m *manager) ReadLock(ctx context.Context, key string) (backend.LockInfo, error) {
	info, err := m.backend.ReadLock(ctx, lockPath(key))
	if err != nil {
		if stderrors.Is(err, backend.ErrNotFound) {
			return backend.LockInfo{}, errors.NotFoundError("lock", key)
		}
		return backend.LockInfo{}, errors.BackendError(m.backend.Type(), "read lock", err)
	}
	return info, nil
}

func (m *manager) ForceUnlock(ctx context.Context, key string) error {
	if err := m.backend.ForceUnlock(ctx, lockPath(key)); err != nil {
		return errors.BackendError(m.backend.Type(), "force unlock", err)
	}
	return nil
}

func (m *manager) readSnapshot(ctx context.Context, key string) (*types.Snapshot, error) {
	reader, err := m.backend.Read(ctx, snapshotPath(key))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var snap types.Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Resources == nil {
		snap.Resources = make(map[string]*types.ResourceRecord)
	}

	return &snap, nil
}

// Path helpers

func snapshotPath(key string) string {
	return path.Join("states", key, "snapshot.state.json")
}

func lockPath(key string) string {
	return path.Join("states", key)
}
