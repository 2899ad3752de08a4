// Package backend defines the pluggable storage interface for groundctl state.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound indicates the requested state path does not exist.
	ErrNotFound = errors.New("state not found")

	// ErrLocked indicates an unexpired lock is already held by someone else.
	ErrLocked = errors.New("state is locked")

	// ErrLockNotHeld indicates a release or renewal by a non-holder.
	ErrLockNotHeld = errors.New("lock not held")

	// ErrLockExpired indicates the caller's lease lapsed and the lock may
	// have been taken over by another process.
	ErrLockExpired = errors.New("lock lease expired")
)

// LockInfo contains metadata about a held lock.
type LockInfo struct {
	// ID uniquely identifies this acquisition.
	ID string `json:"id"`

	// Path is the state path the lock covers.
	Path string `json:"path"`

	// Who identifies the holder (user@host or CI job id).
	Who string `json:"who"`

	// Operation names what the holder is doing (plan, apply, destroy).
	Operation string `json:"operation"`

	// Created is when the lock was acquired or last renewed.
	Created time.Time `json:"created"`

	// Lease is how long the lock is valid after Created. A zero lease
	// never expires and can only be released explicitly.
	Lease time.Duration `json:"lease"`
}

// Expired reports whether the lock's lease has lapsed. Expiry is computed
// against the caller's clock; cooperating processes are assumed to have
// bounded clock skew.
func (i LockInfo) Expired() bool {
	if i.Lease == 0 {
		return false
	}
	return time.Since(i.Created) > i.Lease
}

// LockError is returned when a lock cannot be acquired, carrying the
// current holder's info so callers can report who owns it.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	if e.Info.Who != "" {
		return fmt.Sprintf("%v (held by %s for %s since %s)",
			e.Err, e.Info.Who, e.Info.Operation, e.Info.Created.Format(time.RFC3339))
	}
	return e.Err.Error()
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Lock represents a held lock on a state path.
type Lock interface {
	// ID returns the unique id of this acquisition.
	ID() string

	// Info returns the lock metadata.
	Info() LockInfo

	// Renew extends the lease from now. Returns ErrLockExpired if the
	// lock record no longer belongs to this holder.
	Renew(ctx context.Context, lease time.Duration) error

	// Unlock releases the lock. Returns ErrLockNotHeld if the record no
	// longer belongs to this holder.
	Unlock(ctx context.Context) error
}

// Backend is the interface all state storage backends implement.
// Writes are atomic at whole-object granularity; lock acquisition is a
// conditional create that fails while an unexpired record exists.
type Backend interface {
	// Type returns the backend type name.
	Type() string

	// Read returns the content at the given state path.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write stores content at the given state path atomically.
	Write(ctx context.Context, path string, data io.Reader) error

	// Delete removes the content at the given state path. Idempotent.
	Delete(ctx context.Context, path string) error

	// List returns all state paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether the given state path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Lock acquires the lock covering the given state path.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)

	// ReadLock returns the current lock record for the path, or
	// ErrNotFound if no lock is held.
	ReadLock(ctx context.Context, path string) (LockInfo, error)

	// ForceUnlock removes a lock record regardless of holder. Operator
	// escape hatch; normal releases go through Lock.Unlock.
	ForceUnlock(ctx context.Context, path string) error
}

// Config describes how to construct a backend.
type Config struct {
	Type   string
	Config map[string]string
}

// Factory constructs a backend from its configuration map.
type Factory func(config map[string]string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend type available by name. Called from backend
// package init functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create constructs a backend from config.
func Create(config Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q (available: %v)", config.Type, Registered())
	}
	return factory(config.Config)
}

// Registered returns the names of all registered backend types.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
