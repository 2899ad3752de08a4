// Package gcs implements a Google Cloud Storage state backend.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/groundwork-io/groundctl/pkg/state/backend"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func init() {
	backend.Register("gcs", NewBackend)
}

// Backend implements the state backend interface for Google Cloud Storage.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewBackend creates a new GCS backend.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	bucketName, ok := cfg["bucket"]
	if !ok || bucketName == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	// Support explicit credentials file
	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	// Support credentials JSON
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}

	// Support custom endpoint (for emulator)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		opts = append(opts, option.WithoutAuthentication())
	}

	// Create GCS client
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Backend{
		client: client,
		bucket: bucketName,
		prefix: cfg["prefix"],
	}, nil
}

func (b *Backend) Type() string {
	return "gcs"
}

func (b *Backend) Read(ctx context.Context, statePath string) (io.ReadCloser, error) {
	objectPath := b.fullPath(statePath)

	reader, err := b.client.Bucket(b.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state from gs://%s/%s: %w", b.bucket, objectPath, err)
	}

	return reader, nil
}

func (b *Backend) Write(ctx context.Context, statePath string, data io.Reader) error {
	objectPath := b.fullPath(statePath)

	// Read all data first
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	writer := b.client.Bucket(b.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write state to gs://%s/%s: %w", b.bucket, objectPath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, statePath string) error {
	objectPath := b.fullPath(statePath)

	err := b.client.Bucket(b.bucket).Object(objectPath).Delete(ctx)
	if err != nil {
		// Ignore not found errors for idempotency
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete state from gs://%s/%s: %w", b.bucket, objectPath, err)
	}

	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)

	var paths []string
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: fullPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		relPath := strings.TrimPrefix(attrs.Name, b.prefix+"/")
		paths = append(paths, relPath)
	}

	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, statePath string) (bool, error) {
	objectPath := b.fullPath(statePath)

	_, err := b.client.Bucket(b.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return true, nil
}

func (b *Backend) Lock(ctx context.Context, statePath string, info backend.LockInfo) (backend.Lock, error) {
	lockPath := b.lockPath(statePath)

	info.ID = uuid.New().String()
	info.Path = statePath
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	// Conditional create: DoesNotExist precondition fails with 412 while
	// the lock object exists. An expired record is deleted once and retried.
	for attempt := 0; attempt < 2; attempt++ {
		obj := b.client.Bucket(b.bucket).Object(lockPath).If(storage.Conditions{DoesNotExist: true})
		writer := obj.NewWriter(ctx)
		writer.ContentType = "application/json"

		_, werr := writer.Write(lockData)
		cerr := writer.Close()
		if werr == nil && cerr == nil {
			return &gcsLock{backend: b, path: lockPath, info: info}, nil
		}
		err := cerr
		if werr != nil {
			err = werr
		}
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, rerr := b.readLock(ctx, lockPath)
		if rerr == nil && !existing.Expired() {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}

		// Stale or unreadable lock record: take it over.
		if derr := b.client.Bucket(b.bucket).Object(lockPath).Delete(ctx); derr != nil &&
			!errors.Is(derr, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("failed to remove expired lock: %w", derr)
		}
	}

	return nil, &backend.LockError{Err: backend.ErrLocked}
}

func (b *Backend) ReadLock(ctx context.Context, statePath string) (backend.LockInfo, error) {
	info, err := b.readLock(ctx, b.lockPath(statePath))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return backend.LockInfo{}, backend.ErrNotFound
		}
		return backend.LockInfo{}, err
	}
	return info, nil
}

func (b *Backend) ForceUnlock(ctx context.Context, statePath string) error {
	err := b.client.Bucket(b.bucket).Object(b.lockPath(statePath)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (b *Backend) readLock(ctx context.Context, lockPath string) (backend.LockInfo, error) {
	reader, err := b.client.Bucket(b.bucket).Object(lockPath).NewReader(ctx)
	if err != nil {
		return backend.LockInfo{}, err
	}
	defer reader.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(reader).Decode(&info); err != nil {
		return backend.LockInfo{}, err
	}
	return info, nil
}

func (b *Backend) fullPath(statePath string) string {
	if b.prefix == "" {
		return statePath
	}
	return path.Join(b.prefix, statePath)
}

func (b *Backend) lockPath(statePath string) string {
	return b.fullPath(statePath + ".lock")
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 412
}

// gcsLock implements the Lock interface for GCS.
type gcsLock struct {
	backend *Backend
	path    string
	info    backend.LockInfo
}

func (l *gcsLock) ID() string {
	return l.info.ID
}

func (l *gcsLock) Info() backend.LockInfo {
	return l.info
}

func (l *gcsLock) Renew(ctx context.Context, lease time.Duration) error {
	current, err := l.backend.readLock(ctx, l.path)
	if err != nil || current.ID != l.info.ID {
		return backend.ErrLockExpired
	}

	l.info.Created = time.Now()
	l.info.Lease = lease

	lockData, err := json.Marshal(l.info)
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}

	writer := l.backend.client.Bucket(l.backend.bucket).Object(l.path).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(lockData)); err != nil {
		writer.Close()
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to renew lock: %w", err)
	}
	return nil
}

func (l *gcsLock) Unlock(ctx context.Context) error {
	current, err := l.backend.readLock(ctx, l.path)
	if err == nil && current.ID != l.info.ID {
		return backend.ErrLockNotHeld
	}

	err = l.backend.client.Bucket(l.backend.bucket).Object(l.path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
