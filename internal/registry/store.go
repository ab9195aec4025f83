package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/xchainctl/internal/record"
)

var (
	ErrNotFound = errors.New("server not found")
	ErrCorrupt  = errors.New("registry file is corrupt")
	ErrWrite    = errors.New("registry write failed")
	ErrLocked   = errors.New("registry is locked by another invocation")
)

const (
	// FileName is the registry document inside the home directory.
	FileName = "config.json"

	DefaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 25 * time.Millisecond
)

// Store is the durable registry of server records.
// Every mutation is a locked read-modify-write; reads see whole documents only.
type Store interface {
	Load(ctx context.Context) (*Registry, error)
	Save(ctx context.Context, reg *Registry) error
	Update(ctx context.Context, fn func(*Registry) error) error
	Get(ctx context.Context, name string) (record.ServerRecord, error)
	GetAll(ctx context.Context, kinds ...record.Kind) ([]record.ServerRecord, error)
	Upsert(ctx context.Context, rec record.ServerRecord) error
	Remove(ctx context.Context, name string) error
}

// Options tune a FileStore.
type Options struct {
	LockTimeout time.Duration
	Logger      *slog.Logger
}

// FileStore keeps the registry as a JSON document guarded by an advisory lock file.
type FileStore struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore stores the registry at path; the lock lives next to it as path+".lock".
func NewFileStore(path string, opts Options) *FileStore {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FileStore{
		path:        filepath.Clean(path),
		lockPath:    filepath.Clean(path) + ".lock",
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger,
	}
}

// Path returns the registry document location.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing file is the first-run case and yields an empty registry.
func (s *FileStore) Load(_ context.Context) (*Registry, error) {
	return s.read()
}

// Save replaces the document atomically under the lock.
func (s *FileStore) Save(ctx context.Context, reg *Registry) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(reg)
}

// Update runs fn on the current registry while holding the lock and persists the result.
// When fn returns an error nothing is written.
func (s *FileStore) Update(ctx context.Context, fn func(*Registry) error) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	reg, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	return s.write(reg)
}

func (s *FileStore) Get(ctx context.Context, name string) (record.ServerRecord, error) {
	reg, err := s.Load(ctx)
	if err != nil {
		return record.ServerRecord{}, err
	}
	rec, ok := reg.Get(name)
	if !ok {
		return record.ServerRecord{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, nil
}

func (s *FileStore) GetAll(ctx context.Context, kinds ...record.Kind) ([]record.ServerRecord, error) {
	reg, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return reg.All(kinds...), nil
}

func (s *FileStore) Upsert(ctx context.Context, rec record.ServerRecord) error {
	return s.Update(ctx, func(reg *Registry) error { return reg.Upsert(rec) })
}

func (s *FileStore) Remove(ctx context.Context, name string) error {
	return s.Update(ctx, func(reg *Registry) error {
		reg.Remove(name)
		return nil
	})
}

// acquire takes the advisory lock, giving up after lockTimeout with ErrLocked.
// A fresh flock handle per call keeps goroutines of one process mutually exclusive too.
func (s *FileStore) acquire(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	fl := flock.New(s.lockPath)
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(lctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waited %s for %s", ErrLocked, s.lockTimeout, s.lockPath)
		}
		return nil, fmt.Errorf("lock %s: %w", s.lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: waited %s for %s", ErrLocked, s.lockTimeout, s.lockPath)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("registry unlock failed", "path", s.lockPath, "error", err)
		}
	}, nil
}

func (s *FileStore) read() (*Registry, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return New(), nil
	}
	reg := New()
	if err := json.Unmarshal(b, reg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return reg, nil
}

// write replaces the document via temp file + rename so readers never see a partial file.
func (s *FileStore) write(reg *Registry) error {
	b, err := reg.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrWrite, err)
	}
	b = append(b, '\n')
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	s.logger.Debug("registry saved", "path", s.path, "servers", reg.Len())
	return nil
}
