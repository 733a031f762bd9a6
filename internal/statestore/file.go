package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

const stateFileExt = ".json"

// FileStore keeps one JSON file per session in a private directory.
//
// SECURITY: the directory is created with 0700 and files with 0600
// permissions. File names are hashes of the session key; token values are
// never logged.
type FileStore struct {
	mu  sync.RWMutex
	dir string

	// names maps file names back to session keys so removals can be
	// reported after the file is gone.
	names map[string]string

	debounceInterval time.Duration
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{
		dir:              dir,
		names:            make(map[string]string),
		debounceInterval: 100 * time.Millisecond,
	}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, hashKey(key)+stateFileExt)
}

func (s *FileStore) Load(ctx context.Context, key string) (*oauth.AuthState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// #nosec G304 -- path is derived from a hash of the key
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.authState()
}

func (s *FileStore) Save(ctx context.Context, key string, state *oauth.AuthState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeRecord(key, state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.names[filepath.Base(path)] = key
	logging.Audit("state_saved", "Authorization state stored", "key", key, "backend", "file")
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	logging.Audit("state_deleted", "Authorization state deleted", "key", key, "backend", "file")
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != stateFileExt {
			continue
		}
		key, err := s.readKey(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			logging.Warn("StateStore", "Skipping unreadable state file %s: %v", entry.Name(), err)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// readKey decodes the record at path and remembers its key.
func (s *FileStore) readKey(path string) (string, error) {
	// #nosec G304 -- path comes from our own directory listing
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.names[filepath.Base(path)] = rec.Key
	s.mu.Unlock()
	return rec.Key, nil
}

// ChangeOperation is what happened to a stored session.
type ChangeOperation string

const (
	OperationSaved   ChangeOperation = "saved"
	OperationDeleted ChangeOperation = "deleted"
)

// ChangeEvent reports a change to the state directory, whether made by this
// process or another one.
type ChangeEvent struct {
	Key       string
	Operation ChangeOperation
	Timestamp time.Time
}

// Watch reports changes to stored sessions until ctx is done. Rapid
// successive writes to the same session are merged into one event.
func (s *FileStore) Watch(ctx context.Context, onChange func(ChangeEvent)) error {
	// Prime the name cache so deletions of existing files can be reported.
	if _, err := s.List(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	go s.processEvents(ctx, watcher, onChange)

	logging.Debug("StateStore", "Watching %s for session changes", s.dir)
	return nil
}

func (s *FileStore) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onChange func(ChangeEvent)) {
	defer watcher.Close()

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			change, ok := s.toChangeEvent(event)
			if !ok {
				continue
			}

			mu.Lock()
			if t, exists := pending[change.Key]; exists {
				t.Stop()
			}
			pending[change.Key] = time.AfterFunc(s.debounceInterval, func() {
				mu.Lock()
				delete(pending, change.Key)
				mu.Unlock()
				if ctx.Err() == nil {
					onChange(change)
				}
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("StateStore", err, "State directory watcher error")
		}
	}
}

func (s *FileStore) toChangeEvent(event fsnotify.Event) (ChangeEvent, bool) {
	base := filepath.Base(event.Name)
	if filepath.Ext(base) != stateFileExt || strings.HasPrefix(base, ".") {
		return ChangeEvent{}, false
	}

	change := ChangeEvent{Timestamp: timeNow()}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		key, err := s.readKey(event.Name)
		if err != nil {
			return ChangeEvent{}, false
		}
		change.Key = key
		change.Operation = OperationSaved
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.mu.RLock()
		key, known := s.names[base]
		s.mu.RUnlock()
		if !known {
			return ChangeEvent{}, false
		}
		change.Key = key
		change.Operation = OperationDeleted
	default:
		return ChangeEvent{}, false
	}
	return change, true
}
