package statestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"oidcflow/internal/config"
	"oidcflow/pkg/oauth"
)

// ErrNotFound is returned by Load when no state is stored under a key.
var ErrNotFound = errors.New("authorization state not found")

// Store persists authorization state by session key. Keys are provider
// names; implementations map them to backend-safe identifiers.
type Store interface {
	Load(ctx context.Context, key string) (*oauth.AuthState, error)
	Save(ctx context.Context, key string, state *oauth.AuthState) error
	// Delete is idempotent: deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// timeNow is replaced in tests.
var timeNow = time.Now

// record is the envelope every backend stores. The key is kept alongside
// the state so List can recover it from hashed identifiers.
type record struct {
	Key       string          `json:"key"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     json.RawMessage `json:"state"`
}

func encodeRecord(key string, state *oauth.AuthState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("cannot store nil state for %q", key)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return json.Marshal(record{Key: key, UpdatedAt: timeNow().UTC(), State: data})
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

func (r *record) authState() (*oauth.AuthState, error) {
	state := &oauth.AuthState{}
	if err := json.Unmarshal(r.State, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state for %q: %w", r.Key, err)
	}
	return state, nil
}

// hashKey returns a filesystem and DNS safe identifier for key.
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

// Open returns the Store selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StorageTypeFile, "":
		return NewFileStore(cfg.Dir)
	case config.StorageTypeRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case config.StorageTypeKubernetes:
		return NewSecretStoreFromKubeconfig(cfg.Kubernetes)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
