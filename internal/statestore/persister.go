package statestore

import (
	"context"
	"sync"
	"time"

	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// DefaultSaveTimeout bounds each save made from a delegate callback.
const DefaultSaveTimeout = 10 * time.Second

// Persister writes an AuthState back to a Store whenever it changes. It
// implements both AuthState delegates.
//
// Save failures are logged and otherwise ignored: a failed write must not
// fail the token operation that triggered it. The in-memory state stays
// authoritative for the rest of the process.
type Persister struct {
	store   Store
	key     string
	timeout time.Duration

	mu      sync.Mutex
	lastErr error
}

// NewPersister returns a Persister saving under key.
func NewPersister(store Store, key string) *Persister {
	return &Persister{
		store:   store,
		key:     key,
		timeout: DefaultSaveTimeout,
	}
}

// Attach installs p as both delegates of state.
func (p *Persister) Attach(state *oauth.AuthState) {
	state.SetStateChangeDelegate(p)
	state.SetErrorDelegate(p)
}

// DidChangeState implements oauth.AuthStateChangeDelegate.
func (p *Persister) DidChangeState(state *oauth.AuthState) {
	p.save(state)
}

// DidEncounterAuthorizationError implements oauth.AuthStateErrorDelegate.
// The invalidated state is persisted so other processes see it too.
func (p *Persister) DidEncounterAuthorizationError(state *oauth.AuthState, err error) {
	logging.Audit("authorization_invalidated", "Authorization state invalidated",
		"key", p.key, "error", err.Error())
	p.save(state)
}

func (p *Persister) save(state *oauth.AuthState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	p.lastErr = p.store.Save(ctx, p.key, state)
	if p.lastErr != nil {
		logging.Warn("StateStore", "Failed to persist authorization state for %s: %v", p.key, p.lastErr)
	}
}

// LastError returns the result of the most recent save.
func (p *Persister) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
