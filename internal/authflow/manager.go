package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"oidcflow/internal/config"
	"oidcflow/internal/statestore"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

var (
	// ErrAuthRequired is returned when a provider has no usable session and
	// the user has to sign in again.
	ErrAuthRequired = errors.New("authentication required")

	// ErrUnknownProvider is returned for a provider name that is not in the
	// configuration.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Flow kinds used as the "flow" metric label.
const (
	flowAuthorizationCode = "authorization_code"
	flowDevice            = "device"
	flowEndSession        = "end_session"
)

var defaultScopes = []string{oauth.ScopeOpenID}

// Manager runs the flows of the configured providers and keeps their
// sessions in a Store, keyed by provider name.
//
// Every AuthState it creates or loads has a statestore.Persister attached,
// so refreshes and invalidations reach the store without further calls.
type Manager struct {
	cfg       config.Config
	store     statestore.Store
	client    *oauth.Client
	metrics   *Metrics
	performer oauth.TokenPerformer
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClient sets the OAuth client. The default uses http.DefaultClient.
func WithClient(client *oauth.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithMetrics sets the counters the manager reports to.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager for cfg's providers backed by store.
func NewManager(cfg config.Config, store statestore.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  store,
		logger: logging.Logger("AuthFlow"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = oauth.NewClient(oauth.WithLogger(logging.Logger("OAuthClient")))
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	m.performer = oauth.TokenPerformerFunc(m.performTokenRequest)
	return m
}

// Client returns the OAuth client used for all endpoint calls.
func (m *Manager) Client() *oauth.Client { return m.client }

// Config returns the configuration the manager was created with.
func (m *Manager) Config() config.Config { return m.cfg }

// Store returns the session store.
func (m *Manager) Store() statestore.Store { return m.store }

func (m *Manager) performTokenRequest(ctx context.Context, request *oauth.TokenRequest) (*oauth.TokenResponse, error) {
	response, err := m.client.PerformTokenRequest(ctx, request)
	m.metrics.observeTokenRequest(request.GrantType(), err)
	return response, err
}

func (m *Manager) provider(name string) (config.ProviderConfig, error) {
	p, ok := m.cfg.Provider(name)
	if !ok {
		return config.ProviderConfig{}, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// logDroppedParameters reports configured additional parameters that a
// request ignored because the request sets them itself.
func (m *Manager) logDroppedParameters(provider string, configured map[string]string, kept oauth.Params) {
	if dropped := oauth.Params(configured).DroppedKeys(kept); len(dropped) > 0 {
		m.logger.Debug("Ignoring additional parameters that collide with protocol parameters",
			"provider", provider,
			"keys", dropped)
	}
}

func scopesFor(p config.ProviderConfig) []string {
	if len(p.Scopes) == 0 {
		return defaultScopes
	}
	return p.Scopes
}

// load returns the stored session for name with a persister attached. A
// missing session is ErrAuthRequired.
func (m *Manager) load(ctx context.Context, name string) (*oauth.AuthState, error) {
	state, err := m.store.Load(ctx, name)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: no session for provider %q", ErrAuthRequired, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for provider %q: %w", name, err)
	}
	statestore.NewPersister(m.store, name).Attach(state)
	return state, nil
}

// save stores a new session and attaches a persister for later changes.
func (m *Manager) save(ctx context.Context, name string, state *oauth.AuthState) error {
	if err := m.store.Save(ctx, name, state); err != nil {
		return fmt.Errorf("failed to save session for provider %q: %w", name, err)
	}
	statestore.NewPersister(m.store, name).Attach(state)
	return nil
}

// flowResult carries a FlowSession outcome across goroutines.
type flowResult[T any] struct {
	value T
	err   error
}

// awaitFlow starts a flow through present and blocks until it ends. When ctx
// is done first the session is cancelled, which still delivers exactly one
// result.
func awaitFlow[T any](ctx context.Context, present func(complete func(T, error)) *oauth.FlowSession[T]) (T, error) {
	done := make(chan flowResult[T], 1)
	session := present(func(value T, err error) {
		done <- flowResult[T]{value: value, err: err}
	})

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		session.Cancel()
		r := <-done
		return r.value, r.err
	}
}
