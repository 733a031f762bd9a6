package useragent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/browser"

	"oidcflow/internal/config"
	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

const subsystem = "UserAgent"

// shutdownTimeout bounds how long Dismiss waits for the callback page to be
// written before the listener is torn down.
const shutdownTimeout = 5 * time.Second

// LoopbackAgent presents requests in the system browser and receives the
// redirect on a temporary HTTP listener bound to a loopback address.
//
// Listen must be called before the request is built so the redirect URI
// carries the port that was actually bound.
type LoopbackAgent struct {
	host      string
	port      int
	path      string
	noBrowser bool
	out       io.Writer
	open      func(url string) error

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	session  oauth.ExternalUserAgentSession
	baseURL  string
	closed   bool
}

// LoopbackOption configures a LoopbackAgent.
type LoopbackOption func(*LoopbackAgent)

// WithoutBrowser prints the URL instead of opening a browser.
func WithoutBrowser() LoopbackOption {
	return func(a *LoopbackAgent) { a.noBrowser = true }
}

// WithOutput sets where the authorization URL and prompts are printed.
func WithOutput(w io.Writer) LoopbackOption {
	return func(a *LoopbackAgent) { a.out = w }
}

// WithBrowserOpener replaces the function used to open URLs.
func WithBrowserOpener(open func(url string) error) LoopbackOption {
	return func(a *LoopbackAgent) { a.open = open }
}

// NewLoopbackAgent creates an agent for the callback listener described by
// cfg. Port 0 picks a free port when Listen is called.
func NewLoopbackAgent(cfg config.CallbackConfig, opts ...LoopbackOption) *LoopbackAgent {
	a := &LoopbackAgent{
		host: cfg.Host,
		port: cfg.Port,
		path: cfg.Path,
		out:  os.Stderr,
		open: browser.OpenURL,
	}
	if a.host == "" {
		a.host = config.DefaultCallbackHost
	}
	if a.path == "" {
		a.path = config.DefaultCallbackPath
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Listen binds the callback listener and starts serving. It returns the
// redirect URI to register in the request.
func (a *LoopbackAgent) Listen() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener != nil {
		return a.baseURL + a.path, nil
	}
	if a.closed {
		return "", errors.New("callback listener already closed")
	}

	addr := net.JoinHostPort(a.host, strconv.Itoa(a.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	a.listener = listener
	a.port = listener.Addr().(*net.TCPAddr).Port
	a.baseURL = "http://" + net.JoinHostPort(a.host, strconv.Itoa(a.port))

	mux := http.NewServeMux()
	mux.HandleFunc(a.path, a.handleCallback)

	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := a.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(subsystem, err, "Callback server stopped unexpectedly")
		}
	}()

	logging.Debug(subsystem, "Callback server listening on %s", a.baseURL)
	return a.baseURL + a.path, nil
}

// RedirectURI returns the redirect URI of the bound listener, or an empty
// string before Listen.
func (a *LoopbackAgent) RedirectURI() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.baseURL + a.path
}

// Present implements oauth.ExternalUserAgent. It fails when the listener is
// not running or the request URL cannot be built. A browser that cannot be
// opened is not fatal; the URL is printed instead.
func (a *LoopbackAgent) Present(request oauth.ExternalUserAgentRequest, session oauth.ExternalUserAgentSession) bool {
	authURL, err := request.ExternalUserAgentURL()
	if err != nil {
		logging.Error(subsystem, err, "Failed to build the authorization URL")
		return false
	}

	a.mu.Lock()
	if a.listener == nil || a.closed {
		a.mu.Unlock()
		logging.Warn(subsystem, "Callback server is not listening")
		return false
	}
	a.session = session
	a.mu.Unlock()

	if a.noBrowser {
		fmt.Fprintf(a.out, "Open the following URL in your browser:\n\n  %s\n\n", authURL)
		return true
	}

	fmt.Fprintln(a.out, "Opening your browser to sign in...")
	if err := a.open(authURL); err != nil {
		logging.Warn(subsystem, "Failed to open browser: %v", err)
		fmt.Fprintf(a.out, "Could not open a browser. Open the following URL manually:\n\n  %s\n\n", authURL)
	}
	return true
}

// Dismiss implements oauth.ExternalUserAgent. The listener shuts down in the
// background so a callback handler that triggered the dismissal can still
// write its page.
func (a *LoopbackAgent) Dismiss(_ bool, onComplete func()) {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	go a.Close()
	if onComplete != nil {
		onComplete()
	}
}

// Close stops the listener. It is safe to call more than once.
func (a *LoopbackAgent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop callback server: %w", err)
	}
	logging.Debug(subsystem, "Callback server stopped")
	return nil
}

func (a *LoopbackAgent) handleCallback(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	session := a.session
	redirectURL := a.baseURL + r.URL.RequestURI()
	a.mu.Unlock()

	if session == nil {
		setSecurityHeaders(w)
		http.Error(w, "No sign-in is in progress", http.StatusBadRequest)
		return
	}

	handled, err := session.ResumeExternalUserAgentFlow(redirectURL)
	switch {
	case errors.Is(err, oauth.ErrFlowCompleted):
		setSecurityHeaders(w)
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	case !handled:
		setSecurityHeaders(w)
		http.Error(w, "Unexpected callback", http.StatusBadRequest)
		return
	case err != nil:
		logging.Debug(subsystem, "Callback ended the sign-in with an error: %v", err)
		query := r.URL.Query()
		data := map[string]string{
			"Error":       query.Get("error"),
			"Description": query.Get("error_description"),
		}
		if data["Error"] == "" {
			data["Description"] = "The sign-in response could not be verified."
		}
		renderPage(w, http.StatusOK, errorPage, data)
		return
	}

	renderPage(w, http.StatusOK, successPage, map[string]string{})
}
