package useragent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"oidcflow/pkg/logging"
	"oidcflow/pkg/oauth"
)

// LineReader reads one line of user input at a time.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// ManualAgent prints the authorization URL and asks the user to paste the
// URL the browser was redirected to. It serves hosts where nothing can
// listen on the redirect URI, such as a remote shell.
type ManualAgent struct {
	out       io.Writer
	newReader func() (LineReader, error)

	mu     sync.Mutex
	reader LineReader
	done   bool
}

// ManualOption configures a ManualAgent.
type ManualOption func(*ManualAgent)

// WithManualOutput sets where the URL and prompts are printed.
func WithManualOutput(w io.Writer) ManualOption {
	return func(a *ManualAgent) { a.out = w }
}

// WithLineReader replaces the terminal reader.
func WithLineReader(newReader func() (LineReader, error)) ManualOption {
	return func(a *ManualAgent) { a.newReader = newReader }
}

// NewManualAgent creates an agent that reads from the terminal.
func NewManualAgent(opts ...ManualOption) *ManualAgent {
	a := &ManualAgent{out: os.Stderr}
	a.newReader = func() (LineReader, error) {
		return readline.NewEx(&readline.Config{
			Prompt:          "Redirect URL: ",
			Stdout:          a.out,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Present implements oauth.ExternalUserAgent.
func (a *ManualAgent) Present(request oauth.ExternalUserAgentRequest, session oauth.ExternalUserAgentSession) bool {
	authURL, err := request.ExternalUserAgentURL()
	if err != nil {
		logging.Error(subsystem, err, "Failed to build the authorization URL")
		return false
	}

	reader, err := a.newReader()
	if err != nil {
		logging.Error(subsystem, err, "Failed to open the terminal for input")
		return false
	}

	a.mu.Lock()
	a.reader = reader
	a.done = false
	a.mu.Unlock()

	fmt.Fprintf(a.out, "Open the following URL in your browser:\n\n  %s\n\n", authURL)
	fmt.Fprintf(a.out, "After signing in, paste the full URL you were redirected to (it starts with %s).\n",
		request.ExternalUserAgentRedirectURI())

	go a.readRedirect(reader, session)
	return true
}

func (a *ManualAgent) readRedirect(reader LineReader, session oauth.ExternalUserAgentSession) {
	for {
		line, err := reader.Readline()
		if err != nil {
			if a.dismissed() {
				return
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				_ = session.FailExternalUserAgentFlow(oauth.NewError(oauth.DomainGeneral,
					oauth.CodeUserCanceledAuthorizationFlow, "sign-in was cancelled at the prompt", nil))
				return
			}
			_ = session.FailExternalUserAgentFlow(oauth.NewError(oauth.DomainGeneral,
				oauth.CodeExternalUserAgentOpenError, "failed to read the redirect URL", err))
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		handled, err := session.ResumeExternalUserAgentFlow(line)
		if err != nil {
			return
		}
		if handled {
			return
		}
		fmt.Fprintln(a.out, "That URL does not match the redirect URI, try again.")
	}
}

// Dismiss implements oauth.ExternalUserAgent. Closing the reader unblocks a
// pending prompt.
func (a *ManualAgent) Dismiss(_ bool, onComplete func()) {
	a.mu.Lock()
	a.done = true
	reader := a.reader
	a.reader = nil
	a.mu.Unlock()

	if reader != nil {
		_ = reader.Close()
	}
	if onComplete != nil {
		onComplete()
	}
}

func (a *ManualAgent) dismissed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}
