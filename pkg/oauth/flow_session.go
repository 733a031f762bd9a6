package oauth

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// FlowState is the lifecycle state of a FlowSession.
type FlowState int32

const (
	FlowStarted FlowState = iota
	FlowSucceeded
	FlowFailed
	FlowCancelled
)

// String returns a human-readable representation of the flow state.
func (s FlowState) String() string {
	switch s {
	case FlowStarted:
		return "started"
	case FlowSucceeded:
		return "succeeded"
	case FlowFailed:
		return "failed"
	case FlowCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExternalUserAgentRequest is a request that is completed by sending the
// user to a URL and waiting for a redirect back.
type ExternalUserAgentRequest interface {
	ExternalUserAgentURL() (string, error)
	ExternalUserAgentRedirectURI() string
}

// ExternalUserAgentSession is the side of a FlowSession an agent talks to.
// Exactly one of the three signals takes effect.
type ExternalUserAgentSession interface {
	// ResumeExternalUserAgentFlow delivers the redirect URL. It returns false
	// when the URL is not for this session's redirect URI, leaving the
	// session untouched. When the URL matched but ended the session with a
	// failure, it returns true together with that failure.
	ResumeExternalUserAgentFlow(redirectURL string) (bool, error)

	// FailExternalUserAgentFlow ends the session with err, for example a
	// user cancellation detected by the agent.
	FailExternalUserAgentFlow(err error) error

	// Cancel ends the session as cancelled by the program.
	Cancel()
}

// ExternalUserAgent presents requests to the user: a browser, a loopback
// listener, a terminal prompt. It only starts and dismisses; the session
// interprets the result.
type ExternalUserAgent interface {
	// Present shows the request and arranges for the redirect to reach
	// session. Returning false fails the session immediately.
	Present(request ExternalUserAgentRequest, session ExternalUserAgentSession) bool

	// Dismiss tears the presentation down and then calls onComplete.
	Dismiss(animated bool, onComplete func())
}

// FlowSession is one in-flight external user-agent interaction. It moves from
// FlowStarted to exactly one terminal state; the completion callback runs
// once, after the agent has been dismissed.
type FlowSession[T any] struct {
	id       string
	request  ExternalUserAgentRequest
	agent    ExternalUserAgent
	parse    func(Params) (T, error)
	complete func(T, error)
	state    atomic.Int32
}

// PresentAuthorizationRequest starts an authorization flow. complete receives
// the validated response or the error that ended the flow.
func PresentAuthorizationRequest(request *AuthorizationRequest, agent ExternalUserAgent, complete func(*AuthorizationResponse, error)) *FlowSession[*AuthorizationResponse] {
	return presentFlow(request, agent, func(params Params) (*AuthorizationResponse, error) {
		return NewAuthorizationResponse(request, params)
	}, complete)
}

// PresentEndSessionRequest starts an RP-initiated logout flow.
func PresentEndSessionRequest(request *EndSessionRequest, agent ExternalUserAgent, complete func(*EndSessionResponse, error)) *FlowSession[*EndSessionResponse] {
	return presentFlow(request, agent, func(params Params) (*EndSessionResponse, error) {
		return NewEndSessionResponse(request, params)
	}, complete)
}

func presentFlow[T any](request ExternalUserAgentRequest, agent ExternalUserAgent, parse func(Params) (T, error), complete func(T, error)) *FlowSession[T] {
	s := &FlowSession[T]{
		id:       uuid.New().String(),
		request:  request,
		agent:    agent,
		parse:    parse,
		complete: complete,
	}
	if !agent.Present(request, s) && s.state.CompareAndSwap(int32(FlowStarted), int32(FlowFailed)) {
		// The agent never presented, so it is not dismissed.
		var zero T
		s.deliver(zero, NewError(DomainGeneral, CodeExternalUserAgentOpenError,
			"unable to present the external user agent", nil), nil)
	}
	return s
}

// ID returns a unique identifier for this session.
func (s *FlowSession[T]) ID() string { return s.id }

// Request returns the request the session presents.
func (s *FlowSession[T]) Request() ExternalUserAgentRequest { return s.request }

// State returns the current lifecycle state.
func (s *FlowSession[T]) State() FlowState { return FlowState(s.state.Load()) }

// ResumeExternalUserAgentFlow implements ExternalUserAgentSession.
//
// A URL that does not match the redirect URI returns (false, nil) and is not
// consumed. A matching URL ends the session and returns true with the error
// the callback received, nil on success. A matching URL after the session
// already ended returns (false, ErrFlowCompleted) and the callback is not
// invoked again.
func (s *FlowSession[T]) ResumeExternalUserAgentFlow(redirectURL string) (bool, error) {
	u, err := url.Parse(redirectURL)
	if err != nil || !matchesRedirectURI(u, s.request.ExternalUserAgentRedirectURI()) {
		return false, nil
	}

	var result T
	params, err := paramsFromURL(u)
	if err == nil {
		result, err = s.parse(params)
	}

	terminal := FlowSucceeded
	if err != nil {
		terminal = FlowFailed
	}
	if !s.state.CompareAndSwap(int32(FlowStarted), int32(terminal)) {
		return false, ErrFlowCompleted
	}
	s.finish(result, err, nil)
	return true, err
}

// FailExternalUserAgentFlow implements ExternalUserAgentSession. It returns
// ErrFlowCompleted if the session already ended.
func (s *FlowSession[T]) FailExternalUserAgentFlow(err error) error {
	if err == nil {
		err = NewError(DomainGeneral, CodeExternalUserAgentOpenError, "external user agent failed", nil)
	}
	if !s.state.CompareAndSwap(int32(FlowStarted), int32(FlowFailed)) {
		return ErrFlowCompleted
	}
	var zero T
	s.finish(zero, err, nil)
	return nil
}

// Cancel ends the session as cancelled by the program. It is a no-op once
// the session has ended.
func (s *FlowSession[T]) Cancel() {
	s.CancelWithCompletion(nil)
}

// CancelWithCompletion is Cancel with a hook that runs after the agent is
// dismissed and the callback has run. If the session already ended, onDone
// runs immediately.
func (s *FlowSession[T]) CancelWithCompletion(onDone func()) {
	if !s.state.CompareAndSwap(int32(FlowStarted), int32(FlowCancelled)) {
		if onDone != nil {
			onDone()
		}
		return
	}
	var zero T
	s.finish(zero, NewError(DomainGeneral, CodeProgramCanceledAuthorizationFlow,
		"authorization flow was cancelled", nil), onDone)
}

// finish runs exactly once, by the caller that won the state transition.
func (s *FlowSession[T]) finish(result T, err error, onDone func()) {
	s.agent.Dismiss(true, func() {
		s.deliver(result, err, onDone)
	})
}

func (s *FlowSession[T]) deliver(result T, err error, onDone func()) {
	if s.complete != nil {
		s.complete(result, err)
	}
	if onDone != nil {
		onDone()
	}
}

// matchesRedirectURI compares scheme, user info, host and path; the query
// and fragment carry the response and are ignored.
func matchesRedirectURI(u *url.URL, redirectURI string) bool {
	want, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, want.Scheme) &&
		u.User.String() == want.User.String() &&
		strings.EqualFold(u.Host, want.Host) &&
		strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(want.Path, "/") &&
		u.Opaque == want.Opaque
}

// String implements fmt.Stringer.
func (s *FlowSession[T]) String() string {
	return fmt.Sprintf("FlowSession(%s, %s)", s.id, s.State())
}
