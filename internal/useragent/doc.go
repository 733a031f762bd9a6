// Package useragent provides the external user agents that present
// authorization and end-session requests from a terminal.
//
// LoopbackAgent opens the system browser and receives the redirect on a
// short-lived HTTP listener bound to a loopback address (RFC 8252 section
// 7.3). ManualAgent prints the URL and reads the redirect URL the user pastes
// back, for sessions where no local listener is reachable from the browser.
//
// Both agents only start and dismiss the interaction. The oauth.FlowSession
// they are handed validates the redirect and decides the outcome.
package useragent
