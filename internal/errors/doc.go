// Package errors provides coded, categorised errors for teoweb.
//
// Every error carries a code from the registry (e.g. "E101") that maps to a
// short message, a longer explanation and, where it helps, a hint on how to
// fix the problem. Codes are grouped by the part of the system that raises
// them:
//   - E1xx proxy: dialing, handshaking and talking to the Teonet proxy
//   - E2xx binder: reconnect loop and page actions
//   - E3xx config: loading and validating configuration
//   - E4xx server: page server and local broker
//
// # Usage
//
//	err := errors.New(errors.CodeDialFailed).
//	    Wrap(dialErr).
//	    WithSuggestion("Check that the proxy host is reachable")
//
//	errors.PrintError(err)
//	// ERROR E101: Proxy dial failed
//	//
//	//   The websocket connection to the Teonet proxy could not be opened.
//	//
//	//   Hint: Check that the proxy host is reachable
//	//
//	//   Cause: dial tcp: lookup fortune-gui.teonet.dev: no such host
//
// Errors returned by this package support errors.Is (matching by code) and
// errors.As, and unwrap to their cause.
package errors
