package router

import "errors"

// Sentinel errors, matching the teacher's style of typed errors checked
// with errors.Is rather than a third-party error-chain library.
var (
	// ErrMalformedPortalId is returned when parsing a subscription id that
	// does not match either wire-text shape.
	ErrMalformedPortalId = errors.New("malformed portal id")

	// ErrRelayNotConnected is returned when a conversation is pinned to a
	// relay the channel does not know about.
	ErrRelayNotConnected = errors.New("relay not connected")

	// ErrChannelClosed is returned to callers awaiting a reply after
	// shutdown has completed.
	ErrChannelClosed = errors.New("router channel closed")

	// ErrListenerDisconnected marks a notification stream whose backing
	// subscriber channel was dropped by the consumer.
	ErrListenerDisconnected = errors.New("notification listener disconnected")
)

// ConversationError wraps an error raised by a conversation's Init step:
// the conversation is cleaned up and the error is returned to the caller
// that registered it. Errors from OnMessage are logged by the actor
// instead and the offending conversation is cleaned up; in both cases the
// router keeps running.
type ConversationError struct {
	Id  PortalId
	Err error
}

func (e *ConversationError) Error() string {
	return "conversation " + e.Id.ToText() + ": " + e.Err.Error()
}

func (e *ConversationError) Unwrap() error { return e.Err }
