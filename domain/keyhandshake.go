// Package domain holds small, concrete conversations that exercise the
// router's three adapter shapes end to end. These are illustrative, not a
// wallet or auth implementation: key handshake, profile broadcast, and a
// payment-request stub.
package domain

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
	"github.com/asmogo/portal/router/adapters"
)

// keyHandshakeValiditySeconds bounds how long a handshake listener waits
// for the client's challenge before expiring.
const keyHandshakeValiditySeconds = 5 * 60

// KeyHandshakeMessage is the payload a client sends to prove it holds the
// expected one-time token.
type KeyHandshakeMessage struct {
	Token string `json:"token"`
}

// KeyHandshakeResult is what the listener notifies subscribers with once
// a client authenticates.
type KeyHandshakeResult struct {
	MainKey string `json:"main_key"`
}

// keyHandshake is the MultiKeyListenerHook implementation; wrap it with
// adapters.NewMultiKeyListenerAdapter to get a full Conversation.
type keyHandshake struct {
	expectedToken string
}

// NewKeyHandshake registers a listener for kind AuthKindMin expecting the
// given one-time token, and notifies subscribers with {main_key} exactly
// once a client proves it.
func NewKeyHandshake(expectedToken string, subkeyProof *protocol.SubkeyProof) router.Conversation {
	return adapters.NewMultiKeyListenerAdapter[KeyHandshakeMessage](
		&keyHandshake{expectedToken: expectedToken}, subkeyProof,
	)
}

func (h *keyHandshake) ValiditySeconds() int64 { return keyHandshakeValiditySeconds }

func (h *keyHandshake) Init(a *adapters.MultiKeyListenerAdapter[KeyHandshakeMessage]) (router.Response, error) {
	return router.NewResponse().WithFilter(nostr.Filter{
		Kinds: []int{protocol.AuthKindMin},
	}), nil
}

func (h *keyHandshake) OnMessage(
	a *adapters.MultiKeyListenerAdapter[KeyHandshakeMessage],
	evt router.CleartextEvent,
	msg *KeyHandshakeMessage,
) (router.Response, error) {
	if msg.Token != h.expectedToken {
		// Keep listening: a wrong token is not a reason to tear down the
		// handshake, only the next valid attempt matters.
		return router.NewResponse(), nil
	}
	author := evt.Author
	a.User = &author
	return router.NewResponse().
		Notify(KeyHandshakeResult{MainKey: evt.Author}).
		Finish(), nil
}
