package adapters_test

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
	"github.com/asmogo/portal/router/adapters"
)

type handshakeMsg struct {
	Token string `json:"token"`
}

type handshakeHook struct {
	expectedToken string
	initCalled    bool
}

func (h *handshakeHook) ValiditySeconds() int64 { return 60 }

func (h *handshakeHook) Init(*adapters.MultiKeyListenerAdapter[handshakeMsg]) (router.Response, error) {
	h.initCalled = true
	return router.NewResponse().WithFilter(nostr.Filter{Kinds: []int{protocol.AuthKindMin}}), nil
}

func (h *handshakeHook) OnMessage(
	a *adapters.MultiKeyListenerAdapter[handshakeMsg],
	evt router.CleartextEvent,
	msg *handshakeMsg,
) (router.Response, error) {
	if msg.Token != h.expectedToken {
		return router.NewResponse(), nil
	}
	return router.NewResponse().Notify(map[string]string{"main_key": evt.Author}).Finish(), nil
}

func TestMultiKeyListenerInitInstallsFilter(t *testing.T) {
	t.Parallel()

	hook := &handshakeHook{expectedToken: "t1"}
	a := adapters.NewMultiKeyListenerAdapter[handshakeMsg](hook, nil)

	resp, err := a.Init()
	require.NoError(t, err)
	require.True(t, hook.initCalled)
	require.NotNil(t, resp.Filter)
	require.Equal(t, []int{protocol.AuthKindMin}, resp.Filter.Kinds)
}

func TestMultiKeyListenerIgnoresWrongShapeMessage(t *testing.T) {
	t.Parallel()

	hook := &handshakeHook{expectedToken: "t1"}
	a := adapters.NewMultiKeyListenerAdapter[handshakeMsg](hook, nil)

	evt := router.CleartextEvent{Content: []byte(`{"unrelated":"shape"}`)}
	// handshakeMsg has an optional string field so any JSON object decodes;
	// use a payload that is not even a JSON object to force a decode error.
	evt.Content = []byte(`not json`)
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)
	require.False(t, resp.Finished)
	require.Empty(t, resp.Notifications)
}

func TestMultiKeyListenerNotifiesOnValidToken(t *testing.T) {
	t.Parallel()

	hook := &handshakeHook{expectedToken: "t1"}
	a := adapters.NewMultiKeyListenerAdapter[handshakeMsg](hook, nil)

	evt := router.CleartextEvent{Author: "client-pubkey", Content: []byte(`{"token":"t1"}`)}
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)
	require.True(t, resp.Finished)
	require.Len(t, resp.Notifications, 1)
}

func TestMultiKeyListenerRepliesWithSubkeyProofOnUndecryptable(t *testing.T) {
	t.Parallel()

	proof := &protocol.SubkeyProof{MainKey: "main-key-hex"}
	hook := &handshakeHook{expectedToken: "t1"}
	a := adapters.NewMultiKeyListenerAdapter[handshakeMsg](hook, proof)

	evt := &nostr.Event{PubKey: "unknown-author", ID: "event-id"}
	resp, err := a.OnMessage(router.ConversationMessage{Encrypted: evt})
	require.NoError(t, err)
	require.Len(t, resp.Responses, 1)
	entry := resp.Responses[0]
	require.Equal(t, protocol.SubkeyProofKind, entry.Kind)
	require.Equal(t, []string{"unknown-author"}, entry.Recipients)
	require.Equal(t, proof, entry.Content)
}

func TestMultiKeyListenerNoSubkeyProofMeansNoReply(t *testing.T) {
	t.Parallel()

	hook := &handshakeHook{expectedToken: "t1"}
	a := adapters.NewMultiKeyListenerAdapter[handshakeMsg](hook, nil)

	evt := &nostr.Event{PubKey: "unknown-author", ID: "event-id"}
	resp, err := a.OnMessage(router.ConversationMessage{Encrypted: evt})
	require.NoError(t, err)
	require.Empty(t, resp.Responses)
}

func TestMultiKeyListenerEOSEIsNoOp(t *testing.T) {
	t.Parallel()

	hook := &handshakeHook{expectedToken: "t1"}
	a := adapters.NewMultiKeyListenerAdapter[handshakeMsg](hook, nil)
	resp, err := a.OnMessage(router.ConversationMessage{EndOfStoredEvents: true})
	require.NoError(t, err)
	require.Equal(t, router.NewResponse(), resp)
}
