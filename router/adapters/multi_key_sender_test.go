package adapters_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
	"github.com/asmogo/portal/router/adapters"
)

// MainKey is declared with a type incompatible with SubkeyProof's
// "main_key" string field so that decoding a subkey-proof event into
// paymentAck genuinely fails, the way two unrelated message shapes would
// in practice, letting the adapter fall through to its proof handling.
type paymentAck struct {
	OK      bool `json:"ok"`
	MainKey bool `json:"main_key,omitempty"`
}

type paymentHook struct {
	localPubkey    string
	buildCallCount int
	lastNewKey     *string
}

func (h *paymentHook) ValiditySeconds() int64 { return 60 }

func (h *paymentHook) GetFilter(a *adapters.MultiKeySenderAdapter[paymentAck]) (nostr.Filter, error) {
	authors := []string{a.User}
	for k := range a.Subkeys {
		authors = append(authors, k)
	}
	return nostr.Filter{
		Kinds:   []int{protocol.PaymentKindMin + 1},
		Authors: authors,
		Tags:    nostr.TagMap{"p": []string{h.localPubkey}},
	}, nil
}

func (h *paymentHook) BuildInitialMessage(
	_ *adapters.MultiKeySenderAdapter[paymentAck], newKey *string,
) (router.Response, error) {
	h.buildCallCount++
	h.lastNewKey = newKey
	return router.NewResponse().ReplyAll(protocol.PaymentKindMin, nil, map[string]string{"amount": "100"}), nil
}

func (h *paymentHook) OnMessage(
	_ *adapters.MultiKeySenderAdapter[paymentAck], _ router.CleartextEvent, msg *paymentAck,
) (router.Response, error) {
	if !msg.OK {
		return router.NewResponse(), nil
	}
	return router.NewResponse().Notify(msg).Finish(), nil
}

// subkeyFixture derives a real master keypair and one genuine subkey proof
// for it, so proof verification in the adapter exercises real curve math
// rather than a stub.
func subkeyFixture(t *testing.T, name string) (masterPub, subkeyPub string, proof protocol.SubkeyProof) {
	t.Helper()

	masterSecret := strings.Repeat("11", 32)
	master, err := protocol.NewLocalKeypair(masterSecret, nil)
	require.NoError(t, err)

	metadata := protocol.SubkeyMetadata{
		Name:        name,
		ValidFrom:   0,
		ExpiresAt:   0,
		Permissions: []protocol.SubkeyPermission{protocol.PermissionPayment},
		Version:     1,
	}
	_, subPub, err := protocol.CreateSubkey(masterSecret, metadata)
	require.NoError(t, err)

	return master.PublicKey(), subPub, protocol.SubkeyProof{MainKey: master.PublicKey(), Metadata: metadata}
}

func proofEvt(t *testing.T, author string, proof protocol.SubkeyProof) router.CleartextEvent {
	t.Helper()
	b, err := json.Marshal(proof)
	require.NoError(t, err)
	return router.CleartextEvent{Kind: protocol.SubkeyProofKind, Author: author, Content: b}
}

func TestMultiKeySenderInitSubscribesAndTargetsUser(t *testing.T) {
	t.Parallel()

	hook := &paymentHook{localPubkey: "local-pubkey"}
	a := adapters.NewMultiKeySenderAdapter[paymentAck]("counterpart-main", nil, hook)

	resp, err := a.Init()
	require.NoError(t, err)
	require.Equal(t, 1, hook.buildCallCount)
	require.Nil(t, hook.lastNewKey)
	require.NotNil(t, resp.Filter)
	require.Contains(t, resp.Filter.Kinds, protocol.SubkeyProofKind)
	require.Equal(t, []string{"counterpart-main"}, resp.Responses[0].Recipients)
}

func TestMultiKeySenderDelegatesMatchingMessage(t *testing.T) {
	t.Parallel()

	hook := &paymentHook{localPubkey: "local-pubkey"}
	a := adapters.NewMultiKeySenderAdapter[paymentAck]("counterpart-main", nil, hook)
	_, err := a.Init()
	require.NoError(t, err)

	evt := router.CleartextEvent{Content: []byte(`{"ok":true}`)}
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)
	require.True(t, resp.Finished)
	require.Len(t, resp.Notifications, 1)
}

func TestMultiKeySenderIgnoresEncryptedAndEOSE(t *testing.T) {
	t.Parallel()

	hook := &paymentHook{localPubkey: "local-pubkey"}
	a := adapters.NewMultiKeySenderAdapter[paymentAck]("counterpart-main", nil, hook)

	resp, err := a.OnMessage(router.ConversationMessage{Encrypted: &nostr.Event{}})
	require.NoError(t, err)
	require.Equal(t, router.NewResponse(), resp)

	resp, err = a.OnMessage(router.ConversationMessage{EndOfStoredEvents: true})
	require.NoError(t, err)
	require.Equal(t, router.NewResponse(), resp)
}

func TestMultiKeySenderLearnsMainKeyWasActuallyASubkey(t *testing.T) {
	t.Parallel()

	masterPub, subkeyPub, proof := subkeyFixture(t, "swap")
	hook := &paymentHook{localPubkey: "local-pubkey"}
	// The adapter was constructed believing subkeyPub (which turns out to
	// be a delegated subkey of masterPub) was itself the real main key.
	a := adapters.NewMultiKeySenderAdapter[paymentAck](subkeyPub, nil, hook)
	_, err := a.Init()
	require.NoError(t, err)

	evt := proofEvt(t, subkeyPub, proof)
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)

	require.Equal(t, masterPub, a.User, "adapter must relearn the real main key")
	_, hadOldAsSubkey := a.Subkeys[subkeyPub]
	require.True(t, hadOldAsSubkey, "the previously-believed main key must be retained as a subkey")
	require.NotNil(t, hook.lastNewKey)
	require.Equal(t, masterPub, *hook.lastNewKey)
	require.Contains(t, resp.Filter.Kinds, protocol.SubkeyProofKind)
}

func TestMultiKeySenderLearnsNewSubkeyOfKnownMainKey(t *testing.T) {
	t.Parallel()

	masterPub, subkeyPub, proof := subkeyFixture(t, "new-subkey")
	hook := &paymentHook{localPubkey: "local-pubkey"}
	a := adapters.NewMultiKeySenderAdapter[paymentAck](masterPub, nil, hook)
	_, err := a.Init()
	require.NoError(t, err)

	evt := proofEvt(t, subkeyPub, proof)
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)
	require.Contains(t, resp.Filter.Kinds, protocol.SubkeyProofKind)

	require.Equal(t, masterPub, a.User, "main key must not change when a subkey is merely added")
	_, known := a.Subkeys[subkeyPub]
	require.True(t, known)
	require.NotNil(t, hook.lastNewKey)
	require.Equal(t, subkeyPub, *hook.lastNewKey)
}

func TestMultiKeySenderDropsInvalidSubkeyProof(t *testing.T) {
	t.Parallel()

	masterPub, subkeyPub, proof := subkeyFixture(t, "bogus")
	otherMaster, err := protocol.NewLocalKeypair(strings.Repeat("22", 32), nil)
	require.NoError(t, err)
	proof.MainKey = otherMaster.PublicKey() // a real key, but not the one subkeyPub was tweaked from
	hook := &paymentHook{localPubkey: "local-pubkey"}
	a := adapters.NewMultiKeySenderAdapter[paymentAck](masterPub, nil, hook)
	_, err = a.Init()
	require.NoError(t, err)

	evt := proofEvt(t, subkeyPub, proof)
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)
	require.Equal(t, router.NewResponse(), resp)
	require.Empty(t, a.Subkeys, "an invalid proof must not be merged into the subkey set")
}

func TestMultiKeySenderDropsProofBeyondMaxSubkeyClients(t *testing.T) {
	t.Parallel()

	masterPub, _, _ := subkeyFixture(t, "overflow-base")
	hook := &paymentHook{localPubkey: "local-pubkey"}
	a := adapters.NewMultiKeySenderAdapter[paymentAck](masterPub, nil, hook)
	_, err := a.Init()
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		a.Subkeys["filler-subkey-"+string(rune('a'+i))] = struct{}{}
	}
	require.Len(t, a.Subkeys, 8)

	_, _, proof := subkeyFixture(t, "overflow-attempt")
	evt := proofEvt(t, "one-too-many", proof)
	resp, err := a.OnMessage(router.ConversationMessage{Cleartext: &evt})
	require.NoError(t, err)
	require.Equal(t, router.NewResponse(), resp)
	require.Len(t, a.Subkeys, 8, "overflow proof must be dropped, not merged")
}
