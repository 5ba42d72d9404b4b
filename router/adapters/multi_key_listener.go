package adapters

import (
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
)

// MultiKeyListenerHook is the inner hook a multi-key-listener conversation
// supplies. M is the expected JSON message shape.
type MultiKeyListenerHook[M any] interface {
	// ValiditySeconds bounds how long the listener stays registered
	// before IsExpired reports true.
	ValiditySeconds() int64
	// Init usually installs the listening filter.
	Init(a *MultiKeyListenerAdapter[M]) (router.Response, error)
	OnMessage(a *MultiKeyListenerAdapter[M], evt router.CleartextEvent, msg *M) (router.Response, error)
}

// MultiKeyListenerAdapter receives a typed message that might arrive on
// the main key, a known subkey, or a previously unknown subkey; on an
// undecryptable event it replies with its own subkey proof to invite key
// discovery.
type MultiKeyListenerAdapter[M any] struct {
	User        *string
	SubkeyProof *protocol.SubkeyProof
	ExpiresAt   time.Time
	Inner       MultiKeyListenerHook[M]
}

// NewMultiKeyListenerAdapter wraps inner. subkeyProof, when non-nil, is
// offered to counterparts that can't yet decrypt to us.
func NewMultiKeyListenerAdapter[M any](inner MultiKeyListenerHook[M], subkeyProof *protocol.SubkeyProof) *MultiKeyListenerAdapter[M] {
	return &MultiKeyListenerAdapter[M]{
		SubkeyProof: subkeyProof,
		ExpiresAt:   time.Now().Add(time.Duration(inner.ValiditySeconds()) * time.Second),
		Inner:       inner,
	}
}

func (a *MultiKeyListenerAdapter[M]) Init() (router.Response, error) {
	resp, err := a.Inner.Init(a)
	if err != nil {
		return router.Response{}, err
	}
	if a.User != nil {
		resp = substituteRecipients(resp, *a.User, nil)
	}
	return resp, nil
}

func (a *MultiKeyListenerAdapter[M]) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	switch {
	case msg.Cleartext != nil:
		var typed M
		if err := msg.Cleartext.Decode(&typed); err != nil {
			// Not the expected shape: wait for the next message.
			return router.NewResponse(), nil
		}
		resp, err := a.Inner.OnMessage(a, *msg.Cleartext, &typed)
		if err != nil {
			return router.Response{}, err
		}
		if a.User != nil {
			resp = substituteRecipients(resp, *a.User, nil)
		}
		return resp, nil

	case msg.Encrypted != nil:
		if a.SubkeyProof == nil {
			return router.NewResponse(), nil
		}
		evt := msg.Encrypted
		tags := nostr.Tags{
			{"p", evt.PubKey},
			{"e", evt.ID},
		}
		return router.NewResponse().ReplyTo(evt.PubKey, protocol.SubkeyProofKind, tags, a.SubkeyProof), nil

	default: // EndOfStoredEvents
		return router.NewResponse(), nil
	}
}

func (a *MultiKeyListenerAdapter[M]) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

var _ router.Conversation = (*MultiKeyListenerAdapter[struct{}])(nil)
