package adapters

import (
	"log/slog"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/protocol"
	"github.com/asmogo/portal/router"
)

// maxSubkeyClients bounds how many distinct subkeys a multi-key sender
// will track for one counterpart; beyond this, further SUBKEY_PROOF
// replies are dropped as overflow protection.
const maxSubkeyClients = 8

// MultiKeySenderHook is the inner hook a multi-key-sender conversation
// supplies. M is the expected JSON response message shape.
type MultiKeySenderHook[M any] interface {
	ValiditySeconds() int64
	// GetFilter must at minimum filter on authors = main+subkeys, a "p"
	// tag of the local key, and the expected response kinds.
	GetFilter(a *MultiKeySenderAdapter[M]) (nostr.Filter, error)
	// BuildInitialMessage is called once at Init with newKey=nil, and
	// again whenever a new subkey is discovered mid-flight to retarget
	// the same request at it.
	BuildInitialMessage(a *MultiKeySenderAdapter[M], newKey *string) (router.Response, error)
	OnMessage(a *MultiKeySenderAdapter[M], evt router.CleartextEvent, msg *M) (router.Response, error)
}

// MultiKeySenderAdapter sends a request to a counterpart and resolves it
// with the first valid response, while tolerating subkey discovery
// mid-flight: the counterpart's main key is learned at most once, and its
// subkey set only grows.
type MultiKeySenderAdapter[M any] struct {
	User      string
	Subkeys   map[string]struct{}
	ExpiresAt time.Time
	Inner     MultiKeySenderHook[M]
}

// NewMultiKeySenderAdapter addresses the request at user (and, if known,
// some of its subkeys already).
func NewMultiKeySenderAdapter[M any](user string, subkeys []string, inner MultiKeySenderHook[M]) *MultiKeySenderAdapter[M] {
	set := make(map[string]struct{}, len(subkeys))
	for _, k := range subkeys {
		set[k] = struct{}{}
	}
	return &MultiKeySenderAdapter[M]{
		User:      user,
		Subkeys:   set,
		ExpiresAt: time.Now().Add(time.Duration(inner.ValiditySeconds()) * time.Second),
		Inner:     inner,
	}
}

func (a *MultiKeySenderAdapter[M]) Init() (router.Response, error) {
	filter, err := a.Inner.GetFilter(a)
	if err != nil {
		return router.Response{}, err
	}
	filter.Kinds = append(filter.Kinds, protocol.SubkeyProofKind)

	resp, err := a.Inner.BuildInitialMessage(a, nil)
	if err != nil {
		return router.Response{}, err
	}
	resp = resp.WithFilter(filter)
	resp = substituteRecipients(resp, a.User, a.Subkeys)
	return resp, nil
}

func (a *MultiKeySenderAdapter[M]) OnMessage(msg router.ConversationMessage) (router.Response, error) {
	switch {
	case msg.Cleartext != nil:
		evt := *msg.Cleartext

		var typed M
		if err := evt.Decode(&typed); err == nil {
			resp, err := a.Inner.OnMessage(a, evt, &typed)
			if err != nil {
				return router.Response{}, err
			}
			resp = substituteRecipients(resp, a.User, a.Subkeys)
			return resp, nil
		}

		if evt.Kind != protocol.SubkeyProofKind {
			return router.NewResponse(), nil
		}
		var proof protocol.SubkeyProof
		if err := evt.Decode(&proof); err != nil {
			return router.NewResponse(), nil
		}

		if len(a.Subkeys) >= maxSubkeyClients {
			slog.Warn("too many subkeys, dropping subkey proof", "author", evt.Author)
			return router.NewResponse(), nil
		}
		if err := proof.Verify(evt.Author); err != nil {
			slog.Warn("invalid subkey proof", "author", evt.Author, "error", err)
			return router.NewResponse(), nil
		}

		var resp router.Response
		var err error
		if evt.Author == a.User {
			a.Subkeys[evt.Author] = struct{}{}
			a.User = proof.MainKey
			newKey := a.User
			resp, err = a.Inner.BuildInitialMessage(a, &newKey)
		} else {
			a.Subkeys[evt.Author] = struct{}{}
			newKey := evt.Author
			resp, err = a.Inner.BuildInitialMessage(a, &newKey)
		}
		if err != nil {
			return router.Response{}, err
		}

		filter, err := a.Inner.GetFilter(a)
		if err != nil {
			return router.Response{}, err
		}
		filter.Kinds = append(filter.Kinds, protocol.SubkeyProofKind)
		resp = resp.WithFilter(filter)
		resp = substituteRecipients(resp, a.User, a.Subkeys)
		return resp, nil

	default: // Encrypted or EndOfStoredEvents
		return router.NewResponse(), nil
	}
}

func (a *MultiKeySenderAdapter[M]) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

var _ router.Conversation = (*MultiKeySenderAdapter[struct{}])(nil)
