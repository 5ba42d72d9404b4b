package router

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
)

// ResponseEntry is one outbound event a conversation step wants emitted.
// When Encrypted is true (as ReplyAll and ReplyTo set it) the router emits
// one signed, NIP-44-encrypted event per recipient; when false it emits a
// single unencrypted signed event carrying only Tags, and Recipients is
// not used.
type ResponseEntry struct {
	Kind       int
	Tags       nostr.Tags
	Content    any
	Encrypted  bool
	Recipients []string
}

// Response is the pure value a conversation step (init or on_message)
// returns. Nothing happens until the router processes it: no filter is
// installed, no event is signed, no notification is delivered, until
// state.processResponse runs inside the actor.
type Response struct {
	Filter                  *nostr.Filter
	Responses               []ResponseEntry
	Notifications           []json.RawMessage
	Finished                bool
	SubscribeToSubkeyProofs bool
}

// NewResponse returns an empty, no-op response.
func NewResponse() Response { return Response{} }

// WithFilter installs f as the subscription filter for this conversation.
func (r Response) WithFilter(f nostr.Filter) Response {
	r.Filter = &f
	return r
}

// ReplyAll appends an encrypted entry with an empty recipient set; the
// adapter wrapping the conversation fills in its recipient set (main key
// plus all learned subkeys) before the router processes the response. The
// router emits no event for an entry whose recipient set is still empty.
func (r Response) ReplyAll(kind int, tags nostr.Tags, content any) Response {
	r.Responses = append(r.Responses, ResponseEntry{
		Kind: kind, Tags: tags, Content: content, Encrypted: true,
	})
	return r
}

// ReplyTo appends an entry encrypted to exactly one pinned recipient.
func (r Response) ReplyTo(pubkey string, kind int, tags nostr.Tags, content any) Response {
	r.Responses = append(r.Responses, ResponseEntry{
		Kind: kind, Tags: tags, Content: content, Encrypted: true,
		Recipients: []string{pubkey},
	})
	return r
}

// BroadcastUnencrypted appends a plaintext, signed entry (encrypted=false,
// empty recipient set) — used for publicly-readable content like profile
// metadata.
func (r Response) BroadcastUnencrypted(kind int, tags nostr.Tags, content any) Response {
	r.Responses = append(r.Responses, ResponseEntry{
		Kind: kind, Tags: tags, Content: content, Encrypted: false,
	})
	return r
}

// Notify appends a JSON value for delivery to this conversation's local
// subscribers.
func (r Response) Notify(v any) Response {
	b, err := json.Marshal(v)
	if err != nil {
		// A conversation offering a non-serializable notification is a
		// programming error in that conversation, not a router failure;
		// drop it rather than panic.
		return r
	}
	r.Notifications = append(r.Notifications, b)
	return r
}

// Finish marks the conversation for removal after this response is
// processed.
func (r Response) Finish() Response {
	r.Finished = true
	return r
}

// WithSubkeyProofSubscription requests a fresh alias subscription, filtered
// to kind SUBKEY_PROOF referencing whatever events this response
// broadcasts, so replies signed by a different author key are still
// attributed to this conversation. Honored only if at least one event is
// broadcast.
func (r Response) WithSubkeyProofSubscription() Response {
	r.SubscribeToSubkeyProofs = true
	return r
}
