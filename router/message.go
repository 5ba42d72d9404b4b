package router

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
)

// CleartextEvent is a normalized, decrypted view of a relay event: the
// router builds one either from a successfully NIP-44-decrypted payload
// or from an already-plaintext event (see buildConversationMessage).
type CleartextEvent struct {
	ID        string
	Author    string
	CreatedAt nostr.Timestamp
	Kind      int
	Tags      nostr.Tags
	Content   json.RawMessage
}

// Decode JSON-decodes the event content into v.
func (e CleartextEvent) Decode(v any) error {
	return json.Unmarshal(e.Content, v)
}

// ConversationMessage is the sum type delivered to Conversation.OnMessage:
// exactly one of Cleartext, Encrypted, or EndOfStoredEvents is set.
type ConversationMessage struct {
	Cleartext          *CleartextEvent
	Encrypted          *nostr.Event
	EndOfStoredEvents  bool
}

func cleartextMessage(e CleartextEvent) ConversationMessage {
	return ConversationMessage{Cleartext: &e}
}

func encryptedMessage(e *nostr.Event) ConversationMessage {
	return ConversationMessage{Encrypted: e}
}

func eoseMessage() ConversationMessage {
	return ConversationMessage{EndOfStoredEvents: true}
}
