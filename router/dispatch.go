package router

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/protocol"
)

// handleNotification implements spec §4.6: turn one inbound relay
// notification into zero or more conversation dispatches.
func (s *state) handleNotification(n RelayNotification) {
	switch {
	case n.Event != nil:
		s.handleEvent(n.Event, n.SubID)
	case n.EOSESubID != "":
		s.handleEOSE(n.EOSESubID)
	}
}

func (s *state) handleEvent(evt *nostr.Event, subID string) {
	// Echo suppression: never re-dispatch our own events, except our own
	// profile-metadata broadcasts (scenario 6) — set_profile must observe
	// its own publish to notify local subscribers.
	if evt.PubKey == s.keypair.PublicKey() && evt.Kind != protocol.MetadataKind {
		return
	}

	if ok, err := evt.CheckSignature(); err != nil || !ok {
		s.log.Warn("dropping event with bad signature", "id", evt.ID, "error", err)
		return
	}

	msg := s.buildConversationMessage(evt)

	id, err := ParsePortalId(subID)
	if err != nil {
		s.log.Warn("dropping event on malformed subscription id", "sub_id", subID, "error", err)
		return
	}

	dispatched := make(map[string]bool)
	if conv, ok := s.conversations[id.Id()]; ok {
		if conv.IsExpired() {
			s.cleanup(id)
		} else {
			s.dispatchTo(id, conv, msg)
		}
		dispatched[id.Id()] = true
	}

	// Fan-out: every other conversation whose installed filter matches
	// this event is also dispatched to, after the owning conversation's
	// step (and any cleanup it triggered) has fully completed.
	var expired []PortalId
	for body, conv := range s.conversations {
		if dispatched[body] {
			continue
		}
		ownID := PortalId{body: body}
		filter, ok := s.filters[ownID.ToText()]
		if !ok || !filter.Matches(evt) {
			continue
		}
		if conv.IsExpired() {
			expired = append(expired, ownID)
			continue
		}
		s.dispatchTo(ownID, conv, msg)
	}
	for _, id := range expired {
		s.cleanup(id)
	}
}

func (s *state) buildConversationMessage(evt *nostr.Event) ConversationMessage {
	plaintext, err := protocol.DecryptNIP44(s.keypair.SecretKey(), evt.PubKey, evt.Content)
	if err == nil {
		var content json.RawMessage
		if err := json.Unmarshal([]byte(plaintext), &content); err == nil {
			return cleartextMessage(CleartextEvent{
				ID: evt.ID, Author: evt.PubKey, CreatedAt: evt.CreatedAt,
				Kind: evt.Kind, Tags: evt.Tags, Content: content,
			})
		}
	}

	// Not (successfully) encrypted content: accommodate unencrypted
	// broadcasts like profile metadata by trying to parse Content as JSON
	// directly.
	var content json.RawMessage
	if err := json.Unmarshal([]byte(evt.Content), &content); err == nil {
		return cleartextMessage(CleartextEvent{
			ID: evt.ID, Author: evt.PubKey, CreatedAt: evt.CreatedAt,
			Kind: evt.Kind, Tags: evt.Tags, Content: content,
		})
	}

	return encryptedMessage(evt)
}

func (s *state) dispatchTo(id PortalId, conv Conversation, msg ConversationMessage) {
	resp, err := conv.OnMessage(msg)
	if err != nil {
		s.log.Warn("conversation on_message failed", "id", id.ToText(), "error", err)
		s.cleanup(id)
		return
	}
	if err := s.processResponse(id, resp); err != nil {
		s.log.Error("processing response failed", "id", id.ToText(), "error", err)
	}
}

func (s *state) handleEOSE(subID string) {
	id, err := ParsePortalId(subID)
	if err != nil {
		s.log.Warn("dropping EOSE on malformed subscription id", "sub_id", subID, "error", err)
		return
	}
	key := id.ToText()
	remaining, ok := s.eoseCounters[key]
	if !ok {
		return
	}
	remaining--
	if remaining > 0 {
		s.eoseCounters[key] = remaining
		return
	}
	delete(s.eoseCounters, key)

	conv, ok := s.conversations[id.Id()]
	if !ok {
		return
	}
	s.dispatchTo(id, conv, eoseMessage())
}
