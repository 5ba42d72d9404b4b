package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/asmogo/portal/protocol"
)

// relayMembership records which relay set a conversation belongs to: the
// global node, or one-or-more named relay nodes. Never both, never
// neither (spec §8 invariant).
type relayMembership struct {
	global bool
	named  map[string]bool // relay url -> member
}

// state is the router actor's private, single-writer data. Every field is
// touched only from the actor goroutine in actor.go; no lock discipline
// is needed inside it.
type state struct {
	channel Channel
	keypair protocol.LocalKeypair

	conversations map[string]Conversation     // conversation body -> conversation
	aliases       map[string][]uint64         // conversation body -> alias numbers
	filters       map[string]nostr.Filter     // full PortalId text -> installed filter
	subscribers   map[string][]*subscriber    // conversation body -> subscriber list
	eoseCounters  map[string]int              // full PortalId text -> relays still expected
	membership    map[string]*relayMembership // conversation body -> relay membership
	nextAlias     map[string]uint64           // conversation body -> next alias number to allocate

	log *slog.Logger
}

func newState(channel Channel, keypair protocol.LocalKeypair, log *slog.Logger) *state {
	return &state{
		channel:       channel,
		keypair:       keypair,
		conversations: make(map[string]Conversation),
		aliases:       make(map[string][]uint64),
		filters:       make(map[string]nostr.Filter),
		subscribers:   make(map[string][]*subscriber),
		eoseCounters:  make(map[string]int),
		membership:    make(map[string]*relayMembership),
		nextAlias:     make(map[string]uint64),
		log:           log,
	}
}

// addConversation allocates an id, registers conv globally, runs Init,
// and processes the resulting response (spec §4.4 add_conversation).
func (s *state) addConversation(conv Conversation) (PortalId, error) {
	id, err := NewConversationId()
	if err != nil {
		return PortalId{}, err
	}
	s.conversations[id.Id()] = conv
	s.membership[id.Id()] = &relayMembership{global: true}

	resp, err := conv.Init()
	if err != nil {
		s.log.Warn("conversation init failed", "id", id.ToText(), "error", err)
		s.cleanup(id)
		return id, &ConversationError{Id: id, Err: err}
	}
	if err := s.processResponse(id, resp); err != nil {
		s.log.Warn("processing init response failed", "id", id.ToText(), "error", err)
	}
	return id, nil
}

// addConversationWithRelays is addConversation but pinned to named relays
// instead of the global node; it fails fast if any listed relay is
// unknown.
func (s *state) addConversationWithRelays(conv Conversation, relays []string) (PortalId, error) {
	for _, url := range relays {
		if !s.channel.HasRelay(url) {
			return PortalId{}, fmt.Errorf("%w: %s", ErrRelayNotConnected, url)
		}
	}

	id, err := NewConversationId()
	if err != nil {
		return PortalId{}, err
	}
	named := make(map[string]bool, len(relays))
	for _, url := range relays {
		named[url] = true
	}
	s.conversations[id.Id()] = conv
	s.membership[id.Id()] = &relayMembership{named: named}

	resp, err := conv.Init()
	if err != nil {
		s.cleanup(id)
		return id, &ConversationError{Id: id, Err: err}
	}
	if err := s.processResponse(id, resp); err != nil {
		s.log.Warn("processing init response failed", "id", id.ToText(), "error", err)
	}
	return id, nil
}

// addAndSubscribe allocates an id, attaches a subscriber channel *before*
// registering the conversation, then runs init. The ordering guarantees
// no notification emitted from Init is lost to a race with the caller
// attaching late.
func addAndSubscribe[T any](s *state, conv Conversation) (PortalId, NotificationStream[T], error) {
	id, err := NewConversationId()
	if err != nil {
		return PortalId{}, NotificationStream[T]{}, err
	}
	sub := newSubscriber()
	s.subscribers[id.Id()] = append(s.subscribers[id.Id()], sub)

	s.conversations[id.Id()] = conv
	s.membership[id.Id()] = &relayMembership{global: true}

	resp, err := conv.Init()
	if err != nil {
		s.cleanup(id)
		return id, NotificationStream[T]{raw: sub.ch}, &ConversationError{Id: id, Err: err}
	}
	if err := s.processResponse(id, resp); err != nil {
		s.log.Warn("processing init response failed", "id", id.ToText(), "error", err)
	}
	return id, NotificationStream[T]{raw: sub.ch}, nil
}

// subscribeToServiceRequest appends a subscriber channel to an existing
// conversation's subscriber list.
func subscribeToServiceRequest[T any](s *state, id PortalId) NotificationStream[T] {
	sub := newSubscriber()
	s.subscribers[id.Id()] = append(s.subscribers[id.Id()], sub)
	return NotificationStream[T]{raw: sub.ch}
}

// addRelay connects a new relay and, for every globally-subscribed
// conversation (and its aliases) with a filter installed, subscribes the
// new relay to that filter too (spec §4.4 add_relay).
func (s *state) addRelay(ctx context.Context, url string) error {
	if err := s.channel.AddRelay(ctx, url); err != nil {
		return err
	}
	for body, m := range s.membership {
		if !m.global {
			continue
		}
		id := PortalId{body: body}
		if filter, ok := s.filters[id.ToText()]; ok {
			if err := s.channel.SubscribeTo([]string{url}, id, filter); err != nil {
				s.log.Error("subscribe new relay to global conversation", "relay", url, "id", id.ToText(), "error", err)
				continue
			}
			s.eoseCounters[id.ToText()]++
		}
		for _, alias := range s.aliases[body] {
			aliasID := NewAlias(body, alias)
			if filter, ok := s.filters[aliasID.ToText()]; ok {
				if err := s.channel.SubscribeTo([]string{url}, aliasID, filter); err != nil {
					s.log.Error("subscribe new relay to alias", "relay", url, "id", aliasID.ToText(), "error", err)
				}
				// Alias EOSE is not tracked: subkey-proof flows do not
				// signal stored-event completion to callers.
			}
		}
	}
	return nil
}

// removeRelay disconnects a relay and cleans up any conversation that is
// now hosted nowhere (spec §4.4 remove_relay).
func (s *state) removeRelay(url string) {
	s.channel.RemoveRelay(url)

	var toCleanup []PortalId
	for body, m := range s.membership {
		if m.global {
			continue
		}
		if !m.named[url] {
			continue
		}
		delete(m.named, url)
		if len(m.named) == 0 {
			toCleanup = append(toCleanup, PortalId{body: body})
		} else {
			id := PortalId{body: body}
			if _, ok := s.eoseCounters[id.ToText()]; ok {
				s.eoseCounters[id.ToText()]--
			}
		}
	}
	for _, id := range toCleanup {
		s.cleanup(id)
	}
}

// processResponse executes spec §4.5 for the response a conversation step
// just returned.
func (s *state) processResponse(id PortalId, resp Response) error {
	var channelErr error

	relaySet, isNamed := s.relaysFor(id)

	if resp.Filter != nil {
		s.filters[id.ToText()] = *resp.Filter
		if isNamed {
			if err := s.channel.SubscribeTo(relaySet, id, *resp.Filter); err != nil {
				channelErr = fmt.Errorf("subscribe %s: %w", id.ToText(), err)
			}
			s.eoseCounters[id.ToText()] = len(relaySet)
		} else {
			n, err := s.channel.Subscribe(id, *resp.Filter)
			if err != nil {
				channelErr = fmt.Errorf("subscribe %s: %w", id.ToText(), err)
			}
			s.eoseCounters[id.ToText()] = n
		}
	}

	staged, err := s.composeEvents(resp.Responses)
	if err != nil {
		s.log.Error("compose response events", "id", id.ToText(), "error", err)
		channelErr = err
	}

	for _, n := range resp.Notifications {
		s.notify(id, n)
	}

	if resp.SubscribeToSubkeyProofs && len(staged) > 0 {
		s.installSubkeyProofAlias(id, staged, relaySet, isNamed)
	}

	for _, evt := range staged {
		var broadcastErr error
		if isNamed {
			broadcastErr = s.channel.BroadcastTo(relaySet, evt)
		} else {
			broadcastErr = s.channel.Broadcast(evt)
		}
		if broadcastErr != nil {
			s.log.Error("broadcast event", "id", id.ToText(), "kind", evt.Kind, "error", broadcastErr)
			channelErr = broadcastErr
		}
	}

	if resp.Finished {
		s.cleanup(id)
	}

	return channelErr
}

func (s *state) relaysFor(id PortalId) (urls []string, isNamed bool) {
	m, ok := s.membership[id.Id()]
	if !ok || m.global {
		return nil, false
	}
	for url := range m.named {
		urls = append(urls, url)
	}
	return urls, true
}

func (s *state) composeEvents(entries []ResponseEntry) ([]*nostr.Event, error) {
	var staged []*nostr.Event
	for _, entry := range entries {
		content, err := json.Marshal(entry.Content)
		if err != nil {
			return staged, fmt.Errorf("marshal response content: %w", err)
		}

		if !entry.Encrypted {
			evt := &nostr.Event{
				CreatedAt: nostr.Now(),
				Kind:      entry.Kind,
				Tags:      entry.Tags,
				Content:   string(content),
			}
			if err := s.keypair.SignEvent(evt); err != nil {
				return staged, fmt.Errorf("sign event: %w", err)
			}
			staged = append(staged, evt)
			continue
		}

		for _, recipient := range entry.Recipients {
			ciphertext, err := protocol.EncryptNIP44(s.keypair.SecretKey(), recipient, string(content))
			if err != nil {
				return staged, fmt.Errorf("encrypt to %s: %w", recipient, err)
			}
			tags := append(nostr.Tags{}, entry.Tags...)
			tags = append(tags, nostr.Tag{"p", recipient})
			evt := &nostr.Event{
				CreatedAt: nostr.Now(),
				Kind:      entry.Kind,
				Tags:      tags,
				Content:   ciphertext,
			}
			if err := s.keypair.SignEvent(evt); err != nil {
				return staged, fmt.Errorf("sign event: %w", err)
			}
			staged = append(staged, evt)
		}
	}
	return staged, nil
}

func (s *state) notify(id PortalId, payload json.RawMessage) {
	subs := s.subscribers[id.Id()]
	live := subs[:0]
	for _, sub := range subs {
		sub.send(payload)
		live = append(live, sub)
	}
	s.subscribers[id.Id()] = live
}

func (s *state) installSubkeyProofAlias(id PortalId, staged []*nostr.Event, relaySet []string, isNamed bool) {
	alias := s.nextAlias[id.Id()]
	s.nextAlias[id.Id()] = alias + 1
	s.aliases[id.Id()] = append(s.aliases[id.Id()], alias)
	aliasID := NewAlias(id.Id(), alias)

	ids := make([]string, 0, len(staged))
	for _, evt := range staged {
		ids = append(ids, evt.ID)
	}
	filter := nostr.Filter{
		Kinds: []int{protocol.SubkeyProofKind},
		Tags:  nostr.TagMap{"e": ids},
	}
	s.filters[aliasID.ToText()] = filter

	var err error
	if isNamed {
		err = s.channel.SubscribeTo(relaySet, aliasID, filter)
	} else {
		_, err = s.channel.Subscribe(aliasID, filter)
	}
	if err != nil {
		s.log.Error("install subkey proof alias", "id", aliasID.ToText(), "error", err)
	}
}

// cleanup removes every trace of a conversation: its state-map entries,
// its subscribers, and its channel subscriptions (the conversation id and
// every alias).
func (s *state) cleanup(id PortalId) {
	body := id.Id()
	for _, alias := range s.aliases[body] {
		aliasID := NewAlias(body, alias)
		s.channel.Unsubscribe(aliasID)
		delete(s.filters, aliasID.ToText())
	}
	s.channel.Unsubscribe(PortalId{body: body})

	delete(s.conversations, body)
	delete(s.aliases, body)
	delete(s.filters, PortalId{body: body}.ToText())
	delete(s.subscribers, body)
	delete(s.eoseCounters, PortalId{body: body}.ToText())
	delete(s.membership, body)
	delete(s.nextAlias, body)
}

// shutdown tears down the transport and clears every map.
func (s *state) shutdown() {
	s.channel.Shutdown()
	s.conversations = make(map[string]Conversation)
	s.aliases = make(map[string][]uint64)
	s.filters = make(map[string]nostr.Filter)
	s.subscribers = make(map[string][]*subscriber)
	s.eoseCounters = make(map[string]int)
	s.membership = make(map[string]*relayMembership)
	s.nextAlias = make(map[string]uint64)
}
