package router

import (
	"context"
	"log/slog"

	"github.com/asmogo/portal/protocol"
)

// mailboxCapacity bounds the actor's inbound command queue (spec §5).
const mailboxCapacity = 4096

// command is the sum of requests the actor loop accepts. Each public
// Router method builds one of these, sends it on the mailbox, and awaits
// its own reply channel — the Go analogue of the source's mailbox +
// oneshot-reply pattern.
type command struct {
	run func(s *state)
}

// Router is the single-writer actor front-end: its mailbox channel
// serializes every mutation of the underlying state, so state itself
// needs no lock discipline. Router is safe to share across goroutines;
// state is not, and is never reached except through the mailbox.
type Router struct {
	mailbox chan command
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewRouter starts the actor loop, which reads both the mailbox and the
// channel's inbound notifications. The returned Router is ready to accept
// conversations immediately.
func NewRouter(ctx context.Context, channel Channel, keypair protocol.LocalKeypair, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Router{
		mailbox: make(chan command, mailboxCapacity),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	st := newState(channel, keypair, log)
	go r.loop(ctx, st, channel)
	return r
}

// loop is the router's single owning goroutine: it dequeues mailbox
// commands and forwarded relay notifications, in arrival order, and
// processes each to completion (including all downstream channel I/O)
// before considering the next.
func (r *Router) loop(ctx context.Context, st *state, channel Channel) {
	defer close(r.done)
	notifications := channel.Notifications()
	for {
		select {
		case <-ctx.Done():
			st.shutdown()
			return
		case cmd := <-r.mailbox:
			cmd.run(st)
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			st.handleNotification(n)
		}
	}
}

// send submits a command and blocks until the actor has executed it
// (synchronous request/reply, matching the spec's mailbox + one-shot
// reply pattern). It returns ErrChannelClosed if the actor has already
// shut down.
func (r *Router) send(fn func(s *state)) error {
	reply := make(chan struct{})
	select {
	case r.mailbox <- command{run: func(s *state) {
		fn(s)
		close(reply)
	}}:
	case <-r.done:
		return ErrChannelClosed
	}
	select {
	case <-reply:
		return nil
	case <-r.done:
		return ErrChannelClosed
	}
}

// AddConversation registers conv globally and runs its Init step.
func (r *Router) AddConversation(conv Conversation) (PortalId, error) {
	var id PortalId
	var initErr error
	err := r.send(func(s *state) { id, initErr = s.addConversation(conv) })
	if err != nil {
		return PortalId{}, err
	}
	return id, initErr
}

// AddConversationWithRelays registers conv pinned to the given relays.
func (r *Router) AddConversationWithRelays(conv Conversation, relays []string) (PortalId, error) {
	var id PortalId
	var initErr error
	err := r.send(func(s *state) { id, initErr = s.addConversationWithRelays(conv, relays) })
	if err != nil {
		return PortalId{}, err
	}
	return id, initErr
}

// AddAndSubscribe registers conv and returns a notification stream
// attached before Init runs, so no notification emitted by Init is lost.
func AddAndSubscribe[T any](r *Router, conv Conversation) (PortalId, NotificationStream[T], error) {
	var id PortalId
	var stream NotificationStream[T]
	var initErr error
	err := r.send(func(s *state) { id, stream, initErr = addAndSubscribe[T](s, conv) })
	if err != nil {
		return PortalId{}, NotificationStream[T]{}, err
	}
	return id, stream, initErr
}

// SubscribeToServiceRequest appends a subscriber channel to an existing
// conversation's notification fan-out list.
func SubscribeToServiceRequest[T any](r *Router, id PortalId) (NotificationStream[T], error) {
	var stream NotificationStream[T]
	err := r.send(func(s *state) { stream = subscribeToServiceRequest[T](s, id) })
	return stream, err
}

// AddRelay connects a new relay and catches up any globally-subscribed
// conversation's filter onto it.
func (r *Router) AddRelay(ctx context.Context, url string) error {
	var addErr error
	err := r.send(func(s *state) { addErr = s.addRelay(ctx, url) })
	if err != nil {
		return err
	}
	return addErr
}

// RemoveRelay disconnects a relay, cleaning up any conversation left with
// nowhere to live.
func (r *Router) RemoveRelay(url string) error {
	return r.send(func(s *state) { s.removeRelay(url) })
}

// Shutdown tears down the transport and stops the actor loop. Further
// calls on this Router return ErrChannelClosed.
func (r *Router) Shutdown() {
	r.cancel()
	<-r.done
}
