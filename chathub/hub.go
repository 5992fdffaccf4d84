package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"runnerhub/chat"
	"runnerhub/locks"
	"runnerhub/models"
	"runnerhub/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Limiter throttles sends per identity.
type Limiter interface {
	Allow(key string) error
}

// Publisher forwards committed messages to other instances.
type Publisher interface {
	Publish(m models.Message)
}

type Options struct {
	QueueSize      int
	PongWait       time.Duration
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	return o
}

// Hub routes conversation traffic between live sockets. Every delivery of
// a message happens while the booking's lock is held, so each client sees a
// booking's messages in sequence order.
type Hub struct {
	registry *session.Registry
	store    *chat.Store
	locks    *locks.Keyed
	limiter  Limiter
	relay    Publisher
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	stopped bool
}

func NewHub(registry *session.Registry, store *chat.Store, keyed *locks.Keyed, log *zap.Logger, opts Options) *Hub {
	opts = opts.withDefaults()
	h := &Hub{
		registry: registry,
		store:    store,
		locks:    keyed,
		log:      log.Named("hub"),
		opts:     opts,
		clients:  make(map[string]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func (h *Hub) SetLimiter(l Limiter) { h.limiter = l }

func (h *Hub) SetRelay(p Publisher) { h.relay = p }

// attach registers a client for an already authenticated session. conn may
// be nil in tests that read the send queue directly.
func (h *Hub) attach(s *session.Session, conn *websocket.Conn) (*Client, error) {
	c := &Client{
		hub:     h,
		conn:    conn,
		session: s,
		send:    make(chan []byte, h.opts.QueueSize),
		done:    make(chan struct{}),
		seen:    make(map[string]int64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		h.registry.Disconnect(s)
		return nil, fmt.Errorf("hub is shutting down: %w", models.ErrTransport)
	}
	h.clients[s.ID] = c
	return c, nil
}

func (h *Hub) client(connID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

func (h *Hub) disconnect(c *Client) {
	h.registry.Disconnect(c.session)
	h.mu.Lock()
	if h.clients[c.ID()] == c {
		delete(h.clients, c.ID())
	}
	h.mu.Unlock()
	c.close()
	h.log.Debug("client disconnected", zap.String("conn", c.ID()))
}

// Stop closes every live client. New connections are refused afterwards.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.log.Info("hub stopped", zap.Int("clients", len(clients)))
}

// ClientCount is the number of attached sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handle(ctx context.Context, c *Client, raw []byte) {
	var in inboundPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		c.queue(newErrorEvent("", "", fmt.Errorf("invalid frame: %v: %w", err, models.ErrValidation)))
		return
	}
	if in.BookingID == "" {
		c.queue(newErrorEvent("", in.Ref, fmt.Errorf("booking_id is required: %w", models.ErrValidation)))
		return
	}

	var err error
	switch in.Event {
	case EventJoinChat:
		err = h.join(ctx, c, in.BookingID, in.Since)
	case EventLeaveChat:
		h.leave(c, in.BookingID)
	case EventSendMessage:
		err = h.sendMessage(ctx, c, in.BookingID, in.Body, in.Ref)
	case EventMarkRead:
		err = h.markRead(ctx, c, in.BookingID, in.Sequence)
	default:
		err = fmt.Errorf("unknown event %q: %w", in.Event, models.ErrValidation)
	}
	if err != nil {
		h.log.Debug("request failed",
			zap.String("conn", c.ID()),
			zap.String("event", in.Event),
			zap.String("booking", in.BookingID),
			zap.Error(err))
		c.queue(newErrorEvent(in.BookingID, in.Ref, err))
	}
}

// join subscribes c and sends it history(since) in one step under the
// booking's lock, so nothing appended concurrently is missed or repeated.
func (h *Hub) join(ctx context.Context, c *Client, bookingID string, since int64) error {
	if since < 0 {
		since = 0
	}

	unlock := h.locks.Lock(bookingID)
	defer unlock()

	if err := h.registry.Subscribe(ctx, c.session, bookingID); err != nil {
		return err
	}
	history, err := h.store.History(ctx, bookingID, since)
	if err != nil {
		h.registry.Unsubscribe(c.session, bookingID)
		return err
	}

	// A cursor ahead of the store must not hide messages still to come.
	last := since
	if n := len(history); n > 0 {
		last = history[n-1].Sequence
	} else if since > 0 {
		stored, err := h.store.LastSequence(ctx, bookingID)
		if err != nil {
			h.registry.Unsubscribe(c.session, bookingID)
			return err
		}
		last = min(since, stored)
	}
	c.resetSeen(bookingID, last)

	c.queue(historyEvent{
		Event:     EventChatHistory,
		BookingID: bookingID,
		Messages:  models.ViewsFor(history, c.session.Identity.ID),
	})
	c.queue(roomEvent{Event: EventJoinedChat, BookingID: bookingID})
	return nil
}

func (h *Hub) leave(c *Client, bookingID string) {
	unlock := h.locks.Lock(bookingID)
	defer unlock()

	h.registry.Unsubscribe(c.session, bookingID)
	c.resetSeen(bookingID, 0)
	c.queue(roomEvent{Event: EventLeftChat, BookingID: bookingID})
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, bookingID, body, ref string) error {
	if !c.session.Subscribed(bookingID) {
		return fmt.Errorf("join booking %s before sending: %w", bookingID, models.ErrForbidden)
	}
	if h.limiter != nil {
		if err := h.limiter.Allow(c.session.Identity.ID); err != nil {
			return err
		}
	}
	_, err := h.store.Append(ctx, bookingID, c.session.Identity, body, models.KindText, func(m models.Message) {
		h.fanout(ctx, m, c, ref)
	})
	return err
}

func (h *Hub) markRead(ctx context.Context, c *Client, bookingID string, seq int64) error {
	cursor, err := h.store.MarkRead(ctx, bookingID, c.session.Identity, seq)
	if err != nil {
		return err
	}
	c.queue(readEvent{Event: EventMessagesMarkedRead, BookingID: bookingID, Sequence: cursor.Sequence})
	h.announceRead(cursor, c)
	return nil
}

// announceRead tells everyone else in the room how far reader has read.
func (h *Hub) announceRead(cursor models.ReadCursor, except *Client) {
	evt := readEvent{
		Event:     EventMessagesRead,
		BookingID: cursor.BookingID,
		ReaderID:  cursor.IdentityID,
		Sequence:  cursor.Sequence,
	}
	for _, s := range h.registry.SubscribersOf(cursor.BookingID) {
		if other := h.client(s.ID); other != nil && other != except {
			other.queue(evt)
		}
	}
}

// fanout delivers a committed message to the room. The caller holds the
// booking's lock. sender, when set, gets a message_ack instead of
// new_message.
func (h *Hub) fanout(ctx context.Context, m models.Message, sender *Client, ref string) {
	if sender != nil {
		h.deliver(ctx, sender, m, true, ref)
	}
	for _, s := range h.registry.SubscribersOf(m.BookingID) {
		c := h.client(s.ID)
		if c == nil || c == sender {
			continue
		}
		h.deliver(ctx, c, m, false, "")
	}
	if h.relay != nil {
		h.relay.Publish(m)
	}
}

func (h *Hub) deliver(ctx context.Context, c *Client, m models.Message, ack bool, ref string) {
	viewer := c.session.Identity.ID
	evt := messageEvent{Event: EventNewMessage, BookingID: m.BookingID, Message: m.ViewFor(viewer)}
	if ack {
		evt.Event = EventMessageAck
		evt.Ref = ref
	}

	last := c.lastSeen(m.BookingID)
	if m.Sequence <= last {
		if ack {
			c.queue(evt)
		}
		return
	}
	if m.Sequence > last+1 {
		// another instance appended in between; fill the gap from the store
		missed, err := h.store.History(ctx, m.BookingID, last)
		if err != nil {
			h.log.Warn("gap fill failed",
				zap.String("conn", c.ID()),
				zap.String("booking", m.BookingID),
				zap.Int64("from", last),
				zap.Error(err))
		}
		for _, x := range missed {
			if x.Sequence >= m.Sequence {
				break
			}
			if !c.queue(messageEvent{Event: EventNewMessage, BookingID: x.BookingID, Message: x.ViewFor(viewer)}) {
				return
			}
		}
	}

	if c.queue(evt) {
		c.markSeen(m.BookingID, m.Sequence)
	}
}

// BookingTransitioned turns a lifecycle event into a system message. The
// booking service calls it with the booking's lock held.
func (h *Hub) BookingTransitioned(ctx context.Context, evt models.LifecycleEvent) {
	body := systemText(evt)
	_, err := h.store.AppendHeld(ctx, evt.BookingID, models.Identity{}, body, models.KindSystem, func(m models.Message) {
		h.fanout(ctx, m, nil, "")
	})
	if err != nil {
		h.log.Error("append system message",
			zap.String("booking", evt.BookingID),
			zap.String("status", string(evt.NewStatus)),
			zap.Error(err))
	}
}

// DeliverRemote hands a message committed by another instance to local
// subscribers.
func (h *Hub) DeliverRemote(ctx context.Context, m models.Message) {
	unlock := h.locks.Lock(m.BookingID)
	defer unlock()
	for _, s := range h.registry.SubscribersOf(m.BookingID) {
		if c := h.client(s.ID); c != nil {
			h.deliver(ctx, c, m, false, "")
		}
	}
}

var actionVerbs = map[models.Action]string{
	models.ActionAccept:   "accepted",
	models.ActionDecline:  "declined",
	models.ActionCancel:   "cancelled",
	models.ActionStart:    "started",
	models.ActionComplete: "completed",
}

func systemText(evt models.LifecycleEvent) string {
	verb, ok := actionVerbs[evt.Action]
	if !ok {
		verb = string(evt.NewStatus)
	}
	by := "provider"
	switch {
	case evt.Actor.Staff():
		by = string(evt.Actor.Role)
	case evt.Action == models.ActionCancel:
		by = "requester"
	}
	return fmt.Sprintf("Booking %s by the %s.", verb, by)
}
