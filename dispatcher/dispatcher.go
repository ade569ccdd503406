package dispatcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/message"
	"github.com/nimbusmq/broker/persist"
	"github.com/nimbusmq/broker/session"
)

// ListenerLink is the handoff surface a listener registers with the
// dispatcher so PUBLISH fan-out can reach a session it owns without the
// dispatcher knowing anything about the transport underneath it.
type ListenerLink interface {
	// Deliver hands msg to the session identified by sessionID. It
	// returns session.ErrSessionNotFound for the expected race where the
	// session tore down concurrently with fan-out; any other error is
	// logged but does not halt fan-out to the remaining subscribers.
	Deliver(ctx context.Context, sessionID uint64, msg *message.Message) error
}

// RetainedMatcher answers whether a topic matches a filter. Dispatcher
// uses it for walking the retained store on a new SUBSCRIBE.
type RetainedMatcher interface {
	Match(filter, topic string) bool
}

// MetricsSink receives dispatcher-observed counters. A nil sink disables
// metrics entirely; Dispatcher never fails an operation because metrics
// reporting had nowhere to go.
type MetricsSink interface {
	ObservePublish(topic string, qos codec.QoS, bytes int)
	ObserveDrop(reason string)
	ObserveSubscribe(count int)
	ObserveUnsubscribe(count int)
}

// Dispatcher owns the subscription trie, the retained-message store and
// the cached-session store, and performs PUBLISH fan-out across
// listeners. It is the one component that touches all three; its
// methods are safe for concurrent use.
type Dispatcher struct {
	router   *Router
	retained *persist.RetainedStore
	sessions *session.Manager
	matcher  RetainedMatcher
	metrics  MetricsSink
	log      *slog.Logger

	mu        sync.RWMutex
	listeners map[uint32]ListenerLink
}

// Config configures a new Dispatcher.
type Config struct {
	Sessions *session.Manager
	Retained *persist.RetainedStore
	Metrics  MetricsSink
	Logger   *slog.Logger
}

// New builds a Dispatcher. Sessions must not be nil; Retained defaults to
// an in-memory store when nil.
func New(cfg Config) *Dispatcher {
	retained := cfg.Retained
	if retained == nil {
		retained = persist.NewRetainedStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		router:    NewRouter(),
		retained:  retained,
		sessions:  cfg.Sessions,
		matcher:   NewMatcher(),
		metrics:   cfg.Metrics,
		log:       logger,
		listeners: make(map[uint32]ListenerLink),
	}
}

// RegisterListener makes a listener reachable for fan-out. Called once
// per listener at startup.
func (d *Dispatcher) RegisterListener(id uint32, link ListenerLink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[id] = link
}

// UnregisterListener removes a listener, e.g. on graceful shutdown of
// that endpoint. In-flight fan-out to it after this call is silently
// dropped.
func (d *Dispatcher) UnregisterListener(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, id)
}

func (d *Dispatcher) linkFor(listenerID uint32) (ListenerLink, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	link, ok := d.listeners[listenerID]
	return link, ok
}

// Publish updates the retained store if msg.Retain is set, then delivers a per-subscriber
// clone (QoS downgraded to the subscription's granted QoS, DUP cleared,
// subscription identifiers attached) to every matching session. A
// destination whose listener is gone is silently dropped; no retry.
func (d *Dispatcher) Publish(ctx context.Context, msg *message.Message, publisher session.SessionGid) error {
	if err := ValidateTopic(msg.Topic); err != nil {
		return err
	}

	if msg.Retain {
		if err := d.retained.Set(ctx, msg.Topic, msg); err != nil {
			return err
		}
	}

	subs := d.router.MatchForPublish(msg.Topic, publisher)

	for _, sub := range subs {
		link, ok := d.linkFor(sub.Gid.ListenerID)
		if !ok {
			d.observeDrop("listener_gone")
			continue
		}

		qos := sub.QoS
		if msg.QoS < qos {
			qos = msg.QoS
		}

		clone := msg.CloneForSubscriber(0, qos, sub.SubscriptionIdentifier)
		// Fan-out never carries the publisher's retain flag onward
		// except for the retained replay path (Subscribe below), which
		// builds its own clones.
		clone.Retain = false

		if err := link.Deliver(ctx, sub.Gid.SessionID, clone); err != nil {
			if err == session.ErrSessionNotFound {
				d.observeDrop("session_gone")
				continue
			}
			d.log.Warn("dispatcher: deliver failed",
				"listener_id", sub.Gid.ListenerID,
				"session_id", sub.Gid.SessionID,
				"topic", msg.Topic,
				"error", err)
		}
	}

	d.observePublish(msg)

	return nil
}

// Subscribe grants sub to gid and returns the retained messages that now
// match its filter: on every new SUBSCRIBE, the dispatcher walks
// retained messages whose topics match the new pattern and returns them
// for the caller to deliver with the retain flag set.
func (d *Dispatcher) Subscribe(ctx context.Context, gid session.SessionGid, sub *session.Subscription) ([]*message.Message, error) {
	if err := d.router.Subscribe(gid, sub); err != nil {
		return nil, err
	}

	matched, err := d.retained.Match(ctx, sub.TopicFilter, d.matcher)
	if err != nil {
		return nil, err
	}

	out := make([]*message.Message, 0, len(matched))
	for _, m := range matched {
		clone := m.CloneForSubscriber(0, sub.QoS, sub.SubscriptionIdentifier)
		clone.Retain = true
		out = append(out, clone)
	}

	d.observeSubscribe(1)

	return out, nil
}

// Unsubscribe removes gid's subscription to filter.
func (d *Dispatcher) Unsubscribe(gid session.SessionGid, filter string) bool {
	found := d.router.Unsubscribe(gid, filter)
	if found {
		d.observeUnsubscribe(1)
	}
	return found
}

// UnsubscribeAll removes every subscription belonging to gid, used on
// session teardown.
func (d *Dispatcher) UnsubscribeAll(gid session.SessionGid) int {
	n := d.router.UnsubscribeAll(gid)
	if n > 0 {
		d.observeUnsubscribe(n)
	}
	return n
}

// Sessions exposes the underlying session manager for listeners that need
// direct session lifecycle calls (CreateSession, DisconnectSession, ...).
// Dispatcher itself makes no calls on it.
func (d *Dispatcher) Sessions() *session.Manager {
	return d.sessions
}

// Router exposes the subscription router for read-only introspection
// (e.g. a $SYS metrics poll of subscription counts).
func (d *Dispatcher) Router() *Router {
	return d.router
}

// Retained exposes the retained-message store for read-only
// introspection.
func (d *Dispatcher) Retained() *persist.RetainedStore {
	return d.retained
}

func (d *Dispatcher) observePublish(msg *message.Message) {
	if d.metrics == nil {
		return
	}
	d.metrics.ObservePublish(msg.Topic, msg.QoS, len(msg.Payload))
}

func (d *Dispatcher) observeDrop(reason string) {
	if d.metrics != nil {
		d.metrics.ObserveDrop(reason)
	}
}

func (d *Dispatcher) observeSubscribe(n int) {
	if d.metrics != nil {
		d.metrics.ObserveSubscribe(n)
	}
}

func (d *Dispatcher) observeUnsubscribe(n int) {
	if d.metrics != nil {
		d.metrics.ObserveUnsubscribe(n)
	}
}
