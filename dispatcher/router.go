package dispatcher

import (
	"sync"

	"github.com/nimbusmq/broker/session"
)

// Router tracks subscriptions both by topic filter (via the trie, for
// matching) and by owning session (for UNSUBSCRIBE/teardown bookkeeping).
type Router struct {
	trie          *Trie
	subscriptions map[session.SessionGid]map[string]*session.Subscription
	mu            sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		trie:          NewTrie(),
		subscriptions: make(map[session.SessionGid]map[string]*session.Subscription),
	}
}

// Subscribe registers sub for gid, returning an error if the filter is
// malformed.
func (r *Router) Subscribe(gid session.SessionGid, sub *session.Subscription) error {
	if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
		return err
	}

	info := SubscriberInfo{
		Gid:                    gid,
		QoS:                    sub.QoS,
		NoLocal:                sub.NoLocal,
		RetainAsPublished:      sub.RetainAsPublished,
		RetainHandling:         sub.RetainHandling,
		SubscriptionIdentifier: sub.SubscriptionIdentifier,
	}

	if err := r.trie.Subscribe(sub.TopicFilter, info); err != nil {
		return err
	}

	r.mu.Lock()
	if r.subscriptions[gid] == nil {
		r.subscriptions[gid] = make(map[string]*session.Subscription)
	}
	r.subscriptions[gid][sub.TopicFilter] = sub
	r.mu.Unlock()

	return nil
}

// Unsubscribe removes gid's subscription to filter. Reports whether one
// existed.
func (r *Router) Unsubscribe(gid session.SessionGid, filter string) bool {
	found := r.trie.Unsubscribe(filter, gid)

	r.mu.Lock()
	if subs, ok := r.subscriptions[gid]; ok {
		delete(subs, filter)
		if len(subs) == 0 {
			delete(r.subscriptions, gid)
		}
	}
	r.mu.Unlock()

	return found
}

// UnsubscribeAll drops every subscription belonging to gid, used on
// session teardown with clean-session semantics. Returns the count removed.
func (r *Router) UnsubscribeAll(gid session.SessionGid) int {
	r.mu.Lock()
	subs, ok := r.subscriptions[gid]
	if !ok {
		r.mu.Unlock()
		return 0
	}
	filters := make([]string, 0, len(subs))
	for filter := range subs {
		filters = append(filters, filter)
	}
	delete(r.subscriptions, gid)
	r.mu.Unlock()

	count := 0
	for _, filter := range filters {
		if r.trie.Unsubscribe(filter, gid) {
			count++
		}
	}
	return count
}

// Match returns every subscriber whose filter matches topic.
func (r *Router) Match(topic string) []SubscriberInfo {
	return r.trie.Match(topic)
}

// MatchForPublish returns every subscriber whose filter matches topic,
// excluding the publishing session itself from subscriptions marked
// NoLocal.
func (r *Router) MatchForPublish(topic string, publisher session.SessionGid) []SubscriberInfo {
	all := r.trie.Match(topic)
	filtered := make([]SubscriberInfo, 0, len(all))
	for _, sub := range all {
		if sub.NoLocal && sub.Gid == publisher {
			continue
		}
		filtered = append(filtered, sub)
	}
	return filtered
}

// GetSubscription returns gid's subscription to filter, if any.
func (r *Router) GetSubscription(gid session.SessionGid, filter string) (*session.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.subscriptions[gid]
	if !ok {
		return nil, false
	}
	sub, ok := subs[filter]
	return sub, ok
}

// GetSessionSubscriptions returns every subscription held by gid.
func (r *Router) GetSessionSubscriptions(gid session.SessionGid) []*session.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs, ok := r.subscriptions[gid]
	if !ok {
		return nil
	}
	result := make([]*session.Subscription, 0, len(subs))
	for _, sub := range subs {
		result = append(result, sub)
	}
	return result
}

// Count returns the total number of live subscriptions.
func (r *Router) Count() int {
	return r.trie.Count()
}

// CountSessions returns the number of sessions with at least one
// subscription.
func (r *Router) CountSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}

// Clear removes every subscription.
func (r *Router) Clear() {
	r.mu.Lock()
	r.subscriptions = make(map[session.SessionGid]map[string]*session.Subscription)
	r.mu.Unlock()
	r.trie.Clear()
}
