package dispatcher

import (
	"sync"

	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/session"
)

// SubscriberInfo is the trie-resident record of a granted subscription,
// carrying exactly what fan-out needs to hand off to the owning listener.
type SubscriberInfo struct {
	Gid                    session.SessionGid
	QoS                    codec.QoS
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
}

type trieNode struct {
	children       map[string]*trieNode
	subscribers    []SubscriberInfo
	hasMultiLevel  bool
	hasSingleLevel bool
	mu             sync.RWMutex
}

func newTrieNode() *trieNode {
	return &trieNode{
		children:    make(map[string]*trieNode),
		subscribers: make([]SubscriberInfo, 0),
	}
}

// Trie is the subscription trie: SessionGid → { topic pattern → granted
// QoS }, organized by topic level for O(depth) matching.
type Trie struct {
	root *trieNode
	mu   sync.RWMutex
}

// NewTrie creates an empty subscription trie.
func NewTrie() *Trie {
	return &Trie{root: newTrieNode()}
}

// Subscribe adds a subscription to the trie.
func (t *Trie) Subscribe(filter string, sub SubscriberInfo) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.navigateToNode(filter)

	node.mu.Lock()
	node.subscribers = append(node.subscribers, sub)
	node.mu.Unlock()

	return nil
}

func (t *Trie) navigateToNode(filter string) *trieNode {
	node := t.root
	for _, level := range splitTopicLevels(filter) {
		node.mu.Lock()
		if node.children[level] == nil {
			node.children[level] = newTrieNode()
		}
		next := node.children[level]

		if level == "+" {
			node.hasSingleLevel = true
		} else if level == "#" {
			node.hasMultiLevel = true
		}
		node.mu.Unlock()

		node = next
	}
	return node
}

// Unsubscribe removes gid's subscription to filter. Reports whether one
// was found.
func (t *Trie) Unsubscribe(filter string, gid session.SessionGid) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.unsubscribeRecursive(t.root, splitTopicLevels(filter), gid, 0)
}

func (t *Trie) unsubscribeRecursive(node *trieNode, levels []string, gid session.SessionGid, depth int) bool {
	if depth == len(levels) {
		node.mu.Lock()
		defer node.mu.Unlock()
		for i, sub := range node.subscribers {
			if sub.Gid == gid {
				node.subscribers = append(node.subscribers[:i], node.subscribers[i+1:]...)
				return true
			}
		}
		return false
	}

	level := levels[depth]
	node.mu.RLock()
	child := node.children[level]
	node.mu.RUnlock()
	if child == nil {
		return false
	}

	found := t.unsubscribeRecursive(child, levels, gid, depth+1)
	if found && t.shouldPruneNode(child) {
		node.mu.Lock()
		delete(node.children, level)
		node.mu.Unlock()
	}
	return found
}

// Match finds every subscriber whose filter matches topic.
func (t *Trie) Match(topic string) []SubscriberInfo {
	if err := ValidateTopic(topic); err != nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	subs := make([]SubscriberInfo, 0, 16)
	t.matchRecursive(t.root, splitTopicLevels(topic), 0, &subs)
	return subs
}

func (t *Trie) matchRecursive(node *trieNode, levels []string, depth int, out *[]SubscriberInfo) {
	node.mu.RLock()
	defer node.mu.RUnlock()

	// A filter rooted at '#' or '+' never matches a topic whose first
	// level starts with '$'.
	rootIsDollar := depth == 0 && len(levels) > 0 && len(levels[0]) > 0 && levels[0][0] == '$'

	if !rootIsDollar {
		if multi := node.children["#"]; multi != nil {
			multi.mu.RLock()
			*out = append(*out, multi.subscribers...)
			multi.mu.RUnlock()
		}
	}

	if depth == len(levels) {
		*out = append(*out, node.subscribers...)
		return
	}

	level := levels[depth]

	if exact := node.children[level]; exact != nil {
		t.matchRecursive(exact, levels, depth+1, out)
	}
	if !rootIsDollar {
		if plus := node.children["+"]; plus != nil {
			t.matchRecursive(plus, levels, depth+1, out)
		}
	}
}

func (t *Trie) shouldPruneNode(node *trieNode) bool {
	node.mu.RLock()
	defer node.mu.RUnlock()
	return len(node.subscribers) == 0 && len(node.children) == 0
}

// Clear removes every subscription.
func (t *Trie) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newTrieNode()
}

// Count returns the total number of live subscriptions.
func (t *Trie) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.countRecursive(t.root)
}

func (t *Trie) countRecursive(node *trieNode) int {
	node.mu.RLock()
	defer node.mu.RUnlock()

	count := len(node.subscribers)
	for _, child := range node.children {
		count += t.countRecursive(child)
	}
	return count
}
