package dispatcher

import (
	"testing"

	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gid(listenerID uint32, sessionID uint64) session.SessionGid {
	return session.SessionGid{ListenerID: listenerID, SessionID: sessionID}
}

func TestTrie_SubscribeAndMatch(t *testing.T) {
	t.Run("exact topic", func(t *testing.T) {
		trie := NewTrie()
		sub := SubscriberInfo{Gid: gid(1, 1), QoS: codec.QoS1}

		require.NoError(t, trie.Subscribe("home/temperature", sub))

		subs := trie.Match("home/temperature")
		require.Len(t, subs, 1)
		assert.Equal(t, gid(1, 1), subs[0].Gid)
	})

	t.Run("single level wildcard", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("home/+/temperature", SubscriberInfo{Gid: gid(1, 1)}))

		subs := trie.Match("home/room1/temperature")
		require.Len(t, subs, 1)
	})

	t.Run("multi level wildcard", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("home/#", SubscriberInfo{Gid: gid(1, 1)}))

		subs := trie.Match("home/room1/temperature/value")
		require.Len(t, subs, 1)
	})

	t.Run("multiple subscribers same filter", func(t *testing.T) {
		trie := NewTrie()
		require.NoError(t, trie.Subscribe("home/temperature", SubscriberInfo{Gid: gid(1, 1)}))
		require.NoError(t, trie.Subscribe("home/temperature", SubscriberInfo{Gid: gid(1, 2)}))

		subs := trie.Match("home/temperature")
		assert.Len(t, subs, 2)
	})

	t.Run("rejects malformed filter", func(t *testing.T) {
		trie := NewTrie()
		err := trie.Subscribe("home/#/temperature", SubscriberInfo{Gid: gid(1, 1)})
		require.Error(t, err)
	})
}

func TestTrie_DollarTopicExclusion(t *testing.T) {
	trie := NewTrie()
	require.NoError(t, trie.Subscribe("#", SubscriberInfo{Gid: gid(1, 1)}))
	require.NoError(t, trie.Subscribe("+/uptime", SubscriberInfo{Gid: gid(1, 2)}))
	require.NoError(t, trie.Subscribe("$SYS/#", SubscriberInfo{Gid: gid(1, 3)}))

	subs := trie.Match("$SYS/broker/uptime")
	require.Len(t, subs, 1)
	assert.Equal(t, gid(1, 3), subs[0].Gid)

	// A bare '#' still matches ordinary topics.
	subs = trie.Match("home/temperature")
	require.Len(t, subs, 1)
	assert.Equal(t, gid(1, 1), subs[0].Gid)
}

func TestTrie_Unsubscribe(t *testing.T) {
	trie := NewTrie()
	require.NoError(t, trie.Subscribe("home/temperature", SubscriberInfo{Gid: gid(1, 1)}))
	require.NoError(t, trie.Subscribe("home/temperature", SubscriberInfo{Gid: gid(1, 2)}))

	found := trie.Unsubscribe("home/temperature", gid(1, 1))
	assert.True(t, found)

	subs := trie.Match("home/temperature")
	require.Len(t, subs, 1)
	assert.Equal(t, gid(1, 2), subs[0].Gid)

	found = trie.Unsubscribe("home/temperature", gid(1, 99))
	assert.False(t, found)
}

func TestTrie_Clear(t *testing.T) {
	trie := NewTrie()
	require.NoError(t, trie.Subscribe("home/temperature", SubscriberInfo{Gid: gid(1, 1)}))
	require.NoError(t, trie.Subscribe("home/+/humidity", SubscriberInfo{Gid: gid(1, 2)}))

	assert.Equal(t, 2, trie.Count())

	trie.Clear()
	assert.Equal(t, 0, trie.Count())
	assert.Empty(t, trie.Match("home/temperature"))
}

func TestTrie_Count(t *testing.T) {
	trie := NewTrie()
	assert.Equal(t, 0, trie.Count())

	require.NoError(t, trie.Subscribe("a/b", SubscriberInfo{Gid: gid(1, 1)}))
	require.NoError(t, trie.Subscribe("a/c", SubscriberInfo{Gid: gid(1, 1)}))
	assert.Equal(t, 2, trie.Count())
}
