package dispatcher

import (
	"testing"

	"github.com/nimbusmq/broker/codec"
	"github.com/nimbusmq/broker/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_SubscribeAndMatch(t *testing.T) {
	r := NewRouter()
	sub := &session.Subscription{TopicFilter: "home/+/temperature", QoS: codec.QoS1}

	require.NoError(t, r.Subscribe(gid(1, 1), sub))

	subs := r.Match("home/kitchen/temperature")
	require.Len(t, subs, 1)
	assert.Equal(t, codec.QoS1, subs[0].QoS)

	stored, ok := r.GetSubscription(gid(1, 1), "home/+/temperature")
	require.True(t, ok)
	assert.Equal(t, sub, stored)
}

func TestRouter_SubscribeRejectsBadFilter(t *testing.T) {
	r := NewRouter()
	err := r.Subscribe(gid(1, 1), &session.Subscription{TopicFilter: "a/#/b"})
	require.Error(t, err)
}

func TestRouter_MatchForPublish_NoLocal(t *testing.T) {
	r := NewRouter()
	publisher := gid(1, 1)
	other := gid(1, 2)

	require.NoError(t, r.Subscribe(publisher, &session.Subscription{TopicFilter: "a/b", NoLocal: true}))
	require.NoError(t, r.Subscribe(other, &session.Subscription{TopicFilter: "a/b"}))

	subs := r.MatchForPublish("a/b", publisher)
	require.Len(t, subs, 1)
	assert.Equal(t, other, subs[0].Gid)
}

func TestRouter_Unsubscribe(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Subscribe(gid(1, 1), &session.Subscription{TopicFilter: "a/b"}))

	found := r.Unsubscribe(gid(1, 1), "a/b")
	assert.True(t, found)
	assert.Empty(t, r.Match("a/b"))

	_, ok := r.GetSubscription(gid(1, 1), "a/b")
	assert.False(t, ok)
}

func TestRouter_UnsubscribeAll(t *testing.T) {
	r := NewRouter()
	g := gid(1, 1)
	require.NoError(t, r.Subscribe(g, &session.Subscription{TopicFilter: "a/b"}))
	require.NoError(t, r.Subscribe(g, &session.Subscription{TopicFilter: "c/d"}))
	require.NoError(t, r.Subscribe(gid(1, 2), &session.Subscription{TopicFilter: "a/b"}))

	removed := r.UnsubscribeAll(g)
	assert.Equal(t, 2, removed)
	assert.Empty(t, r.GetSessionSubscriptions(g))

	subs := r.Match("a/b")
	require.Len(t, subs, 1)
	assert.Equal(t, gid(1, 2), subs[0].Gid)
}

func TestRouter_CountSessions(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Subscribe(gid(1, 1), &session.Subscription{TopicFilter: "a/b"}))
	require.NoError(t, r.Subscribe(gid(1, 1), &session.Subscription{TopicFilter: "c/d"}))
	require.NoError(t, r.Subscribe(gid(1, 2), &session.Subscription{TopicFilter: "a/b"}))

	assert.Equal(t, 2, r.CountSessions())
	assert.Equal(t, 3, r.Count())
}

func TestRouter_Clear(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Subscribe(gid(1, 1), &session.Subscription{TopicFilter: "a/b"}))

	r.Clear()
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.CountSessions())
}
