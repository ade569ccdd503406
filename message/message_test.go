package message

import (
	"testing"
	"time"

	"github.com/nimbusmq/broker/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageCarriesExpiry(t *testing.T) {
	props := &codec.Properties{}
	require.NoError(t, props.Add(codec.PropMessageExpiryInterval, uint32(60)))

	p := &codec.Publish{
		ProtocolLevel: codec.V5,
		QoS:           codec.QoS1,
		TopicName:     "test/topic",
		Payload:       []byte("hello"),
		Properties:    props,
	}

	m := New(p, "pub-1")
	assert.Equal(t, "test/topic", m.Topic)
	assert.True(t, m.ExpirySet)
	assert.Equal(t, uint32(60), m.MessageExpiry)
	assert.False(t, m.IsExpired())
}

func TestNewMessageWithoutExpiryNeverExpires(t *testing.T) {
	p := &codec.Publish{ProtocolLevel: codec.V4, QoS: codec.QoS0, TopicName: "a/b", Payload: []byte("x")}
	m := New(p, "pub-1")
	assert.False(t, m.ExpirySet)
	assert.False(t, m.IsExpired())
}

func TestMessageIsExpiredAfterInterval(t *testing.T) {
	m := &Message{ExpirySet: true, MessageExpiry: 1, CreatedAt: time.Now().Add(-2 * time.Second)}
	assert.True(t, m.IsExpired())
	assert.Equal(t, uint32(0), m.RemainingExpiry())
}

func TestMarkAttemptSetsDupAfterFirstSend(t *testing.T) {
	m := &Message{}
	m.MarkAttempt()
	assert.False(t, m.DUP)
	assert.Equal(t, 1, m.AttemptCount)

	m.MarkAttempt()
	assert.True(t, m.DUP)
	assert.Equal(t, 2, m.AttemptCount)
}

func TestCloneForSubscriberIsIndependent(t *testing.T) {
	original := &Message{Topic: "a/b", QoS: codec.QoS2, Payload: []byte("x")}
	original.MarkAttempt()

	clone := original.CloneForSubscriber(42, codec.QoS1, 7)
	assert.Equal(t, uint16(42), clone.PacketID)
	assert.Equal(t, codec.QoS1, clone.QoS)
	assert.False(t, clone.DUP)
	assert.Equal(t, []uint32{7}, clone.SubscriptionIdentifiers)

	// mutating the clone's delivery state must not leak back
	clone.MarkAttempt()
	clone.MarkAttempt()
	assert.True(t, clone.DUP)
	assert.False(t, original.DUP)
	assert.NotEqual(t, clone.AttemptCount, original.AttemptCount)
}

func TestToPublishOmitsPropertiesForV311(t *testing.T) {
	m := &Message{Topic: "a/b", QoS: codec.QoS0, Payload: []byte("x")}
	p := m.ToPublish(codec.V4)
	assert.Nil(t, p.Properties)
}

func TestToPublishAttachesSubscriptionIdentifierForV5(t *testing.T) {
	m := &Message{Topic: "a/b", QoS: codec.QoS1, PacketID: 3, SubscriptionIdentifiers: []uint32{9}}
	p := m.ToPublish(codec.V5)
	require.NotNil(t, p.Properties)
	prop, ok := p.Properties.Get(codec.PropSubscriptionIdentifier)
	require.True(t, ok)
	assert.Equal(t, uint32(9), prop.Value)
}
