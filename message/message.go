// Package message defines the broker's internal representation of an
// application message as it moves from an inbound PUBLISH through the
// dispatcher to every matching subscriber, independent of the protocol
// dialect any particular subscriber connected with.
package message

import (
	"time"

	"github.com/nimbusmq/broker/codec"
)

// Message is a unit of application data flowing through the broker. It is
// built once from a decoded PUBLISH and then cloned per-subscriber so each
// delivery can carry its own packet identifier, QoS downgrade and DUP flag
// without mutating the shared original.
type Message struct {
	Topic   string
	Payload []byte
	QoS     codec.QoS
	Retain  bool

	// PublisherClientID is the client ID that produced this message. It
	// is never sent on the wire; "no local" subscriptions are evaluated
	// against the publisher's SessionGid, not this field.
	PublisherClientID string

	// PacketID is assigned per-subscriber at delivery time for QoS 1/2;
	// it is zero on the shared original.
	PacketID uint16
	DUP      bool

	// SubscriptionIdentifiers carries the v5.0 subscription identifier(s)
	// of every subscription that matched, so the recipient's PUBLISH can
	// report them back.
	SubscriptionIdentifiers []uint32

	Properties *codec.Properties

	CreatedAt      time.Time
	MessageExpiry  uint32 // seconds, 0 means "no expiry"
	ExpirySet      bool
	LastAttemptAt  time.Time
	AttemptCount   int
}

// New builds a Message from a decoded PUBLISH packet.
func New(p *codec.Publish, publisherClientID string) *Message {
	m := &Message{
		Topic:             p.TopicName,
		Payload:           p.Payload,
		QoS:               p.QoS,
		Retain:            p.Retain,
		PublisherClientID: publisherClientID,
		Properties:        p.Properties,
		CreatedAt:         time.Now(),
	}

	if prop, ok := p.Properties.Get(codec.PropMessageExpiryInterval); ok {
		m.MessageExpiry = prop.Value.(uint32)
		m.ExpirySet = true
	}

	return m
}

// IsExpired reports whether the message expiry interval property has
// elapsed since CreatedAt. A message with ExpirySet false never expires.
func (m *Message) IsExpired() bool {
	if !m.ExpirySet {
		return false
	}
	return time.Since(m.CreatedAt) >= time.Duration(m.MessageExpiry)*time.Second
}

// RemainingExpiry returns the seconds left before IsExpired becomes true,
// floored at zero. It is used to recompute the Message-Expiry-Interval
// property a retained or queued message reports on redelivery.
func (m *Message) RemainingExpiry() uint32 {
	if !m.ExpirySet {
		return 0
	}
	elapsed := time.Since(m.CreatedAt).Seconds()
	remaining := float64(m.MessageExpiry) - elapsed
	if remaining < 0 {
		return 0
	}
	return uint32(remaining)
}

// MarkAttempt records a (re)delivery attempt, setting DUP once a message
// has already been sent at least once.
func (m *Message) MarkAttempt() {
	if m.AttemptCount > 0 {
		m.DUP = true
	}
	m.AttemptCount++
	m.LastAttemptAt = time.Now()
}

// CloneForSubscriber returns a copy of m suitable for handing to a single
// subscriber's session: the payload is shared (read-only after publish),
// but the per-delivery fields are independent.
func (m *Message) CloneForSubscriber(packetID uint16, qos codec.QoS, subscriptionID uint32) *Message {
	clone := *m
	clone.PacketID = packetID
	clone.QoS = qos
	clone.DUP = false
	clone.AttemptCount = 0
	if subscriptionID != 0 {
		clone.SubscriptionIdentifiers = []uint32{subscriptionID}
	} else {
		clone.SubscriptionIdentifiers = nil
	}
	return &clone
}

// ToPublish renders the message as an outbound PUBLISH packet for the given
// protocol level, attaching subscription identifiers for v5.0 recipients.
func (m *Message) ToPublish(level codec.ProtocolLevel) *codec.Publish {
	p := &codec.Publish{
		ProtocolLevel: level,
		DUP:           m.DUP,
		QoS:           m.QoS,
		Retain:        m.Retain,
		TopicName:     m.Topic,
		PacketID:      m.PacketID,
		Payload:       m.Payload,
	}

	if level != codec.V5 {
		return p
	}

	props := &codec.Properties{}
	if m.ExpirySet {
		_ = props.Add(codec.PropMessageExpiryInterval, m.RemainingExpiry())
	}
	for _, id := range m.SubscriptionIdentifiers {
		_ = props.Add(codec.PropSubscriptionIdentifier, id)
	}
	if m.Properties != nil {
		for _, prop := range m.Properties.List {
			switch prop.ID {
			case codec.PropPayloadFormatIndicator, codec.PropContentType, codec.PropResponseTopic,
				codec.PropCorrelationData, codec.PropUserProperty:
				_ = props.Add(prop.ID, prop.Value)
			}
		}
	}
	p.Properties = props

	return p
}
