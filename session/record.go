package session

import (
	"time"

	"github.com/nimbusmq/broker/codec"
)

// Record is the serializable representation of a Session, used by any
// Store backed by an external database. Session itself is not directly
// (de)serializable: it carries a mutex and unexported counters.
type Record struct {
	Gid               SessionGid                 `json:"gid" cbor:"gid"`
	ClientID          string                      `json:"client_id" cbor:"client_id"`
	CleanStart        bool                        `json:"clean_start" cbor:"clean_start"`
	State             State                       `json:"state" cbor:"state"`
	ExpiryInterval    uint32                      `json:"expiry_interval" cbor:"expiry_interval"`
	CreatedAt         time.Time                   `json:"created_at" cbor:"created_at"`
	LastAccessedAt    time.Time                   `json:"last_accessed_at" cbor:"last_accessed_at"`
	DisconnectedAt    time.Time                   `json:"disconnected_at" cbor:"disconnected_at"`
	WillMessage       *WillMessage                `json:"will_message,omitempty" cbor:"will_message,omitempty"`
	WillDelayInterval uint32                      `json:"will_delay_interval" cbor:"will_delay_interval"`
	Subscriptions     map[string]*Subscription    `json:"subscriptions" cbor:"subscriptions"`
	PendingPublish    map[uint16]*PendingMessage  `json:"pending_publish" cbor:"pending_publish"`
	PendingPubrel     []uint16                    `json:"pending_pubrel" cbor:"pending_pubrel"`
	PendingPubcomp    []uint16                    `json:"pending_pubcomp" cbor:"pending_pubcomp"`
	NextPacketID      uint16                      `json:"next_packet_id" cbor:"next_packet_id"`
	MaxPacketSize     uint32                      `json:"max_packet_size" cbor:"max_packet_size"`
	ReceiveMaximum    uint16                      `json:"receive_maximum" cbor:"receive_maximum"`
	ProtocolLevel     codec.ProtocolLevel         `json:"protocol_level" cbor:"protocol_level"`
}

// ToRecord snapshots a Session into its serializable form.
func (s *Session) ToRecord() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &Record{
		Gid:               s.Gid,
		ClientID:          s.ClientID,
		CleanStart:        s.CleanStart,
		State:             s.State,
		ExpiryInterval:    s.ExpiryInterval,
		CreatedAt:         s.CreatedAt,
		LastAccessedAt:    s.LastAccessedAt,
		DisconnectedAt:    s.DisconnectedAt,
		WillMessage:       s.WillMessage,
		WillDelayInterval: s.WillDelayInterval,
		Subscriptions:     s.Subscriptions,
		PendingPublish:    s.PendingPublish,
		NextPacketID:      s.nextPacketID,
		MaxPacketSize:     s.MaxPacketSize,
		ReceiveMaximum:    s.ReceiveMaximum,
		ProtocolLevel:     s.ProtocolLevel,
	}

	r.PendingPubrel = make([]uint16, 0, len(s.PendingPubrel))
	for id := range s.PendingPubrel {
		r.PendingPubrel = append(r.PendingPubrel, id)
	}
	r.PendingPubcomp = make([]uint16, 0, len(s.PendingPubcomp))
	for id := range s.PendingPubcomp {
		r.PendingPubcomp = append(r.PendingPubcomp, id)
	}

	return r
}

// FromRecord rebuilds a live Session from its serialized form.
func FromRecord(r *Record) *Session {
	s := &Session{
		Gid:               r.Gid,
		ClientID:          r.ClientID,
		CleanStart:        r.CleanStart,
		State:             r.State,
		ExpiryInterval:    r.ExpiryInterval,
		CreatedAt:         r.CreatedAt,
		LastAccessedAt:    r.LastAccessedAt,
		DisconnectedAt:    r.DisconnectedAt,
		WillMessage:       r.WillMessage,
		WillDelayInterval: r.WillDelayInterval,
		Subscriptions:     r.Subscriptions,
		PendingPublish:    r.PendingPublish,
		nextPacketID:      r.NextPacketID,
		MaxPacketSize:     r.MaxPacketSize,
		ReceiveMaximum:    r.ReceiveMaximum,
		ProtocolLevel:     r.ProtocolLevel,
	}

	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]*Subscription)
	}
	if s.PendingPublish == nil {
		s.PendingPublish = make(map[uint16]*PendingMessage)
	}

	s.PendingPubrel = make(map[uint16]struct{}, len(r.PendingPubrel))
	for _, id := range r.PendingPubrel {
		s.PendingPubrel[id] = struct{}{}
	}
	s.PendingPubcomp = make(map[uint16]struct{}, len(r.PendingPubcomp))
	for _, id := range r.PendingPubcomp {
		s.PendingPubcomp[id] = struct{}{}
	}

	return s
}
