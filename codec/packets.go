package codec

// Packet is implemented by every decoded control packet. Type reports the
// fixed-header packet kind so dispatch code can type-switch without a
// reflection lookup.
type Packet interface {
	Type() PacketType
}

// Connect is the CONNECT packet, unified across 3.1.1 and 5.0. Properties
// and WillProperties are always nil when ProtocolLevel is V4.
type Connect struct {
	ProtocolLevel  ProtocolLevel
	ProtocolName   string
	CleanStart     bool
	WillFlag       bool
	WillQoS        QoS
	WillRetain     bool
	UsernameFlag   bool
	PasswordFlag   bool
	KeepAlive      uint16
	Properties     *Properties
	ClientID       string
	WillProperties *Properties
	WillTopic      string
	WillPayload    []byte
	Username       string
	Password       []byte
}

func (*Connect) Type() PacketType { return CONNECT }

// Connack is the CONNECT acknowledgement. ReasonCode always holds a v5
// reason code; for V3/V4 sessions encoding maps it down to the v3.1.1
// return code and decoding maps the return code back up.
type Connack struct {
	ProtocolLevel  ProtocolLevel
	SessionPresent bool
	ReasonCode     ReasonCode
	Properties     *Properties
}

func (*Connack) Type() PacketType { return CONNACK }

// Publish carries application data toward or away from the broker.
type Publish struct {
	ProtocolLevel ProtocolLevel
	DUP           bool
	QoS           QoS
	Retain        bool
	TopicName     string
	PacketID      uint16 // only meaningful for QoS 1/2
	Properties    *Properties
	Payload       []byte
}

func (*Publish) Type() PacketType { return PUBLISH }

// Ack is the shared shape of PUBACK, PUBREC, PUBREL and PUBCOMP. Kind
// distinguishes which of the four this instance represents.
type Ack struct {
	Kind          PacketType
	ProtocolLevel ProtocolLevel
	PacketID      uint16
	ReasonCode    ReasonCode
	Properties    *Properties
}

func (a *Ack) Type() PacketType { return a.Kind }

// SubscriptionRequest is one filter within a SUBSCRIBE packet.
type SubscriptionRequest struct {
	TopicFilter            string
	QoS                    QoS
	NoLocal                bool // v5 only, ignored for v3/v4
	RetainAsPublished      bool // v5 only
	RetainHandling         byte // v5 only, 0-2
	SubscriptionIdentifier uint32
}

// Subscribe requests one or more topic subscriptions.
type Subscribe struct {
	ProtocolLevel ProtocolLevel
	PacketID      uint16
	Properties    *Properties
	Subscriptions []SubscriptionRequest
}

func (*Subscribe) Type() PacketType { return SUBSCRIBE }

// Suback acknowledges a SUBSCRIBE with one reason/return code per filter,
// in request order.
type Suback struct {
	ProtocolLevel ProtocolLevel
	PacketID      uint16
	Properties    *Properties
	ReasonCodes   []ReasonCode
}

func (*Suback) Type() PacketType { return SUBACK }

// Unsubscribe removes one or more topic subscriptions.
type Unsubscribe struct {
	ProtocolLevel ProtocolLevel
	PacketID      uint16
	Properties    *Properties
	TopicFilters  []string
}

func (*Unsubscribe) Type() PacketType { return UNSUBSCRIBE }

// Unsuback acknowledges an UNSUBSCRIBE. ReasonCodes is empty for v3/v4,
// which carries no body beyond the packet identifier.
type Unsuback struct {
	ProtocolLevel ProtocolLevel
	PacketID      uint16
	Properties    *Properties
	ReasonCodes   []ReasonCode
}

func (*Unsuback) Type() PacketType { return UNSUBACK }

// Pingreq is the empty keep-alive ping.
type Pingreq struct{ ProtocolLevel ProtocolLevel }

func (*Pingreq) Type() PacketType { return PINGREQ }

// Pingresp is the empty keep-alive pong.
type Pingresp struct{ ProtocolLevel ProtocolLevel }

func (*Pingresp) Type() PacketType { return PINGRESP }

// Disconnect ends the network connection. For v3/v4 it carries neither a
// reason code nor properties.
type Disconnect struct {
	ProtocolLevel ProtocolLevel
	ReasonCode    ReasonCode
	Properties    *Properties
}

func (*Disconnect) Type() PacketType { return DISCONNECT }

// Auth continues an extended (SASL-style) authentication exchange. It is a
// v5.0-only packet kind.
type Auth struct {
	ReasonCode ReasonCode
	Properties *Properties
}

func (*Auth) Type() PacketType { return AUTH }
