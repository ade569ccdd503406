package codec

import "io"

// PropertyID identifies an MQTT 5.0 property.
type PropertyID byte

const (
	PropPayloadFormatIndicator          PropertyID = 0x01
	PropMessageExpiryInterval           PropertyID = 0x02
	PropContentType                     PropertyID = 0x03
	PropResponseTopic                   PropertyID = 0x08
	PropCorrelationData                 PropertyID = 0x09
	PropSubscriptionIdentifier          PropertyID = 0x0B
	PropSessionExpiryInterval           PropertyID = 0x11
	PropAssignedClientIdentifier        PropertyID = 0x12
	PropServerKeepAlive                 PropertyID = 0x13
	PropAuthenticationMethod            PropertyID = 0x15
	PropAuthenticationData              PropertyID = 0x16
	PropRequestProblemInformation       PropertyID = 0x17
	PropWillDelayInterval                PropertyID = 0x18
	PropRequestResponseInformation      PropertyID = 0x19
	PropResponseInformation             PropertyID = 0x1A
	PropServerReference                 PropertyID = 0x1C
	PropReasonString                    PropertyID = 0x1F
	PropReceiveMaximum                  PropertyID = 0x21
	PropTopicAliasMaximum               PropertyID = 0x22
	PropTopicAlias                      PropertyID = 0x23
	PropMaximumQoS                      PropertyID = 0x24
	PropRetainAvailable                 PropertyID = 0x25
	PropUserProperty                    PropertyID = 0x26
	PropMaximumPacketSize               PropertyID = 0x27
	PropWildcardSubscriptionAvailable   PropertyID = 0x28
	PropSubscriptionIdentifierAvailable PropertyID = 0x29
	PropSharedSubscriptionAvailable     PropertyID = 0x2A
)

type propertyValueType byte

const (
	valByte propertyValueType = iota + 1
	valTwoByteInt
	valFourByteInt
	valVarInt
	valUTF8String
	valUTF8Pair
	valBinaryData
)

type propertySpec struct {
	kind     propertyValueType
	multiple bool
}

var propertySpecs = map[PropertyID]propertySpec{
	PropPayloadFormatIndicator:          {valByte, false},
	PropMessageExpiryInterval:           {valFourByteInt, false},
	PropContentType:                     {valUTF8String, false},
	PropResponseTopic:                   {valUTF8String, false},
	PropCorrelationData:                 {valBinaryData, false},
	PropSubscriptionIdentifier:          {valVarInt, true},
	PropSessionExpiryInterval:           {valFourByteInt, false},
	PropAssignedClientIdentifier:        {valUTF8String, false},
	PropServerKeepAlive:                 {valTwoByteInt, false},
	PropAuthenticationMethod:            {valUTF8String, false},
	PropAuthenticationData:              {valBinaryData, false},
	PropRequestProblemInformation:       {valByte, false},
	PropWillDelayInterval:               {valFourByteInt, false},
	PropRequestResponseInformation:      {valByte, false},
	PropResponseInformation:             {valUTF8String, false},
	PropServerReference:                 {valUTF8String, false},
	PropReasonString:                    {valUTF8String, false},
	PropReceiveMaximum:                  {valTwoByteInt, false},
	PropTopicAliasMaximum:               {valTwoByteInt, false},
	PropTopicAlias:                      {valTwoByteInt, false},
	PropMaximumQoS:                      {valByte, false},
	PropRetainAvailable:                 {valByte, false},
	PropUserProperty:                    {valUTF8Pair, true},
	PropMaximumPacketSize:               {valFourByteInt, false},
	PropWildcardSubscriptionAvailable:   {valByte, false},
	PropSubscriptionIdentifierAvailable: {valByte, false},
	PropSharedSubscriptionAvailable:     {valByte, false},
}

// packetPropertyWhitelist restricts which properties each packet kind may
// carry, per the MQTT 5.0 property tables (sections 3.1.2.11, 3.2.2.3, ...).
// A property ID absent from a packet's entry is an ErrInvalidPropertyType.
var packetPropertyWhitelist = map[PacketType]map[PropertyID]bool{
	CONNECT: set(PropSessionExpiryInterval, PropAuthenticationMethod, PropAuthenticationData,
		PropRequestProblemInformation, PropRequestResponseInformation, PropReceiveMaximum,
		PropTopicAliasMaximum, PropUserProperty, PropMaximumPacketSize),
	CONNACK: set(PropSessionExpiryInterval, PropAssignedClientIdentifier, PropServerKeepAlive,
		PropAuthenticationMethod, PropAuthenticationData, PropResponseInformation,
		PropServerReference, PropReasonString, PropReceiveMaximum, PropTopicAliasMaximum,
		PropMaximumQoS, PropRetainAvailable, PropUserProperty, PropMaximumPacketSize,
		PropWildcardSubscriptionAvailable, PropSubscriptionIdentifierAvailable,
		PropSharedSubscriptionAvailable),
	PUBLISH: set(PropPayloadFormatIndicator, PropMessageExpiryInterval, PropContentType,
		PropResponseTopic, PropCorrelationData, PropSubscriptionIdentifier, PropTopicAlias,
		PropUserProperty),
	PUBACK:      set(PropReasonString, PropUserProperty),
	PUBREC:      set(PropReasonString, PropUserProperty),
	PUBREL:      set(PropReasonString, PropUserProperty),
	PUBCOMP:     set(PropReasonString, PropUserProperty),
	SUBSCRIBE:   set(PropSubscriptionIdentifier, PropUserProperty),
	SUBACK:      set(PropReasonString, PropUserProperty),
	UNSUBSCRIBE: set(PropUserProperty),
	UNSUBACK:    set(PropReasonString, PropUserProperty),
	DISCONNECT: set(PropSessionExpiryInterval, PropServerReference, PropReasonString,
		PropUserProperty),
	AUTH: set(PropAuthenticationMethod, PropAuthenticationData, PropReasonString, PropUserProperty),
}

// willPropertyWhitelist restricts the Will Properties block nested inside
// CONNECT (section 3.1.3.2).
var willPropertyWhitelist = set(PropPayloadFormatIndicator, PropMessageExpiryInterval,
	PropContentType, PropResponseTopic, PropCorrelationData, PropWillDelayInterval,
	PropUserProperty)

func set(ids ...PropertyID) map[PropertyID]bool {
	m := make(map[PropertyID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Property is a single decoded MQTT 5.0 property. Value holds a byte,
// uint16, uint32, string, UTF8Pair, or []byte depending on the property's
// type.
type Property struct {
	ID    PropertyID
	Value interface{}
}

// Properties is an ordered collection of MQTT 5.0 properties attached to a
// packet or to a CONNECT Will.
type Properties struct {
	List []Property
}

// Get returns the first property with the given ID.
func (p *Properties) Get(id PropertyID) (Property, bool) {
	if p == nil {
		return Property{}, false
	}
	for _, prop := range p.List {
		if prop.ID == id {
			return prop, true
		}
	}
	return Property{}, false
}

// Add appends a property, enforcing the single-valued constraint for
// properties that MUST NOT repeat.
func (p *Properties) Add(id PropertyID, value interface{}) error {
	spec, ok := propertySpecs[id]
	if !ok {
		return ErrInvalidPropertyID
	}
	if !spec.multiple {
		if _, exists := p.Get(id); exists {
			return ErrDuplicateProperty
		}
	}
	p.List = append(p.List, Property{ID: id, Value: value})
	return nil
}

func (p *Properties) empty() bool { return p == nil || len(p.List) == 0 }

func (p *Properties) encodedLength() uint32 {
	if p.empty() {
		return 0
	}
	var n uint32
	for _, prop := range p.List {
		n++ // property ID byte
		switch propertySpecs[prop.ID].kind {
		case valByte:
			n++
		case valTwoByteInt:
			n += 2
		case valFourByteInt:
			n += 4
		case valVarInt:
			n += uint32(sizeVarInt(prop.Value.(uint32)))
		case valUTF8String:
			n += uint32(sizeUTF8String(prop.Value.(string)))
		case valUTF8Pair:
			n += uint32(sizeUTF8Pair(prop.Value.(UTF8Pair)))
		case valBinaryData:
			n += uint32(sizeBinaryData(prop.Value.([]byte)))
		}
	}
	return n
}

// encodedSize is the length-prefix plus payload, i.e. what a caller adds to
// its own remaining-length tally.
func (p *Properties) encodedSize() int {
	n := p.encodedLength()
	return sizeVarInt(n) + int(n)
}

// encode writes the property-length prefix followed by each property.
func (p *Properties) encode(w io.Writer) error {
	length := p.encodedLength()
	lenBytes, err := encodeVarInt(length)
	if err != nil {
		return err
	}
	if _, err := w.Write(lenBytes); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	for _, prop := range p.List {
		if err := encodeProperty(w, prop); err != nil {
			return err
		}
	}
	return nil
}

func encodeProperty(w io.Writer, prop Property) error {
	if err := writeByte(w, byte(prop.ID)); err != nil {
		return err
	}
	switch propertySpecs[prop.ID].kind {
	case valByte:
		return writeByte(w, prop.Value.(byte))
	case valTwoByteInt:
		return writeTwoByteInt(w, prop.Value.(uint16))
	case valFourByteInt:
		return writeFourByteInt(w, prop.Value.(uint32))
	case valVarInt:
		b, err := encodeVarInt(prop.Value.(uint32))
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case valUTF8String:
		return writeUTF8String(w, prop.Value.(string))
	case valUTF8Pair:
		return writeUTF8Pair(w, prop.Value.(UTF8Pair))
	case valBinaryData:
		return writeBinaryData(w, prop.Value.([]byte))
	default:
		return ErrInvalidPropertyType
	}
}

// parseProperties reads a property-length-prefixed block and validates
// every member against whitelist, the permitted packet kind for this
// decode.
func parseProperties(r io.Reader, whitelist map[PropertyID]bool) (*Properties, error) {
	length, err := decodeVarInt(r)
	if err != nil {
		return nil, err
	}
	props := &Properties{}
	if length == 0 {
		return props, nil
	}

	lr := &io.LimitedReader{R: r, N: int64(length)}
	for lr.N > 0 {
		idByte, err := readByte(lr)
		if err != nil {
			return nil, err
		}
		id := PropertyID(idByte)
		spec, ok := propertySpecs[id]
		if !ok {
			return nil, ErrInvalidPropertyID
		}
		if whitelist != nil && !whitelist[id] {
			return nil, ErrInvalidPropertyType
		}

		var value interface{}
		switch spec.kind {
		case valByte:
			value, err = readByte(lr)
		case valTwoByteInt:
			value, err = readTwoByteInt(lr)
		case valFourByteInt:
			value, err = readFourByteInt(lr)
		case valVarInt:
			value, err = decodeVarInt(lr)
		case valUTF8String:
			value, err = readUTF8String(lr)
		case valUTF8Pair:
			value, err = readUTF8Pair(lr)
		case valBinaryData:
			value, err = readBinaryData(lr)
		}
		if err != nil {
			return nil, err
		}
		if err := props.Add(id, value); err != nil {
			return nil, err
		}
	}

	return props, nil
}
