package codec

import (
	"bytes"
	"io"
)

// Decode reads one complete control packet from r. level is the protocol
// dialect negotiated at CONNECT time; it is ignored when the next packet on
// the wire is itself a CONNECT, since that packet carries its own dialect.
func Decode(r io.Reader, level ProtocolLevel) (Packet, error) {
	fh, err := ParseFixedHeader(r)
	if err != nil {
		return nil, err
	}
	if fh.RemainingLength > MaxVariableByteInteger {
		return nil, ErrInvalidRemainingLength
	}

	body := make([]byte, fh.RemainingLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, ErrUnexpectedEOF
	}
	br := bytes.NewReader(body)

	switch fh.Type {
	case CONNECT:
		return decodeConnect(br)
	case CONNACK:
		return decodeConnack(br, level)
	case PUBLISH:
		return decodePublish(br, fh, level, int(fh.RemainingLength))
	case PUBACK, PUBREC, PUBREL, PUBCOMP:
		return decodeAck(br, fh.Type, level, int(fh.RemainingLength))
	case SUBSCRIBE:
		return decodeSubscribe(br, level)
	case SUBACK:
		return decodeSuback(br, level, int(fh.RemainingLength))
	case UNSUBSCRIBE:
		return decodeUnsubscribe(br, level)
	case UNSUBACK:
		return decodeUnsuback(br, level, int(fh.RemainingLength))
	case PINGREQ:
		if fh.RemainingLength != 0 {
			return nil, newMalformedPacketError(ErrMalformedPacket, "PINGREQ must have no payload")
		}
		return &Pingreq{ProtocolLevel: level}, nil
	case PINGRESP:
		if fh.RemainingLength != 0 {
			return nil, newMalformedPacketError(ErrMalformedPacket, "PINGRESP must have no payload")
		}
		return &Pingresp{ProtocolLevel: level}, nil
	case DISCONNECT:
		return decodeDisconnect(br, level, int(fh.RemainingLength))
	case AUTH:
		if level != V5 {
			return nil, newProtocolError(ErrInvalidType, "AUTH requires MQTT 5.0")
		}
		return decodeAuth(br, int(fh.RemainingLength))
	default:
		return nil, ErrInvalidType
	}
}

func decodeConnect(r *bytes.Reader) (*Connect, error) {
	protocolName, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}

	versionByte, err := readByte(r)
	if err != nil {
		return nil, err
	}

	var level ProtocolLevel
	switch versionByte {
	case 3:
		level = V3
		if protocolName != "MQIsdp" {
			return nil, newProtocolError(ErrInvalidProtocolName, "expected MQIsdp for protocol level 3")
		}
	case 4:
		level = V4
		if protocolName != "MQTT" {
			return nil, newProtocolError(ErrInvalidProtocolName, "expected MQTT for protocol level 4")
		}
	case 5:
		level = V5
		if protocolName != "MQTT" {
			return nil, newProtocolError(ErrInvalidProtocolName, "expected MQTT for protocol level 5")
		}
	default:
		return nil, &ProtocolError{Err: ErrInvalidProtocolVersion, ReasonCode: ReasonUnsupportedProtocolVersion}
	}

	flagsByte, err := readByte(r)
	if err != nil {
		return nil, err
	}

	c := &Connect{
		ProtocolLevel: level,
		ProtocolName:  protocolName,
		CleanStart:    flagsByte&0x02 != 0,
		WillFlag:      flagsByte&0x04 != 0,
		WillQoS:       QoS((flagsByte & 0x18) >> 3),
		WillRetain:    flagsByte&0x20 != 0,
		PasswordFlag:  flagsByte&0x40 != 0,
		UsernameFlag:  flagsByte&0x80 != 0,
	}
	if err := validateConnectFlags(flagsByte&0x01 != 0, c.WillFlag, c.WillRetain, c.WillQoS, c.UsernameFlag, c.PasswordFlag); err != nil {
		return nil, newMalformedPacketError(err, "")
	}

	keepAlive, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	c.KeepAlive = keepAlive

	if level == V5 {
		props, err := parseProperties(r, packetPropertyWhitelist[CONNECT])
		if err != nil {
			return nil, err
		}
		c.Properties = props
	}

	clientID, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	c.ClientID = clientID

	if c.WillFlag {
		if level == V5 {
			willProps, err := parseProperties(r, willPropertyWhitelist)
			if err != nil {
				return nil, err
			}
			c.WillProperties = willProps
		}
		willTopic, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		willPayload, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		c.WillTopic = willTopic
		c.WillPayload = willPayload
	}

	if c.UsernameFlag {
		username, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		c.Username = username
	}
	if c.PasswordFlag {
		password, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		c.Password = password
	}

	return c, nil
}

func decodeConnack(r *bytes.Reader, level ProtocolLevel) (*Connack, error) {
	ackFlags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if ackFlags&0xFE != 0 {
		return nil, newMalformedPacketError(ErrMalformedPacket, "CONNACK reserved bits must be 0")
	}

	code, err := readByte(r)
	if err != nil {
		return nil, err
	}
	rc := ReasonCode(code)
	if level != V5 {
		// Map the v3.1.1 return code up to its v5 equivalent, the inverse of
		// downgradeConnackCode.
		upgraded := [...]ReasonCode{ReasonSuccess, ReasonUnsupportedProtocolVersion, ReasonClientIdentifierNotValid,
			ReasonServerUnavailable, ReasonBadUserNameOrPassword, ReasonNotAuthorized}
		if int(rc) < len(upgraded) {
			rc = upgraded[rc]
		}
	}

	ca := &Connack{ProtocolLevel: level, SessionPresent: ackFlags&0x01 != 0, ReasonCode: rc}

	if level == V5 {
		if err := ValidateReasonCode(CONNACK, rc); err != nil {
			return nil, err
		}
		if r.Len() > 0 {
			props, err := parseProperties(r, packetPropertyWhitelist[CONNACK])
			if err != nil {
				return nil, err
			}
			ca.Properties = props
		}
	}

	return ca, nil
}

func decodePublish(r *bytes.Reader, fh *FixedHeader, level ProtocolLevel, remaining int) (*Publish, error) {
	topic, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	if err := ValidateTopicName(topic); err != nil {
		return nil, newMalformedPacketError(err, "")
	}

	p := &Publish{
		ProtocolLevel: level,
		DUP:           fh.DUP,
		QoS:           fh.QoS,
		Retain:        fh.Retain,
		TopicName:     topic,
	}

	if fh.QoS > QoS0 {
		packetID, err := readTwoByteInt(r)
		if err != nil {
			return nil, err
		}
		if err := ValidatePacketID(packetID); err != nil {
			return nil, newMalformedPacketError(err, "")
		}
		p.PacketID = packetID
	}

	if level == V5 {
		props, err := parseProperties(r, packetPropertyWhitelist[PUBLISH])
		if err != nil {
			return nil, err
		}
		p.Properties = props
	}

	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, ErrUnexpectedEOF
	}
	p.Payload = payload

	return p, nil
}

func decodeAck(r *bytes.Reader, kind PacketType, level ProtocolLevel, remaining int) (*Ack, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	if err := ValidatePacketID(packetID); err != nil {
		return nil, newMalformedPacketError(err, "")
	}

	a := &Ack{Kind: kind, ProtocolLevel: level, PacketID: packetID, ReasonCode: ReasonSuccess}

	if level == V5 && remaining > 2 {
		code, err := readByte(r)
		if err != nil {
			return nil, err
		}
		rc := ReasonCode(code)
		if err := ValidateReasonCode(kind, rc); err != nil {
			return nil, err
		}
		a.ReasonCode = rc

		if remaining > 3 {
			props, err := parseProperties(r, packetPropertyWhitelist[kind])
			if err != nil {
				return nil, err
			}
			a.Properties = props
		}
	}

	return a, nil
}

func decodeSubscribe(r *bytes.Reader, level ProtocolLevel) (*Subscribe, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	if err := ValidatePacketID(packetID); err != nil {
		return nil, newMalformedPacketError(err, "")
	}

	s := &Subscribe{ProtocolLevel: level, PacketID: packetID}

	var subID uint32
	if level == V5 {
		props, err := parseProperties(r, packetPropertyWhitelist[SUBSCRIBE])
		if err != nil {
			return nil, err
		}
		s.Properties = props
		if prop, ok := props.Get(PropSubscriptionIdentifier); ok {
			subID = prop.Value.(uint32)
		}
	}

	for r.Len() > 0 {
		filter, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		if err := ValidateTopicFilter(filter); err != nil {
			return nil, newMalformedPacketError(err, "")
		}

		optByte, err := readByte(r)
		if err != nil {
			return nil, err
		}

		req := SubscriptionRequest{
			TopicFilter:            filter,
			QoS:                    QoS(optByte & 0x03),
			SubscriptionIdentifier: subID,
		}
		if !req.QoS.IsValid() {
			return nil, newMalformedPacketError(ErrInvalidQoS, "")
		}
		if level == V5 {
			if optByte&0xC0 != 0 {
				return nil, newMalformedPacketError(ErrInvalidSubscriptionOpts, "reserved bits must be 0")
			}
			req.NoLocal = optByte&0x04 != 0
			req.RetainAsPublished = optByte&0x08 != 0
			req.RetainHandling = (optByte & 0x30) >> 4
			if req.RetainHandling > 2 {
				return nil, newMalformedPacketError(ErrInvalidSubscriptionOpts, "retain handling must be 0-2")
			}
		}

		s.Subscriptions = append(s.Subscriptions, req)
	}

	if len(s.Subscriptions) == 0 {
		return nil, newProtocolError(ErrEmptySubscriptionList, "")
	}

	return s, nil
}

func decodeSuback(r *bytes.Reader, level ProtocolLevel, remaining int) (*Suback, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}

	sa := &Suback{ProtocolLevel: level, PacketID: packetID}

	if level == V5 {
		props, err := parseProperties(r, packetPropertyWhitelist[SUBACK])
		if err != nil {
			return nil, err
		}
		sa.Properties = props
	}

	for r.Len() > 0 {
		code, err := readByte(r)
		if err != nil {
			return nil, err
		}
		rc := ReasonCode(code)
		if level == V5 {
			if err := ValidateReasonCode(SUBACK, rc); err != nil {
				return nil, err
			}
		} else if rc != ReasonGrantedQoS0 && rc != ReasonGrantedQoS1 && rc != ReasonGrantedQoS2 && rc != ReasonUnspecifiedError {
			return nil, newMalformedPacketError(ErrInvalidReasonCode, "")
		}
		sa.ReasonCodes = append(sa.ReasonCodes, rc)
	}

	return sa, nil
}

func decodeUnsubscribe(r *bytes.Reader, level ProtocolLevel) (*Unsubscribe, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	if err := ValidatePacketID(packetID); err != nil {
		return nil, newMalformedPacketError(err, "")
	}

	u := &Unsubscribe{ProtocolLevel: level, PacketID: packetID}

	if level == V5 {
		props, err := parseProperties(r, packetPropertyWhitelist[UNSUBSCRIBE])
		if err != nil {
			return nil, err
		}
		u.Properties = props
	}

	for r.Len() > 0 {
		filter, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		if err := ValidateTopicFilter(filter); err != nil {
			return nil, newMalformedPacketError(err, "")
		}
		u.TopicFilters = append(u.TopicFilters, filter)
	}

	if len(u.TopicFilters) == 0 {
		return nil, newProtocolError(ErrEmptyUnsubscribeList, "")
	}

	return u, nil
}

func decodeUnsuback(r *bytes.Reader, level ProtocolLevel, remaining int) (*Unsuback, error) {
	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}

	ua := &Unsuback{ProtocolLevel: level, PacketID: packetID}

	if level != V5 {
		return ua, nil
	}

	props, err := parseProperties(r, packetPropertyWhitelist[UNSUBACK])
	if err != nil {
		return nil, err
	}
	ua.Properties = props

	for r.Len() > 0 {
		code, err := readByte(r)
		if err != nil {
			return nil, err
		}
		rc := ReasonCode(code)
		if err := ValidateReasonCode(UNSUBACK, rc); err != nil {
			return nil, err
		}
		ua.ReasonCodes = append(ua.ReasonCodes, rc)
	}

	return ua, nil
}

func decodeDisconnect(r *bytes.Reader, level ProtocolLevel, remaining int) (*Disconnect, error) {
	d := &Disconnect{ProtocolLevel: level, ReasonCode: ReasonNormalDisconnection}
	if level != V5 || remaining == 0 {
		return d, nil
	}

	code, err := readByte(r)
	if err != nil {
		return nil, err
	}
	rc := ReasonCode(code)
	if err := ValidateReasonCode(DISCONNECT, rc); err != nil {
		return nil, err
	}
	d.ReasonCode = rc

	if remaining > 1 {
		props, err := parseProperties(r, packetPropertyWhitelist[DISCONNECT])
		if err != nil {
			return nil, err
		}
		d.Properties = props
	}

	return d, nil
}

func decodeAuth(r *bytes.Reader, remaining int) (*Auth, error) {
	a := &Auth{ReasonCode: ReasonSuccess}
	if remaining == 0 {
		return a, nil
	}

	code, err := readByte(r)
	if err != nil {
		return nil, err
	}
	rc := ReasonCode(code)
	if err := ValidateReasonCode(AUTH, rc); err != nil {
		return nil, err
	}
	a.ReasonCode = rc

	if remaining > 1 {
		props, err := parseProperties(r, packetPropertyWhitelist[AUTH])
		if err != nil {
			return nil, err
		}
		a.Properties = props
	}

	return a, nil
}
