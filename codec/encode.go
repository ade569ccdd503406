package codec

import (
	"bytes"
	"io"
)

// Encode writes p to w in the dialect p itself carries (each packet type
// records its own ProtocolLevel, set at construction or by Decode).
func Encode(w io.Writer, p Packet) error {
	switch pkt := p.(type) {
	case *Connect:
		return pkt.encode(w)
	case *Connack:
		return pkt.encode(w)
	case *Publish:
		return pkt.encode(w)
	case *Ack:
		return pkt.encode(w)
	case *Subscribe:
		return pkt.encode(w)
	case *Suback:
		return pkt.encode(w)
	case *Unsubscribe:
		return pkt.encode(w)
	case *Unsuback:
		return pkt.encode(w)
	case *Pingreq:
		return EncodeFixedHeader(w, PINGREQ, 0, 0)
	case *Pingresp:
		return EncodeFixedHeader(w, PINGRESP, 0, 0)
	case *Disconnect:
		return pkt.encode(w)
	case *Auth:
		return pkt.encode(w)
	default:
		return ErrInvalidType
	}
}

func (c *Connect) encode(w io.Writer) error {
	protocolName := c.ProtocolName
	if protocolName == "" {
		if c.ProtocolLevel == V3 {
			protocolName = "MQIsdp"
		} else {
			protocolName = "MQTT"
		}
	}

	varHeaderLen := sizeUTF8String(protocolName) + 1 /*version*/ + 1 /*flags*/ + 2 /*keepalive*/
	var propsBytes []byte
	if c.ProtocolLevel == V5 {
		var buf bytes.Buffer
		if err := c.Properties.encode(&buf); err != nil {
			return err
		}
		propsBytes = buf.Bytes()
		varHeaderLen += len(propsBytes)
	}

	payloadLen := sizeUTF8String(c.ClientID)
	var willPropsBytes []byte
	if c.WillFlag {
		if c.ProtocolLevel == V5 {
			var buf bytes.Buffer
			if err := c.WillProperties.encode(&buf); err != nil {
				return err
			}
			willPropsBytes = buf.Bytes()
			payloadLen += len(willPropsBytes)
		}
		payloadLen += sizeUTF8String(c.WillTopic) + sizeBinaryData(c.WillPayload)
	}
	if c.UsernameFlag {
		payloadLen += sizeUTF8String(c.Username)
	}
	if c.PasswordFlag {
		payloadLen += sizeBinaryData(c.Password)
	}

	if err := EncodeFixedHeader(w, CONNECT, 0, uint32(varHeaderLen+payloadLen)); err != nil {
		return err
	}

	if err := writeUTF8String(w, protocolName); err != nil {
		return err
	}
	if err := writeByte(w, byte(c.ProtocolLevel)); err != nil {
		return err
	}

	var flags byte
	if c.CleanStart {
		flags |= 0x02
	}
	if c.WillFlag {
		flags |= 0x04
		flags |= byte(c.WillQoS) << 3
		if c.WillRetain {
			flags |= 0x20
		}
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.UsernameFlag {
		flags |= 0x80
	}
	if err := writeByte(w, flags); err != nil {
		return err
	}

	if err := writeTwoByteInt(w, c.KeepAlive); err != nil {
		return err
	}

	if c.ProtocolLevel == V5 {
		if _, err := w.Write(propsBytes); err != nil {
			return err
		}
	}

	if err := writeUTF8String(w, c.ClientID); err != nil {
		return err
	}

	if c.WillFlag {
		if c.ProtocolLevel == V5 {
			if _, err := w.Write(willPropsBytes); err != nil {
				return err
			}
		}
		if err := writeUTF8String(w, c.WillTopic); err != nil {
			return err
		}
		if err := writeBinaryData(w, c.WillPayload); err != nil {
			return err
		}
	}

	if c.UsernameFlag {
		if err := writeUTF8String(w, c.Username); err != nil {
			return err
		}
	}
	if c.PasswordFlag {
		if err := writeBinaryData(w, c.Password); err != nil {
			return err
		}
	}

	return nil
}

func (ca *Connack) encode(w io.Writer) error {
	code := ca.ReasonCode
	if ca.ProtocolLevel != V5 {
		code = downgradeConnackCode(code)
	}

	remaining := 2
	var propsBytes []byte
	if ca.ProtocolLevel == V5 {
		var buf bytes.Buffer
		if err := ca.Properties.encode(&buf); err != nil {
			return err
		}
		propsBytes = buf.Bytes()
		remaining += len(propsBytes)
	}

	if err := EncodeFixedHeader(w, CONNACK, 0, uint32(remaining)); err != nil {
		return err
	}

	var ackFlags byte
	if ca.SessionPresent {
		ackFlags = 0x01
	}
	if err := writeByte(w, ackFlags); err != nil {
		return err
	}
	if err := writeByte(w, byte(code)); err != nil {
		return err
	}

	if ca.ProtocolLevel == V5 {
		_, err := w.Write(propsBytes)
		return err
	}
	return nil
}

func (p *Publish) encode(w io.Writer) error {
	remaining := sizeUTF8String(p.TopicName) + len(p.Payload)
	if p.QoS > QoS0 {
		remaining += 2
	}

	var propsBytes []byte
	if p.ProtocolLevel == V5 {
		var buf bytes.Buffer
		if err := p.Properties.encode(&buf); err != nil {
			return err
		}
		propsBytes = buf.Bytes()
		remaining += len(propsBytes)
	}

	flags := publishFlags(p.DUP, p.QoS, p.Retain)
	if err := EncodeFixedHeader(w, PUBLISH, flags, uint32(remaining)); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.TopicName); err != nil {
		return err
	}
	if p.QoS > QoS0 {
		if err := writeTwoByteInt(w, p.PacketID); err != nil {
			return err
		}
	}
	if p.ProtocolLevel == V5 {
		if _, err := w.Write(propsBytes); err != nil {
			return err
		}
	}
	if len(p.Payload) > 0 {
		_, err := w.Write(p.Payload)
		return err
	}
	return nil
}

// encode implements the v5.0 "omit reason code and properties when the
// outcome is Success and there are no properties to report" shorthand
// (sections 3.4.2.1, 3.5.2.1, ...). MQTT 3.1.1 acks never carry a reason
// code or properties at all.
func (a *Ack) encode(w io.Writer) error {
	if a.ProtocolLevel != V5 {
		if err := EncodeFixedHeader(w, a.Kind, ackFlagsFor(a.Kind), 2); err != nil {
			return err
		}
		return writeTwoByteInt(w, a.PacketID)
	}

	if a.ReasonCode == ReasonSuccess && a.Properties.empty() {
		if err := EncodeFixedHeader(w, a.Kind, ackFlagsFor(a.Kind), 2); err != nil {
			return err
		}
		return writeTwoByteInt(w, a.PacketID)
	}

	var propsBytes []byte
	var buf bytes.Buffer
	if err := a.Properties.encode(&buf); err != nil {
		return err
	}
	propsBytes = buf.Bytes()

	remaining := 2 + 1 + len(propsBytes)
	if err := EncodeFixedHeader(w, a.Kind, ackFlagsFor(a.Kind), uint32(remaining)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, a.PacketID); err != nil {
		return err
	}
	if err := writeByte(w, byte(a.ReasonCode)); err != nil {
		return err
	}
	_, err := w.Write(propsBytes)
	return err
}

func ackFlagsFor(t PacketType) byte {
	if t == PUBREL {
		return 0x02
	}
	return 0x00
}

func (s *Subscribe) encode(w io.Writer) error {
	remaining := 2
	var propsBytes []byte
	if s.ProtocolLevel == V5 {
		var buf bytes.Buffer
		if err := s.Properties.encode(&buf); err != nil {
			return err
		}
		propsBytes = buf.Bytes()
		remaining += len(propsBytes)
	}
	for _, sub := range s.Subscriptions {
		remaining += sizeUTF8String(sub.TopicFilter) + 1
	}

	if err := EncodeFixedHeader(w, SUBSCRIBE, 0x02, uint32(remaining)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, s.PacketID); err != nil {
		return err
	}
	if s.ProtocolLevel == V5 {
		if _, err := w.Write(propsBytes); err != nil {
			return err
		}
	}
	for _, sub := range s.Subscriptions {
		if err := writeUTF8String(w, sub.TopicFilter); err != nil {
			return err
		}
		opts := byte(sub.QoS)
		if s.ProtocolLevel == V5 {
			if sub.NoLocal {
				opts |= 0x04
			}
			if sub.RetainAsPublished {
				opts |= 0x08
			}
			opts |= sub.RetainHandling << 4
		}
		if err := writeByte(w, opts); err != nil {
			return err
		}
	}
	return nil
}

func (sa *Suback) encode(w io.Writer) error {
	remaining := 2 + len(sa.ReasonCodes)
	var propsBytes []byte
	if sa.ProtocolLevel == V5 {
		var buf bytes.Buffer
		if err := sa.Properties.encode(&buf); err != nil {
			return err
		}
		propsBytes = buf.Bytes()
		remaining += len(propsBytes)
	}

	if err := EncodeFixedHeader(w, SUBACK, 0, uint32(remaining)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, sa.PacketID); err != nil {
		return err
	}
	if sa.ProtocolLevel == V5 {
		if _, err := w.Write(propsBytes); err != nil {
			return err
		}
	}
	for _, rc := range sa.ReasonCodes {
		code := rc
		if sa.ProtocolLevel != V5 {
			code = downgradeSubackCode(rc)
		}
		if err := writeByte(w, byte(code)); err != nil {
			return err
		}
	}
	return nil
}

func (u *Unsubscribe) encode(w io.Writer) error {
	remaining := 2
	var propsBytes []byte
	if u.ProtocolLevel == V5 {
		var buf bytes.Buffer
		if err := u.Properties.encode(&buf); err != nil {
			return err
		}
		propsBytes = buf.Bytes()
		remaining += len(propsBytes)
	}
	for _, f := range u.TopicFilters {
		remaining += sizeUTF8String(f)
	}

	if err := EncodeFixedHeader(w, UNSUBSCRIBE, 0x02, uint32(remaining)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, u.PacketID); err != nil {
		return err
	}
	if u.ProtocolLevel == V5 {
		if _, err := w.Write(propsBytes); err != nil {
			return err
		}
	}
	for _, f := range u.TopicFilters {
		if err := writeUTF8String(w, f); err != nil {
			return err
		}
	}
	return nil
}

func (ua *Unsuback) encode(w io.Writer) error {
	if ua.ProtocolLevel != V5 {
		if err := EncodeFixedHeader(w, UNSUBACK, 0, 2); err != nil {
			return err
		}
		return writeTwoByteInt(w, ua.PacketID)
	}

	var buf bytes.Buffer
	if err := ua.Properties.encode(&buf); err != nil {
		return err
	}
	propsBytes := buf.Bytes()
	remaining := 2 + len(propsBytes) + len(ua.ReasonCodes)

	if err := EncodeFixedHeader(w, UNSUBACK, 0, uint32(remaining)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, ua.PacketID); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}
	for _, rc := range ua.ReasonCodes {
		if err := writeByte(w, byte(rc)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Disconnect) encode(w io.Writer) error {
	if d.ProtocolLevel != V5 {
		return EncodeFixedHeader(w, DISCONNECT, 0, 0)
	}

	if d.ReasonCode == ReasonNormalDisconnection && d.Properties.empty() {
		return EncodeFixedHeader(w, DISCONNECT, 0, 0)
	}

	var buf bytes.Buffer
	if err := d.Properties.encode(&buf); err != nil {
		return err
	}
	propsBytes := buf.Bytes()
	remaining := 1 + len(propsBytes)

	if err := EncodeFixedHeader(w, DISCONNECT, 0, uint32(remaining)); err != nil {
		return err
	}
	if err := writeByte(w, byte(d.ReasonCode)); err != nil {
		return err
	}
	_, err := w.Write(propsBytes)
	return err
}

func (a *Auth) encode(w io.Writer) error {
	if a.ReasonCode == ReasonSuccess && a.Properties.empty() {
		return EncodeFixedHeader(w, AUTH, 0, 0)
	}

	var buf bytes.Buffer
	if err := a.Properties.encode(&buf); err != nil {
		return err
	}
	propsBytes := buf.Bytes()
	remaining := 1 + len(propsBytes)

	if err := EncodeFixedHeader(w, AUTH, 0, uint32(remaining)); err != nil {
		return err
	}
	if err := writeByte(w, byte(a.ReasonCode)); err != nil {
		return err
	}
	_, err := w.Write(propsBytes)
	return err
}
