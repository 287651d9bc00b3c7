package protocol

import "github.com/pkg/errors"

// DecodePacket turns one inbound frame (already delimited by the caller's
// framing, symmetric with internal/connreg's [len][payload] FrameWriter)
// into the packetKind/packet pair Dispatch expects. It is the read-side
// counterpart to encode.go: same fixed-header-byte-plus-minimal-payload
// convention, no remaining-length varint, no v5 property wire encoding.
func DecodePacket(frame []byte) (string, interface{}, error) {
	if len(frame) == 0 {
		return "", nil, errors.New("protocol: empty frame")
	}

	switch frame[0] & 0xF0 {
	case 0x10:
		return "connect", decodeConnect(frame[1:])
	case 0x30:
		return "publish", decodePublish(frame)
	case 0x40:
		var pkt, err = decodeIDReason(frame[1:])
		return "puback", PubAckPacket(pkt), err
	case 0x50:
		var pkt, err = decodeIDReason(frame[1:])
		return "pubrec", PubRecPacket(pkt), err
	case 0x60:
		var pkt, err = decodeIDReason(frame[1:])
		return "pubrel", PubRelPacket(pkt), err
	case 0x70:
		var pkt, err = decodeIDReason(frame[1:])
		return "pubcomp", PubCompPacket(pkt), err
	case 0x80:
		return "subscribe", decodeSubscribe(frame[1:])
	case 0xA0:
		return "unsubscribe", decodeUnsubscribe(frame[1:])
	case 0xC0:
		return "pingreq", PingReqPacket{}, nil
	case 0xE0:
		return "disconnect", decodeDisconnect(frame[1:])
	default:
		return "", nil, errors.Errorf("protocol: unrecognized packet header 0x%02x", frame[0])
	}
}

// decodeIDReason decodes the [packetID u16][reason u8] shape shared by
// PubAck/PubRec/PubRel/PubComp, the exact inverse of encodePubAck et al.
func decodeIDReason(body []byte) (idReasonPacket, error) {
	if len(body) < 3 {
		return idReasonPacket{}, errors.New("protocol: short ack packet")
	}
	return idReasonPacket{
		PacketID: uint16(body[0])<<8 | uint16(body[1]),
		Reason:   ReasonCode(body[2]),
	}, nil
}

type idReasonPacket struct {
	PacketID uint16
	Reason   ReasonCode
}

func decodeConnect(body []byte) (ConnectPacket, error) {
	var off = 0
	var version, ok = readByte(body, &off)
	if !ok {
		return ConnectPacket{}, errors.New("protocol: short connect packet")
	}
	var flags, ok2 = readByte(body, &off)
	if !ok2 {
		return ConnectPacket{}, errors.New("protocol: short connect packet")
	}
	var keepAlive, ok3 = readU16(body, &off)
	if !ok3 {
		return ConnectPacket{}, errors.New("protocol: short connect packet")
	}
	var sessionExpiry, ok4 = readU32(body, &off)
	if !ok4 {
		return ConnectPacket{}, errors.New("protocol: short connect packet")
	}
	var clientID, ok5 = readString(body, &off)
	var username, ok6 = readString(body, &off)
	var password, ok7 = readString(body, &off)
	if !ok5 || !ok6 || !ok7 {
		return ConnectPacket{}, errors.New("protocol: short connect packet")
	}

	var pkt = ConnectPacket{
		Version:       Version(version),
		ClientID:      clientID,
		Username:      username,
		Password:      password,
		CleanStart:    flags&0x01 != 0,
		KeepAliveSec:  keepAlive,
		SessionExpiry: sessionExpiry,
		HasLastWill:   flags&0x02 != 0,
		WillQoS:       int(flags>>2) & 0x03,
		WillRetain:    flags&0x10 != 0,
	}
	if !pkt.HasLastWill {
		return pkt, nil
	}

	var willTopic, ok8 = readString(body, &off)
	var willPayload, ok9 = readBytes32(body, &off)
	var willDelay, ok10 = readU32(body, &off)
	if !ok8 || !ok9 || !ok10 {
		return ConnectPacket{}, errors.New("protocol: short connect last-will fields")
	}
	pkt.WillTopic = willTopic
	pkt.WillPayload = willPayload
	pkt.WillDelay = willDelay
	return pkt, nil
}

// decodePublish is the exact inverse of encodePublish.
func decodePublish(frame []byte) (PublishPacket, error) {
	var header = frame[0]
	var pkt = PublishPacket{
		Dup:    header&0x08 != 0,
		QoS:    int(header>>1) & 0x03,
		Retain: header&0x01 != 0,
	}

	var off = 1
	var topic, ok = readString(frame, &off)
	if !ok {
		return PublishPacket{}, errors.New("protocol: short publish packet")
	}
	pkt.Topic = topic

	if pkt.QoS > 0 {
		var pid, ok2 = readU16(frame, &off)
		if !ok2 {
			return PublishPacket{}, errors.New("protocol: short publish packet id")
		}
		pkt.PacketID = pid
	}

	var payload, ok3 = readBytes32(frame, &off)
	if !ok3 {
		return PublishPacket{}, errors.New("protocol: short publish payload")
	}
	pkt.Payload = payload
	return pkt, nil
}

func decodeSubscribe(body []byte) (SubscribePacket, error) {
	var off = 0
	var packetID, ok = readU16(body, &off)
	var count, ok2 = readU16(body, &off)
	if !ok || !ok2 {
		return SubscribePacket{}, errors.New("protocol: short subscribe packet")
	}

	var pkt = SubscribePacket{PacketID: packetID}
	for i := 0; i < int(count); i++ {
		var filter, ok3 = readString(body, &off)
		var opts, ok4 = readByte(body, &off)
		if !ok3 || !ok4 {
			return SubscribePacket{}, errors.New("protocol: short subscribe filter")
		}
		pkt.Subscriptions = append(pkt.Subscriptions, SubscriptionRequest{
			Filter:            filter,
			QoS:               int(opts) & 0x03,
			NoLocal:           opts&0x04 != 0,
			RetainAsPublished: opts&0x08 != 0,
			RetainHandling:    int(opts>>4) & 0x03,
		})
	}
	return pkt, nil
}

func decodeUnsubscribe(body []byte) (UnsubscribePacket, error) {
	var off = 0
	var packetID, ok = readU16(body, &off)
	var count, ok2 = readU16(body, &off)
	if !ok || !ok2 {
		return UnsubscribePacket{}, errors.New("protocol: short unsubscribe packet")
	}

	var pkt = UnsubscribePacket{PacketID: packetID}
	for i := 0; i < int(count); i++ {
		var filter, ok3 = readString(body, &off)
		if !ok3 {
			return UnsubscribePacket{}, errors.New("protocol: short unsubscribe filter")
		}
		pkt.Filters = append(pkt.Filters, filter)
	}
	return pkt, nil
}

func decodeDisconnect(body []byte) (DisconnectPacket, error) {
	if len(body) == 0 {
		return DisconnectPacket{Reason: Success}, nil
	}
	return DisconnectPacket{Reason: ReasonCode(body[0])}, nil
}

func readByte(body []byte, off *int) (byte, bool) {
	if *off >= len(body) {
		return 0, false
	}
	var b = body[*off]
	*off++
	return b, true
}

func readU16(body []byte, off *int) (uint16, bool) {
	if *off+2 > len(body) {
		return 0, false
	}
	var v = uint16(body[*off])<<8 | uint16(body[*off+1])
	*off += 2
	return v, true
}

func readU32(body []byte, off *int) (uint32, bool) {
	if *off+4 > len(body) {
		return 0, false
	}
	var v = uint32(body[*off])<<24 | uint32(body[*off+1])<<16 | uint32(body[*off+2])<<8 | uint32(body[*off+3])
	*off += 4
	return v, true
}

func readString(body []byte, off *int) (string, bool) {
	var n, ok = readU16(body, off)
	if !ok || *off+int(n) > len(body) {
		return "", false
	}
	var s = string(body[*off : *off+int(n)])
	*off += int(n)
	return s, true
}

func readBytes32(body []byte, off *int) ([]byte, bool) {
	var n, ok = readU32(body, off)
	if !ok || *off+int(n) > len(body) {
		return nil, false
	}
	var b = body[*off : *off+int(n)]
	*off += int(n)
	return b, true
}
