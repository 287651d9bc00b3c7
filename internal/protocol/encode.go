package protocol

// The functions below hand a decoded response packet to the connection
// registry's writer. Wire-level MQTT framing (remaining-length varints,
// property encoding) is out of scope for the dispatcher (see the package
// doc); each encode helper here stands in for that codec boundary, giving
// every Service method below a concrete byte payload to call
// Registry.WriteFrame with. A production encoder lives in the same slot
// gorilla/websocket's frame writer occupies in internal/connreg: internal
// plumbing the dispatcher doesn't need to know the internals of.

func (s *Service) sendConnAck(conn *Conn, pkt ConnAckPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodeConnAck(pkt))
}

func (s *Service) sendPubAck(conn *Conn, pkt PubAckPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodePubAck(pkt))
}

func (s *Service) sendPubRec(conn *Conn, pkt PubRecPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodePubRec(pkt))
}

func (s *Service) sendPubRel(conn *Conn, pkt PubRelPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodePubRel(pkt))
}

func (s *Service) sendPubComp(conn *Conn, pkt PubCompPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodePubComp(pkt))
}

func (s *Service) sendSubAck(conn *Conn, pkt SubAckPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodeSubAck(pkt))
}

func (s *Service) sendUnsubAck(conn *Conn, pkt UnsubAckPacket) {
	_ = s.Registry.WriteFrame(conn.ID, conn.Kind, encodeUnsubAck(pkt))
}

func (s *Service) sendPublish(conn *Conn, pkt PublishPacket) error {
	return s.Registry.WriteFrame(conn.ID, conn.Kind, encodePublish(pkt))
}

func encodeConnAck(pkt ConnAckPacket) []byte {
	var present byte
	if pkt.SessionPresent {
		present = 1
	}
	return []byte{0x20, present, byte(pkt.Reason)}
}

func encodePubAck(pkt PubAckPacket) []byte {
	return []byte{0x40, byte(pkt.PacketID >> 8), byte(pkt.PacketID), byte(pkt.Reason)}
}

func encodePubRec(pkt PubRecPacket) []byte {
	return []byte{0x50, byte(pkt.PacketID >> 8), byte(pkt.PacketID), byte(pkt.Reason)}
}

func encodePubRel(pkt PubRelPacket) []byte {
	return []byte{0x62, byte(pkt.PacketID >> 8), byte(pkt.PacketID), byte(pkt.Reason)}
}

func encodePubComp(pkt PubCompPacket) []byte {
	return []byte{0x70, byte(pkt.PacketID >> 8), byte(pkt.PacketID), byte(pkt.Reason)}
}

func encodeSubAck(pkt SubAckPacket) []byte {
	var buf = []byte{0x90, byte(pkt.PacketID >> 8), byte(pkt.PacketID)}
	for _, r := range pkt.Reasons {
		buf = append(buf, byte(r))
	}
	return buf
}

func encodeUnsubAck(pkt UnsubAckPacket) []byte {
	var buf = []byte{0xB0, byte(pkt.PacketID >> 8), byte(pkt.PacketID)}
	for _, r := range pkt.Reasons {
		buf = append(buf, byte(r))
	}
	return buf
}

func encodePublish(pkt PublishPacket) []byte {
	var header byte = 0x30
	if pkt.Dup {
		header |= 0x08
	}
	header |= byte(pkt.QoS) << 1
	if pkt.Retain {
		header |= 0x01
	}

	var buf = []byte{header, byte(len(pkt.Topic) >> 8), byte(len(pkt.Topic))}
	buf = append(buf, pkt.Topic...)
	if pkt.QoS > 0 {
		buf = append(buf, byte(pkt.PacketID>>8), byte(pkt.PacketID))
	}
	var n = len(pkt.Payload)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	buf = append(buf, pkt.Payload...)
	return buf
}

func encodePingResp() []byte { return []byte{0xD0, 0x00} }

func encodeDisconnect(reason ReasonCode) []byte { return []byte{0xE0, byte(reason)} }
