package protocol

import (
	"context"

	"github.com/robustmq/robustmq-sub002/internal/push"
	"github.com/robustmq/robustmq-sub002/internal/session"
)

// PublishQoS0 implements push.Deliverer: fire and forget to clientID's live
// connection, if any (spec §4.8).
func (s *Service) PublishQoS0(ctx context.Context, clientID string, msg push.OutboundMessage) error {
	var conn, ok = s.connFor(clientID)
	if !ok {
		return push.ErrBrokerNotAvailable
	}
	return s.sendPublish(conn, outboundToPublish(msg, 0, false))
}

// PublishQoS1 implements push.Deliverer: the caller (an ExclusiveTask or
// SharedTask) already allocated pkid and is waiting on ack.Ch for the
// PubAck.
func (s *Service) PublishQoS1(ctx context.Context, clientID string, pkid uint16, msg push.OutboundMessage, ack *session.PendingAck) error {
	var conn, ok = s.connFor(clientID)
	if !ok {
		return push.ErrBrokerNotAvailable
	}
	return s.sendPublish(conn, outboundToPublish(msg, pkid, false))
}

// PublishQoS2 implements push.Deliverer; PubRel/PubComp proceed through the
// ordinary handlePubRec/handlePubComp path once the client's PubRec arrives.
func (s *Service) PublishQoS2(ctx context.Context, clientID string, pkid uint16, msg push.OutboundMessage, ack *session.PendingAck) error {
	var conn, ok = s.connFor(clientID)
	if !ok {
		return push.ErrBrokerNotAvailable
	}
	return s.sendPublish(conn, outboundToPublish(msg, pkid, false))
}

// outboundToPublish adapts a push.OutboundMessage into the PublishPacket
// encodePublish already knows how to write to the wire.
func outboundToPublish(msg push.OutboundMessage, pkid uint16, dup bool) PublishPacket {
	var props = Properties{
		PayloadFormatIndicator: msg.PayloadFormatIndicator,
		MessageExpiryInterval:  msg.MessageExpiry,
		ResponseTopic:          msg.ResponseTopic,
		CorrelationData:        msg.CorrelationData,
		ContentType:            msg.ContentType,
	}
	if len(msg.SubscriptionIDs) > 0 {
		props.SubscriptionIdentifier = msg.SubscriptionIDs[0]
	}
	for k, values := range msg.UserProperties {
		for _, v := range values {
			props.UserProperties = append(props.UserProperties, UserProperty{Key: k, Value: v})
		}
	}

	return PublishPacket{
		Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS, Retain: msg.Retain,
		Dup: dup, PacketID: pkid, Properties: props,
	}
}
