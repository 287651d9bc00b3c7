package push

import (
	"context"

	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/session"
	"github.com/robustmq/robustmq-sub002/internal/subscribe"
)

// RetainStore is the subset of internal/metaservice the retained-message
// delivery path needs.
type RetainStore interface {
	GetTopicRetain(topic string) (metaservice.RetainedMessage, error)
}

// DeliverRetained sends topic's retained message (if any) to a freshly
// subscribed client according to its RetainHandling (spec §4.8 "Retain
// delivery on subscribe"). isNew reports whether this (client, filter) has
// never been subscribed before, the signal subscribe.Router.Subscribe
// already computes.
func DeliverRetained(ctx context.Context, store RetainStore, deliverer Deliverer, sessions *session.Manager, now func() int64, clientID, topic string, data subscribe.SubscribeData, isNew bool) error {
	switch data.RetainHandling {
	case subscribe.RetainNever:
		return nil
	case subscribe.SendOnNew:
		if !isNew {
			return nil
		}
	case subscribe.SendOnSubscribe:
		// always send
	default:
		return nil
	}

	var retained, err = store.GetTopicRetain(topic)
	if err != nil || len(retained.Payload) == 0 {
		return nil
	}

	var msg = OutboundMessage{
		Topic:   topic,
		Payload: retained.Payload,
		QoS:     minInt(retained.QoS, data.QoS),
		Retain:  true,
		UserProperties: map[string][]string{
			retainedUserProperty: {"True"},
		},
	}
	for k, v := range retained.Properties {
		msg.UserProperties[k] = append(msg.UserProperties[k], v)
	}

	if msg.QoS == 0 {
		return deliverer.PublishQoS0(ctx, clientID, msg)
	}

	var state = sessions.State(clientID)
	var pkid, pending, allocErr = state.AllocatePkid(ctx, now())
	if allocErr != nil {
		return allocErr
	}
	defer state.Release(pkid)
	if msg.QoS == 1 {
		return deliverer.PublishQoS1(ctx, clientID, pkid, msg, pending)
	}
	return deliverer.PublishQoS2(ctx, clientID, pkid, msg, pending)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
