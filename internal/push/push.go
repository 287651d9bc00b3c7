// Package push implements the Push Engine (spec §4.8): exclusive push
// tasks (one per client/sub-path/topic) and shared-leader push tasks (one
// per group/sub-path/topic), plus retained-message delivery on subscribe.
// The per-task ticker/stop-channel lifecycle is grounded on
// broker/append_fsm.go's run() loop, the same pattern internal/brokercall
// uses for its per-node tasks, generalized here to one task per push
// subject instead of one task per cluster node.
package push

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/session"
)

const (
	exclusiveBatchSize   = 5
	sharedBatchSize      = 100
	maxSharedAttempts    = 3
	offsetCommitSleep    = 100 * time.Millisecond
	ackWaitTimeout       = 20 * time.Second
	retainedUserProperty = "$system_srmpf"
	sharedRewriteMarker  = "$system_ssrpf"
)

// Metrics receives message-out/drop counters from push tasks (spec §4.9
// "messages in/out/drop"). Tasks leave this nil by default; a caller that
// wants gauge/counter visibility sets it after construction, mirroring how
// internal/metrics.Collector already sits alongside the in-process
// counters rather than replacing them.
type Metrics interface {
	RecordMessageOut()
	RecordMessageDrop()
}

// ErrBrokerNotAvailable is returned by a Deliverer when the destination
// client's owning broker cannot currently be reached (spec §4.8 "broker not
// available" error triggers not-push marking for shared pushes).
var ErrBrokerNotAvailable = errors.New("push: broker not available for client")

// OutboundMessage is a fully-prepared Publish ready for the wire, carrying
// every v5 property the spec requires to be preserved end to end (spec
// §4.8 "construct Publish + Properties").
type OutboundMessage struct {
	Topic                  string
	Payload                []byte
	QoS                    int
	Retain                 bool
	NoLocal                bool
	PayloadFormatIndicator *byte
	MessageExpiry          *uint32
	ResponseTopic          string
	CorrelationData        []byte
	ContentType            string
	UserProperties         map[string][]string
	SubscriptionIDs        []uint32
	PublisherClientID      string
}

// Deliverer is the protocol-layer sink a push task writes through; the
// protocol dispatcher's connection/session plumbing implements it (spec
// §4.8, §5 "awaits on packet-id acks").
type Deliverer interface {
	// PublishQoS0 fires and forgets.
	PublishQoS0(ctx context.Context, clientID string, msg OutboundMessage) error
	// PublishQoS1 sends with an allocated pkid and returns; the caller
	// waits on ack.Ch for the PubAck, up to ackWaitTimeout.
	PublishQoS1(ctx context.Context, clientID string, pkid uint16, msg OutboundMessage, ack *session.PendingAck) error
	// PublishQoS2 sends with an allocated pkid and returns; the caller
	// waits on ack.Ch for PubRec only — PubRel/PubComp proceed
	// asynchronously per spec §4.8 ("do NOT wait for PubComp before
	// advancing").
	PublishQoS2(ctx context.Context, clientID string, pkid uint16, msg OutboundMessage, ack *session.PendingAck) error
}

// recordToMessage adapts a stored journal.Record plus its originating
// subscription into the wire-ready OutboundMessage, applying the
// retain-preference rule and recording the publisher's client id; the
// no-local check on that id is left to the calling task (spec §4.8).
// Every v5 property the record carries
// rides straight through so a subscriber sees what the publisher sent.
func recordToMessage(rec journal.Record, preserveRetain bool, subIDs []uint32) OutboundMessage {
	return OutboundMessage{
		Topic:                  string(rec.Key),
		Payload:                rec.Payload,
		Retain:                 preserveRetain,
		SubscriptionIDs:        subIDs,
		PublisherClientID:      publisherTagOf(rec.Tags),
		PayloadFormatIndicator: rec.PayloadFormatIndicator,
		MessageExpiry:          absoluteExpiry(rec),
		ResponseTopic:          rec.ResponseTopic,
		CorrelationData:        rec.CorrelationData,
		ContentType:            rec.ContentType,
		UserProperties:         rec.UserProperties,
	}
}

// absoluteExpiry converts a record's wire-format relative Message-Expiry-
// Interval (seconds from publish time) into the absolute unix deadline
// isExpired compares against, so delivery can be arbitrarily delayed behind
// a slow push task without under- or over-counting the interval.
func absoluteExpiry(rec journal.Record) *uint32 {
	if rec.MessageExpiry == nil {
		return nil
	}
	var deadline = uint32(rec.CreateTime) + *rec.MessageExpiry
	return &deadline
}

// publisherTagOf extracts the publishing client id a record's tags carry,
// used for no-local suppression (spec §4.8 "drop if no_local and message
// was published by the same client"). Tags are a flat list; by convention
// the publisher id is the first tag.
func publisherTagOf(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func isExpired(msg OutboundMessage, now int64) bool {
	if msg.MessageExpiry == nil {
		return false
	}
	// MessageExpiry on an OutboundMessage is stamped as an absolute unix
	// deadline by the caller that built it (publish time + original
	// expiry interval), not the wire-format relative interval.
	return now >= int64(*msg.MessageExpiry)
}

// OffsetStore is the subset of internal/metaservice the push engine needs
// for per-(group, namespace, shard) offset commits (spec §4.8 "commit
// offset in a retry loop").
type OffsetStore interface {
	GetOffset(group, namespace, shard string) (metaservice.OffsetRecord, error)
	SaveOffset(ctx context.Context, rec metaservice.OffsetRecord) error
}

// JournalSource is the subset of internal/journal.Store a push task reads
// from.
type JournalSource interface {
	OpenSegmentWrite(namespace, shard string) (*journal.Handle, error)
	ReadByOffset(h *journal.Handle, startPosition int64, startOffset uint64, maxSize int64, maxRecords int) ([]journal.Record, error)
}

// commitOffsetRetrying retries SaveOffset forever on transient errors,
// sleeping offsetCommitSleep between attempts, aborting early if stop
// fires (spec §4.8 "infinite retries with sleep 100ms... abort on stop
// signal").
func commitOffsetRetrying(ctx context.Context, store OffsetStore, rec metaservice.OffsetRecord, stop <-chan struct{}) {
	for {
		if err := store.SaveOffset(ctx, rec); err == nil {
			return
		}
		select {
		case <-stop:
			return
		case <-time.After(offsetCommitSleep):
		}
	}
}
