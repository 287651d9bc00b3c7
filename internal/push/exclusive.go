package push

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/session"
)

// ExclusiveTask delivers one client/sub-path/topic's records in order (spec
// §4.8 "one task per (client, sub-path, topic)").
type ExclusiveTask struct {
	ClientID       string
	SubPath        string
	Namespace      string
	Shard          string
	Group          string // offset-commit group; typically the client id for exclusive pushes
	PreserveRetain bool
	NoLocal        bool
	SubscriptionID uint32
	QoS            int // delivery QoS: the subscription's QoS, not clamped against the publish QoS

	journalSrc JournalSource
	offsets    OffsetStore
	deliverer  Deliverer
	sessions   *session.Manager
	now        func() int64

	// Metrics is nil unless the caller wires one in after construction
	// (spec §4.9); every delivery/drop below reports through it when set.
	Metrics Metrics

	handle *journal.Handle
	stop   chan struct{}
	done   chan struct{}
}

// NewExclusiveTask constructs a task ready to Run.
func NewExclusiveTask(clientID, subPath, namespace, shard string, qos int, preserveRetain, noLocal bool, subID uint32,
	journalSrc JournalSource, offsets OffsetStore, deliverer Deliverer, sessions *session.Manager, now func() int64) *ExclusiveTask {
	return &ExclusiveTask{
		ClientID: clientID, SubPath: subPath, Namespace: namespace, Shard: shard, Group: clientID,
		PreserveRetain: preserveRetain, NoLocal: noLocal, SubscriptionID: subID, QoS: qos,
		journalSrc: journalSrc, offsets: offsets, deliverer: deliverer, sessions: sessions, now: now,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Stop signals the task to exit after finishing its current record (spec
// §5 "a task observing stop exits after completing the current record").
func (t *ExclusiveTask) Stop() {
	close(t.stop)
	<-t.done
}

// Run drives the read-deliver-commit loop until Stop is called.
func (t *ExclusiveTask) Run(ctx context.Context) {
	defer close(t.done)

	var h, err = t.journalSrc.OpenSegmentWrite(t.Namespace, t.Shard)
	if err != nil {
		log.WithError(err).WithField("client_id", t.ClientID).Error("push: exclusive task could not open segment")
		return
	}
	t.handle = h

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		var offsetRec, _ = t.offsets.GetOffset(t.Group, t.Namespace, t.Shard)
		var records, rerr = t.journalSrc.ReadByOffset(h, 0, offsetRec.Offset, 1<<20, exclusiveBatchSize)
		if rerr != nil {
			log.WithError(rerr).WithField("client_id", t.ClientID).Warn("push: exclusive read failed")
			time.Sleep(offsetCommitSleep)
			continue
		}
		if len(records) == 0 {
			select {
			case <-t.stop:
				return
			case <-time.After(offsetCommitSleep):
				continue
			}
		}

		for _, rec := range records {
			select {
			case <-t.stop:
				return
			default:
			}
			t.deliverOne(ctx, rec)
			commitOffsetRetrying(ctx, t.offsets, metaservice.OffsetRecord{
				Group: t.Group, Namespace: t.Namespace, Shard: t.Shard, Offset: rec.Offset + 1,
			}, t.stop)
		}
	}
}

func (t *ExclusiveTask) deliverOne(ctx context.Context, rec journal.Record) {
	var msg = recordToMessage(rec, t.PreserveRetain, subIDsOf(t.SubscriptionID))
	if t.NoLocal && msg.PublisherClientID == t.ClientID {
		t.recordDrop()
		return
	}
	if isExpired(msg, t.now()) {
		t.recordDrop()
		return
	}

	// QoS is carried by the subscription, not the record; records hold no
	// publish QoS, so every record goes out at t.QoS with no
	// min(publish, subscription) clamp.
	msg.QoS = t.QoS

	switch msg.QoS {
	case 0:
		if err := t.deliverer.PublishQoS0(ctx, t.ClientID, msg); err != nil {
			log.WithError(err).WithField("client_id", t.ClientID).Warn("push: QoS0 delivery failed")
			return
		}
		t.recordOut()
	case 1:
		t.deliverAcked(ctx, msg, session.AckPubAck)
	case 2:
		t.deliverAcked(ctx, msg, session.AckPubRec)
	}
}

func (t *ExclusiveTask) recordOut() {
	if t.Metrics != nil {
		t.Metrics.RecordMessageOut()
	}
}

func (t *ExclusiveTask) recordDrop() {
	if t.Metrics != nil {
		t.Metrics.RecordMessageDrop()
	}
}

func (t *ExclusiveTask) deliverAcked(ctx context.Context, msg OutboundMessage, want session.AckKind) {
	var state = t.sessions.State(t.ClientID)
	var pkid, pending, err = state.AllocatePkid(ctx, t.now())
	if err != nil {
		log.WithError(err).WithField("client_id", t.ClientID).Warn("push: pkid allocation failed")
		return
	}
	defer state.Release(pkid)

	var sendErr error
	if want == session.AckPubAck {
		sendErr = t.deliverer.PublishQoS1(ctx, t.ClientID, pkid, msg, pending)
	} else {
		sendErr = t.deliverer.PublishQoS2(ctx, t.ClientID, pkid, msg, pending)
	}
	if sendErr != nil {
		log.WithError(sendErr).WithField("client_id", t.ClientID).Warn("push: acked delivery send failed")
		return
	}
	t.recordOut()

	select {
	case kind := <-pending.Ch:
		if kind != want {
			log.WithFields(log.Fields{"client_id": t.ClientID, "pkid": pkid}).Warn("push: unexpected ack kind")
		}
		// For QoS2 the caller (protocol dispatcher) drives PubRel/PubComp
		// asynchronously from here on; offset already advances on PubRec
		// per spec §4.8.
	case <-time.After(ackWaitTimeout):
		log.WithFields(log.Fields{"client_id": t.ClientID, "pkid": pkid}).Warn("push: ack wait timed out")
	case <-ctx.Done():
	}
}

func subIDsOf(id uint32) []uint32 {
	if id == 0 {
		return nil
	}
	return []uint32{id}
}
