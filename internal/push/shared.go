package push

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/session"
	"github.com/robustmq/robustmq-sub002/internal/subscribe"
)

// SharedTask delivers one group/sub-path/topic's records via round-robin
// across the group's current members (spec §4.8 "one task per (group,
// sub-path, topic)").
type SharedTask struct {
	Namespace string
	Shard     string
	Topic     string
	Group     string
	SubPath   string
	QoS       int

	members    *subscribe.SubscriberSet
	journalSrc JournalSource
	offsets    OffsetStore
	deliverer  Deliverer
	sessions   *session.Manager
	now        func() int64

	// Metrics is nil unless wired in by the caller after construction
	// (spec §4.9).
	Metrics Metrics

	stop chan struct{}
	done chan struct{}
}

// NewSharedTask constructs a task ready to Run. The offset-commit group
// key is namespace/group/subPath-scoped, shared by every member.
func NewSharedTask(namespace, shard, topic, group, subPath string, qos int, members *subscribe.SubscriberSet,
	journalSrc JournalSource, offsets OffsetStore, deliverer Deliverer, sessions *session.Manager, now func() int64) *SharedTask {
	return &SharedTask{
		Namespace: namespace, Shard: shard, Topic: topic, Group: group, SubPath: subPath, QoS: qos,
		members: members, journalSrc: journalSrc, offsets: offsets, deliverer: deliverer, sessions: sessions, now: now,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Stop signals the task to exit after finishing its current record.
func (t *SharedTask) Stop() {
	close(t.stop)
	<-t.done
}

func (t *SharedTask) commitGroup() string { return "$share/" + t.Group + "/" + t.SubPath }

// Run drives the read-deliver-commit loop until Stop is called.
func (t *SharedTask) Run(ctx context.Context) {
	defer close(t.done)

	var h, err = t.journalSrc.OpenSegmentWrite(t.Namespace, t.Shard)
	if err != nil {
		log.WithError(err).WithField("group", t.Group).Error("push: shared task could not open segment")
		return
	}

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		var offsetRec, _ = t.offsets.GetOffset(t.commitGroup(), t.Namespace, t.Shard)
		var records, rerr = t.journalSrc.ReadByOffset(h, 0, offsetRec.Offset, 1<<20, sharedBatchSize)
		if rerr != nil {
			log.WithError(rerr).WithField("group", t.Group).Warn("push: shared read failed")
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
				Group: t.commitGroup(), Namespace: t.Namespace, Shard: t.Shard, Offset: rec.Offset + 1,
			}, t.stop)
		}
	}
}

// deliverOne picks a round-robin target and retries up to maxSharedAttempts
// distinct subscribers before discarding the message (spec §4.8 "the
// message itself retries up to 3 subscribers before being discarded").
func (t *SharedTask) deliverOne(ctx context.Context, rec journal.Record) {
	var msg = recordToMessage(rec, false, nil)
	msg.QoS = t.QoS
	if isExpired(msg, t.now()) {
		t.recordDrop()
		return
	}

	for attempt := 0; attempt < maxSharedAttempts; attempt++ {
		var clientID, ok = t.members.Next()
		if !ok {
			log.WithField("group", t.Group).Warn("push: shared group has no eligible member, discarding message")
			t.recordDrop()
			return
		}
		if t.sendTo(ctx, clientID, msg) {
			t.recordOut()
			return
		}
		t.members.MarkNotPush(clientID)
	}
	log.WithFields(log.Fields{"group": t.Group, "topic": t.Topic}).Warn("push: message discarded after exhausting shared-subscription retries")
	t.recordDrop()
}

func (t *SharedTask) recordOut() {
	if t.Metrics != nil {
		t.Metrics.RecordMessageOut()
	}
}

func (t *SharedTask) recordDrop() {
	if t.Metrics != nil {
		t.Metrics.RecordMessageDrop()
	}
}

func (t *SharedTask) sendTo(ctx context.Context, clientID string, msg OutboundMessage) bool {
	switch msg.QoS {
	case 0:
		if err := t.deliverer.PublishQoS0(ctx, clientID, msg); err != nil {
			if errors.Is(err, ErrBrokerNotAvailable) {
				return false
			}
			log.WithError(err).WithField("client_id", clientID).Warn("push: shared QoS0 delivery failed")
		}
		return true
	case 1, 2:
		var state = t.sessions.State(clientID)
		var pkid, pending, err = state.AllocatePkid(ctx, t.now())
		if err != nil {
			return false
		}
		defer state.Release(pkid)

		var sendErr error
		if msg.QoS == 1 {
			sendErr = t.deliverer.PublishQoS1(ctx, clientID, pkid, msg, pending)
		} else {
			sendErr = t.deliverer.PublishQoS2(ctx, clientID, pkid, msg, pending)
		}
		if sendErr != nil {
			if errors.Is(sendErr, ErrBrokerNotAvailable) {
				return false
			}
			log.WithError(sendErr).WithField("client_id", clientID).Warn("push: shared acked delivery send failed")
			return true
		}

		select {
		case <-pending.Ch:
		case <-time.After(ackWaitTimeout):
			log.WithFields(log.Fields{"client_id": clientID, "pkid": pkid}).Warn("push: shared ack wait timed out")
		case <-ctx.Done():
		}
		return true
	}
	return true
}
