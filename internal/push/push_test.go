package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/session"
	"github.com/robustmq/robustmq-sub002/internal/subscribe"
)

type fakeJournalSource struct {
	mu      sync.Mutex
	records []journal.Record
}

func (f *fakeJournalSource) OpenSegmentWrite(namespace, shard string) (*journal.Handle, error) {
	return &journal.Handle{}, nil
}

func (f *fakeJournalSource) ReadByOffset(h *journal.Handle, startPosition int64, startOffset uint64, maxSize int64, maxRecords int) ([]journal.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []journal.Record
	for _, r := range f.records {
		if r.Offset < startOffset {
			continue
		}
		out = append(out, r)
		if len(out) >= maxRecords {
			break
		}
	}
	return out, nil
}

type fakeOffsetStore struct {
	mu      sync.Mutex
	offsets map[string]uint64
}

func newFakeOffsetStore() *fakeOffsetStore {
	return &fakeOffsetStore{offsets: make(map[string]uint64)}
}

func (s *fakeOffsetStore) key(group, namespace, shard string) string { return group + "|" + namespace + "|" + shard }

func (s *fakeOffsetStore) GetOffset(group, namespace, shard string) (metaservice.OffsetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return metaservice.OffsetRecord{Group: group, Namespace: namespace, Shard: shard, Offset: s.offsets[s.key(group, namespace, shard)]}, nil
}

func (s *fakeOffsetStore) SaveOffset(_ context.Context, rec metaservice.OffsetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[s.key(rec.Group, rec.Namespace, rec.Shard)] = rec.Offset
	return nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
}

func (d *fakeDeliverer) PublishQoS0(_ context.Context, clientID string, _ OutboundMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, clientID)
	return nil
}

func (d *fakeDeliverer) PublishQoS1(_ context.Context, clientID string, _ uint16, _ OutboundMessage, ack *session.PendingAck) error {
	d.mu.Lock()
	d.delivered = append(d.delivered, clientID)
	d.mu.Unlock()
	ack.Ch <- session.AckPubAck
	return nil
}

func (d *fakeDeliverer) PublishQoS2(_ context.Context, clientID string, _ uint16, _ OutboundMessage, ack *session.PendingAck) error {
	d.mu.Lock()
	d.delivered = append(d.delivered, clientID)
	d.mu.Unlock()
	ack.Ch <- session.AckPubRec
	return nil
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func TestExclusiveTaskDeliversQoS0AndCommitsOffset(t *testing.T) {
	var js = &fakeJournalSource{records: []journal.Record{
		{Offset: 0, Key: []byte("t/1"), Payload: []byte("a")},
		{Offset: 1, Key: []byte("t/1"), Payload: []byte("b")},
	}}
	var os = newFakeOffsetStore()
	var deliverer = &fakeDeliverer{}
	var sessions = session.NewManager()

	var task = NewExclusiveTask("c1", "sub1", "ns", "s1", 0, true, false, 0, js, os, deliverer, sessions, func() int64 { return 0 })

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() { task.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if deliverer.count() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if deliverer.count() < 2 {
		t.Fatalf("expected both records delivered, got %d", deliverer.count())
	}

	task.Stop()
	cancel()
	<-done

	var rec, _ = os.GetOffset("c1", "ns", "s1")
	if rec.Offset != 2 {
		t.Fatalf("expected committed offset 2, got %d", rec.Offset)
	}
}

func TestSharedTaskRoundRobinsAcrossMembers(t *testing.T) {
	var js = &fakeJournalSource{records: []journal.Record{
		{Offset: 0, Key: []byte("t/1"), Payload: []byte("a")},
		{Offset: 1, Key: []byte("t/1"), Payload: []byte("b")},
	}}
	var os = newFakeOffsetStore()
	var deliverer = &fakeDeliverer{}
	var sessions = session.NewManager()

	var router = subscribe.New()
	router.Subscribe("ns", "sub1", subscribe.SubscribeData{ClientID: "c1", Filter: "$share/g1/t/1", GroupName: "g1"})
	router.Subscribe("ns", "sub1", subscribe.SubscribeData{ClientID: "c2", Filter: "$share/g1/t/1", GroupName: "g1"})
	var members, ok = router.SharedGroupFor("ns", "t/1", "g1", "sub1")
	if !ok {
		t.Fatalf("expected shared group to exist")
	}

	var task = NewSharedTask("ns", "s1", "t/1", "g1", "sub1", 0, members, js, os, deliverer, sessions, func() int64 { return 0 })

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() { task.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if deliverer.count() >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if deliverer.count() < 2 {
		t.Fatalf("expected both records delivered, got %d", deliverer.count())
	}

	task.Stop()
	cancel()
	<-done

	deliverer.mu.Lock()
	var first, second = deliverer.delivered[0], deliverer.delivered[1]
	deliverer.mu.Unlock()
	if first == second {
		t.Fatalf("expected the two records to go to different members, both went to %s", first)
	}
}

func TestDeliverRetainedSendOnNewOnlyOnce(t *testing.T) {
	var store = &fakeRetainStore{rec: metaservice.RetainedMessage{Payload: []byte("r"), QoS: 0}}
	var deliverer = &fakeDeliverer{}
	var sessions = session.NewManager()

	var data = subscribe.SubscribeData{ClientID: "c1", Filter: "t/1", QoS: 0, RetainHandling: subscribe.SendOnNew}
	if err := DeliverRetained(context.Background(), store, deliverer, sessions, func() int64 { return 0 }, "c1", "t/1", data, true); err != nil {
		t.Fatalf("DeliverRetained: %v", err)
	}
	if deliverer.count() != 1 {
		t.Fatalf("expected one delivery for isNew=true, got %d", deliverer.count())
	}

	if err := DeliverRetained(context.Background(), store, deliverer, sessions, func() int64 { return 0 }, "c1", "t/1", data, false); err != nil {
		t.Fatalf("DeliverRetained: %v", err)
	}
	if deliverer.count() != 1 {
		t.Fatalf("expected no additional delivery for isNew=false, got %d", deliverer.count())
	}
}

type fakeRetainStore struct {
	rec metaservice.RetainedMessage
}

func (f *fakeRetainStore) GetTopicRetain(_ string) (metaservice.RetainedMessage, error) {
	return f.rec, nil
}

type fakeMetrics struct {
	mu   sync.Mutex
	out  int
	drop int
}

func (m *fakeMetrics) RecordMessageOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out++
}

func (m *fakeMetrics) RecordMessageDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop++
}

func (m *fakeMetrics) counts() (out, drop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out, m.drop
}

func TestExclusiveTaskRecordsOutAndDropMetrics(t *testing.T) {
	var js = &fakeJournalSource{records: []journal.Record{
		{Offset: 0, Key: []byte("t/1"), Payload: []byte("a"), Tags: []string{"c1"}},
		{Offset: 1, Key: []byte("t/1"), Payload: []byte("b")},
	}}
	var os = newFakeOffsetStore()
	var deliverer = &fakeDeliverer{}
	var sessions = session.NewManager()
	var m = &fakeMetrics{}

	// NoLocal=true: record 0 was published by c1 itself and is dropped;
	// record 1 has no publisher tag and is delivered.
	var task = NewExclusiveTask("c1", "sub1", "ns", "s1", 0, true, true, 0, js, os, deliverer, sessions, func() int64 { return 0 })
	task.Metrics = m

	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	go func() { task.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if out, drop := m.counts(); out+drop >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	task.Stop()
	cancel()
	<-done

	var out, drop = m.counts()
	if out != 1 || drop != 1 {
		t.Fatalf("expected 1 out, 1 drop; got out=%d drop=%d", out, drop)
	}
}
