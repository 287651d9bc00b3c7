package brokercall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robustmq/robustmq-sub002/internal/metaservice"
)

type recordingSender struct {
	mu      sync.Mutex
	batches map[uint64][][]Message
	failN   int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{batches: make(map[uint64][][]Message)}
}

func (s *recordingSender) SendCacheUpdate(_ context.Context, node NodeDescriptor, batch []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errChannelTransient
	}
	s.batches[node.NodeID] = append(s.batches[node.NodeID], batch)
	return nil
}

func (s *recordingSender) count(nodeID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, b := range s.batches[nodeID] {
		n += len(b)
	}
	return n
}

type transientErr string

func (e transientErr) Error() string { return string(e) }

const errChannelTransient = transientErr("transient send failure")

func TestEnqueueDeliversBatchOnTick(t *testing.T) {
	var sender = newRecordingSender()
	var p = New(1, sender)
	if err := p.AddNode(NodeDescriptor{NodeID: 2}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	defer p.RemoveNode(2)

	p.Enqueue(metaservice.CacheActionSet, metaservice.ResourceUser, []byte("alice"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sender.count(2) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected message to be delivered to node 2, got %d", sender.count(2))
}

func TestEnqueueSuppressesSelfNodeUpdate(t *testing.T) {
	var sender = newRecordingSender()
	var p = New(1, sender)
	if err := p.AddNode(NodeDescriptor{NodeID: 1}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	defer p.RemoveNode(1)

	p.Enqueue(metaservice.CacheActionSet, metaservice.ResourceNode, []byte("self"))
	time.Sleep(50 * time.Millisecond)
	if sender.count(1) != 0 {
		t.Fatalf("expected self-node update to be suppressed, got %d", sender.count(1))
	}
}

func TestAddNodeRejectsDuplicateWithRetryableRace(t *testing.T) {
	var sender = newRecordingSender()
	var p = New(1, sender)
	if err := p.AddNode(NodeDescriptor{NodeID: 5}); err != nil {
		t.Fatalf("first AddNode: %v", err)
	}
	defer p.RemoveNode(5)

	var err = p.AddNode(NodeDescriptor{NodeID: 5})
	if !errors.Is(err, ErrRetryableNodeThreadRace) {
		t.Fatalf("expected ErrRetryableNodeThreadRace, got %v", err)
	}
}

func TestSendBatchRetriesOnTransientFailure(t *testing.T) {
	var sender = newRecordingSender()
	sender.failN = 2
	var p = New(1, sender)
	if err := p.AddNode(NodeDescriptor{NodeID: 2}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	defer p.RemoveNode(2)

	p.Enqueue(metaservice.CacheActionSet, metaservice.ResourceTopic, []byte("t1"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sender.count(2) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected message to eventually be delivered after retries, got %d", sender.count(2))
}

func TestRemoveNodeStopsDelivery(t *testing.T) {
	var sender = newRecordingSender()
	var p = New(1, sender)
	if err := p.AddNode(NodeDescriptor{NodeID: 2}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	p.RemoveNode(2)

	p.Enqueue(metaservice.CacheActionSet, metaservice.ResourceTopic, []byte("t1"))
	time.Sleep(50 * time.Millisecond)
	if sender.count(2) != 0 {
		t.Fatalf("expected no delivery after node removal, got %d", sender.count(2))
	}
}
