package metaservice

import (
	"context"
	"testing"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"

	"github.com/robustmq/robustmq-sub002/internal/journal"
)

type recordingSink struct {
	events []struct {
		action   CacheAction
		resource CacheResource
	}
}

func (r *recordingSink) Enqueue(action CacheAction, resource CacheResource, _ []byte) {
	r.events = append(r.events, struct {
		action   CacheAction
		resource CacheResource
	}{action, resource})
}

func newTestStateMachine(t *testing.T) (*StateMachine, *recordingSink) {
	t.Helper()
	var sink = &recordingSink{}
	var sm = NewStateMachine(1, sink)
	t.Cleanup(sm.Close)
	return sm, sink
}

func TestKVSetGetDeleteExists(t *testing.T) {
	var sm, _ = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sm.Set(ctx, "foo", []byte("bar")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !sm.Exists("foo") {
		t.Fatalf("expected foo to exist")
	}
	v, err := sm.Get("foo")
	if err != nil || string(v) != "bar" {
		t.Fatalf("Get: v=%q err=%v", v, err)
	}
	if err := sm.Delete(ctx, "foo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if sm.Exists("foo") {
		t.Fatalf("expected foo to be gone")
	}
}

func TestGetPrefix(t *testing.T) {
	var sm, _ = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sm.Set(ctx, "a/1", []byte("x"))
	sm.Set(ctx, "a/2", []byte("y"))
	sm.Set(ctx, "b/1", []byte("z"))

	var got = sm.GetPrefix("a/")
	if len(got) != 2 {
		t.Fatalf("expected 2 keys under a/, got %d", len(got))
	}
}

func TestRegisterNodeEnqueuesCacheUpdateExceptForSelf(t *testing.T) {
	var sm, sink = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Node 1 registering itself (nodeID == state machine's own id 1) must
	// not enqueue a self-update.
	if err := sm.RegisterNode(ctx, ClusterNode{NodeID: 1, Roles: []string{"broker"}, RPCAddr: "n1:9000"}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected self-registration to be suppressed, got %d events", len(sink.events))
	}

	if err := sm.RegisterNode(ctx, ClusterNode{NodeID: 2, Roles: []string{"broker"}, RPCAddr: "n2:9000"}); err != nil {
		t.Fatalf("RegisterNode: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].resource != ResourceNode {
		t.Fatalf("expected one node cache-update event, got %+v", sink.events)
	}

	var nodes = sm.NodeList()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
}

func TestRegisterNodeValidation(t *testing.T) {
	var sm, _ = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var err = sm.RegisterNode(ctx, ClusterNode{NodeID: 1})
	if err == nil {
		t.Fatalf("expected validation error for missing rpc_addr/roles")
	}
}

func TestUserCRUD(t *testing.T) {
	var sm, _ = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sm.SaveUser(ctx, UserRecord{Username: "alice"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	rec, err := sm.GetUser("alice")
	if err != nil || rec.Username != "alice" {
		t.Fatalf("GetUser: rec=%+v err=%v", rec, err)
	}
	if err := sm.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := sm.GetUser("alice"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestShardAndSegmentLifecycle(t *testing.T) {
	var sm, _ = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var shard = journal.ShardMeta{Namespace: "ns", Shard: "s1", ReplicaCount: 1, MaxSegmentSize: 1024}
	if err := sm.CreateShard(ctx, shard); err != nil {
		t.Fatalf("CreateShard: %v", err)
	}
	var seg = journal.Meta{Namespace: "ns", Shard: "s1", Sequence: 0, Status: journal.StatusIdle, Replicas: []uint64{1}}
	if err := sm.CreateSegment(ctx, seg); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	if err := sm.UpdateSegmentStatus(ctx, "ns", "s1", 0, journal.StatusWrite); err != nil {
		t.Fatalf("UpdateSegmentStatus: %v", err)
	}

	var segs = sm.ListSegments("ns", "s1")
	if len(segs) != 1 || segs[0].Status != journal.StatusWrite {
		t.Fatalf("expected status Write after update, got %+v", segs)
	}
}

func TestObserverReceivesCommittedMutations(t *testing.T) {
	var sm, _ = newTestStateMachine(t)
	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var seen = make(chan CacheResource, 1)
	sm.Subscribe(func(_ mvccpb.KeyValue, _ CacheAction, resource CacheResource) {
		select {
		case seen <- resource:
		default:
		}
	})

	if err := sm.SaveUser(ctx, UserRecord{Username: "bob"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	select {
	case resource := <-seen:
		if resource != ResourceUser {
			t.Fatalf("expected ResourceUser, got %v", resource)
		}
	case <-time.After(time.Second):
		t.Fatalf("observer was never notified")
	}
}
