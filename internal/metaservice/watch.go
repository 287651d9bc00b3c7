package metaservice

import (
	"sync"

	"go.etcd.io/etcd/api/v3/mvccpb"
)

// Observer receives every committed mutation as it is applied, in the same
// shape consumer/key_space.go's KeySpace.Observers callback takes: one
// notification per revision, carrying a header with the new revision
// number; the committed raft index plays the role the teacher's etcd
// mod-revision plays. internal/brokercall does not subscribe here: it
// receives cache-update events through the CacheSink handed to
// NewStateMachine.
type Observer func(header mvccpb.KeyValue, action CacheAction, resource CacheResource)

// observerHub multiplexes the single per-node committed-entry stream to
// every registered Observer.
type observerHub struct {
	mu        sync.RWMutex
	observers map[int]Observer
	nextID    int
	revision  int64
}

func newObserverHub() *observerHub {
	return &observerHub{observers: make(map[int]Observer)}
}

// Subscribe registers obs and returns a token for Unsubscribe.
func (h *observerHub) Subscribe(obs Observer) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.observers[h.nextID] = obs
	return h.nextID
}

// Unsubscribe removes a previously registered Observer.
func (h *observerHub) Unsubscribe(token int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.observers, token)
}

// notify fans a committed mutation out to every observer, stamping it with
// a monotonically increasing revision (mirrors pb.FromEtcdResponseHeader's
// revision plumbing, without requiring an actual etcd server).
func (h *observerHub) notify(key string, value []byte, action CacheAction, resource CacheResource) {
	h.mu.Lock()
	h.revision++
	var rev = h.revision
	var obs = make([]Observer, 0, len(h.observers))
	for _, o := range h.observers {
		obs = append(obs, o)
	}
	h.mu.Unlock()

	var kv = mvccpb.KeyValue{Key: []byte(key), Value: value, ModRevision: rev}
	for _, o := range obs {
		o(kv, action, resource)
	}
}
