package metaservice

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// StateMachine is the façade over the raft-replicated KV and its typed
// domain operations (spec §4.2). Every mutating method validates first
// (returning ErrInvalidArgument without touching state on failure), then
// proposes through raft, then — on success — the proposal's cache-update
// event is enqueued by raftNode.applyEntry before the call returns.
type StateMachine struct {
	nodeID uint64
	raft   *raftNode
	store  *kvStore
	hub    *observerHub
}

// NewStateMachine constructs a StateMachine rooted at nodeID, replicating
// through an embedded single-voter raft group and reporting cache-update
// events to sink (internal/brokercall normally).
func NewStateMachine(nodeID uint64, sink CacheSink) *StateMachine {
	var store = newKVStore()
	var hub = newObserverHub()
	return &StateMachine{
		nodeID: nodeID,
		store:  store,
		hub:    hub,
		raft:   newRaftNode(nodeID, store, sink, hub),
	}
}

// Subscribe registers an Observer notified of every committed mutation,
// in addition to whatever CacheSink was configured at construction.
func (m *StateMachine) Subscribe(obs Observer) int { return m.hub.Subscribe(obs) }

// Unsubscribe removes a previously registered Observer.
func (m *StateMachine) Unsubscribe(token int) { m.hub.Unsubscribe(token) }

// Close stops the underlying raft node.
func (m *StateMachine) Close() { m.raft.close() }

func (m *StateMachine) proposeSet(ctx context.Context, key string, resource CacheResource, value interface{}) error {
	return m.proposeSetHinted(ctx, key, resource, value, 0)
}

// proposeSetHinted lets ResourceNode mutations carry the affected node-id
// so raftNode.applyEntry can suppress the cache-update a node would
// otherwise send about its own registration (spec §4.3 self-update
// suppression, generalized from publish payloads to node records too).
func (m *StateMachine) proposeSetHinted(ctx context.Context, key string, resource CacheResource, value interface{}, nodeIDHint uint64) error {
	var data, err = gobEncode(value)
	if err != nil {
		return errors.WithMessage(ErrInternal, err.Error())
	}
	return m.raft.propose(ctx, command{Key: key, Value: data, Resource: resource, NodeIDHint: nodeIDHint})
}

func (m *StateMachine) proposeSetRaw(ctx context.Context, key string, resource CacheResource, value []byte) error {
	return m.raft.propose(ctx, command{Key: key, Value: value, Resource: resource})
}

func (m *StateMachine) proposeDelete(ctx context.Context, key string, resource CacheResource) error {
	return m.raft.propose(ctx, command{Key: key, Delete: true, Resource: resource})
}

func (m *StateMachine) getTyped(key string, out interface{}) error {
	var v, ok = m.store.get(key)
	if !ok {
		return ErrNotFound
	}
	return gobDecode(v, out)
}

// --- KV primitives (spec §4.2) ---

// Set stores a raw value at key.
func (m *StateMachine) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errors.WithMessage(ErrInvalidArgument, "key must be non-empty")
	}
	return m.proposeSetRaw(ctx, kvKey(key), "", value)
}

// Get reads a raw value.
func (m *StateMachine) Get(key string) ([]byte, error) {
	var v, ok = m.store.get(kvKey(key))
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Delete removes a raw key.
func (m *StateMachine) Delete(ctx context.Context, key string) error {
	return m.proposeDelete(ctx, kvKey(key), "")
}

// Exists reports whether key is present.
func (m *StateMachine) Exists(key string) bool {
	return m.store.exists(kvKey(key))
}

// GetPrefix returns every raw key/value pair under prefix, with the
// "kv/" namespace prefix stripped back off the returned keys.
func (m *StateMachine) GetPrefix(prefix string) map[string][]byte {
	var raw = m.store.getPrefix(kvKey(prefix))
	var out = make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k[len("kv/"):]] = v
	}
	return out
}

func kvKey(key string) string { return "kv/" + key }

func namespacedKey(parts ...string) string {
	var key = parts[0]
	for _, p := range parts[1:] {
		key += "/" + p
	}
	return key
}

func validateNonEmpty(field, value string) error {
	if value == "" {
		return errors.WithMessage(ErrInvalidArgument, fmt.Sprintf("%s must be non-empty", field))
	}
	return nil
}
