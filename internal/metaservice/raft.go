package metaservice

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.etcd.io/raft/v3"
	"go.etcd.io/raft/v3/raftpb"
)

// CacheSink receives one committed cache-update event per successful
// mutation (spec §4.2 "Every successful mutation... additionally enqueues
// a Cache-Update event"). internal/brokercall implements this.
type CacheSink interface {
	Enqueue(action CacheAction, resource CacheResource, payload []byte)
}

// raftNode wraps go.etcd.io/raft/v3's single-node replication of the KV
// store. Every mutating domain operation proposes a command and blocks
// until that exact entry is applied, giving callers linearizable
// read-your-writes without exposing raft's async Ready loop.
type raftNode struct {
	id      uint64
	node    raft.Node
	storage *raft.MemoryStorage
	store   *kvStore
	sink    CacheSink
	hub     *observerHub

	mu       sync.Mutex
	waiters  map[uint64]chan error
	proposal uint64

	stop chan struct{}
	done chan struct{}
}

// newRaftNode bootstraps a single-voter raft group rooted at nodeID. The
// cluster control plane here is embedded consensus over the local KV, not
// a multi-node transport; scaling to multiple meta-service nodes is a
// matter of adding peers to the bootstrap peer list and wiring raft's
// Messages through internal/rpc (out of scope for this pass, see
// DESIGN.md).
func newRaftNode(nodeID uint64, store *kvStore, sink CacheSink, hub *observerHub) *raftNode {
	var storage = raft.NewMemoryStorage()
	var cfg = &raft.Config{
		ID:              nodeID,
		ElectionTick:    10,
		HeartbeatTick:   1,
		Storage:         storage,
		MaxSizePerMsg:   4096,
		MaxInflightMsgs: 256,
	}
	var node = raft.StartNode(cfg, []raft.Peer{{ID: nodeID}})

	var r = &raftNode{
		id:      nodeID,
		node:    node,
		storage: storage,
		store:   store,
		sink:    sink,
		hub:     hub,
		waiters: make(map[uint64]chan error),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *raftNode) run() {
	defer close(r.done)
	var ticker = time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.node.Stop()
			return
		case <-ticker.C:
			r.node.Tick()
		case rd := <-r.node.Ready():
			if !raft.IsEmptyHardState(rd.HardState) {
				if err := r.storage.SetHardState(rd.HardState); err != nil {
					log.WithError(err).Error("metaservice: SetHardState failed")
				}
			}
			if len(rd.Entries) > 0 {
				if err := r.storage.Append(rd.Entries); err != nil {
					log.WithError(err).Error("metaservice: Append failed")
				}
			}
			for _, entry := range rd.CommittedEntries {
				r.applyEntry(entry)
			}
			// Single-voter group: Messages is always empty in steady state,
			// but a real multi-node deployment would hand rd.Messages to
			// internal/rpc here.
			r.node.Advance()
		}
	}
}

func (r *raftNode) applyEntry(entry raftpb.Entry) {
	if entry.Type != raftpb.EntryNormal || len(entry.Data) == 0 {
		return
	}
	var cmd, err = decodeCommand(entry.Data)
	if err != nil {
		log.WithError(err).Error("metaservice: failed to decode committed entry")
		return
	}

	if cmd.Delete {
		r.store.delete(cmd.Key)
	} else {
		r.store.set(cmd.Key, cmd.Value)
	}

	var action = CacheActionSet
	if cmd.Delete {
		action = CacheActionDelete
	}
	if r.hub != nil {
		r.hub.notify(cmd.Key, cmd.Value, action, cmd.Resource)
	}
	if r.sink != nil && cmd.Resource != "" {
		if cmd.Resource == ResourceNode && cmd.NodeIDHint == r.id {
			// self-update suppression is also enforced in brokercall, but
			// skip enqueueing entirely for the originating node's own view.
		} else {
			r.sink.Enqueue(action, cmd.Resource, cmd.Value)
		}
	}

	r.mu.Lock()
	var ch, ok = r.waiters[cmd.ProposalID]
	if ok {
		delete(r.waiters, cmd.ProposalID)
	}
	r.mu.Unlock()
	if ok {
		ch <- nil
	}
}

// propose submits a command and blocks until it has been applied locally.
func (r *raftNode) propose(ctx context.Context, cmd command) error {
	r.mu.Lock()
	r.proposal++
	cmd.ProposalID = r.proposal
	var ch = make(chan error, 1)
	r.waiters[cmd.ProposalID] = ch
	r.mu.Unlock()

	var data, err = encodeCommand(cmd)
	if err != nil {
		r.mu.Lock()
		delete(r.waiters, cmd.ProposalID)
		r.mu.Unlock()
		return err
	}

	if err := r.node.Propose(ctx, data); err != nil {
		r.mu.Lock()
		delete(r.waiters, cmd.ProposalID)
		r.mu.Unlock()
		return errors.WithMessage(err, "metaservice: propose")
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *raftNode) close() {
	close(r.stop)
	<-r.done
}
