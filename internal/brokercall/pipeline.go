// Package brokercall implements the Broker-Call Pipeline (spec §4.3):
// ordered, per-destination-node best-effort delivery of cache-update
// events, with batching, retry, and self-message suppression. The
// per-node task with a ready oneshot and ticker-driven batch loop is
// grounded on broker/append_fsm.go's run() (chunk channel + ticker select
// loop) and consumer/service.go's task supervision, generalized from a
// single append stream to one outbound task per cluster node.
package brokercall

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/robustmq/robustmq-sub002/internal/metaservice"
)

// ErrRetryableNodeThreadRace is returned to a caller that lost the
// compare-and-set race to create a node's outbound task; the caller
// retries with exponential backoff (spec §4.3).
var ErrRetryableNodeThreadRace = errors.New("brokercall: retryable node thread race")

// ErrChannelFull names the condition of a node's outbound channel being at
// capacity. Enqueue has no error result and does not return it: an event
// that finds a node's channel full is logged and dropped for that node.
var ErrChannelFull = errors.New("brokercall: outbound channel full")

const (
	channelCapacity = 5000
	batchSize       = 100
	batchTick       = 10 * time.Millisecond
	readyTimeout    = 5 * time.Second
	stopTimeout     = 5 * time.Second
	retryBase       = 50 * time.Millisecond
	maxAttempts     = 3
)

// NodeDescriptor is the destination a per-node task delivers to.
type NodeDescriptor struct {
	NodeID  uint64
	RPCAddr string
}

// CacheUpdateSender performs the actual `broker_common_update_cache` RPC
// (spec §6); internal/rpc supplies the real implementation, tests supply a
// fake.
type CacheUpdateSender interface {
	SendCacheUpdate(ctx context.Context, node NodeDescriptor, batch []Message) error
}

// Message is one queued cache-update event (spec §4.3 contract
// `send_cache_update`).
type Message struct {
	Action   metaservice.CacheAction
	Resource metaservice.CacheResource
	Payload  []byte
}

type nodeTask struct {
	node NodeDescriptor
	ch   chan Message
	stop chan struct{}
	done chan struct{}
}

// Pipeline owns the per-node outbound tasks and implements
// metaservice.CacheSink, so it can be handed directly to
// metaservice.NewStateMachine.
type Pipeline struct {
	localNodeID uint64
	sender      CacheUpdateSender
	stopped     bool

	mu    sync.Mutex
	tasks map[uint64]*nodeTask
}

// New constructs a Pipeline for localNodeID, delivering batches via
// sender.
func New(localNodeID uint64, sender CacheUpdateSender) *Pipeline {
	return &Pipeline{localNodeID: localNodeID, sender: sender, tasks: make(map[uint64]*nodeTask)}
}

// AddNode starts a destination node's outbound task, waiting up to
// readyTimeout for it to signal ready (spec §4.3 per-node task lifecycle
// step 1-2). If a task for the same node id is already registered, AddNode
// starts no task and returns ErrRetryableNodeThreadRace wrapped with the
// node id.
func (p *Pipeline) AddNode(node NodeDescriptor) error {
	p.mu.Lock()
	if _, exists := p.tasks[node.NodeID]; exists {
		p.mu.Unlock()
		return errors.WithMessagef(ErrRetryableNodeThreadRace, "node %d", node.NodeID)
	}
	var task = &nodeTask{node: node, ch: make(chan Message, channelCapacity), stop: make(chan struct{}), done: make(chan struct{})}
	p.tasks[node.NodeID] = task
	p.mu.Unlock()

	var ready = make(chan struct{})
	go p.runTask(task, ready)

	select {
	case <-ready:
	case <-time.After(readyTimeout):
		log.WithField("node_id", node.NodeID).Warn("brokercall: node task did not signal ready in time")
	}
	return nil
}

// RemoveNode signals the node's task to stop and waits up to stopTimeout
// before abandoning it (spec §4.3 per-node task lifecycle step 4).
func (p *Pipeline) RemoveNode(nodeID uint64) {
	p.mu.Lock()
	var task, ok = p.tasks[nodeID]
	if ok {
		delete(p.tasks, nodeID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	close(task.stop)
	select {
	case <-task.done:
	case <-time.After(stopTimeout):
		log.WithField("node_id", nodeID).Warn("brokercall: node task did not stop in time, abandoning")
	}
}

// Stop marks the pipeline stopped; in-flight send failures abort silently
// rather than retrying (spec §4.3 "if the broker cache is in 'stopped'
// state, abort silently").
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

func (p *Pipeline) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Enqueue implements metaservice.CacheSink: it fans one cache-update event
// to every known node's outbound channel, suppressing self-updates for
// node resources (spec §4.3 "if resource = node and decoded node-id
// equals the destination node, the message is dropped" — generalized
// here to "equals the local node", since a node never needs its own
// mutation echoed back from the pipeline it owns).
func (p *Pipeline) Enqueue(action metaservice.CacheAction, resource metaservice.CacheResource, payload []byte) {
	p.mu.Lock()
	var tasks = make([]*nodeTask, 0, len(p.tasks))
	for _, t := range p.tasks {
		tasks = append(tasks, t)
	}
	p.mu.Unlock()

	var msg = Message{Action: action, Resource: resource, Payload: payload}
	for _, t := range tasks {
		if resource == metaservice.ResourceNode && t.node.NodeID == p.localNodeID {
			continue
		}
		select {
		case t.ch <- msg:
		default:
			log.WithFields(log.Fields{"node_id": t.node.NodeID, "resource": resource}).Warn("brokercall: outbound channel full, dropping cache update")
		}
	}
}

func (p *Pipeline) runTask(task *nodeTask, ready chan struct{}) {
	defer close(task.done)
	close(ready)

	var ticker = time.NewTicker(batchTick)
	defer ticker.Stop()

	var batch = make([]Message, 0, batchSize)
	for {
		select {
		case <-task.stop:
			return
		case msg := <-task.ch:
			batch = append(batch, msg)
			if len(batch) >= batchSize {
				p.sendBatch(task.node, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.sendBatch(task.node, batch)
				batch = batch[:0]
			}
		}
	}
}

func (p *Pipeline) sendBatch(node NodeDescriptor, batch []Message) {
	var snapshot = append([]Message(nil), batch...)
	var attempt int
	var backoff = retryBase

	for {
		var err = p.sender.SendCacheUpdate(context.Background(), node, snapshot)
		if err == nil {
			return
		}
		if p.isStopped() {
			return
		}
		attempt++
		if attempt >= maxAttempts {
			log.WithError(err).WithField("node_id", node.NodeID).Error("brokercall: cache update delivery failed, giving up")
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}
