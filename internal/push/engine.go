package push

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/session"
	"github.com/robustmq/robustmq-sub002/internal/subscribe"
	"github.com/robustmq/robustmq-sub002/internal/topicmatch"
)

// TopicLister is the subset of internal/metaservice Engine needs to find
// topics a wildcard subscription already matches at subscribe time; topics
// created afterward are instead picked up by EnsureTasksForTopic from the
// publish path.
type TopicLister interface {
	ListTopics(ctx context.Context) <-chan metaservice.TopicRecord
}

// runningTask is the subset of ExclusiveTask/SharedTask Engine tracks.
type runningTask interface {
	Stop()
}

// taskKey identifies one running push task. ClientID is set for exclusive
// tasks, Group for shared tasks; exactly one of the two is non-empty.
type taskKey struct {
	namespace string
	clientID  string
	group     string
	subPath   string
	topic     string
}

// Engine is the missing caller spec §4.8's exclusive/shared push tasks and
// retained-message delivery were built against: it spawns one task per
// (client-or-group, sub-path, topic) on Subscribe, stops them on
// Unsubscribe/disconnect, and lazily spawns tasks for topics a wildcard
// subscription matches once they're first published to. Grounded on the
// same spawn-track-stop shape internal/brokercall's per-node dispatch loop
// uses, generalized from "one goroutine per cluster node" to "one goroutine
// per push subject".
type Engine struct {
	Journal   JournalSource
	Offsets   OffsetStore
	Deliverer Deliverer
	Sessions  *session.Manager
	Now       func() int64
	Elector   *ShareLeaderElector
	Retain    RetainStore
	Metrics   Metrics
	Topics    TopicLister

	mu    sync.Mutex
	tasks map[taskKey]runningTask
}

// NewEngine constructs an Engine ready to spawn tasks.
func NewEngine(journalSrc JournalSource, offsets OffsetStore, deliverer Deliverer, sessions *session.Manager, now func() int64, elector *ShareLeaderElector, retain RetainStore, topics TopicLister) *Engine {
	return &Engine{
		Journal: journalSrc, Offsets: offsets, Deliverer: deliverer, Sessions: sessions, Now: now,
		Elector: elector, Retain: retain, Topics: topics, tasks: make(map[taskKey]runningTask),
	}
}

// EnsureTaskForSubscribe spawns whatever push task(s) a freshly-installed
// subscription needs and delivers its retained message, given the exact
// (namespace, subPath, data) Router.Subscribe was just called with. A
// concrete (wildcard-free) filter maps directly onto one journal shard of
// the same name; a wildcarded filter is matched against every topic Topics
// already knows about.
func (e *Engine) EnsureTaskForSubscribe(ctx context.Context, namespace, subPath string, data subscribe.SubscribeData, router *subscribe.Router, isNew bool) {
	var _, bareFilter, _ = topicmatch.SplitShare(data.Filter)

	if !hasWildcard(bareFilter) {
		e.spawnAndRetain(ctx, namespace, subPath, bareFilter, data, router, isNew)
		return
	}
	if e.Topics == nil {
		return
	}
	for rec := range e.Topics.ListTopics(ctx) {
		if topicmatch.Matches(bareFilter, rec.Name) {
			e.spawnAndRetain(ctx, namespace, subPath, rec.Name, data, router, isNew)
		}
	}
}

// EnsureTasksForTopic is called once a topic is known to exist (spec §2's
// publish-path Flow step "enqueue for Push"): it spawns any still-missing
// task for every live subscription -- exclusive or shared -- matching
// topic, so a wildcard subscription made before the topic existed still
// gets delivery once traffic starts flowing.
func (e *Engine) EnsureTasksForTopic(ctx context.Context, namespace, topic string, router *subscribe.Router) {
	for _, data := range router.Matching(topic) {
		var _, bareFilter, _ = topicmatch.SplitShare(data.Filter)
		var subPath = bareFilter
		if !data.IsShared() {
			subPath = data.Filter
		}
		e.spawn(ctx, namespace, subPath, topic, data, router)
	}
}

func (e *Engine) spawnAndRetain(ctx context.Context, namespace, subPath, topic string, data subscribe.SubscribeData, router *subscribe.Router, isNew bool) {
	e.spawn(ctx, namespace, subPath, topic, data, router)
	if e.Retain == nil {
		return
	}
	if err := DeliverRetained(ctx, e.Retain, e.Deliverer, e.Sessions, e.Now, data.ClientID, topic, data, isNew); err != nil {
		log.WithError(err).WithFields(log.Fields{"client_id": data.ClientID, "topic": topic}).Warn("push: retained delivery failed")
	}
}

func (e *Engine) spawn(ctx context.Context, namespace, subPath, topic string, data subscribe.SubscribeData, router *subscribe.Router) {
	if data.IsShared() {
		e.spawnShared(ctx, namespace, subPath, topic, data, router)
		return
	}
	e.spawnExclusive(ctx, namespace, subPath, topic, data)
}

func (e *Engine) spawnExclusive(ctx context.Context, namespace, subPath, topic string, data subscribe.SubscribeData) {
	var key = taskKey{namespace: namespace, clientID: data.ClientID, subPath: subPath, topic: topic}

	e.mu.Lock()
	if _, running := e.tasks[key]; running {
		e.mu.Unlock()
		return
	}
	var task = NewExclusiveTask(data.ClientID, subPath, namespace, topic, data.QoS,
		data.RetainAsPublished, data.NoLocal, data.SubscriptionID, e.Journal, e.Offsets, e.Deliverer, e.Sessions, e.Now)
	task.Metrics = e.Metrics
	e.tasks[key] = task
	e.mu.Unlock()

	go task.Run(ctx)
}

func (e *Engine) spawnShared(ctx context.Context, namespace, subPath, topic string, data subscribe.SubscribeData, router *subscribe.Router) {
	if e.Elector != nil {
		var leader, err = e.Elector.IsLeader(ctx, namespace, topic, data.GroupName)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"group": data.GroupName, "topic": topic}).Warn("push: leader election failed")
			return
		}
		if !leader {
			return
		}
	}

	var key = taskKey{namespace: namespace, group: data.GroupName, subPath: subPath, topic: topic}

	e.mu.Lock()
	if _, running := e.tasks[key]; running {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	var members, ok = router.SharedGroupFor(namespace, subPath, data.GroupName, subPath)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.tasks[key]; running {
		return
	}
	var task = NewSharedTask(namespace, topic, topic, data.GroupName, subPath, data.QoS, members,
		e.Journal, e.Offsets, e.Deliverer, e.Sessions, e.Now)
	task.Metrics = e.Metrics
	e.tasks[key] = task
	go task.Run(ctx)
}

// StopForFilter stops every task a (clientID-or-group, filter) subscription
// spawned, across every topic a wildcard filter matched (spec §4.8,
// Unsubscribe). group is "" for an exclusive (non-shared) filter.
func (e *Engine) StopForFilter(namespace, clientID, group, filter string) {
	var _, bareFilter, _ = topicmatch.SplitShare(filter)
	var subPath = bareFilter
	if group == "" {
		subPath = filter
	}

	e.mu.Lock()
	var toStop []runningTask
	for k, t := range e.tasks {
		if k.namespace != namespace || k.subPath != subPath {
			continue
		}
		if group != "" {
			if k.group != group {
				continue
			}
		} else if k.clientID != clientID {
			continue
		}
		toStop = append(toStop, t)
		delete(e.tasks, k)
	}
	e.mu.Unlock()

	for _, t := range toStop {
		t.Stop()
	}
}

// StopAllForClient stops every exclusive task clientID owns (disconnect);
// shared tasks stay running for the group's remaining members.
func (e *Engine) StopAllForClient(clientID string) {
	e.mu.Lock()
	var toStop []runningTask
	for k, t := range e.tasks {
		if k.clientID == clientID {
			toStop = append(toStop, t)
			delete(e.tasks, k)
		}
	}
	e.mu.Unlock()

	for _, t := range toStop {
		t.Stop()
	}
}

func hasWildcard(filter string) bool {
	for i := 0; i < len(filter); i++ {
		if filter[i] == '+' || filter[i] == '#' {
			return true
		}
	}
	return false
}
