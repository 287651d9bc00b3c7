package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GaugeSource supplies the live counts spec §4.9's recording task samples
// on each tick (connection count, session count, topic count, subscriber
// count, shared-subscription count).
type GaugeSource interface {
	ConnectionCount() int
	SessionCount() int
	TopicCount() int
	SubscriberCount() int
	SharedSubscriptionCount() int
}

// Collector wires the Cache's counters and a GaugeSource's live gauges
// into Prometheus, grounded on
// adred-codev-ws_poc/go-server/internal/metrics/metrics.go's promauto
// construction pattern and its MessageRateTracker for per-interval rates.
type Collector struct {
	cache  *Cache
	source GaugeSource

	messagesIn   prometheus.Counter
	messagesOut  prometheus.Counter
	messagesDrop prometheus.Counter

	connections prometheus.Gauge
	sessions    prometheus.Gauge
	topics      prometheus.Gauge
	subscribers prometheus.Gauge
	sharedSubs  prometheus.Gauge

	inRate  *rateTracker
	outRate *rateTracker
}

// NewCollector constructs and registers a Collector against reg (pass
// prometheus.DefaultRegisterer for the global registry, or a dedicated
// registry in tests).
func NewCollector(reg prometheus.Registerer, cache *Cache, source GaugeSource) *Collector {
	var factory = promauto.With(reg)
	return &Collector{
		cache:  cache,
		source: source,
		messagesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "robustmq_messages_in_total",
			Help: "Total MQTT PUBLISH packets received from clients.",
		}),
		messagesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "robustmq_messages_out_total",
			Help: "Total MQTT PUBLISH packets delivered to clients.",
		}),
		messagesDrop: factory.NewCounter(prometheus.CounterOpts{
			Name: "robustmq_messages_dropped_total",
			Help: "Total messages dropped (expired, no-local, or subscriber unavailable).",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robustmq_connections",
			Help: "Current live connection count across all transports.",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robustmq_sessions",
			Help: "Current session count.",
		}),
		topics: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robustmq_topics",
			Help: "Current topic count.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robustmq_subscribers",
			Help: "Current subscriber count.",
		}),
		sharedSubs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "robustmq_shared_subscriptions",
			Help: "Current shared subscription group count.",
		}),
		inRate:  newRateTracker(),
		outRate: newRateTracker(),
	}
}

// RecordMessageIn increments both the Prometheus counter and the
// time-bucketed Cache entry for an inbound PUBLISH.
func (c *Collector) RecordMessageIn() {
	c.messagesIn.Inc()
	c.cache.Record(CounterMessagesIn, 1)
}

// RecordMessageOut mirrors RecordMessageIn for outbound deliveries.
func (c *Collector) RecordMessageOut() {
	c.messagesOut.Inc()
	c.cache.Record(CounterMessagesOut, 1)
}

// RecordMessageDrop mirrors RecordMessageIn for dropped messages.
func (c *Collector) RecordMessageDrop() {
	c.messagesDrop.Inc()
	c.cache.Record(CounterMessagesDrop, 1)
}

// RecordConnectionDelta adjusts the connections counter bucket by delta
// (+1 on connect, -1 on disconnect).
func (c *Collector) RecordConnectionDelta(delta int64) {
	c.cache.Record(CounterConnections, delta)
}

// RecordTopicDelta mirrors RecordConnectionDelta for topic creation/deletion.
func (c *Collector) RecordTopicDelta(delta int64) {
	c.cache.Record(CounterTopics, delta)
}

// RecordSubscriptionDelta mirrors RecordConnectionDelta for subscribe/unsubscribe.
func (c *Collector) RecordSubscriptionDelta(delta int64) {
	c.cache.Record(CounterSubscriptions, delta)
}

// SampleGauges reads the current live counts from the GaugeSource and
// updates the Prometheus gauges plus the in/out rate trackers (spec §4.9
// periodic gauge sampling).
func (c *Collector) SampleGauges() {
	c.connections.Set(float64(c.source.ConnectionCount()))
	c.sessions.Set(float64(c.source.SessionCount()))
	c.topics.Set(float64(c.source.TopicCount()))
	c.subscribers.Set(float64(c.source.SubscriberCount()))
	c.sharedSubs.Set(float64(c.source.SharedSubscriptionCount()))
}

// MessageInRate returns the inbound message rate, as the change in the
// running total per second since the previous call, by feeding the
// running total into a rateTracker.
func (c *Collector) MessageInRate() float64 {
	return c.inRate.Update(float64(c.totalFor(CounterMessagesIn)))
}

// MessageOutRate mirrors MessageInRate for outbound messages.
func (c *Collector) MessageOutRate() float64 {
	return c.outRate.Update(float64(c.totalFor(CounterMessagesOut)))
}

func (c *Collector) totalFor(kind Counter) int64 {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	return c.cache.totals[kind]
}

// Run samples gauges every tick until stop is closed; callers typically run
// this alongside a separate GC ticker at a coarser interval.
func (c *Collector) Run(tick <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-tick:
			c.SampleGauges()
		}
	}
}

// rateTracker computes a per-second rate from successive running
// totals, grounded on
// adred-codev-ws_poc/go-server/internal/metrics/metrics.go's
// MessageRateTracker.
type rateTracker struct {
	mu        sync.Mutex
	lastTotal float64
	lastAt    time.Time
	haveFirst bool
	rate      float64
}

func newRateTracker() *rateTracker { return &rateTracker{} }

// Update records the current running total and returns the delta per
// second since the previous call.
func (r *rateTracker) Update(total float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var now = time.Now()
	if !r.haveFirst {
		r.lastTotal = total
		r.lastAt = now
		r.haveFirst = true
		return 0
	}
	var elapsed = now.Sub(r.lastAt).Seconds()
	if elapsed > 0 {
		r.rate = (total - r.lastTotal) / elapsed
	}
	r.lastTotal = total
	r.lastAt = now
	return r.rate
}
