package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordAndQueryBuckets(t *testing.T) {
	var clock = int64(1000 * 60)
	var c = New(func() int64 { return clock })

	c.Record(CounterMessagesIn, 3)
	c.Record(CounterMessagesIn, 2)
	clock += 60
	c.Record(CounterMessagesIn, 1)

	var samples = c.Query(1000*60, clock)
	if len(samples) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(samples))
	}
	if samples[0].Counts[CounterMessagesIn] != 5 {
		t.Fatalf("expected first bucket delta 5, got %d", samples[0].Counts[CounterMessagesIn])
	}
	if samples[1].Totals[CounterMessagesIn] != 6 {
		t.Fatalf("expected running total 6 at second bucket, got %d", samples[1].Totals[CounterMessagesIn])
	}
}

func TestGCRemovesOldBuckets(t *testing.T) {
	var clock = int64(0)
	var c = New(func() int64 { return clock })

	c.Record(CounterConnections, 1)
	clock += int64((4 * 24 * time.Hour).Seconds())
	c.Record(CounterConnections, 1)

	c.GC(DefaultRetention)

	var samples = c.Query(0, clock)
	if len(samples) != 1 {
		t.Fatalf("expected GC to drop the stale bucket, got %d samples", len(samples))
	}
}

type fakeGaugeSource struct{}

func (fakeGaugeSource) ConnectionCount() int         { return 7 }
func (fakeGaugeSource) SessionCount() int            { return 3 }
func (fakeGaugeSource) TopicCount() int              { return 2 }
func (fakeGaugeSource) SubscriberCount() int         { return 5 }
func (fakeGaugeSource) SharedSubscriptionCount() int { return 1 }

func TestCollectorSampleGaugesAndCounters(t *testing.T) {
	var reg = prometheus.NewRegistry()
	var cache = New(func() int64 { return 0 })
	var collector = NewCollector(reg, cache, fakeGaugeSource{})

	collector.SampleGauges()
	collector.RecordMessageIn()
	collector.RecordMessageIn()

	if got := collector.totalFor(CounterMessagesIn); got != 2 {
		t.Fatalf("expected total 2, got %d", got)
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Fatalf("expected registered metric families")
	}
}

func TestRateTrackerComputesDeltaPerSecond(t *testing.T) {
	var rt = newRateTracker()
	var first = rt.Update(10)
	if first != 0 {
		t.Fatalf("expected first call to report 0 rate, got %v", first)
	}
	time.Sleep(10 * time.Millisecond)
	var second = rt.Update(20)
	if second <= 0 {
		t.Fatalf("expected positive rate after increase, got %v", second)
	}
}
