// +build integration

package integration

import (
	"testing"
	"time"

	"github.com/jgraettinger/urkel"
)

// Pod selectors for a deployed RobustMQ cluster's three node roles (spec
// §3 "Cluster Node" roles: broker, meta-service, journal). There is no
// external etcd/minio tier to fault-inject against the way the teacher's
// gazette+etcd+summer+minio topology does: the Metadata State Machine
// embeds its own raft log (spec §4.2) and the Segment Store is local disk
// (spec §4.1), so the partitions below exercise this module's own
// consensus and broker-call boundaries instead.
var (
	metaServicePodSelector = "app.kubernetes.io/name=robustmq-meta-service"
	brokerPodSelector      = "app.kubernetes.io/name=robustmq-mqtt-broker"
	journalPodSelector     = "app.kubernetes.io/name=robustmq-journal"
)

// TestPartitionWithinMetaServiceCluster splits the raft-replicated
// meta-service nodes in half; the minority side must stop accepting writes
// once it loses quorum (spec §4.2 "replicated via consensus").
func TestPartitionWithinMetaServiceCluster(t *testing.T) {
	var pods = urkel.FetchPods(t, "default", metaServicePodSelector)

	var fs = urkel.NewFaultSet(t)
	defer fs.RemoveAll()

	fs.Partition(pods[:len(pods)/2], pods[len(pods)/2:], urkel.Drop)
	time.Sleep(time.Minute)
}

// TestPartitionOneBrokerFromMetaService isolates a single broker from every
// meta-service node; its Broker-Call Pipeline receiver (spec §4.3) should
// fall behind and catch up once the partition heals, without the broker
// process itself failing.
func TestPartitionOneBrokerFromMetaService(t *testing.T) {
	var metaNodes = urkel.FetchPods(t, "default", metaServicePodSelector)
	var brokers = urkel.FetchPods(t, "default", brokerPodSelector)

	var fs = urkel.NewFaultSet(t)
	defer fs.RemoveAll()

	fs.Partition(metaNodes, brokers[:1], urkel.Drop)
	time.Sleep(time.Minute)
}

// TestPartitionOneJournalFromMetaService isolates a single journal node
// from the meta-service cluster; segment/shard status updates (spec §4.2
// "Journal domain") should queue and replay once the partition heals.
func TestPartitionOneJournalFromMetaService(t *testing.T) {
	var metaNodes = urkel.FetchPods(t, "default", metaServicePodSelector)
	var journals = urkel.FetchPods(t, "default", journalPodSelector)

	var fs = urkel.NewFaultSet(t)
	defer fs.RemoveAll()

	fs.Partition(metaNodes, journals[:1], urkel.Drop)
	time.Sleep(time.Minute)
}

// TestActivePartitionOneJournalFromBrokers actively rejects (rather than
// drops) traffic between brokers and one journal node, exercising the
// Push Engine's offset-commit retry loop (spec §4.8 "infinite retries ...
// abort on stop signal") against a fast-failing peer instead of a silent
// timeout.
func TestActivePartitionOneJournalFromBrokers(t *testing.T) {
	var brokers = urkel.FetchPods(t, "default", brokerPodSelector)
	var journals = urkel.FetchPods(t, "default", journalPodSelector)

	var fs = urkel.NewFaultSet(t)
	defer fs.RemoveAll()

	fs.Partition(brokers, journals[:1], urkel.Reject)
	time.Sleep(10 * time.Second)
}

// TestActivePartitionOneBrokerFromJournals is the mirror of the above: one
// broker actively rejected by every journal node.
func TestActivePartitionOneBrokerFromJournals(t *testing.T) {
	var brokers = urkel.FetchPods(t, "default", brokerPodSelector)
	var journals = urkel.FetchPods(t, "default", journalPodSelector)

	var fs = urkel.NewFaultSet(t)
	defer fs.RemoveAll()

	fs.Partition(brokers[:1], journals, urkel.Reject)
	time.Sleep(10 * time.Second)
}

// TestActivePartitionBrokers splits the broker fleet itself, exercising
// inter-broker isolation: neither half should stop serving its own
// connections (spec §4.4 Connection Registry is per-node, not shared).
func TestActivePartitionBrokers(t *testing.T) {
	var pods = urkel.FetchPods(t, "default", brokerPodSelector)

	var fs = urkel.NewFaultSet(t)
	defer fs.RemoveAll()

	fs.Partition(pods[:len(pods)/2], pods[len(pods)/2:], urkel.Reject)
	time.Sleep(10 * time.Second)
}
