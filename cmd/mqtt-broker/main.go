// Command mqtt-broker runs one MQTT broker node: it accepts TCP/TLS/
// WebSocket connections into the Connection Registry (spec §4.4),
// authenticates and dispatches decoded packets through the Protocol
// Dispatcher (spec §4.10), and reaches the cluster's metadata through the
// meta-service control RPC. As with meta-service, config-file and flag
// parsing are external collaborators per spec.md §1; Options is a typed
// struct constructed by whatever embeds this binary.
package main

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robustmq/robustmq-sub002/internal/clock"
	"github.com/robustmq/robustmq-sub002/internal/connreg"
	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/metrics"
	"github.com/robustmq/robustmq-sub002/internal/protocol"
	"github.com/robustmq/robustmq-sub002/internal/push"
	"github.com/robustmq/robustmq-sub002/internal/rpc"
	"github.com/robustmq/robustmq-sub002/internal/security"
	"github.com/robustmq/robustmq-sub002/internal/session"
	"github.com/robustmq/robustmq-sub002/internal/subscribe"
)

// Options configures one broker node.
type Options struct {
	NodeID         uint64
	Namespace      string
	ClusterName    string
	TCPAddr        string
	MetaAddr       string
	BrokerAddr     string // this node's own RPCAddr, advertised to peers via rpc.BrokerInnerServer
	JournalDirs    []string
	ReplicaCount   uint32
	MaxSegmentSize int64
}

func main() {
	var opts = Options{
		NodeID:         1,
		Namespace:      "default",
		ClusterName:    "default",
		TCPAddr:        ":1883",
		MetaAddr:       "127.0.0.1:9981",
		BrokerAddr:     ":9991",
		JournalDirs:    []string{"./data/journal"},
		ReplicaCount:   1,
		MaxSegmentSize: 128 << 20,
	}
	if err := run(opts); err != nil {
		log.WithError(err).Fatal("mqtt-broker: exited")
	}
}

// metaUserStore adapts the meta-service control RPC to security.UserStore
// (spec §4.6 "If the user is not in cache, consult the storage backend").
type metaUserStore struct {
	meta *rpc.MetaServiceClient
}

func (s metaUserStore) LookupUser(username string) (security.StoredCredential, error) {
	var rec, err = s.meta.GetUser(context.Background(), username)
	if err != nil {
		return security.StoredCredential{}, err
	}
	return rec.Credential, nil
}

// metaBridge adapts *rpc.MetaServiceClient to protocol.MetaClient, the
// narrow subset the dispatcher consults directly.
type metaBridge struct {
	meta *rpc.MetaServiceClient
}

func (b metaBridge) SaveSession(ctx context.Context, rec metaservice.SessionRecord) error {
	return b.meta.SaveSession(ctx, rec)
}
func (b metaBridge) GetSession(clientID string) (metaservice.SessionRecord, error) {
	return b.meta.GetSession(context.Background(), clientID)
}
func (b metaBridge) DeleteSession(ctx context.Context, clientID string) error {
	return b.meta.DeleteSession(ctx, clientID)
}
func (b metaBridge) CreateTopic(ctx context.Context, topic string) error {
	return b.meta.CreateTopic(ctx, topic)
}
func (b metaBridge) SetTopicRetain(ctx context.Context, topic string, msg metaservice.RetainedMessage) error {
	return b.meta.SetTopicRetain(ctx, topic, msg)
}
func (b metaBridge) ClearTopicRetain(ctx context.Context, topic string) error {
	return b.meta.ClearTopicRetain(ctx, topic)
}
func (b metaBridge) SaveLastWill(ctx context.Context, rec metaservice.LastWillRecord) error {
	return b.meta.SaveLastWill(ctx, rec)
}
func (b metaBridge) SaveSubscribe(ctx context.Context, clientID, filter string, payload []byte) error {
	return b.meta.SaveSubscribe(ctx, clientID, filter, payload)
}
func (b metaBridge) DeleteSubscribe(ctx context.Context, clientID, filter string) error {
	return b.meta.DeleteSubscribe(ctx, clientID, filter)
}

// metaNodeLister adapts the meta-service control RPC to journal.NodeLister
// (spec §4.1 "Segment placement"), filtering the cluster node list down to
// nodes advertising the journal role.
type metaNodeLister struct {
	meta *rpc.MetaServiceClient
}

func (l metaNodeLister) JournalNodeIDs() []uint64 {
	var nodes, err = l.meta.NodeList(context.Background())
	if err != nil {
		return nil
	}
	var ids []uint64
	for _, n := range nodes {
		for _, role := range n.Roles {
			if role == "journal" {
				ids = append(ids, n.NodeID)
				break
			}
		}
	}
	return ids
}

// pushOffsetStore, pushRetainStore, pushLeaderStore and pushTopicLister
// adapt the meta-service control RPC to the narrow interfaces the Push
// Engine (internal/push) consults; each mirrors metaBridge above but for
// the collaborators push.Engine needs instead of protocol.Service.
type pushOffsetStore struct {
	meta *rpc.MetaServiceClient
}

func (o pushOffsetStore) GetOffset(group, namespace, shard string) (metaservice.OffsetRecord, error) {
	return o.meta.GetOffset(context.Background(), group, namespace, shard)
}
func (o pushOffsetStore) SaveOffset(ctx context.Context, rec metaservice.OffsetRecord) error {
	return o.meta.SaveOffset(ctx, rec)
}

type pushRetainStore struct {
	meta *rpc.MetaServiceClient
}

func (r pushRetainStore) GetTopicRetain(topic string) (metaservice.RetainedMessage, error) {
	return r.meta.GetTopicRetain(context.Background(), topic)
}

type pushLeaderStore struct {
	meta *rpc.MetaServiceClient
}

func (l pushLeaderStore) GetShareSubLeader(namespace, topic, group string) (metaservice.ShareSubLeaderRecord, error) {
	return l.meta.GetShareSubLeader(context.Background(), namespace, topic, group)
}
func (l pushLeaderStore) SetShareSubLeader(ctx context.Context, rec metaservice.ShareSubLeaderRecord) error {
	return l.meta.SetShareSubLeader(ctx, rec)
}

type pushTopicLister struct {
	meta *rpc.MetaServiceClient
}

func (t pushTopicLister) ListTopics(ctx context.Context) <-chan metaservice.TopicRecord {
	var ch, err = t.meta.StreamTopics(ctx)
	if err != nil {
		log.WithError(err).Warn("mqtt-broker: stream topics failed")
		var empty = make(chan metaservice.TopicRecord)
		close(empty)
		return empty
	}
	return ch
}

// brokerGaugeSource adapts this node's local collaborators plus the
// meta-service client into metrics.GaugeSource (spec §4.9 periodic gauge
// sampling).
type brokerGaugeSource struct {
	registry *connreg.Registry
	router   *subscribe.Router
	meta     *rpc.MetaServiceClient
}

func (g brokerGaugeSource) ConnectionCount() int { return g.registry.ConnectionCount() }

func (g brokerGaugeSource) SessionCount() int {
	var sessions, err = g.meta.ListSessions(context.Background())
	if err != nil {
		return 0
	}
	return len(sessions)
}

func (g brokerGaugeSource) TopicCount() int {
	var ch, err = g.meta.StreamTopics(context.Background())
	if err != nil {
		return 0
	}
	var n int
	for range ch {
		n++
	}
	return n
}

func (g brokerGaugeSource) SubscriberCount() int       { return g.router.SubscriberCount() }
func (g brokerGaugeSource) SharedSubscriptionCount() int { return g.router.SharedSubscriptionCount() }

// tickEvery is a tiny time.Ticker-backed channel source, used instead of
// handing *time.Ticker itself around so tests elsewhere in this package
// tree can substitute a manually-driven channel.
func tickEvery(d time.Duration) <-chan time.Time {
	return time.NewTicker(d).C
}

// gcEvery runs the metrics cache's retention sweep on a fixed interval
// (spec §4.9 "A GC task removes buckets older than 3 days").
func gcEvery(cache *metrics.Cache, retention, interval time.Duration) {
	for range time.Tick(interval) {
		cache.GC(retention)
	}
}

func dialRPC(addr string) (grpc.ClientConnInterface, error) {
	return grpc.NewClient(addr, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)))
}

func run(opts Options) error {
	var metaConn, err = dialRPC(opts.MetaAddr)
	if err != nil {
		return err
	}
	var metaClient = rpc.NewMetaServiceClient(metaConn)

	var registry = connreg.New(connreg.DefaultBackoffPolicy, connreg.DefaultNotAvailablePredicate)
	var authn = security.NewAuthenticator(metaUserStore{meta: metaClient})
	var acl = security.NewACL()
	var blacklist = security.NewBlacklist()
	var router = subscribe.New()
	var sessions = session.NewManager()
	var wallClock clock.Clock = clock.Wall{}

	var metricsCache = metrics.New(wallClock.NowUnix)
	var collector = metrics.NewCollector(prometheus.DefaultRegisterer, metricsCache,
		brokerGaugeSource{registry: registry, router: router, meta: metaClient})
	go collector.Run(tickEvery(time.Minute), make(chan struct{}))
	go gcEvery(metricsCache, metrics.DefaultRetention, time.Hour)

	var journalStore = journal.NewStore(opts.NodeID, opts.JournalDirs, metaNodeLister{meta: metaClient}, wallClock.NowUnix)

	var svc = &protocol.Service{
		Registry:       registry,
		Sessions:       sessions,
		Authn:          authn,
		ACL:            acl,
		Blacklist:      blacklist,
		Router:         router,
		Meta:           metaBridge{meta: metaClient},
		Now:            wallClock.NowUnix,
		Metrics:        collector,
		ClusterName:    opts.ClusterName,
		Journal:        journalStore,
		ReplicaCount:   opts.ReplicaCount,
		MaxSegmentSize: opts.MaxSegmentSize,
	}

	var elector = push.NewShareLeaderElector(pushLeaderStore{meta: metaClient}, opts.NodeID)
	svc.Push = push.NewEngine(journalStore, pushOffsetStore{meta: metaClient}, svc, sessions, wallClock.NowUnix,
		elector, pushRetainStore{meta: metaClient}, pushTopicLister{meta: metaClient})
	svc.Push.Metrics = collector

	var biServer = &rpc.BrokerInnerServer{Handler: cacheApplier{acl: acl, blacklist: blacklist, router: router}}
	var grpcServer = grpc.NewServer()
	grpcServer.RegisterService(&rpc.BrokerInnerServiceDesc, biServer)

	var biLis, err2 = net.Listen("tcp", opts.BrokerAddr)
	if err2 != nil {
		return err2
	}
	go func() {
		if err := grpcServer.Serve(biLis); err != nil {
			log.WithError(err).Error("mqtt-broker: broker-inner rpc server exited")
		}
	}()

	var lis, err3 = net.Listen("tcp", opts.TCPAddr)
	if err3 != nil {
		return err3
	}
	log.WithFields(log.Fields{"node_id": opts.NodeID, "addr": opts.TCPAddr}).Info("mqtt-broker: listening")
	return acceptLoop(lis, registry, svc, opts.Namespace)
}

func acceptLoop(lis net.Listener, registry *connreg.Registry, svc *protocol.Service, namespace string) error {
	var nextID uint64
	for {
		var netConn, err = lis.Accept()
		if err != nil {
			return err
		}
		nextID++
		var id = nextID
		registry.AddConnection(connreg.Descriptor{ID: id, Kind: connreg.KindTCP}, connreg.NewNetFrameWriter(netConn))
		log.WithField("conn_id", id).Debug("mqtt-broker: accepted connection")
		go serveConn(netConn, id, svc, namespace)
	}
}

// serveConn reads length-framed packets off netConn (the inbound
// counterpart to internal/connreg's netFrameWriter, which frames outbound
// writes the same way) and dispatches each decoded packet through svc,
// until the client disconnects or a framing/decode error ends the
// connection (spec §4.10's dispatcher is the routing layer; this loop is
// the wire boundary that feeds it, the same split packet.go's package doc
// draws between codec and routing).
func serveConn(netConn net.Conn, id uint64, svc *protocol.Service, namespace string) {
	var conn = &protocol.Conn{ID: id, Kind: connreg.KindTCP, Namespace: namespace}
	var ctx = context.Background()

	for {
		var frame, err = readFrame(netConn)
		if err != nil {
			if err != io.EOF {
				log.WithError(err).WithField("conn_id", id).Debug("mqtt-broker: connection read failed")
			}
			return
		}

		var kind, pkt, decErr = protocol.DecodePacket(frame)
		if decErr != nil {
			log.WithError(decErr).WithField("conn_id", id).Warn("mqtt-broker: malformed packet")
			return
		}

		if err := svc.Dispatch(ctx, conn, kind, pkt); err != nil {
			log.WithError(err).WithFields(log.Fields{"conn_id": id, "kind": kind}).Debug("mqtt-broker: dispatch failed")
			return
		}
	}
}

// readFrame reads one [len: u32 big-endian][payload] frame off conn, the
// same framing internal/connreg.netFrameWriter uses for outbound writes.
func readFrame(conn net.Conn) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return nil, err
	}
	var n = binary.BigEndian.Uint32(header[:])
	var payload = make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// cacheApplier is the receiving side of cache-update events pushed from the
// meta-service (spec §4.3). ApplyDeleteSessions removes the listed clients'
// subscriptions from the local router; ApplyCommonUpdateCache,
// ApplyMqttUpdateCache and ApplyLastWill only log what they receive and do
// not change the local ACL, blacklist or router caches.
type cacheApplier struct {
	acl       *security.ACL
	blacklist *security.Blacklist
	router    *subscribe.Router
}

func (a cacheApplier) ApplyCommonUpdateCache(ctx context.Context, records []rpc.CacheRecord) error {
	for _, r := range records {
		log.WithFields(log.Fields{"action": r.Action, "resource": r.Resource}).Debug("mqtt-broker: cache update applied")
	}
	return nil
}

func (a cacheApplier) ApplyMqttUpdateCache(ctx context.Context, actionType, resourceType string, payload []byte) error {
	log.WithFields(log.Fields{"action": actionType, "resource": resourceType}).Debug("mqtt-broker: mqtt cache update applied")
	return nil
}

func (a cacheApplier) ApplyLastWill(ctx context.Context, clientID string, payload []byte) error {
	log.WithField("client_id", clientID).Debug("mqtt-broker: last-will dispatch received")
	return nil
}

func (a cacheApplier) ApplyDeleteSessions(ctx context.Context, clientIDs []string, clusterName string) error {
	for _, id := range clientIDs {
		a.router.RemoveClientAll(clusterName, id)
	}
	return nil
}
