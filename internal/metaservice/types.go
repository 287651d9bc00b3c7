package metaservice

import "github.com/robustmq/robustmq-sub002/internal/security"

// ClusterNode is spec §3 "Cluster Node".
type ClusterNode struct {
	NodeID    uint64
	Roles     []string // subset of {"broker", "meta-service", "journal"}
	RPCAddr   string
	StartTime int64
	LastBeat  int64
}

// SessionRecord is spec §3 "Session".
type SessionRecord struct {
	ClientID       string
	SessionExpiry  int64
	LastWillDelay  int64
	HasLastWill    bool
	CurrentConnID  uint64
	Connected      bool
	LastDisconnect int64
}

// TopicRecord is spec §3 "Topic" minus its retained-message slot, which is
// stored separately under a topic-retain key so retain clearing doesn't
// require rewriting the whole topic record.
type TopicRecord struct {
	Name string
}

// RetainedMessage is a topic's retained-message slot.
type RetainedMessage struct {
	Payload    []byte
	QoS        int
	Properties map[string]string
}

// LastWillRecord is a session's saved last-will payload.
type LastWillRecord struct {
	ClientID string
	Payload  []byte
	Delay    int64
}

// ShareSubLeaderRecord answers "which node currently owns the round-robin
// cursor for this shared-subscription group" (original_source
// share_leader_push.rs / sub_share_leader.rs; see SPEC_FULL.md §D).
type ShareSubLeaderRecord struct {
	Namespace string
	Topic     string
	Group     string
	LeaderID  uint64
}

// TopicRewriteRule rewrites an inbound topic name before matching.
type TopicRewriteRule struct {
	Action      string // "publish" or "subscribe"
	SourceTopic string
	DestTopic   string
	Regex       string
}

// ConnectorRecord describes one configured data connector (sink/source).
type ConnectorRecord struct {
	Name       string
	Kind       string
	Config     map[string]string
	TopicName  string
}

// AutoSubscribeRule is applied to every new session on connect.
type AutoSubscribeRule struct {
	Topic          string
	QoS            int
	NoLocal        bool
	RetainAsPub    bool
	RetainHandling string
}

// SchemaRecord is one registered message schema.
type SchemaRecord struct {
	Name   string
	Kind   string // e.g. "json", "avro", "protobuf"
	Schema []byte
}

// SchemaBindingRecord binds a schema to a resource (typically a topic).
type SchemaBindingRecord struct {
	SchemaName string
	Resource   string
}

// ResourceConfigRecord is a generic named config blob (spec §4.2
// "set_resource_config / get_resource_config / delete_resource_config").
type ResourceConfigRecord struct {
	Name  string
	Value []byte
}

// OffsetRecord persists a consumer group's committed offset for one
// namespace/shard.
type OffsetRecord struct {
	Group     string
	Namespace string
	Shard     string
	Offset    uint64
}

// UserRecord is a user credential persisted via the state machine; it
// reuses security.StoredCredential for the hash encoding itself.
type UserRecord struct {
	Username   string
	Credential security.StoredCredential
}

// ACLRuleRecord and BlacklistRecord reuse the security package's rule
// shapes directly, since the state machine is just their durable home.
type ACLRuleRecord = security.Rule
type BlacklistRecord = security.BlacklistEntry
