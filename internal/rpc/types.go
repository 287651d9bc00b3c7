package rpc

import "github.com/robustmq/robustmq-sub002/internal/metaservice"

// Envelope carries one domain-call operation: an op name plus its
// gob-encoded typed payload. Used by the domain_call method to multiplex the large
// MQTT-domain / schema / journal-domain operation groups spec §4.2 lists
// categorically (rather than hand-declaring one grpc.ServiceDesc method per
// operation, which §4.2 does not require individually by name the way
// §4.2's cluster/KV/resource-config/offset bullets and §6's Broker-inner
// bullet do).
type Envelope struct {
	Op      string
	Payload []byte
}

// --- cluster ---

type RegisterNodeRequest struct{ Node metaservice.ClusterNode }
type UnRegisterNodeRequest struct{ NodeID uint64 }
type HeartbeatRequest struct {
	NodeID uint64
	Now    int64
}
type NodeListResponse struct{ Nodes []metaservice.ClusterNode }
type ClusterStatusResponse struct{ Status metaservice.ClusterStatus }

// --- kv primitives ---

type SetRequest struct {
	Key   string
	Value []byte
}
type GetRequest struct{ Key string }
type GetResponse struct{ Value []byte }
type DeleteRequest struct{ Key string }
type ExistsRequest struct{ Key string }
type ExistsResponse struct{ Exists bool }
type GetPrefixRequest struct{ Prefix string }
type GetPrefixResponse struct{ Values map[string][]byte }

// --- resource config ---

type SetResourceConfigRequest struct {
	Name  string
	Value []byte
}
type GetResourceConfigRequest struct{ Name string }
type GetResourceConfigResponse struct{ Record metaservice.ResourceConfigRecord }
type DeleteResourceConfigRequest struct{ Name string }

// --- offsets ---

type SaveOffsetRequest struct{ Record metaservice.OffsetRecord }
type GetOffsetRequest struct {
	Group     string
	Namespace string
	Shard     string
}
type GetOffsetResponse struct{ Record metaservice.OffsetRecord }

// Empty is used for RPCs that carry no meaningful request or response
// fields.
type Empty struct{}
