package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
)

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

func invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, args, reply interface{}) error {
	return cc.Invoke(ctx, MetaServiceName+"/"+method, args, reply, callOpts()...)
}

// MetaServiceClient is the client-side counterpart to MetaServer, one
// typed method per grpc.MethodDesc in MetaServiceDesc plus domainCall for
// the multiplexed operation groups. internal/metaservice's StateMachine is
// the local (same-process) implementation; this is the over-the-wire one,
// satisfying the same shape a leader-routing client would need to reach a
// remote meta-service node (spec §4.2, §6).
type MetaServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMetaServiceClient(cc grpc.ClientConnInterface) *MetaServiceClient {
	return &MetaServiceClient{cc: cc}
}

func (c *MetaServiceClient) ClusterStatus(ctx context.Context) (metaservice.ClusterStatus, error) {
	var resp ClusterStatusResponse
	var err = invoke(ctx, c.cc, "cluster_status", &Empty{}, &resp)
	return resp.Status, err
}

func (c *MetaServiceClient) RegisterNode(ctx context.Context, node metaservice.ClusterNode) error {
	return invoke(ctx, c.cc, "register_node", &RegisterNodeRequest{Node: node}, &Empty{})
}

func (c *MetaServiceClient) UnRegisterNode(ctx context.Context, nodeID uint64) error {
	return invoke(ctx, c.cc, "un_register_node", &UnRegisterNodeRequest{NodeID: nodeID}, &Empty{})
}

func (c *MetaServiceClient) Heartbeat(ctx context.Context, nodeID uint64, now int64) error {
	return invoke(ctx, c.cc, "heartbeat", &HeartbeatRequest{NodeID: nodeID, Now: now}, &Empty{})
}

func (c *MetaServiceClient) NodeList(ctx context.Context) ([]metaservice.ClusterNode, error) {
	var resp NodeListResponse
	var err = invoke(ctx, c.cc, "node_list", &Empty{}, &resp)
	return resp.Nodes, err
}

func (c *MetaServiceClient) Set(ctx context.Context, key string, value []byte) error {
	return invoke(ctx, c.cc, "set", &SetRequest{Key: key, Value: value}, &Empty{})
}

func (c *MetaServiceClient) Get(ctx context.Context, key string) ([]byte, error) {
	var resp GetResponse
	var err = invoke(ctx, c.cc, "get", &GetRequest{Key: key}, &resp)
	return resp.Value, err
}

func (c *MetaServiceClient) Delete(ctx context.Context, key string) error {
	return invoke(ctx, c.cc, "delete", &DeleteRequest{Key: key}, &Empty{})
}

func (c *MetaServiceClient) Exists(ctx context.Context, key string) (bool, error) {
	var resp ExistsResponse
	var err = invoke(ctx, c.cc, "exists", &ExistsRequest{Key: key}, &resp)
	return resp.Exists, err
}

func (c *MetaServiceClient) GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	var resp GetPrefixResponse
	var err = invoke(ctx, c.cc, "get_prefix", &GetPrefixRequest{Prefix: prefix}, &resp)
	return resp.Values, err
}

func (c *MetaServiceClient) SetResourceConfig(ctx context.Context, name string, value []byte) error {
	return invoke(ctx, c.cc, "set_resource_config", &SetResourceConfigRequest{Name: name, Value: value}, &Empty{})
}

func (c *MetaServiceClient) GetResourceConfig(ctx context.Context, name string) (metaservice.ResourceConfigRecord, error) {
	var resp GetResourceConfigResponse
	var err = invoke(ctx, c.cc, "get_resource_config", &GetResourceConfigRequest{Name: name}, &resp)
	return resp.Record, err
}

func (c *MetaServiceClient) DeleteResourceConfig(ctx context.Context, name string) error {
	return invoke(ctx, c.cc, "delete_resource_config", &DeleteResourceConfigRequest{Name: name}, &Empty{})
}

func (c *MetaServiceClient) SaveOffset(ctx context.Context, rec metaservice.OffsetRecord) error {
	return invoke(ctx, c.cc, "save_offset", &SaveOffsetRequest{Record: rec}, &Empty{})
}

func (c *MetaServiceClient) GetOffset(ctx context.Context, group, namespace, shard string) (metaservice.OffsetRecord, error) {
	var resp GetOffsetResponse
	var err = invoke(ctx, c.cc, "get_offset", &GetOffsetRequest{Group: group, Namespace: namespace, Shard: shard}, &resp)
	return resp.Record, err
}

func (c *MetaServiceClient) domainCall(ctx context.Context, op string, arg interface{}, out interface{}) error {
	var env = Envelope{Op: op, Payload: encodeGob(arg)}
	var resp Envelope
	if err := invoke(ctx, c.cc, "domain_call", &env, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeInto(resp.Payload, out)
}

func (c *MetaServiceClient) SaveUser(ctx context.Context, rec metaservice.UserRecord) error {
	return c.domainCall(ctx, "save_user", rec, nil)
}

func (c *MetaServiceClient) GetUser(ctx context.Context, username string) (metaservice.UserRecord, error) {
	var out metaservice.UserRecord
	var err = c.domainCall(ctx, "get_user", username, &out)
	return out, err
}

func (c *MetaServiceClient) DeleteUser(ctx context.Context, username string) error {
	return c.domainCall(ctx, "delete_user", username, nil)
}

func (c *MetaServiceClient) SaveSession(ctx context.Context, rec metaservice.SessionRecord) error {
	return c.domainCall(ctx, "save_session", rec, nil)
}

func (c *MetaServiceClient) GetSession(ctx context.Context, clientID string) (metaservice.SessionRecord, error) {
	var out metaservice.SessionRecord
	var err = c.domainCall(ctx, "get_session", clientID, &out)
	return out, err
}

func (c *MetaServiceClient) DeleteSession(ctx context.Context, clientID string) error {
	return c.domainCall(ctx, "delete_session", clientID, nil)
}

func (c *MetaServiceClient) ListSessions(ctx context.Context) ([]metaservice.SessionRecord, error) {
	var out []metaservice.SessionRecord
	var err = c.domainCall(ctx, "list_sessions", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) CreateTopic(ctx context.Context, name string) error {
	return c.domainCall(ctx, "create_topic", name, nil)
}

func (c *MetaServiceClient) SetTopicRetain(ctx context.Context, topic string, msg metaservice.RetainedMessage) error {
	return c.domainCall(ctx, "set_topic_retain", struct {
		Topic string
		Msg   metaservice.RetainedMessage
	}{topic, msg}, nil)
}

func (c *MetaServiceClient) GetTopicRetain(ctx context.Context, topic string) (metaservice.RetainedMessage, error) {
	var out metaservice.RetainedMessage
	var err = c.domainCall(ctx, "get_topic_retain", topic, &out)
	return out, err
}

func (c *MetaServiceClient) ClearTopicRetain(ctx context.Context, topic string) error {
	return c.domainCall(ctx, "clear_topic_retain", topic, nil)
}

func (c *MetaServiceClient) SetShareSubLeader(ctx context.Context, rec metaservice.ShareSubLeaderRecord) error {
	return c.domainCall(ctx, "set_share_sub_leader", rec, nil)
}

func (c *MetaServiceClient) GetShareSubLeader(ctx context.Context, namespace, topic, group string) (metaservice.ShareSubLeaderRecord, error) {
	var out metaservice.ShareSubLeaderRecord
	var err = c.domainCall(ctx, "get_share_sub_leader", metaservice.ShareSubLeaderRecord{Namespace: namespace, Topic: topic, Group: group}, &out)
	return out, err
}

func (c *MetaServiceClient) SaveLastWill(ctx context.Context, rec metaservice.LastWillRecord) error {
	return c.domainCall(ctx, "save_last_will", rec, nil)
}

func (c *MetaServiceClient) GetLastWill(ctx context.Context, clientID string) (metaservice.LastWillRecord, error) {
	var out metaservice.LastWillRecord
	var err = c.domainCall(ctx, "get_last_will", clientID, &out)
	return out, err
}

func (c *MetaServiceClient) SaveACLRule(ctx context.Context, idx int, rule metaservice.ACLRuleRecord) error {
	return c.domainCall(ctx, "save_acl_rule", struct {
		Idx  int
		Rule metaservice.ACLRuleRecord
	}{idx, rule}, nil)
}

func (c *MetaServiceClient) DeleteACLRule(ctx context.Context, idx int, subject, resource string) error {
	return c.domainCall(ctx, "delete_acl_rule", deleteACLRuleReq{Idx: idx, Subject: subject, Resource: resource}, nil)
}

func (c *MetaServiceClient) ListACLRules(ctx context.Context) ([]metaservice.ACLRuleRecord, error) {
	var out []metaservice.ACLRuleRecord
	var err = c.domainCall(ctx, "list_acl_rules", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) SaveBlacklistEntry(ctx context.Context, entry metaservice.BlacklistRecord) error {
	return c.domainCall(ctx, "save_blacklist_entry", entry, nil)
}

func (c *MetaServiceClient) DeleteBlacklistEntry(ctx context.Context, kind, resource string) error {
	return c.domainCall(ctx, "delete_blacklist_entry", deleteBlacklistReq{Kind: kind, Resource: resource}, nil)
}

func (c *MetaServiceClient) ListBlacklistEntries(ctx context.Context) ([]metaservice.BlacklistRecord, error) {
	var out []metaservice.BlacklistRecord
	var err = c.domainCall(ctx, "list_blacklist_entries", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) SaveTopicRewriteRule(ctx context.Context, rule metaservice.TopicRewriteRule) error {
	return c.domainCall(ctx, "save_topic_rewrite_rule", rule, nil)
}

func (c *MetaServiceClient) DeleteTopicRewriteRule(ctx context.Context, action, sourceTopic string) error {
	return c.domainCall(ctx, "delete_topic_rewrite_rule", deleteTopicRewriteReq{Action: action, SourceTopic: sourceTopic}, nil)
}

func (c *MetaServiceClient) ListTopicRewriteRules(ctx context.Context) ([]metaservice.TopicRewriteRule, error) {
	var out []metaservice.TopicRewriteRule
	var err = c.domainCall(ctx, "list_topic_rewrite_rules", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) SaveSubscribe(ctx context.Context, clientID, filter string, payload []byte) error {
	return c.domainCall(ctx, "save_subscribe", saveSubscribeReq{ClientID: clientID, Filter: filter, Payload: payload}, nil)
}

func (c *MetaServiceClient) DeleteSubscribe(ctx context.Context, clientID, filter string) error {
	return c.domainCall(ctx, "delete_subscribe", deleteSubscribeReq{ClientID: clientID, Filter: filter}, nil)
}

func (c *MetaServiceClient) ListSubscribesForClient(ctx context.Context, clientID string) (map[string][]byte, error) {
	var out listSubscribesResp
	var err = c.domainCall(ctx, "list_subscribes_for_client", listSubscribesReq{ClientID: clientID}, &out)
	return out.Filters, err
}

func (c *MetaServiceClient) SaveConnector(ctx context.Context, rec metaservice.ConnectorRecord) error {
	return c.domainCall(ctx, "save_connector", rec, nil)
}

func (c *MetaServiceClient) DeleteConnector(ctx context.Context, name string) error {
	return c.domainCall(ctx, "delete_connector", name, nil)
}

func (c *MetaServiceClient) ListConnectors(ctx context.Context) ([]metaservice.ConnectorRecord, error) {
	var out []metaservice.ConnectorRecord
	var err = c.domainCall(ctx, "list_connectors", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) SaveAutoSubscribeRule(ctx context.Context, rule metaservice.AutoSubscribeRule) error {
	return c.domainCall(ctx, "save_auto_subscribe_rule", rule, nil)
}

func (c *MetaServiceClient) DeleteAutoSubscribeRule(ctx context.Context, topic string) error {
	return c.domainCall(ctx, "delete_auto_subscribe_rule", topic, nil)
}

func (c *MetaServiceClient) ListAutoSubscribeRules(ctx context.Context) ([]metaservice.AutoSubscribeRule, error) {
	var out []metaservice.AutoSubscribeRule
	var err = c.domainCall(ctx, "list_auto_subscribe_rules", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) ListSchemas(ctx context.Context) ([]metaservice.SchemaRecord, error) {
	var out []metaservice.SchemaRecord
	var err = c.domainCall(ctx, "list_schemas", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) CreateSchema(ctx context.Context, rec metaservice.SchemaRecord) error {
	return c.domainCall(ctx, "create_schema", rec, nil)
}

func (c *MetaServiceClient) UpdateSchema(ctx context.Context, rec metaservice.SchemaRecord) error {
	return c.domainCall(ctx, "update_schema", rec, nil)
}

func (c *MetaServiceClient) DeleteSchema(ctx context.Context, name string) error {
	return c.domainCall(ctx, "delete_schema", name, nil)
}

func (c *MetaServiceClient) BindSchema(ctx context.Context, binding metaservice.SchemaBindingRecord) error {
	return c.domainCall(ctx, "bind_schema", bindSchemaReq{Binding: binding}, nil)
}

func (c *MetaServiceClient) UnbindSchema(ctx context.Context, schemaName, resource string) error {
	return c.domainCall(ctx, "unbind_schema", unbindSchemaReq{SchemaName: schemaName, Resource: resource}, nil)
}

func (c *MetaServiceClient) CreateShard(ctx context.Context, meta journal.ShardMeta) error {
	return c.domainCall(ctx, "create_shard", meta, nil)
}

func (c *MetaServiceClient) UpdateShard(ctx context.Context, meta journal.ShardMeta) error {
	return c.domainCall(ctx, "update_shard", meta, nil)
}

func (c *MetaServiceClient) ListShards(ctx context.Context) ([]journal.ShardMeta, error) {
	var out []journal.ShardMeta
	var err = c.domainCall(ctx, "list_shards", struct{}{}, &out)
	return out, err
}

func (c *MetaServiceClient) CreateSegment(ctx context.Context, meta journal.Meta) error {
	return c.domainCall(ctx, "create_segment", meta, nil)
}

func (c *MetaServiceClient) UpdateSegment(ctx context.Context, meta journal.Meta) error {
	return c.domainCall(ctx, "update_segment", meta, nil)
}

func (c *MetaServiceClient) UpdateSegmentStatus(ctx context.Context, namespace, shard string, seq uint64, status journal.Status) error {
	return c.domainCall(ctx, "update_segment_status", updateSegmentStatusReq{Namespace: namespace, Shard: shard, Sequence: seq, Status: status}, nil)
}

func (c *MetaServiceClient) ListSegments(ctx context.Context, namespace, shard string) ([]journal.Meta, error) {
	var out listSegmentsResp
	var err = c.domainCall(ctx, "list_segments", listSegmentsReq{Namespace: namespace, Shard: shard}, &out)
	return out.Segments, err
}

func (c *MetaServiceClient) UpdateSegmentIndexMeta(ctx context.Context, meta journal.IndexMeta) error {
	return c.domainCall(ctx, "update_segment_index_meta", meta, nil)
}

func (c *MetaServiceClient) GetSegmentIndexMeta(ctx context.Context, namespace, shard string, seq uint64) (journal.IndexMeta, error) {
	var out journal.IndexMeta
	var err = c.domainCall(ctx, "get_segment_index_meta", getSegmentIndexMetaReq{Namespace: namespace, Shard: shard, Sequence: seq}, &out)
	return out, err
}

// StreamTopics opens the server-streaming `topics (streamed list)`
// operation spec §4.2 names explicitly.
func (c *MetaServiceClient) StreamTopics(ctx context.Context) (<-chan metaservice.TopicRecord, error) {
	var stream, err = c.cc.NewStream(ctx, &MetaServiceDesc.Streams[0], MetaServiceName+"/stream_topics", callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var out = make(chan metaservice.TopicRecord)
	go func() {
		defer close(out)
		for {
			var rec metaservice.TopicRecord
			if err := stream.RecvMsg(&rec); err != nil {
				return
			}
			out <- rec
		}
	}()
	return out, nil
}
