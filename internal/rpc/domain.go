package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/robustmq/robustmq-sub002/internal/journal"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
)

// The MQTT-domain, schema, and journal-domain operation groups spec §4.2
// names categorically ("users, sessions, topics ... share-sub leader
// lookup, last-will save/get, ACL, blacklist, topic-rewrite, subscribe,
// connectors, auto-subscribe rules"; "list/create/update/delete/bind/unbind"
// for schema; "list/create/update segments and segment metadata, update
// segment status, list/update shards" for the journal domain) are
// multiplexed over one grpc method, domain_call, keyed by op name, rather
// than each getting its own hand-declared grpc.MethodDesc — the same
// request/reply-with-typed-messages contract spec §6 describes, just
// carried inside one Envelope instead of fifty.

type domainHandler func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error)

func encodeGob(v interface{}) []byte {
	var b, _ = gobCodec{}.Marshal(v)
	return b
}

func decodeInto(payload []byte, v interface{}) error {
	return gobCodec{}.Unmarshal(payload, v)
}

// --- request/response shapes for multi-argument domain ops ---

type deleteACLRuleReq struct {
	Idx             int
	Subject, Resource string
}
type deleteBlacklistReq struct{ Kind, Resource string }
type deleteTopicRewriteReq struct{ Action, SourceTopic string }
type saveSubscribeReq struct {
	ClientID, Filter string
	Payload          []byte
}
type deleteSubscribeReq struct{ ClientID, Filter string }
type listSubscribesReq struct{ ClientID string }
type listSubscribesResp struct{ Filters map[string][]byte }
type bindSchemaReq struct{ Binding metaservice.SchemaBindingRecord }
type unbindSchemaReq struct{ SchemaName, Resource string }
type listSegmentsReq struct{ Namespace, Shard string }
type listSegmentsResp struct{ Segments []journal.Meta }
type updateSegmentStatusReq struct {
	Namespace, Shard string
	Sequence         uint64
	Status           journal.Status
}
type getSegmentIndexMetaReq struct {
	Namespace, Shard string
	Sequence         uint64
}

var domainHandlers = map[string]domainHandler{
	"save_user": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.UserRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveUser(ctx, req)
	},
	"get_user": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var username string
		if err := decodeInto(payload, &username); err != nil {
			return nil, err
		}
		var rec, err = sm.GetUser(username)
		return encodeGob(rec), err
	},
	"delete_user": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var username string
		if err := decodeInto(payload, &username); err != nil {
			return nil, err
		}
		return nil, sm.DeleteUser(ctx, username)
	},
	"save_session": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.SessionRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveSession(ctx, req)
	},
	"get_session": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var clientID string
		if err := decodeInto(payload, &clientID); err != nil {
			return nil, err
		}
		var rec, err = sm.GetSession(clientID)
		return encodeGob(rec), err
	},
	"delete_session": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var clientID string
		if err := decodeInto(payload, &clientID); err != nil {
			return nil, err
		}
		return nil, sm.DeleteSession(ctx, clientID)
	},
	"list_sessions": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListSessions()), nil
	},
	"create_topic": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var name string
		if err := decodeInto(payload, &name); err != nil {
			return nil, err
		}
		return nil, sm.CreateTopic(ctx, name)
	},
	"set_topic_retain": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			Topic string
			Msg   metaservice.RetainedMessage
		}
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SetTopicRetain(ctx, req.Topic, req.Msg)
	},
	"get_topic_retain": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var topic string
		if err := decodeInto(payload, &topic); err != nil {
			return nil, err
		}
		var rec, err = sm.GetTopicRetain(topic)
		return encodeGob(rec), err
	},
	"clear_topic_retain": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var topic string
		if err := decodeInto(payload, &topic); err != nil {
			return nil, err
		}
		return nil, sm.ClearTopicRetain(ctx, topic)
	},
	"set_share_sub_leader": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.ShareSubLeaderRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SetShareSubLeader(ctx, req)
	},
	"get_share_sub_leader": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var req metaservice.ShareSubLeaderRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		var rec, err = sm.GetShareSubLeader(req.Namespace, req.Topic, req.Group)
		return encodeGob(rec), err
	},
	"save_last_will": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.LastWillRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveLastWill(ctx, req)
	},
	"get_last_will": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var clientID string
		if err := decodeInto(payload, &clientID); err != nil {
			return nil, err
		}
		var rec, err = sm.GetLastWill(clientID)
		return encodeGob(rec), err
	},
	"save_acl_rule": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			Idx  int
			Rule metaservice.ACLRuleRecord
		}
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveACLRule(ctx, req.Idx, req.Rule)
	},
	"delete_acl_rule": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req deleteACLRuleReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.DeleteACLRule(ctx, req.Idx, req.Subject, req.Resource)
	},
	"list_acl_rules": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListACLRules()), nil
	},
	"save_blacklist_entry": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.BlacklistRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveBlacklistEntry(ctx, req)
	},
	"delete_blacklist_entry": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req deleteBlacklistReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.DeleteBlacklistEntry(ctx, req.Kind, req.Resource)
	},
	"list_blacklist_entries": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListBlacklistEntries()), nil
	},
	"save_topic_rewrite_rule": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.TopicRewriteRule
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveTopicRewriteRule(ctx, req)
	},
	"delete_topic_rewrite_rule": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req deleteTopicRewriteReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.DeleteTopicRewriteRule(ctx, req.Action, req.SourceTopic)
	},
	"list_topic_rewrite_rules": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListTopicRewriteRules()), nil
	},
	"save_subscribe": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req saveSubscribeReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveSubscribe(ctx, req.ClientID, req.Filter, req.Payload)
	},
	"delete_subscribe": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req deleteSubscribeReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.DeleteSubscribe(ctx, req.ClientID, req.Filter)
	},
	"list_subscribes_for_client": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var req listSubscribesReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return encodeGob(listSubscribesResp{Filters: sm.ListSubscribesForClient(req.ClientID)}), nil
	},
	"save_connector": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.ConnectorRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveConnector(ctx, req)
	},
	"delete_connector": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var name string
		if err := decodeInto(payload, &name); err != nil {
			return nil, err
		}
		return nil, sm.DeleteConnector(ctx, name)
	},
	"list_connectors": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListConnectors()), nil
	},
	"save_auto_subscribe_rule": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.AutoSubscribeRule
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.SaveAutoSubscribeRule(ctx, req)
	},
	"delete_auto_subscribe_rule": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var topic string
		if err := decodeInto(payload, &topic); err != nil {
			return nil, err
		}
		return nil, sm.DeleteAutoSubscribeRule(ctx, topic)
	},
	"list_auto_subscribe_rules": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListAutoSubscribeRules()), nil
	},
	"list_schemas": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListSchemas()), nil
	},
	"create_schema": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.SchemaRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.CreateSchema(ctx, req)
	},
	"update_schema": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req metaservice.SchemaRecord
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.UpdateSchema(ctx, req)
	},
	"delete_schema": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var name string
		if err := decodeInto(payload, &name); err != nil {
			return nil, err
		}
		return nil, sm.DeleteSchema(ctx, name)
	},
	"bind_schema": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req bindSchemaReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.BindSchema(ctx, req.Binding)
	},
	"unbind_schema": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req unbindSchemaReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.UnbindSchema(ctx, req.SchemaName, req.Resource)
	},
	"create_shard": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req journal.ShardMeta
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.CreateShard(ctx, req)
	},
	"update_shard": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req journal.ShardMeta
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.UpdateShard(ctx, req)
	},
	"list_shards": func(sm *metaservice.StateMachine, _ context.Context, _ []byte) ([]byte, error) {
		return encodeGob(sm.ListShards()), nil
	},
	"create_segment": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req journal.Meta
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.CreateSegment(ctx, req)
	},
	"update_segment": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req journal.Meta
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.UpdateSegment(ctx, req)
	},
	"update_segment_status": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req updateSegmentStatusReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.UpdateSegmentStatus(ctx, req.Namespace, req.Shard, req.Sequence, req.Status)
	},
	"list_segments": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var req listSegmentsReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return encodeGob(listSegmentsResp{Segments: sm.ListSegments(req.Namespace, req.Shard)}), nil
	},
	"update_segment_index_meta": func(sm *metaservice.StateMachine, ctx context.Context, payload []byte) ([]byte, error) {
		var req journal.IndexMeta
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		return nil, sm.UpdateSegmentIndexMeta(ctx, req)
	},
	"get_segment_index_meta": func(sm *metaservice.StateMachine, _ context.Context, payload []byte) ([]byte, error) {
		var req getSegmentIndexMetaReq
		if err := decodeInto(payload, &req); err != nil {
			return nil, err
		}
		var rec, err = sm.GetSegmentIndexMeta(req.Namespace, req.Shard, req.Sequence)
		return encodeGob(rec), err
	},
}

func domainCallHandler(s *MetaServer, ctx context.Context, req interface{}) (interface{}, error) {
	var env = req.(*Envelope)
	var h, ok = domainHandlers[env.Op]
	if !ok {
		return nil, metaservice.ErrInvalidArgument
	}
	var reply, err = h(s.SM, ctx, env.Payload)
	return &Envelope{Op: env.Op, Payload: reply}, err
}

// streamTopicsHandler serves the `topics (streamed list)` operation spec
// §4.2 calls out by name, a real grpc server-streaming method rather than
// a domain_call op, mirroring StateMachine.ListTopics' own channel shape.
func streamTopicsHandler(srv interface{}, stream grpc.ServerStream) error {
	var s = srv.(*MetaServer)
	var req Empty
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	for rec := range s.SM.ListTopics(stream.Context()) {
		if err := stream.SendMsg(&rec); err != nil {
			return err
		}
	}
	return nil
}
