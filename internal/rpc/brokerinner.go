package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/robustmq/robustmq-sub002/internal/brokercall"
)

// BrokerInnerServiceName is the grpc service name for the four methods
// spec §6 names exactly: broker_common_update_cache, broker_mqtt_update_cache,
// send_last_will, delete_session.
const BrokerInnerServiceName = "robustmq.BrokerInner"

// CacheRecord is one queued cache-update event, the wire shape of
// brokercall.Message (spec §6 "each record is (action_type, resource_type,
// encoded_payload)").
type CacheRecord struct {
	Action   string
	Resource string
	Payload  []byte
}

type BrokerCommonUpdateCacheRequest struct{ Records []CacheRecord }
type BrokerMqttUpdateCacheRequest struct {
	ActionType   string
	ResourceType string
	Payload      []byte
}
type SendLastWillRequest struct {
	ClientID string
	Payload  []byte
}
type DeleteSessionRequest struct {
	ClientIDs   []string
	ClusterName string
}

// BrokerInnerHandler is implemented by whatever applies a decoded cache
// update locally (the broker side's own security/subscribe/session
// caches); internal/rpc only transports the call.
type BrokerInnerHandler interface {
	ApplyCommonUpdateCache(ctx context.Context, records []CacheRecord) error
	ApplyMqttUpdateCache(ctx context.Context, actionType, resourceType string, payload []byte) error
	ApplyLastWill(ctx context.Context, clientID string, payload []byte) error
	ApplyDeleteSessions(ctx context.Context, clientIDs []string, clusterName string) error
}

// BrokerInnerServer adapts a BrokerInnerHandler to grpc.
type BrokerInnerServer struct {
	Handler BrokerInnerHandler
}

func biHandler(newReq func() interface{}, call func(h BrokerInnerHandler, ctx context.Context, req interface{}) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		var req = newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		var s = srv.(*BrokerInnerServer)
		if interceptor == nil {
			var reply, err = call(s.Handler, ctx, req)
			return reply, toStatus(err)
		}
		var info = &grpc.UnaryServerInfo{Server: srv, FullMethod: BrokerInnerServiceName}
		var next = func(ctx context.Context, req interface{}) (interface{}, error) {
			var reply, err = call(s.Handler, ctx, req)
			return reply, toStatus(err)
		}
		return interceptor(ctx, req, info, next)
	}
}

var BrokerInnerServiceDesc = grpc.ServiceDesc{
	ServiceName: BrokerInnerServiceName,
	HandlerType: (*BrokerInnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "broker_common_update_cache",
			Handler: biHandler(func() interface{} { return &BrokerCommonUpdateCacheRequest{} },
				func(h BrokerInnerHandler, ctx context.Context, req interface{}) (interface{}, error) {
					var r = req.(*BrokerCommonUpdateCacheRequest)
					return &Empty{}, h.ApplyCommonUpdateCache(ctx, r.Records)
				}),
		},
		{
			MethodName: "broker_mqtt_update_cache",
			Handler: biHandler(func() interface{} { return &BrokerMqttUpdateCacheRequest{} },
				func(h BrokerInnerHandler, ctx context.Context, req interface{}) (interface{}, error) {
					var r = req.(*BrokerMqttUpdateCacheRequest)
					return &Empty{}, h.ApplyMqttUpdateCache(ctx, r.ActionType, r.ResourceType, r.Payload)
				}),
		},
		{
			MethodName: "send_last_will",
			Handler: biHandler(func() interface{} { return &SendLastWillRequest{} },
				func(h BrokerInnerHandler, ctx context.Context, req interface{}) (interface{}, error) {
					var r = req.(*SendLastWillRequest)
					return &Empty{}, h.ApplyLastWill(ctx, r.ClientID, r.Payload)
				}),
		},
		{
			MethodName: "delete_session",
			Handler: biHandler(func() interface{} { return &DeleteSessionRequest{} },
				func(h BrokerInnerHandler, ctx context.Context, req interface{}) (interface{}, error) {
					var r = req.(*DeleteSessionRequest)
					return &Empty{}, h.ApplyDeleteSessions(ctx, r.ClientIDs, r.ClusterName)
				}),
		},
	},
	Metadata: "robustmq/rpc/brokerinner.proto",
}

// BrokerInnerClient implements brokercall.CacheUpdateSender over grpc,
// the real transport internal/brokercall.Pipeline is built to plug into
// (spec §4.3 "Batched messages are sent via the RPC
// broker_common_update_cache").
type BrokerInnerClient struct {
	dial func(addr string) (grpc.ClientConnInterface, error)
	pool map[string]grpc.ClientConnInterface
}

// NewBrokerInnerClient constructs a client that lazily dials each
// destination node's RPCAddr via dial and reuses the connection.
func NewBrokerInnerClient(dial func(addr string) (grpc.ClientConnInterface, error)) *BrokerInnerClient {
	return &BrokerInnerClient{dial: dial, pool: make(map[string]grpc.ClientConnInterface)}
}

func (c *BrokerInnerClient) connFor(addr string) (grpc.ClientConnInterface, error) {
	if cc, ok := c.pool[addr]; ok {
		return cc, nil
	}
	var cc, err = c.dial(addr)
	if err != nil {
		return nil, err
	}
	c.pool[addr] = cc
	return cc, nil
}

func biInvoke(ctx context.Context, cc grpc.ClientConnInterface, method string, args, reply interface{}) error {
	return cc.Invoke(ctx, BrokerInnerServiceName+"/"+method, args, reply, callOpts()...)
}

// SendCacheUpdate implements brokercall.CacheUpdateSender.
func (c *BrokerInnerClient) SendCacheUpdate(ctx context.Context, node brokercall.NodeDescriptor, batch []brokercall.Message) error {
	var cc, err = c.connFor(node.RPCAddr)
	if err != nil {
		return err
	}
	var records = make([]CacheRecord, 0, len(batch))
	for _, m := range batch {
		records = append(records, CacheRecord{Action: string(m.Action), Resource: string(m.Resource), Payload: m.Payload})
	}
	return biInvoke(ctx, cc, "broker_common_update_cache", &BrokerCommonUpdateCacheRequest{Records: records}, &Empty{})
}

func (c *BrokerInnerClient) SendMqttUpdateCache(ctx context.Context, addr, actionType, resourceType string, payload []byte) error {
	var cc, err = c.connFor(addr)
	if err != nil {
		return err
	}
	return biInvoke(ctx, cc, "broker_mqtt_update_cache", &BrokerMqttUpdateCacheRequest{ActionType: actionType, ResourceType: resourceType, Payload: payload}, &Empty{})
}

func (c *BrokerInnerClient) SendLastWill(ctx context.Context, addr, clientID string, payload []byte) error {
	var cc, err = c.connFor(addr)
	if err != nil {
		return err
	}
	return biInvoke(ctx, cc, "send_last_will", &SendLastWillRequest{ClientID: clientID, Payload: payload}, &Empty{})
}

func (c *BrokerInnerClient) DeleteSessions(ctx context.Context, addr string, clientIDs []string, clusterName string) error {
	var cc, err = c.connFor(addr)
	if err != nil {
		return err
	}
	return biInvoke(ctx, cc, "delete_session", &DeleteSessionRequest{ClientIDs: clientIDs, ClusterName: clusterName}, &Empty{})
}
