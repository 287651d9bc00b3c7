package rpc

import (
	"context"
	"testing"

	"google.golang.org/grpc"

	"github.com/robustmq/robustmq-sub002/internal/brokercall"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/security"
)

func TestGobCodecRoundTrip(t *testing.T) {
	var codec = gobCodec{}
	var req = SetRequest{Key: "k", Value: []byte("v")}
	var data, err = codec.Marshal(&req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out SetRequest
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Key != "k" || string(out.Value) != "v" {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
	if codec.Name() != "gob" {
		t.Fatalf("expected codec name gob, got %q", codec.Name())
	}
}

type noopSink struct{}

func (noopSink) Enqueue(_ metaservice.CacheAction, _ metaservice.CacheResource, _ []byte) {}

func newTestSM() *metaservice.StateMachine {
	return metaservice.NewStateMachine(1, noopSink{})
}

func TestDomainCallSaveAndGetUser(t *testing.T) {
	var sm = newTestSM()
	var server = &MetaServer{SM: sm}

	var rec = metaservice.UserRecord{Username: "alice", Credential: security.StoredCredential{Kind: security.HashPlain, Hash: "secret"}}
	var env = &Envelope{Op: "save_user", Payload: encodeGob(rec)}
	var reply, err = domainCallHandler(server, context.Background(), env)
	if err != nil {
		t.Fatalf("save_user: %v", err)
	}
	if reply.(*Envelope).Op != "save_user" {
		t.Fatalf("unexpected reply op")
	}

	var getEnv = &Envelope{Op: "get_user", Payload: encodeGob("alice")}
	var getReply, getErr = domainCallHandler(server, context.Background(), getEnv)
	if getErr != nil {
		t.Fatalf("get_user: %v", getErr)
	}
	var got metaservice.UserRecord
	if err := decodeInto(getReply.(*Envelope).Payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("expected username alice, got %q", got.Username)
	}
}

func TestDomainCallUnknownOpRejected(t *testing.T) {
	var sm = newTestSM()
	var server = &MetaServer{SM: sm}
	var _, err = domainCallHandler(server, context.Background(), &Envelope{Op: "not_a_real_op"})
	if err != metaservice.ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

// fakeClientConn implements grpc.ClientConnInterface without a real network
// connection, so BrokerInnerClient's request-building can be tested without
// dialing.
type fakeClientConn struct {
	lastMethod string
	lastArgs   interface{}
}

func (f *fakeClientConn) Invoke(_ context.Context, method string, args, _ interface{}, _ ...grpc.CallOption) error {
	f.lastMethod = method
	f.lastArgs = args
	return nil
}

func (f *fakeClientConn) NewStream(_ context.Context, _ *grpc.StreamDesc, _ string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, nil
}

func TestBrokerInnerClientSendCacheUpdateBuildsRequest(t *testing.T) {
	var fake = &fakeClientConn{}
	var client = NewBrokerInnerClient(func(addr string) (grpc.ClientConnInterface, error) { return fake, nil })

	var node = brokercall.NodeDescriptor{NodeID: 2, RPCAddr: "node-2:9000"}
	var batch = []brokercall.Message{{Action: metaservice.CacheActionSet, Resource: metaservice.ResourceUser, Payload: []byte("p")}}
	if err := client.SendCacheUpdate(context.Background(), node, batch); err != nil {
		t.Fatalf("SendCacheUpdate: %v", err)
	}
	if fake.lastMethod != BrokerInnerServiceName+"/broker_common_update_cache" {
		t.Fatalf("unexpected method: %s", fake.lastMethod)
	}
	var req = fake.lastArgs.(*BrokerCommonUpdateCacheRequest)
	if len(req.Records) != 1 || req.Records[0].Resource != "user" {
		t.Fatalf("unexpected request: %+v", req)
	}
}
