package protocol

import (
	"context"
	"testing"

	"github.com/robustmq/robustmq-sub002/internal/connreg"
	"github.com/robustmq/robustmq-sub002/internal/metaservice"
	"github.com/robustmq/robustmq-sub002/internal/security"
	"github.com/robustmq/robustmq-sub002/internal/session"
	"github.com/robustmq/robustmq-sub002/internal/subscribe"
)

type fakeUserStore struct{}

func (fakeUserStore) LookupUser(username string) (security.StoredCredential, error) {
	return security.StoredCredential{Kind: security.HashPlain, Hash: "secret"}, nil
}

type fakeMetaClient struct {
	sessions map[string]metaservice.SessionRecord
}

func newFakeMetaClient() *fakeMetaClient {
	return &fakeMetaClient{sessions: make(map[string]metaservice.SessionRecord)}
}

func (f *fakeMetaClient) SaveSession(_ context.Context, rec metaservice.SessionRecord) error {
	f.sessions[rec.ClientID] = rec
	return nil
}
func (f *fakeMetaClient) GetSession(clientID string) (metaservice.SessionRecord, error) {
	rec, ok := f.sessions[clientID]
	if !ok {
		return metaservice.SessionRecord{}, metaservice.ErrNotFound
	}
	return rec, nil
}
func (f *fakeMetaClient) DeleteSession(_ context.Context, clientID string) error {
	delete(f.sessions, clientID)
	return nil
}
func (f *fakeMetaClient) CreateTopic(_ context.Context, _ string) error          { return nil }
func (f *fakeMetaClient) SetTopicRetain(_ context.Context, _ string, _ metaservice.RetainedMessage) error {
	return nil
}
func (f *fakeMetaClient) ClearTopicRetain(_ context.Context, _ string) error          { return nil }
func (f *fakeMetaClient) SaveLastWill(_ context.Context, _ metaservice.LastWillRecord) error {
	return nil
}
func (f *fakeMetaClient) SaveSubscribe(_ context.Context, _, _ string, _ []byte) error { return nil }
func (f *fakeMetaClient) DeleteSubscribe(_ context.Context, _, _ string) error         { return nil }

func newTestService() *Service {
	return &Service{
		Registry:  connreg.New(connreg.DefaultBackoffPolicy, connreg.DefaultNotAvailablePredicate),
		Sessions:  session.NewManager(),
		Authn:     security.NewAuthenticator(fakeUserStore{}),
		ACL:       security.NewACL(),
		Blacklist: security.NewBlacklist(),
		Router:    subscribe.New(),
		Meta:      newFakeMetaClient(),
		Now:       func() int64 { return 0 },
	}
}

func TestConnectWithUnsupportedVersionIsRejected(t *testing.T) {
	var svc = newTestService()
	var conn = &Conn{ID: 1}
	var err = svc.handleConnect(context.Background(), conn, ConnectPacket{Version: 9, ClientID: "c1"})
	if err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestNonConnectPacketOnUnauthenticatedConnectionRejected(t *testing.T) {
	var svc = newTestService()
	var conn = &Conn{ID: 1}
	var err = svc.Dispatch(context.Background(), conn, "publish", PublishPacket{Topic: "a/b"})
	if err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestV4RejectsNonZeroSubscriptionIdentifier(t *testing.T) {
	var svc = newTestService()
	var conn = &Conn{ID: 1}
	var err = svc.handleConnect(context.Background(), conn, ConnectPacket{
		Version: V4, ClientID: "c1", Username: "alice", Password: "secret",
		Properties: Properties{SubscriptionIdentifier: 5},
	})
	if err == nil {
		t.Fatalf("expected an error for non-zero subscription identifier on v4 connect")
	}
}

func TestSuccessfulConnectAuthenticates(t *testing.T) {
	var svc = newTestService()
	var conn = &Conn{ID: 1}
	var err = svc.handleConnect(context.Background(), conn, ConnectPacket{
		Version: V5, ClientID: "c1", Username: "alice", Password: "secret",
	})
	if err != nil {
		t.Fatalf("handleConnect: %v", err)
	}
	if !conn.Authenticated {
		t.Fatalf("expected connection to be authenticated")
	}
}

func TestSubscribeAndUnsubscribeRoundTrip(t *testing.T) {
	var svc = newTestService()
	var conn = &Conn{ID: 1, Namespace: "ns"}
	if err := svc.handleConnect(context.Background(), conn, ConnectPacket{Version: V5, ClientID: "c1", Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("handleConnect: %v", err)
	}

	if err := svc.handleSubscribe(context.Background(), conn, SubscribePacket{
		PacketID: 1, Subscriptions: []SubscriptionRequest{{Filter: "a/b", QoS: 1}},
	}); err != nil {
		t.Fatalf("handleSubscribe: %v", err)
	}
	if len(svc.Router.Matching("a/b")) != 1 {
		t.Fatalf("expected one matching subscriber after subscribe")
	}

	if err := svc.handleUnsubscribe(context.Background(), conn, UnsubscribePacket{PacketID: 2, Filters: []string{"a/b"}}); err != nil {
		t.Fatalf("handleUnsubscribe: %v", err)
	}
	if len(svc.Router.Matching("a/b")) != 0 {
		t.Fatalf("expected no matching subscribers after unsubscribe")
	}
}
