// Package session implements the per-client packet-identifier allocator,
// pending-ack waiters, and inbound QoS-2 dedup table (spec §4.5). The
// broadcast-channel-per-waiter shape is grounded on the ack-wait pattern in
// broker/client/reader.go, generalized from the teacher's single
// read-transaction wait to one waiter per in-flight packet id.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrPkidInUse is returned for a zero packet-id on Subscribe/Unsubscribe, or
// for a pkid already tracked in the inbound dedup table (spec §4.5).
var ErrPkidInUse = errors.New("session: packet id in use")

// AckKind is the type of acknowledgement a push task awaits.
type AckKind int

const (
	AckPubAck AckKind = iota
	AckPubRec
	AckPubRel
	AckPubComp
)

// PendingAck is the outbound wait record: pkid -> (waiter, created-time).
// The push task awaiting an ack receives it on Ch; the channel is buffered
// so a single Deliver never blocks on a slow or absent reader.
type PendingAck struct {
	Ch        chan AckKind
	CreatedAt int64
}

// InboundRecord is the QoS-2 dedup record: pkid -> (expected ack kind,
// created-time). It exists from first Publish receipt until the matching
// higher-ack packet (PubRel) is processed.
type InboundRecord struct {
	Expect    AckKind
	CreatedAt int64
}

// PacketIDState holds one client's in-flight packet ids, pending-ack
// waiters, and inbound QoS-2 dedup records.
type PacketIDState struct {
	mu      sync.Mutex
	used    map[uint16]bool
	pending map[uint16]*PendingAck
	inbound map[uint16]*InboundRecord
}

func newPacketIDState() *PacketIDState {
	return &PacketIDState{
		used:    make(map[uint16]bool),
		pending: make(map[uint16]*PendingAck),
		inbound: make(map[uint16]*InboundRecord),
	}
}

// AllocatePkid scans 1..65535 for the first unused id, installing a
// PendingAck and returning it alongside the id. On exhaustion (spec's
// "degenerate case") it sleeps 10ms and retries until one is free or ctx is
// done.
func (p *PacketIDState) AllocatePkid(ctx context.Context, now int64) (uint16, *PendingAck, error) {
	for {
		p.mu.Lock()
		for id := uint16(1); id != 0; id++ {
			if !p.used[id] {
				p.used[id] = true
				var ack = &PendingAck{Ch: make(chan AckKind, 1), CreatedAt: now}
				p.pending[id] = ack
				p.mu.Unlock()
				return id, ack, nil
			}
			if id == 65535 {
				break
			}
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Deliver routes an inbound ack to the waiter registered for pkid, if any.
// Returns false if no waiter is registered (e.g. it already timed out and
// was released).
func (p *PacketIDState) Deliver(pkid uint16, kind AckKind) bool {
	p.mu.Lock()
	var ack, ok = p.pending[pkid]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ack.Ch <- kind:
	default:
	}
	return true
}

// Release frees pkid and drops its pending-ack record, e.g. after the push
// task's QoS state machine completes or times out.
func (p *PacketIDState) Release(pkid uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, pkid)
	delete(p.pending, pkid)
}

// TrackInbound registers an inbound QoS-2 publish's expected next ack. It
// returns ErrPkidInUse if pkid is zero; a duplicate Publish with the same
// pkid while a record already exists is reported via ok=false so the
// caller can treat it as an idempotent resend rather than an error.
func (p *PacketIDState) TrackInbound(pkid uint16, now int64) (ok bool, err error) {
	if pkid == 0 {
		return false, errors.WithMessage(ErrPkidInUse, "pkid must be non-zero")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inbound[pkid]; exists {
		return false, nil
	}
	p.inbound[pkid] = &InboundRecord{Expect: AckPubRel, CreatedAt: now}
	return true, nil
}

// ResolveInbound removes pkid's inbound dedup record once the matching
// PubRel has been processed.
func (p *PacketIDState) ResolveInbound(pkid uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inbound, pkid)
}

// HasInbound reports whether pkid currently has a live inbound dedup
// record.
func (p *PacketIDState) HasInbound(pkid uint16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inbound[pkid]
	return ok
}

// CheckSubscribePkid validates the packet id carried by a Subscribe or
// Unsubscribe packet (spec §4.5 failure modes): zero, or currently held in
// the inbound dedup table, is rejected.
func (p *PacketIDState) CheckSubscribePkid(pkid uint16) error {
	if pkid == 0 {
		return errors.WithMessage(ErrPkidInUse, "must be non-zero")
	}
	if p.HasInbound(pkid) {
		return errors.WithMessage(ErrPkidInUse, "pkid currently tracked by an inbound QoS2 record")
	}
	return nil
}

// Manager maps client-id to its PacketIDState, created lazily.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*PacketIDState
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[string]*PacketIDState)}
}

// State returns (creating if absent) the PacketIDState for clientID.
func (m *Manager) State(clientID string) *PacketIDState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s, ok = m.clients[clientID]
	if !ok {
		s = newPacketIDState()
		m.clients[clientID] = s
	}
	return s
}

// Drop removes a client's packet-id state entirely, e.g. on session
// expiry.
func (m *Manager) Drop(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
}
