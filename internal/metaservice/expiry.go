package metaservice

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// SessionExpiryScanner periodically sweeps sessions whose expiry has
// elapsed and deletes them, emitting the same cache-update a direct
// DeleteSession call would (spec §3 Session + original_source
// src/placement-center/src/mqtt/controller/session_expire.rs; see
// SPEC_FULL.md §D — the distilled spec only checks expiry lazily on
// reconnect, the original actively sweeps).
type SessionExpiryScanner struct {
	sm       *StateMachine
	interval time.Duration
	now      func() int64
}

// NewSessionExpiryScanner constructs a scanner that sweeps sm's sessions
// every interval, using now to read the current Unix time (injectable for
// tests).
func NewSessionExpiryScanner(sm *StateMachine, interval time.Duration, now func() int64) *SessionExpiryScanner {
	return &SessionExpiryScanner{sm: sm, interval: interval, now: now}
}

// Run sweeps on a ticker until ctx is done.
func (s *SessionExpiryScanner) Run(ctx context.Context) {
	var ticker = time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *SessionExpiryScanner) sweepOnce(ctx context.Context) {
	var now = s.now()
	for _, sess := range s.sm.ListSessions() {
		if sess.Connected {
			continue
		}
		if sess.LastDisconnect == 0 {
			continue
		}
		if now-sess.LastDisconnect < sess.SessionExpiry {
			continue
		}
		if err := s.sm.DeleteSession(ctx, sess.ClientID); err != nil {
			log.WithError(err).WithField("client_id", sess.ClientID).Warn("metaservice: session expiry delete failed")
		}
	}
}
