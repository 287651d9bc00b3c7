package security

import "sync"

// flapRecord tracks one client's recent Connect attempts (spec §4.6
// "Flapping detect").
type flapRecord struct {
	firstRequestTime int64
	attempts         int
	bannedUntil      int64
}

// FlappingDetector refuses Connect attempts from clients that reconnect too
// rapidly, banning them for a configured duration.
type FlappingDetector struct {
	mu sync.Mutex

	windowTime            int64 // seconds
	maxClientConnections  int
	banTime               int64 // seconds
	records               map[string]*flapRecord
}

// NewFlappingDetector constructs a detector with the given policy.
func NewFlappingDetector(windowTime int64, maxClientConnections int, banTime int64) *FlappingDetector {
	return &FlappingDetector{
		windowTime:           windowTime,
		maxClientConnections: maxClientConnections,
		banTime:              banTime,
		records:              make(map[string]*flapRecord),
	}
}

// Allow records a Connect attempt for clientID at time `now` (unix seconds)
// and reports whether the connection may proceed. If the client is
// currently banned, or this attempt pushes it over the threshold, the
// connection is refused.
func (f *FlappingDetector) Allow(clientID string, now int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	var rec, ok = f.records[clientID]
	if !ok {
		rec = &flapRecord{firstRequestTime: now}
		f.records[clientID] = rec
	}
	if rec.bannedUntil > now {
		return false
	}
	if now-rec.firstRequestTime > f.windowTime {
		// Window has rolled over; restart counting.
		rec.firstRequestTime = now
		rec.attempts = 0
	}
	rec.attempts++
	if rec.attempts > f.maxClientConnections {
		rec.bannedUntil = now + f.banTime
		return false
	}
	return true
}

// GC removes records whose window has fully elapsed and which are not
// currently banned (spec §4.6 "GC removes records whose first_request_time
// is older than window_time").
func (f *FlappingDetector) GC(now int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, rec := range f.records {
		if rec.bannedUntil > now {
			continue
		}
		if now-rec.firstRequestTime > f.windowTime {
			delete(f.records, id)
		}
	}
}
