package connreg

import (
	"sync"
	"testing"
	"time"
)

type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *fakeWriter) WriteFrame(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, append([]byte(nil), payload...))
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestWriteFrameDeliversToPresentEntry(t *testing.T) {
	var r = New(BackoffPolicy{SleepTime: time.Millisecond, MaxTries: 5}, nil)
	var w = &fakeWriter{}
	r.AddConnection(Descriptor{ID: 1, Kind: KindTCP}, w)

	if err := r.WriteTCPFrame(1, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.frames) != 1 || string(w.frames[0]) != "hello" {
		t.Fatalf("expected frame to be delivered, got %v", w.frames)
	}
}

func TestWriteFrameAbsentConnectionFails(t *testing.T) {
	var r = New(BackoffPolicy{SleepTime: time.Millisecond, MaxTries: 3}, nil)
	var err = r.WriteTCPFrame(99, []byte("x"))
	if err != ErrNoAvailableConnection {
		t.Fatalf("expected ErrNoAvailableConnection, got %v", err)
	}
}

func TestWriteFrameLockedEntryEventuallyFails(t *testing.T) {
	var r = New(BackoffPolicy{SleepTime: time.Millisecond, MaxTries: 3}, nil)
	var w = &fakeWriter{}
	r.AddConnection(Descriptor{ID: 1, Kind: KindTCP}, w)

	r.mu.RLock()
	var e = r.tcp[1]
	r.mu.RUnlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	var err = r.WriteTCPFrame(1, []byte("x"))
	if err != ErrFailedToWrite {
		t.Fatalf("expected ErrFailedToWrite, got %v", err)
	}
}

func TestCloseConnectionRemovesFromShard(t *testing.T) {
	var r = New(DefaultBackoffPolicy, nil)
	var w = &fakeWriter{}
	r.AddConnection(Descriptor{ID: 1, Kind: KindWebSocket}, w)
	r.CloseConnection(1)

	var err = r.WriteWSFrame(1, []byte("x"))
	if err != ErrNoAvailableConnection {
		t.Fatalf("expected connection to be gone after close, got %v", err)
	}
}

func TestNotAvailablePredicateShortCircuits(t *testing.T) {
	var predErr = errNotAvailable("broker not available")
	var r = New(BackoffPolicy{SleepTime: time.Millisecond, MaxTries: 10}, func(err error) bool { return err == predErr })
	var w = &fakeWriter{err: predErr}
	r.AddConnection(Descriptor{ID: 1, Kind: KindTCP}, w)

	var err = r.WriteTCPFrame(1, []byte("x"))
	if err != predErr {
		t.Fatalf("expected immediate surfacing of the not-available error, got %v", err)
	}
}

type errNotAvailable string

func (e errNotAvailable) Error() string { return string(e) }
