package journal

import (
	"os"
	"testing"
)

type fixedNodes struct{ ids []uint64 }

func (f fixedNodes) JournalNodeIDs() []uint64 { return f.ids }

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	var dir, err = os.MkdirTemp("", "journal-test-")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	var s = NewStore(1, []string{dir}, fixedNodes{ids: []uint64{1}}, func() int64 { return 100 })
	return s, dir
}

func TestAppendReadRoundTrip(t *testing.T) {
	var s, _ = newTestStore(t)
	if _, err := s.CreateShard("ns", "s1", 1, 1<<20); err != nil {
		t.Fatalf("CreateShard: %v", err)
	}
	h, err := s.OpenSegmentWrite("ns", "s1")
	if err != nil {
		t.Fatalf("OpenSegmentWrite: %v", err)
	}

	var recs = []Record{
		{Payload: []byte("alpha")},
		{Payload: []byte("beta")},
		{Payload: []byte("gamma")},
	}
	first, last, err := s.Append(h, recs)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first != 0 || last != 2 {
		t.Fatalf("expected offsets 0..2, got %d..%d", first, last)
	}

	got, err := s.ReadByOffset(h, 0, 0, 1<<20, 100)
	if err != nil {
		t.Fatalf("ReadByOffset: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, r := range got {
		if r.Offset != uint64(i) {
			t.Fatalf("record %d: expected offset %d, got %d", i, i, r.Offset)
		}
	}
	if string(got[1].Payload) != "beta" {
		t.Fatalf("expected payload 'beta', got %q", got[1].Payload)
	}
}

func TestReadByOffsetLimits(t *testing.T) {
	var s, _ = newTestStore(t)
	s.CreateShard("ns", "s1", 1, 1<<20)
	h, _ := s.OpenSegmentWrite("ns", "s1")

	var recs []Record
	for i := 0; i < 10; i++ {
		recs = append(recs, Record{Payload: []byte("0123456789")})
	}
	s.Append(h, recs)

	got, err := s.ReadByOffset(h, 0, 0, 25, 100)
	if err != nil {
		t.Fatalf("ReadByOffset: %v", err)
	}
	if len(got) > 10 {
		t.Fatalf("returned more records than exist: %d", len(got))
	}
	var sum int
	for _, r := range got {
		sum += len(r.Payload)
	}
	if sum > 25+10 {
		t.Fatalf("payload bytes %d exceed max_size + last record size", sum)
	}

	got2, err := s.ReadByOffset(h, 0, 0, 1<<20, 3)
	if err != nil {
		t.Fatalf("ReadByOffset: %v", err)
	}
	if len(got2) != 3 {
		t.Fatalf("expected exactly 3 records (max_records), got %d", len(got2))
	}
}

func TestSkipByStartOffset(t *testing.T) {
	var s, _ = newTestStore(t)
	s.CreateShard("ns", "s1", 1, 1<<20)
	h, _ := s.OpenSegmentWrite("ns", "s1")
	s.Append(h, []Record{{Payload: []byte("a")}, {Payload: []byte("b")}, {Payload: []byte("c")}})

	got, err := s.ReadByOffset(h, 0, 2, 1<<20, 100)
	if err != nil {
		t.Fatalf("ReadByOffset: %v", err)
	}
	if len(got) != 1 || got[0].Offset != 2 {
		t.Fatalf("expected only offset 2, got %+v", got)
	}
}

func TestSegmentSealsOnSize(t *testing.T) {
	var s, _ = newTestStore(t)
	s.CreateShard("ns", "s1", 1, 1024)
	h, err := s.OpenSegmentWrite("ns", "s1")
	if err != nil {
		t.Fatalf("OpenSegmentWrite: %v", err)
	}

	var payload = make([]byte, 100)
	var recs []Record
	for i := 0; i < 13; i++ { // 1300 bytes of payload total
		recs = append(recs, Record{Payload: payload})
	}
	if _, _, err := s.Append(h, recs); err != nil {
		t.Fatalf("Append: %v", err)
	}

	meta, ok := s.SegmentMeta("ns", "s1", 0)
	if !ok {
		t.Fatalf("expected segment 0 to exist")
	}
	if meta.Status != StatusSealUp {
		t.Fatalf("expected segment 0 sealed, got %s", meta.Status)
	}

	if err := s.CreateNextSegment("ns", "s1"); err != nil {
		t.Fatalf("CreateNextSegment: %v", err)
	}
	nextMeta, ok := s.SegmentMeta("ns", "s1", 1)
	if !ok {
		t.Fatalf("expected segment 1 to exist")
	}
	if nextMeta.Status != StatusWrite {
		t.Fatalf("expected segment 1 active (Write), got %s", nextMeta.Status)
	}

	h2, err := s.OpenSegmentWrite("ns", "s1")
	if err != nil {
		t.Fatalf("OpenSegmentWrite after rotation: %v", err)
	}
	first, _, err := s.Append(h2, []Record{{Payload: []byte("next")}})
	if err != nil {
		t.Fatalf("Append to new segment: %v", err)
	}
	if first != 0 {
		t.Fatalf("new segment should start at offset 0, got %d", first)
	}
}

func TestAppendPastSealedSegmentFails(t *testing.T) {
	var s, _ = newTestStore(t)
	s.CreateShard("ns", "s1", 1, 10)
	h, _ := s.OpenSegmentWrite("ns", "s1")
	s.Append(h, []Record{{Payload: make([]byte, 20)}})

	if _, _, err := s.Append(h, []Record{{Payload: []byte("x")}}); err != ErrSegmentAlreadySealed {
		t.Fatalf("expected ErrSegmentAlreadySealed, got %v", err)
	}
}

func TestDeleteRequiresSealed(t *testing.T) {
	var s, _ = newTestStore(t)
	s.CreateShard("ns", "s1", 1, 1<<20)
	if err := s.RequestDelete("ns", "s1", 0); err != ErrSegmentNotSealed {
		t.Fatalf("expected ErrSegmentNotSealed, got %v", err)
	}
}

func TestReplicaInsufficient(t *testing.T) {
	var s = NewStore(1, []string{"."}, fixedNodes{ids: []uint64{1}}, func() int64 { return 0 })
	if _, err := s.CreateShard("ns", "s1", 3, 1<<20); err != ErrReplicaInsufficient {
		t.Fatalf("expected ErrReplicaInsufficient, got %v", err)
	}
}

func TestCreateShardIdempotent(t *testing.T) {
	var s, _ = newTestStore(t)
	a, err := s.CreateShard("ns", "s1", 1, 1<<20)
	if err != nil {
		t.Fatalf("CreateShard: %v", err)
	}
	b, err := s.CreateShard("ns", "s1", 1, 1<<20)
	if err != nil {
		t.Fatalf("CreateShard (second call): %v", err)
	}
	if a != b {
		t.Fatalf("expected idempotent CreateShard to return the same record")
	}
}
