// Package journal implements the per-shard append-only segment store of
// spec §4.1: segment files framed as [offset][len][payload], with a
// seal/idle/deleting lifecycle and offset/timestamp indexes. It is grounded
// on the teacher's (go.gazette.dev/core) append/spool/fragment machinery in
// broker/append_fsm.go, generalized from a single replicated journal type to
// the explicit namespace/shard/sequence addressing spec.md §3/§6 require.
package journal

import (
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"
)

// ShardMeta is the durable shard record (spec §3 "Shard").
type ShardMeta struct {
	Namespace        string
	Shard            string
	ReplicaCount     uint32
	ActiveSegmentSeq uint64
	MaxSegmentSize   int64
}

func shardKey(namespace, shard string) string { return namespace + "/" + shard }
func segKey(namespace, shard string, seq uint64) string {
	return namespace + "/" + shard + "/" + itoa(seq)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	var i = len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// NodeLister resolves the set of known journal-role node IDs eligible for
// segment replica placement (spec §4.1 "Segment placement").
type NodeLister interface {
	JournalNodeIDs() []uint64
}

// Store is the Journal / Segment Store service. It owns shard metadata,
// segment metadata and lifecycle, and the single active writer per segment
// (spec §5 "a dedicated writer task per segment file").
type Store struct {
	mu   sync.Mutex
	rand *rand.Rand

	localNodeID uint64
	dataFolders []string // this node's configured storage folders
	nodes       NodeLister

	shards   map[string]*ShardMeta
	segments map[string]*Meta
	indexes  map[string]*IndexMeta
	open     map[string]*segmentFile // segKey -> open write handle

	now func() int64
}

// NewStore constructs a Store for the given local node.
func NewStore(localNodeID uint64, dataFolders []string, nodes NodeLister, now func() int64) *Store {
	return &Store{
		rand:        rand.New(rand.NewSource(int64(localNodeID) + 1)),
		localNodeID: localNodeID,
		dataFolders: dataFolders,
		nodes:       nodes,
		shards:      make(map[string]*ShardMeta),
		segments:    make(map[string]*Meta),
		indexes:     make(map[string]*IndexMeta),
		open:        make(map[string]*segmentFile),
		now:         now,
	}
}

// CreateShard is idempotent; persists a shard record if one does not exist.
func (s *Store) CreateShard(namespace, shard string, replicaCount uint32, maxSegmentSize int64) (*ShardMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key = shardKey(namespace, shard)
	if existing, ok := s.shards[key]; ok {
		return existing, nil
	}
	var sm = &ShardMeta{
		Namespace: namespace, Shard: shard,
		ReplicaCount: replicaCount, MaxSegmentSize: maxSegmentSize,
		ActiveSegmentSeq: 0,
	}
	s.shards[key] = sm

	replicas, err := s.placeReplicas(replicaCount)
	if err != nil {
		delete(s.shards, key)
		return nil, err
	}
	var meta = &Meta{
		Namespace: namespace, Shard: shard, Sequence: 0,
		Status: StatusIdle, Replicas: replicas, InSync: replicas,
		MaxSize: maxSegmentSize,
	}
	s.segments[segKey(namespace, shard, 0)] = meta
	var idx = newIndexMeta(namespace, shard, 0)
	s.indexes[segKey(namespace, shard, 0)] = &idx

	log.WithFields(log.Fields{"namespace": namespace, "shard": shard}).Info("journal: shard created")
	return sm, nil
}

// placeReplicas chooses replicaCount node IDs from the set of known journal
// nodes, with the first entry acting as leader (spec §4.1 "Segment
// placement"). Errors with ErrReplicaInsufficient if there aren't enough.
func (s *Store) placeReplicas(replicaCount uint32) ([]uint64, error) {
	var ids = s.nodes.JournalNodeIDs()
	if uint32(len(ids)) < replicaCount {
		return nil, ErrReplicaInsufficient
	}
	// Stable shuffle so placement is deterministic per Store instance but
	// spreads load across nodes as shards accumulate.
	var chosen = make([]uint64, len(ids))
	copy(chosen, ids)
	s.rand.Shuffle(len(chosen), func(i, j int) { chosen[i], chosen[j] = chosen[j], chosen[i] })
	return chosen[:replicaCount], nil
}

// dataFolder picks one of this node's configured storage folders uniformly
// at random (spec §4.1).
func (s *Store) dataFolder() (string, error) {
	if len(s.dataFolders) == 0 {
		return "", ErrDataDirNotFound
	}
	return s.dataFolders[s.rand.Intn(len(s.dataFolders))], nil
}

// OpenSegmentWrite returns a write handle for the shard's active segment.
func (s *Store) OpenSegmentWrite(namespace, shard string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sm, ok = s.shards[shardKey(namespace, shard)]
	if !ok {
		return nil, ErrSegmentNotExist
	}
	var key = segKey(namespace, shard, sm.ActiveSegmentSeq)
	var meta, mok = s.segments[key]
	if !mok {
		return nil, ErrSegmentNotExist
	}

	var onLocalNode bool
	for _, r := range meta.Replicas {
		if r == s.localNodeID {
			onLocalNode = true
			break
		}
	}
	if !onLocalNode {
		return nil, ErrSegmentNotExist
	}

	sf, ok := s.open[key]
	if !ok {
		folder, err := s.dataFolder()
		if err != nil {
			return nil, err
		}
		sf, err = openSegmentFile(folder, namespace, shard, sm.ActiveSegmentSeq, *meta)
		if err != nil {
			return nil, err
		}
		if sf.meta.Status == StatusIdle {
			sf.meta.Status = StatusWrite
			meta.Status = StatusWrite
		}
		s.open[key] = sf
	}
	return &Handle{seg: sf, MaxSize: sf.meta.MaxSize}, nil
}

// Append assigns monotonically increasing offsets and flushes before
// returning (spec §4.1).
func (s *Store) Append(h *Handle, records []Record) (first, last uint64, err error) {
	first, last, err = h.seg.append(records, s.now)
	if err != nil {
		return first, last, err
	}

	// Reconcile the segment's lifecycle status (append may have sealed it on
	// reaching max size) back into the Store's metadata index.
	h.seg.mu.Lock()
	var sealedStatus = h.seg.meta.Status
	h.seg.mu.Unlock()

	s.mu.Lock()
	if m, ok := s.segments[segKey(h.seg.meta.Namespace, h.seg.meta.Shard, h.seg.meta.Sequence)]; ok {
		m.Status = sealedStatus
	}
	s.mu.Unlock()
	return first, last, nil
}

// Size returns the current byte size of the handle's segment file.
func (s *Store) Size(h *Handle) int64 { return h.seg.sizeBytes() }

// ReadByOffset scans a segment sequentially per spec §4.1.
func (s *Store) ReadByOffset(h *Handle, startPosition int64, startOffset uint64, maxSize int64, maxRecords int) ([]Record, error) {
	return h.seg.readByOffset(startPosition, startOffset, maxSize, maxRecords)
}

// ReadByPositions performs random-access reads per spec §4.1.
func (s *Store) ReadByPositions(h *Handle, positions []int64) ([]Record, error) {
	return h.seg.readByPositions(positions)
}

// Delete removes a sealed segment's file. Only SealUp segments may be
// deleted (enforced by RequestDelete/Gc below); Delete itself just performs
// the filesystem removal for a handle already in PreDelete/Deleting state.
func (s *Store) Delete(h *Handle) error { return h.seg.delete() }

// SegmentMeta returns a copy of a segment's lifecycle metadata.
func (s *Store) SegmentMeta(namespace, shard string, seq uint64) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.segments[segKey(namespace, shard, seq)]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

// IndexMetaOf returns a copy of a segment's offset/timestamp index.
func (s *Store) IndexMetaOf(namespace, shard string, seq uint64) (IndexMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.indexes[segKey(namespace, shard, seq)]
	if !ok {
		return IndexMeta{}, false
	}
	// Reflect the live segment's in-memory index if it's the open one,
	// since IndexMeta on disk is only updated at append time via the
	// segmentFile itself.
	if sf, ok := s.open[segKey(namespace, shard, seq)]; ok {
		return sf.index, true
	}
	return *i, true
}

// CreateNextSegment ensures at most one Idle "next" segment exists for the
// shard (spec §4.1 "While Write, a single create_next_segment call per
// shard is idempotent"). If the active segment is already sealed or beyond,
// the next segment becomes active instead of merely existing as Idle.
func (s *Store) CreateNextSegment(namespace, shard string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sm, ok = s.shards[shardKey(namespace, shard)]
	if !ok {
		return ErrShardNotFound
	}
	var activeKey = segKey(namespace, shard, sm.ActiveSegmentSeq)
	var active, aok = s.segments[activeKey]
	if !aok {
		return ErrSegmentNotExist
	}

	var nextSeq = sm.ActiveSegmentSeq + 1
	var nextKey = segKey(namespace, shard, nextSeq)
	if _, exists := s.segments[nextKey]; !exists {
		replicas, err := s.placeReplicas(sm.ReplicaCount)
		if err != nil {
			return err
		}
		s.segments[nextKey] = &Meta{
			Namespace: namespace, Shard: shard, Sequence: nextSeq,
			Status: StatusIdle, Replicas: replicas, InSync: replicas,
			MaxSize: sm.MaxSegmentSize,
		}
		var idx = newIndexMeta(namespace, shard, nextSeq)
		s.indexes[nextKey] = &idx
	}

	switch active.Status {
	case StatusSealUp, StatusPreDelete, StatusDeleting:
		s.segments[nextKey].Status = StatusWrite
		sm.ActiveSegmentSeq = nextSeq
	}
	return nil
}

// RequestDelete transitions a SealUp segment to PreDelete. Only SealUp
// segments may be deleted (spec §4.1 lifecycle diagram).
func (s *Store) RequestDelete(namespace, shard string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.segments[segKey(namespace, shard, seq)]
	if !ok {
		return ErrSegmentNotExist
	}
	if m.Status != StatusSealUp {
		return ErrSegmentNotSealed
	}
	m.Status = StatusPreDelete
	return nil
}

// Gc advances a PreDelete segment to Deleting and removes its file,
// completing the lifecycle (PreDelete → Deleting → removed).
func (s *Store) Gc(namespace, shard string, seq uint64) error {
	s.mu.Lock()
	var key = segKey(namespace, shard, seq)
	m, ok := s.segments[key]
	if !ok {
		s.mu.Unlock()
		return ErrSegmentNotExist
	}
	if m.Status != StatusPreDelete {
		s.mu.Unlock()
		return errors.Errorf("journal: segment %s not in PreDelete state", key)
	}
	m.Status = StatusDeleting
	sf, open := s.open[key]
	delete(s.open, key)
	s.mu.Unlock()

	if open {
		if err := sf.delete(); err != nil && !errors.Is(err, ErrSegmentAlreadyDeleted) {
			return err
		}
	}

	s.mu.Lock()
	delete(s.segments, key)
	delete(s.indexes, key)
	s.mu.Unlock()
	return nil
}
