package metaservice

import (
	"context"

	"github.com/robustmq/robustmq-sub002/internal/journal"
)

func shardMetaKey(namespace, shard string) string { return namespacedKey("md-shard", namespace, shard) }
func segmentMetaKey(namespace, shard string, seq uint64) string {
	return namespacedKey("md-segment", namespace, shard, fmtUint(seq))
}
func segmentIndexKey(namespace, shard string, seq uint64) string {
	return namespacedKey("md-segment-index", namespace, shard, fmtUint(seq))
}

// CreateShard persists a new shard record (spec §4.2 "list/update shards",
// journal domain). The journal package's own Store owns segment file
// placement; this is the durable, replicated record of record.
func (m *StateMachine) CreateShard(ctx context.Context, meta journal.ShardMeta) error {
	if err := validateNonEmpty("shard", meta.Shard); err != nil {
		return err
	}
	return m.proposeSet(ctx, shardMetaKey(meta.Namespace, meta.Shard), ResourceShard, meta)
}

// UpdateShard replaces a shard record (e.g. after a segment rollover
// changes its active-segment sequence).
func (m *StateMachine) UpdateShard(ctx context.Context, meta journal.ShardMeta) error {
	if !m.store.exists(shardMetaKey(meta.Namespace, meta.Shard)) {
		return ErrNotFound
	}
	return m.proposeSet(ctx, shardMetaKey(meta.Namespace, meta.Shard), ResourceShard, meta)
}

// ListShards returns every persisted shard record.
func (m *StateMachine) ListShards() []journal.ShardMeta {
	var raw = m.store.getPrefix("md-shard/")
	var out = make([]journal.ShardMeta, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var meta journal.ShardMeta
		if gobDecode(raw[k], &meta) == nil {
			out = append(out, meta)
		}
	}
	return out
}

// CreateSegment persists a new segment's metadata record.
func (m *StateMachine) CreateSegment(ctx context.Context, meta journal.Meta) error {
	if err := validateNonEmpty("shard", meta.Shard); err != nil {
		return err
	}
	return m.proposeSet(ctx, segmentMetaKey(meta.Namespace, meta.Shard, meta.Sequence), ResourceSegment, meta)
}

// UpdateSegment replaces a segment's metadata record.
func (m *StateMachine) UpdateSegment(ctx context.Context, meta journal.Meta) error {
	if !m.store.exists(segmentMetaKey(meta.Namespace, meta.Shard, meta.Sequence)) {
		return ErrNotFound
	}
	return m.proposeSet(ctx, segmentMetaKey(meta.Namespace, meta.Shard, meta.Sequence), ResourceSegment, meta)
}

// UpdateSegmentStatus transitions a segment's status in place without
// requiring the caller to round-trip the full Meta record.
func (m *StateMachine) UpdateSegmentStatus(ctx context.Context, namespace, shard string, seq uint64, status journal.Status) error {
	var meta journal.Meta
	if err := m.getTyped(segmentMetaKey(namespace, shard, seq), &meta); err != nil {
		return err
	}
	meta.Status = status
	return m.proposeSet(ctx, segmentMetaKey(namespace, shard, seq), ResourceSegment, meta)
}

// ListSegments returns every persisted segment metadata record for one
// shard.
func (m *StateMachine) ListSegments(namespace, shard string) []journal.Meta {
	var raw = m.store.getPrefix(namespacedKey("md-segment", namespace, shard) + "/")
	var out = make([]journal.Meta, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var meta journal.Meta
		if gobDecode(raw[k], &meta) == nil {
			out = append(out, meta)
		}
	}
	return out
}

// UpdateSegmentIndexMeta persists a segment's index metadata (start/end
// offset and timestamp), refreshed as the segment is written (spec §3
// "Segment Metadata").
func (m *StateMachine) UpdateSegmentIndexMeta(ctx context.Context, meta journal.IndexMeta) error {
	return m.proposeSet(ctx, segmentIndexKey(meta.Namespace, meta.Shard, meta.Sequence), ResourceSegmentMetadata, meta)
}

// GetSegmentIndexMeta reads a segment's index metadata.
func (m *StateMachine) GetSegmentIndexMeta(namespace, shard string, seq uint64) (journal.IndexMeta, error) {
	var meta journal.IndexMeta
	var err = m.getTyped(segmentIndexKey(namespace, shard, seq), &meta)
	return meta, err
}
