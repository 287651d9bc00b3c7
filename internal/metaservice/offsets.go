package metaservice

import "context"

func offsetKey(group, namespace, shard string) string {
	return namespacedKey("offset", group, namespace, shard)
}

// SaveOffset persists a consumer group's committed offset (spec §4.2
// "save_offset"). This is the metadata-service counterpart of the push
// engine's own offset-commit retry loop (§4.8): the push engine retries
// the RPC to this method, not the state machine's internal application.
func (m *StateMachine) SaveOffset(ctx context.Context, rec OffsetRecord) error {
	if err := validateNonEmpty("group", rec.Group); err != nil {
		return err
	}
	if err := validateNonEmpty("namespace", rec.Namespace); err != nil {
		return err
	}
	if err := validateNonEmpty("shard", rec.Shard); err != nil {
		return err
	}
	return m.proposeSet(ctx, offsetKey(rec.Group, rec.Namespace, rec.Shard), "", rec)
}

// GetOffset reads the last committed offset for a group/namespace/shard.
func (m *StateMachine) GetOffset(group, namespace, shard string) (OffsetRecord, error) {
	var rec OffsetRecord
	var err = m.getTyped(offsetKey(group, namespace, shard), &rec)
	return rec, err
}
