package metaservice

import "context"

func resourceConfigKey(name string) string { return namespacedKey("cluster-resource-config", name) }

// SetResourceConfig stores a named cluster-wide config blob (spec §4.2).
func (m *StateMachine) SetResourceConfig(ctx context.Context, name string, value []byte) error {
	if err := validateNonEmpty("name", name); err != nil {
		return err
	}
	return m.proposeSet(ctx, resourceConfigKey(name), ResourceClusterResourceConfig, ResourceConfigRecord{Name: name, Value: value})
}

// GetResourceConfig reads a named config blob.
func (m *StateMachine) GetResourceConfig(name string) (ResourceConfigRecord, error) {
	var rec ResourceConfigRecord
	var err = m.getTyped(resourceConfigKey(name), &rec)
	return rec, err
}

// DeleteResourceConfig removes a named config blob.
func (m *StateMachine) DeleteResourceConfig(ctx context.Context, name string) error {
	return m.proposeDelete(ctx, resourceConfigKey(name), ResourceClusterResourceConfig)
}
