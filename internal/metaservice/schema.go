package metaservice

import "context"

func schemaKey(name string) string { return namespacedKey("schema", name) }

func schemaBindingKey(schema, resource string) string {
	return namespacedKey("schema-binding", schema, resource)
}

// ListSchemas returns every registered schema.
func (m *StateMachine) ListSchemas() []SchemaRecord {
	var raw = m.store.getPrefix("schema/")
	var out = make([]SchemaRecord, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var rec SchemaRecord
		if gobDecode(raw[k], &rec) == nil {
			out = append(out, rec)
		}
	}
	return out
}

// CreateSchema registers a new schema.
func (m *StateMachine) CreateSchema(ctx context.Context, rec SchemaRecord) error {
	if err := validateNonEmpty("name", rec.Name); err != nil {
		return err
	}
	if m.store.exists(schemaKey(rec.Name)) {
		return errInvalidf("schema %q already exists", rec.Name)
	}
	return m.proposeSet(ctx, schemaKey(rec.Name), ResourceSchema, rec)
}

// UpdateSchema replaces an existing schema's definition.
func (m *StateMachine) UpdateSchema(ctx context.Context, rec SchemaRecord) error {
	if err := validateNonEmpty("name", rec.Name); err != nil {
		return err
	}
	if !m.store.exists(schemaKey(rec.Name)) {
		return ErrNotFound
	}
	return m.proposeSet(ctx, schemaKey(rec.Name), ResourceSchema, rec)
}

// DeleteSchema removes a schema.
func (m *StateMachine) DeleteSchema(ctx context.Context, name string) error {
	return m.proposeDelete(ctx, schemaKey(name), ResourceSchema)
}

// BindSchema associates a schema with a resource (e.g. a topic).
func (m *StateMachine) BindSchema(ctx context.Context, binding SchemaBindingRecord) error {
	if err := validateNonEmpty("schema_name", binding.SchemaName); err != nil {
		return err
	}
	if err := validateNonEmpty("resource", binding.Resource); err != nil {
		return err
	}
	if !m.store.exists(schemaKey(binding.SchemaName)) {
		return errInvalidf("schema %q does not exist", binding.SchemaName)
	}
	return m.proposeSet(ctx, schemaBindingKey(binding.SchemaName, binding.Resource), ResourceSchemaResource, binding)
}

// UnbindSchema removes a schema/resource binding.
func (m *StateMachine) UnbindSchema(ctx context.Context, schemaName, resource string) error {
	return m.proposeDelete(ctx, schemaBindingKey(schemaName, resource), ResourceSchemaResource)
}
