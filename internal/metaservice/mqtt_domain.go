package metaservice

import "context"

func userKey(username string) string                  { return namespacedKey("user", username) }
func sessionKey(clientID string) string                { return namespacedKey("session", clientID) }
func topicKey(name string) string                      { return namespacedKey("topic", name) }
func topicRetainKey(name string) string                { return namespacedKey("topic-retain", name) }
func shareSubLeaderKey(ns, topic, group string) string  { return namespacedKey("share-leader", ns, topic, group) }
func lastWillKey(clientID string) string               { return namespacedKey("last-will", clientID) }
func aclKey(idx int, subject, resource string) string   { return namespacedKey("acl", subject, resource, fmtUint(uint64(idx))) }
func blacklistKey(kind, resource string) string        { return namespacedKey("blacklist", kind, resource) }
func topicRewriteKey(action, source string) string     { return namespacedKey("topic-rewrite", action, source) }
func subscribeKey(clientID, filter string) string      { return namespacedKey("subscribe", clientID, filter) }
func connectorKey(name string) string                  { return namespacedKey("connector", name) }
func autoSubscribeKey(topic string) string             { return namespacedKey("auto-subscribe", topic) }

// --- users ---

// SaveUser persists a user credential (spec §4.2 MQTT domain "users").
func (m *StateMachine) SaveUser(ctx context.Context, rec UserRecord) error {
	if err := validateNonEmpty("username", rec.Username); err != nil {
		return err
	}
	return m.proposeSet(ctx, userKey(rec.Username), ResourceUser, rec)
}

// GetUser reads a user credential.
func (m *StateMachine) GetUser(username string) (UserRecord, error) {
	var rec UserRecord
	var err = m.getTyped(userKey(username), &rec)
	return rec, err
}

// DeleteUser removes a user credential.
func (m *StateMachine) DeleteUser(ctx context.Context, username string) error {
	return m.proposeDelete(ctx, userKey(username), ResourceUser)
}

// --- sessions ---

// SaveSession persists session state (spec §3 "Session": at most one
// connection owns a session at a time; enforced by the caller setting
// CurrentConnID on each new Connect).
func (m *StateMachine) SaveSession(ctx context.Context, rec SessionRecord) error {
	if err := validateNonEmpty("client_id", rec.ClientID); err != nil {
		return err
	}
	return m.proposeSet(ctx, sessionKey(rec.ClientID), ResourceSession, rec)
}

// GetSession reads a session record.
func (m *StateMachine) GetSession(clientID string) (SessionRecord, error) {
	var rec SessionRecord
	var err = m.getTyped(sessionKey(clientID), &rec)
	return rec, err
}

// DeleteSession removes a session record (and its last-will, if any).
func (m *StateMachine) DeleteSession(ctx context.Context, clientID string) error {
	if err := m.proposeDelete(ctx, lastWillKey(clientID), ResourceSession); err != nil {
		return err
	}
	return m.proposeDelete(ctx, sessionKey(clientID), ResourceSession)
}

// ListSessions returns every persisted session.
func (m *StateMachine) ListSessions() []SessionRecord {
	var raw = m.store.getPrefix("session/")
	var out = make([]SessionRecord, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var rec SessionRecord
		if gobDecode(raw[k], &rec) == nil {
			out = append(out, rec)
		}
	}
	return out
}

// --- topics (streamed list per spec §4.2) ---

// CreateTopic lazily registers a topic name (spec §3 "Topic": created
// lazily on first publish).
func (m *StateMachine) CreateTopic(ctx context.Context, name string) error {
	if err := validateNonEmpty("name", name); err != nil {
		return err
	}
	if m.store.exists(topicKey(name)) {
		return nil // idempotent: first-publish creation races harmlessly
	}
	return m.proposeSet(ctx, topicKey(name), ResourceTopic, TopicRecord{Name: name})
}

// ListTopics streams every known topic name. A real RPC surface would
// stream these one at a time (spec §4.2 "topics (streamed list)"); here
// the caller ranges over the returned channel, closed once exhausted.
func (m *StateMachine) ListTopics(ctx context.Context) <-chan TopicRecord {
	var out = make(chan TopicRecord)
	go func() {
		defer close(out)
		var raw = m.store.getPrefix("topic/")
		for _, k := range sortedKeys(raw) {
			var rec TopicRecord
			if gobDecode(raw[k], &rec) != nil {
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SetTopicRetain sets or clears (zero value) a topic's retained message.
func (m *StateMachine) SetTopicRetain(ctx context.Context, topic string, msg RetainedMessage) error {
	if err := validateNonEmpty("topic", topic); err != nil {
		return err
	}
	return m.proposeSet(ctx, topicRetainKey(topic), ResourceTopic, msg)
}

// GetTopicRetain reads a topic's retained message, if any.
func (m *StateMachine) GetTopicRetain(topic string) (RetainedMessage, error) {
	var msg RetainedMessage
	var err = m.getTyped(topicRetainKey(topic), &msg)
	return msg, err
}

// ClearTopicRetain removes a topic's retained message.
func (m *StateMachine) ClearTopicRetain(ctx context.Context, topic string) error {
	return m.proposeDelete(ctx, topicRetainKey(topic), ResourceTopic)
}

// --- share-sub leader lookup ---

// SetShareSubLeader records which node owns a shared-subscription group's
// round-robin cursor (original_source share_leader_push.rs; SPEC_FULL.md
// §D).
func (m *StateMachine) SetShareSubLeader(ctx context.Context, rec ShareSubLeaderRecord) error {
	if err := validateNonEmpty("topic", rec.Topic); err != nil {
		return err
	}
	if err := validateNonEmpty("group", rec.Group); err != nil {
		return err
	}
	return m.proposeSet(ctx, shareSubLeaderKey(rec.Namespace, rec.Topic, rec.Group), ResourceSubscribe, rec)
}

// GetShareSubLeader looks up the current leader for a shared-subscription
// group.
func (m *StateMachine) GetShareSubLeader(namespace, topic, group string) (ShareSubLeaderRecord, error) {
	var rec ShareSubLeaderRecord
	var err = m.getTyped(shareSubLeaderKey(namespace, topic, group), &rec)
	return rec, err
}

// --- last will ---

// SaveLastWill persists a session's last-will payload.
func (m *StateMachine) SaveLastWill(ctx context.Context, rec LastWillRecord) error {
	if err := validateNonEmpty("client_id", rec.ClientID); err != nil {
		return err
	}
	return m.proposeSet(ctx, lastWillKey(rec.ClientID), ResourceSession, rec)
}

// GetLastWill reads a session's saved last-will payload.
func (m *StateMachine) GetLastWill(clientID string) (LastWillRecord, error) {
	var rec LastWillRecord
	var err = m.getTyped(lastWillKey(clientID), &rec)
	return rec, err
}

// --- ACL ---

// SaveACLRule persists an ACL rule under a caller-chosen index (ACL rules
// have no natural unique key beyond subject+topic+action+permission, so
// callers enumerate an index when saving more than one rule per subject).
func (m *StateMachine) SaveACLRule(ctx context.Context, idx int, rule ACLRuleRecord) error {
	if err := validateNonEmpty("resource", rule.Resource); err != nil {
		return err
	}
	return m.proposeSet(ctx, aclKey(idx, string(rule.SubjectKind), rule.Resource), ResourceUser, rule)
}

// DeleteACLRule removes a previously saved ACL rule.
func (m *StateMachine) DeleteACLRule(ctx context.Context, idx int, subject, resource string) error {
	return m.proposeDelete(ctx, aclKey(idx, subject, resource), ResourceUser)
}

// ListACLRules returns every persisted ACL rule.
func (m *StateMachine) ListACLRules() []ACLRuleRecord {
	var raw = m.store.getPrefix("acl/")
	var out = make([]ACLRuleRecord, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var rule ACLRuleRecord
		if gobDecode(raw[k], &rule) == nil {
			out = append(out, rule)
		}
	}
	return out
}

// --- blacklist ---

// SaveBlacklistEntry persists a blacklist entry (spec §3 "Blacklist
// Entry").
func (m *StateMachine) SaveBlacklistEntry(ctx context.Context, entry BlacklistRecord) error {
	if err := validateNonEmpty("resource", entry.Resource); err != nil {
		return err
	}
	return m.proposeSet(ctx, blacklistKey(string(entry.Kind), entry.Resource), ResourceUser, entry)
}

// DeleteBlacklistEntry removes a blacklist entry.
func (m *StateMachine) DeleteBlacklistEntry(ctx context.Context, kind, resource string) error {
	return m.proposeDelete(ctx, blacklistKey(kind, resource), ResourceUser)
}

// ListBlacklistEntries returns every persisted blacklist entry.
func (m *StateMachine) ListBlacklistEntries() []BlacklistRecord {
	var raw = m.store.getPrefix("blacklist/")
	var out = make([]BlacklistRecord, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var entry BlacklistRecord
		if gobDecode(raw[k], &entry) == nil {
			out = append(out, entry)
		}
	}
	return out
}

// --- topic rewrite ---

// SaveTopicRewriteRule persists a topic-rewrite rule.
func (m *StateMachine) SaveTopicRewriteRule(ctx context.Context, rule TopicRewriteRule) error {
	if err := validateNonEmpty("source_topic", rule.SourceTopic); err != nil {
		return err
	}
	return m.proposeSet(ctx, topicRewriteKey(rule.Action, rule.SourceTopic), ResourceTopic, rule)
}

// DeleteTopicRewriteRule removes a topic-rewrite rule.
func (m *StateMachine) DeleteTopicRewriteRule(ctx context.Context, action, sourceTopic string) error {
	return m.proposeDelete(ctx, topicRewriteKey(action, sourceTopic), ResourceTopic)
}

// ListTopicRewriteRules returns every persisted topic-rewrite rule.
func (m *StateMachine) ListTopicRewriteRules() []TopicRewriteRule {
	var raw = m.store.getPrefix("topic-rewrite/")
	var out = make([]TopicRewriteRule, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var rule TopicRewriteRule
		if gobDecode(raw[k], &rule) == nil {
			out = append(out, rule)
		}
	}
	return out
}

// --- subscribe (persisted subscription records, spec §3 "Subscription") ---

// SaveSubscribe persists one (client-id, filter) subscription (invariant:
// unique per pair, enforced by overwriting at the same key).
func (m *StateMachine) SaveSubscribe(ctx context.Context, clientID, filter string, payload []byte) error {
	if err := validateNonEmpty("client_id", clientID); err != nil {
		return err
	}
	if err := validateNonEmpty("filter", filter); err != nil {
		return err
	}
	return m.proposeSetRaw(ctx, subscribeKey(clientID, filter), ResourceSubscribe, payload)
}

// DeleteSubscribe removes a persisted subscription.
func (m *StateMachine) DeleteSubscribe(ctx context.Context, clientID, filter string) error {
	return m.proposeDelete(ctx, subscribeKey(clientID, filter), ResourceSubscribe)
}

// ListSubscribesForClient returns every persisted subscription payload for
// a client, keyed by filter.
func (m *StateMachine) ListSubscribesForClient(clientID string) map[string][]byte {
	var raw = m.store.getPrefix(namespacedKey("subscribe", clientID) + "/")
	var prefixLen = len(namespacedKey("subscribe", clientID)) + 1
	var out = make(map[string][]byte, len(raw))
	for k, v := range raw {
		out[k[prefixLen:]] = v
	}
	return out
}

// --- connectors ---

// SaveConnector persists a data-connector configuration.
func (m *StateMachine) SaveConnector(ctx context.Context, rec ConnectorRecord) error {
	if err := validateNonEmpty("name", rec.Name); err != nil {
		return err
	}
	return m.proposeSet(ctx, connectorKey(rec.Name), ResourceConnector, rec)
}

// DeleteConnector removes a data-connector configuration.
func (m *StateMachine) DeleteConnector(ctx context.Context, name string) error {
	return m.proposeDelete(ctx, connectorKey(name), ResourceConnector)
}

// ListConnectors returns every persisted connector.
func (m *StateMachine) ListConnectors() []ConnectorRecord {
	var raw = m.store.getPrefix("connector/")
	var out = make([]ConnectorRecord, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var rec ConnectorRecord
		if gobDecode(raw[k], &rec) == nil {
			out = append(out, rec)
		}
	}
	return out
}

// --- auto-subscribe rules ---

// SaveAutoSubscribeRule persists a rule applied to every new session.
func (m *StateMachine) SaveAutoSubscribeRule(ctx context.Context, rule AutoSubscribeRule) error {
	if err := validateNonEmpty("topic", rule.Topic); err != nil {
		return err
	}
	return m.proposeSet(ctx, autoSubscribeKey(rule.Topic), ResourceSubscribe, rule)
}

// DeleteAutoSubscribeRule removes an auto-subscribe rule.
func (m *StateMachine) DeleteAutoSubscribeRule(ctx context.Context, topic string) error {
	return m.proposeDelete(ctx, autoSubscribeKey(topic), ResourceSubscribe)
}

// ListAutoSubscribeRules returns every persisted auto-subscribe rule.
func (m *StateMachine) ListAutoSubscribeRules() []AutoSubscribeRule {
	var raw = m.store.getPrefix("auto-subscribe/")
	var out = make([]AutoSubscribeRule, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var rule AutoSubscribeRule
		if gobDecode(raw[k], &rule) == nil {
			out = append(out, rule)
		}
	}
	return out
}
