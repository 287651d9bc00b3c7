// Package subscribe implements the subscription router (spec §4.7): topic
// filter matching against live subscriptions, exclusive-subscription
// enforcement, and the shared-subscription leader tables the push engine
// reads from. Matching is grounded on internal/topicmatch; the tables are
// plain maps guarded by a single RWMutex on the Router, with no sharding.
package subscribe

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/robustmq/robustmq-sub002/internal/topicmatch"
)

// RetainHandling controls retained-message delivery on a fresh subscribe
// (spec §4.8).
type RetainHandling string

const (
	SendOnSubscribe RetainHandling = "send-on-subscribe"
	SendOnNew       RetainHandling = "send-on-new"
	RetainNever     RetainHandling = "never"
)

// ErrTopicSubscribed is returned when a second subscribe targets a filter
// already held by an exclusive subscription (spec §4.7, §7 Conflict class).
var ErrTopicSubscribed = errors.New("subscribe: filter held by an exclusive subscription")

// SubscribeData is one subscription record (spec §3 "Subscription").
type SubscribeData struct {
	ClientID          string
	Filter            string
	QoS               int
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    RetainHandling
	SubscriptionID    uint32 // 0 means absent; v5 only, range 1..268435455
	GroupName         string // non-empty iff Filter used the $share/<group>/ form
}

// IsShared reports whether this subscription is a shared subscription.
func (s SubscribeData) IsShared() bool { return s.GroupName != "" }

// IsExclusiveFilter reports whether filter uses the exclusive-subscription prefix
// ("$exclusive/..."), per spec §8 scenario 4.
func IsExclusiveFilter(filter string) bool {
	return strings.HasPrefix(filter, "$exclusive/")
}

// shareLeaderKey identifies one shared-subscription group's push task,
// namespace/topic/group/sub-path (spec §4.7).
type shareLeaderKey struct {
	namespace string
	topic     string
	group     string
	subPath   string
}

// SubscriberSet is the live membership of one shared-subscription group,
// plus simple round-robin state the push engine consumes (spec §4.8).
type SubscriberSet struct {
	mu       sync.Mutex
	members  []string // client IDs, insertion order
	notPush  map[string]bool
	nextSeq  uint64
}

func newSubscriberSet() *SubscriberSet {
	return &SubscriberSet{notPush: make(map[string]bool)}
}

// Add installs clientID as a member if not already present.
func (s *SubscriberSet) Add(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m == clientID {
			return
		}
	}
	s.members = append(s.members, clientID)
}

// Remove drops clientID from the group.
func (s *SubscriberSet) Remove(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.members {
		if m == clientID {
			s.members = append(s.members[:i], s.members[i+1:]...)
			break
		}
	}
	delete(s.notPush, clientID)
}

// MarkNotPush flags clientID as currently unreachable, skipping it in
// subsequent round-robin picks until cleared (spec §4.8 "not-push").
func (s *SubscriberSet) MarkNotPush(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notPush[clientID] = true
}

// ClearNotPush clears the not-push flag, e.g. on reconnect.
func (s *SubscriberSet) ClearNotPush(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notPush, clientID)
}

// Next returns the next round-robin member eligible for push (not flagged
// not-push), advancing the internal sequence. Returns "", false if the
// group currently has no eligible member.
func (s *SubscriberSet) Next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n = len(s.members)
	if n == 0 {
		return "", false
	}
	for i := 0; i < n; i++ {
		var idx = int(s.nextSeq % uint64(n))
		s.nextSeq++
		var candidate = s.members[idx]
		if !s.notPush[candidate] {
			return candidate, true
		}
	}
	return "", false
}

// Size reports current membership count.
func (s *SubscriberSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Router holds the two tables spec §4.7 names: (client-id, filter) ->
// SubscribeData, and (share-leader-key) -> SubscriberSet. It also tracks
// which filters are currently held exclusively.
type Router struct {
	mu sync.RWMutex

	// byClient[clientID][filter] = SubscribeData
	byClient map[string]map[string]SubscribeData
	// exclusiveHolders[filter] = clientID currently holding it exclusively
	exclusiveHolders map[string]string
	// everSubscribed[clientID][filter] marks send-on-new eligibility: true
	// once a (client, filter) pair has been subscribed at least once,
	// cleared on unsubscribe so a later resubscribe is "new" again.
	everSubscribed map[string]map[string]bool

	shareGroups map[shareLeaderKey]*SubscriberSet
}

// New constructs an empty Router.
func New() *Router {
	return &Router{
		byClient:         make(map[string]map[string]SubscribeData),
		exclusiveHolders: make(map[string]string),
		everSubscribed:   make(map[string]map[string]bool),
		shareGroups:      make(map[shareLeaderKey]*SubscriberSet),
	}
}

// Subscribe installs a subscription, enforcing exclusive-filter exclusivity
// and wiring shared-subscription group membership. When shared, namespace,
// subPath and the filter's bare topic identify the shared-leader task this
// filter feeds.
func (r *Router) Subscribe(namespace, subPath string, data SubscribeData) (isNew bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if IsExclusiveFilter(data.Filter) {
		var holder, held = r.exclusiveHolders[data.Filter]
		if held && holder != data.ClientID {
			return false, ErrTopicSubscribed
		}
		r.exclusiveHolders[data.Filter] = data.ClientID
	}

	if r.byClient[data.ClientID] == nil {
		r.byClient[data.ClientID] = make(map[string]SubscribeData)
	}
	if r.everSubscribed[data.ClientID] == nil {
		r.everSubscribed[data.ClientID] = make(map[string]bool)
	}
	isNew = !r.everSubscribed[data.ClientID][data.Filter]
	r.everSubscribed[data.ClientID][data.Filter] = true
	r.byClient[data.ClientID][data.Filter] = data

	if data.IsShared() {
		var _, bare, _ = topicmatch.SplitShare(data.Filter)
		var key = shareLeaderKey{namespace: namespace, topic: bare, group: data.GroupName, subPath: subPath}
		var set, ok = r.shareGroups[key]
		if !ok {
			set = newSubscriberSet()
			r.shareGroups[key] = set
		}
		set.Add(data.ClientID)
	}

	return isNew, nil
}

// Unsubscribe removes a (client, filter) subscription, releasing exclusive
// ownership and the send-on-new eligibility marker, and dropping shared
// group membership.
func (r *Router) Unsubscribe(namespace, subPath, clientID, filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var data, ok = r.byClient[clientID][filter]
	if !ok {
		return
	}
	delete(r.byClient[clientID], filter)
	delete(r.everSubscribed[clientID], filter)
	if holder := r.exclusiveHolders[filter]; holder == clientID {
		delete(r.exclusiveHolders, filter)
	}
	if data.IsShared() {
		var _, bare, _ = topicmatch.SplitShare(filter)
		var key = shareLeaderKey{namespace: namespace, topic: bare, group: data.GroupName, subPath: subPath}
		if set, ok := r.shareGroups[key]; ok {
			set.Remove(clientID)
		}
	}
}

// Matching returns every live subscription across all clients whose filter
// matches topic, shared subscriptions included (a "$share/..." filter
// matches on its bare topic); the publish path uses it to find the
// subscriptions that need a push task.
func (r *Router) Matching(topic string) []SubscribeData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SubscribeData
	for _, filters := range r.byClient {
		for _, data := range filters {
			if topicmatch.Matches(data.Filter, topic) {
				out = append(out, data)
			}
		}
	}
	return out
}

// SharedGroupFor returns the SubscriberSet backing one shared-subscription
// leader task, if any subscription has been made under that key.
func (r *Router) SharedGroupFor(namespace, topic, group, subPath string) (*SubscriberSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var set, ok = r.shareGroups[shareLeaderKey{namespace: namespace, topic: topic, group: group, subPath: subPath}]
	return set, ok
}

// ClientSubscription returns the subscription a client holds for filter, if
// any.
func (r *Router) ClientSubscription(clientID, filter string) (SubscribeData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.byClient[clientID][filter]
	return data, ok
}

// SubscriberCount returns the total number of live (client, filter)
// subscriptions across every client (spec §4.9 GaugeSource "subscriber
// count").
func (r *Router) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, filters := range r.byClient {
		n += len(filters)
	}
	return n
}

// SharedSubscriptionCount returns the number of distinct shared-subscription
// groups currently registered (spec §4.9 GaugeSource "shared subscriptions").
func (r *Router) SharedSubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shareGroups)
}

// RemoveClient drops every subscription a client holds under a single
// sub-path, e.g. when a caller already knows all of a client's filters share
// one sub-path.
func (r *Router) RemoveClient(namespace, subPath, clientID string) {
	r.mu.Lock()
	var filters = make([]string, 0, len(r.byClient[clientID]))
	for f := range r.byClient[clientID] {
		filters = append(filters, f)
	}
	r.mu.Unlock()
	for _, f := range filters {
		r.Unsubscribe(namespace, subPath, clientID, f)
	}
}

// RemoveClientAll drops every subscription a client holds, regardless of
// sub-path, deriving each filter's sub-path the same way the dispatcher does
// (the bare, share-prefix-stripped filter when shared, else the raw filter).
// Used on disconnect/session-expiry, where the caller has no per-filter
// sub-path bookkeeping of its own (spec §4.7, §4.10).
func (r *Router) RemoveClientAll(namespace, clientID string) {
	r.mu.Lock()
	var filters = make([]string, 0, len(r.byClient[clientID]))
	for f := range r.byClient[clientID] {
		filters = append(filters, f)
	}
	r.mu.Unlock()
	for _, f := range filters {
		var _, bare, isShared = topicmatch.SplitShare(f)
		var subPath = f
		if isShared {
			subPath = bare
		}
		r.Unsubscribe(namespace, subPath, clientID, f)
	}
}
