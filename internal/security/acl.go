package security

import "github.com/robustmq/robustmq-sub002/internal/topicmatch"

// SubjectKind is who an ACL rule applies to.
type SubjectKind string

const (
	SubjectClientID SubjectKind = "client-id"
	SubjectUser     SubjectKind = "user"
)

// Action is the operation an ACL rule governs.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
	ActionAll       Action = "all"
)

// Permission is the rule's effect.
type Permission string

const (
	PermissionAllow Permission = "allow"
	PermissionDeny  Permission = "deny"
)

// Rule is a single ACL rule (spec §3 "ACL Rule").
type Rule struct {
	SubjectKind SubjectKind
	Resource    string // client-id or username this rule binds to
	Topic       string
	IP          string
	Action      Action
	Permission  Permission
}

// ACL holds rules in four tables keyed by subject kind and exact/pattern:
// a map per subject kind for exact subjects and a slice per subject kind
// for patterns. Patterns use a trailing '*' (same glob style as blacklist).
type ACL struct {
	clientExact map[string][]Rule
	clientGlob  []globRule
	userExact   map[string][]Rule
	userGlob    []globRule
}

type globRule struct {
	prefix string
	rule   Rule
}

// NewACL constructs an empty ACL table.
func NewACL() *ACL {
	return &ACL{
		clientExact: make(map[string][]Rule),
		userExact:   make(map[string][]Rule),
	}
}

// AddRule installs a rule into the appropriate exact/pattern bucket.
func (a *ACL) AddRule(r Rule) {
	var isGlob = hasGlobSuffix(r.Resource)
	switch r.SubjectKind {
	case SubjectClientID:
		if isGlob {
			a.clientGlob = append(a.clientGlob, globRule{prefix: trimGlobSuffix(r.Resource), rule: r})
		} else {
			a.clientExact[r.Resource] = append(a.clientExact[r.Resource], r)
		}
	case SubjectUser:
		if isGlob {
			a.userGlob = append(a.userGlob, globRule{prefix: trimGlobSuffix(r.Resource), rule: r})
		} else {
			a.userExact[r.Resource] = append(a.userExact[r.Resource], r)
		}
	}
}

// Check evaluates every matching rule for the (clientID, user, ip) triple
// against the requested action/topic. Deny beats allow only if a deny rule
// matches; otherwise the default is allow (spec §4.6).
func (a *ACL) Check(clientID, user, ip, topic string, action Action) Permission {
	var matched []Rule
	matched = append(matched, a.clientExact[clientID]...)
	matched = append(matched, a.userExact[user]...)
	for _, g := range a.clientGlob {
		if matchPrefix(g.prefix, clientID) {
			matched = append(matched, g.rule)
		}
	}
	for _, g := range a.userGlob {
		if matchPrefix(g.prefix, user) {
			matched = append(matched, g.rule)
		}
	}

	var sawAllow bool
	for _, r := range matched {
		if !actionMatches(r.Action, action) {
			continue
		}
		if r.Topic != "" && !topicPatternMatches(r.Topic, topic) {
			continue
		}
		if r.IP != "" && r.IP != ip {
			continue
		}
		if r.Permission == PermissionDeny {
			return PermissionDeny
		}
		sawAllow = true
	}
	if sawAllow {
		return PermissionAllow
	}
	return PermissionAllow // default allow per spec §4.6
}

func actionMatches(ruleAction, requested Action) bool {
	return ruleAction == ActionAll || ruleAction == requested
}

// topicPatternMatches reuses the same +/# filter semantics as subscription
// matching (spec §4.7), since ACL topic patterns follow the same grammar.
func topicPatternMatches(pattern, topic string) bool {
	return topicmatch.Matches(pattern, topic)
}
