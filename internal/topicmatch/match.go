// Package topicmatch implements MQTT topic filter matching (spec §4.7):
// '+' matches exactly one level, '#' matches zero or more trailing levels
// and is only valid as the final segment, and shared-subscription filters
// of the form "$share/<group>/<filter>" match on the filter portion once
// the "$share/<group>/" prefix is stripped. This is shared by the
// subscription router and the ACL topic-pattern check (spec §4.6), since
// both use the identical grammar.
package topicmatch

import "strings"

const SharePrefix = "$share/"

// SplitShare strips a "$share/<group>/<filter>" prefix, returning the group
// name and the bare filter. ok is false if filter isn't a shared filter.
func SplitShare(filter string) (group, bare string, ok bool) {
	if !strings.HasPrefix(filter, SharePrefix) {
		return "", filter, false
	}
	var rest = filter[len(SharePrefix):]
	var idx = strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", filter, false
	}
	return rest[:idx], rest[idx+1:], true
}

// Matches reports whether topic matches filter under the standard MQTT
// wildcard rules. filter may itself be a $share/<group>/<filter> form, in
// which case only the bare filter portion is used for matching.
func Matches(filter, topic string) bool {
	if _, bare, ok := SplitShare(filter); ok {
		filter = bare
	}
	return matchLevels(strings.Split(filter, "/"), strings.Split(topic, "/"))
}

func matchLevels(filter, topic []string) bool {
	for i := 0; i < len(filter); i++ {
		var f = filter[i]

		if f == "#" {
			// '#' is only valid as the last segment (spec §4.7); a well-formed
			// filter never reaches here otherwise, but guard defensively.
			return i == len(filter)-1
		}
		if i >= len(topic) {
			return false
		}
		if f == "+" {
			continue
		}
		if f != topic[i] {
			return false
		}
	}
	return len(filter) == len(topic)
}
