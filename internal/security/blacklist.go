package security

import (
	"net"
	"strings"
)

// BlacklistKind enumerates the six entry kinds spec §3 "Blacklist Entry"
// defines.
type BlacklistKind string

const (
	BlacklistUser            BlacklistKind = "user"
	BlacklistClientID        BlacklistKind = "client-id"
	BlacklistIP              BlacklistKind = "ip"
	BlacklistUserPattern     BlacklistKind = "user-pattern"
	BlacklistClientIDPattern BlacklistKind = "client-id-pattern"
	BlacklistIPCIDR          BlacklistKind = "ip-cidr"
)

// BlacklistEntry is a single entry (spec §3). EndTime is a Unix second
// timestamp; entries with EndTime < now are expired and ignored.
type BlacklistEntry struct {
	Kind     BlacklistKind
	Resource string
	EndTime  int64
}

// Blacklist holds entries bucketed by kind for the fixed check order spec
// §4.6 requires.
type Blacklist struct {
	byKind map[BlacklistKind][]BlacklistEntry
}

// NewBlacklist constructs an empty Blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{byKind: make(map[BlacklistKind][]BlacklistEntry)}
}

// Add installs an entry.
func (b *Blacklist) Add(e BlacklistEntry) {
	b.byKind[e.Kind] = append(b.byKind[e.Kind], e)
}

// checkOrder is the fixed precedence spec §4.6 mandates: "exact user, exact
// client-id, exact ip, user glob, client-id glob, IP CIDR".
var checkOrder = []BlacklistKind{
	BlacklistUser, BlacklistClientID, BlacklistIP,
	BlacklistUserPattern, BlacklistClientIDPattern, BlacklistIPCIDR,
}

// Denied reports whether the (user, clientID, ip) triple is blacklisted,
// checking kinds in the spec-mandated order and ignoring expired entries.
// The first hit denies login.
func (b *Blacklist) Denied(user, clientID, ip string, nowUnix int64) bool {
	for _, kind := range checkOrder {
		for _, e := range b.byKind[kind] {
			if e.EndTime < nowUnix {
				continue // expired
			}
			if entryMatches(kind, e.Resource, user, clientID, ip) {
				return true
			}
		}
	}
	return false
}

func entryMatches(kind BlacklistKind, resource, user, clientID, ip string) bool {
	switch kind {
	case BlacklistUser:
		return resource == user
	case BlacklistClientID:
		return resource == clientID
	case BlacklistIP:
		return resource == ip
	case BlacklistUserPattern:
		return matchPrefix(trimGlobSuffix(resource), user)
	case BlacklistClientIDPattern:
		return matchPrefix(trimGlobSuffix(resource), clientID)
	case BlacklistIPCIDR:
		return cidrContains(resource, ip)
	default:
		return false
	}
}

func hasGlobSuffix(s string) bool { return strings.HasSuffix(s, "*") }

func trimGlobSuffix(s string) string { return strings.TrimSuffix(s, "*") }

// matchPrefix implements the trailing-'*' glob spec §4.6 describes.
func matchPrefix(prefix, s string) bool { return strings.HasPrefix(s, prefix) }

func cidrContains(cidr, ip string) bool {
	var _, network, err = net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	var addr = net.ParseIP(ip)
	if addr == nil {
		return false
	}
	return network.Contains(addr)
}
