// Package metaservice implements the Metadata State Machine (spec §4.2): a
// strongly-consistent KV plus domain operations, replicated via an
// embedded consensus log. The KV-with-typed-domain-wrappers shape is
// grounded on consumer/key_space.go and consumer/resolver.go (teacher),
// generalized from the teacher's thin etcd-client read path to a local
// state machine whose writes go through raft (go.etcd.io/raft/v3) instead
// of an external etcd cluster — the natural embedded-consensus analogue of
// the teacher's clientv3 usage, and the direct counterpart to the
// consensus log original_source/src/placement-center/src/raft/machine.rs
// confirms the original embeds.
package metaservice

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is returned when a typed validator rejects a request
// before any state is touched (spec §4.2 "Validation failure returns
// invalid argument without touching state").
var ErrInvalidArgument = errors.New("metaservice: invalid argument")

// ErrInternal wraps an application-time failure (spec §4.2 "Application
// failures map to internal").
var ErrInternal = errors.New("metaservice: internal")

// ErrNotFound is returned by typed Get operations when the key is absent.
var ErrNotFound = errors.New("metaservice: not found")

// ErrNotLeader is returned when a mutation is proposed against a node that
// is not the current raft leader.
var ErrNotLeader = errors.New("metaservice: not leader")

func errInvalidf(format string, args ...interface{}) error {
	return errors.WithMessage(ErrInvalidArgument, fmt.Sprintf(format, args...))
}
