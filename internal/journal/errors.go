package journal

import "github.com/pkg/errors"

// Sentinel errors tested by identity, in the manner of append_fsm.go's
// errExpectedEOF / errExpectedContentChunk.
var (
	ErrSegmentNotExist       = errors.New("segment not exist")
	ErrDataDirNotFound       = errors.New("data directory not found for this node")
	ErrSegmentAtEndOffset    = errors.New("segment at end offset")
	ErrSegmentAlreadySealed  = errors.New("segment already sealed up")
	ErrReplicaInsufficient   = errors.New("replica count insufficient")
	ErrSegmentNotSealed      = errors.New("segment not sealed up")
	ErrSegmentAlreadyDeleted = errors.New("segment already deleted")
	ErrShardExists           = errors.New("shard already exists")
	ErrShardNotFound         = errors.New("shard not found")
)
