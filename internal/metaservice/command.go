package metaservice

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// CacheResource enumerates the resource kinds the Broker-Call Pipeline
// fans cache-update events for (spec §4.3).
type CacheResource string

const (
	ResourceSession               CacheResource = "session"
	ResourceSchema                CacheResource = "schema"
	ResourceSchemaResource        CacheResource = "schema-resource"
	ResourceConnector             CacheResource = "connector"
	ResourceUser                  CacheResource = "user"
	ResourceSubscribe             CacheResource = "subscribe"
	ResourceTopic                 CacheResource = "topic"
	ResourceNode                  CacheResource = "node"
	ResourceClusterResourceConfig CacheResource = "cluster-resource-config"
	ResourceShard                 CacheResource = "shard"
	ResourceSegment               CacheResource = "segment"
	ResourceSegmentMetadata       CacheResource = "segment-metadata"
)

// CacheAction is the mutation kind a cache-update event reports.
type CacheAction string

const (
	CacheActionSet    CacheAction = "set"
	CacheActionDelete CacheAction = "delete"
)

// command is one raft log entry: a single KV mutation plus the cache-update
// metadata needed to fan it out once committed. proposalID correlates a
// local Propose call with its eventual Apply, so Propose can block until
// its own entry is applied without guessing at log position.
type command struct {
	ProposalID uint64
	Key        string
	Value      []byte
	Delete     bool
	Resource   CacheResource
	NodeIDHint uint64 // set only for ResourceNode mutations, for self-update suppression
}

func encodeCommand(c command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errors.WithMessage(err, "metaservice: encode command")
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (command, error) {
	var c command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return command{}, errors.WithMessage(err, "metaservice: decode command")
	}
	return c, nil
}

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.WithMessage(err, "metaservice: encode value")
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return errors.WithMessage(err, "metaservice: decode value")
	}
	return nil
}
