package metaservice

import (
	"context"

	"github.com/pkg/errors"
)

func nodeKey(nodeID uint64) string { return namespacedKey("node", fmtUint(nodeID)) }

// fmtUint avoids pulling in strconv just for this; kept tiny and local,
// mirroring the journal package's own itoa helper.
func fmtUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	var i = len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// RegisterNode adds a cluster node (spec §4.2 "register_node").
func (m *StateMachine) RegisterNode(ctx context.Context, node ClusterNode) error {
	if err := validateNonEmpty("rpc_addr", node.RPCAddr); err != nil {
		return err
	}
	if len(node.Roles) == 0 {
		return errors.WithMessage(ErrInvalidArgument, "roles must be non-empty")
	}
	return m.proposeSetHinted(ctx, nodeKey(node.NodeID), ResourceNode, node, node.NodeID)
}

// UnRegisterNode removes a cluster node (spec §4.2 "un_register_node").
func (m *StateMachine) UnRegisterNode(ctx context.Context, nodeID uint64) error {
	return m.proposeDelete(ctx, nodeKey(nodeID), ResourceNode)
}

// Heartbeat refreshes a node's LastBeat timestamp.
func (m *StateMachine) Heartbeat(ctx context.Context, nodeID uint64, now int64) error {
	var node ClusterNode
	if err := m.getTyped(nodeKey(nodeID), &node); err != nil {
		return err
	}
	node.LastBeat = now
	return m.proposeSetHinted(ctx, nodeKey(nodeID), ResourceNode, node, nodeID)
}

// NodeList returns every registered cluster node.
func (m *StateMachine) NodeList() []ClusterNode {
	var raw = m.store.getPrefix("node/")
	var out = make([]ClusterNode, 0, len(raw))
	for _, k := range sortedKeys(raw) {
		var node ClusterNode
		if gobDecode(raw[k], &node) == nil {
			out = append(out, node)
		}
	}
	return out
}

// ClusterStatus summarizes the cluster for spec §4.2's `cluster_status`.
type ClusterStatus struct {
	NodeCount int
	Nodes     []ClusterNode
}

// ClusterStatus returns the current cluster view.
func (m *StateMachine) ClusterStatus() ClusterStatus {
	var nodes = m.NodeList()
	return ClusterStatus{NodeCount: len(nodes), Nodes: nodes}
}
