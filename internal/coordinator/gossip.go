package coordinator

// handleSyncKey merges an anti-entropy gossip payload into the local
// sibling set for the key. There is no reply.
func (n *Node) handleSyncKey(m SyncKey) {
	if m.Values == nil {
		return
	}
	n.getOrCreateSet(m.Key).Merge(m.Values)
}

// handlePingReq is the replica side: answer any live peer's health check.
func (n *Node) handlePingReq(m PingReq) []Outbound {
	return []Outbound{{To: m.From, Msg: PingRsp{From: n.cfg.NodeID, To: m.From}}}
}

// handlePingRsp is the coordinator side: declare the peer alive again
// and replay any hints owed to it.
func (n *Node) handlePingRsp(m PingRsp) []Outbound {
	delete(n.failureView, m.From)

	keys, ok := n.hints[m.From]
	if !ok {
		return nil
	}
	delete(n.hints, m.From)

	var out []Outbound
	for key := range keys {
		set, ok := n.store[key]
		if !ok {
			continue
		}
		for _, v := range set.Versions() {
			out = append(out, Outbound{To: m.From, Msg: PutReq{
				From: n.cfg.NodeID, To: m.From, Key: key,
				Value: v.Data, Clock: v.Clock, MsgID: 0, Handoff: nil,
			}})
		}
	}
	return out
}

// handleAddNode admits a new physical node into the ring and streams it
// every key it now owns.
func (n *Node) handleAddNode(m AddNode) []Outbound {
	if contains(n.ring.Nodes(), m.NewNode) {
		return []Outbound{{To: m.From, Msg: AddNodeAck{From: n.cfg.NodeID, To: m.From, NewNode: m.NewNode}}}
	}

	n.ring.AddNode(m.NewNode, n.cfg.T)
	delete(n.failureView, m.NewNode)

	var out []Outbound
	for key, set := range n.store {
		preference, _ := n.ring.FindNodes(key, n.cfg.N, nil)
		if !contains(preference, m.NewNode) {
			continue
		}
		for _, v := range set.Versions() {
			out = append(out, Outbound{To: m.NewNode, Msg: PutReq{
				From: n.cfg.NodeID, To: m.NewNode, Key: key,
				Value: v.Data, Clock: v.Clock, MsgID: 0,
			}})
		}
	}

	out = append(out, Outbound{To: m.From, Msg: AddNodeAck{From: n.cfg.NodeID, To: m.From, NewNode: m.NewNode}})
	return out
}
