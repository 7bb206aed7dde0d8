package coordinator

import (
	"time"

	"dynamokv/internal/vclock"
	"dynamokv/internal/version"
)

// handleClientPut opens a write quorum round for a client PUT,
// forwarding to the real coordinator first if this node isn't in the
// key's preference list.
func (n *Node) handleClientPut(m ClientPut, now time.Time) []Outbound {
	preference, skipped := n.ring.FindNodes(m.Key, n.cfg.N, n.failureView)
	if len(preference) == 0 {
		return nil
	}

	if !contains(preference, n.cfg.NodeID) {
		return []Outbound{{To: preference[0], Msg: ForwardClientPut{
			Coordinator: preference[0],
			ClientPut:   m,
		}}}
	}

	seq := n.allocSeq()

	writeClock := vclock.Converge(m.Metadata...)
	writeClock.Update(n.cfg.NodeID, seq)

	p := &pendingPut{
		clientAddr: m.ClientAddr,
		requestID:  m.RequestID,
		key:        m.Key,
		clock:      writeClock,
		value:      m.Value,
		contacted:  make(map[string]bool),
		acks:       make(map[string]bool),
	}
	n.pendingPuts[seq] = p

	handoffMarker := handoffFor(skipped, n.cfg.N)
	nonSkippedCount := n.cfg.N - len(skipped)
	if nonSkippedCount < 0 {
		nonSkippedCount = 0
	}

	var out []Outbound
	for i, p2 := range preference {
		var handoff []string
		if i >= nonSkippedCount {
			handoff = handoffMarker
		}
		n.pendingPuts[seq].contacted[p2] = true
		n.installDeadline(p2, kindPut, seq, m.Key, now)
		out = append(out, Outbound{To: p2, Msg: PutReq{
			From: n.cfg.NodeID, To: p2, Key: m.Key,
			Value: m.Value, Clock: writeClock, MsgID: seq, Handoff: handoff,
		}})
	}
	return out
}

// handlePutReq is the replica side: apply the write under the add-rule,
// record any handoff hints, and ack.
func (n *Node) handlePutReq(m PutReq) []Outbound {
	set := n.getOrCreateSet(m.Key)
	set.Add(version.Value{Data: m.Value, Clock: m.Clock})

	if m.Handoff != nil {
		for _, failed := range m.Handoff {
			n.failureView[failed] = true
			if n.hints[failed] == nil {
				n.hints[failed] = make(map[string]bool)
			}
			n.hints[failed][m.Key] = true
		}
	}

	return []Outbound{{To: m.From, Msg: PutRsp{From: n.cfg.NodeID, To: m.From, MsgID: m.MsgID}}}
}

// handlePutRsp is the coordinator side: collect acks, commit the round
// once W have arrived.
func (n *Node) handlePutRsp(m PutRsp) []Outbound {
	if m.MsgID == 0 {
		return nil // fire-and-forget reply, never tracked
	}
	p, ok := n.pendingPuts[m.MsgID]
	if !ok {
		return nil
	}
	p.acks[m.From] = true
	n.dropDeadline(m.MsgID, m.From)
	if len(p.acks) < n.cfg.W {
		return nil
	}

	delete(n.pendingPuts, m.MsgID)
	n.dropDeadlines(m.MsgID)

	return []Outbound{{To: p.clientAddr, Msg: ClientPutRsp{
		Key: p.key, RequestID: p.requestID, ClientAddr: p.clientAddr,
	}}}
}
