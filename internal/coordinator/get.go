package coordinator

import (
	"time"

	"dynamokv/internal/vclock"
	"dynamokv/internal/version"
)

// handleClientGet opens a read quorum round for a client GET, forwarding
// to the real coordinator first if this node isn't in the key's
// preference list.
func (n *Node) handleClientGet(m ClientGet, now time.Time) []Outbound {
	preference, _ := n.ring.FindNodes(m.Key, n.cfg.N, n.failureView)
	if len(preference) == 0 {
		return nil
	}

	if !contains(preference, n.cfg.NodeID) {
		return []Outbound{{To: preference[0], Msg: ForwardClientGet{
			Coordinator: preference[0],
			ClientGet:   m,
		}}}
	}

	seq := n.allocSeq()
	g := &pendingGet{
		clientAddr: m.ClientAddr,
		requestID:  m.RequestID,
		key:        m.Key,
		contacted:  make(map[string]bool),
		responses:  make(map[string]*version.Set),
	}
	n.pendingGets[seq] = g

	var out []Outbound
	for _, p := range preference {
		g.contacted[p] = true
		n.installDeadline(p, kindGet, seq, m.Key, now)
		out = append(out, Outbound{To: p, Msg: GetReq{From: n.cfg.NodeID, To: p, Key: m.Key, MsgID: seq}})
	}
	return out
}

// handleGetReq is the replica side: return whatever sibling set this
// node holds for the key, empty or not.
func (n *Node) handleGetReq(m GetReq) []Outbound {
	values, ok := n.store[m.Key]
	if !ok {
		values = version.NewSet()
	}
	return []Outbound{{To: m.From, Msg: GetRsp{
		From: n.cfg.NodeID, To: m.From, Key: m.Key, Values: values.Clone(), MsgID: m.MsgID,
	}}}
}

// handleGetRsp is the coordinator side: collect R responses, merge,
// read-repair the stragglers, and reply to the client.
func (n *Node) handleGetRsp(m GetRsp) []Outbound {
	if m.MsgID == 0 {
		return nil
	}
	g, ok := n.pendingGets[m.MsgID]
	if !ok {
		return nil
	}

	if _, already := g.responses[m.From]; !already {
		g.order = append(g.order, m.From)
	}
	g.responses[m.From] = m.Values
	n.dropDeadline(m.MsgID, m.From)

	if len(g.responses) < n.cfg.R {
		return nil
	}

	merged := version.NewSet()
	for _, replica := range g.order {
		merged.Merge(g.responses[replica])
	}

	var out []Outbound
	for _, replica := range g.order {
		have := g.responses[replica]
		for _, v := range merged.Versions() {
			if !have.Contains(v) {
				out = append(out, Outbound{To: replica, Msg: PutReq{
					From: n.cfg.NodeID, To: replica, Key: g.key,
					Value: v.Data, Clock: v.Clock, MsgID: 0, Handoff: nil,
				}})
			}
		}
	}

	values := make([]string, 0, merged.Len())
	clocks := make([]vclock.Clock, 0, merged.Len())
	for _, v := range merged.Versions() {
		values = append(values, v.Data)
		clocks = append(clocks, v.Clock)
	}

	out = append(out, Outbound{To: g.clientAddr, Msg: ClientGetRsp{
		Key: g.key, RequestID: g.requestID, ClientAddr: g.clientAddr,
		Values: values, Metadata: clocks,
	}})

	delete(n.pendingGets, m.MsgID)
	n.dropDeadlines(m.MsgID)
	return out
}
