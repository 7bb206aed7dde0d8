package coordinator

import "time"

// preamble runs the per-event steps: sweeping expired deadlines
// (promoting their targets into the failure view and retrying), and —
// if the ping interval has elapsed — pinging every presumed-failed peer
// and advancing the anti-entropy cursor.
func (n *Node) preamble(now time.Time) []Outbound {
	var out []Outbound
	out = append(out, n.sweepDeadlines(now)...)

	if now.Sub(n.lastPing) >= n.cfg.PingInterval {
		out = append(out, n.tickPingAndAntiEntropy(now)...)
		n.lastPing = now
	}
	return out
}

// sweepDeadlines removes every expired deadline, marks its target failed,
// and issues exactly one retry attempt per expired deadline to the next
// unused ring candidate.
func (n *Node) sweepDeadlines(now time.Time) []Outbound {
	var out []Outbound
	var expired, remaining []deadlineEntry

	for _, d := range n.deadlines {
		if d.expiry.After(now) {
			remaining = append(remaining, d)
			continue
		}
		expired = append(expired, d)
	}
	// Keep the unexpired deadlines before retrying, so the deadlines that
	// retry installs are not overwritten.
	n.deadlines = remaining
	for _, d := range expired {
		n.failureView[d.target] = true
		out = append(out, n.retry(d, now)...)
	}
	return out
}

// retry reuses the same sequence number, finds a fresh candidate via
// find_nodes(key, N, failure_view), installs a new deadline, and records
// the replica in the request's contacted set.
func (n *Node) retry(d deadlineEntry, now time.Time) []Outbound {
	preference, skipped := n.ring.FindNodes(d.key, n.cfg.N, n.failureView)

	switch d.kind {
	case kindPut:
		p, ok := n.pendingPuts[d.seq]
		if !ok {
			return nil
		}
		candidate := firstUncontacted(preference, p.contacted)
		if candidate == "" {
			// EXHAUSTED: no fresh candidate remains. Reclaim the round
			// instead of leaving the client hanging forever.
			delete(n.pendingPuts, d.seq)
			return []Outbound{{To: p.clientAddr, Msg: ClientErrorRsp{
				Key: p.key, RequestID: p.requestID, ClientAddr: p.clientAddr,
				Reason: "write quorum unreachable: ring exhausted",
			}}}
		}
		p.contacted[candidate] = true
		n.installDeadline(candidate, kindPut, d.seq, d.key, now)

		handoff := handoffFor(skipped, n.cfg.N)
		return []Outbound{{To: candidate, Msg: PutReq{
			From: n.cfg.NodeID, To: candidate, Key: d.key,
			Value: p.value, Clock: p.clock, MsgID: d.seq, Handoff: handoff,
		}}}

	case kindGet:
		g, ok := n.pendingGets[d.seq]
		if !ok {
			return nil
		}
		candidate := firstUncontacted(preference, g.contacted)
		if candidate == "" {
			delete(n.pendingGets, d.seq)
			return []Outbound{{To: g.clientAddr, Msg: ClientErrorRsp{
				Key: g.key, RequestID: g.requestID, ClientAddr: g.clientAddr,
				Reason: "read quorum unreachable: ring exhausted",
			}}}
		}
		g.contacted[candidate] = true
		n.installDeadline(candidate, kindGet, d.seq, d.key, now)

		return []Outbound{{To: candidate, Msg: GetReq{
			From: n.cfg.NodeID, To: candidate, Key: d.key, MsgID: d.seq,
		}}}
	}
	return nil
}

func firstUncontacted(candidates []string, contacted map[string]bool) string {
	for _, c := range candidates {
		if !contacted[c] {
			return c
		}
	}
	return ""
}

func (n *Node) installDeadline(target string, k kind, seq uint64, key string, now time.Time) {
	n.deadlines = append(n.deadlines, deadlineEntry{
		target: target,
		kind:   k,
		seq:    seq,
		key:    key,
		expiry: now.Add(n.cfg.RequestTimeout),
	})
}

func (n *Node) dropDeadlines(seq uint64) {
	var remaining []deadlineEntry
	for _, d := range n.deadlines {
		if d.seq != seq {
			remaining = append(remaining, d)
		}
	}
	n.deadlines = remaining
}

// dropDeadline removes the deadline of one replica for request seq once
// that replica has answered, so it is not later marked failed.
func (n *Node) dropDeadline(seq uint64, target string) {
	var remaining []deadlineEntry
	for _, d := range n.deadlines {
		if d.seq != seq || d.target != target {
			remaining = append(remaining, d)
		}
	}
	n.deadlines = remaining
}

// tickPingAndAntiEntropy pings every member of the failure view and
// pushes a small rotating batch of local keys to their other replicas.
func (n *Node) tickPingAndAntiEntropy(now time.Time) []Outbound {
	var out []Outbound

	for peer := range n.failureView {
		out = append(out, Outbound{To: peer, Msg: PingReq{From: n.cfg.NodeID, To: peer}})
	}

	keys := n.sortedKeys()
	if len(keys) == 0 {
		return out
	}
	if n.aeCursor >= len(keys) {
		n.aeCursor = 0
	}

	batch := n.cfg.AntiEntropyBatch
	for i := 0; i < batch && i < len(keys); i++ {
		key := keys[(n.aeCursor+i)%len(keys)]
		preference, _ := n.ring.FindNodes(key, n.cfg.N, nil)
		for _, replica := range preference {
			if replica == n.cfg.NodeID {
				continue
			}
			out = append(out, Outbound{To: replica, Msg: SyncKey{
				From: n.cfg.NodeID, To: replica, Key: key, Values: n.store[key].Clone(),
			}})
		}
	}
	n.aeCursor = (n.aeCursor + batch) % len(keys)

	return out
}

// handoffFor computes the handoff marker: the first up-to-N distinct
// members of skipped.
func handoffFor(skipped []string, n int) []string {
	if len(skipped) == 0 {
		return nil
	}
	if len(skipped) > n {
		return skipped[:n]
	}
	return skipped
}
