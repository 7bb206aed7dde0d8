package transport

import "dynamokv/internal/coordinator"

// LoopbackBus wires multiple in-process Routers together with direct Go
// calls instead of HTTP — the transport package's own tests use it so a
// whole cluster can run inside one process without a
// single socket, while still exercising the exact same PeerDispatcher seam
// the real HTTPBus satisfies.
type LoopbackBus struct {
	selfID  string
	routers map[string]*Router
}

// NewLoopbackCluster builds one Router per node and cross-wires every
// LoopbackBus to every other router in the set.
func NewLoopbackCluster(nodes map[string]*coordinator.Node) map[string]*LoopbackBus {
	routers := make(map[string]*Router, len(nodes))
	buses := make(map[string]*LoopbackBus, len(nodes))

	for id, node := range nodes {
		routers[id] = NewRouter(node, id)
	}
	for id := range nodes {
		bus := &LoopbackBus{selfID: id, routers: routers}
		routers[id].SetPeers(bus)
		buses[id] = bus
	}
	return buses
}

// Router exposes the bus's own router so a caller can submit client
// requests (SubmitClientRequest) or drive Tick directly, the way the
// bootstrap command drives HTTPBus.Tick.
func (b *LoopbackBus) Router() *Router { return b.routers[b.selfID] }

// Close stops every router in the cluster, not just this one — convenient
// for tearing down a whole demo cluster from any single bus.
func (b *LoopbackBus) Close() {
	for _, r := range b.routers {
		r.Close()
	}
}

func (b *LoopbackBus) DispatchProtocol(o coordinator.Outbound) {
	peer, ok := b.routers[o.To]
	if !ok {
		return
	}
	switch o.Msg.(type) {
	case coordinator.PutReq, coordinator.GetReq, coordinator.PingReq:
		go func() {
			reply, ok := peer.Call(o.Msg, replyMatcherFor(o.Msg))
			if ok {
				b.routers[b.selfID].Notify(reply)
			}
		}()
	default:
		peer.Notify(o.Msg)
	}
}

func (b *LoopbackBus) RelayClientReply(to string, msg coordinator.Message) {
	peer, ok := b.routers[to]
	if !ok {
		return
	}
	peer.deliverLocal(msg)
}

func replyMatcherFor(msg coordinator.Message) func(coordinator.Message) bool {
	switch msg.(type) {
	case coordinator.PutReq:
		return isPutRsp
	case coordinator.GetReq:
		return isGetRsp
	default:
		return isPingRsp
	}
}
