// Package transport is the external interface adapter: it gives the
// coordinator's typed message bus a concrete wire form. It never makes
// quorum or replication decisions itself — every decode/route/encode step
// here just gets one coordinator.Message to the right Node.Handle call and
// carries the paired reply back out, per the single-threaded event loop
// the coordinator package requires.
package transport

import (
	"sync"

	"dynamokv/internal/coordinator"
)

// PeerDispatcher delivers an Outbound to whatever "To" names once it has
// been determined not to be this node itself. The two implementations are
// HTTPBus (a real network hop per peer) and LoopbackBus (a direct call into
// another in-process Router) — both satisfy this one seam.
type PeerDispatcher interface {
	// DispatchProtocol fires a node-to-node protocol message
	// (PutReq/PutRsp/GetReq/GetRsp/SyncKey/PingReq/PingRsp/AddNode/AddNodeAck/
	// ForwardClientPut/ForwardClientGet) at o.To. Best-effort: a delivery
	// failure is swallowed and not retried, matching the no-delivery-guarantee
	// contract the coordinator's deadline/retry machinery already assumes.
	DispatchProtocol(o coordinator.Outbound)

	// RelayClientReply hands a terminal client-facing message (one this
	// node is not the original recipient for) to the node named by to,
	// whose own waiter registry is the only thing that can still resolve
	// it. Also best-effort.
	RelayClientReply(to string, msg coordinator.Message)
}

// Router is the single-worker gateway in front of one coordinator.Node. All
// Handle/Tick calls are submitted as jobs onto one channel drained by one
// goroutine, so the node is never entered from two goroutines at once —
// the concrete shape of "a single logical input queue."
type Router struct {
	node   *coordinator.Node
	selfID string
	peers  PeerDispatcher

	jobs chan func()

	waitersMu sync.Mutex
	waiters   map[string]chan coordinator.Message
}

// NewRouter starts the worker goroutine and returns a ready Router. peers
// may be installed after construction via SetPeers if it isn't known yet
// (e.g. an HTTPBus, which is itself the dispatcher and builds its Router
// before installing itself on it).
func NewRouter(node *coordinator.Node, selfID string) *Router {
	r := &Router{
		node:    node,
		selfID:  selfID,
		jobs:    make(chan func(), 256),
		waiters: make(map[string]chan coordinator.Message),
	}
	go r.run()
	return r
}

// SetPeers installs the dispatcher used to route outbounds addressed to
// other nodes. Must be called before any message reaches the router.
func (r *Router) SetPeers(peers PeerDispatcher) { r.peers = peers }

// Node returns the underlying coordinator.Node for read-only
// introspection (e.g. Node.Preference) — never call Handle/Tick on it
// directly, since that would bypass the single-worker serialization.
func (r *Router) Node() *coordinator.Node { return r.node }

func (r *Router) run() {
	for job := range r.jobs {
		if job == nil {
			return
		}
		job()
	}
}

// Close stops the worker goroutine once the jobs queued before it have run.
// The job channel stays open, so a dispatch goroutine still in flight does
// not panic; work submitted after Close is never run, and a Call submitted
// after it never returns. The router must not be used afterward.
func (r *Router) Close() { r.jobs <- nil }

// Call submits msg to the node's worker, waits for it to run to
// completion, and returns whichever single outbound satisfies isReply —
// the synchronous half of a replica-side RPC (PutReq/PutRsp,
// GetReq/GetRsp, PingReq/PingRsp, AddNode/AddNodeAck all resolve within
// one Handle call). Every other outbound produced alongside it is
// dispatched the ordinary asynchronous way.
func (r *Router) Call(msg coordinator.Message, isReply func(coordinator.Message) bool) (coordinator.Message, bool) {
	type result struct {
		reply coordinator.Message
		ok    bool
	}
	resCh := make(chan result, 1)
	r.jobs <- func() {
		out := r.node.Handle(msg)
		var reply coordinator.Message
		found := false
		rest := out[:0:0]
		for _, o := range out {
			if !found && isReply(o.Msg) {
				reply = o.Msg
				found = true
				continue
			}
			rest = append(rest, o)
		}
		r.dispatchAll(rest)
		resCh <- result{reply, found}
	}
	res := <-resCh
	return res.reply, res.ok
}

// Notify submits msg for processing without waiting on any particular
// reply, dispatching whatever the node produces. Used for fire-and-forget
// protocol messages (SyncKey) and for replies to a peer's own request
// (PutRsp/GetRsp/PingRsp arriving back at the coordinator that originally
// asked) that must still flow through Handle to update pending state.
func (r *Router) Notify(msg coordinator.Message) {
	r.jobs <- func() {
		out := r.node.Handle(msg)
		r.dispatchAll(out)
	}
}

// Tick runs the node's per-event preamble outside of any inbound message,
// dispatching whatever it produces. The bootstrap process calls this on
// its own interval.
func (r *Router) Tick() {
	r.jobs <- func() {
		r.dispatchAll(r.node.Tick())
	}
}

// SubmitClientRequest registers a waiter for (clientAddr, requestID),
// submits msg, and returns the channel the caller should block on. Used
// for a client request arriving at this node (clientAddr == this node's own
// ID); a ForwardClientPut/ForwardClientGet arriving from another node goes
// through Notify instead, since its waiter lives on the originating node.
func (r *Router) SubmitClientRequest(msg coordinator.Message, clientAddr, requestID string) <-chan coordinator.Message {
	ch := r.registerWaiter(clientAddr, requestID)
	r.Notify(msg)
	return ch
}

// ForgetWaiter cancels a previously registered waiter, e.g. after a client
// request times out, so a late reply doesn't leak a channel forever.
func (r *Router) ForgetWaiter(clientAddr, requestID string) {
	r.waitersMu.Lock()
	delete(r.waiters, waiterKey(clientAddr, requestID))
	r.waitersMu.Unlock()
}

func waiterKey(addr, id string) string { return addr + "|" + id }

func (r *Router) registerWaiter(addr, id string) chan coordinator.Message {
	ch := make(chan coordinator.Message, 1)
	r.waitersMu.Lock()
	r.waiters[waiterKey(addr, id)] = ch
	r.waitersMu.Unlock()
	return ch
}

// deliverLocal resolves a terminal client-facing message against this
// router's own waiter registry. Called both from dispatchAll (when a
// locally-produced terminal message is already addressed to this node)
// and directly by the HTTP clientreply handler (when another node relayed
// it here).
func (r *Router) deliverLocal(msg coordinator.Message) {
	addr, id, ok := clientKeyOf(msg)
	if !ok {
		return
	}
	r.waitersMu.Lock()
	ch, ok := r.waiters[waiterKey(addr, id)]
	if ok {
		delete(r.waiters, waiterKey(addr, id))
	}
	r.waitersMu.Unlock()
	if ok {
		ch <- msg
	}
}

func clientKeyOf(msg coordinator.Message) (addr, id string, ok bool) {
	switch m := msg.(type) {
	case coordinator.ClientPutRsp:
		return m.ClientAddr, m.RequestID, true
	case coordinator.ClientGetRsp:
		return m.ClientAddr, m.RequestID, true
	case coordinator.ClientErrorRsp:
		return m.ClientAddr, m.RequestID, true
	}
	return "", "", false
}

// dispatchAll routes every outbound produced by one Handle/Tick call: a
// terminal client-facing message goes to this node's own waiters if it is
// already addressed here, or is relayed to whichever node holds the
// waiter; self-addressed protocol messages loop back in locally (the
// coordinator including itself in a preference list); everything else
// goes out to peers.DispatchProtocol.
func (r *Router) dispatchAll(out []coordinator.Outbound) {
	for _, o := range out {
		if _, _, terminal := clientKeyOf(o.Msg); terminal {
			if o.To == r.selfID {
				r.deliverLocal(o.Msg)
			} else {
				r.peers.RelayClientReply(o.To, o.Msg)
			}
			continue
		}
		if o.To == r.selfID {
			r.Notify(o.Msg)
			continue
		}
		r.peers.DispatchProtocol(o)
	}
}
