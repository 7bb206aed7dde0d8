package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"dynamokv/internal/coordinator"
	"dynamokv/internal/vclock"

	"github.com/gin-gonic/gin"
)

// HTTPBus is the production external interface adapter: a Gin server
// for inbound traffic and one shared *http.Client for outbound peer
// calls, routing the coordinator's full message set over HTTP.
type HTTPBus struct {
	router *Router
	selfID string

	// peerAddrs maps every known node id (including selfID) to its base
	// URL, e.g. "http://localhost:8081". Populated at construction from
	// configuration; the /cluster/join handler adds the joining node's
	// address from its "address" query parameter.
	peerAddrs map[string]string

	httpClient    *http.Client
	clientTimeout time.Duration

	engine *gin.Engine

	reqSeq uint64
}

// NewHTTPBus builds the adapter for node, wires its Router, and registers
// every route named in the message-to-route table.
func NewHTTPBus(node *coordinator.Node, selfID string, peerAddrs map[string]string, clientTimeout time.Duration) *HTTPBus {
	if clientTimeout <= 0 {
		clientTimeout = 2 * time.Second
	}
	b := &HTTPBus{
		selfID:        selfID,
		peerAddrs:     peerAddrs,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		clientTimeout: clientTimeout,
	}
	b.router = NewRouter(node, selfID)
	b.router.SetPeers(b)

	b.engine = gin.New()
	b.engine.Use(Logger(), Recovery())
	b.registerRoutes()
	return b
}

// Engine exposes the underlying *gin.Engine so the bootstrap command can
// wrap it in an *http.Server with its own timeouts and graceful shutdown.
func (b *HTTPBus) Engine() *gin.Engine { return b.engine }

// Tick drives the node's per-event preamble. The bootstrap process calls
// this on a ticker so retries, pings, and anti-entropy progress even
// without inbound traffic.
func (b *HTTPBus) Tick() { b.router.Tick() }

// Close stops the router's worker goroutine.
func (b *HTTPBus) Close() { b.router.Close() }

func (b *HTTPBus) registerRoutes() {
	kv := b.engine.Group("/kv")
	kv.PUT("/:key", b.handlePut)
	kv.GET("/:key", b.handleGet)

	internal := b.engine.Group("/internal")
	internal.POST("/forward/put", b.handleForwardPut)
	internal.POST("/forward/get", b.handleForwardGet)
	internal.POST("/put", b.handlePutReq)
	internal.POST("/get", b.handleGetReq)
	internal.POST("/sync", b.handleSyncKey)
	internal.POST("/ping", b.handlePingReq)
	internal.POST("/clientreply", b.handleClientReply)

	clusterGroup := b.engine.Group("/cluster")
	clusterGroup.POST("/join", b.handleAddNode)
	clusterGroup.GET("/nodes", b.handleListNodes)

	b.engine.GET("/health", b.handleHealth)
}

func (b *HTTPBus) nextRequestID() string {
	return fmt.Sprintf("%s-%d", b.selfID, atomic.AddUint64(&b.reqSeq, 1))
}

// awaitClientReply submits msg under (clientAddr, requestID) and blocks
// until the matching terminal message arrives or clientTimeout elapses.
func (b *HTTPBus) awaitClientReply(msg coordinator.Message, clientAddr, requestID string) (coordinator.Message, error) {
	ch := b.router.SubmitClientRequest(msg, clientAddr, requestID)
	select {
	case reply := <-ch:
		return reply, nil
	case <-time.After(b.clientTimeout):
		b.router.ForgetWaiter(clientAddr, requestID)
		return nil, fmt.Errorf("timed out waiting for quorum")
	}
}

// ── Client-facing handlers ──────────────────────────────────────────────

func (b *HTTPBus) handlePut(c *gin.Context) {
	key := c.Param("key")

	var body struct {
		Value    string         `json:"value" binding:"required"`
		Metadata []vclock.Clock `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := b.nextRequestID()
	msg := coordinator.ClientPut{
		Key: key, Value: body.Value, Metadata: body.Metadata,
		ClientAddr: b.selfID, RequestID: id,
	}
	reply, err := b.awaitClientReply(msg, b.selfID, id)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	b.writeClientReply(c, reply)
}

func (b *HTTPBus) handleGet(c *gin.Context) {
	key := c.Param("key")

	id := b.nextRequestID()
	msg := coordinator.ClientGet{Key: key, ClientAddr: b.selfID, RequestID: id}
	reply, err := b.awaitClientReply(msg, b.selfID, id)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	b.writeClientReply(c, reply)
}

func (b *HTTPBus) writeClientReply(c *gin.Context, reply coordinator.Message) {
	switch m := reply.(type) {
	case coordinator.ClientPutRsp:
		c.JSON(http.StatusOK, gin.H{"key": m.Key, "requestId": m.RequestID})
	case coordinator.ClientGetRsp:
		if len(m.Values) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": m.Key, "values": m.Values, "metadata": m.Metadata})
	case coordinator.ClientErrorRsp:
		c.JSON(http.StatusConflict, gin.H{"error": m.Reason})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected reply"})
	}
}

// ── Node-to-node handlers ───────────────────────────────────────────────

func (b *HTTPBus) handleForwardPut(c *gin.Context) {
	var m coordinator.ForwardClientPut
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Fire-and-forget: the embedded ClientAddr/RequestID already belong to
	// the node that originated the request. Its own waiter resolves via
	// the clientreply relay once this node's round completes, however
	// long that takes — there is nothing to hold this connection open for.
	b.router.Notify(m.ClientPut)
	c.Status(http.StatusAccepted)
}

func (b *HTTPBus) handleForwardGet(c *gin.Context) {
	var m coordinator.ForwardClientGet
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.router.Notify(m.ClientGet)
	c.Status(http.StatusAccepted)
}

func (b *HTTPBus) handlePutReq(c *gin.Context) {
	var m coordinator.PutReq
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, ok := b.router.Call(m, isPutRsp)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no PutRsp produced"})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (b *HTTPBus) handleGetReq(c *gin.Context) {
	var m coordinator.GetReq
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, ok := b.router.Call(m, isGetRsp)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no GetRsp produced"})
		return
	}
	c.JSON(http.StatusOK, encodeGetRsp(reply.(coordinator.GetRsp)))
}

func (b *HTTPBus) handleSyncKey(c *gin.Context) {
	var w syncKeyWire
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.router.Notify(decodeSyncKey(w))
	c.Status(http.StatusNoContent)
}

func (b *HTTPBus) handlePingReq(c *gin.Context) {
	var m coordinator.PingReq
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, ok := b.router.Call(m, isPingRsp)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no PingRsp produced"})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (b *HTTPBus) handleClientReply(c *gin.Context) {
	var w clientReplyWire
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.router.deliverLocal(decodeClientReply(w))
	c.Status(http.StatusNoContent)
}

// ── Cluster management ──────────────────────────────────────────────────

func (b *HTTPBus) handleAddNode(c *gin.Context) {
	var m coordinator.AddNode
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, ok := b.router.Call(m, isAddNodeAck)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no AddNodeAck produced"})
		return
	}
	ack := reply.(coordinator.AddNodeAck)
	b.peerAddrs[ack.NewNode] = c.Query("address")
	c.JSON(http.StatusOK, ack)
}

func (b *HTTPBus) handleListNodes(c *gin.Context) {
	nodes := make([]string, 0, len(b.peerAddrs))
	for id := range b.peerAddrs {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	c.JSON(http.StatusOK, gin.H{"nodes": nodes})
}

func (b *HTTPBus) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"node": b.selfID, "status": "ok", "peers": len(b.peerAddrs)})
}

// ── PeerDispatcher ───────────────────────────────────────────────────────

func isPutRsp(m coordinator.Message) bool     { _, ok := m.(coordinator.PutRsp); return ok }
func isGetRsp(m coordinator.Message) bool     { _, ok := m.(coordinator.GetRsp); return ok }
func isPingRsp(m coordinator.Message) bool    { _, ok := m.(coordinator.PingRsp); return ok }
func isAddNodeAck(m coordinator.Message) bool { _, ok := m.(coordinator.AddNodeAck); return ok }

// DispatchProtocol implements PeerDispatcher for a real network hop per
// the route table, running every call on its own goroutine since the
// router's worker must never block waiting on the network.
func (b *HTTPBus) DispatchProtocol(o coordinator.Outbound) {
	go func() {
		switch m := o.Msg.(type) {
		case coordinator.PutReq:
			var rsp coordinator.PutRsp
			if b.postJSON(o.To, "/internal/put", m, &rsp) {
				b.router.Notify(rsp)
			}
		case coordinator.GetReq:
			var wire getRspWire
			if b.postJSON(o.To, "/internal/get", m, &wire) {
				b.router.Notify(decodeGetRsp(wire))
			}
		case coordinator.SyncKey:
			b.postJSON(o.To, "/internal/sync", encodeSyncKey(m), nil)
		case coordinator.PingReq:
			var rsp coordinator.PingRsp
			if b.postJSON(o.To, "/internal/ping", m, &rsp) {
				b.router.Notify(rsp)
			}
		case coordinator.ForwardClientPut:
			b.postJSON(o.To, "/internal/forward/put", m, nil)
		case coordinator.ForwardClientGet:
			b.postJSON(o.To, "/internal/forward/get", m, nil)
		default:
			log.Printf("transport[%s]: no outbound HTTP route for %T to %s", b.selfID, o.Msg, o.To)
		}
	}()
}

// RelayClientReply implements PeerDispatcher: best-effort hand-off of a
// terminal client message to the node whose waiter registry can resolve it.
func (b *HTTPBus) RelayClientReply(to string, msg coordinator.Message) {
	wire, ok := encodeClientReply(msg)
	if !ok {
		return
	}
	go b.postJSON(to, "/internal/clientreply", wire, nil)
}

func (b *HTTPBus) postJSON(to, path string, body, out any) bool {
	addr, ok := b.peerAddrs[to]
	if !ok || addr == "" {
		log.Printf("transport[%s]: unknown peer %q for %s", b.selfID, to, path)
		return false
	}
	buf, err := json.Marshal(body)
	if err != nil {
		log.Printf("transport[%s]: marshal %s: %v", b.selfID, path, err)
		return false
	}
	req, err := http.NewRequest(http.MethodPost, addr+path, bytes.NewReader(buf))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		log.Printf("transport[%s]: %s %s: %v", b.selfID, to, path, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false
	}
	if out == nil {
		return true
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}
