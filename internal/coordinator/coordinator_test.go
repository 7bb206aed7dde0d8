package coordinator

import (
	"testing"
	"time"

	"dynamokv/internal/vclock"
	"dynamokv/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock gives every node in a test cluster a shared, manually
// advanced notion of "now" so deadline sweeps are deterministic.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// cluster wires a small set of Nodes together with synchronous,
// depth-first delivery: every Outbound a node produces is routed
// immediately to its destination node's Handle, recursively, unless the
// destination is down (see cluster.down) or is not a node at all (a
// client address), in which case the message lands in clientBox.
type cluster struct {
	t         *testing.T
	nodes     map[string]*Node
	down      map[string]bool
	clientBox map[string][]Message
	clock     *fakeClock
}

func newCluster(t *testing.T, nodeIDs []string, n, w, r int) *cluster {
	clk := &fakeClock{t: time.Unix(0, 0)}
	c := &cluster{
		t:         t,
		nodes:     make(map[string]*Node),
		down:      make(map[string]bool),
		clientBox: make(map[string][]Message),
		clock:     clk,
	}
	for _, id := range nodeIDs {
		c.nodes[id] = New(Config{
			NodeID: id, Nodes: nodeIDs, N: n, W: w, R: r, T: 32,
			RequestTimeout: 50 * time.Millisecond, PingInterval: 1 * time.Hour,
		}, WithClock(clk.now))
	}
	return c
}

func (c *cluster) deliver(from string, out []Outbound) {
	for _, o := range out {
		if node, ok := c.nodes[o.To]; ok {
			if c.down[o.To] {
				continue // dropped: the node is down
			}
			c.deliver(o.To, node.Handle(o.Msg))
			continue
		}
		c.clientBox[o.To] = append(c.clientBox[o.To], o.Msg)
	}
}

// send delivers an initial message to a node and fully drains the
// resulting cascade of replies.
func (c *cluster) send(to string, msg Message) {
	node, ok := c.nodes[to]
	require.True(c.t, ok, "unknown node %s", to)
	if c.down[to] {
		return
	}
	c.deliver(to, node.Handle(msg))
}

// tick advances the shared clock and runs Tick on every live node,
// draining the resulting cascade (retries, pings, anti-entropy pushes).
func (c *cluster) tick(d time.Duration) {
	c.clock.advance(d)
	for id, node := range c.nodes {
		if c.down[id] {
			continue
		}
		c.deliver(id, node.Tick())
	}
}

func (c *cluster) lastClientMsg(addr string) Message {
	msgs := c.clientBox[addr]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func TestScenario1_HappyPathWriteThenRead(t *testing.T) {
	c := newCluster(t, []string{"A", "B", "C", "D", "E"}, 3, 2, 2)

	c.send("A", ClientPut{Key: "user:1", Value: "Alice", ClientAddr: "client1", RequestID: "1"})

	rsp, ok := c.lastClientMsg("client1").(ClientPutRsp)
	require.True(t, ok, "expected a ClientPutRsp, got %#v", c.lastClientMsg("client1"))
	assert.Equal(t, "1", rsp.RequestID)

	c.send("A", ClientGet{Key: "user:1", ClientAddr: "client1", RequestID: "2"})
	getRsp, ok := c.lastClientMsg("client1").(ClientGetRsp)
	require.True(t, ok)
	require.Len(t, getRsp.Values, 1)
	assert.Equal(t, "Alice", getRsp.Values[0])
}

func TestScenario2_ConcurrentWritesCreateSiblings(t *testing.T) {
	c := newCluster(t, []string{"A", "B", "C", "D", "E"}, 3, 2, 2)

	c.send("A", ClientPut{Key: "cart:1", Value: "itemX", ClientAddr: "c1", RequestID: "1"})
	c.send("B", ClientPut{Key: "cart:1", Value: "itemY", ClientAddr: "c2", RequestID: "2"})

	c.send("A", ClientGet{Key: "cart:1", ClientAddr: "c1", RequestID: "3"})
	getRsp, ok := c.lastClientMsg("c1").(ClientGetRsp)
	require.True(t, ok)

	require.Len(t, getRsp.Values, 2, "concurrent writes must surface as siblings")
	assert.Equal(t, vclock.Concurrent, getRsp.Metadata[0].Compare(getRsp.Metadata[1]))
}

func TestScenario3_ReadThenWriteConverges(t *testing.T) {
	c := newCluster(t, []string{"A", "B", "C", "D", "E"}, 3, 2, 2)

	c.send("A", ClientPut{Key: "cart:1", Value: "itemX", ClientAddr: "c1", RequestID: "1"})
	c.send("B", ClientPut{Key: "cart:1", Value: "itemY", ClientAddr: "c2", RequestID: "2"})

	c.send("A", ClientGet{Key: "cart:1", ClientAddr: "c1", RequestID: "3"})
	getRsp := c.lastClientMsg("c1").(ClientGetRsp)
	require.Len(t, getRsp.Values, 2)

	c.send("A", ClientPut{
		Key: "cart:1", Value: "merged", Metadata: getRsp.Metadata,
		ClientAddr: "c1", RequestID: "4",
	})
	_, ok := c.lastClientMsg("c1").(ClientPutRsp)
	require.True(t, ok)

	c.send("A", ClientGet{Key: "cart:1", ClientAddr: "c1", RequestID: "5"})
	final := c.lastClientMsg("c1").(ClientGetRsp)
	require.Len(t, final.Values, 1)
	assert.Equal(t, "merged", final.Values[0])
}

func TestScenario4_TransientFailureAndHintedHandoff(t *testing.T) {
	// W = N forces every member of the preference list to ack before a
	// write commits, so the round cannot close early and the failed
	// replica's deadline genuinely has to expire and retry onto a
	// stand-in with a handoff marker.
	c := newCluster(t, []string{"A", "B", "C", "D", "E"}, 3, 3, 2)

	key := "user:1"
	preference, _ := c.nodes["A"].ring.FindNodes(key, 3, nil)
	require.Len(t, preference, 3)
	coordinator, failed := preference[0], preference[1]

	c.down[failed] = true
	c.send(coordinator, ClientPut{Key: key, Value: "Alice", ClientAddr: "c1", RequestID: "1"})
	require.Nil(t, c.lastClientMsg("c1"), "round must stay open: %s never acked", failed)

	// Advance past the request timeout so the deadline sweep retries the
	// request that was sent to the down replica onto a fresh candidate,
	// carrying a handoff marker for it.
	c.tick(100 * time.Millisecond)

	rsp, ok := c.lastClientMsg("c1").(ClientPutRsp)
	require.True(t, ok, "the retried replica's ack should complete the quorum")
	assert.Equal(t, "1", rsp.RequestID)

	coord := c.nodes[coordinator]
	require.True(t, coord.failureView[failed], "coordinator should have marked the slow replica failed")

	c.down[failed] = false

	// Advance well past the ping interval so every node holding `failed`
	// in its failure view pings it; its replies let the hint holder
	// replay the handed-off write.
	c.tick(2 * time.Hour)

	c.send(coordinator, ClientGet{Key: key, ClientAddr: "c1", RequestID: "2"})
	final := c.lastClientMsg("c1").(ClientGetRsp)
	require.NotEmpty(t, final.Values)
	assert.Contains(t, final.Values, "Alice")

	var aliceClock vclock.Clock
	for i, v := range final.Values {
		if v == "Alice" {
			aliceClock = final.Metadata[i]
		}
	}
	require.NotNil(t, aliceClock, "ClientGetRsp should report the clock alongside the value")

	replica := c.nodes[failed]
	require.NotNil(t, replica.store[key], "hinted handoff should have replayed the write onto the recovered replica")
	assert.True(t, replica.store[key].Contains(mkValue("Alice", aliceClock)))
}

func TestScenario5_ReadRepair(t *testing.T) {
	c := newCluster(t, []string{"A", "B", "C"}, 3, 2, 2)

	vc1 := vclock.Clock{"A": 1}
	vc2 := vclock.Clock{"A": 1, "B": 1}

	a := c.nodes["A"]
	a.getOrCreateSet("k").Add(mkValue("v1", vc1))

	b := c.nodes["B"]
	b.getOrCreateSet("k").Add(mkValue("v1", vc1))
	b.getOrCreateSet("k").Add(mkValue("v2", vc2))

	// With R=2 only the first two replicas of the preference list for "k"
	// count toward the read: A and C, never B with its newer v2.
	preference, _ := a.ring.FindNodes("k", 3, nil)
	require.Equal(t, []string{"A", "C", "B"}, preference)

	c.send("A", ClientGet{Key: "k", ClientAddr: "c1", RequestID: "1"})

	final := c.lastClientMsg("c1").(ClientGetRsp)
	require.Len(t, final.Values, 1, "A holds only v1 and C holds nothing, so no client-visible conflict")
	assert.Equal(t, "v1", final.Values[0])

	repaired := c.nodes["C"].store["k"]
	require.NotNil(t, repaired)
	assert.True(t, repaired.Contains(mkValue("v1", vc1)), "read repair should have pushed v1 to C")
}

func TestScenario6_AntiEntropyConvergesAfterDroppedRepairs(t *testing.T) {
	c := newCluster(t, []string{"A", "B", "C"}, 3, 2, 2)
	for id := range c.nodes {
		c.nodes[id] = New(Config{
			NodeID: id, Nodes: []string{"A", "B", "C"}, N: 3, W: 2, R: 2, T: 32,
			RequestTimeout: 50 * time.Millisecond, PingInterval: 10 * time.Millisecond,
			AntiEntropyBatch: 5,
		}, WithClock(c.clock.now))
	}

	c.nodes["A"].getOrCreateSet("k").Add(mkValue("v1", vclock.Clock{"A": 1}))

	// Anti-entropy runs on the Tick path; read-repair traffic is never
	// generated here since we never issue a ClientGet, simulating
	// "every read-repair PutReq dropped for several rounds."
	for i := 0; i < 5; i++ {
		c.tick(20 * time.Millisecond)
	}

	for _, id := range []string{"A", "B", "C"} {
		set := c.nodes[id].store["k"]
		require.NotNil(t, set, "node %s should have converged via anti-entropy", id)
		assert.True(t, set.Contains(mkValue("v1", vclock.Clock{"A": 1})))
	}
}

func TestExhaustedQuorumSurfacesClientError(t *testing.T) {
	// Only two nodes exist and one is permanently down, so a write quorum
	// of 2 can never be reached and the ring has no stand-in to retry
	// onto: the round must surface a ClientErrorRsp instead of hanging.
	c := newCluster(t, []string{"A", "B"}, 2, 2, 2)

	preference, _ := c.nodes["A"].ring.FindNodes("k", 2, nil)
	require.Len(t, preference, 2)
	coordinator, down := preference[0], preference[1]
	c.down[down] = true

	c.send(coordinator, ClientPut{Key: "k", Value: "v", ClientAddr: "c1", RequestID: "1"})
	require.Nil(t, c.lastClientMsg("c1"))

	c.tick(100 * time.Millisecond)

	errRsp, ok := c.lastClientMsg("c1").(ClientErrorRsp)
	require.True(t, ok, "expected a ClientErrorRsp, got %#v", c.lastClientMsg("c1"))
	assert.Equal(t, "1", errRsp.RequestID)
	assert.NotEmpty(t, errRsp.Reason)
}

func mkValue(data string, clock vclock.Clock) version.Value {
	return version.Value{Data: data, Clock: clock}
}
