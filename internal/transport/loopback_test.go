package transport

import (
	"testing"
	"time"

	"dynamokv/internal/coordinator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackCluster(t *testing.T, ids []string, n, w, r int) map[string]*LoopbackBus {
	nodes := make(map[string]*coordinator.Node, len(ids))
	for _, id := range ids {
		nodes[id] = coordinator.New(coordinator.Config{
			NodeID: id, Nodes: ids, N: n, W: w, R: r, T: 32,
			RequestTimeout: 200 * time.Millisecond, PingInterval: time.Hour,
		})
	}
	buses := NewLoopbackCluster(nodes)
	t.Cleanup(func() {
		// Every bus in this cluster shares the same routers map, so
		// closing through any one of them closes all of it, so one Close
		// is enough.
		for _, b := range buses {
			b.Close()
			break
		}
	})
	return buses
}

func await(t *testing.T, ch <-chan coordinator.Message) coordinator.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return nil
	}
}

// A put submitted at the node that happens to be the coordinator for the
// key should resolve locally, entirely through the waiter registry, with
// no relay hop at all.
func TestLoopback_PutAtCoordinatorResolvesLocally(t *testing.T) {
	buses := newLoopbackCluster(t, []string{"A", "B", "C"}, 3, 2, 2)

	key := "user:1"
	var coordinatorID string
	for id, b := range buses {
		pref := b.Router().Node().Preference(key)
		if pref[0] == id {
			coordinatorID = id
			break
		}
	}
	require.NotEmpty(t, coordinatorID)

	ch := buses[coordinatorID].Router().SubmitClientRequest(
		coordinator.ClientPut{Key: key, Value: "Alice", ClientAddr: coordinatorID, RequestID: "1"},
		coordinatorID, "1",
	)
	rsp, ok := await(t, ch).(coordinator.ClientPutRsp)
	require.True(t, ok)
	assert.Equal(t, "1", rsp.RequestID)
}

// A put submitted at a node that is NOT in the key's preference list must
// be forwarded to the real coordinator and, once quorum completes there,
// relayed back through RelayClientReply to resolve the originating node's
// own waiter — the seam HTTPBus carries over /internal/clientreply.
func TestLoopback_PutForwardedAndRelayedBack(t *testing.T) {
	// Four nodes with N=3 guarantees at least one node sits outside any
	// key's preference list, so forwarding is actually exercised.
	buses := newLoopbackCluster(t, []string{"A", "B", "C", "D"}, 3, 2, 2)

	key := "cart:1"
	var outsider string
	pref := buses["A"].Router().Node().Preference(key)
	for id := range buses {
		if !contains(pref, id) {
			outsider = id
			break
		}
	}
	require.NotEmpty(t, outsider, "need a node outside the 3-member preference list to exercise forwarding")

	ch := buses[outsider].Router().SubmitClientRequest(
		coordinator.ClientPut{Key: key, Value: "itemX", ClientAddr: outsider, RequestID: "1"},
		outsider, "1",
	)
	rsp, ok := await(t, ch).(coordinator.ClientPutRsp)
	require.True(t, ok, "expected the forwarded write to relay a ClientPutRsp back to %s", outsider)
	assert.Equal(t, "1", rsp.RequestID)

	ch2 := buses[outsider].Router().SubmitClientRequest(
		coordinator.ClientGet{Key: key, ClientAddr: outsider, RequestID: "2"},
		outsider, "2",
	)
	getRsp, ok := await(t, ch2).(coordinator.ClientGetRsp)
	require.True(t, ok)
	require.Len(t, getRsp.Values, 1)
	assert.Equal(t, "itemX", getRsp.Values[0])
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
