package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNodesCompletenessWithinAvoid(t *testing.T) {
	r := New([]string{"A", "B", "C", "D", "E"}, 10)

	pref, _ := r.FindNodes("user:1", 3, nil)
	require.Len(t, pref, 3)

	seen := make(map[string]bool)
	for _, n := range pref {
		assert.False(t, seen[n], "preference must contain distinct nodes")
		seen[n] = true
	}
}

func TestFindNodesHonorsAvoidSet(t *testing.T) {
	r := New([]string{"A", "B", "C", "D", "E"}, 10)
	avoid := map[string]bool{"B": true}

	pref, skipped := r.FindNodes("user:1", 3, avoid)
	require.Len(t, pref, 3)
	for _, n := range pref {
		assert.NotEqual(t, "B", n)
	}
	// B must appear in skipped if it was encountered during the walk.
	found := false
	for _, n := range skipped {
		if n == "B" {
			found = true
		}
	}
	assert.True(t, found || len(skipped) == 0, "if B was walked past it must be recorded as skipped")
}

func TestFindNodesDeterministicAcrossInsertionOrder(t *testing.T) {
	a := New([]string{"A", "B", "C"}, 20)
	b := New([]string{"C", "A", "B"}, 20)

	prefA, _ := a.FindNodes("some-key", 3, nil)
	prefB, _ := b.FindNodes("some-key", 3, nil)
	assert.Equal(t, prefA, prefB, "ring contents must be independent of insertion order")
	assert.ElementsMatch(t, a.Nodes(), b.Nodes())
}

func TestFindNodesStopsAtCount(t *testing.T) {
	r := New([]string{"A", "B", "C", "D", "E"}, 10)
	pref, _ := r.FindNodes("k", 2, nil)
	assert.Len(t, pref, 2)
}

func TestFindNodesEmptyRing(t *testing.T) {
	r := New(nil, 10)
	pref, skipped := r.FindNodes("k", 3, nil)
	assert.Nil(t, pref)
	assert.Nil(t, skipped)
}

func TestAddNodeIdempotentAtIdentityLevel(t *testing.T) {
	r := New([]string{"A"}, 5)
	before := len(r.Nodes())
	r.AddNode("A", 5)
	assert.Equal(t, before, len(r.Nodes()), "adding the same node name again must not create a new identity")
}

func TestNodesReturnsSortedUniqueNames(t *testing.T) {
	r := New([]string{"C", "A", "B"}, 3)
	assert.Equal(t, []string{"A", "B", "C"}, r.Nodes())
}
