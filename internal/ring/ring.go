// Package ring implements the consistent hash ring that maps keys onto
// an ordered preference list of replica node identifiers, honoring a
// set of nodes to avoid (down or otherwise excluded). Nodes are placed
// via virtual nodes over a 128-bit content hash, and a ring walk also
// reports which avoided nodes it stepped over (used by hinted handoff).
package ring

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// hash128 is a 128-bit ring position, compared lexicographically.
type hash128 [16]byte

func less(a, b hash128) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func hashOf(s string) hash128 {
	sum := sha256.Sum256([]byte(s))
	var h hash128
	copy(h[:], sum[:16])
	return h
}

type entry struct {
	pos  hash128
	node string
}

// Ring is a sorted sequence of (hash, node) pairs produced by hashing
// "node:i" for i in [0,T) for each physical node. It is not safe for
// concurrent use without external synchronization — callers that mutate
// the ring concurrently with lookups must serialize those calls
// themselves, matching the single-owner, single-threaded-event-loop
// model the coordinator uses everywhere else.
type Ring struct {
	entries []entry
	nodes   map[string]bool
}

// New builds a ring from the given nodes, each contributing T virtual
// entries.
func New(nodes []string, t int) *Ring {
	r := &Ring{nodes: make(map[string]bool)}
	for _, n := range nodes {
		r.AddNode(n, t)
	}
	return r
}

// AddNode inserts T virtual entries for node and re-sorts the ring.
// Adding the same node name twice is idempotent at the identity level
// (Nodes() is unaffected) but multiplies its virtual-node count —
// callers should not add a node twice.
func (r *Ring) AddNode(node string, t int) {
	r.nodes[node] = true
	for i := 0; i < t; i++ {
		r.entries = append(r.entries, entry{pos: hashOf(fmt.Sprintf("%s:%d", node, i)), node: node})
	}
	sort.Slice(r.entries, func(i, j int) bool { return less(r.entries[i].pos, r.entries[j].pos) })
}

// Nodes returns the set of unique node names in sorted order.
func (r *Ring) Nodes() []string {
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FindNodes hashes key, locates the first ring entry with hash >= the key
// hash, and walks the ring clockwise from there, collecting the first
// count distinct node names not present in avoid into preference, and the
// distinct node names encountered that were in avoid, in encounter order,
// into skipped. The walk terminates after a full revolution even if fewer
// than count nodes were found, so callers must treat preference as
// "best effort up to count" per the ring's documented walk semantics.
func (r *Ring) FindNodes(key string, count int, avoid map[string]bool) (preference, skipped []string) {
	if len(r.entries) == 0 || count <= 0 {
		return nil, nil
	}

	target := hashOf(key)
	start := sort.Search(len(r.entries), func(i int) bool {
		return !less(r.entries[i].pos, target)
	})
	if start == len(r.entries) {
		start = 0
	}

	seenPref := make(map[string]bool)
	seenSkip := make(map[string]bool)

	n := len(r.entries)
	for i := 0; i < n && len(preference) < count; i++ {
		node := r.entries[(start+i)%n].node

		if avoid != nil && avoid[node] {
			if !seenSkip[node] {
				seenSkip[node] = true
				skipped = append(skipped, node)
			}
			continue
		}
		if !seenPref[node] {
			seenPref[node] = true
			preference = append(preference, node)
		}
	}
	return preference, skipped
}
