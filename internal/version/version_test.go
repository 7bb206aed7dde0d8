package version

import (
	"testing"

	"dynamokv/internal/vclock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vc(pairs ...any) vclock.Clock {
	c := vclock.New()
	for i := 0; i < len(pairs); i += 2 {
		c[pairs[i].(string)] = uint64(pairs[i+1].(int))
	}
	return c
}

func TestAddDominanceRemovesStaleSibling(t *testing.T) {
	s := NewSet()
	v1 := Value{Data: "v1", Clock: vc("n1", 1)}
	v2 := Value{Data: "v2", Clock: vc("n1", 2)} // strictly After v1

	s.Add(v1)
	s.Add(v2)

	require.Equal(t, 1, s.Len())
	assert.True(t, s.Contains(v2))
	assert.False(t, s.Contains(v1))
}

func TestAddRejectsDominatedNewElement(t *testing.T) {
	s := NewSet()
	v2 := Value{Data: "v2", Clock: vc("n1", 2)}
	v1 := Value{Data: "v1", Clock: vc("n1", 1)} // strictly Before v2

	s.Add(v2)
	s.Add(v1)

	require.Equal(t, 1, s.Len())
	assert.True(t, s.Contains(v2))
}

func TestAddConcurrentKeepsBothAsSiblings(t *testing.T) {
	s := NewSet()
	a := Value{Data: "a", Clock: vc("n1", 1)}
	b := Value{Data: "b", Clock: vc("n2", 1)}

	s.Add(a)
	s.Add(b)

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.HasConflict())
}

func TestAddExactDuplicateNotReinserted(t *testing.T) {
	s := NewSet()
	v := Value{Data: "v", Clock: vc("n1", 1)}
	s.Add(v)
	s.Add(v)
	assert.Equal(t, 1, s.Len())
}

func TestNoPairHasStrictlyBeforeRelationAfterAdds(t *testing.T) {
	s := NewSet()
	s.Add(Value{Data: "a", Clock: vc("n1", 1)})
	s.Add(Value{Data: "b", Clock: vc("n2", 1)})
	s.Add(Value{Data: "c", Clock: vc("n1", 1, "n2", 1)}) // dominates both a and b

	require.Equal(t, 1, s.Len())
	versions := s.Versions()
	for i := range versions {
		for j := range versions {
			if i == j {
				continue
			}
			assert.NotEqual(t, vclock.Before, versions[i].Clock.Compare(versions[j].Clock))
		}
	}
}

func TestMergeCommutativeAssociativeIdempotent(t *testing.T) {
	a := Value{Data: "a", Clock: vc("n1", 1)}
	b := Value{Data: "b", Clock: vc("n2", 1)}
	c := Value{Data: "c", Clock: vc("n3", 1)}

	xy := NewSetFrom(a)
	yx := NewSetFrom(b)
	xy.Merge(NewSetFrom(b))
	yx.Merge(NewSetFrom(a))
	assert.ElementsMatch(t, xy.Versions(), yx.Versions(), "merge must be commutative")

	xyz1 := NewSetFrom(a, b)
	xyz1.Merge(NewSetFrom(c))

	bc := NewSetFrom(b, c)
	xyz2 := NewSetFrom(a)
	xyz2.Merge(bc)
	assert.ElementsMatch(t, xyz1.Versions(), xyz2.Versions(), "merge must be associative")

	x := NewSetFrom(a)
	idempotent := x.Clone()
	idempotent.Merge(x)
	assert.ElementsMatch(t, x.Versions(), idempotent.Versions(), "merge must be idempotent")
}

func TestHasConflictSingleElement(t *testing.T) {
	s := NewSetFrom(Value{Data: "v", Clock: vc("n1", 1)})
	assert.False(t, s.HasConflict())
}
