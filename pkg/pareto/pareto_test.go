package pareto

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDominates(t *testing.T) {
	a := [NumObjectives]float64{1, 1, 1}
	b := [NumObjectives]float64{2, 2, 2}
	assert.True(t, Dominates(a, b))
	assert.False(t, Dominates(b, a))

	// Equal points dominate neither.
	assert.False(t, Dominates(a, a))

	// Mixed: neither dominates.
	c := [NumObjectives]float64{1, 2, 1}
	d := [NumObjectives]float64{2, 1, 1}
	assert.False(t, Dominates(c, d))
	assert.False(t, Dominates(d, c))
}

func TestFrontInsertKeepsOnlyNonDominated(t *testing.T) {
	f := New()
	ok, err := f.Insert(Entry{Objectives: [NumObjectives]float64{5, 5, 5}})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Insert(Entry{Objectives: [NumObjectives]float64{1, 1, 1}})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Equal(t, 1, f.Len(), "dominated entry should have been evicted")

	// A mutually non-dominated point is kept alongside.
	ok, err = f.Insert(Entry{Objectives: [NumObjectives]float64{0, 2, 2}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, f.Len())

	// A dominated candidate is rejected outright.
	ok, err = f.Insert(Entry{Objectives: [NumObjectives]float64{3, 3, 3}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, f.Len())
}

func TestSelectSparseReturnsWholeFrontWhenNNotSmaller(t *testing.T) {
	f := New()
	f.Insert(Entry{Objectives: [NumObjectives]float64{0, 3, 3}})
	f.Insert(Entry{Objectives: [NumObjectives]float64{3, 0, 3}})
	assert.Len(t, f.SelectSparse(10), 2)
}

func TestSelectSparsePrefersBoundaryPoints(t *testing.T) {
	f := New()
	f.Insert(Entry{Objectives: [NumObjectives]float64{0, 5, 2}})
	f.Insert(Entry{Objectives: [NumObjectives]float64{2, 2, 2}})
	f.Insert(Entry{Objectives: [NumObjectives]float64{5, 0, 2}})

	selected := f.SelectSparse(2)
	require.Len(t, selected, 2)
	for _, e := range selected {
		assert.NotEqual(t, [NumObjectives]float64{2, 2, 2}, e.Objectives,
			"interior point has least crowding distance and should not be selected")
	}
}

func TestHypervolumeMonotonicInAddedPoints(t *testing.T) {
	ref := [NumObjectives]float64{10, 10, 10}

	f1 := New()
	f1.Insert(Entry{Objectives: [NumObjectives]float64{5, 5, 5}})
	hv1 := f1.Hypervolume(ref)
	assert.Greater(t, hv1, 0.0)

	f2 := New()
	f2.Insert(Entry{Objectives: [NumObjectives]float64{5, 5, 5}})
	f2.Insert(Entry{Objectives: [NumObjectives]float64{2, 8, 8}})
	hv2 := f2.Hypervolume(ref)

	assert.Greater(t, hv2, hv1, "adding a non-dominated point cannot shrink hypervolume")
}

func TestHypervolumeSinglePointMatchesBoxVolume(t *testing.T) {
	f := New()
	f.Insert(Entry{Objectives: [NumObjectives]float64{4, 4, 4}})
	ref := [NumObjectives]float64{10, 10, 10}
	assert.InDelta(t, 6*6*6, f.Hypervolume(ref), 1e-9)
}

func TestExpectedUtilityDeterministicForFixedSeed(t *testing.T) {
	f := New()
	f.Insert(Entry{Objectives: [NumObjectives]float64{1, 5, 5}})
	f.Insert(Entry{Objectives: [NumObjectives]float64{5, 1, 5}})

	u1 := f.ExpectedUtility(500, 42)
	u2 := f.ExpectedUtility(500, 42)
	assert.Equal(t, u1, u2)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "front.json")

	f := New()
	f.Insert(Entry{
		Preference:   [NumObjectives]float64{0.2, 0.3, 0.5},
		Objectives:   [NumObjectives]float64{1, 2, 3},
		CheckpointID: "stage1/policy_0",
	})
	f.Insert(Entry{
		Preference:   [NumObjectives]float64{0.8, 0.1, 0.1},
		Objectives:   [NumObjectives]float64{3, 2, 1},
		CheckpointID: "stage1/policy_1",
	})

	require.NoError(t, f.Serialize(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := Deserialize(path)
	require.NoError(t, err)
	assert.Equal(t, f.Entries(), loaded.Entries())
}

func TestInsertRejectsNonFiniteObjectives(t *testing.T) {
	f := New()

	ok, err := f.Insert(Entry{Objectives: [NumObjectives]float64{math.NaN(), 1, 1}})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, f.Len())

	ok, err = f.Insert(Entry{Objectives: [NumObjectives]float64{1, math.Inf(1), 1}})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, f.Len())

	// A non-finite candidate must not evict existing entries either.
	ok, err = f.Insert(Entry{Objectives: [NumObjectives]float64{5, 5, 5}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Insert(Entry{Objectives: [NumObjectives]float64{math.Inf(-1), 1, 1}})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, f.Len())
}
