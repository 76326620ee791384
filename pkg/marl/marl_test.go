package marl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiversifiedPreferencesSumToOne(t *testing.T) {
	prefs := DiversifiedPreferences(5, 3)
	assert.Len(t, prefs, 5)
	for _, p := range prefs {
		var sum float64
		for _, w := range p {
			assert.GreaterOrEqual(t, w, 0.0)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestUnitPreferenceIsOneHot(t *testing.T) {
	p := UnitPreference(1)
	assert.Equal(t, Preference{0, 1, 0}, p)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := softmax([]float64{1, 2, 3})
	var sum float64
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestSampleCategoricalRespectsZeroProbability(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	probs := []float64{0, 1, 0}
	for i := 0; i < 20; i++ {
		assert.Equal(t, 1, sampleCategorical(probs, rng))
	}
}

func TestSampleCategoricalNeverOutOfRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	probs := []float64{0.2, 0.3, 0.5}
	for i := 0; i < 100; i++ {
		a := sampleCategorical(probs, rng)
		assert.GreaterOrEqual(t, a, 0)
		assert.Less(t, a, len(probs))
	}
}

func TestEntropyOfUniformIsLogN(t *testing.T) {
	probs := softmax([]float64{0, 0, 0, 0})
	var h float64
	for _, p := range probs {
		h -= p * math.Log(p)
	}
	assert.InDelta(t, math.Log(4), h, 1e-9)
}
