package marl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyProbabilitiesSumToOne(t *testing.T) {
	p, err := NewPolicy(6, 3, []int{8})
	require.NoError(t, err)

	probs, err := p.Probabilities([]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	require.NoError(t, err)
	require.Len(t, probs, 3)

	var sum float64
	for _, pr := range probs {
		assert.GreaterOrEqual(t, pr, 0.0)
		sum += pr
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestPolicyActReturnsValidActionAndLogProb(t *testing.T) {
	p, err := NewPolicy(4, 5, []int{8, 8})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	obs := []float64{0.2, -0.1, 0.4, 0.9}

	action, logProb, err := p.Act(obs, rng)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, action, 0)
	assert.Less(t, action, 5)
	assert.LessOrEqual(t, logProb, 0.0)
}

func TestPolicyLogProbMatchesProbabilities(t *testing.T) {
	p, err := NewPolicy(4, 3, []int{8})
	require.NoError(t, err)

	obs := []float64{0.1, 0.2, 0.3, 0.4}
	probs, err := p.Probabilities(obs)
	require.NoError(t, err)

	for a, want := range probs {
		got, err := p.LogProb(obs, a)
		require.NoError(t, err)
		assert.InDelta(t, want, math.Exp(got), 1e-6)
	}
}

func TestPolicyEntropyIsNonNegative(t *testing.T) {
	p, err := NewPolicy(4, 4, []int{8})
	require.NoError(t, err)

	h, err := p.Entropy([]float64{0.1, -0.2, 0.3, 0.4})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h, 0.0)
}

func TestKLFromSelfIsZero(t *testing.T) {
	p, err := NewPolicy(4, 3, []int{8})
	require.NoError(t, err)

	obs := [][]float64{{0.1, 0.2, 0.3, 0.4}, {0.5, -0.1, 0.2, 0.0}}
	kl, err := KLFrom(p, p, obs)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, kl, 1e-6)
}

func TestValueNetPredictReturnsOnePerObjective(t *testing.T) {
	v, err := NewValueNet(5, []int{8})
	require.NoError(t, err)

	values, err := v.Predict([]float64{0.1, 0.2, 0.3, 0.4, 0.5})
	require.NoError(t, err)
	assert.Len(t, values, NumObjectives)
}
