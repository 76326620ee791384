package marl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLearnerUpdateProducesFiniteLosses(t *testing.T) {
	cfg := Config{
		Gamma:         0.99,
		Lambda:        0.95,
		ClipEpsilon:   0.2,
		EntropyCoef:   0.01,
		LearningRate:  1e-3,
		GradClipNorm:  0.5,
		RolloutLength: 4,
		HiddenSizes:   []int{8},
	}
	l, err := NewLearner(3, 2, cfg, 11)
	require.NoError(t, err)

	pref := UnitPreference(0)
	for i := 0; i < cfg.RolloutLength; i++ {
		obs := []float64{float64(i) * 0.1, 0.2, -0.3}
		action, logProb, values, err := l.Act(obs)
		require.NoError(t, err)

		rew := [NumObjectives]float64{0.1, -0.05, 0.2}
		require.NoError(t, l.Store(obs, action, logProb, rew, values))
	}
	l.FinishPath([NumObjectives]float64{})

	policyLoss, valueLoss, err := l.Update(pref)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(policyLoss))
	assert.False(t, math.IsInf(policyLoss, 0))
	for _, v := range valueLoss {
		assert.False(t, math.IsNaN(v))
	}
}

func TestLearnerCloneFromCopiesWeights(t *testing.T) {
	cfg := Config{
		Gamma: 0.99, Lambda: 0.95, ClipEpsilon: 0.2, EntropyCoef: 0.01,
		LearningRate: 1e-3, GradClipNorm: 0.5, RolloutLength: 2,
		HiddenSizes: []int{8},
	}
	source, err := NewLearner(3, 2, cfg, 1)
	require.NoError(t, err)
	target, err := NewLearner(3, 2, cfg, 2)
	require.NoError(t, err)

	obs := []float64{0.1, 0.2, 0.3}
	sourceProbs, err := source.Policy().Probabilities(obs)
	require.NoError(t, err)

	require.NoError(t, target.CloneFrom(source))
	after, err := target.Policy().Probabilities(obs)
	require.NoError(t, err)

	assert.InDeltaSlice(t, sourceProbs, after, 1e-9)
}
