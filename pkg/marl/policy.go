// Package marl implements the preference-conditioned multi-objective
// actor-critic learner: a categorical policy over placement targets, three
// independent value heads (energy, carbon, latency), and a PPO-clipped,
// GAE-advantaged update rule that scalarizes the three advantage streams
// by a sampled preference vector. The network construction follows the
// teacher's network.NewMultiHeadMLP/solver.Solver pattern; the clipped
// surrogate arithmetic reuses the teacher's utils/op helpers (Clip, Min)
// instead of reimplementing them.
package marl

import (
	"fmt"
	"math"
	"math/rand"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/vmplacement/initwfn"
	"github.com/samuelfneumann/vmplacement/network"
)

// Preference is a point on the 3-objective simplex weighting energy,
// carbon, and latency when scalarizing advantages during an update.
type Preference [NumObjectives]float64

// NumObjectives mirrors timestep.NumObjectives/gae.NumObjectives so this
// package does not need to import timestep just for the constant.
const NumObjectives = 3

// Policy is a categorical distribution over placement targets,
// parameterized by a single-hidden-stack MLP producing one logit per
// datacenter.
type Policy struct {
	g          *G.ExprGraph
	net        network.NeuralNet
	vm         G.VM
	numActions int
}

// NewPolicy builds a fresh Policy over numActions discrete placement
// targets, consuming features-dimensional observations.
func NewPolicy(features, numActions int, hiddenSizes []int) (*Policy, error) {
	g := G.NewGraph()
	biases := make([]bool, len(hiddenSizes))
	activations := make([]*network.Activation, len(hiddenSizes))
	for i := range hiddenSizes {
		biases[i] = true
		activations[i] = network.ReLU()
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, fmt.Errorf("marl: could not build weight initializer: %w", err)
	}

	net, err := network.NewMultiHeadMLP(features, 1, numActions, g, hiddenSizes,
		biases, init.InitWFn(), activations)
	if err != nil {
		return nil, fmt.Errorf("marl: could not build policy network: %w", err)
	}

	return &Policy{
		g:          g,
		net:        net,
		vm:         G.NewTapeMachine(g),
		numActions: numActions,
	}, nil
}

// Probabilities returns the categorical action distribution for a single
// observation, via a numerically-stable softmax that subtracts the
// largest of the network's logits before exponentiating, rather than a
// naive exp-then-normalize.
func (p *Policy) Probabilities(obs []float64) ([]float64, error) {
	if err := p.net.SetInput(obs); err != nil {
		return nil, fmt.Errorf("marl: setting policy input: %w", err)
	}
	defer p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("marl: running policy forward pass: %w", err)
	}

	logitsVal := p.net.Output()[0]
	logits, err := valuesToFloat64(logitsVal, p.numActions)
	if err != nil {
		return nil, err
	}

	return softmax(logits), nil
}

// Act samples an action from the policy's categorical distribution for
// obs, returning the sampled action index and its log-probability.
func (p *Policy) Act(obs []float64, rng *rand.Rand) (action int, logProb float64, err error) {
	probs, err := p.Probabilities(obs)
	if err != nil {
		return 0, 0, err
	}

	action = sampleCategorical(probs, rng)
	logProb = math.Log(probs[action] + 1e-12)
	return action, logProb, nil
}

// LogProb returns the log-probability the policy currently assigns to
// action at obs.
func (p *Policy) LogProb(obs []float64, action int) (float64, error) {
	probs, err := p.Probabilities(obs)
	if err != nil {
		return 0, err
	}
	return math.Log(probs[action] + 1e-12), nil
}

// Entropy returns the categorical entropy of the policy's distribution at
// obs, used for the entropy bonus term of the PPO objective.
func (p *Policy) Entropy(obs []float64) (float64, error) {
	probs, err := p.Probabilities(obs)
	if err != nil {
		return 0, err
	}
	var h float64
	for _, pr := range probs {
		if pr > 1e-12 {
			h -= pr * math.Log(pr)
		}
	}
	return h, nil
}

// Net exposes the underlying network for weight cloning/checkpointing.
func (p *Policy) Net() network.NeuralNet { return p.net }

// KLFrom computes the average categorical KL divergence KL(old || updated) over
// a batch of observations, used to bound Stage-2 clone drift.
func KLFrom(old, updated *Policy, observations [][]float64) (float64, error) {
	var total float64
	for _, obs := range observations {
		oldProbs, err := old.Probabilities(obs)
		if err != nil {
			return 0, err
		}
		newProbs, err := updated.Probabilities(obs)
		if err != nil {
			return 0, err
		}
		for i := range oldProbs {
			if oldProbs[i] > 1e-12 {
				total += oldProbs[i] * math.Log(oldProbs[i]/(newProbs[i]+1e-12))
			}
		}
	}
	return total / float64(len(observations)), nil
}

// softmax converts logits to a probability vector.
func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, l := range logits {
		if l > max {
			max = l
		}
	}
	var sum float64
	probs := make([]float64, len(logits))
	for i, l := range logits {
		probs[i] = math.Exp(l - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// sampleCategorical draws an index from a discrete distribution described
// by probs.
func sampleCategorical(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}

// valuesToFloat64 flattens a gorgonia Value holding a 1xN row into a
// plain []float64.
func valuesToFloat64(v G.Value, n int) ([]float64, error) {
	data, ok := v.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("marl: expected []float64 output, got %T", v.Data())
	}
	if len(data) != n {
		return nil, fmt.Errorf("marl: expected %d outputs, got %d", n, len(data))
	}
	return data, nil
}
