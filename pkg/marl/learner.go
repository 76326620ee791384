package marl

import (
	"fmt"
	"math"
	"math/rand"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/vmplacement/buffer/gae"
	"github.com/samuelfneumann/vmplacement/network"
	"github.com/samuelfneumann/vmplacement/solver"
)

// Config bundles the PPO/GAE hyperparameters a Learner trains with.
type Config struct {
	Gamma         float64
	Lambda        float64
	ClipEpsilon   float64
	EntropyCoef   float64
	LearningRate  float64
	GradClipNorm  float64
	RolloutLength int
	HiddenSizes   []int
}

// Learner is the preference-conditioned multi-objective actor-critic: a
// categorical Policy, three independent ValueNet heads, and the PPO-clip
// update rule that scalarizes per-objective GAE advantages by a sampled
// Preference before taking the gradient step.
type Learner struct {
	cfg Config

	policy   *Policy
	valueNet *ValueNet
	buffer   *gae.Buffer

	policyUpdate *updateGraph
	valueUpdates [NumObjectives]*valueUpdateGraph
	valueSolvers [NumObjectives]*solver.Solver
	policySolver *solver.Solver

	obsDim int
	rng    *rand.Rand
}

// NewLearner builds a fresh Learner over obsDim-dimensional observations
// and numActions discrete placement targets.
func NewLearner(obsDim, numActions int, cfg Config, seed int64) (*Learner, error) {
	policy, err := NewPolicy(obsDim, numActions, cfg.HiddenSizes)
	if err != nil {
		return nil, err
	}
	valueNet, err := NewValueNet(obsDim, cfg.HiddenSizes)
	if err != nil {
		return nil, err
	}

	policyUpdate, err := buildUpdateGraph(policy, cfg.ClipEpsilon, cfg.EntropyCoef)
	if err != nil {
		return nil, err
	}

	l := &Learner{
		cfg:          cfg,
		policy:       policy,
		valueNet:     valueNet,
		buffer:       gae.New(obsDim, cfg.RolloutLength, cfg.Lambda, cfg.Gamma),
		policyUpdate: policyUpdate,
		obsDim:       obsDim,
		rng:          rand.New(rand.NewSource(seed)),
	}

	policySolver, err := solver.NewAdam(cfg.LearningRate, 1e-8, 0.9, 0.999, cfg.RolloutLength, cfg.GradClipNorm)
	if err != nil {
		return nil, fmt.Errorf("marl: building policy solver: %w", err)
	}
	l.policySolver = policySolver

	for i := 0; i < NumObjectives; i++ {
		head := valueNet.heads[i]
		vu, err := buildValueUpdateGraph(head.net, head.g)
		if err != nil {
			return nil, fmt.Errorf("marl: building value update graph %d: %w", i, err)
		}
		l.valueUpdates[i] = vu

		vs, err := solver.NewAdam(cfg.LearningRate, 1e-8, 0.9, 0.999, cfg.RolloutLength, cfg.GradClipNorm)
		if err != nil {
			return nil, fmt.Errorf("marl: building value solver %d: %w", i, err)
		}
		l.valueSolvers[i] = vs
	}

	return l, nil
}

// Act samples an action for obs and returns everything the caller needs
// to store a transition: the action, its log-probability, and the
// per-objective value estimates.
func (l *Learner) Act(obs []float64) (action int, logProb float64, values [NumObjectives]float64, err error) {
	action, logProb, err = l.policy.Act(obs, l.rng)
	if err != nil {
		return 0, 0, values, err
	}
	values, err = l.valueNet.Predict(obs)
	return action, logProb, values, err
}

// PredictValue returns the per-objective value estimate for obs, used by
// callers to bootstrap GAE at a rollout cutoff.
func (l *Learner) PredictValue(obs []float64) ([NumObjectives]float64, error) {
	return l.valueNet.Predict(obs)
}

// Store records one transition into the rollout buffer.
func (l *Learner) Store(obs []float64, action int, logProb float64,
	rew, val [NumObjectives]float64) error {
	return l.buffer.Store(obs, float64(action), logProb, rew, val)
}

// FinishPath closes out the current trajectory in the rollout buffer; see
// buffer/gae.Buffer.FinishPath for the bootstrap-value semantics.
func (l *Learner) FinishPath(lastVal [NumObjectives]float64) {
	l.buffer.FinishPath(lastVal)
}

// Update scalarizes the buffer's per-objective advantages by pref and
// takes one PPO-clipped policy gradient step plus one value-regression
// step per objective over every stored transition. It returns the mean
// policy loss and per-objective mean value losses, and skips the solver
// step (but not the rest of the pass) for any individual transition whose
// loss evaluates to NaN/Inf, so one numerically unstable sample cannot
// corrupt the whole update.
func (l *Learner) Update(pref Preference) (policyLoss float64, valueLoss [NumObjectives]float64, err error) {
	obs, act, logProb, adv, ret, err := l.buffer.Get()
	if err != nil {
		return 0, valueLoss, err
	}

	n := len(act)
	var policyLossSum float64
	var policySteps int

	for i := 0; i < n; i++ {
		o := obs[i*l.obsDim : (i+1)*l.obsDim]
		action := int(math.Round(act[i]))

		var scalarAdv float64
		for j := 0; j < NumObjectives; j++ {
			scalarAdv += pref[j] * adv[j][i]
		}

		loss, stepErr := l.policyUpdate.step(l.policy, o, action, logProb[i], scalarAdv)
		if stepErr != nil {
			return 0, valueLoss, stepErr
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			continue
		}
		if err := l.policySolver.Step(modelOf(l.policy.net)); err != nil {
			return 0, valueLoss, fmt.Errorf("marl: policy solver step: %w", err)
		}
		policyLossSum += loss
		policySteps++
	}
	if policySteps > 0 {
		policyLoss = policyLossSum / float64(policySteps)
	}

	for j := 0; j < NumObjectives; j++ {
		var sum float64
		var steps int
		head := l.valueNet.heads[j]
		for i := 0; i < n; i++ {
			o := obs[i*l.obsDim : (i+1)*l.obsDim]
			loss, stepErr := l.valueUpdates[j].step(head.net, o, ret[j][i])
			if stepErr != nil {
				return policyLoss, valueLoss, stepErr
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				continue
			}
			if err := l.valueSolvers[j].Step(modelOf(head.net)); err != nil {
				return policyLoss, valueLoss, fmt.Errorf("marl: value solver %d step: %w", j, err)
			}
			sum += loss
			steps++
		}
		if steps > 0 {
			valueLoss[j] = sum / float64(steps)
		}
	}

	return policyLoss, valueLoss, nil
}

// modelOf returns the model (learnables + gradients) the solver package's
// G.Solver.Step expects.
func modelOf(net network.NeuralNet) []G.ValueGrad {
	return net.Model()
}

// Policy exposes the learner's policy, e.g. for checkpointing or cloning.
func (l *Learner) Policy() *Policy { return l.policy }

// ValueNet exposes the learner's value network, e.g. for checkpointing.
func (l *Learner) ValueNet() *ValueNet { return l.valueNet }

// CloneFrom copies weights from source into the receiver's policy and
// value heads, for seeding a Stage-2 single-objective run from a Stage-1
// diversified policy.
func (l *Learner) CloneFrom(source *Learner) error {
	if err := network.Set(l.policy.net, source.policy.net); err != nil {
		return fmt.Errorf("marl: cloning policy weights: %w", err)
	}
	for i := range l.valueNet.heads {
		if err := network.Set(l.valueNet.heads[i].net, source.valueNet.heads[i].net); err != nil {
			return fmt.Errorf("marl: cloning value head %d weights: %w", i, err)
		}
	}
	return nil
}
