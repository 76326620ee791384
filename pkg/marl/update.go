package marl

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/vmplacement/utils/op"
)

// updateGraph wires the PPO clipped-surrogate objective directly onto a
// Policy's forward-pass node, reusing the teacher's op.Clip/op.Min helpers
// for the clipping and min-of-two-surrogates arithmetic instead of
// reimplementing them, and op-style manual softmax/entropy nodes built
// from the policy's logits.
//
// Because the underlying multiHeadMLP graph is built for a fixed batch
// size of 1, the update rule processes one stored transition at a time:
// set the observation and the three placeholders (old log-probability,
// scalarized advantage, and the taken action's one-hot mask), run the
// tape machine, read the accumulated gradients, and step the solver. This
// mirrors the GAE buffer's per-transition Store/Get contract and avoids
// needing variable-batch graphs that gorgonia's static shapes don't
// support here.
type updateGraph struct {
	oldLogProb *G.Node
	advantage  *G.Node
	actionMask *G.Node
	loss       *G.Node
	entropy    *G.Node
	vm         G.VM
	learnables G.Nodes
}

func buildUpdateGraph(p *Policy, clipEpsilon, entropyCoef float64) (*updateGraph, error) {
	g := p.g
	logits := p.net.Prediction()[0]

	probs := G.Must(G.SoftMax(logits))
	eps := G.NewScalar(g, tensor.Float64, G.WithValue(1e-8), G.WithName("log_eps"))
	safeProbs := G.Must(G.BroadcastAdd(eps, probs, []byte{}, []byte{}))
	logProbs := G.Must(G.Log(safeProbs))

	actionMask := G.NewMatrix(g, tensor.Float64, G.WithShape(1, p.numActions),
		G.WithName("action_mask"), G.WithInit(G.Zeroes()))

	// A full reduce-sum (no axis argument) over the masked log-probs
	// collapses the 1xN row to a true scalar node, since only the taken
	// action's entry survives the mask; this keeps every downstream node
	// a scalar so it composes cleanly with oldLogProb/advantage below.
	takenLogProb := G.Must(G.Sum(G.Must(G.HadamardProd(logProbs, actionMask))))

	oldLogProb := G.NewScalar(g, tensor.Float64, G.WithName("old_log_prob"),
		G.WithInit(G.Zeroes()))
	advantage := G.NewScalar(g, tensor.Float64, G.WithName("advantage"),
		G.WithInit(G.Zeroes()))

	ratio := G.Must(G.Exp(G.Must(G.Sub(takenLogProb, oldLogProb))))
	surr1 := G.Must(G.Mul(ratio, advantage))

	clippedRatio, err := op.Clip(ratio, 1-clipEpsilon, 1+clipEpsilon)
	if err != nil {
		return nil, fmt.Errorf("marl: clipping ratio: %w", err)
	}
	surr2 := G.Must(G.Mul(clippedRatio, advantage))

	clippedObjective, err := op.Min(surr1, surr2)
	if err != nil {
		return nil, fmt.Errorf("marl: computing clipped objective: %w", err)
	}

	negEntropyTerms := G.Must(G.HadamardProd(probs, logProbs))
	entropy := G.Must(G.Neg(G.Must(G.Sum(negEntropyTerms))))

	entropyCoefNode := G.NewConstant(entropyCoef)
	loss := G.Must(G.Sub(
		G.Must(G.Neg(clippedObjective)),
		G.Must(G.HadamardProd(entropyCoefNode, entropy)),
	))

	learnables := p.net.Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("marl: computing policy gradient: %w", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return &updateGraph{
		oldLogProb: oldLogProb,
		advantage:  advantage,
		actionMask: actionMask,
		loss:       loss,
		entropy:    entropy,
		vm:         vm,
		learnables: learnables,
	}, nil
}

// step runs one gradient computation for a single stored transition and
// returns the scalar loss value, for NaN-loss detection by the caller.
func (u *updateGraph) step(p *Policy, obs []float64, action int, oldLogProb, advantage float64) (float64, error) {
	if err := p.net.SetInput(obs); err != nil {
		return math.NaN(), err
	}

	mask := make([]float64, p.numActions)
	mask[action] = 1
	maskTensor := tensor.New(tensor.WithBacking(mask), tensor.WithShape(1, p.numActions))
	if err := G.Let(u.actionMask, maskTensor); err != nil {
		return math.NaN(), err
	}
	if err := G.Let(u.oldLogProb, oldLogProb); err != nil {
		return math.NaN(), err
	}
	if err := G.Let(u.advantage, advantage); err != nil {
		return math.NaN(), err
	}

	if err := u.vm.RunAll(); err != nil {
		return math.NaN(), fmt.Errorf("marl: running policy update step: %w", err)
	}
	defer u.vm.Reset()

	lossVal, ok := u.loss.Value().Data().(float64)
	if !ok {
		return math.NaN(), fmt.Errorf("marl: policy loss is not a scalar")
	}
	return lossVal, nil
}
