package marl

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// valueUpdateGraph wires a mean-squared-error loss onto a single value
// head's forward-pass node, one transition at a time for the same static
// batch-size-1 reason updateGraph does for the policy.
type valueUpdateGraph struct {
	target *G.Node
	loss   *G.Node
	vm     G.VM
}

func buildValueUpdateGraph(net interface {
	Prediction() []*G.Node
	Learnables() G.Nodes
}, g *G.ExprGraph) (*valueUpdateGraph, error) {
	pred := net.Prediction()[0]

	target := G.NewScalar(g, tensor.Float64, G.WithName("value_target"),
		G.WithInit(G.Zeroes()))

	predScalar := G.Must(G.Sum(pred))
	diff := G.Must(G.Sub(predScalar, target))
	loss := G.Must(G.Mul(diff, diff))

	learnables := net.Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		return nil, fmt.Errorf("marl: computing value gradient: %w", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return &valueUpdateGraph{target: target, loss: loss, vm: vm}, nil
}

// step runs one gradient computation for a single (obs, return) pair and
// returns the scalar loss, for NaN detection by the caller.
func (u *valueUpdateGraph) step(net inputSetter, obs []float64, ret float64) (float64, error) {
	if err := net.SetInput(obs); err != nil {
		return math.NaN(), err
	}
	if err := G.Let(u.target, ret); err != nil {
		return math.NaN(), err
	}
	if err := u.vm.RunAll(); err != nil {
		return math.NaN(), fmt.Errorf("marl: running value update step: %w", err)
	}
	defer u.vm.Reset()

	lossVal, ok := u.loss.Value().Data().(float64)
	if !ok {
		return math.NaN(), fmt.Errorf("marl: value loss is not a scalar")
	}
	return lossVal, nil
}

// inputSetter is the minimal surface valueUpdateGraph.step needs from a
// network.NeuralNet.
type inputSetter interface {
	SetInput([]float64) error
}
