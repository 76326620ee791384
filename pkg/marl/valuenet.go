package marl

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/vmplacement/initwfn"
	"github.com/samuelfneumann/vmplacement/network"
)

// ValueNet holds NumObjectives independently-parameterized value
// networks, one per tracked objective. Keeping the heads on entirely
// separate graphs (rather than a single shared-trunk multi-head network)
// ensures an objective's critic only ever receives gradient signal from
// its own reward stream, so the discovered front cannot be skewed by one
// objective's critic dominating a shared representation.
type ValueNet struct {
	heads [NumObjectives]*valueHead
}

type valueHead struct {
	g   *G.ExprGraph
	net network.NeuralNet
	vm  G.VM
}

// NewValueNet builds a fresh ValueNet over features-dimensional
// observations.
func NewValueNet(features int, hiddenSizes []int) (*ValueNet, error) {
	v := &ValueNet{}
	for i := 0; i < NumObjectives; i++ {
		head, err := newValueHead(features, hiddenSizes)
		if err != nil {
			return nil, fmt.Errorf("marl: building value head %d: %w", i, err)
		}
		v.heads[i] = head
	}
	return v, nil
}

func newValueHead(features int, hiddenSizes []int) (*valueHead, error) {
	g := G.NewGraph()
	biases := make([]bool, len(hiddenSizes))
	activations := make([]*network.Activation, len(hiddenSizes))
	for i := range hiddenSizes {
		biases[i] = true
		activations[i] = network.ReLU()
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, err
	}

	net, err := network.NewMultiHeadMLP(features, 1, 1, g, hiddenSizes, biases,
		init.InitWFn(), activations)
	if err != nil {
		return nil, err
	}

	return &valueHead{g: g, net: net, vm: G.NewTapeMachine(g)}, nil
}

// Predict returns the per-objective value estimate for a single
// observation.
func (v *ValueNet) Predict(obs []float64) ([NumObjectives]float64, error) {
	var out [NumObjectives]float64
	for i, head := range v.heads {
		if err := head.net.SetInput(obs); err != nil {
			return out, fmt.Errorf("marl: setting value head %d input: %w", i, err)
		}
		if err := head.vm.RunAll(); err != nil {
			return out, fmt.Errorf("marl: running value head %d forward pass: %w", i, err)
		}
		data, ok := head.net.Output()[0].Data().([]float64)
		head.vm.Reset()
		if !ok || len(data) != 1 {
			return out, fmt.Errorf("marl: value head %d produced unexpected output", i)
		}
		out[i] = data[0]
	}
	return out, nil
}

// Head returns the underlying network for objective i, for use by the
// update rule and checkpointing.
func (v *ValueNet) Head(i int) network.NeuralNet { return v.heads[i].net }
