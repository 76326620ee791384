// Package environment outlines the interfaces needed to implement the
// placement environment: specifications, starting-state distributions,
// reward schemes (Tasks), and the overall Environment contract.
package environment

import (
	"gonum.org/v1/gonum/mat"
	"github.com/samuelfneumann/vmplacement/timestep"
)

// Starter implements a distribution of starting states and samples starting
// states/values for environments. It is reused both for sampling the
// starting user-location of a placement request and for sampling VM tiers.
type Starter interface {
	Start() mat.Vector
}

// Task implements the reward scheme for taking actions in some environment.
// GetReward returns one scalar per tracked objective (energy, carbon,
// latency) rather than a single blended scalar, since the placement MDP is
// multi-objective by definition.
type Task interface {
	GetReward(t timestep.TimeStep, a mat.Vector) [timestep.NumObjectives]float64

	// AtGoal reports whether state is a designated terminal goal state.
	// The placement MDP has no goal state (episodes end by placement
	// count, see StepLimit), so implementations may always return false.
	AtGoal(state mat.Matrix) bool
}

// Environment implements a simulated environment, which includes a Task to
// complete.
type Environment interface {
	Task
	Starter
	Reset() timestep.TimeStep
	Step(action mat.Vector) (timestep.TimeStep, bool)
	RewardSpec() Spec
	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
