// Package timestep implements timesteps of the agent-environment interaction
package timestep

import "gonum.org/v1/gonum/mat"

// StepType denotes the type of step that a TimeStep can be, either the
// first environmental step, a middle step, or the last step of an episode
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

// NumObjectives is the fixed number of simultaneously tracked reward
// components: energy, carbon, and latency.
const NumObjectives = 3

// TimeStep packages together a single timestep in the placement MDP. Unlike
// a single-objective environment, Rewards carries one scalar per objective
// rather than a single blended reward; no objective is scalarized until the
// learner forms its advantage signal. Info is an environment-defined,
// opaque side-channel for diagnostic details about the transition (e.g.
// whether a placement fell back to a redirect target) that are not part
// of the learning signal itself; it is nil unless the environment sets it.
type TimeStep struct {
	StepType    StepType
	Number      int
	Rewards     [NumObjectives]float64
	Discount    float64
	Observation mat.Vector
	Info        interface{}
}

// New creates a new TimeStep
func New(t StepType, number int, r [NumObjectives]float64, d float64,
	o mat.Vector) TimeStep {
	return TimeStep{
		StepType:    t,
		Number:      number,
		Rewards:     r,
		Discount:    d,
		Observation: o,
	}
}

// First returns whether a TimeStep is the first in an episode
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}
