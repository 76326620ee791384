// Package gae implements functionality for storing a generalized
// advantage estimate buffer
package gae

import (
	"fmt"

	"github.com/samuelfneumann/vmplacement/utils/matutils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NumObjectives is the number of simultaneously tracked reward/value
// streams: energy, carbon, latency.
const NumObjectives = 3

// Buffer implements a forward view generalized advantage estimate -
// GAE(λ) - buffer following https://arxiv.org/abs/1506.02438, generalized
// to NumObjectives parallel reward and value streams so that energy,
// carbon, and latency advantages are each estimated on their own scale
// before scalarization. This implementation is adapted from:
//
// https://github.com/openai/spinningup/tree/master/spinup/algos/tf1/vpg
type Buffer struct {
	obsSize int // Size of state observations
	maxSize int // Max buffer size

	currentPos   int // Current position in the buffer
	pathStartIdx int // Position in the buffer where current trajectory starts

	lambda float64 // λ for GAE(λ) calculation
	gamma  float64 // Discount factor ℽ

	// Buffers for storing data
	obsBuffer    []float64
	actBuffer    []float64 // One discrete action index per step
	logProbBuffer []float64

	rewBuffer [NumObjectives][]float64
	valBuffer [NumObjectives][]float64
	advBuffer [NumObjectives][]float64
	retBuffer [NumObjectives][]float64
}

// New creates and returns a new GAE(λ) buffer sized for size timesteps
// of an obsDim-dimensional observation.
func New(obsDim, size int, lambda, gamma float64) *Buffer {
	b := &Buffer{
		obsSize:       obsDim,
		maxSize:       size,
		lambda:        lambda,
		gamma:         gamma,
		obsBuffer:     make([]float64, size*obsDim),
		actBuffer:     make([]float64, size),
		logProbBuffer: make([]float64, size),
	}
	for j := 0; j < NumObjectives; j++ {
		b.rewBuffer[j] = make([]float64, size)
		b.valBuffer[j] = make([]float64, size)
		b.advBuffer[j] = make([]float64, size)
		b.retBuffer[j] = make([]float64, size)
	}
	return b
}

// Store stores a single timestep's observation, action, log-probability,
// and per-objective rewards and value estimates to the Buffer.
func (b *Buffer) Store(obs []float64, act float64, logProb float64,
	rew, val [NumObjectives]float64) error {
	if b.currentPos >= b.maxSize {
		return fmt.Errorf("store: cannot add new transition, buffer at " +
			"maximum capacity")
	}
	if len(obs) != b.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)\n\thave(%v)",
			b.obsSize, len(obs))
	}

	start := b.currentPos * b.obsSize
	copy(b.obsBuffer[start:start+b.obsSize], obs)

	b.actBuffer[b.currentPos] = act
	b.logProbBuffer[b.currentPos] = logProb
	for j := 0; j < NumObjectives; j++ {
		b.rewBuffer[j][b.currentPos] = rew[j]
		b.valBuffer[j][b.currentPos] = val[j]
	}
	b.currentPos++
	return nil
}

// FinishPath computes per-objective advantage estimates using GAE(λ) and
// rewards-to-go estimates for the current trajectory. It should be called
// at the end of an episode or when one is cut off by a rollout boundary.
//
// lastVal should be the zero vector if the trajectory ended because the
// episode reached its terminal step, and otherwise the value estimates
// v^j(s) of the cutoff state, bootstrapping the rewards-to-go and
// advantage calculations past the rollout window.
func (b *Buffer) FinishPath(lastVal [NumObjectives]float64) {
	start := b.pathStartIdx
	stop := b.currentPos

	for j := 0; j < NumObjectives; j++ {
		rews := append(append([]float64{}, b.rewBuffer[j][start:stop]...), lastVal[j])
		vals := append(append([]float64{}, b.valBuffer[j][start:stop]...), lastVal[j])

		stateVals := mat.NewVecDense(len(vals)-1, vals[:len(vals)-1])
		nextStateVals := mat.NewVecDense(len(vals)-1, vals[1:])
		rewards := mat.NewVecDense(len(rews)-1, rews[:len(rews)-1])

		deltas := mat.NewVecDense(stateVals.Len(), nil)
		deltas.AddScaledVec(rewards, b.gamma, nextStateVals)
		deltas.SubVec(deltas, stateVals)

		copy(b.advBuffer[j][start:stop], discountCumSum(deltas, b.gamma*b.lambda))

		rewardsToGo := mat.NewVecDense(len(rews), rews)
		rewsToGo := discountCumSum(rewardsToGo, b.gamma)
		copy(b.retBuffer[j][start:stop], rewsToGo[:len(rewsToGo)-1])
	}

	b.pathStartIdx = b.currentPos
}

// Get returns the observations, actions, log-probabilities, per-objective
// standardized advantages, and per-objective returns stored in the Buffer.
// Each objective's advantages are independently standardized to zero mean
// and unit variance over the batch before the caller scalarizes them.
func (b *Buffer) Get() (obs, act, logProb []float64,
	adv, ret [NumObjectives][]float64, err error) {
	if b.currentPos != b.maxSize {
		err = fmt.Errorf("get: buffer must be full before sampling")
		return
	}
	b.currentPos = 0
	b.pathStartIdx = 0

	for j := 0; j < NumObjectives; j++ {
		raw := b.advBuffer[j]
		advVec := mat.NewVecDense(len(raw), append([]float64{}, raw...))
		ones := matutils.VecOnes(advVec.Len())
		mean := stat.Mean(raw, nil)
		std := stat.StdDev(raw, nil) + 1e-8

		stdVec := mat.NewVecDense(advVec.Len(), nil)
		stdVec.AddScaledVec(stdVec, std, ones)
		advVec.AddScaledVec(advVec, -mean, ones)
		advVec.DivElemVec(advVec, stdVec)

		adv[j] = advVec.RawVector().Data
		ret[j] = b.retBuffer[j]
	}

	return b.obsBuffer, b.actBuffer, b.logProbBuffer, adv, ret, nil
}

// discountCumSum computes and returns the discounted cumulative sum
// of all elements of a vector. Given a vector v = [x0 x1 x2 ... xN]
// and discount ℽ, this function computes and returns:
//
// [
//	x0 + ℽ x1 + ℽ^2 x2 + ℽ^3 x3 + ... + ℽ^(N-1) x(N-1) + ℽ^N xN
//	x1 + ℽ^1 x2 + ℽ^2 x3 + ... + ℽ^(N-2) x(N-1) + ℽ^(N-1) xN
//	x2 + ℽ^1 x3 + ... + ℽ^(N-3) x(N-1) + ℽ^(N-2) xN
// ...
// xN
// ]
func discountCumSum(x *mat.VecDense, discount float64) []float64 {
	discounts := mat.NewVecDense(x.Len(), nil)
	cumSums := make([]float64, x.Len())
	nextScaledRews := mat.NewVecDense(x.Len(), nil)
	backing := nextScaledRews.RawVector().Data

	for i := 0; i < x.Len(); i++ {
		discounts.ScaleVec(discount, discounts)
		discounts.SetVec(x.Len()-i-1, 1)

		nextScaledRews.MulElemVec(discounts, x)
		cumSums[x.Len()-i-1] = floats.Sum(backing[x.Len()-i-1:])
	}

	return cumSums
}
