// Package workload defines the external VM-request arrival process
// consumed by the placement environment. The real workload generator
// (trace-replay or statistical model) lives outside this module; Generator
// is the contract the environment depends on, and Poisson is a
// self-contained stand-in built on the teacher's Starter abstractions.
package workload

import (
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/vmplacement/environment"
)

// Tier enumerates the VM resource tiers a request may ask for.
type Tier int

const (
	Micro Tier = iota
	Small
	Medium
	Large
	XLarge
	NumTiers
)

// TierSpec describes the fixed resource footprint of a Tier.
type TierSpec struct {
	Cores         int
	RAMGiB        int
	StorageGiB    int
	BandwidthMbps int
}

// DefaultTierSpecs is the fixed per-tier resource footprint table used
// throughout the placement environment unless a caller overrides it.
var DefaultTierSpecs = [NumTiers]TierSpec{
	Micro:  {Cores: 1, RAMGiB: 1, StorageGiB: 10, BandwidthMbps: 50},
	Small:  {Cores: 2, RAMGiB: 4, StorageGiB: 20, BandwidthMbps: 100},
	Medium: {Cores: 4, RAMGiB: 16, StorageGiB: 80, BandwidthMbps: 250},
	Large:  {Cores: 8, RAMGiB: 32, StorageGiB: 160, BandwidthMbps: 500},
	XLarge: {Cores: 16, RAMGiB: 64, StorageGiB: 320, BandwidthMbps: 1000},
}

// Request is one VM placement request arriving at the environment.
type Request struct {
	Tier       Tier
	Latitude   float64
	Longitude  float64
	ArrivalHour int
}

// Generator produces the sequence of VM requests the environment places.
type Generator interface {
	// Next returns the next request in the arrival sequence, given the
	// current simulation hour (so implementations can vary arrival
	// patterns, e.g. diurnal load, over the horizon).
	Next(hour int) Request
}

// Poisson is a Generator that draws VM tiers from a fixed categorical
// distribution and user locations from a uniform distribution over a
// bounding box, matching the i.i.d. arrival model described for the
// placement MDP. It is built directly on the environment package's
// Starter abstractions: CategoricalStarter for tier selection and
// UniformStarter for location sampling.
type Poisson struct {
	tierStarter environment.CategoricalStarter
	locStarter  environment.UniformStarter
}

// NewPoisson returns a new Poisson generator. latBounds/lonBounds describe
// the bounding box user locations are drawn from uniformly.
func NewPoisson(latBounds, lonBounds r1.Interval, seed uint64) Poisson {
	return Poisson{
		tierStarter: environment.NewCategoricalStarter([]int{int(NumTiers)}, seed),
		locStarter:  environment.NewUniformStarter([]r1.Interval{latBounds, lonBounds}, seed+1),
	}
}

// Next implements Generator.
func (p Poisson) Next(hour int) Request {
	tierVec := p.tierStarter.Start()
	locVec := p.locStarter.Start()

	return Request{
		Tier:        Tier(int(tierVec.AtVec(0))),
		Latitude:    locVec.AtVec(0),
		Longitude:   locVec.AtVec(1),
		ArrivalHour: hour,
	}
}
