// Package placement implements the VM placement MDP: the environment a
// preference-conditioned policy acts in, balancing energy, carbon, and
// latency when choosing which datacenter should host each incoming VM
// request. It implements the environment.Environment contract the rest of
// the learning stack (buffer/gae, network, pkg/marl) is built against, the
// way the teacher's gridworld and classic-control environments did before
// this module's transformation.
package placement

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/vmplacement/environment"
	"github.com/samuelfneumann/vmplacement/internal/carbon"
	"github.com/samuelfneumann/vmplacement/internal/simulator"
	"github.com/samuelfneumann/vmplacement/internal/workload"
	"github.com/samuelfneumann/vmplacement/timestep"
)

// State is the lifecycle of an Env instance.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// earthRadiusKm is used by the geodesic tie-break distance calculation.
const earthRadiusKm = 6371.0

// forecastHorizonHours is the length of the short-horizon renewable-share
// forecast published per datacenter in the observation vector.
const forecastHorizonHours = 3

// rewardWindowSize is the number of most recent per-objective reward
// vectors carried in the observation, so the policy can see recent
// trend/volatility in its own reward stream, not just the instantaneous
// datacenter state.
const rewardWindowSize = 5

// defaultGreenThreshold is the renewable-share fraction at or above which
// a datacenter is tagged Green, used when Config.GreenThreshold is unset.
const defaultGreenThreshold = 0.5

// Datacenter is one of the D fixed placement targets. ID, Latitude,
// Longitude, PUE, TotalCapacity and ServersPerType are the fixed
// configuration of a placement target; Remaining, CarbonIntensity,
// RenewableShare, ForecastRenewable and Green are runtime state Env
// refreshes every Reset/Step from its capacity tracker and the carbon
// table and republishes in the observation vector. The runtime fields are
// meaningless on a Datacenter supplied to Config: Env keeps its own
// working copy rather than mutating the caller's slice.
type Datacenter struct {
	ID             int
	Latitude       float64
	Longitude      float64
	PUE            float64
	TotalCapacity  int // max simultaneously-hosted VMs
	ServersPerType map[string]int

	Remaining         int
	CarbonIntensity   float64
	RenewableShare    float64
	ForecastRenewable []float64
	Green             bool
}

// Config bundles the fixed parameters of a placement Env.
type Config struct {
	Datacenters     []Datacenter
	SimulationHours int
	VMsPerHour      int

	EnergyNorm  float64
	CarbonNorm  float64
	LatencyNorm float64
	GreenBonus  float64

	// GreenThreshold is the renewable-share fraction at or above which a
	// datacenter is tagged Green for the current hour. Defaults to
	// defaultGreenThreshold if zero.
	GreenThreshold float64

	Simulator simulator.Simulator
	Carbon    carbon.Table
	Workload  workload.Generator
}

// haversineKm returns the great-circle distance in kilometers between two
// lat/lon points, used to break ties among equally-carbon-efficient
// fallback datacenters and to penalize cross-region placement latency.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Env implements environment.Environment for the VM placement MDP. Each
// episode places SimulationHours*VMsPerHour VMs one at a time; the agent
// chooses a target datacenter for each incoming request, and Step reports
// the (energy, carbon, latency) reward vector that results, falling back
// to a deterministic redirect when the chosen datacenter lacks capacity.
type Env struct {
	cfg   Config
	state State

	hour         int
	placedInHour int
	stepNum      int
	ender        environment.StepLimit

	// datacenters is Env's own working copy of cfg.Datacenters, so its
	// per-step runtime fields (Remaining, CarbonIntensity,
	// RenewableShare, ForecastRenewable, Green) can be refreshed in place
	// without mutating the caller's slice.
	datacenters []Datacenter
	remaining   []int // remaining capacity per datacenter, indexed like datacenters

	current workload.Request
	lastObs mat.Vector

	// pendingReward is set by Step and returned by GetReward, separating
	// the Task.GetReward contract from the bookkeeping Step performs.
	pendingReward [timestep.NumObjectives]float64

	// rewardHistory holds up to the last rewardWindowSize reward vectors,
	// oldest first, published as part of the observation.
	rewardHistory [][timestep.NumObjectives]float64

	// Unnormalized physical-unit sums accumulated since the last Reset,
	// backing EpisodeCosts.
	episodeEnergyKWh float64
	episodeCarbonG   float64
	episodeLatencyKm float64
	episodeSteps     int
}

// New constructs a placement Env from cfg. The environment starts
// Uninitialized; call Reset before stepping.
func New(cfg Config) (*Env, error) {
	if len(cfg.Datacenters) == 0 {
		return nil, fmt.Errorf("placement: at least one datacenter is required")
	}
	if cfg.Simulator == nil {
		return nil, fmt.Errorf("placement: a Simulator is required")
	}
	if cfg.Carbon == nil {
		return nil, fmt.Errorf("placement: a carbon Table is required")
	}
	if cfg.Workload == nil {
		return nil, fmt.Errorf("placement: a workload Generator is required")
	}
	if cfg.EnergyNorm <= 0 || cfg.CarbonNorm <= 0 || cfg.LatencyNorm <= 0 {
		return nil, fmt.Errorf("placement: normalization constants must be positive")
	}

	if cfg.GreenThreshold <= 0 {
		cfg.GreenThreshold = defaultGreenThreshold
	}

	datacenters := make([]Datacenter, len(cfg.Datacenters))
	copy(datacenters, cfg.Datacenters)

	totalSteps := cfg.SimulationHours * cfg.VMsPerHour
	return &Env{
		cfg:         cfg,
		datacenters: datacenters,
		state:       Uninitialized,
		ender:       environment.NewStepLimit(totalSteps),
	}, nil
}

// numDatacenters returns D.
func (e *Env) numDatacenters() int { return len(e.datacenters) }

// perDatacenterFeatures is the number of observation features published for
// each datacenter beyond its forecast and reward-window blocks: free
// capacity fraction, utilization, carbon intensity, renewable share, PUE,
// distance to the requester, and the green tag.
const perDatacenterFeatures = 7

// featureLen returns the length of the published observation vector:
// [tier, lat, lon, hour-of-day] followed by, for each datacenter, its
// perDatacenterFeatures block and its forecastHorizonHours renewable-share
// forecast, followed by the flattened rewardWindowSize-deep window of
// recent per-objective rewards, all normalized to roughly [0, 1].
func (e *Env) featureLen() int {
	perDC := perDatacenterFeatures + forecastHorizonHours
	return 4 + perDC*e.numDatacenters() + rewardWindowSize*timestep.NumObjectives
}

// refreshDatacenterState refreshes the runtime fields of e.datacenters
// (Remaining, CarbonIntensity, RenewableShare, ForecastRenewable, Green)
// from e.remaining and the carbon table, for the current hour. It is
// called once at Reset and again after every hour boundary Step crosses.
func (e *Env) refreshDatacenterState() {
	for i := range e.datacenters {
		dc := &e.datacenters[i]
		dc.Remaining = e.remaining[i]

		row, _ := e.cfg.Carbon.Row(dc.ID, e.hour)
		dc.CarbonIntensity = row.CarbonIntensity
		dc.RenewableShare = row.RenewableFrac
		dc.Green = row.RenewableFrac >= e.cfg.GreenThreshold

		if cap(dc.ForecastRenewable) < forecastHorizonHours {
			dc.ForecastRenewable = make([]float64, forecastHorizonHours)
		}
		dc.ForecastRenewable = dc.ForecastRenewable[:forecastHorizonHours]
		for h := 0; h < forecastHorizonHours; h++ {
			fr, _ := e.cfg.Carbon.Row(dc.ID, e.hour+h+1)
			dc.ForecastRenewable[h] = fr.RenewableFrac
		}
	}
}

// Reset implements environment.Environment, starting a fresh episode.
func (e *Env) Reset() timestep.TimeStep {
	if err := e.cfg.Simulator.Initialize(context.Background()); err != nil {
		panic(fmt.Sprintf("placement: simulator initialize failed: %v", err))
	}
	for _, dc := range e.datacenters {
		if err := e.cfg.Simulator.CreateDatacenter(context.Background(), dc.ID, dc.ServersPerType, dc.PUE); err != nil {
			panic(fmt.Sprintf("placement: simulator create datacenter failed: %v", err))
		}
	}

	e.remaining = make([]int, e.numDatacenters())
	for i, dc := range e.datacenters {
		e.remaining[i] = dc.TotalCapacity
	}

	e.hour = 0
	e.placedInHour = 0
	e.stepNum = 0
	e.state = Ready

	e.rewardHistory = nil
	e.episodeEnergyKWh = 0
	e.episodeCarbonG = 0
	e.episodeLatencyKm = 0
	e.episodeSteps = 0

	e.refreshDatacenterState()
	e.current = e.cfg.Workload.Next(e.hour)
	obs := e.buildObservation()
	e.lastObs = obs

	return timestep.New(timestep.First, 0, [timestep.NumObjectives]float64{}, 1.0, obs)
}

// Step implements environment.Environment: action selects the target
// datacenter index for the current pending VM request.
func (e *Env) Step(action mat.Vector) (timestep.TimeStep, bool) {
	if e.state != Ready && e.state != Running {
		panic("placement: Step called on an environment that is not Ready or Running")
	}
	e.state = Running

	target := int(math.Round(action.AtVec(0)))
	if target < 0 || target >= e.numDatacenters() {
		panic(fmt.Sprintf("placement: action %d out of range [0, %d)", target, e.numDatacenters()))
	}

	actual := target
	if e.remaining[target] <= 0 {
		actual = e.fallback(target)
	}

	fellBack := actual != target

	spec := workload.DefaultTierSpecs[e.current.Tier]
	result, err := e.cfg.Simulator.SubmitVM(context.Background(), simulator.Request{
		Tier:          int(e.current.Tier),
		Cores:         spec.Cores,
		RAMGiB:        spec.RAMGiB,
		StorageGiB:    spec.StorageGiB,
		BandwidthMbps: spec.BandwidthMbps,
	}, e.datacenters[actual].ID)
	if err != nil {
		panic(fmt.Sprintf("placement: simulator submit failed: %v", err))
	}
	if result.Accepted {
		e.remaining[actual]--
	}

	reward, costs := e.reward(actual, result)
	e.pendingReward = reward

	e.episodeEnergyKWh += costs.energyKWh
	e.episodeCarbonG += costs.carbonG
	e.episodeLatencyKm += costs.latencyKm
	e.episodeSteps++

	e.rewardHistory = append(e.rewardHistory, reward)
	if len(e.rewardHistory) > rewardWindowSize {
		e.rewardHistory = e.rewardHistory[len(e.rewardHistory)-rewardWindowSize:]
	}

	e.stepNum++
	e.placedInHour++
	if e.placedInHour >= e.cfg.VMsPerHour {
		e.placedInHour = 0
		e.hour++
	}
	e.refreshDatacenterState()

	e.current = e.cfg.Workload.Next(e.hour)
	obs := e.buildObservation()
	e.lastObs = obs

	ts := timestep.New(timestep.Mid, e.stepNum, e.pendingReward, 1.0, obs)
	ts.Info = StepInfo{Fallback: fellBack, Datacenter: e.datacenters[actual].ID}
	done := e.ender.End(&ts)
	if done {
		e.state = Done
	}
	return ts, done
}

// StepInfo is the diagnostic side-channel Step attaches to every TimeStep:
// whether the agent's chosen datacenter lacked capacity and the request
// was redirected, and the ID of the datacenter that actually received it.
type StepInfo struct {
	Fallback   bool
	Datacenter int
}

// fallback implements the deterministic over-capacity redirect: among
// datacenters with free capacity, pick the one with lowest current carbon
// intensity, breaking ties by geodesic distance to the requester and then
// by datacenter index.
func (e *Env) fallback(preferred int) int {
	best := -1
	var bestCarbon, bestDist float64

	for i, dc := range e.datacenters {
		if e.remaining[i] <= 0 {
			continue
		}
		row, _ := e.cfg.Carbon.Row(dc.ID, e.hour)
		dist := haversineKm(e.current.Latitude, e.current.Longitude, dc.Latitude, dc.Longitude)

		if best == -1 ||
			row.CarbonIntensity < bestCarbon-tolerance ||
			(math.Abs(row.CarbonIntensity-bestCarbon) <= tolerance && dist < bestDist) {
			best = i
			bestCarbon = row.CarbonIntensity
			bestDist = dist
		}
	}

	if best == -1 {
		// No datacenter has capacity; the request is dropped onto the
		// originally preferred target, which will simply fail to be
		// accepted by the simulator.
		return preferred
	}
	return best
}

const tolerance = 1e-9

// stepCosts holds the raw, unnormalized physical-unit costs of a single
// placement, as distinct from the normalized reward vector: Insert onto a
// pareto.Front operates on these physical sums, never on the sign-flipped,
// clipped training reward.
type stepCosts struct {
	energyKWh float64
	carbonG   float64
	latencyKm float64
}

// reward computes the (energy, carbon, latency) reward vector for a
// completed placement at datacenter index dc, alongside the raw physical
// costs it was derived from.
func (e *Env) reward(dc int, result simulator.SubmitResult) ([timestep.NumObjectives]float64, stepCosts) {
	datacenter := e.datacenters[dc]
	row, _ := e.cfg.Carbon.Row(datacenter.ID, e.hour)

	carbonG := result.EnergyKWh * row.CarbonIntensity
	latencyKm := haversineKm(e.current.Latitude, e.current.Longitude,
		datacenter.Latitude, datacenter.Longitude)

	costs := stepCosts{
		energyKWh: result.EnergyKWh,
		carbonG:   carbonG,
		latencyKm: latencyKm,
	}

	energyCost := math.Min(math.Max(result.EnergyKWh/e.cfg.EnergyNorm, 0), 1)
	carbonCost := math.Min(math.Max(carbonG/e.cfg.CarbonNorm, 0), 1)
	latencyCost := math.Min(math.Max(latencyKm/e.cfg.LatencyNorm, 0), 1)

	greenBonus := e.cfg.GreenBonus * row.RenewableFrac

	reward := [timestep.NumObjectives]float64{
		-energyCost + greenBonus,
		-carbonCost + greenBonus,
		-latencyCost,
	}
	return reward, costs
}

// EpisodeCosts returns the raw physical-unit sums accumulated since the
// last Reset: total energy in kWh, total carbon emissions in gCO2, and
// mean per-placement latency in km. These are the values the trainer's
// evaluation (in both stages) records onto a pareto.Front, which operates on physical
// minimization targets rather than the normalized training reward.
func (e *Env) EpisodeCosts() (energyKWh, carbonG, meanLatencyKm float64) {
	if e.episodeSteps == 0 {
		return e.episodeEnergyKWh, e.episodeCarbonG, 0
	}
	return e.episodeEnergyKWh, e.episodeCarbonG, e.episodeLatencyKm / float64(e.episodeSteps)
}

// buildObservation assembles the published feature vector for the current
// pending request and datacenter states: the request's tier/lat/lon and
// the hour-of-day, followed by each datacenter's utilization, carbon,
// renewable, PUE, distance, green tag and forecast block, followed by the
// recent reward-vector window.
func (e *Env) buildObservation() mat.Vector {
	features := make([]float64, e.featureLen())
	features[0] = float64(e.current.Tier) / float64(workload.NumTiers)
	features[1] = (e.current.Latitude + 90) / 180
	features[2] = (e.current.Longitude + 180) / 360
	features[3] = float64(e.hour%24) / 24

	idx := 4
	for _, dc := range e.datacenters {
		freeFrac := 0.0
		if dc.TotalCapacity > 0 {
			freeFrac = float64(dc.Remaining) / float64(dc.TotalCapacity)
		}
		dist := haversineKm(e.current.Latitude, e.current.Longitude, dc.Latitude, dc.Longitude)

		features[idx] = freeFrac
		features[idx+1] = 1 - freeFrac
		features[idx+2] = dc.CarbonIntensity / e.cfg.CarbonNorm
		features[idx+3] = dc.RenewableShare
		features[idx+4] = dc.PUE / 2
		features[idx+5] = dist / e.cfg.LatencyNorm
		if dc.Green {
			features[idx+6] = 1
		}
		idx += perDatacenterFeatures

		for h := 0; h < forecastHorizonHours; h++ {
			if h < len(dc.ForecastRenewable) {
				features[idx] = dc.ForecastRenewable[h]
			}
			idx++
		}
	}

	// The reward window is left-padded with zeros until rewardWindowSize
	// steps have been taken, so featureLen is constant across an episode.
	pad := rewardWindowSize - len(e.rewardHistory)
	for i := 0; i < pad; i++ {
		idx += timestep.NumObjectives
	}
	for _, r := range e.rewardHistory {
		for o := 0; o < timestep.NumObjectives; o++ {
			features[idx] = r[o]
			idx++
		}
	}

	return mat.NewVecDense(len(features), features)
}

// GetReward implements environment.Task. The placement Env computes
// rewards eagerly inside Step, so GetReward simply returns the vector
// computed for the most recent transition.
func (e *Env) GetReward(t timestep.TimeStep, a mat.Vector) [timestep.NumObjectives]float64 {
	return e.pendingReward
}

// AtGoal implements environment.Task. The placement MDP has no designated
// goal state; episodes end purely by placement count (see StepLimit).
func (e *Env) AtGoal(state mat.Matrix) bool { return false }

// Start implements environment.Starter, returning the current observation.
// Exists to satisfy the Environment contract; Reset is the entry point
// callers should use to begin an episode.
func (e *Env) Start() mat.Vector {
	if e.lastObs == nil {
		return e.Reset().Observation
	}
	return e.lastObs
}

// RewardSpec implements environment.Environment.
func (e *Env) RewardSpec() environment.Spec {
	shape := mat.NewVecDense(timestep.NumObjectives, nil)
	lower := mat.NewVecDense(timestep.NumObjectives, []float64{-1, -1, -1})
	upper := mat.NewVecDense(timestep.NumObjectives, []float64{1, 1, 1})
	return environment.NewSpec(shape, environment.Reward, lower, upper, environment.Continuous)
}

// DiscountSpec implements environment.Environment.
func (e *Env) DiscountSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lower := mat.NewVecDense(1, []float64{0})
	upper := mat.NewVecDense(1, []float64{1})
	return environment.NewSpec(shape, environment.Discount, lower, upper, environment.Continuous)
}

// ObservationSpec implements environment.Environment.
func (e *Env) ObservationSpec() environment.Spec {
	n := e.featureLen()
	shape := mat.NewVecDense(n, nil)
	lower := mat.NewVecDense(n, nil)
	upper := make([]float64, n)
	for i := range upper {
		upper[i] = 1
	}
	return environment.NewSpec(shape, environment.Observation, lower, mat.NewVecDense(n, upper),
		environment.Continuous)
}

// ActionSpec implements environment.Environment: a single discrete
// datacenter index in [0, D).
func (e *Env) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lower := mat.NewVecDense(1, []float64{0})
	upper := mat.NewVecDense(1, []float64{float64(e.numDatacenters() - 1)})
	return environment.NewSpec(shape, environment.Action, lower, upper, environment.Discrete)
}

// State returns the Env's current lifecycle state.
func (e *Env) State() State { return e.state }
