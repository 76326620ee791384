// Package simulator defines the CloudSim-style bridge interface consumed
// by the placement environment. The concrete simulator (VM execution,
// PUE-adjusted energy reporting, per-host utilization) lives outside this
// module; Simulator is the contract the environment depends on, and Mock
// is a deterministic in-process stand-in used by tests and by callers that
// have not wired a real simulator backend.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
)

// Request describes the resource demand of one VM placement attempt, as
// seen by the simulator (independent of the placement package's richer
// Request type, to keep this interface free of a dependency on it).
type Request struct {
	Tier          int
	Cores         int
	RAMGiB        int
	StorageGiB    int
	BandwidthMbps int
}

// SubmitResult is returned by SubmitVM.
type SubmitResult struct {
	Accepted  bool
	EnergyKWh float64
}

// Results are the end-of-episode aggregates returned by GetResults.
type Results struct {
	TotalITEnergyKWh       float64
	TotalFacilityEnergyKWh float64
	AveragePUE             float64
	SuccessCount           int
	UtilizationByDC        map[int]float64
}

// Simulator is the external collaborator that actually executes VM
// placements and reports their facility energy. Every method may block on
// a synchronous request/response channel to an out-of-process simulator;
// each takes a ctx so a caller can bound the call with a deadline. The
// placement Env passes context.Background(), so its calls carry no deadline.
type Simulator interface {
	// Initialize readies the simulator for a new episode.
	Initialize(ctx context.Context) error

	// CreateDatacenter registers a datacenter; idempotent per episode.
	CreateDatacenter(ctx context.Context, id int, serverCountPerType map[string]int, pue float64) error

	// SubmitVM attempts to place req at targetDatacenterID, returning
	// whether it was accepted and the marginal facility energy
	// attributed to it.
	SubmitVM(ctx context.Context, req Request, targetDatacenterID int) (SubmitResult, error)

	// RunSimulation advances simulator time.
	RunSimulation(ctx context.Context) error

	// GetResults retrieves end-of-episode aggregates.
	GetResults(ctx context.Context) (Results, error)

	// Close tears down the simulator connection.
	Close() error
}

// ErrDisconnected is returned by Mock (and expected of real
// implementations) when the simulator connection has been severed,
// surfacing as a fatal-to-the-episode error per the error handling design.
var ErrDisconnected = fmt.Errorf("simulator: disconnected")

// Mock is a deterministic, in-process Simulator used for tests and local
// runs that have no CloudSim bridge wired up. It models facility energy as
// a simple linear function of VM tier, scaled by the target datacenter's
// PUE, with a small amount of reproducible per-submission noise.
type Mock struct {
	rng         *rand.Rand
	pue         map[int]float64
	serverCount map[int]map[string]int
	capacity    map[int]int
	connected   bool

	totalIT       float64
	totalFacility float64
	accepted      int
	utilization   map[int]float64
	occupied      map[int]int
}

// NewMock returns a new Mock simulator seeded for reproducibility.
func NewMock(seed int64) *Mock {
	return &Mock{
		rng:         rand.New(rand.NewSource(seed)),
		pue:         make(map[int]float64),
		serverCount: make(map[int]map[string]int),
		capacity:    make(map[int]int),
		connected:   true,
		utilization: make(map[int]float64),
		occupied:    make(map[int]int),
	}
}

func (m *Mock) Initialize(ctx context.Context) error {
	if !m.connected {
		return ErrDisconnected
	}
	m.totalIT, m.totalFacility = 0, 0
	m.accepted = 0
	m.utilization = make(map[int]float64)
	m.occupied = make(map[int]int)
	return nil
}

func (m *Mock) CreateDatacenter(ctx context.Context, id int,
	serverCountPerType map[string]int, pue float64) error {
	if !m.connected {
		return ErrDisconnected
	}
	m.pue[id] = pue
	m.serverCount[id] = serverCountPerType
	total := 0
	for _, n := range serverCountPerType {
		total += n
	}
	m.capacity[id] = total
	return nil
}

func (m *Mock) SubmitVM(ctx context.Context, req Request,
	targetDatacenterID int) (SubmitResult, error) {
	if !m.connected {
		return SubmitResult{}, ErrDisconnected
	}

	if limit, ok := m.capacity[targetDatacenterID]; ok && m.occupied[targetDatacenterID] >= limit {
		return SubmitResult{Accepted: false}, nil
	}

	pue, ok := m.pue[targetDatacenterID]
	if !ok {
		pue = 1.0
	}

	// IT energy scales with requested resources; facility energy
	// is the PUE-adjusted figure reported to the caller.
	itEnergy := 0.01*float64(req.Cores) + 0.002*float64(req.RAMGiB) +
		0.0005*float64(req.StorageGiB) + 0.0002*float64(req.BandwidthMbps)
	itEnergy *= 1 + 0.05*(m.rng.Float64()-0.5)
	facilityEnergy := itEnergy * pue

	m.totalIT += itEnergy
	m.totalFacility += facilityEnergy
	m.accepted++
	m.utilization[targetDatacenterID] += itEnergy
	m.occupied[targetDatacenterID]++

	return SubmitResult{Accepted: true, EnergyKWh: facilityEnergy}, nil
}

func (m *Mock) RunSimulation(ctx context.Context) error {
	if !m.connected {
		return ErrDisconnected
	}
	return nil
}

func (m *Mock) GetResults(ctx context.Context) (Results, error) {
	if !m.connected {
		return Results{}, ErrDisconnected
	}

	avgPUE := 1.0
	if len(m.pue) > 0 {
		sum := 0.0
		for _, p := range m.pue {
			sum += p
		}
		avgPUE = sum / float64(len(m.pue))
	}

	util := make(map[int]float64, len(m.utilization))
	for k, v := range m.utilization {
		util[k] = v
	}

	return Results{
		TotalITEnergyKWh:       m.totalIT,
		TotalFacilityEnergyKWh: m.totalFacility,
		AveragePUE:             avgPUE,
		SuccessCount:           m.accepted,
		UtilizationByDC:        util,
	}, nil
}

func (m *Mock) Close() error {
	m.connected = false
	return nil
}

// Disconnect forcibly severs the mock connection, for exercising the
// simulator-disconnection failure path in tests.
func (m *Mock) Disconnect() {
	m.connected = false
}

// Reconnect restores a disconnected mock.
func (m *Mock) Reconnect() {
	m.connected = true
}
