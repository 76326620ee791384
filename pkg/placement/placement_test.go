package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/vmplacement/internal/carbon"
	"github.com/samuelfneumann/vmplacement/internal/simulator"
	"github.com/samuelfneumann/vmplacement/internal/workload"
)

func newTestEnv(t *testing.T, capacity int) *Env {
	t.Helper()

	dcs := []Datacenter{
		{ID: 0, Latitude: 45, Longitude: -93, PUE: 1.2, TotalCapacity: capacity,
			ServersPerType: map[string]int{"standard": 10}},
		{ID: 1, Latitude: 47, Longitude: -122, PUE: 1.1, TotalCapacity: capacity,
			ServersPerType: map[string]int{"standard": 10}},
	}

	table := newMockCarbonTable(t)
	gen := workload.NewPoisson(r1.Interval{Min: 30, Max: 50}, r1.Interval{Min: -120, Max: -90}, 7)

	env, err := New(Config{
		Datacenters:     dcs,
		SimulationHours: 2,
		VMsPerHour:      3,
		EnergyNorm:      10,
		CarbonNorm:      10,
		LatencyNorm:     1000,
		GreenBonus:      0.05,
		Simulator:       simulator.NewMock(1),
		Carbon:          table,
		Workload:        gen,
	})
	require.NoError(t, err)
	return env
}

type mockCarbonTable struct{}

func (mockCarbonTable) Row(dc, hour int) (carbon.Row, bool) {
	intensity := 200.0
	if dc == 1 {
		intensity = 400.0
	}
	return carbon.Row{DatacenterID: dc, Hour: hour, CarbonIntensity: intensity, RenewableFrac: 0.3}, true
}
func (mockCarbonTable) Datacenters() []int { return []int{0, 1} }

func newMockCarbonTable(t *testing.T) carbon.Table {
	t.Helper()
	return mockCarbonTable{}
}

func TestResetReturnsFirstTimeStep(t *testing.T) {
	env := newTestEnv(t, 5)
	ts := env.Reset()
	assert.True(t, ts.First())
	assert.Equal(t, Ready, env.State())
}

func TestStepAcceptsWithinCapacity(t *testing.T) {
	env := newTestEnv(t, 5)
	env.Reset()

	action := mat.NewVecDense(1, []float64{0})
	ts, done := env.Step(action)
	assert.False(t, done)
	assert.True(t, ts.Mid())
	assert.Equal(t, 4, env.remaining[0])
}

func TestStepFallsBackWhenTargetFull(t *testing.T) {
	env := newTestEnv(t, 1)
	env.Reset()
	env.remaining[0] = 0

	action := mat.NewVecDense(1, []float64{0})
	env.Step(action)
	assert.Equal(t, 0, env.remaining[1], "with dc0 full, placement should redirect to dc1")
}

func TestEpisodeEndsAtStepLimit(t *testing.T) {
	env := newTestEnv(t, 100)
	env.Reset()

	total := 2 * 3 // SimulationHours * VMsPerHour
	var done bool
	for i := 0; i < total; i++ {
		action := mat.NewVecDense(1, []float64{0})
		_, d := env.Step(action)
		done = d
	}
	assert.True(t, done)
	assert.Equal(t, Done, env.State())
}

func TestRewardVectorWithinBounds(t *testing.T) {
	env := newTestEnv(t, 100)
	env.Reset()
	action := mat.NewVecDense(1, []float64{0})
	ts, _ := env.Step(action)
	for _, r := range ts.Rewards {
		assert.GreaterOrEqual(t, r, -10.0)
		assert.LessOrEqual(t, r, 10.0)
	}
}

func TestStepInfoReportsFallback(t *testing.T) {
	env := newTestEnv(t, 1)
	env.Reset()
	env.remaining[0] = 0

	action := mat.NewVecDense(1, []float64{0})
	ts, _ := env.Step(action)

	info, ok := ts.Info.(StepInfo)
	require.True(t, ok, "Step must attach a StepInfo")
	assert.True(t, info.Fallback)
	assert.Equal(t, 1, info.Datacenter)
}

func TestStepInfoNoFallbackWhenTargetHasCapacity(t *testing.T) {
	env := newTestEnv(t, 5)
	env.Reset()

	action := mat.NewVecDense(1, []float64{0})
	ts, _ := env.Step(action)

	info, ok := ts.Info.(StepInfo)
	require.True(t, ok)
	assert.False(t, info.Fallback)
	assert.Equal(t, 0, info.Datacenter)
}

func TestEpisodeCostsAccumulate(t *testing.T) {
	env := newTestEnv(t, 100)
	env.Reset()

	energyBefore, carbonBefore, _ := env.EpisodeCosts()
	assert.Zero(t, energyBefore)
	assert.Zero(t, carbonBefore)

	action := mat.NewVecDense(1, []float64{0})
	env.Step(action)
	env.Step(action)

	energyAfter, carbonAfter, meanLatency := env.EpisodeCosts()
	assert.Greater(t, energyAfter, 0.0)
	assert.Greater(t, carbonAfter, 0.0)
	assert.GreaterOrEqual(t, meanLatency, 0.0)
}

func TestObservationIncludesForecastAndRewardWindow(t *testing.T) {
	env := newTestEnv(t, 100)
	ts := env.Reset()
	assert.Equal(t, env.featureLen(), ts.Observation.Len())

	action := mat.NewVecDense(1, []float64{0})
	next, _ := env.Step(action)
	assert.Equal(t, env.featureLen(), next.Observation.Len(),
		"observation length must stay constant across the episode")
}
