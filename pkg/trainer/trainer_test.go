package trainer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/vmplacement/internal/carbon"
	"github.com/samuelfneumann/vmplacement/internal/simulator"
	"github.com/samuelfneumann/vmplacement/internal/workload"
	"github.com/samuelfneumann/vmplacement/pkg/config"
	"github.com/samuelfneumann/vmplacement/pkg/placement"

	"go.uber.org/zap"
)

var testDatacenters = []placement.Datacenter{
	{ID: 0, Latitude: 45, Longitude: -93, PUE: 1.2, TotalCapacity: 50,
		ServersPerType: map[string]int{"standard": 50}},
	{ID: 1, Latitude: 47, Longitude: -122, PUE: 1.1, TotalCapacity: 50,
		ServersPerType: map[string]int{"standard": 50}},
}

func newTestEnvFactory(seed int64, hours, vmsPerHour int) EnvFactory {
	dcIDs := []int{0, 1}
	table := carbon.NewSynthetic(dcIDs, 24, seed)

	return func() (*placement.Env, error) {
		gen := workload.NewPoisson(
			r1.Interval{Min: 30, Max: 50}, r1.Interval{Min: -120, Max: -90}, uint64(seed))
		return placement.New(placement.Config{
			Datacenters:     testDatacenters,
			SimulationHours: hours,
			VMsPerHour:      vmsPerHour,
			EnergyNorm:      10,
			CarbonNorm:      10,
			LatencyNorm:     1000,
			GreenBonus:      0.05,
			Simulator:       simulator.NewMock(seed),
			Carbon:          table,
			Workload:        gen,
		})
	}
}

func TestRunProducesFrontAndResults(t *testing.T) {
	dir := t.TempDir()

	cfg := config.New()
	cfg.SimulationHours = 1
	cfg.VMsPerHour = 4
	cfg.Stage1PolicyCount = 2
	cfg.Stage1Timesteps = 8
	cfg.Stage2SeedCount = 0
	cfg.RolloutLength = 4
	cfg.HiddenSizes = []int{4}
	cfg.Seed = 5
	cfg.OutputDir = dir
	require.NoError(t, cfg.Validate())

	newEnv := newTestEnvFactory(cfg.Seed, cfg.SimulationHours, cfg.VMsPerHour)
	probe, err := newEnv()
	require.NoError(t, err)
	obsDim := probe.ObservationSpec().Shape.Len()

	tr := New(cfg, newEnv, obsDim, len(testDatacenters), zap.NewNop())
	require.NoError(t, tr.Run(context.Background()))

	_, err = os.Stat(filepath.Join(dir, "pareto_front.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "final_results.json"))
	require.NoError(t, err)
	require.Greater(t, tr.front.Len(), 0)
}

func TestRunHonorsCancellation(t *testing.T) {
	dir := t.TempDir()

	cfg := config.New()
	cfg.SimulationHours = 1
	cfg.VMsPerHour = 4
	cfg.Stage1PolicyCount = 1
	cfg.Stage1Timesteps = 1_000_000
	cfg.Stage2SeedCount = 0
	cfg.RolloutLength = 4
	cfg.HiddenSizes = []int{4}
	cfg.Seed = 5
	cfg.OutputDir = dir
	require.NoError(t, cfg.Validate())

	newEnv := newTestEnvFactory(cfg.Seed, cfg.SimulationHours, cfg.VMsPerHour)
	probe, err := newEnv()
	require.NoError(t, err)
	obsDim := probe.ObservationSpec().Shape.Len()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(cfg, newEnv, obsDim, len(testDatacenters), zap.NewNop())
	err = tr.Run(ctx)
	require.ErrorIs(t, err, ErrCanceled)
}
