// Command trainer runs the two-stage Pareto-front construction process
// for VM placement: Stage 1 trains a diversified set of preference-
// conditioned policies, Stage 2 clones the front's sparsest entries and
// fine-tunes each on a single objective.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/vmplacement/internal/carbon"
	"github.com/samuelfneumann/vmplacement/internal/simulator"
	"github.com/samuelfneumann/vmplacement/internal/workload"
	"github.com/samuelfneumann/vmplacement/pkg/config"
	"github.com/samuelfneumann/vmplacement/pkg/placement"
	"github.com/samuelfneumann/vmplacement/pkg/trainer"
)

// defaultDatacenters is the fixed topology used when no external
// datacenter/carbon data source is configured: five regions spread across
// latitude bands with PUE from 1.1 to 1.4 and capacity from 100 to 200, enough to exercise the
// fallback-redirect and latency-tradeoff logic without any external input.
var defaultDatacenters = []placement.Datacenter{
	{ID: 0, Latitude: 47.6, Longitude: -122.3, PUE: 1.2, TotalCapacity: 200, ServersPerType: map[string]int{"standard": 200}},
	{ID: 1, Latitude: 50.1, Longitude: 8.7, PUE: 1.3, TotalCapacity: 200, ServersPerType: map[string]int{"standard": 200}},
	{ID: 2, Latitude: 1.35, Longitude: 103.8, PUE: 1.4, TotalCapacity: 150, ServersPerType: map[string]int{"standard": 150}},
	{ID: 3, Latitude: -33.9, Longitude: 151.2, PUE: 1.3, TotalCapacity: 150, ServersPerType: map[string]int{"standard": 150}},
	{ID: 4, Latitude: 59.3, Longitude: 18.1, PUE: 1.1, TotalCapacity: 100, ServersPerType: map[string]int{"standard": 100}},
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a Run error to the reserved exit codes: 0 success
// (unreachable here, Execute only returns non-nil on error), 1 general
// failure, 2 context cancellation.
func exitCodeFor(err error) int {
	if errors.Is(err, trainer.ErrCanceled) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	cfg := config.New()
	var configPath string

	cmd := &cobra.Command{
		Use:   "trainer",
		Short: "Train a Pareto front of VM placement policies over energy, carbon, and latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	var flags *pflag.FlagSet = cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a JSON config file overriding the defaults below")
	flags.IntVar(&cfg.SimulationHours, "hours", cfg.SimulationHours, "simulated hours per episode")
	flags.IntVar(&cfg.VMsPerHour, "vms-per-hour", cfg.VMsPerHour, "VM arrivals per simulated hour")
	flags.IntVar(&cfg.Stage1PolicyCount, "stage1-policies", cfg.Stage1PolicyCount, "number of diversified Stage 1 policies")
	flags.IntVar(&cfg.Stage1Timesteps, "stage1-timesteps", cfg.Stage1Timesteps, "training timesteps per Stage 1 policy")
	flags.IntVar(&cfg.Stage2SeedCount, "stage2-seeds", cfg.Stage2SeedCount, "number of sparse front entries to extend in Stage 2")
	flags.IntVar(&cfg.Stage2Timesteps, "stage2-timesteps", cfg.Stage2Timesteps, "fine-tuning timesteps per Stage 2 clone")
	flags.Float64Var(&cfg.MaxCloneKL, "max-clone-kl", cfg.MaxCloneKL, "KL-drift warning threshold for Stage 2 clones")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flags.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "directory to write checkpoints and results to")
	flags.StringVar(&cfg.CarbonDataPath, "carbon-data", cfg.CarbonDataPath, "path to a carbon intensity CSV (datacenter_id,hour,carbon_intensity,renewable_frac); synthetic data is used if empty")

	return cmd
}

// run wires the config into an EnvFactory and drives the Trainer to
// completion, propagating ctx cancellation from SIGINT (os.Interrupt).
func run(cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("trainer: building logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dcIDs := make([]int, len(defaultDatacenters))
	for i, dc := range defaultDatacenters {
		dcIDs[i] = dc.ID
	}

	var carbonTable carbon.Table
	if cfg.CarbonDataPath != "" {
		carbonTable, err = carbon.LoadCSV(cfg.CarbonDataPath)
		if err != nil {
			return err
		}
	} else {
		carbonTable = carbon.NewSynthetic(dcIDs, 24, cfg.Seed)
	}

	newEnv := func() (*placement.Env, error) {
		latBounds := r1.Interval{Min: -60, Max: 65}
		lonBounds := r1.Interval{Min: -180, Max: 180}
		gen := workload.NewPoisson(latBounds, lonBounds, uint64(cfg.Seed))

		return placement.New(placement.Config{
			Datacenters:     defaultDatacenters,
			SimulationHours: cfg.SimulationHours,
			VMsPerHour:      cfg.VMsPerHour,
			EnergyNorm:      cfg.EnergyNorm,
			CarbonNorm:      cfg.CarbonNorm,
			LatencyNorm:     cfg.LatencyNorm,
			GreenBonus:      cfg.GreenBonus,
			Simulator:       simulator.NewMock(cfg.Seed),
			Carbon:          carbonTable,
			Workload:        gen,
		})
	}

	probe, err := newEnv()
	if err != nil {
		return err
	}
	obsDim := probe.ObservationSpec().Shape.Len()
	numActions := len(defaultDatacenters)

	t := trainer.New(cfg, newEnv, obsDim, numActions, logger)
	return t.Run(ctx)
}
