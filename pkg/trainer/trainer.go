// Package trainer drives the two-stage Pareto-front construction process:
// Stage 1 trains a diversified set of preference-conditioned policies from
// scratch to seed the front, and Stage 2 clones the front's sparsest
// entries and fine-tunes each on a single objective to extend it. Progress
// reporting follows the teacher's utils/progressbar.ManualProgressBar, and
// structured logging follows the teacher's go.uber.org/zap usage.
package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/vmplacement/experiment/checkpointer"
	"github.com/samuelfneumann/vmplacement/network"
	"github.com/samuelfneumann/vmplacement/pkg/config"
	"github.com/samuelfneumann/vmplacement/pkg/marl"
	"github.com/samuelfneumann/vmplacement/pkg/pareto"
	"github.com/samuelfneumann/vmplacement/pkg/placement"
	"github.com/samuelfneumann/vmplacement/timestep"
	"github.com/samuelfneumann/vmplacement/utils/progressbar"
)

// ErrCanceled is returned by Run when ctx is canceled mid-run; callers
// (cmd/trainer) map it to the reserved cancellation exit code.
var ErrCanceled = fmt.Errorf("trainer: run canceled")

// EnvFactory builds a fresh placement.Env for one training run. A factory
// rather than a single shared Env is used so every policy (Stage 1
// candidate or Stage 2 clone) trains and is evaluated on a fresh Env with
// its own simulator and workload state.
type EnvFactory func() (*placement.Env, error)

// Trainer orchestrates the two-stage Pareto front construction.
type Trainer struct {
	cfg        *config.Config
	newEnv     EnvFactory
	logger     *zap.Logger
	front      *pareto.Front
	numActions int
	obsDim     int
}

// New builds a Trainer. obsDim and numActions describe the placement
// environments newEnv produces, since the learner's networks must be
// constructed before any environment is reset.
func New(cfg *config.Config, newEnv EnvFactory, obsDim, numActions int, logger *zap.Logger) *Trainer {
	return &Trainer{
		cfg:        cfg,
		newEnv:     newEnv,
		logger:     logger,
		front:      pareto.New(),
		numActions: numActions,
		obsDim:     obsDim,
	}
}

// Run executes Stage 1 then Stage 2, persisting the front and a final
// results summary to cfg.OutputDir.
func (t *Trainer) Run(ctx context.Context) error {
	if err := os.MkdirAll(t.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("trainer: creating output dir: %w", err)
	}

	stage1Dir := filepath.Join(t.cfg.OutputDir, "stage1")
	if err := os.MkdirAll(stage1Dir, 0o755); err != nil {
		return fmt.Errorf("trainer: creating stage1 dir: %w", err)
	}

	t.logger.Info("stage 1 starting", zap.Int("policies", t.cfg.Stage1PolicyCount))
	prefs := marl.DiversifiedPreferences(t.cfg.Stage1PolicyCount, uint64(t.cfg.Seed))

	seeds := make([]seedResult, 0, t.cfg.Stage1PolicyCount)

	for i, pref := range prefs {
		if err := ctx.Err(); err != nil {
			return ErrCanceled
		}

		policyDir := filepath.Join(stage1Dir, fmt.Sprintf("policy_%d", i))
		if err := os.MkdirAll(policyDir, 0o755); err != nil {
			return fmt.Errorf("trainer: creating %q: %w", policyDir, err)
		}

		t.logger.Info("stage 1 policy training", zap.Int("index", i), zap.Any("preference", pref))
		learner, objs, err := t.trainPolicy(ctx, nil, pref, t.cfg.Stage1Timesteps, policyDir)
		if err != nil {
			return fmt.Errorf("trainer: stage1 policy %d: %w", i, err)
		}

		checkpointID := fmt.Sprintf("stage1/policy_%d", i)
		t.insertFront(pareto.Entry{
			Preference:   [pareto.NumObjectives]float64(pref),
			Objectives:   objs,
			CheckpointID: checkpointID,
		})
		seeds = append(seeds, seedResult{learner: learner, pref: pref, objs: objs})
	}

	t.logger.Info("stage 1 complete", zap.Int("front_size", t.front.Len()))

	if t.cfg.Stage2SeedCount > 0 {
		stage2Dir := filepath.Join(t.cfg.OutputDir, "stage2")
		if err := os.MkdirAll(stage2Dir, 0o755); err != nil {
			return fmt.Errorf("trainer: creating stage2 dir: %w", err)
		}

		sparse := t.front.SelectSparse(t.cfg.Stage2SeedCount)
		t.logger.Info("stage 2 starting", zap.Int("seeds", len(sparse)))

		for s, entry := range sparse {
			seedLearner := findLearnerFor(seeds, entry)
			if seedLearner == nil {
				t.logger.Warn("stage 2 seed has no in-memory learner, skipping", zap.String("checkpoint", entry.CheckpointID))
				continue
			}

			for obj := 0; obj < timestep.NumObjectives; obj++ {
				if err := ctx.Err(); err != nil {
					return ErrCanceled
				}

				cloneDir := filepath.Join(stage2Dir, fmt.Sprintf("policy_%d_%d", s, obj))
				if err := os.MkdirAll(cloneDir, 0o755); err != nil {
					return fmt.Errorf("trainer: creating %q: %w", cloneDir, err)
				}

				pref := marl.UnitPreference(obj)
				t.logger.Info("stage 2 extension training",
					zap.Int("seed", s), zap.Int("objective", obj))

				_, objs, err := t.trainPolicy(ctx, seedLearner, pref, t.cfg.Stage2Timesteps, cloneDir)
				if err != nil {
					return fmt.Errorf("trainer: stage2 seed %d objective %d: %w", s, obj, err)
				}

				t.insertFront(pareto.Entry{
					Preference:   [pareto.NumObjectives]float64(pref),
					Objectives:   objs,
					CheckpointID: fmt.Sprintf("stage2/policy_%d_%d", s, obj),
				})
			}
		}
		t.logger.Info("stage 2 complete", zap.Int("front_size", t.front.Len()))
	}

	if err := t.front.Serialize(filepath.Join(t.cfg.OutputDir, "pareto_front.json")); err != nil {
		return fmt.Errorf("trainer: serializing front: %w", err)
	}

	return t.writeFinalResults()
}

// insertFront adds entry to the front, logging and discarding it rather
// than failing the run if its objectives are non-finite: a caller error in
// one policy's evaluation should not abort the rest of the training run.
func (t *Trainer) insertFront(entry pareto.Entry) {
	if _, err := t.front.Insert(entry); err != nil {
		t.logger.Warn("rejected front insertion",
			zap.String("checkpoint", entry.CheckpointID), zap.Error(err))
	}
}

// seedResult pairs a trained Stage-1 learner with the preference it trained
// under and the objective vector it achieved, so Stage 2 can match front
// entries back to their in-memory learner.
type seedResult struct {
	learner *marl.Learner
	pref    marl.Preference
	objs    [timestep.NumObjectives]float64
}

// findLearnerFor locates the in-memory Stage-1 learner whose objective
// vector matches entry, so Stage 2 can clone it without a checkpoint
// reload round-trip.
func findLearnerFor(seeds []seedResult, entry pareto.Entry) *marl.Learner {
	for _, s := range seeds {
		if s.objs == entry.Objectives {
			return s.learner
		}
	}
	return nil
}

// trainPolicy runs one policy's training loop: if seed is non-nil, the
// new learner clones seed's weights first (the Stage-2 path), and after
// training its KL drift from seed's policy is measured and logged as a
// warning when it exceeds cfg.MaxCloneKL; the drift is not penalized or
// constrained during training. Otherwise it trains from scratch (the
// Stage-1 path). It returns the trained learner and the
// (energy, carbon, latency) objective vector evaluated over one held-out
// episode under the trained policy.
func (t *Trainer) trainPolicy(ctx context.Context, seed *marl.Learner, pref marl.Preference,
	timesteps int, outDir string) (*marl.Learner, [timestep.NumObjectives]float64, error) {
	var objs [timestep.NumObjectives]float64

	learnerCfg := marl.Config{
		Gamma:         t.cfg.Gamma,
		Lambda:        t.cfg.Lambda,
		ClipEpsilon:   t.cfg.ClipEpsilon,
		EntropyCoef:   t.cfg.EntropyCoef,
		LearningRate:  t.cfg.LearningRate,
		GradClipNorm:  t.cfg.GradClipNorm,
		RolloutLength: t.cfg.RolloutLength,
		HiddenSizes:   t.cfg.HiddenSizes,
	}

	learner, err := marl.NewLearner(t.obsDim, t.numActions, learnerCfg, t.cfg.Seed)
	if err != nil {
		return nil, objs, err
	}

	if seed != nil {
		if err := learner.CloneFrom(seed); err != nil {
			return nil, objs, fmt.Errorf("trainer: cloning seed weights: %w", err)
		}
	}

	env, err := t.newEnv()
	if err != nil {
		return nil, objs, err
	}

	var preClone *marl.Policy
	if seed != nil {
		// Snapshot the clone's starting policy (equal to the seed's) so
		// drift from the seed can be measured after fine-tuning.
		preClone, err = marl.NewPolicy(t.obsDim, t.numActions, t.cfg.HiddenSizes)
		if err != nil {
			return nil, objs, err
		}
		if err := network.Set(preClone.Net(), seed.Policy().Net()); err != nil {
			return nil, objs, fmt.Errorf("trainer: snapshotting seed policy: %w", err)
		}
	}

	bar := progressbar.NewManualProgressBar(40, timesteps)
	var driftObservations [][]float64

	ts := env.Reset()
	for step := 0; step < timesteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, objs, ErrCanceled
		}

		obs := vecToSlice(ts.Observation)
		action, logProb, values, err := learner.Act(obs)
		if err != nil {
			return nil, objs, err
		}

		actionVec := mat.NewVecDense(1, []float64{float64(action)})
		next, done := env.Step(actionVec)

		if err := learner.Store(obs, action, logProb, next.Rewards, values); err != nil {
			return nil, objs, err
		}

		if len(driftObservations) < 256 {
			driftObservations = append(driftObservations, obs)
		}

		rolloutBoundary := (step+1)%t.cfg.RolloutLength == 0
		if done || rolloutBoundary {
			var lastVal [timestep.NumObjectives]float64
			if !done {
				lastVal, err = learner.PredictValue(vecToSlice(next.Observation))
				if err != nil {
					return nil, objs, err
				}
			}
			learner.FinishPath(lastVal)
			if _, _, err := learner.Update(pref); err != nil {
				return nil, objs, err
			}
		}

		bar.Increment()
		ts = next
		if done {
			ts = env.Reset()
		}
	}
	bar.Display()

	if preClone != nil && len(driftObservations) > 0 {
		kl, err := marl.KLFrom(preClone, learner.Policy(), driftObservations)
		if err != nil {
			return nil, objs, err
		}
		if kl > t.cfg.MaxCloneKL {
			t.logger.Warn("stage 2 clone drift exceeds bound",
				zap.Float64("kl", kl), zap.Float64("bound", t.cfg.MaxCloneKL),
				zap.String("dir", outDir))
		}
	}

	objs, err = t.evaluate(learner, env)
	if err != nil {
		return nil, objs, err
	}

	if err := t.checkpoint(learner, pref, objs, timesteps, outDir); err != nil {
		return nil, objs, err
	}

	return learner, objs, nil
}

// evaluate runs one greedy (argmax) episode under learner's policy and
// returns the physical-unit (energy kWh, carbon gCO2, mean latency km)
// objective vector accumulated over it, read from the environment's own
// episode-cost tracking rather than its normalized training reward: the
// two are on different scales and Rewards is sign-flipped so higher is
// better, while a pareto.Entry's Objectives are minimization targets.
func (t *Trainer) evaluate(learner *marl.Learner, env *placement.Env) ([timestep.NumObjectives]float64, error) {
	var total [timestep.NumObjectives]float64

	ts := env.Reset()
	for {
		probs, err := learner.Policy().Probabilities(vecToSlice(ts.Observation))
		if err != nil {
			return total, err
		}
		action := argmax(probs)

		next, done := env.Step(mat.NewVecDense(1, []float64{float64(action)}))
		ts = next
		if done {
			energyKWh, carbonG, meanLatencyKm := env.EpisodeCosts()
			return [timestep.NumObjectives]float64{energyKWh, carbonG, meanLatencyKm}, nil
		}
	}
}

// checkpoint persists a trained policy's networks and metadata to outDir,
// using the teacher's NStep checkpointer with a fixed, single-use
// filename rather than an enumerator, since each policy gets its own
// directory.
func (t *Trainer) checkpoint(learner *marl.Learner, pref marl.Preference,
	objs [timestep.NumObjectives]float64, timesteps int, outDir string) error {
	policyPath := filepath.Join(outDir, "policy_params.gob")
	policyCkpt := checkpointer.NewNStep(1, learner.Policy().Net(), func() string { return policyPath })
	if err := policyCkpt.Checkpoint(timestep.New(timestep.Last, 0,
		[timestep.NumObjectives]float64{}, 1.0, nil)); err != nil {
		return fmt.Errorf("trainer: checkpointing policy: %w", err)
	}

	for i := 0; i < timestep.NumObjectives; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("value_head_%d.gob", i))
		head := learner.ValueNet().Head(i)
		ckpt := checkpointer.NewNStep(1, head, func() string { return path })
		if err := ckpt.Checkpoint(timestep.New(timestep.Last, 0,
			[timestep.NumObjectives]float64{}, 1.0, nil)); err != nil {
			return fmt.Errorf("trainer: checkpointing value head %d: %w", i, err)
		}
	}

	type metadata struct {
		Preference marl.Preference                   `json:"preference"`
		Objectives [timestep.NumObjectives]float64    `json:"objectives"`
		Timesteps  int                                `json:"timesteps"`
	}
	data, err := json.MarshalIndent(metadata{Preference: pref, Objectives: objs, Timesteps: timesteps}, "", "  ")
	if err != nil {
		return fmt.Errorf("trainer: marshalling metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(outDir, "metadata.json"), data, 0o644)
}

// vecToSlice flattens a mat.Vector into a plain []float64, independent of
// its concrete backing type.
func vecToSlice(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = v.AtVec(i)
	}
	return out
}

// argmax returns the index of the largest value in probs.
func argmax(probs []float64) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}

// writeFinalResults persists a summary JSON document over the completed
// front.
func (t *Trainer) writeFinalResults() error {
	type summary struct {
		FrontSize int            `json:"front_size"`
		Entries   []pareto.Entry `json:"entries"`
	}
	s := summary{FrontSize: t.front.Len(), Entries: t.front.Entries()}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("trainer: marshalling final results: %w", err)
	}
	return os.WriteFile(filepath.Join(t.cfg.OutputDir, "final_results.json"), data, 0o644)
}
