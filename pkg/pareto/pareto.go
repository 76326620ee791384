// Package pareto implements the Pareto front data structure used to track
// discovered (energy, carbon, latency) trade-off policies: weak dominance,
// crowding-distance-based sparsity selection, hypervolume, and
// preference-weighted expected utility. The dominance test, fast
// non-dominated bookkeeping, and crowding-distance sparsity ranking are
// adapted from a population-archive NSGA-II implementation in the example
// pack; the 2D hypervolume sweep found there is generalized here to the
// exact 3-objective case via recursive slicing.
package pareto

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// NumObjectives is the number of tracked objectives: energy, carbon,
// latency, all minimized.
const NumObjectives = 3

// tolerance absorbs floating-point noise when comparing objective values
// for dominance, so that numerically-indistinguishable policies are not
// spuriously ranked against one another.
const tolerance = 1e-9

// Entry is a single policy recorded on the front: its preference vector,
// the objective values it achieved, and an opaque reference to its
// persisted checkpoint.
type Entry struct {
	Preference  [NumObjectives]float64 `json:"preference"`
	Objectives  [NumObjectives]float64 `json:"objectives"` // energy, carbon, latency; lower is better
	CheckpointID string                `json:"checkpoint_id"`

	crowding float64
}

// Front is the set of mutually non-dominated Entry values discovered so
// far.
type Front struct {
	entries []Entry
}

// New returns an empty Front.
func New() *Front {
	return &Front{}
}

// Len returns the number of entries currently on the front.
func (f *Front) Len() int { return len(f.entries) }

// Entries returns a copy of the front's entries.
func (f *Front) Entries() []Entry {
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Dominates reports whether a weakly dominates b for minimization: a is no
// worse than b in every objective and strictly better in at least one,
// within tolerance.
func Dominates(a, b [NumObjectives]float64) bool {
	strictlyBetter := false
	for i := 0; i < NumObjectives; i++ {
		if a[i] > b[i]+tolerance {
			return false
		}
		if a[i] < b[i]-tolerance {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// Insert adds a candidate entry to the front if it is not dominated by any
// existing entry, removing any existing entries the candidate dominates.
// It returns whether the candidate was added. A candidate with a NaN or
// Inf objective is a caller error: it is rejected outright and reported,
// never added to the front and never allowed to evict an existing entry.
func (f *Front) Insert(e Entry) (bool, error) {
	for i := 0; i < NumObjectives; i++ {
		if math.IsNaN(e.Objectives[i]) || math.IsInf(e.Objectives[i], 0) {
			return false, fmt.Errorf("pareto: non-finite objective %v at index %d", e.Objectives[i], i)
		}
	}

	for _, existing := range f.entries {
		if Dominates(existing.Objectives, e.Objectives) {
			return false, nil
		}
	}

	kept := f.entries[:0:0]
	for _, existing := range f.entries {
		if !Dominates(e.Objectives, existing.Objectives) {
			kept = append(kept, existing)
		}
	}
	f.entries = append(kept, e)
	return true, nil
}

// SelectSparse returns the n entries with the largest crowding distance,
// i.e. the most diverse subset of the front, for use as Stage-2 seeds.
// If n >= f.Len(), the whole front is returned. The crowding-distance
// calculation follows the NSGA-II definition: boundary solutions in each
// objective get infinite distance, interior solutions accumulate the
// normalized distance between their neighbors.
func (f *Front) SelectSparse(n int) []Entry {
	if n >= len(f.entries) {
		return f.Entries()
	}

	crowding := make([]float64, len(f.entries))
	for m := 0; m < NumObjectives; m++ {
		order := make([]int, len(f.entries))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return f.entries[order[i]].Objectives[m] < f.entries[order[j]].Objectives[m]
		})

		lo := f.entries[order[0]].Objectives[m]
		hi := f.entries[order[len(order)-1]].Objectives[m]
		rng := hi - lo
		if rng < 1e-10 {
			rng = 1e-10
		}

		crowding[order[0]] = math.Inf(1)
		crowding[order[len(order)-1]] = math.Inf(1)
		for i := 1; i < len(order)-1; i++ {
			if math.IsInf(crowding[order[i]], 1) {
				continue
			}
			d := (f.entries[order[i+1]].Objectives[m] - f.entries[order[i-1]].Objectives[m]) / rng
			crowding[order[i]] += d
		}
	}

	idx := make([]int, len(f.entries))
	for i := range idx {
		idx[i] = i
	}
	// SliceStable, not Slice: ties in crowding distance must break by
	// insertion order, and idx starts in insertion order.
	sort.SliceStable(idx, func(i, j int) bool { return crowding[idx[i]] > crowding[idx[j]] })

	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = f.entries[idx[i]]
	}
	return out
}

// Hypervolume returns the exact volume of objective space dominated by
// the front relative to ref, computed by recursive slicing (HSO): the
// front is sorted by its last objective, and the contribution of each
// point is its slab thickness times the hypervolume of the points at or
// before it, projected into the remaining objectives. ref must be weakly
// dominated by every point on the front in every objective (i.e. ref is
// at least as bad as the front's nadir) or its contribution is zero.
func (f *Front) Hypervolume(ref [NumObjectives]float64) float64 {
	points := make([][]float64, 0, len(f.entries))
	for _, e := range f.entries {
		p := make([]float64, NumObjectives)
		ok := true
		for i := 0; i < NumObjectives; i++ {
			if e.Objectives[i] > ref[i] {
				ok = false
				break
			}
			p[i] = e.Objectives[i]
		}
		if ok {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return 0
	}
	return sliceHypervolume(points, append([]float64{}, ref[:]...))
}

// sliceHypervolume computes the exact hypervolume dominated by points
// (minimization) relative to ref, via recursive dimension slicing.
func sliceHypervolume(points [][]float64, ref []float64) float64 {
	dim := len(ref)
	if dim == 1 {
		best := ref[0]
		for _, p := range points {
			if p[0] < best {
				best = p[0]
			}
		}
		if ref[0]-best < 0 {
			return 0
		}
		return ref[0] - best
	}

	sorted := make([][]float64, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][dim-1] < sorted[j][dim-1] })

	var volume float64
	for i := 0; i < len(sorted); i++ {
		var height float64
		if i+1 < len(sorted) {
			height = sorted[i+1][dim-1] - sorted[i][dim-1]
		} else {
			height = ref[dim-1] - sorted[i][dim-1]
		}
		if height <= 0 {
			continue
		}

		subset := nonDominatedPrefix(sorted[:i+1], dim-1)
		volume += height * sliceHypervolume(subset, ref[:dim-1])
	}
	return volume
}

// nonDominatedPrefix projects points into their first d dimensions and
// returns the subset not dominated by another point in that projection,
// so the recursive slice step only integrates over the current skyline.
func nonDominatedPrefix(points [][]float64, d int) [][]float64 {
	projected := make([][]float64, len(points))
	for i, p := range points {
		projected[i] = append([]float64{}, p[:d]...)
	}

	var out [][]float64
	for i, p := range projected {
		dominated := false
		for j, q := range projected {
			if i == j {
				continue
			}
			if dominatesProjected(q, p) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, p)
		}
	}
	return out
}

func dominatesProjected(a, b []float64) bool {
	strictlyBetter := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}

// ExpectedUtility estimates the expected linear utility a decision maker
// with an unknown preference realizes by picking the best front entry for
// each sampled preference, averaged over samples preferences drawn
// uniformly from the 3-objective simplex. Objectives are minimized, so
// utility for a sampled preference w is -sum_i w_i * objective_i, and the
// decision maker picks the front entry maximizing it.
func (f *Front) ExpectedUtility(samples int, seed uint64) float64 {
	if len(f.entries) == 0 || samples <= 0 {
		return 0
	}

	src := rand.NewSource(seed)
	exp := distuv.Exponential{Rate: 1, Src: src}

	var total float64
	for s := 0; s < samples; s++ {
		var w [NumObjectives]float64
		var sum float64
		for i := range w {
			w[i] = exp.Rand()
			sum += w[i]
		}
		for i := range w {
			w[i] /= sum
		}

		best := math.Inf(-1)
		for _, e := range f.entries {
			var u float64
			for i := 0; i < NumObjectives; i++ {
				u -= w[i] * e.Objectives[i]
			}
			if u > best {
				best = u
			}
		}
		total += best
	}
	return total / float64(samples)
}

// persisted is the on-disk JSON representation of a Front.
type persisted struct {
	Entries []Entry `json:"entries"`
}

// Serialize writes the front to path as JSON, preserving entry order.
func (f *Front) Serialize(path string) error {
	data, err := json.MarshalIndent(persisted{Entries: f.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("pareto: marshalling front: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pareto: writing %q: %w", path, err)
	}
	return nil
}

// Deserialize reads a Front previously written by Serialize.
func Deserialize(path string) (*Front, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pareto: reading %q: %w", path, err)
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("pareto: parsing %q: %w", path, err)
	}
	return &Front{entries: p.Entries}, nil
}
