package marl

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// DiversifiedPreferences returns m preference vectors spread across the
// 3-objective simplex, used to seed Stage 1's diversified-initialization
// policies. Preferences are drawn i.i.d. from Dirichlet(1,1,1), i.e.
// uniform over the simplex, via the standard normalize-independent-
// exponentials construction also used by pareto.Front.ExpectedUtility.
func DiversifiedPreferences(m int, seed uint64) []Preference {
	src := rand.NewSource(seed)
	exp := distuv.Exponential{Rate: 1, Src: src}

	prefs := make([]Preference, m)
	for i := range prefs {
		var sum float64
		for j := 0; j < NumObjectives; j++ {
			prefs[i][j] = exp.Rand()
			sum += prefs[i][j]
		}
		for j := 0; j < NumObjectives; j++ {
			prefs[i][j] /= sum
		}
	}
	return prefs
}

// UnitPreference returns the one-hot preference vector isolating a single
// objective, used by Stage 2's targeted per-objective extension.
func UnitPreference(objective int) Preference {
	var p Preference
	p[objective] = 1
	return p
}
