package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFiveTiersAreDefined(t *testing.T) {
	assert.Equal(t, Tier(5), NumTiers)
	assert.Equal(t, Tier(0), Micro)
	assert.Equal(t, Tier(4), XLarge)
}

func TestDefaultTierSpecsIncreaseWithTier(t *testing.T) {
	for i := 1; i < int(NumTiers); i++ {
		prev := DefaultTierSpecs[i-1]
		cur := DefaultTierSpecs[i]
		assert.Greater(t, cur.Cores, prev.Cores)
		assert.Greater(t, cur.RAMGiB, prev.RAMGiB)
	}
}
