package simulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitVMRejectsWhenOverCapacity(t *testing.T) {
	m := NewMock(1)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.CreateDatacenter(ctx, 0, map[string]int{"standard": 1}, 1.1))

	result, err := m.SubmitVM(ctx, Request{Cores: 2, RAMGiB: 4}, 0)
	require.NoError(t, err)
	assert.True(t, result.Accepted)

	result, err = m.SubmitVM(ctx, Request{Cores: 2, RAMGiB: 4}, 0)
	require.NoError(t, err)
	assert.False(t, result.Accepted, "second VM should be rejected once the datacenter's single slot is occupied")
}

func TestSubmitVMCapacityResetsOnInitialize(t *testing.T) {
	m := NewMock(1)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.CreateDatacenter(ctx, 0, map[string]int{"standard": 1}, 1.0))

	result, err := m.SubmitVM(ctx, Request{Cores: 1}, 0)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	require.NoError(t, m.Initialize(ctx))
	result, err = m.SubmitVM(ctx, Request{Cores: 1}, 0)
	require.NoError(t, err)
	assert.True(t, result.Accepted, "a fresh episode should reset occupied capacity")
}
