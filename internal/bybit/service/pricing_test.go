package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTargets_Buy(t *testing.T) {
	tp, sl, err := ComputeTargets("100", "Buy", 5, 2, 2)

	require.NoError(t, err)
	assert.Equal(t, "105.00", tp)
	assert.Equal(t, "98.00", sl)
}

func TestComputeTargets_Sell(t *testing.T) {
	tp, sl, err := ComputeTargets("100", "Sell", 5, 2, 2)

	require.NoError(t, err)
	assert.Equal(t, "95.00", tp)
	assert.Equal(t, "102.00", sl)
}

func TestComputeTargets_RoundsToTick(t *testing.T) {
	tp, sl, err := ComputeTargets("123.456", "Buy", 1, 1, 2)

	require.NoError(t, err)
	// 123.456 * 1.01 = 124.69056, 123.456 * 0.99 = 122.22144
	assert.Equal(t, "124.69", tp)
	assert.Equal(t, "122.22", sl)
}

func TestComputeTargets_ZeroPercentOmitsLevel(t *testing.T) {
	tp, sl, err := ComputeTargets("100", "Buy", 0, 2, 2)

	require.NoError(t, err)
	assert.Equal(t, "", tp)
	assert.Equal(t, "98.00", sl)
}

func TestComputeTargets_NoFloatDrift(t *testing.T) {
	// 0.1 * 1.1 is not representable in binary floats; the decimal path
	// must still produce an exact tick.
	tp, _, err := ComputeTargets("0.1", "Buy", 10, 0, 4)

	require.NoError(t, err)
	assert.Equal(t, "0.1100", tp)
}

func TestComputeTargets_InvalidInputs(t *testing.T) {
	_, _, err := ComputeTargets("abc", "Buy", 5, 2, 2)
	assert.Error(t, err)

	_, _, err = ComputeTargets("0", "Buy", 5, 2, 2)
	assert.Error(t, err)

	_, _, err = ComputeTargets("100", "Hold", 5, 2, 2)
	assert.Error(t, err)

	// A 100% stop on a long crosses zero.
	_, _, err = ComputeTargets("100", "Buy", 5, 100, 2)
	assert.Error(t, err)
}
