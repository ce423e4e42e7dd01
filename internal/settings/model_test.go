package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults_TradingStartsDisabled(t *testing.T) {
	d := Defaults()

	// A fresh deployment must not trade until the operator turns it on.
	assert.False(t, d.TradingEnabled)
	assert.Equal(t, 1, d.MinTier)
	assert.Equal(t, 1, d.DefaultLeverage)
	assert.Greater(t, d.DefaultQty, 0.0)
	assert.Equal(t, 5, d.MaxOpenPositions)
}
