package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Exchange.Books)
	assert.Equal(t, int32(2), cfg.Exchange.PriceDecimals)
	assert.Equal(t, 0.25, cfg.Exchange.MaintenanceMargin)
	assert.Equal(t, 4, cfg.FeePolicy.HistorySlots)
	assert.Equal(t, time.Hour, cfg.FeePolicy.SlotPeriod)
	require.Len(t, cfg.FeePolicy.Tiers, 1)
	assert.Equal(t, 1, cfg.Simulation.Instances)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exchange:
  books: 2
  price_decimals: 3
  volume_decimals: 4
  base_decimals: 4
  quote_decimals: 8
  initial_price: 50.0
  maintenance_margin: 0.2
  max_leverage: 3
  max_loan: 100000
fee_policy:
  history_slots: 6
  slot_period: 30m
  tiers:
    - volume_required: 0
      maker_fee: 0.001
      taker_fee: 0.002
    - volume_required: 100000
      maker_fee: 0.0005
      taker_fee: 0.001
simulation:
  instances: 2
  horizon: 10m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Exchange.Books)
	assert.Equal(t, int32(3), cfg.Exchange.PriceDecimals)
	assert.Equal(t, 6, cfg.FeePolicy.HistorySlots)
	assert.Equal(t, 30*time.Minute, cfg.FeePolicy.SlotPeriod)
	require.Len(t, cfg.FeePolicy.Tiers, 2)
	assert.Equal(t, 2, cfg.Simulation.Instances)
}

func TestValidationFailures(t *testing.T) {
	write := func(t *testing.T, body string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	cases := []struct {
		name string
		body string
	}{
		{"decimals too small", "exchange:\n  price_decimals: 1\n"},
		{"bad maintenance margin", "exchange:\n  maintenance_margin: 1.5\n"},
		{"negative max leverage", "exchange:\n  max_leverage: -1\n"},
		{"fee rate out of range", `
fee_policy:
  tiers:
    - volume_required: 0
      maker_fee: 1.0
      taker_fee: 0.1
`},
		{"non-increasing tiers", `
fee_policy:
  tiers:
    - volume_required: 10
      maker_fee: 0.001
      taker_fee: 0.002
    - volume_required: 10
      maker_fee: 0.0005
      taker_fee: 0.001
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(write(t, tc.body))
			assert.Error(t, err)
		})
	}
}
