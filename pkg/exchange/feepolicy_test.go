package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/types"
)

func threeTiers(t *testing.T) *FeePolicy {
	t.Helper()
	p, err := NewFeePolicy(3, 100, []Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec("0.001"), TakerFeeRate: dec("0.002")},
		{VolumeRequired: dec("1000"), MakerFeeRate: dec("0.0005"), TakerFeeRate: dec("0.001")},
		{VolumeRequired: dec("10000"), MakerFeeRate: dec("0"), TakerFeeRate: dec("0.0005")},
	})
	require.NoError(t, err)
	return p
}

func TestNewFeePolicyValidation(t *testing.T) {
	_, err := NewFeePolicy(0, 100, []Tier{{}})
	assert.Error(t, err)

	_, err = NewFeePolicy(3, 100, nil)
	assert.Error(t, err)

	_, err = NewFeePolicy(3, 100, []Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec("1.5")},
	})
	assert.Error(t, err)

	_, err = NewFeePolicy(3, 100, []Tier{
		{VolumeRequired: dec("5")},
		{VolumeRequired: dec("5")},
	})
	assert.Error(t, err)
}

func TestDefaultTierIsLowest(t *testing.T) {
	p := threeTiers(t)
	rates := p.GetRates(0, 1)
	assert.True(t, rates.Maker.Equal(dec("0.001")))
	assert.True(t, rates.Taker.Equal(dec("0.002")))
}

func TestTierPromotionAfterRolledVolume(t *testing.T) {
	p := threeTiers(t)

	p.UpdateHistory(0, 1, dec("1500"))
	// Volume sits in the newest bucket; the tier only moves at the slot
	// boundary.
	assert.Equal(t, 0, p.AgentTier(0, 1))

	p.UpdateAgentsTiers()
	assert.Equal(t, 1, p.AgentTier(0, 1))

	rates := p.GetRates(0, 1)
	assert.True(t, rates.Maker.Equal(dec("0.0005")))
}

func TestTierDecaysAsBucketsRoll(t *testing.T) {
	p := threeTiers(t)
	p.UpdateHistory(0, 1, dec("1500"))
	p.UpdateAgentsTiers()
	require.Equal(t, 1, p.AgentTier(0, 1))

	// Three more slot boundaries with no trading roll the volume out.
	p.UpdateAgentsTiers()
	p.UpdateAgentsTiers()
	p.UpdateAgentsTiers()
	assert.Equal(t, 0, p.AgentTier(0, 1))
}

func TestCalculateFees(t *testing.T) {
	p := threeTiers(t)
	trade := &book.Trade{Volume: dec("2"), Price: dec("100")}
	fees := p.CalculateFees(TradeDesc{BookID: 0, RestingAgentID: 1, AggressingAgentID: 2, Trade: trade})
	assert.True(t, fees.Maker.Equal(dec("0.2")), "maker %s", fees.Maker)
	assert.True(t, fees.Taker.Equal(dec("0.4")), "taker %s", fees.Taker)
}

func TestResetHistory(t *testing.T) {
	p := threeTiers(t)
	p.UpdateHistory(0, 1, dec("1500"))
	p.UpdateAgentsTiers()
	require.Equal(t, 1, p.AgentTier(0, 1))

	p.ResetHistory(1)
	assert.Equal(t, 0, p.AgentTier(0, 1))
	assert.True(t, p.AgentVolume(0, 1).IsZero())
}

func TestWrapperOverridesByBaseName(t *testing.T) {
	rp := types.RoundParams{BaseDecimals: 4, QuoteDecimals: 8}
	registry := accounting.NewAccountRegistry(1, makeTemplate("100", "5000", rp))
	hft := registry.RegisterLocal("HFT_TRADER_3")
	stylized := registry.RegisterLocal("STYLIZED_TRADER_1")

	base, err := NewFeePolicy(3, 100, []Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec("0.001"), TakerFeeRate: dec("0.002")},
	})
	require.NoError(t, err)
	override, err := NewFeePolicy(3, 100, []Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec("-0.0001"), TakerFeeRate: dec("0.0003")},
	})
	require.NoError(t, err)

	w := NewFeePolicyWrapper(base, registry)
	w.SetOverride("HFT_TRADER", override)

	assert.True(t, w.Contains("HFT_TRADER"))
	assert.False(t, w.Contains("STYLIZED_TRADER"))

	hftRates := w.GetRates(0, hft)
	assert.True(t, hftRates.Maker.Equal(dec("-0.0001")))

	defaultRates := w.GetRates(0, stylized)
	assert.True(t, defaultRates.Maker.Equal(dec("0.001")))
}

func TestWrapperSlotBoundary(t *testing.T) {
	base := threeTiers(t)
	w := NewFeePolicyWrapper(base, nil)

	w.UpdateHistory(0, 1, dec("1500"))
	// Off-boundary times leave tiers alone.
	w.UpdateAgentsTiers(150)
	assert.Equal(t, 0, w.AgentTier(0, 1))
	// The slot boundary advances them.
	w.UpdateAgentsTiers(200)
	assert.Equal(t, 1, w.AgentTier(0, 1))
}
