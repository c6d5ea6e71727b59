package sim

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/exchange"
	"github.com/quarzvale/marketsim/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestSimulation(t *testing.T, horizon types.Timestamp, traders int) *Simulation {
	t.Helper()

	rp := types.RoundParams{BaseDecimals: 4, QuoteDecimals: 8}
	template := accounting.NewBalances(
		accounting.NewBalance(dec("1000"), "BASE", rp.BaseDecimals),
		accounting.NewBalance(dec("100000"), "QUOTE", rp.QuoteDecimals),
		dec("0.25"), rp)

	feePolicy, err := exchange.NewFeePolicy(4, 1_000_000_000, []exchange.Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec("0"), TakerFeeRate: dec("0")},
	})
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	s := NewSimulation(horizon,
		func(dispatch exchange.Dispatch, now func() types.Timestamp) *exchange.MultiBookExchangeAgent {
			return exchange.NewMultiBookExchangeAgent(
				1, template, feePolicy,
				exchange.ValidatorParams{
					PriceIncrementDecimals:  2,
					VolumeIncrementDecimals: 4,
					BaseIncrementDecimals:   4,
					QuoteIncrementDecimals:  8,
				},
				exchange.ExchangeConfig{
					MaintenanceMargin: dec("0.25"),
					MaxLeverage:       dec("0"),
					MaxLoan:           dec("0"),
				},
				dispatch, now, logger)
		},
		logger)

	for i := 0; i < traders; i++ {
		id := s.Exchange.Accounts().RegisterLocal(
			"RANDOM_TRADER_" + string(rune('A'+i)))
		s.AddAgent(NewRandomTrader(s, RandomTraderDesc{
			ID:           id,
			Seed:         int64(1000 + i),
			BookCount:    1,
			Tau:          1_000_000_000,
			MinQuantity:  dec("0.01"),
			MaxQuantity:  dec("2"),
			InitialPrice: dec("100"),
		}))
	}
	return s
}

func TestSimulationRunsToHorizon(t *testing.T) {
	s := newTestSimulation(t, 60_000_000_000, 4)
	require.NoError(t, s.Run())
	assert.LessOrEqual(t, s.CurrentTimestamp(), s.Horizon())
}

func TestSimulationConservesMoneyWithoutFees(t *testing.T) {
	s := newTestSimulation(t, 120_000_000_000, 6)
	require.NoError(t, s.Run())

	totalBase, totalQuote := dec("0"), dec("0")
	s.Exchange.Accounts().Each(func(_ types.AgentID, account *accounting.Account) {
		b := account.At(0)
		totalBase = totalBase.Add(b.Base.Total())
		totalQuote = totalQuote.Add(b.Quote.Total())
	})
	assert.True(t, totalBase.Equal(dec("6000")), "total base %s", totalBase)
	assert.True(t, totalQuote.Equal(dec("600000")), "total quote %s", totalQuote)
}

func TestSimulationBalanceInvariants(t *testing.T) {
	s := newTestSimulation(t, 60_000_000_000, 4)
	require.NoError(t, s.Run())

	s.Exchange.Accounts().Each(func(id types.AgentID, account *accounting.Account) {
		b := account.At(0)
		assert.True(t, b.Base.Total().Equal(b.Base.Free().Add(b.Base.Reserved())),
			"agent %d base", id)
		assert.True(t, b.Quote.Total().Equal(b.Quote.Free().Add(b.Quote.Reserved())),
			"agent %d quote", id)
		assert.False(t, b.Base.Free().IsNegative())
		assert.False(t, b.Quote.Free().IsNegative())
		require.NoError(t, b.CheckLoanConsistency())
	})
}

func TestSimulationEmitsL3Record(t *testing.T) {
	s := newTestSimulation(t, 60_000_000_000, 4)
	require.NoError(t, s.Run())
	assert.Positive(t, s.Exchange.L3Record().At(0).Len())
}
