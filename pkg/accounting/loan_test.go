package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarzvale/marketsim/pkg/types"
)

var testRoundParams = types.RoundParams{BaseDecimals: 4, QuoteDecimals: 8}

func TestMarginCallPriceBuy(t *testing.T) {
	// price * L / ((1+L) * (1-m)) with price=3, L=1.2, m=0.25.
	got := MarginCallPrice(dec("3"), dec("1.2"), types.Buy, dec("0.25"))
	want := dec("3.6").Div(dec("1.65"))
	assert.True(t, got.Sub(want).Abs().LessThan(dec("0.0000000001")),
		"got %s want %s", got, want)
}

func TestMarginCallPriceSell(t *testing.T) {
	// price * (2+L) / ((1+L) * (1+m)) with price=100, L=1, m=0.25.
	got := MarginCallPrice(dec("100"), dec("1"), types.Sell, dec("0.25"))
	want := dec("120")
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

func TestLoanSettleFull(t *testing.T) {
	loan := &Loan{
		Amount:    dec("36"),
		Direction: types.Buy,
		Leverage:  dec("1.2"),
		Collateral: Collateral{
			Base:  dec("2"),
			Quote: dec("24"),
		},
	}
	released := loan.Settle(dec("36"), dec("3"), testRoundParams)
	assert.True(t, loan.Amount.IsZero())
	assert.True(t, loan.Collateral.IsZero())
	assert.True(t, released.Base.Equal(dec("2")))
	assert.True(t, released.Quote.Equal(dec("24")))
}

func TestLoanSettleTwoStepsReleaseAll(t *testing.T) {
	loan := &Loan{
		Amount:    dec("40"),
		Direction: types.Buy,
		Leverage:  dec("1"),
		Collateral: Collateral{
			Base:  dec("5"),
			Quote: dec("10"),
		},
	}
	first := loan.Settle(dec("15"), dec("4"), testRoundParams)
	second := loan.Settle(loan.Amount, dec("4"), testRoundParams)

	total := first.Add(second)
	assert.True(t, total.Base.Equal(dec("5")), "base released %s", total.Base)
	assert.True(t, total.Quote.Equal(dec("10")), "quote released %s", total.Quote)
	assert.True(t, loan.Amount.IsZero())
	assert.True(t, loan.Collateral.IsZero())
}

func TestLoanSettlePrefersSameCurrencySide(t *testing.T) {
	// Buy loan: base collateral drains first; small settles never touch
	// quote.
	loan := &Loan{
		Amount:    dec("100"),
		Direction: types.Buy,
		Collateral: Collateral{
			Base:  dec("10"),
			Quote: dec("60"),
		},
	}
	// q1 = 10*4 / (10*4 + 60) = 0.4; r = 0.2 < q1.
	released := loan.Settle(dec("20"), dec("4"), testRoundParams)
	assert.True(t, released.Quote.IsZero())
	assert.True(t, released.Base.Equal(dec("5")), "released %s", released.Base)
}

func TestLoanSettleOverAmountPanics(t *testing.T) {
	loan := &Loan{Amount: dec("10"), Direction: types.Sell,
		Collateral: Collateral{Base: dec("1"), Quote: dec("1")}}
	require.Panics(t, func() {
		loan.Settle(dec("11"), dec("2"), testRoundParams)
	})
}

func TestCollateralValues(t *testing.T) {
	c := Collateral{Base: dec("2"), Quote: dec("10")}
	assert.True(t, c.ValueInQuote(dec("5")).Equal(dec("20")))
	assert.True(t, c.ValueInBase(dec("5")).Equal(dec("4")))
}
