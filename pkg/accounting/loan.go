package accounting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Loan is the borrowed notional behind one leveraged order, together with
// the collateral backing it and the price at which the position is
// force-closed. Buy loans are quote-denominated, sell loans
// base-denominated.
type Loan struct {
	Amount          decimal.Decimal `json:"amount" msgpack:"amount"`
	Direction       types.Direction `json:"direction" msgpack:"direction"`
	Leverage        decimal.Decimal `json:"leverage" msgpack:"leverage"`
	Collateral      Collateral      `json:"collateral" msgpack:"collateral"`
	MarginCallPrice decimal.Decimal `json:"marginCallPrice" msgpack:"marginCallPrice"`
}

// Accumulate merges another loan of the same direction into this one.
func (l *Loan) Accumulate(other *Loan) {
	l.Amount = l.Amount.Add(other.Amount)
	l.Collateral = l.Collateral.Add(other.Collateral)
}

// Settle repays amount of the loan and releases collateral in proportion,
// base first for buy loans and quote first for sell loans. With
//
//	q1 = base*price / (base*price + quote)
//	q2 = 1 - q1
//
// a buy loan releases base collateral for the r = amount/Amount share up
// to q1, then dips into quote for the remainder; a sell loan mirrors
// this. Each component is rounded to its currency's decimals. Panics when
// amount exceeds the outstanding loan - that is a caller bug.
func (l *Loan) Settle(amount, price decimal.Decimal, rp types.RoundParams) Collateral {
	if l.Direction == types.Buy {
		amount = num.Round(amount, rp.QuoteDecimals)
	} else {
		amount = num.Round(amount, rp.BaseDecimals)
	}

	if amount.Equal(l.Amount) {
		released := l.Collateral
		l.Amount = num.Zero
		l.Collateral = Collateral{}
		return released
	}
	if amount.GreaterThan(l.Amount) {
		panic(fmt.Sprintf("loan settle amount %s greater than outstanding %s",
			amount, l.Amount))
	}

	r := amount.Div(l.Amount)
	l.Amount = l.Amount.Sub(amount)

	q1 := l.Collateral.Base.Mul(price).Div(l.Collateral.ValueInQuote(price))
	q2 := num.OneM(q1)

	if l.Direction == types.Buy {
		var baseRelease decimal.Decimal
		if r.LessThan(q1) {
			baseRelease = num.Round(r.Div(q1).Mul(l.Collateral.Base), rp.BaseDecimals)
		} else {
			baseRelease = l.Collateral.Base
		}
		l.Collateral.Base = l.Collateral.Base.Sub(baseRelease)
		if r.LessThanOrEqual(q1) {
			return Collateral{Base: baseRelease}
		}
		rPrime := r.Sub(q1)
		quoteRelease := num.Round(rPrime.Div(q2).Mul(l.Collateral.Quote), rp.QuoteDecimals)
		l.Collateral.Quote = l.Collateral.Quote.Sub(quoteRelease)
		return Collateral{Base: baseRelease, Quote: quoteRelease}
	}

	var quoteRelease decimal.Decimal
	if r.LessThan(q2) {
		quoteRelease = num.Round(r.Div(q2).Mul(l.Collateral.Quote), rp.QuoteDecimals)
	} else {
		quoteRelease = l.Collateral.Quote
	}
	l.Collateral.Quote = l.Collateral.Quote.Sub(quoteRelease)
	if r.LessThanOrEqual(q2) {
		return Collateral{Quote: quoteRelease}
	}
	rPrime := r.Sub(q2)
	baseRelease := num.Round(rPrime.Div(q1).Mul(l.Collateral.Base), rp.BaseDecimals)
	l.Collateral.Base = l.Collateral.Base.Sub(baseRelease)
	return Collateral{Base: baseRelease, Quote: quoteRelease}
}
