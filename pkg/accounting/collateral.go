package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/num"
)

// Collateral is the two-currency backing of a margin loan.
type Collateral struct {
	Base  decimal.Decimal `json:"base" msgpack:"base"`
	Quote decimal.Decimal `json:"quote" msgpack:"quote"`
}

// Add accumulates another collateral component-wise.
func (c Collateral) Add(other Collateral) Collateral {
	return Collateral{
		Base:  c.Base.Add(other.Base),
		Quote: c.Quote.Add(other.Quote),
	}
}

// Sub removes another collateral component-wise.
func (c Collateral) Sub(other Collateral) Collateral {
	return Collateral{
		Base:  c.Base.Sub(other.Base),
		Quote: c.Quote.Sub(other.Quote),
	}
}

// ValueInBase is base + quote/price.
func (c Collateral) ValueInBase(price decimal.Decimal) decimal.Decimal {
	return c.Base.Add(c.Quote.Div(price))
}

// ValueInQuote is base*price + quote.
func (c Collateral) ValueInQuote(price decimal.Decimal) decimal.Decimal {
	return num.FMA(c.Base, price, c.Quote)
}

// IsZero reports whether both components are zero.
func (c Collateral) IsZero() bool {
	return c.Base.IsZero() && c.Quote.IsZero()
}
