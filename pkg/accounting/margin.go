package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// MarginCallPrice is the closed-form reference price at which a leveraged
// position opened at price with leverage L and maintenance margin m hits
// the maintenance threshold:
//
//	BUY:  price * L / ((1+L) * (1-m))
//	SELL: price * (2+L) / ((1+L) * (1+m))
func MarginCallPrice(
	price, leverage decimal.Decimal,
	direction types.Direction,
	maintenanceMargin decimal.Decimal,
) decimal.Decimal {
	if direction == types.Buy {
		return price.Mul(leverage).
			Div(num.OneP(leverage).Mul(num.OneM(maintenanceMargin)))
	}
	return price.Mul(num.Two.Add(leverage)).
		Div(num.OneP(leverage).Mul(num.OneP(maintenanceMargin)))
}
