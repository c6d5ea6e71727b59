package types

import "github.com/shopspring/decimal"

// Fees are the quote-denominated amounts charged on one trade, indexed by
// the side's role. Negative values are rebates.
type Fees struct {
	Maker decimal.Decimal `json:"maker" msgpack:"maker"`
	Taker decimal.Decimal `json:"taker" msgpack:"taker"`
}
