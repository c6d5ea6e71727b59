package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Kind tags the order variant. Matching and validation branch on it; the
// common header below is shared by both.
type Kind uint8

const (
	KindMarket Kind = iota
	KindLimit
)

func (k Kind) String() string {
	if k == KindMarket {
		return "MARKET"
	}
	return "LIMIT"
}

// Order is a tagged order record. Market orders use only the common
// header; limit orders additionally carry price, post-only and
// time-in-force fields. Orders are immutable after creation except for
// volume, which matching and partial cancellation decrement.
type Order struct {
	ID         types.OrderID   `json:"orderId" msgpack:"orderId"`
	Timestamp  types.Timestamp `json:"timestamp" msgpack:"timestamp"`
	Volume     decimal.Decimal `json:"volume" msgpack:"volume"`
	Leverage   decimal.Decimal `json:"leverage" msgpack:"leverage"`
	Direction  types.Direction `json:"direction" msgpack:"direction"`
	STPFlag    types.STPFlag   `json:"stpFlag" msgpack:"stpFlag"`
	SettleFlag types.SettleFlag `json:"settleFlag" msgpack:"settleFlag"`
	Currency   types.Currency  `json:"currency" msgpack:"currency"`

	Kind Kind `json:"kind" msgpack:"kind"`

	// Limit-only fields.
	Price        decimal.Decimal  `json:"price" msgpack:"price"`
	PostOnly     bool             `json:"postOnly" msgpack:"postOnly"`
	TimeInForce  types.TimeInForce `json:"timeInForce" msgpack:"timeInForce"`
	ExpiryPeriod *types.Timestamp `json:"expiryPeriod,omitempty" msgpack:"expiryPeriod"`
}

// TotalVolume is the leveraged volume volume*(1+leverage).
func (o *Order) TotalVolume() decimal.Decimal {
	return o.Volume.Mul(num.OneP(o.Leverage))
}

// RemoveVolume decrements the unleveraged volume. Panics on a decrement
// exceeding the remaining volume; the book only produces fills bounded by
// the residual.
func (o *Order) RemoveVolume(decrease decimal.Decimal) {
	next := o.Volume.Sub(decrease)
	if next.IsNegative() {
		panic(fmt.Sprintf("order #%d: volume %s decreased by %s below zero",
			o.ID, o.Volume, decrease))
	}
	o.Volume = next
}

// RemoveLeveragedVolume decrements by an amount expressed in leveraged
// (total) units.
func (o *Order) RemoveLeveragedVolume(decrease decimal.Decimal) {
	o.RemoveVolume(decrease.Div(num.OneP(o.Leverage)))
}

// IsLimit reports whether the order can rest on the book.
func (o *Order) IsLimit() bool { return o.Kind == KindLimit }

// OrderFactory assigns per-book monotonic order ids. Each book owns one;
// there is no process-wide counter.
type OrderFactory struct {
	counter types.OrderID
}

// CounterState returns the id the next created order will get.
func (f *OrderFactory) CounterState() types.OrderID { return f.counter }

// SetCounterState restores the counter, used by checkpoint recovery.
func (f *OrderFactory) SetCounterState(c types.OrderID) { f.counter = c }

func (f *OrderFactory) nextID() types.OrderID {
	id := f.counter
	f.counter++
	return id
}

// MakeMarketOrder creates a market order with the next id.
func (f *OrderFactory) MakeMarketOrder(
	direction types.Direction,
	timestamp types.Timestamp,
	volume, leverage decimal.Decimal,
	stpFlag types.STPFlag,
	settleFlag types.SettleFlag,
) *Order {
	return &Order{
		ID:         f.nextID(),
		Timestamp:  timestamp,
		Volume:     volume,
		Leverage:   leverage,
		Direction:  direction,
		STPFlag:    stpFlag,
		SettleFlag: settleFlag,
		Kind:       KindMarket,
	}
}

// MakeLimitOrder creates a limit order with the next id.
func (f *OrderFactory) MakeLimitOrder(
	direction types.Direction,
	timestamp types.Timestamp,
	volume, price, leverage decimal.Decimal,
	stpFlag types.STPFlag,
	settleFlag types.SettleFlag,
	postOnly bool,
	timeInForce types.TimeInForce,
	expiryPeriod *types.Timestamp,
) *Order {
	return &Order{
		ID:           f.nextID(),
		Timestamp:    timestamp,
		Volume:       volume,
		Leverage:     leverage,
		Direction:    direction,
		STPFlag:      stpFlag,
		SettleFlag:   settleFlag,
		Kind:         KindLimit,
		Price:        price,
		PostOnly:     postOnly,
		TimeInForce:  timeInForce,
		ExpiryPeriod: expiryPeriod,
	}
}
