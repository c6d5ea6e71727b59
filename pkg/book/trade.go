package book

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/types"
)

// Trade is one fill between an aggressing and a resting order. Direction
// equals that of the aggressing order. Immutable once emitted.
type Trade struct {
	ID                types.TradeID   `json:"tradeId" msgpack:"tradeId"`
	Timestamp         types.Timestamp `json:"timestamp" msgpack:"timestamp"`
	Direction         types.Direction `json:"direction" msgpack:"direction"`
	AggressingOrderID types.OrderID   `json:"aggressingOrderId" msgpack:"aggressingOrderId"`
	RestingOrderID    types.OrderID   `json:"restingOrderId" msgpack:"restingOrderId"`
	Volume            decimal.Decimal `json:"volume" msgpack:"volume"`
	Price             decimal.Decimal `json:"price" msgpack:"price"`
}

// TradeFactory assigns per-book monotonic trade ids.
type TradeFactory struct {
	counter types.TradeID
}

// CounterState returns the id the next trade will get.
func (f *TradeFactory) CounterState() types.TradeID { return f.counter }

// SetCounterState restores the counter, used by checkpoint recovery.
func (f *TradeFactory) SetCounterState(c types.TradeID) { f.counter = c }

func (f *TradeFactory) make(
	timestamp types.Timestamp,
	direction types.Direction,
	aggressing, resting types.OrderID,
	volume, price decimal.Decimal,
) *Trade {
	t := &Trade{
		ID:                f.counter,
		Timestamp:         timestamp,
		Direction:         direction,
		AggressingOrderID: aggressing,
		RestingOrderID:    resting,
		Volume:            volume,
		Price:             price,
	}
	f.counter++
	return t
}
