package book

import (
	"github.com/shopspring/decimal"
)

// Level is one price tick: the FIFO of resting limit orders at a single
// price plus a cached total volume. The cache counts leveraged (total)
// volume and must equal the sum over the resting orders at all times.
type Level struct {
	Price  decimal.Decimal
	Orders []*Order

	volume decimal.Decimal
}

func newLevel(price decimal.Decimal) *Level {
	return &Level{Price: price}
}

// Volume is the cached total volume resting at this price.
func (l *Level) Volume() decimal.Decimal { return l.volume }

// Empty reports whether no orders rest here. Empty levels are removed
// from their queue.
func (l *Level) Empty() bool { return len(l.Orders) == 0 }

func (l *Level) append(o *Order) {
	l.Orders = append(l.Orders, o)
	l.volume = l.volume.Add(o.TotalVolume())
}

// reduce adjusts the cached volume after an order at this level had
// deltaTotal of its total volume removed.
func (l *Level) reduce(deltaTotal decimal.Decimal) {
	l.volume = l.volume.Sub(deltaTotal)
}

// remove drops the order at index i, keeping FIFO order of the rest.
func (l *Level) remove(i int) {
	o := l.Orders[i]
	l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
	l.volume = l.volume.Sub(o.TotalVolume())
}
