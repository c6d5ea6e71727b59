package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// TradeHandler observes each fill, synchronously inside the matching
// loop. Clearing depends on this ordering; the book never defers a trade.
type TradeHandler func(t *Trade, resting, aggressing types.OrderClientContext)

// RemoveHandler observes a resting limit order leaving the book through a
// full fill or cancellation.
type RemoveHandler func(o *Order)

// STPCancelHandler observes a resting order being decremented (or fully
// cancelled) by DC self-trade prevention. cancelledTotal is in total
// (leveraged) volume units.
type STPCancelHandler func(o *Order, cancelledTotal decimal.Decimal, full bool)

// DecrementHandler observes the aggressing order losing cancelledTotal of
// its total volume to DC self-trade prevention.
type DecrementHandler func(o *Order, cancelledTotal decimal.Decimal)

// Book is a per-instrument price-time-priority matching engine. The buy
// and sell queues hold price levels ordered ascending; the best bid is
// the maximum of the buy queue and the best ask the minimum of the sell
// queue. All dispatch to observers happens synchronously.
type Book struct {
	id types.BookID

	buyQueue  *btree.BTreeG[*Level]
	sellQueue *btree.BTreeG[*Level]

	// Resting-order arena: a single lookup serves cancellation and the
	// client-context index used during clearing.
	resting   map[types.OrderID]*Order
	levelOf   map[types.OrderID]*Level
	clientCtx map[types.OrderID]types.OrderClientContext

	orderFactory OrderFactory
	tradeFactory TradeFactory

	createHandlers    []CreateHandler
	tradeHandlers     []TradeHandler
	removeHandlers    []RemoveHandler
	stpCancelHandlers []STPCancelHandler
	decrementHandlers []DecrementHandler
}

// CreateHandler observes an order the moment it is created, before any
// matching. The exchange registers it with the owner's account here so
// clearing finds both sides of every fill.
type CreateHandler func(o *Order, ctx types.OrderClientContext)

// New creates an empty book.
func New(id types.BookID) *Book {
	less := func(a, b *Level) bool { return a.Price.LessThan(b.Price) }
	return &Book{
		id:        id,
		buyQueue:  btree.NewBTreeG(less),
		sellQueue: btree.NewBTreeG(less),
		resting:   make(map[types.OrderID]*Order),
		levelOf:   make(map[types.OrderID]*Level),
		clientCtx: make(map[types.OrderID]types.OrderClientContext),
	}
}

// ID returns the book id.
func (b *Book) ID() types.BookID { return b.id }

// OrderFactory exposes the id counter, used to pre-allocate the id of the
// next order during clearing.
func (b *Book) OrderFactory() *OrderFactory { return &b.orderFactory }

// TradeFactory exposes the trade id counter.
func (b *Book) TradeFactory() *TradeFactory { return &b.tradeFactory }

// OnCreate registers an order-creation observer.
func (b *Book) OnCreate(h CreateHandler) { b.createHandlers = append(b.createHandlers, h) }

// OnTrade registers a fill observer.
func (b *Book) OnTrade(h TradeHandler) { b.tradeHandlers = append(b.tradeHandlers, h) }

// OnRemove registers a resting-order-removal observer.
func (b *Book) OnRemove(h RemoveHandler) { b.removeHandlers = append(b.removeHandlers, h) }

// OnSTPCancel registers an observer for DC-cancelled resting volume.
func (b *Book) OnSTPCancel(h STPCancelHandler) {
	b.stpCancelHandlers = append(b.stpCancelHandlers, h)
}

// OnAggressorDecrement registers an observer for DC-cancelled aggressing
// volume.
func (b *Book) OnAggressorDecrement(h DecrementHandler) {
	b.decrementHandlers = append(b.decrementHandlers, h)
}

// ClientContext returns the owner context recorded for an order id.
func (b *Book) ClientContext(id types.OrderID) (types.OrderClientContext, bool) {
	ctx, ok := b.clientCtx[id]
	return ctx, ok
}

// Order returns a resting order by id.
func (b *Book) Order(id types.OrderID) (*Order, bool) {
	o, ok := b.resting[id]
	return o, ok
}

// BestBid returns the highest resting buy price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	if lvl, ok := b.buyQueue.Max(); ok {
		return lvl.Price, true
	}
	return num.Zero, false
}

// BestAsk returns the lowest resting sell price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if lvl, ok := b.sellQueue.Min(); ok {
		return lvl.Price, true
	}
	return num.Zero, false
}

// BestBidOrZero returns the best bid, or zero on an empty side.
func (b *Book) BestBidOrZero() decimal.Decimal {
	p, _ := b.BestBid()
	return p
}

// BestAskOrZero returns the best ask, or zero on an empty side.
func (b *Book) BestAskOrZero() decimal.Decimal {
	p, _ := b.BestAsk()
	return p
}

// MidPrice returns (bestBid+bestAsk)/2, or false when either side is
// empty.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return num.Zero, false
	}
	return bid.Add(ask).Div(num.Two), true
}

// SellLevels iterates sell levels ascending (best ask first) while fn
// returns true. Read-only.
func (b *Book) SellLevels(fn func(*Level) bool) {
	b.sellQueue.Scan(fn)
}

// BuyLevels iterates buy levels descending (best bid first) while fn
// returns true. Read-only.
func (b *Book) BuyLevels(fn func(*Level) bool) {
	b.buyQueue.Reverse(fn)
}

// SideEmpty reports whether the given side has no resting orders.
func (b *Book) SideEmpty(d types.Direction) bool {
	if d == types.Buy {
		return b.buyQueue.Len() == 0
	}
	return b.sellQueue.Len() == 0
}

// PlaceLimitOrder creates a limit order with the next id, matches the
// crossing part against the opposite side bounded by its price, and rests
// the residual unless the time-in-force forbids it. Post-only and
// IOC/FOK admissibility are the validator's concern; the book only
// executes.
func (b *Book) PlaceLimitOrder(
	direction types.Direction,
	timestamp types.Timestamp,
	volume, price, leverage decimal.Decimal,
	ctx types.OrderClientContext,
	stpFlag types.STPFlag,
	settleFlag types.SettleFlag,
	postOnly bool,
	timeInForce types.TimeInForce,
	expiryPeriod *types.Timestamp,
) *Order {
	o := b.orderFactory.MakeLimitOrder(
		direction, timestamp, volume, price, leverage,
		stpFlag, settleFlag, postOnly, timeInForce, expiryPeriod)
	b.clientCtx[o.ID] = ctx
	for _, h := range b.createHandlers {
		h(o, ctx)
	}

	b.match(o, ctx, true)

	if o.TotalVolume().IsPositive() {
		switch timeInForce {
		case types.GTC, types.GTT:
			b.rest(o)
		default:
			// IOC residual is discarded synchronously; FOK either fills
			// in full or was rejected upstream.
			delete(b.clientCtx, o.ID)
		}
	} else {
		delete(b.clientCtx, o.ID)
	}
	return o
}

// PlaceMarketOrder creates a market order with the next id and walks the
// opposite side until the volume is exhausted or the side empties.
// Residual unfilled volume is dropped, never rested.
func (b *Book) PlaceMarketOrder(
	direction types.Direction,
	timestamp types.Timestamp,
	volume, leverage decimal.Decimal,
	ctx types.OrderClientContext,
	stpFlag types.STPFlag,
	settleFlag types.SettleFlag,
) *Order {
	o := b.orderFactory.MakeMarketOrder(
		direction, timestamp, volume, leverage, stpFlag, settleFlag)
	b.clientCtx[o.ID] = ctx
	for _, h := range b.createHandlers {
		h(o, ctx)
	}
	b.match(o, ctx, false)
	delete(b.clientCtx, o.ID)
	return o
}

// CancelOrder removes an order entirely when amount is nil or at least
// its residual total volume, otherwise decrements it in place. Cancel of
// an unknown id is a no-op returning false.
func (b *Book) CancelOrder(id types.OrderID, amount *decimal.Decimal) bool {
	o, ok := b.resting[id]
	if !ok {
		return false
	}
	if amount == nil || amount.GreaterThanOrEqual(o.TotalVolume()) {
		b.removeResting(o)
		return true
	}
	lvl := b.levelOf[id]
	o.RemoveLeveragedVolume(*amount)
	lvl.reduce(*amount)
	return true
}

func (b *Book) rest(o *Order) {
	queue := b.sellQueue
	if o.Direction == types.Buy {
		queue = b.buyQueue
	}
	lvl, ok := queue.Get(&Level{Price: o.Price})
	if !ok {
		lvl = newLevel(o.Price)
		queue.Set(lvl)
	}
	lvl.append(o)
	b.resting[o.ID] = o
	b.levelOf[o.ID] = lvl
}

func (b *Book) removeResting(o *Order) {
	lvl := b.levelOf[o.ID]
	for i, cand := range lvl.Orders {
		if cand.ID == o.ID {
			lvl.remove(i)
			break
		}
	}
	b.dropLevelIfEmpty(lvl, o.Direction)
	delete(b.resting, o.ID)
	delete(b.levelOf, o.ID)
	delete(b.clientCtx, o.ID)
	for _, h := range b.removeHandlers {
		h(o)
	}
}

func (b *Book) dropLevelIfEmpty(lvl *Level, side types.Direction) {
	if !lvl.Empty() {
		return
	}
	if side == types.Buy {
		b.buyQueue.Delete(lvl)
	} else {
		b.sellQueue.Delete(lvl)
	}
}

// match walks the side opposite to o, best price first, FIFO within each
// level, and emits a Trade per fill. priceBound constrains limit orders
// to levels at or better than o.Price. A price cursor advances past
// levels whose remaining orders were all skipped by self-trade
// prevention.
func (b *Book) match(o *Order, ctx types.OrderClientContext, priceBound bool) {
	restingSide := types.Sell
	if o.Direction == types.Sell {
		restingSide = types.Buy
	}

	var cursor *decimal.Decimal
	for o.TotalVolume().IsPositive() {
		lvl, ok := b.nextLevel(o.Direction, cursor)
		if !ok {
			return
		}
		if priceBound {
			if o.Direction == types.Buy && lvl.Price.GreaterThan(o.Price) {
				return
			}
			if o.Direction == types.Sell && lvl.Price.LessThan(o.Price) {
				return
			}
		}

		price := lvl.Price
		b.matchLevel(o, ctx, lvl)
		b.dropLevelIfEmpty(lvl, restingSide)
		cursor = &price
	}
}

// nextLevel returns the best opposite-side level strictly beyond the
// cursor price.
func (b *Book) nextLevel(aggressor types.Direction, cursor *decimal.Decimal) (*Level, bool) {
	var found *Level
	if aggressor == types.Buy {
		if cursor == nil {
			return b.sellQueue.Min()
		}
		b.sellQueue.Ascend(&Level{Price: *cursor}, func(lvl *Level) bool {
			if lvl.Price.GreaterThan(*cursor) {
				found = lvl
				return false
			}
			return true
		})
	} else {
		if cursor == nil {
			return b.buyQueue.Max()
		}
		b.buyQueue.Descend(&Level{Price: *cursor}, func(lvl *Level) bool {
			if lvl.Price.LessThan(*cursor) {
				found = lvl
				return false
			}
			return true
		})
	}
	return found, found != nil
}

// matchLevel fills o against one level, FIFO, honouring self-trade
// prevention for same-agent resting orders.
func (b *Book) matchLevel(o *Order, ctx types.OrderClientContext, lvl *Level) {
	i := 0
	for o.TotalVolume().IsPositive() && i < len(lvl.Orders) {
		resting := lvl.Orders[i]
		restingCtx := b.clientCtx[resting.ID]

		if restingCtx.AgentID == ctx.AgentID && o.STPFlag != types.STPNone {
			switch o.STPFlag {
			case types.STPDecrementBoth:
				b.decrementBoth(o, resting, lvl)
				if resting.TotalVolume().IsZero() {
					// removeResting reindexes the slice; stay at i.
					b.removeResting(resting)
					continue
				}
			}
			// CO skips the resting order; CN/CB collisions are rejected
			// by the validator before the order reaches the book.
			i++
			continue
		}

		fill := num.Min(o.TotalVolume(), resting.TotalVolume())
		o.RemoveLeveragedVolume(fill)
		resting.RemoveLeveragedVolume(fill)
		lvl.reduce(fill)

		trade := b.tradeFactory.make(
			o.Timestamp, o.Direction, o.ID, resting.ID, fill, lvl.Price)
		for _, h := range b.tradeHandlers {
			h(trade, restingCtx, ctx)
		}

		if resting.TotalVolume().IsZero() {
			b.removeResting(resting)
			continue
		}
		i++
	}
}

// decrementBoth applies DC self-trade prevention: both orders lose the
// smaller residual; whichever reaches zero is cancelled.
func (b *Book) decrementBoth(o, resting *Order, lvl *Level) {
	dec := num.Min(o.TotalVolume(), resting.TotalVolume())
	o.RemoveLeveragedVolume(dec)
	resting.RemoveLeveragedVolume(dec)
	lvl.reduce(dec)
	for _, h := range b.stpCancelHandlers {
		h(resting, dec, resting.TotalVolume().IsZero())
	}
	for _, h := range b.decrementHandlers {
		h(o, dec)
	}
}

// Depth returns up to maxLevels aggregated (price, volume) pairs for one
// side, best price first. A non-positive maxLevels returns all levels.
func (b *Book) Depth(side types.Direction, maxLevels int) []LevelView {
	var out []LevelView
	collect := func(lvl *Level) bool {
		out = append(out, LevelView{Price: lvl.Price, Volume: lvl.Volume()})
		return maxLevels <= 0 || len(out) < maxLevels
	}
	if side == types.Buy {
		b.BuyLevels(collect)
	} else {
		b.SellLevels(collect)
	}
	return out
}

// LevelView is an aggregated L2 view of one price level.
type LevelView struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}
