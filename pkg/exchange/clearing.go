package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// MarginEntry tracks one live leveraged order under its margin-call
// price.
type MarginEntry struct {
	OrderID types.OrderID
	AgentID types.AgentID
}

// marginBucket groups the entries sharing one margin-call price,
// FIFO-ordered within the bucket.
type marginBucket struct {
	price   decimal.Decimal
	entries []MarginEntry
}

// ExchangeConfig carries the margin limits of the exchange.
type ExchangeConfig struct {
	MaintenanceMargin decimal.Decimal
	MaxLeverage       decimal.Decimal
	MaxLoan           decimal.Decimal
}

// ClearingManager orchestrates order life-cycles: validation, reserving
// on the balances, committing fills with fees, releasing reservations on
// cancel, and maintaining the per-book margin-call price index.
type ClearingManager struct {
	books     func(types.BookID) *book.Book
	registry  *accounting.AccountRegistry
	feePolicy *FeePolicyWrapper
	validator *OrderPlacementValidator

	cfg    ExchangeConfig
	params ValidatorParams

	marginBuy  map[types.BookID]*btree.BTreeG[*marginBucket]
	marginSell map[types.BookID]*btree.BTreeG[*marginBucket]

	// Orders exempt from the reservation-presence fatal: force-closes
	// placed on behalf of margin-called agents.
	forced map[types.OrderID]struct{}

	log *zap.SugaredLogger
}

// NewClearingManager wires the clearing manager to its collaborators.
// books resolves a book id to the live book.
func NewClearingManager(
	books func(types.BookID) *book.Book,
	registry *accounting.AccountRegistry,
	feePolicy *FeePolicyWrapper,
	validatorParams ValidatorParams,
	cfg ExchangeConfig,
	log *zap.SugaredLogger,
) *ClearingManager {
	return &ClearingManager{
		books:      books,
		registry:   registry,
		feePolicy:  feePolicy,
		validator:  NewOrderPlacementValidator(validatorParams),
		cfg:        cfg,
		params:     validatorParams,
		marginBuy:  make(map[types.BookID]*btree.BTreeG[*marginBucket]),
		marginSell: make(map[types.BookID]*btree.BTreeG[*marginBucket]),
		forced:     make(map[types.OrderID]struct{}),
		log:        log,
	}
}

// FeePolicy exposes the wrapped fee policy.
func (c *ClearingManager) FeePolicy() *FeePolicyWrapper { return c.feePolicy }

// Validator exposes the placement validator.
func (c *ClearingManager) Validator() *OrderPlacementValidator { return c.validator }

// Config returns the margin limits.
func (c *ClearingManager) Config() ExchangeConfig { return c.cfg }

// HandleMarketOrder validates a market order and reserves funds for it.
// The returned result carries the reservation amount; the caller then
// asks the book to create the order under the pre-allocated id.
func (c *ClearingManager) HandleMarketOrder(
	agentID types.AgentID, payload *message.PlaceOrderMarketPayload,
) (ValidationResult, types.OrderErrorCode) {
	account, err := c.registry.At(agentID)
	if err != nil {
		return ValidationResult{}, types.NonexistentAccount
	}
	bk := c.books(payload.BookID)

	result, code := c.validator.ValidateMarketOrderPlacement(
		account, bk, payload, c.feePolicy, c.cfg.MaxLeverage, c.cfg.MaxLoan, agentID)
	if code != types.Valid {
		return result, code
	}
	if err := c.reserve(account, bk, payload.Direction, num.Zero, result); err != nil {
		c.log.Warnw("reservation_failed",
			"agent", agentID, "book", payload.BookID, "err", err)
		if payload.Direction == types.Buy {
			return result, types.InsufficientQuote
		}
		return result, types.InsufficientBase
	}
	return result, types.Valid
}

// HandleLimitOrder validates a limit order and reserves funds for it.
func (c *ClearingManager) HandleLimitOrder(
	agentID types.AgentID, payload *message.PlaceOrderLimitPayload,
) (ValidationResult, types.OrderErrorCode) {
	account, err := c.registry.At(agentID)
	if err != nil {
		return ValidationResult{}, types.NonexistentAccount
	}
	bk := c.books(payload.BookID)

	result, code := c.validator.ValidateLimitOrderPlacement(
		account, bk, payload, c.feePolicy, c.cfg.MaxLeverage, c.cfg.MaxLoan, agentID)
	if code != types.Valid {
		return result, code
	}
	if err := c.reserve(account, bk, payload.Direction, payload.Price, result); err != nil {
		c.log.Warnw("reservation_failed",
			"agent", agentID, "book", payload.BookID, "err", err)
		if payload.Direction == types.Buy {
			return result, types.InsufficientQuote
		}
		return result, types.InsufficientBase
	}
	return result, types.Valid
}

// reserve locks the validated amount under the id the book will assign
// next. Limit orders reserve at their price, market orders at the
// opposite best.
func (c *ClearingManager) reserve(
	account *accounting.Account,
	bk *book.Book,
	direction types.Direction,
	price decimal.Decimal,
	result ValidationResult,
) error {
	orderID := bk.OrderFactory().CounterState()
	curPrice := bk.BestAskOrZero()
	if direction == types.Sell {
		curPrice = bk.BestBidOrZero()
	}
	reservationPrice := price
	if !reservationPrice.IsPositive() {
		reservationPrice = curPrice
	}
	balances := account.At(bk.ID())
	_, err := balances.MakeReservation(
		orderID, reservationPrice,
		bk.BestBidOrZero(), bk.BestAskOrZero(),
		result.Amount, result.Leverage, direction)
	return err
}

// HandleTrade clears one fill: both sides already hold reservations made
// at placement. Fees are computed and rounded here, the aggressor commits
// first, then the resting side, margin-call prices are recorded for
// leveraged participants, fully settled loans are purged from the index,
// and the fee-tier histories advance. A reservation-less aggressor is a
// validator bug and fatal.
func (c *ClearingManager) HandleTrade(desc TradeDesc) types.Fees {
	bk := c.books(desc.BookID)
	trade := desc.Trade

	restingAccount := c.mustAccount(desc.RestingAgentID)
	aggressingAccount := c.mustAccount(desc.AggressingAgentID)

	restingOrder, ok := restingAccount.Active(desc.BookID)[trade.RestingOrderID]
	if !ok {
		panic(fmt.Sprintf(
			"agent #%d book %d: resting order #%d not found in active orders",
			desc.RestingAgentID, desc.BookID, trade.RestingOrderID))
	}
	aggressingOrder, ok := aggressingAccount.Active(desc.BookID)[trade.AggressingOrderID]
	if !ok {
		panic(fmt.Sprintf(
			"agent #%d book %d: aggressing order #%d not found in active orders",
			desc.AggressingAgentID, desc.BookID, trade.AggressingOrderID))
	}

	fees := c.feePolicy.CalculateFees(desc)
	fees.Taker = num.Round(fees.Taker, c.params.QuoteIncrementDecimals)
	fees.Maker = num.Round(fees.Maker, c.params.QuoteIncrementDecimals)

	restingBalance := restingAccount.At(desc.BookID)
	aggressingBalance := aggressingAccount.At(desc.BookID)

	bestBid := bk.BestBidOrZero()
	bestAsk := bk.BestAskOrZero()

	if trade.Direction == types.Buy {
		// Aggressing buy holds quote, resting sell holds base.
		aggLeverage := aggressingBalance.GetLeverage(trade.AggressingOrderID, types.Buy)
		reservation := num.Round(
			aggressingBalance.ReservationInQuote(trade.AggressingOrderID, bestAsk).
				Mul(num.OneP(aggLeverage)),
			c.params.QuoteIncrementDecimals)

		totalPrice := num.Round(trade.Price, c.params.PriceIncrementDecimals).
			Mul(num.Round(trade.Volume, c.params.VolumeIncrementDecimals))
		if aggressingOrder.IsLimit() {
			if reservation.IsZero() {
				if _, forced := c.forced[trade.AggressingOrderID]; !forced {
					panic(fmt.Sprintf(
						"agent #%d book %d: no reservation for aggressing BUY order #%d",
						desc.AggressingAgentID, desc.BookID, trade.AggressingOrderID))
				}
			} else if aggressingOrder.TotalVolume().IsZero() {
				// Last fill of the order: consume the whole remaining
				// reservation, absorbing rounding drift.
				totalPrice = reservation.Sub(fees.Taker)
			}
		}

		aggMarginCall := num.Zero
		restMarginCall := num.Zero
		if aggressingOrder.Leverage.IsPositive() {
			aggMarginCall = accounting.MarginCallPrice(
				trade.Price, aggressingOrder.Leverage, types.Buy, c.cfg.MaintenanceMargin)
			c.indexMargin(desc.BookID, types.Buy, aggMarginCall,
				MarginEntry{OrderID: trade.AggressingOrderID, AgentID: desc.AggressingAgentID})
		}
		if restingOrder.Leverage.IsPositive() {
			restMarginCall = accounting.MarginCallPrice(
				trade.Price, restingOrder.Leverage, types.Sell, c.cfg.MaintenanceMargin)
			c.indexMargin(desc.BookID, types.Sell, restMarginCall,
				MarginEntry{OrderID: trade.RestingOrderID, AgentID: desc.RestingAgentID})
		}

		aggressingVolume := num.Round(totalPrice, c.params.QuoteIncrementDecimals)
		restingVolume := num.Round(trade.Volume, c.params.BaseIncrementDecimals)
		tradeQuote := num.Round(
			trade.Volume.Mul(trade.Price), c.params.QuoteIncrementDecimals)

		c.feePolicy.UpdateHistory(desc.BookID, desc.RestingAgentID, tradeQuote)
		c.feePolicy.UpdateHistory(desc.BookID, desc.AggressingAgentID, aggressingVolume)

		settledShort := aggressingBalance.Commit(
			trade.AggressingOrderID, types.Buy,
			aggressingVolume, restingVolume, fees.Taker,
			bestBid, bestAsk, aggMarginCall, aggressingOrder.SettleFlag)
		settledMarginBuy := restingBalance.Commit(
			trade.RestingOrderID, types.Sell,
			restingVolume, aggressingVolume, fees.Maker,
			bestBid, bestAsk, restMarginCall, restingOrder.SettleFlag)

		c.removeMarginOrders(desc.BookID, types.Buy, settledMarginBuy)
		c.removeMarginOrders(desc.BookID, types.Sell, settledShort)
	} else {
		// Aggressing sell holds base, resting buy holds quote.
		restLeverage := restingBalance.GetLeverage(trade.RestingOrderID, types.Buy)
		reservation := num.Round(
			restingBalance.ReservationInQuote(trade.RestingOrderID, bestBid).
				Mul(num.OneP(restLeverage)),
			c.params.QuoteIncrementDecimals)
		if reservation.IsZero() {
			panic(fmt.Sprintf(
				"agent #%d book %d: no reservation for resting BUY order #%d",
				desc.RestingAgentID, desc.BookID, trade.RestingOrderID))
		}

		aggMarginCall := num.Zero
		restMarginCall := num.Zero
		if aggressingOrder.Leverage.IsPositive() {
			aggMarginCall = accounting.MarginCallPrice(
				trade.Price, aggressingOrder.Leverage, types.Sell, c.cfg.MaintenanceMargin)
			c.indexMargin(desc.BookID, types.Sell, aggMarginCall,
				MarginEntry{OrderID: trade.AggressingOrderID, AgentID: desc.AggressingAgentID})
		}
		if restingOrder.Leverage.IsPositive() {
			restMarginCall = accounting.MarginCallPrice(
				trade.Price, restingOrder.Leverage, types.Buy, c.cfg.MaintenanceMargin)
			c.indexMargin(desc.BookID, types.Buy, restMarginCall,
				MarginEntry{OrderID: trade.RestingOrderID, AgentID: desc.RestingAgentID})
		}

		aggressingVolume := num.Round(trade.Volume, c.params.BaseIncrementDecimals)
		restingVolume := num.Round(
			trade.Price.Mul(trade.Volume), c.params.QuoteIncrementDecimals)
		if restingOrder.TotalVolume().IsZero() && reservation.IsPositive() {
			restingVolume = reservation.Sub(fees.Maker)
		}
		tradeQuote := num.Round(
			trade.Volume.Mul(trade.Price), c.params.QuoteIncrementDecimals)

		c.feePolicy.UpdateHistory(desc.BookID, desc.RestingAgentID, tradeQuote)
		c.feePolicy.UpdateHistory(desc.BookID, desc.AggressingAgentID, restingVolume)

		settledMarginBuy := aggressingBalance.Commit(
			trade.AggressingOrderID, types.Sell,
			aggressingVolume, restingVolume, fees.Taker,
			bestBid, bestAsk, aggMarginCall, aggressingOrder.SettleFlag)
		settledShort := restingBalance.Commit(
			trade.RestingOrderID, types.Buy,
			restingVolume, aggressingVolume, fees.Maker,
			bestBid, bestAsk, restMarginCall, restingOrder.SettleFlag)

		c.removeMarginOrders(desc.BookID, types.Sell, settledShort)
		c.removeMarginOrders(desc.BookID, types.Buy, settledMarginBuy)
	}

	return fees
}

// HandleCancelOrder releases the reservation behind a cancelled (portion
// of an) order and drops fully cancelled orders from the active set.
// volumeToCancel is in total (leveraged) volume units.
func (c *ClearingManager) HandleCancelOrder(
	bookID types.BookID, agentID types.AgentID, order *book.Order, volumeToCancel decimal.Decimal,
) {
	bk := c.books(bookID)
	account := c.mustAccount(agentID)
	balances := account.At(bookID)

	full := volumeToCancel.GreaterThanOrEqual(order.TotalVolume())

	var amount *decimal.Decimal
	if !full {
		if order.Direction == types.Buy {
			makerRate := c.feePolicy.GetRates(bookID, agentID).Maker
			quote := num.Round(
				num.Round(order.Price, c.params.PriceIncrementDecimals).
					Mul(num.Round(volumeToCancel, c.params.VolumeIncrementDecimals)).
					Mul(num.OneP(makerRate)).
					Div(num.OneP(order.Leverage)),
				c.params.QuoteIncrementDecimals)
			if res, ok := balances.Quote.Reservation(order.ID); ok {
				quote = num.Min(quote, res)
			}
			amount = &quote
		} else {
			base := num.Round(
				volumeToCancel.Div(num.OneP(order.Leverage)),
				c.params.VolumeIncrementDecimals)
			if res, ok := balances.Base.Reservation(order.ID); ok {
				base = num.Min(base, res)
			}
			amount = &base
		}
	}

	if _, err := balances.FreeReservation(
		order.ID, order.Price,
		bk.BestBidOrZero(), bk.BestAskOrZero(),
		order.Direction, amount); err != nil {
		panic(fmt.Sprintf(
			"agent #%d book %d: cancelling order #%d: %v",
			agentID, bookID, order.ID, err))
	}

	if full {
		account.Unregister(bookID, order.ID)
	}

	if len(account.Active(bookID)) == 0 {
		if balances.Quote.Reserved().IsPositive() {
			panic(fmt.Sprintf(
				"agent #%d book %d: reserved quote %s with no active orders after cancelling #%d",
				agentID, bookID, balances.Quote.Reserved(), order.ID))
		}
		if balances.Base.Reserved().IsPositive() {
			panic(fmt.Sprintf(
				"agent #%d book %d: reserved base %s with no active orders after cancelling #%d",
				agentID, bookID, balances.Base.Reserved(), order.ID))
		}
	}
}

// UpdateFeeTiers advances the fee-tier clock.
func (c *ClearingManager) UpdateFeeTiers(now types.Timestamp) {
	c.feePolicy.UpdateAgentsTiers(now)
}

// MarkForced exempts an order id from the aggressor-reservation fatal,
// used for margin-call force-closes.
func (c *ClearingManager) MarkForced(id types.OrderID) {
	c.forced[id] = struct{}{}
}

// UnmarkForced clears the exemption.
func (c *ClearingManager) UnmarkForced(id types.OrderID) {
	delete(c.forced, id)
}

func (c *ClearingManager) mustAccount(agentID types.AgentID) *accounting.Account {
	account, err := c.registry.At(agentID)
	if err != nil {
		panic(fmt.Sprintf("clearing: %v", err))
	}
	return account
}

func (c *ClearingManager) marginIndex(
	bookID types.BookID, direction types.Direction,
) *btree.BTreeG[*marginBucket] {
	cont := c.marginBuy
	if direction == types.Sell {
		cont = c.marginSell
	}
	idx, ok := cont[bookID]
	if !ok {
		idx = btree.NewBTreeG(func(a, b *marginBucket) bool {
			return a.price.LessThan(b.price)
		})
		cont[bookID] = idx
	}
	return idx
}

func (c *ClearingManager) indexMargin(
	bookID types.BookID, direction types.Direction,
	price decimal.Decimal, entry MarginEntry,
) {
	idx := c.marginIndex(bookID, direction)
	bucket, ok := idx.Get(&marginBucket{price: price})
	if !ok {
		bucket = &marginBucket{price: price}
		idx.Set(bucket)
	}
	bucket.entries = append(bucket.entries, entry)
}

// removeMarginOrders purges fully settled loans from the margin index.
func (c *ClearingManager) removeMarginOrders(
	bookID types.BookID, direction types.Direction, settled []accounting.SettledLoan,
) {
	if len(settled) == 0 {
		return
	}
	idx := c.marginIndex(bookID, direction)
	for _, s := range settled {
		bucket, ok := idx.Get(&marginBucket{price: s.MarginCallPrice})
		if !ok {
			continue
		}
		kept := bucket.entries[:0]
		for _, e := range bucket.entries {
			if e.OrderID != s.OrderID {
				kept = append(kept, e)
			}
		}
		bucket.entries = kept
		if len(bucket.entries) == 0 {
			idx.Delete(bucket)
		}
	}
}

// CrossedMarginCalls returns, FIFO per price bucket, the leveraged
// positions whose margin-call price is crossed by the reference price:
// buy positions once the price falls to or below p*, sell positions once
// it rises to or above p*. The scan walks prices monotonically and stops
// at the first non-crossed bucket. Returned entries are removed from the
// index; the caller force-closes them.
func (c *ClearingManager) CrossedMarginCalls(
	bookID types.BookID, refPrice decimal.Decimal,
) (buys, sells []MarginEntry) {
	if idx, ok := c.marginBuy[bookID]; ok {
		var crossed []*marginBucket
		idx.Reverse(func(b *marginBucket) bool {
			if b.price.GreaterThanOrEqual(refPrice) {
				crossed = append(crossed, b)
				return true
			}
			return false
		})
		for _, b := range crossed {
			buys = append(buys, b.entries...)
			idx.Delete(b)
		}
	}
	if idx, ok := c.marginSell[bookID]; ok {
		var crossed []*marginBucket
		idx.Scan(func(b *marginBucket) bool {
			if b.price.LessThanOrEqual(refPrice) {
				crossed = append(crossed, b)
				return true
			}
			return false
		})
		for _, b := range crossed {
			sells = append(sells, b.entries...)
			idx.Delete(b)
		}
	}
	return buys, sells
}
