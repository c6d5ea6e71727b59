package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/event"
	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Dispatch delivers an outbound message onto the simulation bus.
type Dispatch func(msg *message.Message)

// MultiBookExchangeAgent is the front door of the exchange core: it
// accepts request messages, drives the clearing manager and the books,
// assembles response and event messages, and maintains the subscription
// registries and the per-book L3 record.
type MultiBookExchangeAgent struct {
	books    []*book.Book
	accounts *accounting.AccountRegistry
	clearing *ClearingManager

	record       *event.RecordContainer
	retainRecord bool

	dispatch Dispatch
	now      func() types.Timestamp

	marketOrderSubs map[types.AgentID]struct{}
	limitOrderSubs  map[types.AgentID]struct{}
	tradeSubs       map[types.AgentID]struct{}
	tradeByOrder    map[types.OrderID]map[types.AgentID]struct{}

	log *zap.SugaredLogger
}

// NewMultiBookExchangeAgent builds the exchange over bookCount books with
// the given account template and fee policy. dispatch and now connect it
// to the simulation bus and clock.
func NewMultiBookExchangeAgent(
	bookCount int,
	template accounting.Balances,
	feePolicy *FeePolicy,
	validatorParams ValidatorParams,
	cfg ExchangeConfig,
	dispatch Dispatch,
	now func() types.Timestamp,
	log *zap.SugaredLogger,
) *MultiBookExchangeAgent {
	a := &MultiBookExchangeAgent{
		record:          event.NewRecordContainer(),
		retainRecord:    true,
		dispatch:        dispatch,
		now:             now,
		marketOrderSubs: make(map[types.AgentID]struct{}),
		limitOrderSubs:  make(map[types.AgentID]struct{}),
		tradeSubs:       make(map[types.AgentID]struct{}),
		tradeByOrder:    make(map[types.OrderID]map[types.AgentID]struct{}),
		log:             log,
	}
	a.accounts = accounting.NewAccountRegistry(bookCount, template)
	wrapper := NewFeePolicyWrapper(feePolicy, a.accounts)
	a.clearing = NewClearingManager(
		a.Book, a.accounts, wrapper, validatorParams, cfg, log)

	for i := 0; i < bookCount; i++ {
		bk := book.New(types.BookID(i))
		a.wireBook(bk)
		a.books = append(a.books, bk)
	}
	return a
}

func (a *MultiBookExchangeAgent) wireBook(bk *book.Book) {
	bookID := bk.ID()

	bk.OnCreate(func(o *book.Order, ctx types.OrderClientContext) {
		if account, err := a.accounts.At(ctx.AgentID); err == nil {
			account.Register(bookID, o)
		}
	})

	bk.OnTrade(func(t *book.Trade, resting, aggressing types.OrderClientContext) {
		desc := TradeDesc{
			BookID:            bookID,
			RestingAgentID:    resting.AgentID,
			AggressingAgentID: aggressing.AgentID,
			Trade:             t,
		}
		fees := a.clearing.HandleTrade(desc)

		if a.retainRecord {
			a.record.At(bookID).Push(event.Entry{
				Kind: event.KindTrade,
				Trade: &event.TradeEvent{
					Trade:             *t,
					AggressingAgentID: aggressing.AgentID,
					RestingAgentID:    resting.AgentID,
					Fees:              fees,
				},
			})
		}
		a.notifyTrade(bookID, t, desc, fees, aggressing.ClientOrderID)
	})

	bk.OnRemove(func(o *book.Order) {
		if ctx, ok := bk.ClientContext(o.ID); ok {
			if account, err := a.accounts.At(ctx.AgentID); err == nil {
				account.Unregister(bookID, o.ID)
			}
			return
		}
		// Context already dropped: sweep the registries.
		a.accounts.Each(func(_ types.AgentID, account *accounting.Account) {
			account.Unregister(bookID, o.ID)
		})
	})

	bk.OnSTPCancel(func(o *book.Order, cancelledTotal decimal.Decimal, full bool) {
		ctx, _ := bk.ClientContext(o.ID)
		a.clearing.HandleCancelOrder(bookID, ctx.AgentID, o, cancelledTotal)
		a.pushCancellation(bookID, o.ID, ctx.AgentID, cancelledTotal)
	})

	bk.OnAggressorDecrement(func(o *book.Order, cancelledTotal decimal.Decimal) {
		ctx, _ := bk.ClientContext(o.ID)
		a.clearing.HandleCancelOrder(bookID, ctx.AgentID, o, cancelledTotal)
		a.pushCancellation(bookID, o.ID, ctx.AgentID, cancelledTotal)
	})
}

// Book returns a book by id.
func (a *MultiBookExchangeAgent) Book(id types.BookID) *book.Book {
	return a.books[id]
}

// Books returns all books.
func (a *MultiBookExchangeAgent) Books() []*book.Book { return a.books }

// Accounts returns the account registry.
func (a *MultiBookExchangeAgent) Accounts() *accounting.AccountRegistry {
	return a.accounts
}

// Clearing returns the clearing manager.
func (a *MultiBookExchangeAgent) Clearing() *ClearingManager { return a.clearing }

// L3Record returns the event record container.
func (a *MultiBookExchangeAgent) L3Record() *event.RecordContainer { return a.record }

// RetainRecord toggles L3 recording.
func (a *MultiBookExchangeAgent) RetainRecord(flag bool) { a.retainRecord = flag }

// ReceiveMessage dispatches one request message. Unknown types are
// answered with an error response.
func (a *MultiBookExchangeAgent) ReceiveMessage(msg *message.Message) {
	switch msg.Type {
	case message.TypePlaceOrderMarket:
		a.handlePlaceMarketOrder(msg)
	case message.TypePlaceOrderLimit:
		a.handlePlaceLimitOrder(msg)
	case message.TypeCancelOrders:
		a.handleCancelOrders(msg)
	case message.TypeClosePositions:
		a.handleClosePositions(msg)
	case message.TypeRetrieveL1:
		a.handleRetrieveL1(msg)
	case message.TypeRetrieveBook:
		a.handleRetrieveBook(msg)
	case message.TypeRetrieveOrders:
		a.handleRetrieveOrders(msg)
	case message.TypeResetAgent:
		a.handleResetAgents(msg)
	case message.TypeSubscribeEventOrderMarket:
		a.marketOrderSubs[msg.Source] = struct{}{}
	case message.TypeSubscribeEventOrderLimit:
		a.limitOrderSubs[msg.Source] = struct{}{}
	case message.TypeSubscribeEventTrade:
		a.tradeSubs[msg.Source] = struct{}{}
	case message.TypeSubscribeEventTradeByOrder:
		if payload, ok := msg.Payload.(*message.SubscribeEventTradeByOrderPayload); ok {
			subs, ok := a.tradeByOrder[payload.OrderID]
			if !ok {
				subs = make(map[types.AgentID]struct{})
				a.tradeByOrder[payload.OrderID] = subs
			}
			subs[msg.Source] = struct{}{}
		}
	default:
		a.respondError(msg, types.ContractViolation,
			fmt.Sprintf("unrecognized message type %q", msg.Type))
	}
}

func (a *MultiBookExchangeAgent) handlePlaceMarketOrder(msg *message.Message) {
	payload, ok := msg.Payload.(*message.PlaceOrderMarketPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed market order payload")
		return
	}

	if _, code := a.clearing.HandleMarketOrder(msg.Source, payload); code != types.Valid {
		a.respondError(msg, code, code.String())
		return
	}

	o := a.placeMarket(msg.Source, payload)
	a.respond(msg, message.PrefixResponse+message.TypePlaceOrderMarket,
		&message.PlaceOrderResponsePayload{
			OrderID:       o.ID,
			ClientOrderID: payload.ClientOrderID,
			BookID:        payload.BookID,
			RequestEcho:   payload,
		})
	a.notifyOrderEvent(message.TypeEventOrderMarket, a.marketOrderSubs, o, msg.Source, payload.BookID, payload.ClientOrderID)
}

// placeMarket runs a validated market order through the book and settles
// the leftover reservation of the dropped residual.
func (a *MultiBookExchangeAgent) placeMarket(
	agentID types.AgentID, payload *message.PlaceOrderMarketPayload,
) *book.Order {
	bk := a.Book(payload.BookID)
	tradesBefore := bk.TradeFactory().CounterState()

	o := bk.PlaceMarketOrder(
		payload.Direction, a.now(), payload.Volume, payload.Leverage,
		types.OrderClientContext{AgentID: agentID, ClientOrderID: payload.ClientOrderID},
		payload.STPFlag, payload.SettleFlag)

	if a.retainRecord {
		a.record.At(payload.BookID).Push(event.Entry{
			Kind: event.KindOrder,
			Order: &event.OrderEvent{
				Order: *o,
				Ctx: types.OrderContext{
					AgentID: agentID, BookID: payload.BookID,
					ClientOrderID: payload.ClientOrderID,
				},
			},
		})
	}

	account, err := a.accounts.At(agentID)
	if err != nil {
		return o
	}
	account.Unregister(payload.BookID, o.ID)

	balances := account.At(payload.BookID)
	filled := bk.TradeFactory().CounterState() != tradesBefore
	if !filled {
		// Nothing matched: dissolve the reservation and any loan whole.
		if _, err := balances.FreeReservation(
			o.ID, num.Zero, bk.BestBidOrZero(), bk.BestAskOrZero(),
			o.Direction, nil); err != nil {
			a.log.Debugw("market_order_unmatched_free", "order", o.ID, "err", err)
		}
		return o
	}
	// Partial fill against thin depth: release the drift, keep the loan.
	balances.Base.TryFreeReservation(o.ID, nil)
	balances.Quote.TryFreeReservation(o.ID, nil)
	return o
}

func (a *MultiBookExchangeAgent) handlePlaceLimitOrder(msg *message.Message) {
	payload, ok := msg.Payload.(*message.PlaceOrderLimitPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed limit order payload")
		return
	}

	result, code := a.clearing.HandleLimitOrder(msg.Source, payload)
	if code != types.Valid {
		// A CB rejection still knocks out the touched resting orders.
		for _, id := range result.CancelResting {
			a.cancelByID(payload.BookID, id, nil)
		}
		a.respondError(msg, code, code.String())
		return
	}

	bk := a.Book(payload.BookID)
	o := bk.PlaceLimitOrder(
		payload.Direction, a.now(), payload.Volume, payload.Price, payload.Leverage,
		types.OrderClientContext{AgentID: msg.Source, ClientOrderID: payload.ClientOrderID},
		payload.STPFlag, payload.SettleFlag,
		payload.PostOnly, payload.TimeInForce, payload.ExpiryPeriod)

	if a.retainRecord {
		a.record.At(payload.BookID).Push(event.Entry{
			Kind: event.KindOrder,
			Order: &event.OrderEvent{
				Order: *o,
				Ctx: types.OrderContext{
					AgentID: msg.Source, BookID: payload.BookID,
					ClientOrderID: payload.ClientOrderID,
				},
			},
		})
	}

	account, _ := a.accounts.At(msg.Source)
	balances := account.At(payload.BookID)

	if _, stillOn := bk.Order(o.ID); !stillOn {
		// Fully filled, or an IOC residual was dropped.
		account.Unregister(payload.BookID, o.ID)
		if o.TotalVolume().IsPositive() {
			// Dropped residual: release its share of the reservation.
			a.clearing.HandleCancelOrder(payload.BookID, msg.Source, o, o.TotalVolume())
		} else {
			balances.Base.TryFreeReservation(o.ID, nil)
			balances.Quote.TryFreeReservation(o.ID, nil)
		}
	} else if payload.TimeInForce == types.GTT && payload.ExpiryPeriod != nil {
		a.scheduleExpiry(payload.BookID, o.ID, msg.Source, *payload.ExpiryPeriod)
	}

	a.respond(msg, message.PrefixResponse+message.TypePlaceOrderLimit,
		&message.PlaceOrderResponsePayload{
			OrderID:       o.ID,
			ClientOrderID: payload.ClientOrderID,
			BookID:        payload.BookID,
			RequestEcho:   payload,
		})
	a.notifyOrderEvent(message.TypeEventOrderLimit, a.limitOrderSubs, o, msg.Source, payload.BookID, payload.ClientOrderID)
}

// scheduleExpiry queues the GTT cancel at now + expiry, addressed to the
// exchange itself.
func (a *MultiBookExchangeAgent) scheduleExpiry(
	bookID types.BookID, orderID types.OrderID,
	owner types.AgentID, expiry types.Timestamp,
) {
	a.dispatch(&message.Message{
		Occurrence: a.now(),
		Arrival:    a.now() + expiry,
		Type:       message.TypeCancelOrders,
		Source:     owner,
		Target:     types.ExchangeAgentID,
		Payload: &message.CancelOrdersPayload{
			Cancellations: []message.CancelEntry{{OrderID: orderID}},
			BookID:        bookID,
		},
	})
}

func (a *MultiBookExchangeAgent) handleCancelOrders(msg *message.Message) {
	payload, ok := msg.Payload.(*message.CancelOrdersPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed cancel payload")
		return
	}

	var cancelled []types.OrderID
	for _, entry := range payload.Cancellations {
		if a.cancelByID(payload.BookID, entry.OrderID, entry.Volume) {
			cancelled = append(cancelled, entry.OrderID)
		}
	}
	a.respond(msg, message.PrefixResponse+message.TypeCancelOrders,
		&message.CancelOrdersResponsePayload{
			OrderIDs: cancelled,
			BookID:   payload.BookID,
		})
}

// cancelByID releases the reservation and removes or decrements the
// resting order. Cancels of unknown ids are no-ops returning false.
func (a *MultiBookExchangeAgent) cancelByID(
	bookID types.BookID, orderID types.OrderID, volume *decimal.Decimal,
) bool {
	bk := a.Book(bookID)
	o, ok := bk.Order(orderID)
	if !ok {
		return false
	}
	ctx, _ := bk.ClientContext(orderID)

	toCancel := o.TotalVolume()
	if volume != nil && volume.LessThan(toCancel) {
		toCancel = *volume
	}
	a.clearing.HandleCancelOrder(bookID, ctx.AgentID, o, toCancel)
	bk.CancelOrder(orderID, &toCancel)
	a.pushCancellation(bookID, orderID, ctx.AgentID, toCancel)
	return true
}

func (a *MultiBookExchangeAgent) handleClosePositions(msg *message.Message) {
	payload, ok := msg.Payload.(*message.ClosePositionsPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed close payload")
		return
	}
	account, err := a.accounts.At(msg.Source)
	if err != nil {
		a.respondError(msg, types.NonexistentAccount, err.Error())
		return
	}
	balances := account.At(payload.BookID)

	var closed []types.OrderID
	for _, entry := range payload.Closings {
		loan, ok := balances.Loan(entry.OrderID)
		if !ok {
			continue
		}
		if a.closeLoan(payload.BookID, msg.Source, entry.OrderID, loan, entry.Volume) {
			closed = append(closed, entry.OrderID)
		}
	}
	a.respond(msg, message.PrefixResponse+message.TypeClosePositions,
		&message.ClosePositionsResponsePayload{
			OrderIDs: closed,
			BookID:   payload.BookID,
		})
}

// closeLoan unwinds one leveraged position with a market order in the
// opposite direction, targeting the loan so settlement consumes it before
// any collateral.
func (a *MultiBookExchangeAgent) closeLoan(
	bookID types.BookID,
	agentID types.AgentID,
	orderID types.OrderID,
	loan *accounting.Loan,
	volume *decimal.Decimal,
) bool {
	bk := a.Book(bookID)

	// Buy loans are quote-denominated; convert into base for the
	// unwinding sell at the price it will execute at (the bid). Sell
	// loans are already base.
	closeVolume := loan.Amount
	direction := types.Buy
	if loan.Direction == types.Buy {
		direction = types.Sell
		refPrice := bk.BestBidOrZero()
		if refPrice.IsZero() {
			refPrice = bk.BestAskOrZero()
		}
		if refPrice.IsZero() {
			return false
		}
		closeVolume = loan.Amount.Div(refPrice)
	}
	if volume != nil {
		closeVolume = num.Min(closeVolume, *volume)
	}
	if !closeVolume.IsPositive() {
		return false
	}
	a.forceMarketOrder(bookID, agentID, direction, closeVolume, types.SettleTarget(orderID))
	return true
}

// forceMarketOrder places a market order on behalf of an agent outside
// the validation path, used for position closing and margin-call
// force-closes.
func (a *MultiBookExchangeAgent) forceMarketOrder(
	bookID types.BookID,
	agentID types.AgentID,
	direction types.Direction,
	volume decimal.Decimal,
	settleFlag types.SettleFlag,
) {
	bk := a.Book(bookID)
	orderID := bk.OrderFactory().CounterState()
	a.clearing.MarkForced(orderID)
	defer a.clearing.UnmarkForced(orderID)

	o := bk.PlaceMarketOrder(
		direction, a.now(), volume, num.Zero,
		types.OrderClientContext{AgentID: agentID},
		types.STPNone, settleFlag)

	if account, err := a.accounts.At(agentID); err == nil {
		account.Unregister(bookID, o.ID)
		balances := account.At(bookID)
		balances.Base.TryFreeReservation(o.ID, nil)
		balances.Quote.TryFreeReservation(o.ID, nil)
	}

	if a.retainRecord {
		a.record.At(bookID).Push(event.Entry{
			Kind: event.KindOrder,
			Order: &event.OrderEvent{
				Order: *o,
				Ctx:   types.OrderContext{AgentID: agentID, BookID: bookID},
			},
		})
	}
}

// CheckMarginCalls force-closes every leveraged position whose
// margin-call price is crossed by the book's reference price. Buys
// liquidate on the way down, sells on the way up; each force-close is a
// market order aggressing the opposite side on behalf of the agent.
func (a *MultiBookExchangeAgent) CheckMarginCalls() {
	for _, bk := range a.books {
		refPrice, ok := bk.MidPrice()
		if !ok {
			continue
		}
		bookID := bk.ID()
		buys, sells := a.clearing.CrossedMarginCalls(bookID, refPrice)
		for _, entry := range buys {
			a.forceCloseEntry(bookID, entry, refPrice)
		}
		for _, entry := range sells {
			a.forceCloseEntry(bookID, entry, refPrice)
		}
	}
}

func (a *MultiBookExchangeAgent) forceCloseEntry(
	bookID types.BookID, entry MarginEntry, refPrice decimal.Decimal,
) {
	account, err := a.accounts.At(entry.AgentID)
	if err != nil {
		return
	}
	balances := account.At(bookID)
	loan, ok := balances.Loan(entry.OrderID)
	if !ok {
		return
	}
	// The position may still be partially resting: cancel the remainder
	// first so its reservation does not shadow the close.
	if o, resting := a.Book(bookID).Order(entry.OrderID); resting {
		a.cancelByID(bookID, o.ID, nil)
		if _, stillOpen := balances.Loan(entry.OrderID); !stillOpen {
			return
		}
	}
	a.log.Infow("margin_call",
		"book", bookID, "agent", entry.AgentID,
		"order", entry.OrderID, "ref_price", refPrice.String())
	a.closeLoan(bookID, entry.AgentID, entry.OrderID, loan, nil)
}

func (a *MultiBookExchangeAgent) handleRetrieveL1(msg *message.Message) {
	payload, ok := msg.Payload.(*message.RetrieveL1Payload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed L1 payload")
		return
	}
	bk := a.Book(payload.BookID)
	snap := message.L1Snapshot{
		Timestamp: a.now(),
		BestBid:   bk.BestBidOrZero(),
		BestAsk:   bk.BestAskOrZero(),
		BookID:    payload.BookID,
	}
	if bids := bk.Depth(types.Buy, 1); len(bids) > 0 {
		snap.BidVolume = bids[0].Volume
	}
	if asks := bk.Depth(types.Sell, 1); len(asks) > 0 {
		snap.AskVolume = asks[0].Volume
	}
	a.respond(msg, message.PrefixResponse+message.TypeRetrieveL1, &snap)
}

func (a *MultiBookExchangeAgent) handleRetrieveBook(msg *message.Message) {
	payload, ok := msg.Payload.(*message.RetrieveBookPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed book payload")
		return
	}
	bk := a.Book(payload.BookID)
	a.respond(msg, message.PrefixResponse+message.TypeRetrieveBook,
		&message.BookSnapshot{
			Timestamp: a.now(),
			BookID:    payload.BookID,
			Bids:      bk.Depth(types.Buy, payload.Depth),
			Asks:      bk.Depth(types.Sell, payload.Depth),
		})
}

func (a *MultiBookExchangeAgent) handleRetrieveOrders(msg *message.Message) {
	payload, ok := msg.Payload.(*message.RetrieveOrdersPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed orders payload")
		return
	}
	bk := a.Book(payload.BookID)
	var orders []book.Order
	for _, id := range payload.OrderIDs {
		if o, ok := bk.Order(id); ok {
			orders = append(orders, *o)
		}
	}
	a.respond(msg, message.PrefixResponse+message.TypeRetrieveOrders,
		&message.RetrieveOrdersResponsePayload{
			Orders: orders,
			BookID: payload.BookID,
		})
}

func (a *MultiBookExchangeAgent) handleResetAgents(msg *message.Message) {
	payload, ok := msg.Payload.(*message.ResetAgentsPayload)
	if !ok {
		a.respondError(msg, types.ContractViolation, "malformed reset payload")
		return
	}
	for _, id := range payload.AgentIDs {
		// Open orders of the agent are withdrawn before the account is
		// replaced.
		if account, err := a.accounts.At(id); err == nil {
			for bookID := range account.ActiveOrders {
				for orderID := range account.Active(types.BookID(bookID)) {
					a.Book(types.BookID(bookID)).CancelOrder(orderID, nil)
				}
			}
		}
		if err := a.accounts.Reset(id); err != nil {
			a.respondError(msg, types.NonexistentAccount, err.Error())
			return
		}
		a.clearing.FeePolicy().ResetHistory(id)
	}
	a.respond(msg, message.PrefixResponse+message.TypeResetAgent,
		&message.ResetAgentsResponsePayload{AgentIDs: payload.AgentIDs})
}

func (a *MultiBookExchangeAgent) notifyTrade(
	bookID types.BookID,
	t *book.Trade,
	desc TradeDesc,
	fees types.Fees,
	clientOrderID *types.ClientOrderID,
) {
	payload := &message.EventTradePayload{
		Trade: *t,
		Context: message.TradeEventContext{
			AggressingAgentID: desc.AggressingAgentID,
			RestingAgentID:    desc.RestingAgentID,
			BookID:            bookID,
			Fees:              fees,
		},
		BookID:        bookID,
		ClientOrderID: clientOrderID,
	}
	for sub := range a.tradeSubs {
		a.send(sub, message.TypeEventTrade, payload)
	}
	notifyByOrder := func(orderID types.OrderID) {
		for sub := range a.tradeByOrder[orderID] {
			a.send(sub, message.TypeEventTrade, payload)
		}
	}
	notifyByOrder(t.AggressingOrderID)
	notifyByOrder(t.RestingOrderID)
}

func (a *MultiBookExchangeAgent) notifyOrderEvent(
	eventType string,
	subs map[types.AgentID]struct{},
	o *book.Order,
	agentID types.AgentID,
	bookID types.BookID,
	clientOrderID *types.ClientOrderID,
) {
	if len(subs) == 0 {
		return
	}
	payload := &message.EventOrderPayload{
		Order: *o,
		Ctx: types.OrderContext{
			AgentID: agentID, BookID: bookID, ClientOrderID: clientOrderID,
		},
		BookID: bookID,
	}
	for sub := range subs {
		a.send(sub, eventType, payload)
	}
}

func (a *MultiBookExchangeAgent) pushCancellation(
	bookID types.BookID, orderID types.OrderID,
	agentID types.AgentID, volume decimal.Decimal,
) {
	if !a.retainRecord {
		return
	}
	a.record.At(bookID).Push(event.Entry{
		Kind: event.KindCancellation,
		Cancellation: &event.CancellationEvent{
			OrderID:   orderID,
			AgentID:   agentID,
			Volume:    volume,
			Timestamp: a.now(),
		},
	})
}

func (a *MultiBookExchangeAgent) respond(msg *message.Message, msgType string, payload any) {
	a.send(msg.Source, msgType, payload)
}

func (a *MultiBookExchangeAgent) respondError(
	msg *message.Message, code types.OrderErrorCode, text string,
) {
	a.send(msg.Source, message.PrefixErrorResponse+msg.Type, &message.ErrorResponsePayload{
		Code:        code,
		Message:     text,
		RequestEcho: msg.Payload,
	})
}

func (a *MultiBookExchangeAgent) send(target types.AgentID, msgType string, payload any) {
	a.dispatch(&message.Message{
		Occurrence: a.now(),
		Arrival:    a.now(),
		Type:       msgType,
		Source:     types.ExchangeAgentID,
		Target:     target,
		Payload:    payload,
	})
}
