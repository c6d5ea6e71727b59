package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type harness struct {
	ex       *MultiBookExchangeAgent
	outbox   []*message.Message
	agentIDs map[string]types.AgentID
}

func makeTemplate(base, quote string, rp types.RoundParams) accounting.Balances {
	return accounting.NewBalances(
		accounting.NewBalance(dec(base), "BASE", rp.BaseDecimals),
		accounting.NewBalance(dec(quote), "QUOTE", rp.QuoteDecimals),
		dec("0.25"), rp)
}

func zapNop() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func newHarness(t *testing.T, books int, base, quote string, maxLeverage, maxLoan string) *harness {
	t.Helper()
	h := &harness{agentIDs: make(map[string]types.AgentID)}

	rp := types.RoundParams{BaseDecimals: 4, QuoteDecimals: 8}
	template := accounting.NewBalances(
		accounting.NewBalance(dec(base), "BASE", rp.BaseDecimals),
		accounting.NewBalance(dec(quote), "QUOTE", rp.QuoteDecimals),
		dec("0.25"), rp)

	feePolicy, err := NewFeePolicy(4, 3600, []Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec("0"), TakerFeeRate: dec("0")},
	})
	require.NoError(t, err)

	h.ex = NewMultiBookExchangeAgent(
		books, template, feePolicy,
		ValidatorParams{
			PriceIncrementDecimals:  2,
			VolumeIncrementDecimals: 4,
			BaseIncrementDecimals:   4,
			QuoteIncrementDecimals:  8,
		},
		ExchangeConfig{
			MaintenanceMargin: dec("0.25"),
			MaxLeverage:       dec(maxLeverage),
			MaxLoan:           dec(maxLoan),
		},
		func(msg *message.Message) { h.outbox = append(h.outbox, msg) },
		func() types.Timestamp { return 0 },
		zap.NewNop().Sugar(),
	)
	return h
}

func (h *harness) agent(name string) types.AgentID {
	id, ok := h.agentIDs[name]
	if !ok {
		id = h.ex.Accounts().RegisterLocal(name)
		h.agentIDs[name] = id
	}
	return id
}

func (h *harness) remote() types.AgentID {
	return h.ex.Accounts().RegisterRemote()
}

func (h *harness) request(source types.AgentID, msgType string, payload any) {
	h.ex.ReceiveMessage(&message.Message{
		Type:    msgType,
		Source:  source,
		Target:  types.ExchangeAgentID,
		Payload: payload,
	})
}

func (h *harness) limit(agent types.AgentID, bookID types.BookID, d types.Direction, volume, price string) {
	h.request(agent, message.TypePlaceOrderLimit, &message.PlaceOrderLimitPayload{
		Direction:   d,
		Volume:      dec(volume),
		Price:       dec(price),
		BookID:      bookID,
		TimeInForce: types.GTC,
		SettleFlag:  types.SettleFIFOFlag(),
	})
}

func (h *harness) market(agent types.AgentID, bookID types.BookID, d types.Direction, volume string) {
	h.request(agent, message.TypePlaceOrderMarket, &message.PlaceOrderMarketPayload{
		Direction:  d,
		Volume:     dec(volume),
		BookID:     bookID,
		SettleFlag: types.SettleFIFOFlag(),
	})
}

func (h *harness) balances(agent types.AgentID, bookID types.BookID) *accounting.Balances {
	account, err := h.ex.Accounts().At(agent)
	if err != nil {
		panic(err)
	}
	return account.At(bookID)
}

func (h *harness) lastResponse() *message.Message {
	if len(h.outbox) == 0 {
		return nil
	}
	return h.outbox[len(h.outbox)-1]
}

func (h *harness) lastError(t *testing.T) *message.ErrorResponsePayload {
	t.Helper()
	msg := h.lastResponse()
	require.NotNil(t, msg)
	payload, ok := msg.Payload.(*message.ErrorResponsePayload)
	require.True(t, ok, "expected an error response, got %s", msg.Type)
	return payload
}

func TestSingleAgentCrossing(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.limit(agent, 0, types.Buy, "1", "99")
	h.limit(agent, 0, types.Sell, "1", "101")

	b := h.balances(agent, 0)
	assert.True(t, b.Base.Reserved().Equal(dec("1")))
	assert.True(t, b.Quote.Reserved().Equal(dec("99")))
	assert.True(t, b.Base.Free().Equal(dec("99")))
	assert.True(t, b.Quote.Free().Equal(dec("4901")))

	// The market sell lifts the agent's own bid at 99; cash round-trips.
	h.market(agent, 0, types.Sell, "1")

	bk := h.ex.Book(0)
	assert.True(t, bk.SideEmpty(types.Buy))
	assert.True(t, bk.BestAskOrZero().Equal(dec("101")))

	assert.True(t, b.Base.Total().Equal(dec("100")), "base total %s", b.Base.Total())
	assert.True(t, b.Quote.Total().Equal(dec("5000")), "quote total %s", b.Quote.Total())
	assert.True(t, b.Base.Reserved().Equal(dec("1")))
	assert.True(t, b.Quote.Reserved().IsZero())
}

func TestTwoAgentMatch(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	taker := h.remote()

	h.limit(maker, 0, types.Buy, "1", "99")
	h.limit(maker, 0, types.Sell, "1", "101")
	h.market(taker, 0, types.Buy, "1")

	bk := h.ex.Book(0)
	assert.True(t, bk.BestBidOrZero().Equal(dec("99")))
	assert.True(t, bk.SideEmpty(types.Sell))

	mb := h.balances(maker, 0)
	assert.True(t, mb.Base.Total().Equal(dec("99")), "maker base %s", mb.Base.Total())
	assert.True(t, mb.Quote.Total().Equal(dec("5101")), "maker quote %s", mb.Quote.Total())
	assert.True(t, mb.Quote.Reserved().Equal(dec("99")))

	tb := h.balances(taker, 0)
	assert.True(t, tb.Base.Total().Equal(dec("101")), "taker base %s", tb.Base.Total())
	assert.True(t, tb.Quote.Total().Equal(dec("4899")), "taker quote %s", tb.Quote.Total())
}

func TestMarketOrderExceedingDepth(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	taker := h.remote()

	h.limit(maker, 0, types.Buy, "1", "99")
	h.limit(maker, 0, types.Sell, "1", "101")
	h.market(taker, 0, types.Buy, "2")

	// Only one unit fills; the rest is discarded and the state matches
	// the exact-volume case.
	tb := h.balances(taker, 0)
	assert.True(t, tb.Base.Total().Equal(dec("101")))
	assert.True(t, tb.Quote.Total().Equal(dec("4899")))
	assert.True(t, tb.Quote.Reserved().IsZero())
	assert.True(t, h.ex.Book(0).SideEmpty(types.Sell))
}

func TestPartialCancel(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.limit(agent, 0, types.Buy, "2", "99")
	h.limit(agent, 0, types.Sell, "3", "101")

	sellID := types.OrderID(1)
	amount := dec("1.5")
	h.request(agent, message.TypeCancelOrders, &message.CancelOrdersPayload{
		Cancellations: []message.CancelEntry{{OrderID: sellID, Volume: &amount}},
		BookID:        0,
	})

	bk := h.ex.Book(0)
	asks := bk.Depth(types.Sell, 0)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Volume.Equal(dec("1.5")))

	b := h.balances(agent, 0)
	assert.True(t, b.Base.Reserved().Equal(dec("1.5")), "base reserved %s", b.Base.Reserved())
	assert.True(t, b.Quote.Reserved().Equal(dec("198")))
}

func TestMultiBookIndependence(t *testing.T) {
	h := newHarness(t, 2, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	for bookID := types.BookID(0); bookID < 2; bookID++ {
		h.limit(agent, bookID, types.Buy, "1", "99")
		h.limit(agent, bookID, types.Sell, "1", "101")
	}

	h.request(agent, message.TypeCancelOrders, &message.CancelOrdersPayload{
		Cancellations: []message.CancelEntry{{OrderID: 0}, {OrderID: 1}},
		BookID:        0,
	})

	book0 := h.ex.Book(0)
	assert.True(t, book0.SideEmpty(types.Buy))
	assert.True(t, book0.SideEmpty(types.Sell))

	book1 := h.ex.Book(1)
	assert.True(t, book1.BestBidOrZero().Equal(dec("99")))
	assert.True(t, book1.BestAskOrZero().Equal(dec("101")))

	b0 := h.balances(agent, 0)
	assert.True(t, b0.Base.Reserved().IsZero())
	assert.True(t, b0.Quote.Reserved().IsZero())
	b1 := h.balances(agent, 1)
	assert.True(t, b1.Base.Reserved().Equal(dec("1")))
	assert.True(t, b1.Quote.Reserved().Equal(dec("99")))
}

func TestPlaceCancelRoundTripsAccountState(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.limit(agent, 0, types.Buy, "1", "99")
	h.request(agent, message.TypeCancelOrders, &message.CancelOrdersPayload{
		Cancellations: []message.CancelEntry{{OrderID: 0}},
		BookID:        0,
	})

	b := h.balances(agent, 0)
	assert.True(t, b.Base.Total().Equal(dec("100")))
	assert.True(t, b.Quote.Total().Equal(dec("5000")))
	assert.True(t, b.Base.Free().Equal(dec("100")))
	assert.True(t, b.Quote.Free().Equal(dec("5000")))
	assert.True(t, b.Base.Reserved().IsZero())
	assert.True(t, b.Quote.Reserved().IsZero())

	account, err := h.ex.Accounts().At(agent)
	require.NoError(t, err)
	assert.Empty(t, account.Active(0))
}

func TestCancelUnknownOrderIsIdempotent(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.limit(agent, 0, types.Buy, "1", "99")
	before := h.balances(agent, 0).Quote.Reserved()

	h.request(agent, message.TypeCancelOrders, &message.CancelOrdersPayload{
		Cancellations: []message.CancelEntry{{OrderID: 999}},
		BookID:        0,
	})

	resp, ok := h.lastResponse().Payload.(*message.CancelOrdersResponsePayload)
	require.True(t, ok)
	assert.Empty(t, resp.OrderIDs)
	assert.True(t, h.balances(agent, 0).Quote.Reserved().Equal(before))
}

func TestLeveragedBuyReservationOpensLoan(t *testing.T) {
	h := newHarness(t, 1, "10", "200", "2", "100")
	agent := h.agent("MARGIN_TRADER_1")

	h.request(agent, message.TypePlaceOrderLimit, &message.PlaceOrderLimitPayload{
		Direction:   types.Buy,
		Volume:      dec("10"),
		Price:       dec("3"),
		Leverage:    dec("1.2"),
		BookID:      0,
		TimeInForce: types.GTC,
		SettleFlag:  types.SettleFIFOFlag(),
	})

	b := h.balances(agent, 0)
	loan, ok := b.Loan(0)
	require.True(t, ok, "expected a loan for order 0")
	// 10 * 1.2 * 3 = 36 quote borrowed.
	assert.True(t, loan.Amount.Equal(dec("36")), "loan amount %s", loan.Amount)
	// p* = 3 * 1.2 / (2.2 * 0.75)
	want := dec("3.6").Div(dec("1.65"))
	assert.True(t, loan.MarginCallPrice.Sub(want).Abs().LessThan(dec("0.00000001")),
		"margin call price %s want %s", loan.MarginCallPrice, want)
	// Collateral is the cost over (1 + leverage): 66 / 2.2 = 30 quote.
	assert.True(t, b.Quote.Reserved().Equal(dec("30")), "quote reserved %s", b.Quote.Reserved())
	require.NoError(t, b.CheckLoanConsistency())
}

func TestMonetaryConservationWithoutFees(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	a := h.remote()
	b := h.remote()
	c := h.remote()

	h.limit(a, 0, types.Buy, "2", "99")
	h.limit(b, 0, types.Sell, "3", "101")
	h.market(c, 0, types.Buy, "1.5")
	h.limit(c, 0, types.Sell, "2", "99")
	h.market(a, 0, types.Buy, "0.5")

	totalBase, totalQuote := dec("0"), dec("0")
	for _, id := range []types.AgentID{a, b, c} {
		bal := h.balances(id, 0)
		totalBase = totalBase.Add(bal.Base.Total())
		totalQuote = totalQuote.Add(bal.Quote.Total())
	}
	assert.True(t, totalBase.Equal(dec("300")), "total base %s", totalBase)
	assert.True(t, totalQuote.Equal(dec("15000")), "total quote %s", totalQuote)
}

func TestGTTExpiryCancelScheduled(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	expiry := types.Timestamp(1000)
	h.request(agent, message.TypePlaceOrderLimit, &message.PlaceOrderLimitPayload{
		Direction:    types.Buy,
		Volume:       dec("1"),
		Price:        dec("99"),
		BookID:       0,
		TimeInForce:  types.GTT,
		ExpiryPeriod: &expiry,
		SettleFlag:   types.SettleFIFOFlag(),
	})

	var cancel *message.Message
	for _, msg := range h.outbox {
		if msg.Type == message.TypeCancelOrders {
			cancel = msg
		}
	}
	require.NotNil(t, cancel, "expected a scheduled cancel message")
	assert.Equal(t, types.ExchangeAgentID, cancel.Target)
	assert.Equal(t, expiry, cancel.Arrival)

	// Delivering the scheduled cancel withdraws the order.
	h.ex.ReceiveMessage(cancel)
	assert.True(t, h.ex.Book(0).SideEmpty(types.Buy))
	assert.True(t, h.balances(agent, 0).Quote.Reserved().IsZero())
}

func TestMarginCallForceClosesLeveragedBuy(t *testing.T) {
	h := newHarness(t, 1, "1000", "100000", "2", "10000")
	maker := h.remote()
	margin := h.agent("MARGIN_TRADER_1")

	h.limit(maker, 0, types.Sell, "50", "100") // order 0
	h.limit(maker, 0, types.Buy, "50", "99")   // order 1

	// Leveraged buy at 100: p* = 100 * 1 / (2 * 0.75) = 66.67.
	h.request(margin, message.TypePlaceOrderMarket, &message.PlaceOrderMarketPayload{
		Direction:  types.Buy,
		Volume:     dec("2"),
		Leverage:   dec("1"),
		BookID:     0,
		SettleFlag: types.SettleFIFOFlag(),
	})
	b := h.balances(margin, 0)
	loan, ok := b.Loan(2)
	require.True(t, ok)
	require.True(t, loan.Amount.Equal(dec("200")))

	// Price untouched: no liquidation.
	h.ex.CheckMarginCalls()
	_, open := b.Loan(2)
	require.True(t, open)

	// The market gaps down through the margin-call price.
	h.request(maker, message.TypeCancelOrders, &message.CancelOrdersPayload{
		Cancellations: []message.CancelEntry{{OrderID: 0}, {OrderID: 1}},
		BookID:        0,
	})
	h.limit(maker, 0, types.Sell, "50", "60")
	h.limit(maker, 0, types.Buy, "50", "59")

	h.ex.CheckMarginCalls()

	_, open = b.Loan(2)
	assert.False(t, open, "loan should be force-closed after the gap down")
	require.NoError(t, b.CheckLoanConsistency())
}

func TestClosePositionsSettlesLoan(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "2", "1000")
	maker := h.remote()
	margin := h.agent("MARGIN_TRADER_1")

	// Liquidity on both sides around 100.
	h.limit(maker, 0, types.Sell, "50", "100")
	h.limit(maker, 0, types.Buy, "50", "99")

	// Leveraged market buy opens a loan.
	h.request(margin, message.TypePlaceOrderMarket, &message.PlaceOrderMarketPayload{
		Direction:  types.Buy,
		Volume:     dec("2"),
		Leverage:   dec("1"),
		BookID:     0,
		SettleFlag: types.SettleFIFOFlag(),
	})

	b := h.balances(margin, 0)
	marginOrderID := types.OrderID(2)
	loan, ok := b.Loan(marginOrderID)
	require.True(t, ok)
	require.True(t, loan.Amount.IsPositive())

	h.request(margin, message.TypeClosePositions, &message.ClosePositionsPayload{
		Closings: []message.CancelEntry{{OrderID: marginOrderID}},
		BookID:   0,
	})

	_, open := b.Loan(marginOrderID)
	assert.False(t, open, "loan should be settled by the close")
	require.NoError(t, b.CheckLoanConsistency())
}
