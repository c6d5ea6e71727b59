package sim

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/types"
)

// RandomTrader is a minimal local message source: every tau of simulated
// time it quotes a limit order around the mid price with uniform jitter,
// occasionally crossing with a market order or cancelling its oldest
// quote. It keeps the books populated so the clearing path is exercised
// end to end.
type RandomTrader struct {
	id        types.AgentID
	simulation *Simulation
	rng       *rand.Rand

	bookCount   int
	tau         types.Timestamp
	minQuantity decimal.Decimal
	maxQuantity decimal.Decimal

	initialPrice decimal.Decimal
	open         []types.OrderID
}

// RandomTraderDesc configures one random trader.
type RandomTraderDesc struct {
	ID           types.AgentID
	Seed         int64
	BookCount    int
	Tau          types.Timestamp
	MinQuantity  decimal.Decimal
	MaxQuantity  decimal.Decimal
	InitialPrice decimal.Decimal
}

// NewRandomTrader attaches a random trader to the simulation.
func NewRandomTrader(s *Simulation, desc RandomTraderDesc) *RandomTrader {
	return &RandomTrader{
		id:           desc.ID,
		simulation:   s,
		rng:          rand.New(rand.NewSource(desc.Seed)),
		bookCount:    desc.BookCount,
		tau:          desc.Tau,
		minQuantity:  desc.MinQuantity,
		maxQuantity:  desc.MaxQuantity,
		initialPrice: desc.InitialPrice,
	}
}

// ID returns the trader's agent id.
func (t *RandomTrader) ID() types.AgentID { return t.id }

// Start seeds the wakeup loop.
func (t *RandomTrader) Start() {
	t.scheduleWakeup()
}

// ReceiveMessage reacts to wakeups and placement responses.
func (t *RandomTrader) ReceiveMessage(msg *message.Message) {
	switch msg.Type {
	case message.TypeWakeup:
		t.act()
		t.scheduleWakeup()
	case message.PrefixResponse + message.TypePlaceOrderLimit:
		if payload, ok := msg.Payload.(*message.PlaceOrderResponsePayload); ok {
			t.open = append(t.open, payload.OrderID)
		}
	}
}

func (t *RandomTrader) scheduleWakeup() {
	now := t.simulation.CurrentTimestamp()
	jitter := types.Timestamp(t.rng.Int63n(int64(t.tau)))
	t.simulation.Dispatch(&message.Message{
		Occurrence: now,
		Arrival:    now + t.tau/2 + jitter,
		Type:       message.TypeWakeup,
		Source:     t.id,
		Target:     t.id,
	})
}

func (t *RandomTrader) act() {
	bookID := types.BookID(t.rng.Intn(t.bookCount))
	bk := t.simulation.Exchange.Book(bookID)

	mid, ok := bk.MidPrice()
	if !ok {
		mid = t.initialPrice
	}

	quantity := t.minQuantity.Add(
		t.maxQuantity.Sub(t.minQuantity).Mul(decimal.NewFromFloat(t.rng.Float64())))

	roll := t.rng.Float64()
	switch {
	case roll < 0.1 && len(t.open) > 0:
		// Withdraw the oldest quote.
		orderID := t.open[0]
		t.open = t.open[1:]
		t.send(message.TypeCancelOrders, &message.CancelOrdersPayload{
			Cancellations: []message.CancelEntry{{OrderID: orderID}},
			BookID:        bookID,
		})
	case roll < 0.25:
		direction := types.Buy
		if t.rng.Intn(2) == 1 {
			direction = types.Sell
		}
		t.send(message.TypePlaceOrderMarket, &message.PlaceOrderMarketPayload{
			Direction:  direction,
			Volume:     quantity,
			BookID:     bookID,
			SettleFlag: types.SettleFIFOFlag(),
		})
	default:
		direction := types.Buy
		offset := mid.Mul(decimal.NewFromFloat(0.001 + 0.004*t.rng.Float64()))
		price := mid.Sub(offset)
		if t.rng.Intn(2) == 1 {
			direction = types.Sell
			price = mid.Add(offset)
		}
		if !price.IsPositive() {
			return
		}
		t.send(message.TypePlaceOrderLimit, &message.PlaceOrderLimitPayload{
			Direction:  direction,
			Volume:     quantity,
			Price:      price,
			BookID:     bookID,
			TimeInForce: types.GTC,
			SettleFlag: types.SettleFIFOFlag(),
		})
	}
}

func (t *RandomTrader) send(msgType string, payload any) {
	now := t.simulation.CurrentTimestamp()
	t.simulation.Dispatch(&message.Message{
		Occurrence: now,
		Arrival:    now,
		Type:       msgType,
		Source:     t.id,
		Target:     types.ExchangeAgentID,
		Payload:    payload,
	})
}

var _ Agent = (*RandomTrader)(nil)
