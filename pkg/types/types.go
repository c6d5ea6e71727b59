// Package types defines the identifier and flag vocabulary shared by the
// books, accounting and clearing layers.
package types

// OrderID is monotonic per book, assigned by the book's order factory.
type OrderID uint64

// TradeID is monotonic per book.
type TradeID uint64

// ClientOrderID is an id chosen by the submitting agent, echoed back in
// responses and events.
type ClientOrderID = OrderID

// AgentID identifies a trading agent. Negative ids are locally simulated
// agents (related to string names through the account registry),
// non-negative ids are remote agents.
type AgentID int32

// LocalAgentID is the string name of a locally simulated agent.
type LocalAgentID = string

// BookID is a dense small non-negative book index.
type BookID uint32

// Timestamp is simulated time in nanoseconds since simulation start.
type Timestamp uint64

// Direction is the side of an order or trade.
type Direction uint8

const (
	Buy Direction = iota
	Sell
)

func (d Direction) String() string {
	if d == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Currency selects which leg of a book's pair an amount refers to.
type Currency uint8

const (
	CurrencyBase Currency = iota
	CurrencyQuote
)

func (c Currency) String() string {
	if c == CurrencyBase {
		return "BASE"
	}
	return "QUOTE"
}

// STPFlag is the self-trade-prevention mode of an order.
type STPFlag uint8

const (
	STPNone STPFlag = iota
	STPCancelOldest  // CO: skip same-agent resting orders during matching
	STPCancelNewest  // CN: reject the incoming on collision
	STPCancelBoth    // CB: reject the incoming, cancel touched resting
	STPDecrementBoth // DC: decrement both, cancel whichever reaches zero
)

func (f STPFlag) String() string {
	switch f {
	case STPNone:
		return "NONE"
	case STPCancelOldest:
		return "CO"
	case STPCancelNewest:
		return "CN"
	case STPCancelBoth:
		return "CB"
	case STPDecrementBoth:
		return "DC"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce is the lifetime contract of a limit order.
type TimeInForce uint8

const (
	GTC TimeInForce = iota
	GTT
	IOC
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case GTT:
		return "GTT"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "UNKNOWN"
	}
}

// SettleKind selects how a fill settles outstanding loans.
type SettleKind uint8

const (
	SettleFIFO SettleKind = iota
	SettleOrderID
)

// SettleFlag is either FIFO (oldest opposite-direction loan first) or a
// specific loan targeted by order id. Both variants are part of the public
// protocol.
type SettleFlag struct {
	Kind    SettleKind
	OrderID OrderID
}

// SettleFIFOFlag is the default settlement mode.
func SettleFIFOFlag() SettleFlag { return SettleFlag{Kind: SettleFIFO} }

// SettleTarget settles against one specific loan.
func SettleTarget(id OrderID) SettleFlag {
	return SettleFlag{Kind: SettleOrderID, OrderID: id}
}

// OrderErrorCode classifies a rejected order placement.
type OrderErrorCode uint32

const (
	Valid OrderErrorCode = iota
	NonexistentAccount
	InsufficientBase
	InsufficientQuote
	EmptyBook
	PriceIncrementViolated
	VolumeIncrementViolated
	ExceedingLoan
	ContractViolation
	InvalidLeverage
	InvalidVolume
	InvalidPrice
	ExceedingMaxOrders
	DualPosition
	MinimumOrderSizeViolation
)

var orderErrorNames = map[OrderErrorCode]string{
	Valid:                     "VALID",
	NonexistentAccount:        "NONEXISTENT_ACCOUNT",
	InsufficientBase:          "INSUFFICIENT_BASE",
	InsufficientQuote:         "INSUFFICIENT_QUOTE",
	EmptyBook:                 "EMPTY_BOOK",
	PriceIncrementViolated:    "PRICE_INCREMENT_VIOLATED",
	VolumeIncrementViolated:   "VOLUME_INCREMENT_VIOLATED",
	ExceedingLoan:             "EXCEEDING_LOAN",
	ContractViolation:         "CONTRACT_VIOLATION",
	InvalidLeverage:           "INVALID_LEVERAGE",
	InvalidVolume:             "INVALID_VOLUME",
	InvalidPrice:              "INVALID_PRICE",
	ExceedingMaxOrders:        "EXCEEDING_MAX_ORDERS",
	DualPosition:              "DUAL_POSITION",
	MinimumOrderSizeViolation: "MINIMUM_ORDER_SIZE_VIOLATION",
}

func (c OrderErrorCode) String() string {
	if s, ok := orderErrorNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error makes codes usable as errors when a placement is rejected.
func (c OrderErrorCode) Error() string { return c.String() }

// OrderClientContext relates a book-assigned order id back to its owner.
type OrderClientContext struct {
	AgentID       AgentID
	ClientOrderID *ClientOrderID
}

// OrderContext additionally carries the book, for event logging.
type OrderContext struct {
	AgentID       AgentID
	BookID        BookID
	ClientOrderID *ClientOrderID
}

// RoundParams bundles the per-currency rounding precisions of a book.
type RoundParams struct {
	BaseDecimals  int32
	QuoteDecimals int32
}

// ExchangeAgentID is the bus address of the exchange itself.
const ExchangeAgentID AgentID = -1 << 31
