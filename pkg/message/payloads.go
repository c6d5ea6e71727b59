// Package message defines the request, response and event payloads
// exchanged between trader agents and the exchange over the simulation
// bus. Payloads are plain values with json and msgpack tags; the wire
// names mirror the protocol message names with RESPONSE_/ERROR_RESPONSE_/
// EVENT_ prefixes.
package message

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Message type names recognised by the exchange agent.
const (
	TypePlaceOrderMarket = "PLACE_ORDER_MARKET"
	TypePlaceOrderLimit  = "PLACE_ORDER_LIMIT"
	TypeCancelOrders     = "CANCEL_ORDERS"
	TypeClosePositions   = "CLOSE_POSITIONS"
	TypeRetrieveL1       = "RETRIEVE_L1"
	TypeRetrieveBook     = "RETRIEVE_BOOK"
	TypeRetrieveOrders   = "RETRIEVE_ORDERS"
	TypeResetAgent       = "RESET_AGENT"

	TypeSubscribeEventOrderLimit   = "SUBSCRIBE_EVENT_ORDER_LIMIT"
	TypeSubscribeEventOrderMarket  = "SUBSCRIBE_EVENT_ORDER_MARKET"
	TypeSubscribeEventTrade        = "SUBSCRIBE_EVENT_TRADE"
	TypeSubscribeEventTradeByOrder = "SUBSCRIBE_EVENT_TRADE_BY_ORDER"

	PrefixResponse      = "RESPONSE_"
	PrefixErrorResponse = "ERROR_RESPONSE_"
	PrefixEvent         = "EVENT_"

	TypeEventTrade       = "EVENT_TRADE"
	TypeEventOrderMarket = "EVENT_ORDER_MARKET"
	TypeEventOrderLimit  = "EVENT_ORDER_LIMIT"
	TypeWakeup           = "WAKEUP"
)

// Message is one timestamped entry on the simulation bus. Occurrence is
// when it was sent, Arrival when it is delivered; the scheduler orders by
// arrival with FIFO tie-breaks.
type Message struct {
	Occurrence types.Timestamp `json:"occurrence" msgpack:"occurrence"`
	Arrival    types.Timestamp `json:"arrival" msgpack:"arrival"`
	Type       string          `json:"type" msgpack:"type"`
	Source     types.AgentID   `json:"source" msgpack:"source"`
	Target     types.AgentID   `json:"target" msgpack:"target"`
	Payload    any             `json:"payload" msgpack:"payload"`
}

// PlaceOrderMarketPayload requests a market order. Volume and leverage
// are rounded to the configured increments during validation; the
// validator may also tighten the volume.
type PlaceOrderMarketPayload struct {
	Direction     types.Direction      `json:"direction" msgpack:"direction"`
	Volume        decimal.Decimal      `json:"volume" msgpack:"volume"`
	Leverage      decimal.Decimal      `json:"leverage" msgpack:"leverage"`
	BookID        types.BookID         `json:"bookId" msgpack:"bookId"`
	Currency      types.Currency       `json:"currency" msgpack:"currency"`
	ClientOrderID *types.ClientOrderID `json:"clientOrderId,omitempty" msgpack:"clientOrderId"`
	STPFlag       types.STPFlag        `json:"stpFlag" msgpack:"stpFlag"`
	SettleFlag    types.SettleFlag     `json:"settleFlag" msgpack:"settleFlag"`
}

// PlaceOrderLimitPayload requests a limit order.
type PlaceOrderLimitPayload struct {
	Direction     types.Direction      `json:"direction" msgpack:"direction"`
	Volume        decimal.Decimal      `json:"volume" msgpack:"volume"`
	Price         decimal.Decimal      `json:"price" msgpack:"price"`
	Leverage      decimal.Decimal      `json:"leverage" msgpack:"leverage"`
	BookID        types.BookID         `json:"bookId" msgpack:"bookId"`
	Currency      types.Currency       `json:"currency" msgpack:"currency"`
	ClientOrderID *types.ClientOrderID `json:"clientOrderId,omitempty" msgpack:"clientOrderId"`
	PostOnly      bool                 `json:"postOnly" msgpack:"postOnly"`
	TimeInForce   types.TimeInForce    `json:"timeInForce" msgpack:"timeInForce"`
	ExpiryPeriod  *types.Timestamp     `json:"expiryPeriod,omitempty" msgpack:"expiryPeriod"`
	STPFlag       types.STPFlag        `json:"stpFlag" msgpack:"stpFlag"`
	SettleFlag    types.SettleFlag     `json:"settleFlag" msgpack:"settleFlag"`
}

// PlaceOrderResponsePayload acknowledges a placement with the assigned
// order id, echoing the request.
type PlaceOrderResponsePayload struct {
	OrderID       types.OrderID        `json:"orderId" msgpack:"orderId"`
	ClientOrderID *types.ClientOrderID `json:"clientOrderId,omitempty" msgpack:"clientOrderId"`
	BookID        types.BookID         `json:"bookId" msgpack:"bookId"`
	RequestEcho   any                  `json:"requestEcho" msgpack:"requestEcho"`
}

// ErrorResponsePayload reports a rejected request with its typed code and
// a human-readable message, echoing the request.
type ErrorResponsePayload struct {
	Code        types.OrderErrorCode `json:"code" msgpack:"code"`
	Message     string               `json:"message" msgpack:"message"`
	RequestEcho any                  `json:"requestEcho" msgpack:"requestEcho"`
}

// CancelEntry names one order and optionally how much of it to cancel.
type CancelEntry struct {
	OrderID types.OrderID    `json:"orderId" msgpack:"orderId"`
	Volume  *decimal.Decimal `json:"volume,omitempty" msgpack:"volume"`
}

// CancelOrdersPayload cancels orders on one book.
type CancelOrdersPayload struct {
	Cancellations []CancelEntry `json:"cancellations" msgpack:"cancellations"`
	BookID        types.BookID  `json:"bookId" msgpack:"bookId"`
}

// CancelOrdersResponsePayload lists the order ids actually cancelled.
type CancelOrdersResponsePayload struct {
	OrderIDs []types.OrderID `json:"orderIds" msgpack:"orderIds"`
	BookID   types.BookID    `json:"bookId" msgpack:"bookId"`
}

// ClosePositionsPayload force-closes leveraged positions on one book.
type ClosePositionsPayload struct {
	Closings []CancelEntry `json:"closings" msgpack:"closings"`
	BookID   types.BookID  `json:"bookId" msgpack:"bookId"`
}

// ClosePositionsResponsePayload lists the loans targeted for closing.
type ClosePositionsResponsePayload struct {
	OrderIDs []types.OrderID `json:"orderIds" msgpack:"orderIds"`
	BookID   types.BookID    `json:"bookId" msgpack:"bookId"`
}

// RetrieveL1Payload requests the top of one book.
type RetrieveL1Payload struct {
	BookID types.BookID `json:"bookId" msgpack:"bookId"`
}

// L1Snapshot is the top-of-book view.
type L1Snapshot struct {
	Timestamp  types.Timestamp `json:"timestamp" msgpack:"timestamp"`
	BestBid    decimal.Decimal `json:"bestBid" msgpack:"bestBid"`
	BestAsk    decimal.Decimal `json:"bestAsk" msgpack:"bestAsk"`
	BidVolume  decimal.Decimal `json:"bidVolume" msgpack:"bidVolume"`
	AskVolume  decimal.Decimal `json:"askVolume" msgpack:"askVolume"`
	BookID     types.BookID    `json:"bookId" msgpack:"bookId"`
}

// RetrieveBookPayload requests aggregated depth for one book.
type RetrieveBookPayload struct {
	Depth  int          `json:"depth" msgpack:"depth"`
	BookID types.BookID `json:"bookId" msgpack:"bookId"`
}

// BookSnapshot is an aggregated L2 view.
type BookSnapshot struct {
	Timestamp types.Timestamp  `json:"timestamp" msgpack:"timestamp"`
	BookID    types.BookID     `json:"bookId" msgpack:"bookId"`
	Bids      []book.LevelView `json:"bids" msgpack:"bids"`
	Asks      []book.LevelView `json:"asks" msgpack:"asks"`
}

// RetrieveOrdersPayload requests the state of specific resting orders.
type RetrieveOrdersPayload struct {
	OrderIDs []types.OrderID `json:"orderIds" msgpack:"orderIds"`
	BookID   types.BookID    `json:"bookId" msgpack:"bookId"`
}

// RetrieveOrdersResponsePayload returns the resting orders found.
type RetrieveOrdersResponsePayload struct {
	Orders []book.Order `json:"orders" msgpack:"orders"`
	BookID types.BookID `json:"bookId" msgpack:"bookId"`
}

// ResetAgentsPayload resets the named agents to their template accounts.
type ResetAgentsPayload struct {
	AgentIDs []types.AgentID `json:"agentIds" msgpack:"agentIds"`
}

// ResetAgentsResponsePayload echoes the agents reset.
type ResetAgentsResponsePayload struct {
	AgentIDs []types.AgentID `json:"agentIds" msgpack:"agentIds"`
}

// SubscribeEventTradeByOrderPayload subscribes the sender to fills of one
// order.
type SubscribeEventTradeByOrderPayload struct {
	OrderID types.OrderID `json:"orderId" msgpack:"orderId"`
	BookID  types.BookID  `json:"bookId" msgpack:"bookId"`
}

// TradeEventContext carries the participants and fees of a fill.
type TradeEventContext struct {
	AggressingAgentID types.AgentID `json:"aggressingAgentId" msgpack:"aggressingAgentId"`
	RestingAgentID    types.AgentID `json:"restingAgentId" msgpack:"restingAgentId"`
	BookID            types.BookID  `json:"bookId" msgpack:"bookId"`
	Fees              types.Fees    `json:"fees" msgpack:"fees"`
}

// EventTradePayload notifies subscribers of a fill.
type EventTradePayload struct {
	Trade         book.Trade           `json:"trade" msgpack:"trade"`
	Context       TradeEventContext    `json:"context" msgpack:"context"`
	BookID        types.BookID         `json:"bookId" msgpack:"bookId"`
	ClientOrderID *types.ClientOrderID `json:"clientOrderId,omitempty" msgpack:"clientOrderId"`
}

// EventOrderPayload notifies subscribers of an accepted order.
type EventOrderPayload struct {
	Order  book.Order          `json:"order" msgpack:"order"`
	Ctx    types.OrderContext  `json:"ctx" msgpack:"ctx"`
	BookID types.BookID        `json:"bookId" msgpack:"bookId"`
}
