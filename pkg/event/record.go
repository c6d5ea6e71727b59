// Package event holds the per-book L3 record: an append-only,
// time-ordered log of placements, trades and cancellations as tagged
// entries.
package event

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/types"
)

// EntryKind tags an L3 record entry.
type EntryKind uint8

const (
	KindOrder EntryKind = iota
	KindTrade
	KindCancellation
)

func (k EntryKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindTrade:
		return "trade"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// OrderEvent records an accepted placement.
type OrderEvent struct {
	Order book.Order         `json:"order" msgpack:"order"`
	Ctx   types.OrderContext `json:"ctx" msgpack:"ctx"`
}

// TradeEvent records one fill with its participants and fees.
type TradeEvent struct {
	Trade             book.Trade    `json:"trade" msgpack:"trade"`
	AggressingAgentID types.AgentID `json:"aggressingAgentId" msgpack:"aggressingAgentId"`
	RestingAgentID    types.AgentID `json:"restingAgentId" msgpack:"restingAgentId"`
	Fees              types.Fees    `json:"fees" msgpack:"fees"`
}

// CancellationEvent records a (partial) cancellation.
type CancellationEvent struct {
	OrderID   types.OrderID   `json:"orderId" msgpack:"orderId"`
	AgentID   types.AgentID   `json:"agentId" msgpack:"agentId"`
	Volume    decimal.Decimal `json:"volume" msgpack:"volume"`
	Timestamp types.Timestamp `json:"timestamp" msgpack:"timestamp"`
}

// Entry is one tagged L3 record entry; exactly one of the pointers is
// set, per Kind.
type Entry struct {
	Kind         EntryKind          `json:"kind" msgpack:"kind"`
	Order        *OrderEvent        `json:"order,omitempty" msgpack:"order"`
	Trade        *TradeEvent        `json:"trade,omitempty" msgpack:"trade"`
	Cancellation *CancellationEvent `json:"cancellation,omitempty" msgpack:"cancellation"`
}

// Record is the append-only L3 log of one book.
type Record struct {
	entries []Entry
}

// Push appends an entry.
func (r *Record) Push(e Entry) { r.entries = append(r.entries, e) }

// Len returns the number of entries.
func (r *Record) Len() int { return len(r.entries) }

// Entries exposes the log. Callers must not mutate.
func (r *Record) Entries() []Entry { return r.entries }

// Clear drops all entries.
func (r *Record) Clear() { r.entries = nil }

// RecordContainer holds one record per book.
type RecordContainer struct {
	records map[types.BookID]*Record
}

// NewRecordContainer creates an empty container.
func NewRecordContainer() *RecordContainer {
	return &RecordContainer{records: make(map[types.BookID]*Record)}
}

// At returns the record for a book, creating it on first use.
func (c *RecordContainer) At(bookID types.BookID) *Record {
	r, ok := c.records[bookID]
	if !ok {
		r = &Record{}
		c.records[bookID] = r
	}
	return r
}

// Clear drops every book's entries.
func (c *RecordContainer) Clear() {
	for _, r := range c.records {
		r.Clear()
	}
}

// Each iterates the per-book records.
func (c *RecordContainer) Each(fn func(types.BookID, *Record)) {
	for id, r := range c.records {
		fn(id, r)
	}
}
