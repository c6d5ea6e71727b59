package accounting

import (
	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/types"
)

// Account holds one Balances and one active-order set per book. It is
// created at registration from a template and mutated only by clearing
// (reservations, commits, cancels, resets) and by the book removing
// orders on full fill or cancellation.
type Account struct {
	Holdings     []Balances
	ActiveOrders []map[types.OrderID]*book.Order
}

// NewAccount creates an account with one balances clone per book.
func NewAccount(bookCount int, template Balances) *Account {
	a := &Account{
		Holdings:     make([]Balances, bookCount),
		ActiveOrders: make([]map[types.OrderID]*book.Order, bookCount),
	}
	for i := range a.Holdings {
		a.Holdings[i] = template.Clone()
		a.ActiveOrders[i] = make(map[types.OrderID]*book.Order)
	}
	return a
}

// At returns the balances for a book.
func (a *Account) At(bookID types.BookID) *Balances {
	return &a.Holdings[bookID]
}

// Active returns the active-order set for a book.
func (a *Account) Active(bookID types.BookID) map[types.OrderID]*book.Order {
	return a.ActiveOrders[bookID]
}

// Register tracks an order as active on a book.
func (a *Account) Register(bookID types.BookID, o *book.Order) {
	a.ActiveOrders[bookID][o.ID] = o
}

// Unregister removes an order from a book's active set.
func (a *Account) Unregister(bookID types.BookID, id types.OrderID) {
	delete(a.ActiveOrders[bookID], id)
}
