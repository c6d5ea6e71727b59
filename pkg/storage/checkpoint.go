package storage

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/exchange"
	"github.com/quarzvale/marketsim/pkg/types"
)

// BalanceState is the serialised form of one Balance.
type BalanceState struct {
	Free         decimal.Decimal                   `json:"free" msgpack:"free"`
	Reserved     decimal.Decimal                   `json:"reserved" msgpack:"reserved"`
	Total        decimal.Decimal                   `json:"total" msgpack:"total"`
	Reservations map[types.OrderID]decimal.Decimal `json:"reservations" msgpack:"reservations"`
}

// LoanState is the serialised form of one open loan.
type LoanState struct {
	OrderID         types.OrderID         `json:"orderId" msgpack:"orderId"`
	Amount          decimal.Decimal       `json:"amount" msgpack:"amount"`
	Direction       types.Direction       `json:"direction" msgpack:"direction"`
	Leverage        decimal.Decimal       `json:"leverage" msgpack:"leverage"`
	Collateral      accounting.Collateral `json:"collateral" msgpack:"collateral"`
	MarginCallPrice decimal.Decimal       `json:"marginCallPrice" msgpack:"marginCallPrice"`
}

// BalancesState is the per-agent, per-book margin account state.
type BalancesState struct {
	BookID          types.BookID    `json:"bookId" msgpack:"bookId"`
	Base            BalanceState    `json:"base" msgpack:"base"`
	Quote           BalanceState    `json:"quote" msgpack:"quote"`
	Loans           []LoanState     `json:"loans" msgpack:"loans"`
	BaseLoan        decimal.Decimal `json:"baseLoan" msgpack:"baseLoan"`
	QuoteLoan       decimal.Decimal `json:"quoteLoan" msgpack:"quoteLoan"`
	BaseCollateral  decimal.Decimal `json:"baseCollateral" msgpack:"baseCollateral"`
	QuoteCollateral decimal.Decimal `json:"quoteCollateral" msgpack:"quoteCollateral"`
}

// FeeState is the per-agent, per-book fee-tier state.
type FeeState struct {
	BookID  types.BookID      `json:"bookId" msgpack:"bookId"`
	Tier    int               `json:"tier" msgpack:"tier"`
	Buckets []decimal.Decimal `json:"buckets" msgpack:"buckets"`
}

// AgentState bundles one agent's balances and fee state.
type AgentState struct {
	AgentID  types.AgentID   `json:"agentId" msgpack:"agentId"`
	Name     string          `json:"agentName,omitempty" msgpack:"agentName"`
	Balances []BalancesState `json:"balances" msgpack:"balances"`
	Fees     []FeeState      `json:"fees" msgpack:"fees"`
}

// Checkpoint is the persisted state layout emitted for sinks.
type Checkpoint struct {
	Timestamp types.Timestamp `json:"timestamp" msgpack:"timestamp"`
	Agents    []AgentState    `json:"agents" msgpack:"agents"`
}

// Snapshot assembles a checkpoint from the live exchange.
func Snapshot(ex *exchange.MultiBookExchangeAgent, now types.Timestamp) *Checkpoint {
	cp := &Checkpoint{Timestamp: now}
	bookCount := len(ex.Books())

	ex.Accounts().Each(func(agentID types.AgentID, account *accounting.Account) {
		state := AgentState{AgentID: agentID}
		if name, ok := ex.Accounts().NameOf(agentID); ok {
			state.Name = name
		}
		for i := 0; i < bookCount; i++ {
			bookID := types.BookID(i)
			balances := account.At(bookID)
			baseLoan, quoteLoan, baseColl, quoteColl := balances.Aggregates()

			bs := BalancesState{
				BookID:          bookID,
				Base:            balanceState(&balances.Base),
				Quote:           balanceState(&balances.Quote),
				BaseLoan:        baseLoan,
				QuoteLoan:       quoteLoan,
				BaseCollateral:  baseColl,
				QuoteCollateral: quoteColl,
			}
			for orderID, loan := range balances.Loans() {
				bs.Loans = append(bs.Loans, LoanState{
					OrderID:         orderID,
					Amount:          loan.Amount,
					Direction:       loan.Direction,
					Leverage:        loan.Leverage,
					Collateral:      loan.Collateral,
					MarginCallPrice: loan.MarginCallPrice,
				})
			}
			state.Balances = append(state.Balances, bs)

			fees := ex.Clearing().FeePolicy()
			state.Fees = append(state.Fees, FeeState{
				BookID:  bookID,
				Tier:    fees.AgentTier(bookID, agentID),
				Buckets: fees.History(bookID, agentID),
			})
		}
		cp.Agents = append(cp.Agents, state)
	})
	return cp
}

func balanceState(b *accounting.Balance) BalanceState {
	reservations := make(map[types.OrderID]decimal.Decimal, len(b.Reservations()))
	for id, amount := range b.Reservations() {
		reservations[id] = amount
	}
	return BalanceState{
		Free:         b.Free(),
		Reserved:     b.Reserved(),
		Total:        b.Total(),
		Reservations: reservations,
	}
}

// JSON renders the checkpoint for external reporting.
func (cp *Checkpoint) JSON() ([]byte, error) {
	return encodeJSON(cp)
}
