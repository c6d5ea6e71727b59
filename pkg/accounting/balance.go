// Package accounting implements the per-agent ledger: single-currency
// balances with order reservations, margin loans with collateral, and the
// per-book account holdings mutated by clearing.
//
// Recoverable failures (an unreservable amount, a bad free request) are
// returned as errors. Breaches of the ledger invariants themselves -
// total != free + reserved, negative amounts, reservation sums out of
// line - are programming errors and panic with a diagnostic; the
// simulation recovers them at the top level and halts.
package accounting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// FreeStatus classifies a freeReservation attempt.
type FreeStatus uint8

const (
	Freeable FreeStatus = iota
	NegativeAmount
	AmountExceedsReservation
	NonexistentReservation
	NonexistentReservationAndAmount
	NonexistentReservationAndNegativeAmount
)

func (s FreeStatus) String() string {
	switch s {
	case Freeable:
		return "FREEABLE"
	case NegativeAmount:
		return "NEGATIVE_AMOUNT"
	case AmountExceedsReservation:
		return "AMOUNT_EXCEEDS_RESERVATION"
	case NonexistentReservation:
		return "NONEXISTENT_RESERVATION"
	case NonexistentReservationAndAmount:
		return "NONEXISTENT_RESERVATION_AND_AMOUNT"
	case NonexistentReservationAndNegativeAmount:
		return "NONEXISTENT_RESERVATION_AND_NEGATIVE_AMOUNT"
	default:
		return "UNKNOWN"
	}
}

// FreeError reports why a reservation could not be freed. It replaces
// exception-based control flow: callers match on Status.
type FreeError struct {
	OrderID     types.OrderID
	Status      FreeStatus
	Amount      *decimal.Decimal
	Reservation *decimal.Decimal
}

func (e *FreeError) Error() string {
	amount, reservation := "nil", "nil"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	if e.Reservation != nil {
		reservation = e.Reservation.String()
	}
	return fmt.Sprintf("free reservation for order #%d: %s (amount=%s reservation=%s)",
		e.OrderID, e.Status, amount, reservation)
}

// UnreservableError is returned by MakeReservation failures that are not
// negative-amount errors.
type UnreservableError struct {
	Amount decimal.Decimal
	Free   decimal.Decimal
}

func (e *UnreservableError) Error() string {
	return fmt.Sprintf("cannot reserve %s with free balance %s", e.Amount, e.Free)
}

// InvalidArgumentError reports a negative reservation amount.
type InvalidArgumentError struct {
	Amount decimal.Decimal
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("reservation amount cannot be negative: %s", e.Amount)
}

// Balance is a single-currency ledger satisfying free + reserved = total,
// with one reservation per open order id. Every mutation re-checks the
// invariants.
type Balance struct {
	free         decimal.Decimal
	reserved     decimal.Decimal
	total        decimal.Decimal
	reservations map[types.OrderID]decimal.Decimal
	symbol       string
	decimals     int32
}

// NewBalance creates a balance holding total, all free. Panics on a
// negative initial total.
func NewBalance(total decimal.Decimal, symbol string, decimals int32) Balance {
	total = num.Round(total, decimals)
	if total.IsNegative() {
		panic(fmt.Sprintf("initial balance must be non-negative, was %s", total))
	}
	return Balance{
		free:         total,
		total:        total,
		reservations: make(map[types.OrderID]decimal.Decimal),
		symbol:       symbol,
		decimals:     decimals,
	}
}

// Free returns the unreserved amount.
func (b *Balance) Free() decimal.Decimal { return b.free }

// Reserved returns the amount locked under open orders.
func (b *Balance) Reserved() decimal.Decimal { return b.reserved }

// Total returns free + reserved.
func (b *Balance) Total() decimal.Decimal { return b.total }

// Symbol returns the display symbol.
func (b *Balance) Symbol() string { return b.symbol }

// Decimals returns the rounding precision.
func (b *Balance) Decimals() int32 { return b.decimals }

// Reservation returns the recorded reservation for an order id.
func (b *Balance) Reservation(id types.OrderID) (decimal.Decimal, bool) {
	r, ok := b.reservations[id]
	return r, ok
}

// Reservations exposes the reservation map for serialisation. Callers
// must not mutate it.
func (b *Balance) Reservations() map[types.OrderID]decimal.Decimal {
	return b.reservations
}

func (b *Balance) roundAmount(a decimal.Decimal) decimal.Decimal {
	return num.Round(a, b.decimals)
}

// CanReserve reports whether amount (rounded) is positive and covered by
// the free balance.
func (b *Balance) CanReserve(amount decimal.Decimal) bool {
	amount = b.roundAmount(amount)
	return amount.IsPositive() && amount.LessThanOrEqual(b.free)
}

// CanFree classifies a prospective freeReservation call without mutating.
func (b *Balance) CanFree(id types.OrderID, amount *decimal.Decimal) FreeStatus {
	amount = num.RoundOpt(amount, b.decimals)
	reservation, ok := b.reservations[id]
	if !ok {
		switch {
		case amount == nil:
			return NonexistentReservationAndAmount
		case amount.IsPositive():
			return NonexistentReservation
		default:
			return NonexistentReservationAndNegativeAmount
		}
	}
	if amount != nil {
		switch {
		case amount.GreaterThan(reservation):
			return AmountExceedsReservation
		case amount.IsNegative():
			return NegativeAmount
		}
	}
	return Freeable
}

// Deposit adds amount to the free balance. Negative deposits model
// outflows and may not drive the balance negative.
func (b *Balance) Deposit(amount decimal.Decimal) {
	amount = b.roundAmount(amount)
	b.free = b.free.Add(amount)
	b.total = b.total.Add(amount)
	b.checkConsistency("Deposit")
}

// MakeReservation locks amount under the order id. A zero rounded amount
// is a no-op. Returns the rounded amount actually reserved.
func (b *Balance) MakeReservation(id types.OrderID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return num.Zero, &InvalidArgumentError{Amount: amount}
	}
	amount = b.roundAmount(amount)
	if amount.IsZero() {
		return num.Zero, nil
	}
	if !b.CanReserve(amount) {
		return num.Zero, &UnreservableError{Amount: amount, Free: b.free}
	}
	b.free = b.free.Sub(amount)
	b.reserved = b.reserved.Add(amount)
	if prev, ok := b.reservations[id]; ok {
		b.reservations[id] = prev.Add(amount)
	} else {
		b.reservations[id] = amount
	}
	b.checkConsistency("MakeReservation")
	b.checkReservationSum("MakeReservation")
	return amount, nil
}

// FreeReservation releases a reservation back to the free balance. A nil
// amount releases it entirely. Returns the released amount.
func (b *Balance) FreeReservation(id types.OrderID, amount *decimal.Decimal) (decimal.Decimal, error) {
	amount = num.RoundOpt(amount, b.decimals)
	if status := b.CanFree(id, amount); status != Freeable {
		var reservation *decimal.Decimal
		if r, ok := b.reservations[id]; ok {
			reservation = &r
		}
		return num.Zero, &FreeError{
			OrderID: id, Status: status, Amount: amount, Reservation: reservation,
		}
	}

	var released decimal.Decimal
	if amount == nil {
		released = b.reservations[id]
		delete(b.reservations, id)
	} else {
		released = *amount
		remaining := b.reservations[id].Sub(released)
		if remaining.IsNegative() {
			panic(fmt.Sprintf(
				"negative reservation %s for order #%d after freeing %s",
				remaining, id, released))
		}
		if remaining.IsZero() {
			delete(b.reservations, id)
		} else {
			b.reservations[id] = remaining
		}
	}

	b.free = b.free.Add(released)
	b.reserved = b.reserved.Sub(released)

	if b.reserved.IsPositive() && len(b.reservations) == 0 {
		panic(fmt.Sprintf(
			"no reservations left but %s still reserved after freeing order #%d",
			b.reserved, id))
	}
	b.checkConsistency("FreeReservation")
	return released, nil
}

// TryFreeReservation frees like FreeReservation but absorbs free errors,
// returning zero. Invariant panics still propagate.
func (b *Balance) TryFreeReservation(id types.OrderID, amount *decimal.Decimal) decimal.Decimal {
	released, err := b.FreeReservation(id, amount)
	if err != nil {
		return num.Zero
	}
	return released
}

// VoidReservation frees then removes the same amount from free and total:
// the reserved funds leave the ledger without a cash receipt. A missing
// reservation is a no-op.
func (b *Balance) VoidReservation(id types.OrderID, amount *decimal.Decimal) decimal.Decimal {
	if _, ok := b.reservations[id]; !ok {
		return num.Zero
	}
	released, err := b.FreeReservation(id, amount)
	if err != nil {
		panic(err.Error())
	}
	b.free = b.free.Sub(released)
	b.total = b.total.Sub(released)
	b.checkConsistency("VoidReservation")
	return released
}

// withdrawFree removes amount directly from the free balance, used by
// commits drawing beyond an order's reservation. Panics if the free
// balance cannot cover it.
func (b *Balance) withdrawFree(amount decimal.Decimal) {
	amount = b.roundAmount(amount)
	b.free = b.free.Sub(amount)
	b.total = b.total.Sub(amount)
	b.checkConsistency("withdrawFree")
}

func (b *Balance) checkConsistency(ctx string) {
	if !b.total.Equal(b.free.Add(b.reserved)) {
		panic(fmt.Sprintf(
			"%s: inconsistent accounting: total %s != free %s + reserved %s",
			ctx, b.total, b.free, b.reserved))
	}
	if b.total.IsNegative() || b.free.IsNegative() || b.reserved.IsNegative() {
		panic(fmt.Sprintf(
			"%s: negative values in accounting: %s (%s | %s)",
			ctx, b.total, b.free, b.reserved))
	}
}

func (b *Balance) checkReservationSum(ctx string) {
	sum := num.Zero
	for _, r := range b.reservations {
		sum = sum.Add(r)
	}
	if !sum.Equal(b.reserved) {
		panic(fmt.Sprintf(
			"%s: reserved %s does not match the sum of reservations %s",
			ctx, b.reserved, sum))
	}
}

func (b *Balance) String() string {
	return fmt.Sprintf("Balance{free=%s reserved=%s total=%s %s}",
		b.free, b.reserved, b.total, b.symbol)
}
