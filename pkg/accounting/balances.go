package accounting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// ReservationAmounts reports the per-currency split of a reservation
// operation.
type ReservationAmounts struct {
	Base  decimal.Decimal
	Quote decimal.Decimal
}

// SettledLoan identifies a loan fully repaid by a commit, with the
// margin-call price it was tracked under so the clearing manager can
// purge its index.
type SettledLoan struct {
	OrderID         types.OrderID
	MarginCallPrice decimal.Decimal
}

// Balances is the per-agent, per-book pair of balances plus the margin
// state: per-order leverages, open loans with collateral, and the
// aggregate loan/collateral totals. The aggregates always equal the sums
// over the per-loan components.
type Balances struct {
	Base  Balance
	Quote Balance

	buyLeverages  map[types.OrderID]decimal.Decimal
	sellLeverages map[types.OrderID]decimal.Decimal

	loans     map[types.OrderID]*Loan
	loanOrder []types.OrderID // FIFO by creation, drives default settlement

	baseLoan        decimal.Decimal
	quoteLoan       decimal.Decimal
	baseCollateral  decimal.Decimal
	quoteCollateral decimal.Decimal

	maintenanceMargin decimal.Decimal
	rp                types.RoundParams
}

// NewBalances pairs a base and quote balance under the book's rounding
// parameters and maintenance margin.
func NewBalances(base, quote Balance, maintenanceMargin decimal.Decimal, rp types.RoundParams) Balances {
	return Balances{
		Base:              base,
		Quote:             quote,
		buyLeverages:      make(map[types.OrderID]decimal.Decimal),
		sellLeverages:     make(map[types.OrderID]decimal.Decimal),
		loans:             make(map[types.OrderID]*Loan),
		maintenanceMargin: maintenanceMargin,
		rp:                rp,
	}
}

// Clone returns fresh balances holding the same totals, all free, under
// the same rounding and margin parameters; reservations, leverages and
// loans are not copied. Used for account templates.
func (b *Balances) Clone() Balances {
	c := NewBalances(
		NewBalance(b.Base.Total(), b.Base.Symbol(), b.Base.Decimals()),
		NewBalance(b.Quote.Total(), b.Quote.Symbol(), b.Quote.Decimals()),
		b.maintenanceMargin, b.rp)
	return c
}

// RoundParams returns the book's rounding precisions.
func (b *Balances) RoundParams() types.RoundParams { return b.rp }

// Loans exposes the open loans for serialisation. Callers must not
// mutate.
func (b *Balances) Loans() map[types.OrderID]*Loan { return b.loans }

// Loan returns the open loan for an order id.
func (b *Balances) Loan(id types.OrderID) (*Loan, bool) {
	l, ok := b.loans[id]
	return l, ok
}

// Aggregates returns (baseLoan, quoteLoan, baseCollateral,
// quoteCollateral).
func (b *Balances) Aggregates() (decimal.Decimal, decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	return b.baseLoan, b.quoteLoan, b.baseCollateral, b.quoteCollateral
}

// GetLeverage returns the leverage recorded for an order on the given
// side, zero when absent.
func (b *Balances) GetLeverage(id types.OrderID, direction types.Direction) decimal.Decimal {
	if direction == types.Buy {
		if l, ok := b.buyLeverages[id]; ok {
			return l
		}
		return num.Zero
	}
	if l, ok := b.sellLeverages[id]; ok {
		return l
	}
	return num.Zero
}

// CanBorrow reports whether the agent's free wealth covers a collateral
// amount: quote-measured for buys, base-measured for sells.
func (b *Balances) CanBorrow(collateralAmount, price decimal.Decimal, direction types.Direction) bool {
	if direction == types.Buy {
		return num.FMA(b.Base.Free(), price, b.Quote.Free()).
			GreaterThanOrEqual(collateralAmount)
	}
	return b.Base.Free().Add(b.Quote.Free().Div(price)).
		GreaterThanOrEqual(collateralAmount)
}

// TotalLoanInQuote values all outstanding loans in quote at the given
// price.
func (b *Balances) TotalLoanInQuote(price decimal.Decimal) decimal.Decimal {
	return num.FMA(b.baseLoan, price, b.quoteLoan)
}

// ReservationInQuote values an order's reservation in quote at the given
// price.
func (b *Balances) ReservationInQuote(id types.OrderID, price decimal.Decimal) decimal.Decimal {
	q, _ := b.Quote.Reservation(id)
	base, _ := b.Base.Reservation(id)
	return num.FMA(base, price, q)
}

// ReservationInBase values an order's reservation in base at the given
// price.
func (b *Balances) ReservationInBase(id types.OrderID, price decimal.Decimal) decimal.Decimal {
	q, _ := b.Quote.Reservation(id)
	base, _ := b.Base.Reservation(id)
	return base.Add(q.Div(price))
}

// Wealth values the account in quote at the given price.
func (b *Balances) Wealth(price decimal.Decimal) decimal.Decimal {
	return num.FMA(b.Base.Total(), price, b.Quote.Total())
}

// MakeReservation locks funds for an order. Unleveraged buys reserve
// amount quote, unleveraged sells amount base. Leveraged orders treat
// amount as collateral: the natural-side currency is drawn first and the
// shortfall converted into the counter currency at price (rounded down),
// and a loan of amount*leverage opens with the closed-form margin-call
// price.
func (b *Balances) MakeReservation(
	id types.OrderID,
	price, bestBid, bestAsk decimal.Decimal,
	amount, leverage decimal.Decimal,
	direction types.Direction,
) (ReservationAmounts, error) {
	if leverage.IsZero() {
		if direction == types.Buy {
			reserved, err := b.Quote.MakeReservation(id, amount)
			if err != nil {
				return ReservationAmounts{}, err
			}
			b.buyLeverages[id] = num.Zero
			return ReservationAmounts{Quote: reserved}, nil
		}
		reserved, err := b.Base.MakeReservation(id, amount)
		if err != nil {
			return ReservationAmounts{}, err
		}
		b.sellLeverages[id] = num.Zero
		return ReservationAmounts{Base: reserved}, nil
	}

	if !b.CanBorrow(amount, price, direction) {
		return ReservationAmounts{}, &UnreservableError{Amount: amount, Free: b.naturalFree(direction)}
	}

	var reserved ReservationAmounts
	if direction == types.Buy {
		take := num.Min(num.Round(amount, b.rp.QuoteDecimals), b.Quote.Free())
		if take.IsPositive() {
			q, err := b.Quote.MakeReservation(id, take)
			if err != nil {
				return ReservationAmounts{}, err
			}
			reserved.Quote = q
		}
		remainder := num.Round(amount, b.rp.QuoteDecimals).Sub(take)
		if remainder.IsPositive() {
			baseAmt := num.RoundDown(remainder.Div(price), b.rp.BaseDecimals)
			base, err := b.Base.MakeReservation(id, baseAmt)
			if err != nil {
				b.Quote.TryFreeReservation(id, nil)
				return ReservationAmounts{}, err
			}
			reserved.Base = base
		}
	} else {
		take := num.Min(num.Round(amount, b.rp.BaseDecimals), b.Base.Free())
		if take.IsPositive() {
			base, err := b.Base.MakeReservation(id, take)
			if err != nil {
				return ReservationAmounts{}, err
			}
			reserved.Base = base
		}
		remainder := num.Round(amount, b.rp.BaseDecimals).Sub(take)
		if remainder.IsPositive() {
			quoteAmt := num.RoundDown(remainder.Mul(price), b.rp.QuoteDecimals)
			q, err := b.Quote.MakeReservation(id, quoteAmt)
			if err != nil {
				b.Base.TryFreeReservation(id, nil)
				return ReservationAmounts{}, err
			}
			reserved.Quote = q
		}
	}

	b.borrow(id, direction, amount, leverage, price, Collateral{
		Base:  reserved.Base,
		Quote: reserved.Quote,
	})
	return reserved, nil
}

func (b *Balances) naturalFree(direction types.Direction) decimal.Decimal {
	if direction == types.Buy {
		return b.Quote.Free()
	}
	return b.Base.Free()
}

// borrow opens the loan backing a leveraged reservation.
func (b *Balances) borrow(
	id types.OrderID,
	direction types.Direction,
	amount, leverage, price decimal.Decimal,
	collateral Collateral,
) {
	var loanAmount decimal.Decimal
	if direction == types.Buy {
		loanAmount = num.Round(amount.Mul(leverage), b.rp.QuoteDecimals)
		b.quoteLoan = b.quoteLoan.Add(loanAmount)
		b.buyLeverages[id] = leverage
	} else {
		loanAmount = num.Round(amount.Mul(leverage), b.rp.BaseDecimals)
		b.baseLoan = b.baseLoan.Add(loanAmount)
		b.sellLeverages[id] = leverage
	}
	b.baseCollateral = b.baseCollateral.Add(collateral.Base)
	b.quoteCollateral = b.quoteCollateral.Add(collateral.Quote)

	loan := &Loan{
		Amount:     loanAmount,
		Direction:  direction,
		Leverage:   leverage,
		Collateral: collateral,
		MarginCallPrice: MarginCallPrice(
			price, leverage, direction, b.maintenanceMargin),
	}
	if existing, ok := b.loans[id]; ok {
		existing.Accumulate(loan)
		return
	}
	b.loans[id] = loan
	b.loanOrder = append(b.loanOrder, id)
}

// FreeReservation is the mirror of MakeReservation: a nil amount releases
// everything recorded for the order and dissolves its loan; a partial
// amount (in the order's natural currency) drains the counter-currency
// side first at price, rounds the natural-side remainder up, and scales
// the loan down proportionally. Returns the per-currency released
// amounts.
func (b *Balances) FreeReservation(
	id types.OrderID,
	price, bestBid, bestAsk decimal.Decimal,
	direction types.Direction,
	amount *decimal.Decimal,
) (ReservationAmounts, error) {
	leverage := b.GetLeverage(id, direction)

	if amount == nil {
		var freed ReservationAmounts
		if _, ok := b.Quote.Reservation(id); ok {
			q, err := b.Quote.FreeReservation(id, nil)
			if err != nil {
				return ReservationAmounts{}, err
			}
			freed.Quote = q
		}
		if _, ok := b.Base.Reservation(id); ok {
			base, err := b.Base.FreeReservation(id, nil)
			if err != nil {
				return ReservationAmounts{}, err
			}
			freed.Base = base
		}
		b.dissolveLoan(id, direction)
		b.dropLeverage(id, direction)
		return freed, nil
	}

	if leverage.IsZero() {
		if direction == types.Buy {
			q, err := b.Quote.FreeReservation(id, amount)
			if err != nil {
				return ReservationAmounts{}, err
			}
			return ReservationAmounts{Quote: q}, nil
		}
		base, err := b.Base.FreeReservation(id, amount)
		if err != nil {
			return ReservationAmounts{}, err
		}
		return ReservationAmounts{Base: base}, nil
	}

	var freed ReservationAmounts
	remaining := *amount
	if direction == types.Buy {
		// Counter currency first: the base leg, valued at price.
		if baseRes, ok := b.Base.Reservation(id); ok && baseRes.IsPositive() {
			baseWorth := baseRes.Mul(price)
			if remaining.GreaterThanOrEqual(baseWorth) {
				base, err := b.Base.FreeReservation(id, nil)
				if err != nil {
					return ReservationAmounts{}, err
				}
				freed.Base = base
				remaining = remaining.Sub(baseWorth)
			} else {
				baseAmt := num.Round(remaining.Div(price), b.rp.BaseDecimals)
				base, err := b.Base.FreeReservation(id, &baseAmt)
				if err != nil {
					return ReservationAmounts{}, err
				}
				freed.Base = base
				remaining = num.Zero
			}
		}
		if remaining.IsPositive() {
			quoteAmt := num.RoundUp(remaining, b.rp.QuoteDecimals)
			if res, ok := b.Quote.Reservation(id); ok {
				quoteAmt = num.Min(quoteAmt, res)
			}
			q, err := b.Quote.FreeReservation(id, &quoteAmt)
			if err != nil {
				return ReservationAmounts{}, err
			}
			freed.Quote = q
		}
	} else {
		// Counter currency first: the quote leg, valued at price.
		if quoteRes, ok := b.Quote.Reservation(id); ok && quoteRes.IsPositive() {
			quoteWorth := quoteRes.Div(price)
			if remaining.GreaterThanOrEqual(quoteWorth) {
				q, err := b.Quote.FreeReservation(id, nil)
				if err != nil {
					return ReservationAmounts{}, err
				}
				freed.Quote = q
				remaining = remaining.Sub(quoteWorth)
			} else {
				quoteAmt := num.Round(remaining.Mul(price), b.rp.QuoteDecimals)
				q, err := b.Quote.FreeReservation(id, &quoteAmt)
				if err != nil {
					return ReservationAmounts{}, err
				}
				freed.Quote = q
				remaining = num.Zero
			}
		}
		if remaining.IsPositive() {
			baseAmt := num.RoundUp(remaining, b.rp.BaseDecimals)
			if res, ok := b.Base.Reservation(id); ok {
				baseAmt = num.Min(baseAmt, res)
			}
			base, err := b.Base.FreeReservation(id, &baseAmt)
			if err != nil {
				return ReservationAmounts{}, err
			}
			freed.Base = base
		}
	}

	if loan, ok := b.loans[id]; ok {
		repay := num.Min(loan.Amount, amount.Mul(leverage))
		b.reduceLoan(id, loan, repay, price)
	}
	return freed, nil
}

// Commit applies one fill to this side of a trade. For a buy of
// counterAmount base against amount quote it consumes amount+fee from the
// order's quote reservation, then free quote, then base valued at the
// best ask; credits counterAmount base; records the new margin-call
// price on the order's loan; and settles opposite-direction loans with
// the received amount per the settle flag. Returns the loans fully
// repaid. Symmetric for sells.
func (b *Balances) Commit(
	id types.OrderID,
	direction types.Direction,
	amount, counterAmount, fee decimal.Decimal,
	bestBid, bestAsk decimal.Decimal,
	marginCallPrice decimal.Decimal,
	settleFlag types.SettleFlag,
) []SettledLoan {
	if direction == types.Buy {
		pay := num.Round(amount.Add(fee), b.rp.QuoteDecimals)
		b.consume(&b.Quote, &b.Base, id, pay, bestAsk, true)
		b.Base.Deposit(counterAmount)

		if loan, ok := b.loans[id]; ok && loan.Direction == types.Buy {
			loan.MarginCallPrice = marginCallPrice
		}
		price := bestAsk
		if price.IsZero() {
			price = bestBid
		}
		return b.settleLoan(types.Sell, counterAmount, price, settleFlag)
	}

	pay := num.Round(amount, b.rp.BaseDecimals)
	b.consume(&b.Base, &b.Quote, id, pay, bestBid, false)
	b.Quote.Deposit(counterAmount.Sub(fee))

	if loan, ok := b.loans[id]; ok && loan.Direction == types.Sell {
		loan.MarginCallPrice = marginCallPrice
	}
	price := bestBid
	if price.IsZero() {
		price = bestAsk
	}
	return b.settleLoan(types.Buy, counterAmount.Sub(fee), price, settleFlag)
}

// consume pays out amount from the paying balance, drawing the order's
// reservation first, then the free balance, then the counter balance
// converted at price. payingIsQuote selects the conversion direction.
func (b *Balances) consume(
	paying, counter *Balance,
	id types.OrderID,
	amount, price decimal.Decimal,
	payingIsQuote bool,
) {
	remaining := amount
	if res, ok := paying.Reservation(id); ok && res.IsPositive() {
		take := num.Min(res, remaining)
		paying.VoidReservation(id, &take)
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		take := num.Min(paying.Free(), remaining)
		if take.IsPositive() {
			paying.withdrawFree(take)
			remaining = remaining.Sub(take)
		}
	}
	if !remaining.IsPositive() {
		return
	}
	if price.IsZero() {
		panic(fmt.Sprintf(
			"commit for order #%d: %s shortfall %s with no reference price",
			id, paying.Symbol(), remaining))
	}
	var converted decimal.Decimal
	if payingIsQuote {
		converted = num.Round(remaining.Div(price), counter.Decimals())
	} else {
		converted = num.Round(remaining.Mul(price), counter.Decimals())
	}
	if res, ok := counter.Reservation(id); ok && res.IsPositive() {
		take := num.Min(res, converted)
		counter.VoidReservation(id, &take)
		converted = converted.Sub(take)
	}
	if converted.IsPositive() {
		counter.withdrawFree(converted)
	}
}

// settleLoan repays loans of the given direction with up to amount,
// oldest first, or only the targeted loan when the settle flag names one.
// Fully repaid loans are removed and reported.
func (b *Balances) settleLoan(
	loanDirection types.Direction,
	amount, price decimal.Decimal,
	settleFlag types.SettleFlag,
) []SettledLoan {
	if !amount.IsPositive() || price.IsZero() || len(b.loans) == 0 {
		return nil
	}

	var settled []SettledLoan
	remaining := amount
	for _, id := range append([]types.OrderID(nil), b.loanOrder...) {
		if !remaining.IsPositive() {
			break
		}
		loan, ok := b.loans[id]
		if !ok || loan.Direction != loanDirection {
			continue
		}
		if settleFlag.Kind == types.SettleOrderID && id != settleFlag.OrderID {
			continue
		}
		repay := num.Min(loan.Amount, remaining)
		b.reduceLoan(id, loan, repay, price)
		remaining = remaining.Sub(repay)
		if _, open := b.loans[id]; !open {
			settled = append(settled, SettledLoan{
				OrderID:         id,
				MarginCallPrice: loan.MarginCallPrice,
			})
		}
		if settleFlag.Kind == types.SettleOrderID {
			break
		}
	}
	return settled
}

// reduceLoan repays part of a loan, keeping the aggregates in line, and
// removes it once exhausted.
func (b *Balances) reduceLoan(id types.OrderID, loan *Loan, repay, price decimal.Decimal) {
	if !repay.IsPositive() {
		return
	}
	released := loan.Settle(repay, price, b.rp)
	if loan.Direction == types.Buy {
		b.quoteLoan = b.quoteLoan.Sub(repay)
	} else {
		b.baseLoan = b.baseLoan.Sub(repay)
	}
	b.baseCollateral = b.baseCollateral.Sub(released.Base)
	b.quoteCollateral = b.quoteCollateral.Sub(released.Quote)

	if loan.Amount.IsZero() {
		b.removeLoan(id)
		b.dropLeverage(id, loan.Direction)
	}
}

// dissolveLoan removes an order's loan outright, e.g. on full
// cancellation, returning its aggregates.
func (b *Balances) dissolveLoan(id types.OrderID, direction types.Direction) {
	loan, ok := b.loans[id]
	if !ok {
		return
	}
	if loan.Direction == types.Buy {
		b.quoteLoan = b.quoteLoan.Sub(loan.Amount)
	} else {
		b.baseLoan = b.baseLoan.Sub(loan.Amount)
	}
	b.baseCollateral = b.baseCollateral.Sub(loan.Collateral.Base)
	b.quoteCollateral = b.quoteCollateral.Sub(loan.Collateral.Quote)
	b.removeLoan(id)
}

func (b *Balances) removeLoan(id types.OrderID) {
	delete(b.loans, id)
	for i, lid := range b.loanOrder {
		if lid == id {
			b.loanOrder = append(b.loanOrder[:i], b.loanOrder[i+1:]...)
			break
		}
	}
}

func (b *Balances) dropLeverage(id types.OrderID, direction types.Direction) {
	if direction == types.Buy {
		delete(b.buyLeverages, id)
	} else {
		delete(b.sellLeverages, id)
	}
}

// CheckLoanConsistency verifies the aggregate invariants; used by tests.
func (b *Balances) CheckLoanConsistency() error {
	baseLoan, quoteLoan := num.Zero, num.Zero
	baseColl, quoteColl := num.Zero, num.Zero
	for _, loan := range b.loans {
		if loan.Direction == types.Buy {
			quoteLoan = quoteLoan.Add(loan.Amount)
		} else {
			baseLoan = baseLoan.Add(loan.Amount)
		}
		baseColl = baseColl.Add(loan.Collateral.Base)
		quoteColl = quoteColl.Add(loan.Collateral.Quote)
	}
	if !baseLoan.Equal(b.baseLoan) || !quoteLoan.Equal(b.quoteLoan) {
		return fmt.Errorf("loan aggregates out of line: base %s/%s quote %s/%s",
			b.baseLoan, baseLoan, b.quoteLoan, quoteLoan)
	}
	if !baseColl.Equal(b.baseCollateral) || !quoteColl.Equal(b.quoteCollateral) {
		return fmt.Errorf("collateral aggregates out of line: base %s/%s quote %s/%s",
			b.baseCollateral, baseColl, b.quoteCollateral, quoteColl)
	}
	return nil
}
