package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// ValidatorParams are the increments and limits applied before any
// reservation.
type ValidatorParams struct {
	PriceIncrementDecimals  int32
	VolumeIncrementDecimals int32
	BaseIncrementDecimals   int32
	QuoteIncrementDecimals  int32

	// MinOrderSize rejects smaller volumes when positive.
	MinOrderSize decimal.Decimal
	// MaxOrdersPerAgent caps active orders per (agent, book) when
	// positive.
	MaxOrdersPerAgent int
}

// ValidationResult is an accepted placement: the direction, the amount to
// reserve (quote for buys, base for sells; collateral when leveraged) and
// the accepted leverage. CancelResting lists same-agent resting orders a
// CB rejection knocks out despite the incoming being refused.
type ValidationResult struct {
	Direction     types.Direction
	Amount        decimal.Decimal
	Leverage      decimal.Decimal
	CancelResting []types.OrderID
}

// OrderPlacementValidator decides order admission. It is a pure function
// of the account, the book and the request; it mutates only the payload
// (rounding, IOC tightening) and never the book or balances.
type OrderPlacementValidator struct {
	params ValidatorParams
}

// NewOrderPlacementValidator builds a validator with the given params.
func NewOrderPlacementValidator(params ValidatorParams) *OrderPlacementValidator {
	return &OrderPlacementValidator{params: params}
}

// ValidateMarketOrderPlacement admits a market order. The reservation
// amount is the price-walked cost of the matchable volume, fee-adjusted
// at the taker rate (buys) or the requested base volume (sells).
func (v *OrderPlacementValidator) ValidateMarketOrderPlacement(
	account *accounting.Account,
	bk *book.Book,
	payload *message.PlaceOrderMarketPayload,
	feePolicy *FeePolicyWrapper,
	maxLeverage, maxLoan decimal.Decimal,
	agentID types.AgentID,
) (ValidationResult, types.OrderErrorCode) {
	payload.Volume = num.Round(payload.Volume, v.params.VolumeIncrementDecimals)
	payload.Leverage = num.Round(payload.Leverage, v.params.VolumeIncrementDecimals)

	if payload.Leverage.IsNegative() || payload.Leverage.GreaterThan(maxLeverage) {
		return ValidationResult{}, types.InvalidLeverage
	}
	if !payload.Volume.IsPositive() {
		return ValidationResult{}, types.InvalidVolume
	}
	if code := v.checkLimits(account, payload.BookID, payload.Volume); code != types.Valid {
		return ValidationResult{}, code
	}

	totalVolume := num.Round(
		payload.Volume.Mul(num.OneP(payload.Leverage)), v.params.VolumeIncrementDecimals)
	balances := account.At(payload.BookID)
	feeRates := feePolicy.GetRates(payload.BookID, agentID)

	if payload.Direction == types.Buy {
		if bk.SideEmpty(types.Sell) {
			return ValidationResult{}, types.EmptyBook
		}
		cost, _ := v.walkCost(bk, agentID, types.Buy, nil, totalVolume,
			payload.STPFlag, feeRates.Taker)
		cost = num.Round(cost, v.params.QuoteIncrementDecimals)

		if payload.Leverage.IsZero() {
			if !balances.Quote.CanReserve(cost) {
				return ValidationResult{}, types.InsufficientQuote
			}
			return ValidationResult{
				Direction: payload.Direction, Amount: cost, Leverage: payload.Leverage,
			}, types.Valid
		}
		collateral := num.Round(
			cost.Div(num.OneP(payload.Leverage)), v.params.QuoteIncrementDecimals)
		price := bk.BestAskOrZero()
		if !balances.CanBorrow(collateral, price, payload.Direction) ||
			collateral.Mul(payload.Leverage).Add(balances.TotalLoanInQuote(price)).
				GreaterThan(maxLoan) {
			return ValidationResult{}, types.ExceedingLoan
		}
		return ValidationResult{
			Direction: payload.Direction, Amount: collateral, Leverage: payload.Leverage,
		}, types.Valid
	}

	if bk.SideEmpty(types.Buy) {
		return ValidationResult{}, types.EmptyBook
	}
	if payload.Leverage.IsZero() {
		if !balances.Base.CanReserve(payload.Volume) {
			return ValidationResult{}, types.InsufficientBase
		}
		return ValidationResult{
			Direction: payload.Direction, Amount: payload.Volume, Leverage: payload.Leverage,
		}, types.Valid
	}
	price := bk.BestBidOrZero()
	if !balances.CanBorrow(payload.Volume, price, payload.Direction) ||
		payload.Volume.Mul(payload.Leverage).Add(balances.TotalLoanInQuote(price)).
			GreaterThan(maxLoan) {
		return ValidationResult{}, types.ExceedingLoan
	}
	return ValidationResult{
		Direction: payload.Direction, Amount: payload.Volume, Leverage: payload.Leverage,
	}, types.Valid
}

// ValidateLimitOrderPlacement admits a limit order, enforcing time in
// force, post-only and self-trade prevention before the funds check.
func (v *OrderPlacementValidator) ValidateLimitOrderPlacement(
	account *accounting.Account,
	bk *book.Book,
	payload *message.PlaceOrderLimitPayload,
	feePolicy *FeePolicyWrapper,
	maxLeverage, maxLoan decimal.Decimal,
	agentID types.AgentID,
) (ValidationResult, types.OrderErrorCode) {
	payload.Price = num.Round(payload.Price, v.params.PriceIncrementDecimals)
	payload.Volume = num.Round(payload.Volume, v.params.VolumeIncrementDecimals)
	payload.Leverage = num.Round(payload.Leverage, v.params.VolumeIncrementDecimals)

	if payload.Leverage.IsNegative() || payload.Leverage.GreaterThan(maxLeverage) {
		return ValidationResult{}, types.InvalidLeverage
	}
	if !payload.Volume.IsPositive() {
		return ValidationResult{}, types.InvalidVolume
	}
	if !payload.Price.IsPositive() {
		return ValidationResult{}, types.InvalidPrice
	}
	if code := v.checkLimits(account, payload.BookID, payload.Volume); code != types.Valid {
		return ValidationResult{}, code
	}

	var cancelResting []types.OrderID
	if payload.STPFlag == types.STPCancelNewest || payload.STPFlag == types.STPCancelBoth {
		collisions := v.sameAgentInRange(bk, account, payload.BookID, payload.Direction, payload.Price)
		if len(collisions) > 0 {
			if payload.STPFlag == types.STPCancelBoth {
				cancelResting = collisions
			}
			return ValidationResult{CancelResting: cancelResting}, types.ContractViolation
		}
	}

	if !v.checkTimeInForce(bk, account, payload, agentID) {
		return ValidationResult{}, types.ContractViolation
	}
	if payload.PostOnly && !v.checkPostOnly(bk, account, payload) {
		return ValidationResult{}, types.ContractViolation
	}

	totalVolume := num.Round(
		payload.Volume.Mul(num.OneP(payload.Leverage)), v.params.VolumeIncrementDecimals)
	balances := account.At(payload.BookID)
	feeRates := feePolicy.GetRates(payload.BookID, agentID)

	if payload.Direction == types.Buy {
		takerCost, takerVolume := v.walkCost(bk, agentID, types.Buy, &payload.Price,
			totalVolume, payload.STPFlag, feeRates.Taker)
		takerCost = num.Round(takerCost, v.params.QuoteIncrementDecimals)

		makerVolume := totalVolume.Sub(takerVolume)
		makerCost := num.Round(
			payload.Price.Mul(makerVolume).Mul(num.OneP(feeRates.Maker)),
			v.params.QuoteIncrementDecimals)
		cost := num.Round(takerCost.Add(makerCost), v.params.QuoteIncrementDecimals)

		if payload.Leverage.IsZero() {
			if !balances.Quote.CanReserve(cost) {
				return ValidationResult{}, types.InsufficientQuote
			}
			return ValidationResult{
				Direction: payload.Direction, Amount: cost, Leverage: payload.Leverage,
			}, types.Valid
		}
		collateral := num.Round(
			cost.Div(num.OneP(payload.Leverage)), v.params.QuoteIncrementDecimals)
		if !balances.CanBorrow(collateral, payload.Price, payload.Direction) ||
			collateral.Mul(payload.Leverage).Add(balances.TotalLoanInQuote(payload.Price)).
				GreaterThan(maxLoan) {
			return ValidationResult{}, types.ExceedingLoan
		}
		return ValidationResult{
			Direction: payload.Direction, Amount: collateral, Leverage: payload.Leverage,
		}, types.Valid
	}

	if payload.Leverage.IsZero() {
		if !balances.Base.CanReserve(payload.Volume) {
			return ValidationResult{}, types.InsufficientBase
		}
		return ValidationResult{
			Direction: payload.Direction, Amount: payload.Volume, Leverage: payload.Leverage,
		}, types.Valid
	}
	if !balances.CanBorrow(payload.Volume, payload.Price, payload.Direction) ||
		payload.Volume.Mul(payload.Leverage).Add(balances.TotalLoanInQuote(payload.Price)).
			GreaterThan(maxLoan) {
		return ValidationResult{}, types.ExceedingLoan
	}
	return ValidationResult{
		Direction: payload.Direction, Amount: payload.Volume, Leverage: payload.Leverage,
	}, types.Valid
}

func (v *OrderPlacementValidator) checkLimits(
	account *accounting.Account, bookID types.BookID, volume decimal.Decimal,
) types.OrderErrorCode {
	if v.params.MinOrderSize.IsPositive() && volume.LessThan(v.params.MinOrderSize) {
		return types.MinimumOrderSizeViolation
	}
	if v.params.MaxOrdersPerAgent > 0 &&
		len(account.Active(bookID)) >= v.params.MaxOrdersPerAgent {
		return types.ExceedingMaxOrders
	}
	return types.Valid
}

// walkCost walks the opposite side best-price-first, price-bounded when
// limitPrice is set, and returns the fee-adjusted cost and the matched
// volume for up to totalVolume. Self-trade prevention skips same-agent
// resting orders for CO/CN/CB so the funds check mirrors the engine.
func (v *OrderPlacementValidator) walkCost(
	bk *book.Book,
	agentID types.AgentID,
	direction types.Direction,
	limitPrice *decimal.Decimal,
	totalVolume decimal.Decimal,
	stpFlag types.STPFlag,
	takerRate decimal.Decimal,
) (cost, matched decimal.Decimal) {
	cost, matched = num.Zero, num.Zero
	skipSTP := stpFlag == types.STPCancelOldest ||
		stpFlag == types.STPCancelNewest || stpFlag == types.STPCancelBoth

	walk := func(lvl *book.Level) bool {
		if limitPrice != nil {
			if direction == types.Buy && lvl.Price.GreaterThan(*limitPrice) {
				return false
			}
			if direction == types.Sell && lvl.Price.LessThan(*limitPrice) {
				return false
			}
		}
		for _, resting := range lvl.Orders {
			ctx, _ := bk.ClientContext(resting.ID)
			if skipSTP && ctx.AgentID == agentID {
				continue
			}
			tickVolume := resting.TotalVolume()
			fill := tickVolume
			if matched.Add(tickVolume).GreaterThanOrEqual(totalVolume) {
				fill = totalVolume.Sub(matched)
			}
			matched = matched.Add(fill)
			cost = cost.Add(num.Round(
				lvl.Price.Mul(fill).Mul(num.OneP(takerRate)),
				v.params.QuoteIncrementDecimals))
			if matched.GreaterThanOrEqual(totalVolume) {
				return false
			}
		}
		return true
	}

	if direction == types.Buy {
		bk.SellLevels(walk)
	} else {
		bk.BuyLevels(walk)
	}
	return cost, matched
}

// matchableVolume is walkCost without the cost leg, honouring the
// per-flag skip/abort semantics. abort reports a CN/CB collision.
func (v *OrderPlacementValidator) matchableVolume(
	bk *book.Book,
	account *accounting.Account,
	payload *message.PlaceOrderLimitPayload,
	totalVolume decimal.Decimal,
) (volume decimal.Decimal, abort bool) {
	volume = num.Zero
	active := account.Active(payload.BookID)

	walk := func(lvl *book.Level) bool {
		if payload.Direction == types.Buy && lvl.Price.GreaterThan(payload.Price) {
			return false
		}
		if payload.Direction == types.Sell && lvl.Price.LessThan(payload.Price) {
			return false
		}
		for _, resting := range lvl.Orders {
			_, mine := active[resting.ID]
			if mine {
				switch payload.STPFlag {
				case types.STPCancelOldest:
					continue
				case types.STPCancelNewest, types.STPCancelBoth:
					abort = true
					return false
				}
			}
			tickVolume := num.Round(resting.TotalVolume(), v.params.VolumeIncrementDecimals)
			if volume.Add(tickVolume).GreaterThan(totalVolume) {
				volume = totalVolume
				return false
			}
			volume = volume.Add(tickVolume)
		}
		return true
	}

	if payload.Direction == types.Buy {
		bk.SellLevels(walk)
	} else {
		bk.BuyLevels(walk)
	}
	return volume, abort
}

func (v *OrderPlacementValidator) checkTimeInForce(
	bk *book.Book,
	account *accounting.Account,
	payload *message.PlaceOrderLimitPayload,
	agentID types.AgentID,
) bool {
	switch payload.TimeInForce {
	case types.IOC:
		return v.checkIOC(bk, account, payload)
	case types.FOK:
		return v.checkFOK(bk, account, payload)
	default:
		return true
	}
}

// checkIOC requires a non-zero immediately matchable volume and tightens
// the payload volume to it; the residual is dropped by design. Post-only
// IOC is an immediate rejection.
func (v *OrderPlacementValidator) checkIOC(
	bk *book.Book,
	account *accounting.Account,
	payload *message.PlaceOrderLimitPayload,
) bool {
	if payload.PostOnly {
		return false
	}
	totalVolume := num.Round(
		payload.Volume.Mul(num.OneP(payload.Leverage)), v.params.VolumeIncrementDecimals)
	matchable, abort := v.matchableVolume(bk, account, payload, totalVolume)
	if abort || matchable.IsZero() {
		return false
	}
	payload.Volume = num.Round(
		matchable.Div(num.OneP(payload.Leverage)), v.params.VolumeIncrementDecimals)
	return true
}

// checkFOK admits only orders whose full volume is immediately
// matchable, atomically, before any reservation.
func (v *OrderPlacementValidator) checkFOK(
	bk *book.Book,
	account *accounting.Account,
	payload *message.PlaceOrderLimitPayload,
) bool {
	if payload.PostOnly {
		return false
	}
	totalVolume := num.Round(
		payload.Volume.Mul(num.OneP(payload.Leverage)), v.params.VolumeIncrementDecimals)
	matchable, abort := v.matchableVolume(bk, account, payload, totalVolume)
	return !abort && matchable.GreaterThanOrEqual(totalVolume)
}

// checkPostOnly requires that the order would not match at submission.
// Under CO same-agent resting orders are ignored; under DC the aggregate
// same-agent volume that would be removed must stay below the order's
// total volume.
func (v *OrderPlacementValidator) checkPostOnly(
	bk *book.Book,
	account *accounting.Account,
	payload *message.PlaceOrderLimitPayload,
) bool {
	if payload.TimeInForce == types.IOC || payload.TimeInForce == types.FOK {
		return false
	}
	opposite := types.Sell
	if payload.Direction == types.Sell {
		opposite = types.Buy
	}
	if bk.SideEmpty(opposite) {
		return true
	}

	active := account.Active(payload.BookID)

	switch payload.STPFlag {
	case types.STPCancelOldest:
		ok := true
		walk := func(lvl *book.Level) bool {
			if payload.Direction == types.Buy && lvl.Price.GreaterThan(payload.Price) {
				return false
			}
			if payload.Direction == types.Sell && lvl.Price.LessThan(payload.Price) {
				return false
			}
			for _, resting := range lvl.Orders {
				if _, mine := active[resting.ID]; !mine {
					ok = false
					return false
				}
			}
			return true
		}
		if payload.Direction == types.Buy {
			bk.SellLevels(walk)
		} else {
			bk.BuyLevels(walk)
		}
		return ok

	case types.STPDecrementBoth:
		totalVolume := num.Round(
			payload.Volume.Mul(num.OneP(payload.Leverage)), v.params.VolumeIncrementDecimals)
		removed := num.Zero
		ok := true
		walk := func(lvl *book.Level) bool {
			if payload.Direction == types.Buy && lvl.Price.GreaterThan(payload.Price) {
				return false
			}
			if payload.Direction == types.Sell && lvl.Price.LessThan(payload.Price) {
				return false
			}
			for _, resting := range lvl.Orders {
				if _, mine := active[resting.ID]; !mine {
					ok = false
					return false
				}
				tickVolume := num.Round(resting.TotalVolume(), v.params.VolumeIncrementDecimals)
				if tickVolume.GreaterThanOrEqual(totalVolume.Sub(removed)) {
					ok = false
					return false
				}
				removed = removed.Add(tickVolume)
			}
			return true
		}
		if payload.Direction == types.Buy {
			bk.SellLevels(walk)
		} else {
			bk.BuyLevels(walk)
		}
		return ok

	default:
		if payload.Direction == types.Buy {
			return payload.Price.LessThan(bk.BestAskOrZero())
		}
		return payload.Price.GreaterThan(bk.BestBidOrZero())
	}
}

// sameAgentInRange collects the agent's own resting orders inside the
// matchable price range, used for CN/CB collision handling.
func (v *OrderPlacementValidator) sameAgentInRange(
	bk *book.Book,
	account *accounting.Account,
	bookID types.BookID,
	direction types.Direction,
	price decimal.Decimal,
) []types.OrderID {
	var ids []types.OrderID
	active := account.Active(bookID)
	walk := func(lvl *book.Level) bool {
		if direction == types.Buy && lvl.Price.GreaterThan(price) {
			return false
		}
		if direction == types.Sell && lvl.Price.LessThan(price) {
			return false
		}
		for _, resting := range lvl.Orders {
			if _, mine := active[resting.ID]; mine {
				ids = append(ids, resting.ID)
			}
		}
		return true
	}
	if direction == types.Buy {
		bk.SellLevels(walk)
	} else {
		bk.BuyLevels(walk)
	}
	return ids
}
