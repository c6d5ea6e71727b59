package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/types"
)

func limitPayload(d types.Direction, volume, price string) *message.PlaceOrderLimitPayload {
	return &message.PlaceOrderLimitPayload{
		Direction:   d,
		Volume:      dec(volume),
		Price:       dec(price),
		BookID:      0,
		TimeInForce: types.GTC,
		SettleFlag:  types.SettleFIFOFlag(),
	}
}

func TestValidatorRejectsBadScalars(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "1", "100")
	agent := h.agent("TRADER_1")
	account, err := h.ex.Accounts().At(agent)
	require.NoError(t, err)
	v := h.ex.Clearing().Validator()
	fees := h.ex.Clearing().FeePolicy()

	cases := []struct {
		name    string
		payload *message.PlaceOrderLimitPayload
		want    types.OrderErrorCode
	}{
		{"zero volume", limitPayload(types.Buy, "0", "99"), types.InvalidVolume},
		{"negative volume", limitPayload(types.Buy, "-1", "99"), types.InvalidVolume},
		{"zero price", limitPayload(types.Buy, "1", "0"), types.InvalidPrice},
		{"negative price", limitPayload(types.Buy, "1", "-5"), types.InvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, code := v.ValidateLimitOrderPlacement(
				account, h.ex.Book(0), tc.payload, fees, dec("1"), dec("100"), agent)
			assert.Equal(t, tc.want, code)
		})
	}

	over := limitPayload(types.Buy, "1", "99")
	over.Leverage = dec("1.5")
	_, code := v.ValidateLimitOrderPlacement(
		account, h.ex.Book(0), over, fees, dec("1"), dec("100"), agent)
	assert.Equal(t, types.InvalidLeverage, code)

	neg := limitPayload(types.Buy, "1", "99")
	neg.Leverage = dec("-0.5")
	_, code = v.ValidateLimitOrderPlacement(
		account, h.ex.Book(0), neg, fees, dec("1"), dec("100"), agent)
	assert.Equal(t, types.InvalidLeverage, code)
}

func TestValidatorInsufficientFunds(t *testing.T) {
	h := newHarness(t, 1, "1", "50", "0", "0")
	agent := h.agent("POOR_TRADER_1")

	h.limit(agent, 0, types.Buy, "1", "99")
	err := h.lastError(t)
	assert.Equal(t, types.InsufficientQuote, err.Code)

	h.limit(agent, 0, types.Sell, "2", "101")
	err = h.lastError(t)
	assert.Equal(t, types.InsufficientBase, err.Code)
}

func TestValidatorEmptyBookMarketOrder(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.market(agent, 0, types.Buy, "1")
	assert.Equal(t, types.EmptyBook, h.lastError(t).Code)
}

func TestValidatorNonexistentAccount(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	h.market(77, 0, types.Buy, "1")
	assert.Equal(t, types.NonexistentAccount, h.lastError(t).Code)
}

func TestPostOnlyRejectedWhenCrossing(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	agent := h.remote()

	h.limit(maker, 0, types.Sell, "1", "100")

	payload := limitPayload(types.Buy, "1", "100")
	payload.PostOnly = true
	h.request(agent, message.TypePlaceOrderLimit, payload)
	assert.Equal(t, types.ContractViolation, h.lastError(t).Code)

	// Below the ask it rests fine.
	ok := limitPayload(types.Buy, "1", "99.99")
	ok.PostOnly = true
	h.request(agent, message.TypePlaceOrderLimit, ok)
	resp, isResp := h.lastResponse().Payload.(*message.PlaceOrderResponsePayload)
	require.True(t, isResp)
	assert.Equal(t, types.BookID(0), resp.BookID)
}

func TestPostOnlyIOCRejected(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	agent := h.remote()
	h.limit(maker, 0, types.Sell, "1", "100")

	payload := limitPayload(types.Buy, "1", "100")
	payload.PostOnly = true
	payload.TimeInForce = types.IOC
	h.request(agent, message.TypePlaceOrderLimit, payload)
	assert.Equal(t, types.ContractViolation, h.lastError(t).Code)
}

func TestIOCWithNoMatchableVolumeRejected(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	agent := h.remote()
	h.limit(maker, 0, types.Sell, "1", "101")

	payload := limitPayload(types.Buy, "1", "100")
	payload.TimeInForce = types.IOC
	h.request(agent, message.TypePlaceOrderLimit, payload)
	assert.Equal(t, types.ContractViolation, h.lastError(t).Code)
}

func TestIOCTightensVolumeToMatchable(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	agent := h.remote()
	h.limit(maker, 0, types.Sell, "1", "100")

	payload := limitPayload(types.Buy, "5", "100")
	payload.TimeInForce = types.IOC
	h.request(agent, message.TypePlaceOrderLimit, payload)

	// One unit fills, nothing rests, and only the matchable amount was
	// charged.
	b := h.balances(agent, 0)
	assert.True(t, h.ex.Book(0).SideEmpty(types.Buy))
	assert.True(t, b.Base.Total().Equal(dec("101")))
	assert.True(t, b.Quote.Total().Equal(dec("4900")), "quote total %s", b.Quote.Total())
	assert.True(t, b.Quote.Reserved().IsZero())
}

func TestFOKRejectsPartialFill(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	agent := h.remote()
	h.limit(maker, 0, types.Sell, "1", "100")

	payload := limitPayload(types.Buy, "2", "100")
	payload.TimeInForce = types.FOK
	h.request(agent, message.TypePlaceOrderLimit, payload)
	assert.Equal(t, types.ContractViolation, h.lastError(t).Code)

	// The book is untouched.
	asks := h.ex.Book(0).Depth(types.Sell, 0)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Volume.Equal(dec("1")))
}

func TestFOKFullFillAccepted(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	maker := h.remote()
	agent := h.remote()
	h.limit(maker, 0, types.Sell, "2", "100")

	payload := limitPayload(types.Buy, "2", "100")
	payload.TimeInForce = types.FOK
	h.request(agent, message.TypePlaceOrderLimit, payload)

	b := h.balances(agent, 0)
	assert.True(t, b.Base.Total().Equal(dec("102")))
	assert.True(t, h.ex.Book(0).SideEmpty(types.Sell))
}

func TestSTPCancelNewestRejectsIncoming(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.limit(agent, 0, types.Sell, "1", "100")

	payload := limitPayload(types.Buy, "1", "100")
	payload.STPFlag = types.STPCancelNewest
	h.request(agent, message.TypePlaceOrderLimit, payload)
	assert.Equal(t, types.ContractViolation, h.lastError(t).Code)

	// The resting order survives under CN.
	_, stillOn := h.ex.Book(0).Order(0)
	assert.True(t, stillOn)
}

func TestSTPCancelBothCancelsResting(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")

	h.limit(agent, 0, types.Sell, "1", "100")

	payload := limitPayload(types.Buy, "1", "100")
	payload.STPFlag = types.STPCancelBoth
	h.request(agent, message.TypePlaceOrderLimit, payload)
	assert.Equal(t, types.ContractViolation, h.lastError(t).Code)

	// CB also removes the touched resting order.
	_, stillOn := h.ex.Book(0).Order(0)
	assert.False(t, stillOn)
	assert.True(t, h.balances(agent, 0).Base.Reserved().IsZero())
}

func TestMinOrderSizeEnforcedWhenConfigured(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")
	account, err := h.ex.Accounts().At(agent)
	require.NoError(t, err)

	v := NewOrderPlacementValidator(ValidatorParams{
		PriceIncrementDecimals:  2,
		VolumeIncrementDecimals: 4,
		BaseIncrementDecimals:   4,
		QuoteIncrementDecimals:  8,
		MinOrderSize:            dec("0.5"),
	})
	payload := limitPayload(types.Buy, "0.4", "99")
	_, code := v.ValidateLimitOrderPlacement(
		account, h.ex.Book(0), payload, h.ex.Clearing().FeePolicy(),
		dec("0"), dec("0"), agent)
	assert.Equal(t, types.MinimumOrderSizeViolation, code)
}

func TestMaxOrdersPerAgentEnforced(t *testing.T) {
	h := newHarness(t, 1, "100", "5000", "0", "0")
	agent := h.agent("TRADER_1")
	account, err := h.ex.Accounts().At(agent)
	require.NoError(t, err)

	h.limit(agent, 0, types.Buy, "1", "98")
	h.limit(agent, 0, types.Buy, "1", "97")

	v := NewOrderPlacementValidator(ValidatorParams{
		PriceIncrementDecimals:  2,
		VolumeIncrementDecimals: 4,
		BaseIncrementDecimals:   4,
		QuoteIncrementDecimals:  8,
		MaxOrdersPerAgent:       2,
	})
	payload := limitPayload(types.Buy, "1", "96")
	_, code := v.ValidateLimitOrderPlacement(
		account, h.ex.Book(0), payload, h.ex.Clearing().FeePolicy(),
		dec("0"), dec("0"), agent)
	assert.Equal(t, types.ExceedingMaxOrders, code)
}

func TestValidatorReservesFeeAwareAmount(t *testing.T) {
	h := newHarnessWithFees(t, "0.001", "0.002")
	agent := h.remote()

	h.limit(agent, 0, types.Buy, "1", "100")

	// Resting reservation carries the maker fee: 100 * (1 + 0.001).
	b := h.balances(agent, 0)
	assert.True(t, b.Quote.Reserved().Equal(dec("100.1")),
		"quote reserved %s", b.Quote.Reserved())
}

func newHarnessWithFees(t *testing.T, maker, taker string) *harness {
	t.Helper()
	h := &harness{agentIDs: make(map[string]types.AgentID)}

	rp := types.RoundParams{BaseDecimals: 4, QuoteDecimals: 8}
	template := makeTemplate("100", "5000", rp)

	feePolicy, err := NewFeePolicy(4, 3600, []Tier{
		{VolumeRequired: dec("0"), MakerFeeRate: dec(maker), TakerFeeRate: dec(taker)},
	})
	require.NoError(t, err)

	h.ex = NewMultiBookExchangeAgent(
		1, template, feePolicy,
		ValidatorParams{
			PriceIncrementDecimals:  2,
			VolumeIncrementDecimals: 4,
			BaseIncrementDecimals:   4,
			QuoteIncrementDecimals:  8,
		},
		ExchangeConfig{
			MaintenanceMargin: dec("0.25"),
			MaxLeverage:       dec("0"),
			MaxLoan:           dec("0"),
		},
		func(msg *message.Message) { h.outbox = append(h.outbox, msg) },
		func() types.Timestamp { return 0 },
		zapNop(),
	)
	return h
}
