// Package exchange ties the books and the accounting layer together: fee
// schedules, order placement validation, clearing, and the multi-book
// exchange agent fronting it all.
package exchange

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/book"
	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/types"
)

// TradeDesc identifies one fill for fee calculation and clearing.
type TradeDesc struct {
	BookID            types.BookID
	RestingAgentID    types.AgentID
	AggressingAgentID types.AgentID
	Trade             *book.Trade
}

// Tier is one bucket of the fee schedule. Rates are fractions in (-1, 1);
// negative rates are rebates.
type Tier struct {
	VolumeRequired decimal.Decimal
	MakerFeeRate   decimal.Decimal
	TakerFeeRate   decimal.Decimal
}

// FeePolicy assigns each (agent, book) a tier from its rolling traded
// quote volume. The history has historySlots buckets; the newest bucket
// accumulates the current slot and the tier is recomputed from the full
// rolled window every slotPeriod of simulated time, shifting the buckets
// left.
type FeePolicy struct {
	historySlots int
	slotPeriod   types.Timestamp
	tiers        []Tier

	agentTiers   map[types.AgentID]map[types.BookID]int
	agentVolumes map[types.AgentID]map[types.BookID][]decimal.Decimal
}

// NewFeePolicy validates and sorts the tiers. At least one tier is
// required and volume thresholds must be distinct.
func NewFeePolicy(historySlots int, slotPeriod types.Timestamp, tiers []Tier) (*FeePolicy, error) {
	if historySlots < 1 {
		return nil, fmt.Errorf("fee policy needs at least one history slot, got %d", historySlots)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("fee policy needs at least one tier")
	}
	sorted := append([]Tier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].VolumeRequired.LessThan(sorted[j].VolumeRequired)
	})
	for i, t := range sorted {
		if err := checkFeeRate(t.MakerFeeRate); err != nil {
			return nil, err
		}
		if err := checkFeeRate(t.TakerFeeRate); err != nil {
			return nil, err
		}
		if i > 0 && t.VolumeRequired.Equal(sorted[i-1].VolumeRequired) {
			return nil, fmt.Errorf("tiers must have distinct required volumes")
		}
	}
	return &FeePolicy{
		historySlots: historySlots,
		slotPeriod:   slotPeriod,
		tiers:        sorted,
		agentTiers:   make(map[types.AgentID]map[types.BookID]int),
		agentVolumes: make(map[types.AgentID]map[types.BookID][]decimal.Decimal),
	}, nil
}

func checkFeeRate(rate decimal.Decimal) error {
	one := num.One
	if rate.LessThanOrEqual(one.Neg()) || rate.GreaterThanOrEqual(one) {
		return fmt.Errorf("fee rate must be between -1 and 1, was %s", rate)
	}
	return nil
}

// SlotPeriod returns the slot length in simulated time.
func (p *FeePolicy) SlotPeriod() types.Timestamp { return p.slotPeriod }

// HistorySlots returns the number of rolling buckets.
func (p *FeePolicy) HistorySlots() int { return p.historySlots }

// Tiers returns the sorted schedule.
func (p *FeePolicy) Tiers() []Tier { return p.tiers }

// GetRates returns the (maker, taker) rates of the agent's current tier
// on the book.
func (p *FeePolicy) GetRates(bookID types.BookID, agentID types.AgentID) types.Fees {
	tier := p.tierForAgent(bookID, agentID)
	return types.Fees{Maker: tier.MakerFeeRate, Taker: tier.TakerFeeRate}
}

// CalculateFees prices both sides of a trade at their current rates.
func (p *FeePolicy) CalculateFees(desc TradeDesc) types.Fees {
	notional := desc.Trade.Volume.Mul(desc.Trade.Price)
	return types.Fees{
		Maker: p.GetRates(desc.BookID, desc.RestingAgentID).Maker.Mul(notional),
		Taker: p.GetRates(desc.BookID, desc.AggressingAgentID).Taker.Mul(notional),
	}
}

// UpdateHistory adds traded quote volume into the agent's newest bucket.
func (p *FeePolicy) UpdateHistory(bookID types.BookID, agentID types.AgentID, volume decimal.Decimal) {
	books, ok := p.agentVolumes[agentID]
	if !ok {
		books = make(map[types.BookID][]decimal.Decimal)
		p.agentVolumes[agentID] = books
	}
	history, ok := books[bookID]
	if !ok {
		history = make([]decimal.Decimal, p.historySlots)
		for i := range history {
			history[i] = num.Zero
		}
		books[bookID] = history
	}
	history[p.historySlots-1] = history[p.historySlots-1].Add(volume)
}

// UpdateAgentsTiers recomputes every agent's tier from the rolled-up
// history, then shifts the buckets left and zeroes the newest.
func (p *FeePolicy) UpdateAgentsTiers() {
	for agentID, books := range p.agentVolumes {
		for bookID, history := range books {
			total := num.Zero
			for _, v := range history {
				total = total.Add(v)
			}
			idx := -1
			for _, tier := range p.tiers {
				if total.LessThan(tier.VolumeRequired) {
					break
				}
				idx++
			}
			if idx < 0 {
				idx = 0
			}
			if _, ok := p.agentTiers[agentID]; !ok {
				p.agentTiers[agentID] = make(map[types.BookID]int)
			}
			p.agentTiers[agentID][bookID] = idx

			copy(history, history[1:])
			history[p.historySlots-1] = num.Zero
		}
	}
}

// AgentVolume returns the agent's summed history on a book.
func (p *FeePolicy) AgentVolume(bookID types.BookID, agentID types.AgentID) decimal.Decimal {
	books, ok := p.agentVolumes[agentID]
	if !ok {
		return num.Zero
	}
	history, ok := books[bookID]
	if !ok {
		return num.Zero
	}
	total := num.Zero
	for _, v := range history {
		total = total.Add(v)
	}
	return total
}

// AgentTier returns the agent's current tier index on a book.
func (p *FeePolicy) AgentTier(bookID types.BookID, agentID types.AgentID) int {
	if books, ok := p.agentTiers[agentID]; ok {
		if idx, ok := books[bookID]; ok {
			return idx
		}
	}
	return 0
}

// History returns a copy of the agent's rolling buckets on a book.
func (p *FeePolicy) History(bookID types.BookID, agentID types.AgentID) []decimal.Decimal {
	if books, ok := p.agentVolumes[agentID]; ok {
		if history, ok := books[bookID]; ok {
			return append([]decimal.Decimal(nil), history...)
		}
	}
	return nil
}

// ResetHistory zeroes all buckets and tiers, or only those of the given
// agents when any are named.
func (p *FeePolicy) ResetHistory(agentIDs ...types.AgentID) {
	reset := func(agentID types.AgentID) {
		for bookID, history := range p.agentVolumes[agentID] {
			for i := range history {
				history[i] = num.Zero
			}
			if tiers, ok := p.agentTiers[agentID]; ok {
				tiers[bookID] = 0
			}
		}
	}
	if len(agentIDs) == 0 {
		for agentID := range p.agentVolumes {
			reset(agentID)
		}
		return
	}
	for _, agentID := range agentIDs {
		reset(agentID)
	}
}

func (p *FeePolicy) tierForAgent(bookID types.BookID, agentID types.AgentID) Tier {
	if books, ok := p.agentTiers[agentID]; ok {
		if idx, ok := books[bookID]; ok {
			return p.tiers[idx]
		}
	}
	return p.tiers[0]
}
