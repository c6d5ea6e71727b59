package exchange

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/types"
)

// FeePolicyWrapper layers per-agent-class overrides over a default fee
// policy and guards everything behind a reader-writer mutex: it is the
// one piece of state shared between parallel simulations. Reads take the
// shared lock, mutators the exclusive one, each scoped to the call.
type FeePolicyWrapper struct {
	mu sync.RWMutex

	policy    *FeePolicy
	overrides map[string]*FeePolicy // agent base name -> policy

	registry *accounting.AccountRegistry
}

// NewFeePolicyWrapper wraps a default policy. The registry resolves agent
// base names for override lookups.
func NewFeePolicyWrapper(policy *FeePolicy, registry *accounting.AccountRegistry) *FeePolicyWrapper {
	return &FeePolicyWrapper{
		policy:    policy,
		overrides: make(map[string]*FeePolicy),
		registry:  registry,
	}
}

// SetOverride installs an override policy for an agent base name.
func (w *FeePolicyWrapper) SetOverride(agentBaseName string, policy *FeePolicy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overrides[agentBaseName] = policy
}

// Contains reports whether an override exists for the base name.
func (w *FeePolicyWrapper) Contains(agentBaseName string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.overrides[agentBaseName]
	return ok
}

// GetRates returns the agent's current (maker, taker) rates, honouring a
// base-name override when one is installed.
func (w *FeePolicyWrapper) GetRates(bookID types.BookID, agentID types.AgentID) types.Fees {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policyFor(agentID).GetRates(bookID, agentID)
}

// CalculateFees prices both sides of a trade.
func (w *FeePolicyWrapper) CalculateFees(desc TradeDesc) types.Fees {
	w.mu.RLock()
	defer w.mu.RUnlock()
	notional := desc.Trade.Volume.Mul(desc.Trade.Price)
	return types.Fees{
		Maker: w.policyFor(desc.RestingAgentID).
			GetRates(desc.BookID, desc.RestingAgentID).Maker.Mul(notional),
		Taker: w.policyFor(desc.AggressingAgentID).
			GetRates(desc.BookID, desc.AggressingAgentID).Taker.Mul(notional),
	}
}

// AgentVolume returns an agent's rolled-up traded volume on a book.
func (w *FeePolicyWrapper) AgentVolume(bookID types.BookID, agentID types.AgentID) decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policyFor(agentID).AgentVolume(bookID, agentID)
}

// AgentTier returns an agent's current tier index on a book.
func (w *FeePolicyWrapper) AgentTier(bookID types.BookID, agentID types.AgentID) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policyFor(agentID).AgentTier(bookID, agentID)
}

// History returns an agent's rolling volume buckets on a book.
func (w *FeePolicyWrapper) History(bookID types.BookID, agentID types.AgentID) []decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policyFor(agentID).History(bookID, agentID)
}

// UpdateAgentsTiers advances every policy whose slot boundary falls on
// the given time.
func (w *FeePolicyWrapper) UpdateAgentsTiers(now types.Timestamp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.policies() {
		if p.SlotPeriod() > 0 && now%p.SlotPeriod() == 0 {
			p.UpdateAgentsTiers()
		}
	}
}

// UpdateHistory records traded quote volume with every policy.
func (w *FeePolicyWrapper) UpdateHistory(bookID types.BookID, agentID types.AgentID, volume decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.policies() {
		p.UpdateHistory(bookID, agentID, volume)
	}
}

// ResetHistory clears fee history, for all agents or the named ones.
func (w *FeePolicyWrapper) ResetHistory(agentIDs ...types.AgentID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.policies() {
		p.ResetHistory(agentIDs...)
	}
}

func (w *FeePolicyWrapper) policies() []*FeePolicy {
	out := []*FeePolicy{w.policy}
	for _, p := range w.overrides {
		out = append(out, p)
	}
	return out
}

func (w *FeePolicyWrapper) policyFor(agentID types.AgentID) *FeePolicy {
	if w.registry != nil {
		if baseName, ok := w.registry.AgentBaseName(agentID); ok {
			if p, ok := w.overrides[baseName]; ok {
				return p
			}
		}
	}
	return w.policy
}
