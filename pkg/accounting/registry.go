package accounting

import (
	"fmt"
	"strings"

	"github.com/quarzvale/marketsim/pkg/types"
)

// AccountRegistry maps agent identifiers to accounts. Locally simulated
// agents are registered under string names and assigned negative ids
// counting down from -1; remote agents get non-negative ids counting up
// from 0. A bidirectional map relates names and local ids.
type AccountRegistry struct {
	accounts map[types.AgentID]*Account

	nameToID map[types.LocalAgentID]types.AgentID
	idToName map[types.AgentID]types.LocalAgentID

	localCounter  types.AgentID
	remoteCounter types.AgentID

	bookCount int
	template  Balances
}

// NewAccountRegistry creates a registry issuing accounts with one
// template clone per book.
func NewAccountRegistry(bookCount int, template Balances) *AccountRegistry {
	return &AccountRegistry{
		accounts: make(map[types.AgentID]*Account),
		nameToID: make(map[types.LocalAgentID]types.AgentID),
		idToName: make(map[types.AgentID]types.LocalAgentID),
		template: template,
		bookCount: bookCount,
	}
}

// RegisterLocal registers a named local agent and returns its negative
// id. Registering an existing name returns the existing id.
func (r *AccountRegistry) RegisterLocal(name types.LocalAgentID) types.AgentID {
	if id, ok := r.nameToID[name]; ok {
		return id
	}
	r.localCounter--
	id := r.localCounter
	r.nameToID[name] = id
	r.idToName[id] = name
	r.accounts[id] = NewAccount(r.bookCount, r.template)
	return id
}

// RegisterRemote registers a remote agent and returns its non-negative
// id.
func (r *AccountRegistry) RegisterRemote() types.AgentID {
	id := r.remoteCounter
	r.remoteCounter++
	r.accounts[id] = NewAccount(r.bookCount, r.template)
	return id
}

// Contains reports whether the agent id has an account.
func (r *AccountRegistry) Contains(id types.AgentID) bool {
	_, ok := r.accounts[id]
	return ok
}

// At returns the account for an agent id.
func (r *AccountRegistry) At(id types.AgentID) (*Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("no account for agent #%d", id)
	}
	return a, nil
}

// ByName returns the account registered under a local name.
func (r *AccountRegistry) ByName(name types.LocalAgentID) (*Account, error) {
	id, ok := r.nameToID[name]
	if !ok {
		return nil, fmt.Errorf("no account for agent %q", name)
	}
	return r.At(id)
}

// ResolveName returns the id for a local name.
func (r *AccountRegistry) ResolveName(name types.LocalAgentID) (types.AgentID, bool) {
	id, ok := r.nameToID[name]
	return id, ok
}

// NameOf returns the local name for a negative id.
func (r *AccountRegistry) NameOf(id types.AgentID) (types.LocalAgentID, bool) {
	name, ok := r.idToName[id]
	return name, ok
}

// AgentBaseName strips the trailing instance suffix from a local agent's
// name: "STYLIZED_TRADER_12" yields "STYLIZED_TRADER". Remote agents have
// no base name.
func (r *AccountRegistry) AgentBaseName(id types.AgentID) (string, bool) {
	name, ok := r.idToName[id]
	if !ok {
		return "", false
	}
	trimmed := strings.TrimRight(name, "0123456789")
	trimmed = strings.TrimSuffix(trimmed, "_")
	if trimmed == "" {
		return name, true
	}
	return trimmed, true
}

// Reset replaces an agent's account with a fresh template clone.
func (r *AccountRegistry) Reset(id types.AgentID) error {
	if _, ok := r.accounts[id]; !ok {
		return fmt.Errorf("no account for agent #%d", id)
	}
	r.accounts[id] = NewAccount(r.bookCount, r.template)
	return nil
}

// Each iterates all accounts.
func (r *AccountRegistry) Each(fn func(types.AgentID, *Account)) {
	for id, a := range r.accounts {
		fn(id, a)
	}
}

// Len returns the number of registered accounts.
func (r *AccountRegistry) Len() int { return len(r.accounts) }
