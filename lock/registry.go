package lock

import (
	"math/big"

	"memberlock.app/cloud/models"
)

// registry is the key ledger: ownership, expirations, per-key managers,
// approvals and the aggregate counters. It is not safe for concurrent use
// on its own; the owning Lock serializes access.
type registry struct {
	keys   map[uint64]*models.Key
	nextID uint64

	// balances counts live tokens per address. numberOfOwners moves only on
	// the 0<->1 transitions of a balance, never on every transfer.
	balances       map[string]uint64
	numberOfOwners uint64
	totalSupply    uint64

	approved  map[uint64]string          // tokenID -> single approved spender
	operators map[string]map[string]bool // owner -> operator -> approved
}

func newRegistry() *registry {
	return &registry{
		keys:      make(map[uint64]*models.Key),
		nextID:    1,
		balances:  make(map[string]uint64),
		approved:  make(map[uint64]string),
		operators: make(map[string]map[string]bool),
	}
}

func (r *registry) key(tokenID uint64) *models.Key {
	return r.keys[tokenID]
}

// holderKey returns the recipient's existing key, if any. Used by the
// extend-in-place repeat-purchase policy, which only makes sense while the
// address holds a single key.
func (r *registry) holderKey(addr string) *models.Key {
	for _, k := range r.keys {
		if k.Owner == addr {
			return k
		}
	}
	return nil
}

func (r *registry) mint(owner string, expiration uint64, keyManager string, price *big.Int, duration uint64, token string) *models.Key {
	k := &models.Key{
		TokenID:    r.nextID,
		Owner:      owner,
		Expiration: expiration,
		KeyManager: keyManager,
		PricePaid:  new(big.Int).Set(price),
		Duration:   duration,
		Token:      token,
	}
	r.nextID++
	r.keys[k.TokenID] = k
	r.totalSupply++
	r.incBalance(owner)
	return k
}

// setOwner moves a token between addresses, keeping the counters on the
// 0<->1 transitions and clearing the per-token approval.
func (r *registry) setOwner(k *models.Key, to string) {
	from := k.Owner
	if from == to {
		return
	}
	k.Owner = to
	delete(r.approved, k.TokenID)
	r.decBalance(from)
	r.incBalance(to)
}

func (r *registry) incBalance(addr string) {
	r.balances[addr]++
	if r.balances[addr] == 1 {
		r.numberOfOwners++
	}
}

func (r *registry) decBalance(addr string) {
	if r.balances[addr] == 0 {
		return
	}
	r.balances[addr]--
	if r.balances[addr] == 0 {
		delete(r.balances, addr)
		r.numberOfOwners--
	}
}

func (r *registry) balanceOf(addr string) uint64 {
	return r.balances[addr]
}

func (r *registry) isOperator(owner, operator string) bool {
	return r.operators[owner][operator]
}

func (r *registry) setOperator(owner, operator string, approved bool) {
	if approved {
		if r.operators[owner] == nil {
			r.operators[owner] = make(map[string]bool)
		}
		r.operators[owner][operator] = true
		return
	}
	delete(r.operators[owner], operator)
}
