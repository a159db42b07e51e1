package lock

import (
	"fmt"
	"math/big"

	"memberlock.app/cloud/models"
)

// TotalSupply counts tokens ever minted minus burned.
func (l *Lock) TotalSupply() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg.totalSupply
}

// NumberOfOwners counts distinct addresses currently holding a key.
func (l *Lock) NumberOfOwners() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg.numberOfOwners
}

// BalanceOf counts addr's keys, live or cancelled.
func (l *Lock) BalanceOf(addr string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg.balanceOf(addr)
}

// OwnerOf returns the key's owner.
func (l *Lock) OwnerOf(tokenID uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.reg.key(tokenID)
	if k == nil {
		return "", ErrNoSuchKey
	}
	return k.Owner, nil
}

// Key returns a copy of the key record.
func (l *Lock) Key(tokenID uint64) (models.Key, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.reg.key(tokenID)
	if k == nil {
		return models.Key{}, ErrNoSuchKey
	}
	return copyKey(k), nil
}

func copyKey(k *models.Key) models.Key {
	out := *k
	if k.PricePaid != nil {
		out.PricePaid = new(big.Int).Set(k.PricePaid)
	}
	return out
}

// KeyExpirationTimestampFor returns the key's expiration, ExpirationNever
// for non-expiring keys.
func (l *Lock) KeyExpirationTimestampFor(tokenID uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.reg.key(tokenID)
	if k == nil {
		return 0, ErrNoSuchKey
	}
	return k.Expiration, nil
}

// IsValidKey reports whether the key currently grants access. A configured
// validity hook replaces the native expiration test.
func (l *Lock) IsValidKey(tokenID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.reg.key(tokenID)
	if k == nil {
		return false
	}
	return l.isValid(k, l.clock.Now())
}

func (l *Lock) isValid(k *models.Key, now uint64) bool {
	native := k.Owner != "" && k.Expiration > now
	if l.hooks.Validity != nil {
		return l.hooks.Validity.IsValidKey(k.TokenID, k.Owner, k.Expiration, native)
	}
	return native
}

// HasValidKey reports whether addr holds at least one valid key.
func (l *Lock) HasValidKey(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for _, k := range l.reg.keys {
		if k.Owner == addr && l.isValid(k, now) {
			return true
		}
	}
	return false
}

// TokenURI renders the key's metadata URI, base URI plus id, unless the URI
// hook overrides it.
func (l *Lock) TokenURI(tokenID uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.reg.key(tokenID)
	if k == nil {
		return "", ErrNoSuchKey
	}
	if l.hooks.TokenURI != nil {
		return l.hooks.TokenURI.TokenURI(l.id, k.Owner, tokenID, k.Expiration), nil
	}
	return fmt.Sprintf("%s%d", l.cfg.BaseURI, tokenID), nil
}

// Approve designates a single spender for the token. Only the owner or one
// of its operators may call it; approvals clear on every ownership change.
func (l *Lock) Approve(caller, spender string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	if caller != k.Owner && !l.reg.isOperator(k.Owner, caller) {
		return ErrOnlyKeyManagerOrApproved
	}
	if spender == k.Owner {
		return ErrTransferToSelf
	}
	l.opNow = l.clock.Now()
	if spender == "" {
		delete(l.reg.approved, tokenID)
	} else {
		l.reg.approved[tokenID] = spender
	}
	l.emit(eventSpec{kind: models.EventApproval, actor: caller, tokenIDs: []uint64{tokenID}, recipient: spender})
	return nil
}

// GetApproved returns the token's single approved spender, if any.
func (l *Lock) GetApproved(tokenID uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reg.key(tokenID) == nil {
		return "", ErrNoSuchKey
	}
	return l.reg.approved[tokenID], nil
}

// SetApprovalForAll grants or revokes operator status over every key the
// caller owns.
func (l *Lock) SetApprovalForAll(caller, operator string, approved bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if operator == "" || operator == caller {
		return ErrInvalidAddress
	}
	l.opNow = l.clock.Now()
	l.reg.setOperator(caller, operator, approved)
	l.emit(eventSpec{kind: models.EventApproval, actor: caller, recipient: operator, note: "operator"})
	return nil
}

// IsApprovedForAll reports operator status.
func (l *Lock) IsApprovedForAll(owner, operator string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reg.isOperator(owner, operator)
}

// SetKeyManagerOf sets the key's manager delegate. The owner, the current
// manager or a lock manager may call it; empty clears the delegate.
func (l *Lock) SetKeyManagerOf(caller string, tokenID uint64, manager string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	if !l.canActOnKey(caller, k) && !l.isLockManager(caller) {
		return ErrOnlyKeyManagerOrApproved
	}
	l.opNow = l.clock.Now()
	k.KeyManager = manager
	l.emit(eventSpec{kind: models.EventKeyManager, actor: caller, tokenIDs: []uint64{tokenID}, recipient: manager})
	return nil
}
