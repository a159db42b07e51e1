package lock

import (
	"math/big"

	"memberlock.app/cloud/models"
)

// Hook extension points. Each slot is optional: a nil slot means default
// behavior. Slots are swapped only through SetEventHooks, which is gated to
// lock managers.

// PurchaseHook can reprice or block a purchase. The price it returns is a
// binding minimum: the buyer may tip above it, never pay below it. An error
// from KeyPurchasePrice blocks the purchase.
type PurchaseHook interface {
	KeyPurchasePrice(from, recipient, referrer string, data []byte) (*big.Int, error)
	OnKeyPurchase(tokenID uint64, from, recipient, referrer string, data []byte, minPrice, paid *big.Int)
}

// CancelHook observes cancellations after the refund has been computed.
type CancelHook interface {
	OnKeyCancel(operator string, tokenID uint64, refund *big.Int)
}

// ValidityHook overrides the validity check for a key. Its answer replaces
// the native expiration test.
type ValidityHook interface {
	IsValidKey(tokenID uint64, owner string, expiration uint64, nativeValid bool) bool
}

// TokenURIHook overrides metadata rendering.
type TokenURIHook interface {
	TokenURI(lockID, owner string, tokenID, expiration uint64) string
}

// TransferHook observes ownership moves.
type TransferHook interface {
	OnKeyTransfer(tokenID uint64, from, to string, expiration uint64)
}

// ExtendHook observes expiration extensions.
type ExtendHook interface {
	OnKeyExtend(tokenID uint64, from string, newExpiration, prevExpiration uint64)
}

// GrantHook observes fee-less grants.
type GrantHook interface {
	OnKeyGranted(tokenID uint64, from, to, keyManager string, expiration uint64)
}

// RoleHook supplements the native role set. Its answer is ORed with the
// native membership test so a broken hook can never revoke native roles.
type RoleHook interface {
	HasRole(role, addr string) bool
}

// Role names passed to RoleHook.
const (
	RoleLockManager = "lock_manager"
	RoleKeyGranter  = "key_granter"
)

// Hooks bundles the optional extension slots of a lock.
type Hooks struct {
	Purchase PurchaseHook
	Cancel   CancelHook
	Validity ValidityHook
	TokenURI TokenURIHook
	Transfer TransferHook
	Extend   ExtendHook
	Grant    GrantHook
	Role     RoleHook
}

// SetEventHooks replaces the lock's hook slots. Only a lock manager may
// call it.
func (l *Lock) SetEventHooks(caller string, hooks Hooks) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	l.opNow = l.clock.Now()
	l.hooks = hooks
	l.emit(eventSpec{kind: models.EventHooksUpdate, actor: caller})
	return nil
}
