package lock

import (
	"fmt"
	"math/big"

	"memberlock.app/cloud/models"
)

// purchasePriceFor computes the binding minimum price for a purchase or
// extension. The default is the configured key price; a purchase hook, when
// set, substitutes its own answer. An erroring hook blocks the purchase.
//
// Callers may pay above the minimum (a tip); settlement receives both the
// minimum and the amount actually paid.
func (l *Lock) purchasePriceFor(from, recipient, referrer string, data []byte) (*big.Int, error) {
	if l.hooks.Purchase == nil {
		return new(big.Int).Set(l.cfg.KeyPrice), nil
	}
	price, err := l.hooks.Purchase.KeyPurchasePrice(from, recipient, referrer, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPurchaseBlockedByHook, err)
	}
	if price == nil {
		return nil, ErrInvalidHook
	}
	return new(big.Int).Set(price), nil
}

// PurchasePriceFor is the public price query the fiat bridge reads before
// collecting a card payment.
func (l *Lock) PurchasePriceFor(recipient, referrer string, data []byte) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.purchasePriceFor(recipient, recipient, referrer, data)
}

// referrerRate resolves the referrer fee in basis points: the
// referrer-specific rate if set, else the wildcard rate, else zero.
func (l *Lock) referrerRate(referrer string) uint64 {
	if referrer == "" {
		return 0
	}
	if bp, ok := l.cfg.ReferrerFees[referrer]; ok {
		return bp
	}
	return l.cfg.ReferrerFees[models.WildcardReferrer]
}
