package lock

import (
	"math/big"

	"memberlock.app/cloud/models"
)

// refundFor computes the pro-rated cancellation refund for a key at now.
//
// Inside an active free trial the full price comes back, penalty ignored.
// A non-expiring key always refunds the full price (no time decay). Past
// the trial the refund decays linearly with remaining time and is then
// reduced by the penalty. Never more than the price paid.
func (l *Lock) refundFor(k *models.Key, now uint64) *big.Int {
	price := k.PricePaid
	if price == nil || price.Sign() == 0 {
		return new(big.Int)
	}
	if k.Expiration == models.ExpirationNever || k.Duration == models.DurationInfinite {
		return new(big.Int).Set(price)
	}

	// Purchase start is implicit: expiration minus the duration granted.
	if l.cfg.FreeTrialLength > 0 {
		start := k.Expiration - k.Duration
		if now < start+l.cfg.FreeTrialLength {
			return new(big.Int).Set(price)
		}
	}

	remaining := remainingTime(k, now)
	refund := new(big.Int).SetUint64(remaining)
	refund.Mul(refund, price)
	refund.Div(refund, new(big.Int).SetUint64(k.Duration))

	if bp := l.cfg.RefundPenaltyBasisPoints; bp > 0 {
		refund.Mul(refund, big.NewInt(models.BasisPointsDenominator-int64(bp)))
		refund.Div(refund, big.NewInt(models.BasisPointsDenominator))
	}

	if refund.Cmp(price) > 0 {
		refund.Set(price)
	}
	return refund
}

// RefundFor is the public refund estimate for a key.
func (l *Lock) RefundFor(tokenID uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return nil, ErrNoSuchKey
	}
	return l.refundFor(k, l.clock.Now()), nil
}
