package lock

import (
	"math/big"

	"memberlock.app/cloud/models"
)

// transferFee computes the time cost, in seconds, of moving entitlement.
// basis is the amount of time being moved: the full remaining time for a
// whole-key transfer, or the caller's share amount for a partial share.
// Floor division, no other rounding.
func (l *Lock) transferFee(basis uint64) uint64 {
	bp := l.cfg.TransferFeeBasisPoints
	if bp == 0 || basis == 0 {
		return 0
	}
	fee := new(big.Int).SetUint64(basis)
	fee.Mul(fee, new(big.Int).SetUint64(bp))
	fee.Div(fee, big.NewInt(models.BasisPointsDenominator))
	return fee.Uint64()
}

// FeeFor returns the transfer fee for moving duration seconds off the given
// key, clamped by the key's remaining time. An expired key has no time to
// move, so its fee is zero.
func (l *Lock) FeeFor(tokenID uint64, duration uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return 0, ErrNoSuchKey
	}
	// A non-expiring key has no time decay, so moving it costs none.
	if k.Expiration == models.ExpirationNever {
		return 0, nil
	}
	now := l.clock.Now()
	remaining := remainingTime(k, now)
	if remaining == 0 {
		return 0, nil
	}
	if duration == 0 || duration > remaining {
		duration = remaining
	}
	return l.transferFee(duration), nil
}

// remainingTime is the key's remaining validity at now, never negative.
func remainingTime(k *models.Key, now uint64) uint64 {
	if k.Expiration == models.ExpirationNever {
		return models.ExpirationNever
	}
	if k.Expiration <= now {
		return 0
	}
	return k.Expiration - now
}
