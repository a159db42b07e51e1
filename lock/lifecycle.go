package lock

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/go-multierror"

	"memberlock.app/cloud/models"
)

// Operations follow a fixed discipline: read the clock once, validate every
// precondition, settle funds, then mutate the registry and emit. The
// validation phase covers everything the mutation phase relies on, so a
// failing operation leaves no partial effect.

// PurchaseRequest is one purchase call: parallel slices, one entry per key.
type PurchaseRequest struct {
	Payer       string
	Recipients  []string
	Referrers   []string
	KeyManagers []string
	// Amounts is what the payer sends per key; nil entries mean "exactly
	// the quoted price". Paying above the minimum is a tip, below fails.
	Amounts []*big.Int
	Data    [][]byte
}

func (r *PurchaseRequest) at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

func (r *PurchaseRequest) validate() error {
	var errs *multierror.Error
	if r.Payer == "" {
		errs = multierror.Append(errs, fmt.Errorf("payer: %w", ErrInvalidAddress))
	}
	if len(r.Recipients) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("recipients: %w", ErrNullValue))
	}
	for i, rec := range r.Recipients {
		if rec == "" {
			errs = multierror.Append(errs, fmt.Errorf("recipient %d: %w", i, ErrInvalidAddress))
		}
	}
	return errs.ErrorOrNil()
}

// Purchase issues (or, under the extend policy, tops up) one key per
// recipient, settling payment per key. Returns the affected token ids.
func (l *Lock) Purchase(req PurchaseRequest) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := req.validate(); err != nil {
		return nil, err
	}
	now := l.clock.Now()
	l.opNow = now

	type plan struct {
		recipient  string
		referrer   string
		keyManager string
		data       []byte
		minPrice   *big.Int
		paid       *big.Int
		existing   *models.Key // non-nil: extend in place
	}
	plans := make([]plan, 0, len(req.Recipients))
	minted := uint64(0)
	pendingBalance := make(map[string]uint64)

	for i, recipient := range req.Recipients {
		p := plan{
			recipient:  recipient,
			referrer:   req.at(req.Referrers, i),
			keyManager: req.at(req.KeyManagers, i),
		}
		if i < len(req.Data) {
			p.data = req.Data[i]
		}

		if l.cfg.RepeatPurchase == models.RepeatExtend {
			if k := l.reg.holderKey(recipient); k != nil && k.Expiration > now {
				p.existing = k
			}
		}
		if p.existing == nil {
			if l.cfg.MaxNumberOfKeys != models.KeysUnlimited &&
				l.reg.totalSupply+minted >= l.cfg.MaxNumberOfKeys {
				return nil, ErrLockSoldOut
			}
			post := l.reg.balanceOf(recipient) + pendingBalance[recipient] + 1
			if post > l.cfg.MaxKeysPerAddress {
				return nil, ErrMaxKeys
			}
			pendingBalance[recipient]++
			minted++
		}

		minPrice, err := l.purchasePriceFor(req.Payer, recipient, p.referrer, p.data)
		if err != nil {
			return nil, err
		}
		p.minPrice = minPrice
		p.paid = minPrice
		if i < len(req.Amounts) && req.Amounts[i] != nil {
			if req.Amounts[i].Cmp(minPrice) < 0 {
				if l.ledger.Pullable() {
					return nil, ErrInsufficientErc20Value
				}
				return nil, ErrInsufficientValue
			}
			p.paid = new(big.Int).Set(req.Amounts[i])
		}
		plans = append(plans, p)
	}

	// Settle every key before mutating any, so one failing settlement
	// backs the whole purchase out.
	var undos []func()
	var settleEvents []eventSpec
	for _, p := range plans {
		events, undo, err := l.settle(req.Payer, req.Payer, p.paid, p.referrer, l.ledger.Pullable())
		if err != nil {
			for i := len(undos) - 1; i >= 0; i-- {
				undos[i]()
			}
			return nil, err
		}
		undos = append(undos, undo)
		settleEvents = append(settleEvents, events...)
	}
	for _, ev := range settleEvents {
		l.emit(ev)
	}

	tokenIDs := make([]uint64, 0, len(plans))
	for _, p := range plans {
		var k *models.Key
		if p.existing != nil {
			prev := p.existing.Expiration
			p.existing.Expiration = extendedExpiration(p.existing.Expiration, now, l.cfg.ExpirationDuration)
			p.existing.PricePaid = new(big.Int).Set(p.minPrice)
			p.existing.Duration = l.cfg.ExpirationDuration
			k = p.existing
			if l.hooks.Extend != nil {
				l.hooks.Extend.OnKeyExtend(k.TokenID, req.Payer, k.Expiration, prev)
			}
		} else {
			exp := newExpiration(now, l.cfg.ExpirationDuration)
			k = l.reg.mint(p.recipient, exp, p.keyManager, p.minPrice, l.cfg.ExpirationDuration, l.cfg.SettlementToken)
		}

		tokenIDs = append(tokenIDs, k.TokenID)
		l.emit(eventSpec{
			kind:      models.EventPurchase,
			actor:     req.Payer,
			tokenIDs:  []uint64{k.TokenID},
			amount:    p.paid,
			newExp:    k.Expiration,
			referrer:  p.referrer,
			recipient: p.recipient,
		})
		if l.hooks.Purchase != nil {
			l.hooks.Purchase.OnKeyPurchase(k.TokenID, req.Payer, p.recipient, p.referrer, p.data, p.minPrice, p.paid)
		}
	}
	return tokenIDs, nil
}

// Extend pushes an existing key's expiration out by one duration, paid at
// the current price. Anyone may pay for any key. A never-expiring key has
// nothing to extend, whatever the lock's current duration says.
func (l *Lock) Extend(payer string, tokenID uint64, amount *big.Int, referrer string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if payer == "" {
		return ErrInvalidAddress
	}
	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	now := l.clock.Now()
	l.opNow = now
	if k.Expiration == models.ExpirationNever {
		return ErrNonExpiringLock
	}

	minPrice, err := l.purchasePriceFor(payer, k.Owner, referrer, data)
	if err != nil {
		return err
	}
	paid := minPrice
	if amount != nil {
		if amount.Cmp(minPrice) < 0 {
			if l.ledger.Pullable() {
				return ErrInsufficientErc20Value
			}
			return ErrInsufficientValue
		}
		paid = amount
	}
	events, _, err := l.settle(payer, payer, paid, referrer, l.ledger.Pullable())
	if err != nil {
		return err
	}
	for _, ev := range events {
		l.emit(ev)
	}

	prev := k.Expiration
	k.Expiration = extendedExpiration(k.Expiration, now, l.cfg.ExpirationDuration)
	k.PricePaid = new(big.Int).Set(minPrice)
	k.Duration = l.cfg.ExpirationDuration
	k.Token = l.cfg.SettlementToken
	l.emit(eventSpec{
		kind:     models.EventExtend,
		actor:    payer,
		tokenIDs: []uint64{tokenID},
		amount:   paid,
		newExp:   k.Expiration,
		referrer: referrer,
	})
	if l.hooks.Extend != nil {
		l.hooks.Extend.OnKeyExtend(tokenID, payer, k.Expiration, prev)
	}
	return nil
}

// GrantKeys mints keys without payment. Gated to key granters and lock
// managers; caps still apply. A zero expiration entry means one full
// duration from now.
func (l *Lock) GrantKeys(caller string, recipients []string, expirations []uint64, keyManagers []string) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isKeyGranter(caller) && !l.isLockManager(caller) {
		return nil, ErrUnauthorized
	}
	if len(recipients) == 0 {
		return nil, ErrNullValue
	}
	now := l.clock.Now()
	l.opNow = now

	var errs *multierror.Error
	for i, r := range recipients {
		if r == "" {
			errs = multierror.Append(errs, fmt.Errorf("recipient %d: %w", i, ErrInvalidAddress))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	minted := uint64(0)
	pendingBalance := make(map[string]uint64)
	type plan struct {
		recipient string
		exp       uint64
		manager   string
		existing  *models.Key
	}
	plans := make([]plan, 0, len(recipients))
	for i, recipient := range recipients {
		p := plan{recipient: recipient, exp: newExpiration(now, l.cfg.ExpirationDuration)}
		if i < len(expirations) && expirations[i] != 0 {
			p.exp = expirations[i]
		}
		if i < len(keyManagers) {
			p.manager = keyManagers[i]
		}
		if l.cfg.RepeatPurchase == models.RepeatExtend {
			if k := l.reg.holderKey(recipient); k != nil && k.Expiration > now {
				p.existing = k
			}
		}
		if p.existing == nil {
			if l.cfg.MaxNumberOfKeys != models.KeysUnlimited &&
				l.reg.totalSupply+minted >= l.cfg.MaxNumberOfKeys {
				return nil, ErrLockSoldOut
			}
			if l.reg.balanceOf(recipient)+pendingBalance[recipient]+1 > l.cfg.MaxKeysPerAddress {
				return nil, ErrMaxKeys
			}
			pendingBalance[recipient]++
			minted++
		}
		plans = append(plans, p)
	}

	tokenIDs := make([]uint64, 0, len(plans))
	for _, p := range plans {
		var k *models.Key
		if p.existing != nil {
			if p.exp > p.existing.Expiration {
				p.existing.Expiration = p.exp
			}
			if p.manager != "" {
				p.existing.KeyManager = p.manager
			}
			k = p.existing
		} else {
			k = l.reg.mint(p.recipient, p.exp, p.manager, new(big.Int), l.cfg.ExpirationDuration, l.cfg.SettlementToken)
		}
		tokenIDs = append(tokenIDs, k.TokenID)
		l.emit(eventSpec{
			kind:      models.EventGrant,
			actor:     caller,
			tokenIDs:  []uint64{k.TokenID},
			newExp:    k.Expiration,
			recipient: p.recipient,
		})
		if l.hooks.Grant != nil {
			l.hooks.Grant.OnKeyGranted(k.TokenID, caller, p.recipient, p.manager, k.Expiration)
		}
	}
	return tokenIDs, nil
}

// RenewMembershipFor re-purchases an expired (or nearly expired) key from
// the owner's standing allowance. Only pull-based settlement tokens can
// renew, and the terms in force at issuance must not have drifted.
func (l *Lock) RenewMembershipFor(caller string, tokenID uint64, referrer string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	if !l.ledger.Pullable() {
		return ErrNonRenewable
	}
	if k.Token != l.cfg.SettlementToken {
		return ErrTokenChanged
	}
	if k.PricePaid == nil || k.PricePaid.Cmp(l.cfg.KeyPrice) != 0 {
		return ErrPriceChanged
	}
	if k.Duration != l.cfg.ExpirationDuration {
		return ErrDurationChanged
	}
	if l.cfg.ExpirationDuration == models.DurationInfinite {
		return ErrNonExpiringLock
	}

	now := l.clock.Now()
	l.opNow = now
	if k.Expiration > now {
		// Still valid: only renewable inside the final 10% of the term.
		window := l.cfg.ExpirationDuration / 10
		if k.Expiration-now > window {
			return ErrNotReady
		}
	}

	events, _, err := l.settle(k.Owner, caller, l.cfg.KeyPrice, referrer, true)
	if err != nil {
		return err
	}
	for _, ev := range events {
		l.emit(ev)
	}
	k.Expiration = extendedExpiration(k.Expiration, now, l.cfg.ExpirationDuration)
	l.emit(eventSpec{
		kind:     models.EventRenew,
		actor:    caller,
		tokenIDs: []uint64{tokenID},
		amount:   l.cfg.KeyPrice,
		newExp:   k.Expiration,
		referrer: referrer,
	})
	return nil
}

// CancelAndRefund cancels a key at the fair computed refund. Any actor
// authorized on the key may call it; the second call finds the key already
// invalid.
func (l *Lock) CancelAndRefund(caller string, tokenID uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return nil, ErrNoSuchKey
	}
	if !l.canActOnKey(caller, k) {
		return nil, ErrOnlyKeyManagerOrApproved
	}
	now := l.clock.Now()
	l.opNow = now
	if !l.isValid(k, now) {
		return nil, ErrKeyNotValid
	}

	refund := l.refundFor(k, now)
	if refund.Sign() > 0 {
		if refund.Cmp(l.ledger.BalanceOf(l.id)) > 0 {
			return nil, ErrNotEnoughFunds
		}
		if err := l.ledger.Transfer(l.id, k.Owner, refund); err != nil {
			return nil, ErrNotEnoughFunds
		}
	}
	k.Expiration = now
	l.emit(eventSpec{
		kind:     models.EventCancel,
		actor:    caller,
		tokenIDs: []uint64{tokenID},
		amount:   refund,
		newExp:   now,
	})
	if l.hooks.Cancel != nil {
		l.hooks.Cancel.OnKeyCancel(caller, tokenID, refund)
	}
	return refund, nil
}

// ExpireAndRefundFor cancels a key at a manager-chosen refund, which may be
// below (or above) the computed fair value but never beyond the lock's
// balance. Manager-gated.
func (l *Lock) ExpireAndRefundFor(caller string, tokenID uint64, refund *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	now := l.clock.Now()
	l.opNow = now
	if !l.isValid(k, now) {
		return ErrKeyNotValid
	}
	if refund == nil {
		refund = new(big.Int)
	}
	if refund.Sign() > 0 {
		if refund.Cmp(l.ledger.BalanceOf(l.id)) > 0 {
			return ErrNotEnoughFunds
		}
		if err := l.ledger.Transfer(l.id, k.Owner, refund); err != nil {
			return ErrNotEnoughFunds
		}
	}
	k.Expiration = now
	l.emit(eventSpec{
		kind:     models.EventExpire,
		actor:    caller,
		tokenIDs: []uint64{tokenID},
		amount:   refund,
		newExp:   now,
	})
	if l.hooks.Cancel != nil {
		l.hooks.Cancel.OnKeyCancel(caller, tokenID, refund)
	}
	return nil
}

// TransferFrom moves a live key to a new owner, deducting the transfer fee
// from its remaining time. Approvals clear and the key-manager delegate
// resets on the way.
func (l *Lock) TransferFrom(caller, from, to string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	if !l.canActOnKey(caller, k) {
		return ErrOnlyKeyManagerOrApproved
	}
	if from != k.Owner {
		return ErrUnauthorized
	}
	if to == "" {
		return ErrInvalidAddress
	}
	if to == from {
		return ErrTransferToSelf
	}
	if l.cfg.TransferFeeBasisPoints >= models.BasisPointsDenominator {
		return ErrTransfersDisabled
	}
	now := l.clock.Now()
	l.opNow = now
	if !l.isValid(k, now) {
		return ErrKeyNotValid
	}
	if l.reg.balanceOf(to)+1 > l.cfg.MaxKeysPerAddress {
		return ErrMaxKeys
	}

	if k.Expiration != models.ExpirationNever {
		fee := l.transferFee(remainingTime(k, now))
		k.Expiration -= fee
	}
	l.reg.setOwner(k, to)
	k.KeyManager = ""
	l.emit(eventSpec{
		kind:      models.EventTransfer,
		actor:     caller,
		tokenIDs:  []uint64{tokenID},
		newExp:    k.Expiration,
		recipient: to,
	})
	if l.hooks.Transfer != nil {
		l.hooks.Transfer.OnKeyTransfer(tokenID, from, to, k.Expiration)
	}
	return nil
}

// ShareKey donates amount seconds of a key's remaining time to another
// address, charging the donor the transfer fee on top. When the request
// exceeds what is left, the donor gives everything and ends up expired; the
// recipient never receives more than requested.
func (l *Lock) ShareKey(caller, to string, tokenID uint64, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return 0, ErrNoSuchKey
	}
	if !l.canActOnKey(caller, k) {
		return 0, ErrOnlyKeyManagerOrApproved
	}
	if to == "" {
		return 0, ErrInvalidAddress
	}
	if to == k.Owner {
		return 0, ErrTransferToSelf
	}
	if amount == 0 {
		return 0, ErrNullValue
	}
	now := l.clock.Now()
	l.opNow = now
	if !l.isValid(k, now) {
		return 0, ErrKeyNotValid
	}
	if k.Expiration == models.ExpirationNever {
		return 0, ErrNonExpiringLock
	}

	remaining := remainingTime(k, now)
	fee := l.transferFee(min64(amount, remaining))
	granted := amount
	emptiesDonor := amount+fee >= remaining
	if emptiesDonor {
		// Share the rest: donor key empties, fee still applies.
		if fee >= remaining {
			return 0, ErrNotEnoughTime
		}
		granted = remaining - fee
	}

	// All recipient-side checks run before the donor loses anything.
	recipient := l.reg.holderKey(to)
	extendRecipient := recipient != nil && l.cfg.RepeatPurchase == models.RepeatExtend
	if !extendRecipient {
		if l.cfg.MaxNumberOfKeys != models.KeysUnlimited && l.reg.totalSupply >= l.cfg.MaxNumberOfKeys {
			return 0, ErrLockSoldOut
		}
		if l.reg.balanceOf(to)+1 > l.cfg.MaxKeysPerAddress {
			return 0, ErrMaxKeys
		}
	}

	if emptiesDonor {
		k.Expiration = now
	} else {
		k.Expiration -= amount + fee
	}
	var recipientID uint64
	if extendRecipient {
		recipient.Expiration = extendedExpiration(recipient.Expiration, now, granted)
		recipientID = recipient.TokenID
	} else {
		nk := l.reg.mint(to, now+granted, "", new(big.Int), l.cfg.ExpirationDuration, l.cfg.SettlementToken)
		recipientID = nk.TokenID
	}
	l.emit(eventSpec{
		kind:      models.EventShare,
		actor:     caller,
		tokenIDs:  []uint64{tokenID, recipientID},
		newExp:    k.Expiration,
		recipient: to,
	})
	if l.hooks.Transfer != nil {
		l.hooks.Transfer.OnKeyTransfer(tokenID, k.Owner, to, k.Expiration)
	}
	return recipientID, nil
}

// LendKey hands a key to a borrower without fee or expiration change. The
// lender is recorded as the key's manager (when none is set) so they keep
// the authority to take it back.
func (l *Lock) LendKey(caller, from, to string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	// Lending is owner/manager only: an approved spender must not be able
	// to park itself as the key manager.
	if caller != k.Owner && (k.KeyManager == "" || caller != k.KeyManager) {
		return ErrOnlyKeyManagerOrApproved
	}
	if from != k.Owner {
		return ErrUnauthorized
	}
	if to == "" {
		return ErrInvalidAddress
	}
	if to == from {
		return ErrTransferToSelf
	}
	now := l.clock.Now()
	l.opNow = now
	if !l.isValid(k, now) {
		return ErrKeyNotValid
	}
	if l.reg.balanceOf(to)+1 > l.cfg.MaxKeysPerAddress {
		return ErrMaxKeys
	}

	if k.KeyManager == "" {
		k.KeyManager = from
	}
	l.reg.setOwner(k, to)
	l.emit(eventSpec{
		kind:      models.EventLend,
		actor:     caller,
		tokenIDs:  []uint64{tokenID},
		newExp:    k.Expiration,
		recipient: to,
	})
	if l.hooks.Transfer != nil {
		l.hooks.Transfer.OnKeyTransfer(tokenID, from, to, k.Expiration)
	}
	return nil
}

// UnlendKey returns a lent key to an address of the key manager's choosing.
// Only the recorded key manager may call it.
func (l *Lock) UnlendKey(caller, to string, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.reg.key(tokenID)
	if k == nil {
		return ErrNoSuchKey
	}
	if k.KeyManager == "" || caller != k.KeyManager {
		return ErrOnlyKeyManagerOrApproved
	}
	if to == "" {
		return ErrInvalidAddress
	}
	now := l.clock.Now()
	l.opNow = now
	if l.reg.balanceOf(to)+1 > l.cfg.MaxKeysPerAddress && to != k.Owner {
		return ErrMaxKeys
	}

	from := k.Owner
	l.reg.setOwner(k, to)
	l.emit(eventSpec{
		kind:      models.EventUnlend,
		actor:     caller,
		tokenIDs:  []uint64{tokenID},
		newExp:    k.Expiration,
		recipient: to,
	})
	if l.hooks.Transfer != nil {
		l.hooks.Transfer.OnKeyTransfer(tokenID, from, to, k.Expiration)
	}
	return nil
}

// MergeKeys moves amount seconds of remaining time from one key to another.
// The caller needs authority over the source key, which must stay
// non-negative after the move.
func (l *Lock) MergeKeys(caller string, srcTokenID, dstTokenID uint64, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.reg.key(srcTokenID)
	if src == nil {
		return ErrNoSuchKey
	}
	dst := l.reg.key(dstTokenID)
	if dst == nil {
		return ErrNoSuchKey
	}
	if !l.canActOnKey(caller, src) {
		return ErrOnlyKeyManagerOrApproved
	}
	if srcTokenID == dstTokenID {
		return ErrTransferToSelf
	}
	if amount == 0 {
		return ErrNullValue
	}
	now := l.clock.Now()
	l.opNow = now
	if !l.isValid(src, now) {
		return ErrKeyNotValid
	}
	if src.Expiration == models.ExpirationNever {
		return ErrNonExpiringLock
	}
	if remainingTime(src, now) < amount {
		return ErrNotEnoughTime
	}

	src.Expiration -= amount
	dst.Expiration = extendedExpiration(dst.Expiration, now, amount)
	l.emit(eventSpec{
		kind:     models.EventMerge,
		actor:    caller,
		tokenIDs: []uint64{srcTokenID, dstTokenID},
		newExp:   dst.Expiration,
	})
	return nil
}

// newExpiration computes a fresh key's expiration at now.
func newExpiration(now, duration uint64) uint64 {
	if duration == models.DurationInfinite {
		return models.ExpirationNever
	}
	return now + duration
}

// extendedExpiration pushes an expiration out by duration, measured from
// the later of the current expiration and now.
func extendedExpiration(expiration, now, duration uint64) uint64 {
	if duration == models.DurationInfinite || expiration == models.ExpirationNever {
		return models.ExpirationNever
	}
	if expiration < now {
		expiration = now
	}
	return expiration + duration
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
