package lock

import (
	"fmt"
	"math/big"

	"memberlock.app/cloud/models"
)

// settle executes the fund movement for a paid operation, in the fixed
// order the accounting depends on: pull the gross amount first so the fee
// and rebate steps see the inflow, then protocol fee, referrer fee, gas
// rebate. The remainder stays on the lock's own balance.
//
// payer funds the purchase; gasTo is the transaction's economic payer and
// receives the gas rebate (for third-party-triggered renewals they differ).
// pull selects allowance-based TransferFrom over a direct Transfer.
//
// The protocol-fee call is best effort: its failure keeps the funds on the
// lock and surfaces only as a journal event. Any other failure unwinds the
// transfers already made, so a failed operation leaves the ledger as it
// found it.
//
// On success settle returns the journal records it produced and an undo
// closure; multi-key operations run every settlement before mutating and
// use the undos to back out of an overall failure. Events go to the journal
// only once the whole operation can no longer fail.
func (l *Lock) settle(payer, gasTo string, gross *big.Int, referrer string, pull bool) ([]eventSpec, func(), error) {
	var undo []func()
	unwind := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	fail := func(err error) ([]eventSpec, func(), error) {
		unwind()
		return nil, nil, err
	}
	var pending []eventSpec

	if gross.Sign() > 0 {
		if pull {
			if err := l.ledger.TransferFrom(l.id, payer, l.id, gross); err != nil {
				return nil, nil, fmt.Errorf("%w: %s", ErrInsufficientErc20Value, err)
			}
		} else {
			if err := l.ledger.Transfer(payer, l.id, gross); err != nil {
				return nil, nil, fmt.Errorf("%w: %s", ErrInsufficientValue, err)
			}
		}
		undo = append(undo, func() { _ = l.ledger.Transfer(l.id, payer, gross) })
	}

	if bp := l.cfg.ProtocolFeeBasisPoints; bp > 0 && l.cfg.ProtocolFeeRecipient != "" {
		fee := new(big.Int).Set(gross)
		fee.Mul(fee, new(big.Int).SetUint64(bp))
		fee.Div(fee, big.NewInt(models.BasisPointsDenominator))
		if fee.Sign() > 0 {
			recipient := l.cfg.ProtocolFeeRecipient
			if err := l.ledger.Transfer(l.id, recipient, fee); err != nil {
				pending = append(pending, eventSpec{
					kind:   models.EventProtocolFeeFailed,
					actor:  payer,
					amount: fee,
					note:   err.Error(),
				})
			} else {
				undo = append(undo, func() { _ = l.ledger.Transfer(recipient, l.id, fee) })
			}
		}
	}

	// Referrer fee comes out of the lock's own funds, computed on the
	// configured key price rather than the amount actually paid.
	if rate := l.referrerRate(referrer); rate > 0 {
		fee := new(big.Int).Set(l.cfg.KeyPrice)
		fee.Mul(fee, new(big.Int).SetUint64(rate))
		fee.Div(fee, big.NewInt(models.BasisPointsDenominator))
		if fee.Sign() > 0 {
			if err := l.ledger.Transfer(l.id, referrer, fee); err != nil {
				return fail(fmt.Errorf("referrer fee: %w", ErrNotEnoughFunds))
			}
			ref := referrer
			undo = append(undo, func() { _ = l.ledger.Transfer(ref, l.id, fee) })
		}
	}

	if gr := l.cfg.GasRefundValue; gr != nil && gr.Sign() > 0 && gasTo != "" {
		if err := l.ledger.Transfer(l.id, gasTo, gr); err != nil {
			return fail(fmt.Errorf("gas refund: %w", ErrNotEnoughFunds))
		}
		rebate := new(big.Int).Set(gr)
		undo = append(undo, func() { _ = l.ledger.Transfer(gasTo, l.id, rebate) })
		pending = append(pending, eventSpec{kind: models.EventGasRefund, actor: gasTo, amount: rebate, recipient: gasTo})
	}

	return pending, unwind, nil
}
