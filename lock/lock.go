// Package lock implements the membership lock engine: a time-bound,
// fee-bearing, transferable-entitlement state machine. One Lock issues
// non-fungible keys that grant access for a duration, and reconciles
// price, expiration, fees and authorization on every state change.
package lock

import (
	"math/big"
	"sync"

	"memberlock.app/cloud/models"
	"memberlock.app/cloud/token"
)

// SchemaVersion tags snapshots written by this engine. MigrateSnapshot
// upgrades older layouts.
const SchemaVersion = 2

// Lock is one configured instance of the engine. All public operations are
// serialized by a single mutex, which doubles as the re-entrancy guard
// around the calls that leave the engine's trust boundary (ledger moves and
// hooks).
type Lock struct {
	mu sync.Mutex

	id     string
	cfg    models.LockConfig
	clock  Clock
	ledger token.Ledger
	hooks  Hooks

	reg   *registry
	roles *roleSet

	journal []models.Event

	// opNow is the single "now" reading of the operation in flight.
	opNow uint64
}

// New creates a lock. creator becomes the initial LockManager and the
// default beneficiary.
func New(id string, cfg models.LockConfig, creator string, ledger token.Ledger, clock Clock) (*Lock, error) {
	if id == "" || creator == "" {
		return nil, ErrInvalidAddress
	}
	if err := normalizeConfig(&cfg); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Lock{
		id:     id,
		cfg:    cfg,
		clock:  clock,
		ledger: ledger,
		reg:    newRegistry(),
		roles:  newRoleSet(creator),
	}, nil
}

func normalizeConfig(cfg *models.LockConfig) error {
	if cfg.KeyPrice == nil {
		cfg.KeyPrice = new(big.Int)
	}
	if cfg.GasRefundValue == nil {
		cfg.GasRefundValue = new(big.Int)
	}
	if cfg.MaxKeysPerAddress == 0 {
		cfg.MaxKeysPerAddress = 1
	}
	if cfg.RepeatPurchase == "" {
		cfg.RepeatPurchase = models.RepeatExtend
	}
	if cfg.RepeatPurchase != models.RepeatExtend && cfg.RepeatPurchase != models.RepeatMint {
		return ErrNullValue
	}
	if cfg.TransferFeeBasisPoints > models.BasisPointsDenominator ||
		cfg.RefundPenaltyBasisPoints > models.BasisPointsDenominator ||
		cfg.ProtocolFeeBasisPoints > models.BasisPointsDenominator {
		return ErrNullValue
	}
	if cfg.ReferrerFees == nil {
		cfg.ReferrerFees = make(map[string]uint64)
	}
	return nil
}

// ID returns the lock's address on the settlement ledger.
func (l *Lock) ID() string { return l.id }

// Config returns a copy of the current configuration.
func (l *Lock) Config() models.LockConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyConfig(l.cfg)
}

func copyConfig(cfg models.LockConfig) models.LockConfig {
	out := cfg
	out.KeyPrice = new(big.Int).Set(cfg.KeyPrice)
	out.GasRefundValue = new(big.Int).Set(cfg.GasRefundValue)
	out.ReferrerFees = make(map[string]uint64, len(cfg.ReferrerFees))
	for k, v := range cfg.ReferrerFees {
		out.ReferrerFees[k] = v
	}
	return out
}

// UpdateKeyPricing changes the price and settlement token. Manager-gated.
// Existing keys keep their issuance terms; renewals notice the drift.
func (l *Lock) UpdateKeyPricing(caller string, price *big.Int, settlementToken string, ledger token.Ledger) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if price == nil {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.KeyPrice = new(big.Int).Set(price)
	if settlementToken != l.cfg.SettlementToken {
		if ledger == nil {
			return ErrNullValue
		}
		l.cfg.SettlementToken = settlementToken
		l.ledger = ledger
	}
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, amount: price, note: "key_pricing"})
	return nil
}

// UpdateLockConfig changes duration and the supply caps. Manager-gated.
func (l *Lock) UpdateLockConfig(caller string, duration, maxKeys, maxKeysPerAddress uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if maxKeysPerAddress == 0 {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.ExpirationDuration = duration
	l.cfg.MaxNumberOfKeys = maxKeys
	l.cfg.MaxKeysPerAddress = maxKeysPerAddress
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, note: "lock_config"})
	return nil
}

// UpdateTransferFee sets the transfer fee rate. Manager-gated. 10000bp
// disables transfers outright.
func (l *Lock) UpdateTransferFee(caller string, basisPoints uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if basisPoints > models.BasisPointsDenominator {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.TransferFeeBasisPoints = basisPoints
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, note: "transfer_fee"})
	return nil
}

// SetReferrerFee sets a referrer's share of the key price. The wildcard
// referrer applies to anyone without an explicit rate. Manager-gated.
func (l *Lock) SetReferrerFee(caller, referrer string, basisPoints uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if referrer == "" {
		return ErrInvalidAddress
	}
	if basisPoints > models.BasisPointsDenominator {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.ReferrerFees[referrer] = basisPoints
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, recipient: referrer, note: "referrer_fee"})
	return nil
}

// SetGasRefundValue sets the fixed rebate paid to whoever executes a paid
// operation. Manager-gated.
func (l *Lock) SetGasRefundValue(caller string, value *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if value == nil {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.GasRefundValue = new(big.Int).Set(value)
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, amount: value, note: "gas_refund"})
	return nil
}

// UpdateRefundPenalty sets the free-trial window and the cancellation
// penalty. Manager-gated.
func (l *Lock) UpdateRefundPenalty(caller string, freeTrialLength, penaltyBasisPoints uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if penaltyBasisPoints > models.BasisPointsDenominator {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.FreeTrialLength = freeTrialLength
	l.cfg.RefundPenaltyBasisPoints = penaltyBasisPoints
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, note: "refund_penalty"})
	return nil
}

// SetProtocolFee sets the protocol's cut and its recipient. Manager-gated.
func (l *Lock) SetProtocolFee(caller, recipient string, basisPoints uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if basisPoints > models.BasisPointsDenominator {
		return ErrNullValue
	}
	l.opNow = l.clock.Now()
	l.cfg.ProtocolFeeBasisPoints = basisPoints
	l.cfg.ProtocolFeeRecipient = recipient
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, recipient: recipient, note: "protocol_fee"})
	return nil
}

// SetLockMetadata updates name, symbol and base URI. Manager-gated.
func (l *Lock) SetLockMetadata(caller, name, symbol, baseURI string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	l.opNow = l.clock.Now()
	l.cfg.Name = name
	l.cfg.Symbol = symbol
	l.cfg.BaseURI = baseURI
	l.emit(eventSpec{kind: models.EventConfigUpdate, actor: caller, note: "metadata"})
	return nil
}

// Withdraw moves funds off the lock's balance to recipient. Only the
// beneficiary or a lock manager may call it; a nil or zero amount sweeps
// the whole balance.
func (l *Lock) Withdraw(caller, recipient string, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isBeneficiary(caller) && !l.isLockManager(caller) {
		return nil, ErrOnlyLockManagerOrBeneficiary
	}
	if recipient == "" {
		return nil, ErrInvalidAddress
	}
	balance := l.ledger.BalanceOf(l.id)
	if amount == nil || amount.Sign() == 0 {
		amount = balance
	} else if amount.Cmp(balance) > 0 {
		return nil, ErrNotEnoughFunds
	}
	l.opNow = l.clock.Now()
	if err := l.ledger.Transfer(l.id, recipient, amount); err != nil {
		return nil, ErrNotEnoughFunds
	}
	l.emit(eventSpec{kind: models.EventWithdraw, actor: caller, amount: amount, recipient: recipient})
	return new(big.Int).Set(amount), nil
}
