package models

import (
	"math"
	"math/big"
)

const (
	// DurationInfinite marks a lock whose keys never expire.
	DurationInfinite uint64 = math.MaxUint64
	// KeysUnlimited marks a lock with no supply cap.
	KeysUnlimited uint64 = math.MaxUint64
	// ExpirationNever is the expiration timestamp of a non-expiring key.
	ExpirationNever uint64 = math.MaxUint64

	// BasisPointsDenominator is the fee denominator: 1bp = 0.01%.
	BasisPointsDenominator = 10000
)

// WildcardReferrer keys the "any referrer" entry in ReferrerFees.
const WildcardReferrer = "*"

// Repeat-purchase policies for a recipient that already holds a key.
const (
	RepeatExtend = "extend" // top up the existing key in place
	RepeatMint   = "mint"   // issue an independent token
)

// NativeToken is the settlement-token value for a native-asset lock.
const NativeToken = ""

type LockConfig struct {
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	BaseURI string `json:"base_uri"`

	ExpirationDuration uint64   `json:"expiration_duration"`
	KeyPrice           *big.Int `json:"key_price"`
	MaxNumberOfKeys    uint64   `json:"max_number_of_keys"`
	MaxKeysPerAddress  uint64   `json:"max_keys_per_address"`
	SettlementToken    string   `json:"settlement_token"`

	TransferFeeBasisPoints   uint64 `json:"transfer_fee_basis_points"`
	RefundPenaltyBasisPoints uint64 `json:"refund_penalty_basis_points"`
	FreeTrialLength          uint64 `json:"free_trial_length"`

	GasRefundValue *big.Int `json:"gas_refund_value"`

	ProtocolFeeBasisPoints uint64 `json:"protocol_fee_basis_points"`
	ProtocolFeeRecipient   string `json:"protocol_fee_recipient"`

	// ReferrerFees maps referrer address to basis points. The
	// WildcardReferrer entry applies to any referrer without its own rate.
	ReferrerFees map[string]uint64 `json:"referrer_fees"`

	RepeatPurchase string `json:"repeat_purchase"`
}

// Key is a single entitlement token.
//
// PricePaid, Duration and Token record the terms in force at issuance (or
// the latest extension); renewal refuses to run when they have drifted from
// the lock's current configuration, and the refund math needs the original
// price and duration.
type Key struct {
	TokenID    uint64 `json:"token_id"`
	Owner      string `json:"owner"`
	Expiration uint64 `json:"expiration"`
	KeyManager string `json:"key_manager,omitempty"`

	PricePaid *big.Int `json:"price_paid"`
	Duration  uint64   `json:"duration"`
	Token     string   `json:"token"`
}

// LockSnapshot is the persistable form of a lock: config, keys, roles and
// counters, tagged with the schema version that wrote it.
type LockSnapshot struct {
	SchemaVersion int    `json:"schema_version"`
	LockID        string `json:"lock_id"`

	Config LockConfig `json:"config"`
	Keys   []Key      `json:"keys"`

	NextTokenID uint64 `json:"next_token_id"`

	Beneficiary string   `json:"beneficiary"`
	Managers    []string `json:"managers"`
	Granters    []string `json:"granters"`

	ApprovedSpenders map[uint64]string          `json:"approved_spenders,omitempty"`
	Operators        map[string]map[string]bool `json:"operators,omitempty"`
}
