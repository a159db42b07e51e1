package lock

import "errors"

// Kind groups failure reasons the way callers branch on them: an
// authorization failure is retried with a different actor, a terms failure
// means renewal must be re-approved, a funds failure means the lock itself
// is short.
type Kind int

const (
	KindAuthorization Kind = iota
	KindState
	KindValue
	KindTerms
	KindHook
	KindFunds
)

// Error is a reason-coded engine failure. Operations never fail with a bare
// message: every path returns one of the sentinel values below, possibly
// wrapped with context.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string { return e.Code }

var (
	ErrUnauthorized                 = &Error{KindAuthorization, "UNAUTHORIZED"}
	ErrOnlyLockManager              = &Error{KindAuthorization, "ONLY_LOCK_MANAGER"}
	ErrOnlyLockManagerOrBeneficiary = &Error{KindAuthorization, "ONLY_LOCK_MANAGER_OR_BENEFICIARY"}
	ErrOnlyKeyManagerOrApproved     = &Error{KindAuthorization, "ONLY_KEY_MANAGER_OR_APPROVED"}

	ErrNoSuchKey         = &Error{KindState, "NO_SUCH_KEY"}
	ErrKeyNotValid       = &Error{KindState, "KEY_NOT_VALID"}
	ErrLockSoldOut       = &Error{KindState, "LOCK_SOLD_OUT"}
	ErrMaxKeys           = &Error{KindState, "MAX_KEYS"}
	ErrLockDeprecated    = &Error{KindState, "LOCK_DEPRECATED"}
	ErrNonExpiringLock   = &Error{KindState, "NON_EXPIRING_LOCK"}
	ErrNotReady          = &Error{KindState, "NOT_READY"}
	ErrNonRenewable      = &Error{KindState, "NON_RENEWABLE"}
	ErrNotEnoughTime     = &Error{KindState, "NOT_ENOUGH_TIME"}
	ErrTransfersDisabled = &Error{KindState, "KEY_TRANSFERS_DISABLED"}

	ErrInsufficientValue      = &Error{KindValue, "INSUFFICIENT_VALUE"}
	ErrInsufficientErc20Value = &Error{KindValue, "INSUFFICIENT_ERC20_VALUE"}
	ErrNullValue              = &Error{KindValue, "NULL_VALUE"}
	ErrInvalidAddress         = &Error{KindValue, "INVALID_ADDRESS"}
	ErrTransferToSelf         = &Error{KindValue, "TRANSFER_TO_SELF"}

	ErrPriceChanged    = &Error{KindTerms, "PRICE_CHANGED"}
	ErrDurationChanged = &Error{KindTerms, "DURATION_CHANGED"}
	ErrTokenChanged    = &Error{KindTerms, "TOKEN_CHANGED"}
	ErrLockHasChanged  = &Error{KindTerms, "LOCK_HAS_CHANGED"}

	ErrPurchaseBlockedByHook = &Error{KindHook, "PURCHASE_BLOCKED_BY_HOOK"}
	ErrInvalidHook           = &Error{KindHook, "INVALID_HOOK"}

	ErrNotEnoughFunds = &Error{KindFunds, "NOT_ENOUGH_FUNDS"}
)

// KindOf extracts the Kind from an engine error chain. The second return is
// false for non-engine errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// CodeOf extracts the reason code from an engine error chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
