package models

// Event kinds emitted by the engine. Events are the only channel through
// which indexers and other collaborators observe state changes.
const (
	EventPurchase          = "purchase"
	EventExtend            = "extend"
	EventGrant             = "grant"
	EventRenew             = "renew"
	EventCancel            = "cancel"
	EventExpire            = "expire"
	EventTransfer          = "transfer"
	EventShare             = "share"
	EventLend              = "lend"
	EventUnlend            = "unlend"
	EventMerge             = "merge"
	EventWithdraw          = "withdraw"
	EventGasRefund         = "gas_refund"
	EventProtocolFeeFailed = "protocol_fee_failed"
	EventConfigUpdate      = "config_update"
	EventRoleGrant         = "role_grant"
	EventRoleRevoke        = "role_revoke"
	EventHooksUpdate       = "hooks_update"
	EventKeyManager        = "key_manager"
	EventApproval          = "approval"
)

type Event struct {
	ID     string `json:"id"`
	LockID string `json:"lock_id"`
	Kind   string `json:"kind"`
	Actor  string `json:"actor"`

	TokenIDs      []uint64 `json:"token_ids,omitempty"`
	Amount        string   `json:"amount,omitempty"`
	NewExpiration uint64   `json:"new_expiration,omitempty"`
	Referrer      string   `json:"referrer,omitempty"`
	Recipient     string   `json:"recipient,omitempty"`
	Note          string   `json:"note,omitempty"`

	CreatedAt uint64 `json:"created_at"`
}
