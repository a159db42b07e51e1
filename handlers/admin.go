package handlers

import (
	"encoding/json"
	"net/http"

	"memberlock.app/cloud/lock"
)

// UpdateConfigRequest carries the manager setters. Only the sections
// present in the body are applied, so one endpoint serves the settings
// form without clobbering unrelated fields.
type UpdateConfigRequest struct {
	Pricing *struct {
		KeyPrice        string `json:"key_price"`
		SettlementToken string `json:"settlement_token"`
	} `json:"pricing"`
	Terms *struct {
		ExpirationDuration uint64 `json:"expiration_duration"`
		MaxNumberOfKeys    uint64 `json:"max_number_of_keys"`
		MaxKeysPerAddress  uint64 `json:"max_keys_per_address"`
	} `json:"terms"`
	TransferFeeBP *uint64 `json:"transfer_fee_basis_points"`
	Refund        *struct {
		FreeTrialLength uint64 `json:"free_trial_length"`
		PenaltyBP       uint64 `json:"penalty_basis_points"`
	} `json:"refund"`
	GasRefundValue *string `json:"gas_refund_value"`
	ProtocolFee    *struct {
		Recipient   string `json:"recipient"`
		BasisPoints uint64 `json:"basis_points"`
	} `json:"protocol_fee"`
	Metadata *struct {
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
		BaseURI string `json:"base_uri"`
	} `json:"metadata"`
}

func (s *Server) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.runKeyOp(w, r, func(l *lock.Lock) error {
		if req.Pricing != nil {
			price, err := parseAmount(req.Pricing.KeyPrice)
			if err != nil {
				return lock.ErrNullValue
			}
			tok := req.Pricing.SettlementToken
			if err := l.UpdateKeyPricing(caller, price, tok, s.Hub.Get(tok)); err != nil {
				return err
			}
		}
		if req.Terms != nil {
			if err := l.UpdateLockConfig(caller, req.Terms.ExpirationDuration, req.Terms.MaxNumberOfKeys, req.Terms.MaxKeysPerAddress); err != nil {
				return err
			}
		}
		if req.TransferFeeBP != nil {
			if err := l.UpdateTransferFee(caller, *req.TransferFeeBP); err != nil {
				return err
			}
		}
		if req.Refund != nil {
			if err := l.UpdateRefundPenalty(caller, req.Refund.FreeTrialLength, req.Refund.PenaltyBP); err != nil {
				return err
			}
		}
		if req.GasRefundValue != nil {
			value, err := parseAmount(*req.GasRefundValue)
			if err != nil {
				return lock.ErrNullValue
			}
			if err := l.SetGasRefundValue(caller, value); err != nil {
				return err
			}
		}
		if req.ProtocolFee != nil {
			if err := l.SetProtocolFee(caller, req.ProtocolFee.Recipient, req.ProtocolFee.BasisPoints); err != nil {
				return err
			}
		}
		if req.Metadata != nil {
			if err := l.SetLockMetadata(caller, req.Metadata.Name, req.Metadata.Symbol, req.Metadata.BaseURI); err != nil {
				return err
			}
		}
		return nil
	})
}

type ApproveRequest struct {
	TokenID  uint64 `json:"token_id"`
	Spender  string `json:"spender"`
	Operator string `json:"operator"`
	Revoke   bool   `json:"revoke"`
}

// Approve sets either the per-token spender (token_id + spender) or an
// operator-for-all relation (operator).
func (s *Server) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		if req.Operator != "" {
			return l.SetApprovalForAll(actor(r), req.Operator, !req.Revoke)
		}
		return l.Approve(actor(r), req.Spender, req.TokenID)
	})
}

type KeyManagerRequest struct {
	TokenID uint64 `json:"token_id"`
	Manager string `json:"manager"`
}

func (s *Server) SetKeyManager(w http.ResponseWriter, r *http.Request) {
	var req KeyManagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.SetKeyManagerOf(actor(r), req.TokenID, req.Manager)
	})
}

type ReferrerFeeRequest struct {
	Referrer    string `json:"referrer"`
	BasisPoints uint64 `json:"basis_points"`
}

func (s *Server) SetReferrerFee(w http.ResponseWriter, r *http.Request) {
	var req ReferrerFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.SetReferrerFee(actor(r), req.Referrer, req.BasisPoints)
	})
}

type RoleRequest struct {
	Role    string `json:"role"`    // lock_manager | key_granter | beneficiary
	Address string `json:"address"`
	Revoke  bool   `json:"revoke"`
}

func (s *Server) UpdateRoles(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.runKeyOp(w, r, func(l *lock.Lock) error {
		switch req.Role {
		case "lock_manager":
			if req.Revoke {
				if req.Address != caller {
					return lock.ErrOnlyLockManager
				}
				return l.RenounceLockManager(caller)
			}
			return l.AddLockManager(caller, req.Address)
		case "key_granter":
			if req.Revoke {
				return l.RevokeKeyGranter(caller, req.Address)
			}
			return l.AddKeyGranter(caller, req.Address)
		case "beneficiary":
			if req.Revoke {
				return lock.ErrNullValue
			}
			return l.SetBeneficiary(caller, req.Address)
		default:
			return lock.ErrNullValue
		}
	})
}
