package handlers

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"memberlock.app/cloud/internal/logger"
	"memberlock.app/cloud/lock"
	"memberlock.app/cloud/models"
)

type CreateLockRequest struct {
	Name               string            `json:"name"`
	Symbol             string            `json:"symbol"`
	BaseURI            string            `json:"base_uri"`
	ExpirationDuration uint64            `json:"expiration_duration"`
	KeyPrice           string            `json:"key_price"`
	MaxNumberOfKeys    uint64            `json:"max_number_of_keys"`
	MaxKeysPerAddress  uint64            `json:"max_keys_per_address"`
	SettlementToken    string            `json:"settlement_token"`
	TransferFeeBP      uint64            `json:"transfer_fee_basis_points"`
	RefundPenaltyBP    uint64            `json:"refund_penalty_basis_points"`
	FreeTrialLength    uint64            `json:"free_trial_length"`
	GasRefundValue     string            `json:"gas_refund_value"`
	RepeatPurchase     string            `json:"repeat_purchase"`
	ReferrerFees       map[string]uint64 `json:"referrer_fees"`
}

type LockResponse struct {
	ID             string            `json:"id"`
	Config         models.LockConfig `json:"config"`
	TotalSupply    uint64            `json:"total_supply"`
	NumberOfOwners uint64            `json:"number_of_owners"`
	Beneficiary    string            `json:"beneficiary"`
}

func (s *Server) CreateLock(w http.ResponseWriter, r *http.Request) {
	creator := actor(r)
	if creator == "" {
		writeErrorResponse(w, http.StatusBadRequest, "X-Actor header required")
		return
	}

	var req CreateLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	price, err := parseAmount(req.KeyPrice)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid key_price")
		return
	}
	gasRefund, err := parseAmount(req.GasRefundValue)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid gas_refund_value")
		return
	}

	cfg := models.LockConfig{
		Name:                     req.Name,
		Symbol:                   req.Symbol,
		BaseURI:                  req.BaseURI,
		ExpirationDuration:       req.ExpirationDuration,
		KeyPrice:                 price,
		MaxNumberOfKeys:          req.MaxNumberOfKeys,
		MaxKeysPerAddress:        req.MaxKeysPerAddress,
		SettlementToken:          req.SettlementToken,
		TransferFeeBasisPoints:   req.TransferFeeBP,
		RefundPenaltyBasisPoints: req.RefundPenaltyBP,
		FreeTrialLength:          req.FreeTrialLength,
		GasRefundValue:           gasRefund,
		RepeatPurchase:           req.RepeatPurchase,
		ReferrerFees:             req.ReferrerFees,
	}
	if cfg.MaxNumberOfKeys == 0 {
		cfg.MaxNumberOfKeys = models.KeysUnlimited
	}

	id := uuid.NewString()
	l, err := lock.New(id, cfg, creator, s.Hub.Get(cfg.SettlementToken), s.Clock)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Storage.SaveLock(r.Context(), l.Snapshot()); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "failed to save lock")
		return
	}
	s.locks[id] = l

	logger.Info("lock created", map[string]interface{}{
		"lock_id": id,
		"creator": creator,
	})
	writeJSON(w, http.StatusCreated, lockResponse(l))
}

func (s *Server) GetLock(w http.ResponseWriter, r *http.Request) {
	l, err := s.getLock(r.Context(), chi.URLParam(r, "lockID"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if l == nil {
		lockNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse(l))
}

func lockResponse(l *lock.Lock) LockResponse {
	return LockResponse{
		ID:             l.ID(),
		Config:         l.Config(),
		TotalSupply:    l.TotalSupply(),
		NumberOfOwners: l.NumberOfOwners(),
		Beneficiary:    l.Beneficiary(),
	}
}

// Price is the purchase price query the fiat bridge reads before charging
// a card.
func (s *Server) Price(w http.ResponseWriter, r *http.Request) {
	l, err := s.getLock(r.Context(), chi.URLParam(r, "lockID"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if l == nil {
		lockNotFound(w)
		return
	}

	q := r.URL.Query()
	price, err := l.PurchasePriceFor(q.Get("recipient"), q.Get("referrer"), nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"price": price.String()})
}

type PurchaseRequest struct {
	Recipients  []string `json:"recipients"`
	Referrers   []string `json:"referrers"`
	KeyManagers []string `json:"key_managers"`
	Amounts     []string `json:"amounts"`
	Data        []string `json:"data"`
}

type PurchaseResponse struct {
	TokenIDs []uint64 `json:"token_ids"`
}

func (s *Server) Purchase(w http.ResponseWriter, r *http.Request) {
	payer := actor(r)
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	amounts := make([]*big.Int, len(req.Amounts))
	for i, a := range req.Amounts {
		if a == "" {
			continue
		}
		v, err := parseAmount(a)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid amount %d", i))
			return
		}
		amounts[i] = v
	}
	data := make([][]byte, len(req.Data))
	for i, d := range req.Data {
		data[i] = []byte(d)
	}

	var tokenIDs []uint64
	l, err := s.mutate(r.Context(), chi.URLParam(r, "lockID"), func(l *lock.Lock) error {
		var opErr error
		tokenIDs, opErr = l.Purchase(lock.PurchaseRequest{
			Payer:       payer,
			Recipients:  req.Recipients,
			Referrers:   req.Referrers,
			KeyManagers: req.KeyManagers,
			Amounts:     amounts,
			Data:        data,
		})
		return opErr
	})
	if l == nil && err == nil {
		lockNotFound(w)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	logger.Info("keys purchased", map[string]interface{}{
		"lock_id": l.ID(),
		"payer":   payer,
		"count":   len(tokenIDs),
	})
	writeJSON(w, http.StatusOK, PurchaseResponse{TokenIDs: tokenIDs})
}

type ExtendRequest struct {
	TokenID  uint64 `json:"token_id"`
	Amount   string `json:"amount"`
	Referrer string `json:"referrer"`
	Data     string `json:"data"`
}

func (s *Server) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	amount, err := parseOptionalAmount(req.Amount)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid amount")
		return
	}

	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.Extend(actor(r), req.TokenID, amount, req.Referrer, []byte(req.Data))
	})
}

type GrantRequest struct {
	Recipients  []string `json:"recipients"`
	Expirations []uint64 `json:"expirations"`
	KeyManagers []string `json:"key_managers"`
}

func (s *Server) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	var tokenIDs []uint64
	l, err := s.mutate(r.Context(), chi.URLParam(r, "lockID"), func(l *lock.Lock) error {
		var opErr error
		tokenIDs, opErr = l.GrantKeys(actor(r), req.Recipients, req.Expirations, req.KeyManagers)
		return opErr
	})
	if l == nil && err == nil {
		lockNotFound(w)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResponse{TokenIDs: tokenIDs})
}

type RenewRequest struct {
	TokenID  uint64 `json:"token_id"`
	Referrer string `json:"referrer"`
}

func (s *Server) Renew(w http.ResponseWriter, r *http.Request) {
	var req RenewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.RenewMembershipFor(actor(r), req.TokenID, req.Referrer)
	})
}

type CancelRequest struct {
	TokenID uint64 `json:"token_id"`
}

type RefundResponse struct {
	Refund string `json:"refund"`
}

func (s *Server) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	var refund *big.Int
	l, err := s.mutate(r.Context(), chi.URLParam(r, "lockID"), func(l *lock.Lock) error {
		var opErr error
		refund, opErr = l.CancelAndRefund(actor(r), req.TokenID)
		return opErr
	})
	if l == nil && err == nil {
		lockNotFound(w)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefundResponse{Refund: refund.String()})
}

type ExpireRequest struct {
	TokenID uint64 `json:"token_id"`
	Refund  string `json:"refund"`
}

func (s *Server) Expire(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	refund, err := parseOptionalAmount(req.Refund)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid refund")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.ExpireAndRefundFor(actor(r), req.TokenID, refund)
	})
}

type TransferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID uint64 `json:"token_id"`
}

func (s *Server) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.TransferFrom(actor(r), req.From, req.To, req.TokenID)
	})
}

type ShareRequest struct {
	To      string `json:"to"`
	TokenID uint64 `json:"token_id"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) Share(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}

	var recipientID uint64
	l, err := s.mutate(r.Context(), chi.URLParam(r, "lockID"), func(l *lock.Lock) error {
		var opErr error
		recipientID, opErr = l.ShareKey(actor(r), req.To, req.TokenID, req.Amount)
		return opErr
	})
	if l == nil && err == nil {
		lockNotFound(w)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"token_id": recipientID})
}

type LendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID uint64 `json:"token_id"`
}

func (s *Server) Lend(w http.ResponseWriter, r *http.Request) {
	var req LendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.LendKey(actor(r), req.From, req.To, req.TokenID)
	})
}

type UnlendRequest struct {
	To      string `json:"to"`
	TokenID uint64 `json:"token_id"`
}

func (s *Server) Unlend(w http.ResponseWriter, r *http.Request) {
	var req UnlendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.UnlendKey(actor(r), req.To, req.TokenID)
	})
}

type MergeRequest struct {
	SrcTokenID uint64 `json:"src_token_id"`
	DstTokenID uint64 `json:"dst_token_id"`
	Amount     uint64 `json:"amount"`
}

func (s *Server) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.runKeyOp(w, r, func(l *lock.Lock) error {
		return l.MergeKeys(actor(r), req.SrcTokenID, req.DstTokenID, req.Amount)
	})
}

type WithdrawRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid body")
		return
	}
	amount, err := parseOptionalAmount(req.Amount)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid amount")
		return
	}

	var withdrawn *big.Int
	l, err := s.mutate(r.Context(), chi.URLParam(r, "lockID"), func(l *lock.Lock) error {
		var opErr error
		withdrawn, opErr = l.Withdraw(actor(r), req.Recipient, amount)
		return opErr
	})
	if l == nil && err == nil {
		lockNotFound(w)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}

type KeyResponse struct {
	TokenID    uint64 `json:"token_id"`
	Owner      string `json:"owner"`
	Expiration uint64 `json:"expiration"`
	KeyManager string `json:"key_manager,omitempty"`
	Valid      bool   `json:"valid"`
	TokenURI   string `json:"token_uri"`
}

func (s *Server) GetKey(w http.ResponseWriter, r *http.Request) {
	l, err := s.getLock(r.Context(), chi.URLParam(r, "lockID"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if l == nil {
		lockNotFound(w)
		return
	}
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid token id")
		return
	}

	k, err := l.Key(tokenID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	uri, _ := l.TokenURI(tokenID)
	writeJSON(w, http.StatusOK, KeyResponse{
		TokenID:    k.TokenID,
		Owner:      k.Owner,
		Expiration: k.Expiration,
		KeyManager: k.KeyManager,
		Valid:      l.IsValidKey(tokenID),
		TokenURI:   uri,
	})
}

func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "lockID")
	l, err := s.getLock(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if l == nil {
		lockNotFound(w)
		return
	}
	events, err := s.Storage.EventsForLock(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// runKeyOp handles the common case of a key operation with no payload in
// the success response.
func (s *Server) runKeyOp(w http.ResponseWriter, r *http.Request, op func(l *lock.Lock) error) {
	l, err := s.mutate(r.Context(), chi.URLParam(r, "lockID"), op)
	if l == nil && err == nil {
		lockNotFound(w)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parseOptionalAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(s)
}
