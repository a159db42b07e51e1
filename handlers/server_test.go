package handlers

import (
	"net/http"
	"testing"

	"memberlock.app/cloud/internal/testutil"
	"memberlock.app/cloud/models"
	"memberlock.app/cloud/storage"
	"memberlock.app/cloud/token"
)

func newTestServer(storage storage.Storage, hub *token.Hub, clock *testutil.Clock) *Server {
	return NewServer(storage, hub, clock)
}

// createLock posts a 30-day, 10000-unit USDT lock and returns its id.
func createLock(t *testing.T, s *Server, extra func(*CreateLockRequest)) string {
	t.Helper()
	req := CreateLockRequest{
		Name:               "HTTP Lock",
		Symbol:             "HTTP",
		ExpirationDuration: 30 * 24 * 3600,
		KeyPrice:           "10000",
		SettlementToken:    "USDT",
	}
	if extra != nil {
		extra(&req)
	}
	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks", "manager", req)
	testutil.AssertStatus(t, w, http.StatusCreated)

	var resp LockResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.ID == "" {
		t.Fatalf("Expected lock id in response")
	}
	return resp.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	w := testutil.DoJSON(t, s.Routes(), http.MethodGet, "/health", "", nil)
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp HealthResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("Expected status ok, got %s", resp.Status)
	}
}

func TestCreateLockRequiresActor(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks", "", CreateLockRequest{Name: "No Actor"})
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestGetLockNotFound(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	w := testutil.DoJSON(t, s.Routes(), http.MethodGet, "/api/v1/locks/nope", "", nil)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestPurchaseOverHTTP(t *testing.T) {
	hub := testutil.FundedHub(10000, "alice")
	s := newTestServer(testutil.TestStorage(), hub, testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	// The lock must be approved to pull alice's funds.
	hub.Memory("USDT").Approve("alice", id, hub.Memory("USDT").BalanceOf("alice"))

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/purchase", "alice",
		PurchaseRequest{Recipients: []string{"alice"}})
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp PurchaseResponse
	testutil.DecodeJSON(t, w, &resp)
	if len(resp.TokenIDs) != 1 {
		t.Fatalf("Expected 1 token id, got %v", resp.TokenIDs)
	}

	kw := testutil.DoJSON(t, s.Routes(), http.MethodGet, "/api/v1/locks/"+id+"/keys/1", "", nil)
	testutil.AssertStatus(t, kw, http.StatusOK)
	var key KeyResponse
	testutil.DecodeJSON(t, kw, &key)
	if key.Owner != "alice" || !key.Valid {
		t.Errorf("Expected valid key owned by alice, got %+v", key)
	}
}

func TestPurchaseErrorMapping(t *testing.T) {
	hub := token.NewHub()
	s := newTestServer(testutil.TestStorage(), hub, testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	// No funds, no allowance: a value failure maps to 400 with the code.
	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/purchase", "pauper",
		PurchaseRequest{Recipients: []string{"pauper"}})
	testutil.AssertEngineError(t, w, http.StatusBadRequest, "INSUFFICIENT_ERC20_VALUE")
}

func TestSoldOutMapsToConflict(t *testing.T) {
	hub := testutil.FundedHub(20000, "alice", "bob")
	s := newTestServer(testutil.TestStorage(), hub, testutil.NewClock(1_000_000))
	id := createLock(t, s, func(req *CreateLockRequest) {
		req.MaxNumberOfKeys = 1
	})
	usdt := hub.Memory("USDT")
	usdt.Approve("alice", id, usdt.BalanceOf("alice"))
	usdt.Approve("bob", id, usdt.BalanceOf("bob"))

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/purchase", "alice",
		PurchaseRequest{Recipients: []string{"alice"}})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/purchase", "bob",
		PurchaseRequest{Recipients: []string{"bob"}})
	testutil.AssertEngineError(t, w, http.StatusConflict, "LOCK_SOLD_OUT")
}

func TestUnauthorizedMapsToForbidden(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/grant", "mallory",
		GrantRequest{Recipients: []string{"mallory"}})
	testutil.AssertEngineError(t, w, http.StatusForbidden, "UNAUTHORIZED")

	w = testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/withdraw", "mallory",
		WithdrawRequest{Recipient: "mallory"})
	testutil.AssertEngineError(t, w, http.StatusForbidden, "ONLY_LOCK_MANAGER_OR_BENEFICIARY")
}

func TestUnknownKeyMapsToNotFound(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodGet, "/api/v1/locks/"+id+"/keys/42", "", nil)
	testutil.AssertEngineError(t, w, http.StatusNotFound, "NO_SUCH_KEY")
}

func TestGrantAndCancelOverHTTP(t *testing.T) {
	hub := token.NewHub()
	s := newTestServer(testutil.TestStorage(), hub, testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/grant", "manager",
		GrantRequest{Recipients: []string{"alice"}})
	testutil.AssertStatus(t, w, http.StatusOK)
	var granted PurchaseResponse
	testutil.DecodeJSON(t, w, &granted)

	w = testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/cancel", "alice",
		CancelRequest{TokenID: granted.TokenIDs[0]})
	testutil.AssertStatus(t, w, http.StatusOK)
	var refund RefundResponse
	testutil.DecodeJSON(t, w, &refund)
	if refund.Refund != "0" {
		t.Errorf("Expected zero refund for a free key, got %s", refund.Refund)
	}
}

func TestUpdateConfigSections(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	fee := uint64(250)
	w := testutil.DoJSON(t, s.Routes(), http.MethodPut, "/api/v1/locks/"+id+"/config", "manager",
		UpdateConfigRequest{TransferFeeBP: &fee})
	testutil.AssertStatus(t, w, http.StatusOK)

	var resp LockResponse
	w = testutil.DoJSON(t, s.Routes(), http.MethodGet, "/api/v1/locks/"+id, "", nil)
	testutil.DecodeJSON(t, w, &resp)
	if resp.Config.TransferFeeBasisPoints != 250 {
		t.Errorf("Expected transfer fee 250, got %d", resp.Config.TransferFeeBasisPoints)
	}
	if resp.Config.Name != "HTTP Lock" {
		t.Errorf("Expected untouched sections preserved, got name %s", resp.Config.Name)
	}

	// Manager gate applies across the endpoint.
	w = testutil.DoJSON(t, s.Routes(), http.MethodPut, "/api/v1/locks/"+id+"/config", "mallory",
		UpdateConfigRequest{TransferFeeBP: &fee})
	testutil.AssertEngineError(t, w, http.StatusForbidden, "ONLY_LOCK_MANAGER")
}

func TestRolesEndpoint(t *testing.T) {
	s := newTestServer(testutil.TestStorage(), token.NewHub(), testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/roles", "manager",
		RoleRequest{Role: "key_granter", Address: "granter"})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/grant", "granter",
		GrantRequest{Recipients: []string{"alice"}})
	testutil.AssertStatus(t, w, http.StatusOK)

	// A manager cannot revoke another manager, only renounce themselves.
	w = testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/roles", "manager",
		RoleRequest{Role: "lock_manager", Address: "someone-else", Revoke: true})
	testutil.AssertEngineError(t, w, http.StatusForbidden, "ONLY_LOCK_MANAGER")
}

func TestEventsPersisted(t *testing.T) {
	store := testutil.TestStorage()
	s := newTestServer(store, token.NewHub(), testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/grant", "manager",
		GrantRequest{Recipients: []string{"alice"}})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = testutil.DoJSON(t, s.Routes(), http.MethodGet, "/api/v1/locks/"+id+"/events", "", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var events []models.Event
	testutil.DecodeJSON(t, w, &events)
	if len(events) != 1 {
		t.Fatalf("Expected 1 persisted event, got %d", len(events))
	}
	if events[0].Kind != models.EventGrant {
		t.Errorf("Expected grant event, got %s", events[0].Kind)
	}
}

func TestFailedOperationPersistsNothing(t *testing.T) {
	store := testutil.TestStorage()
	s := newTestServer(store, token.NewHub(), testutil.NewClock(1_000_000))
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/grant", "mallory",
		GrantRequest{Recipients: []string{"mallory"}})
	testutil.AssertEngineError(t, w, http.StatusForbidden, "UNAUTHORIZED")

	w = testutil.DoJSON(t, s.Routes(), http.MethodGet, "/api/v1/locks/"+id+"/events", "", nil)
	var events []models.Event
	testutil.DecodeJSON(t, w, &events)
	if len(events) != 0 {
		t.Errorf("Expected no events after failed operation, got %d", len(events))
	}
}

func TestLockSurvivesServerRestart(t *testing.T) {
	store := testutil.TestStorage()
	hub := token.NewHub()
	clock := testutil.NewClock(1_000_000)
	s := newTestServer(store, hub, clock)
	id := createLock(t, s, nil)

	w := testutil.DoJSON(t, s.Routes(), http.MethodPost, "/api/v1/locks/"+id+"/grant", "manager",
		GrantRequest{Recipients: []string{"alice"}})
	testutil.AssertStatus(t, w, http.StatusOK)

	// A fresh server over the same storage restores the lock on demand.
	restarted := newTestServer(store, hub, clock)
	w = testutil.DoJSON(t, restarted.Routes(), http.MethodGet, "/api/v1/locks/"+id, "", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var resp LockResponse
	testutil.DecodeJSON(t, w, &resp)
	if resp.TotalSupply != 1 {
		t.Errorf("Expected restored supply 1, got %d", resp.TotalSupply)
	}
}
