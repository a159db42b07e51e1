package testutil

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"memberlock.app/cloud/lock"
	"memberlock.app/cloud/models"
	"memberlock.app/cloud/storage"
	"memberlock.app/cloud/token"
)

// Clock is a settable test clock for the engine.
type Clock struct {
	Time uint64
}

func NewClock(start uint64) *Clock {
	return &Clock{Time: start}
}

func (c *Clock) Now() uint64 { return c.Time }

// Advance moves the clock forward by seconds.
func (c *Clock) Advance(seconds uint64) { c.Time += seconds }

// TestStorage creates an empty memory storage
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// TestConfig returns a lock configuration with sane test defaults: 30-day
// keys at the given price, no fees, unlimited supply.
func TestConfig(price uint64) models.LockConfig {
	return models.LockConfig{
		Name:               "Test Lock",
		Symbol:             "TEST",
		BaseURI:            "https://example.com/keys/",
		ExpirationDuration: 30 * 24 * 3600,
		KeyPrice:           new(big.Int).SetUint64(price),
		MaxNumberOfKeys:    models.KeysUnlimited,
		MaxKeysPerAddress:  1,
		SettlementToken:    "USDT",
	}
}

// FundedHub returns a token hub with balances minted for the given
// addresses on the USDT ledger.
func FundedHub(amount uint64, addrs ...string) *token.Hub {
	hub := token.NewHub()
	ledger := hub.Memory("USDT")
	for _, addr := range addrs {
		ledger.Mint(addr, new(big.Int).SetUint64(amount))
	}
	return hub
}

// NewTestLock creates a lock on a fresh pullable ledger with the manager
// address as creator.
func NewTestLock(t *testing.T, cfg models.LockConfig, creator string, hub *token.Hub, clock lock.Clock) *lock.Lock {
	t.Helper()
	l, err := lock.New("lock-under-test", cfg, creator, hub.Get(cfg.SettlementToken), clock)
	if err != nil {
		t.Fatalf("Failed to create lock: %v", err)
	}
	return l
}

// DoJSON sends a JSON request through the handler and returns the recorder.
// A nil body sends an empty JSON object; actor goes into the X-Actor header.
func DoJSON(t *testing.T, h http.Handler, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = map[string]string{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes the recorded response body into out.
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// AssertStatus checks the recorded status code.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d (body: %s)", expected, w.Code, w.Body.String())
	}
}

// AssertEngineError checks status and the engine reason code in the body.
func AssertEngineError(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	t.Helper()
	if w.Code != expectedStatus {
		t.Errorf("Expected status %d, got %d (body: %s)", expectedStatus, w.Code, w.Body.String())
	}
	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if response["error"] != expectedCode {
		t.Errorf("Expected error '%s', got '%s'", expectedCode, response["error"])
	}
}
