package lock

import (
	"math/big"
	"testing"

	"memberlock.app/cloud/models"
	"memberlock.app/cloud/token"
)

const day = 24 * 3600

type fakeClock struct {
	now uint64
}

func (c *fakeClock) Now() uint64 { return c.now }

func (c *fakeClock) advance(seconds uint64) { c.now += seconds }

// testLedger is the in-memory ledger surface the tests drive directly.
type testLedger interface {
	token.Ledger
	Mint(addr string, amount *big.Int)
	Approve(owner, spender string, amount *big.Int)
}

func testConfig(price uint64) models.LockConfig {
	return models.LockConfig{
		Name:               "Test Lock",
		Symbol:             "TEST",
		BaseURI:            "https://example.com/keys/",
		ExpirationDuration: 30 * day,
		KeyPrice:           new(big.Int).SetUint64(price),
		MaxNumberOfKeys:    models.KeysUnlimited,
		MaxKeysPerAddress:  1,
		SettlementToken:    "USDT",
	}
}

// newTestLock creates a lock on a fresh pullable ledger, with "manager" as
// creator and the clock starting at a round epoch.
func newTestLock(t *testing.T, cfg models.LockConfig) (*Lock, testLedger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: 1_000_000}
	ledger := token.NewLedger()
	l, err := New("lock1", cfg, "manager", ledger, clock)
	if err != nil {
		t.Fatalf("Failed to create lock: %v", err)
	}
	return l, ledger, clock
}

// fund mints a balance and approves the lock to pull it.
func fund(led testLedger, lockID, addr string, amount uint64) {
	led.Mint(addr, new(big.Int).SetUint64(amount))
	led.Approve(addr, lockID, new(big.Int).SetUint64(amount))
}

// buy purchases one key for the recipient, paid by the recipient.
func buy(t *testing.T, l *Lock, recipient string) uint64 {
	t.Helper()
	ids, err := l.Purchase(PurchaseRequest{Payer: recipient, Recipients: []string{recipient}})
	if err != nil {
		t.Fatalf("Failed to purchase key for %s: %v", recipient, err)
	}
	if len(ids) != 1 {
		t.Fatalf("Expected 1 token id, got %d", len(ids))
	}
	return ids[0]
}

func balance(led testLedger, addr string) uint64 {
	return led.BalanceOf(addr).Uint64()
}
