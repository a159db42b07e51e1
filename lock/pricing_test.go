package lock

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

// discountHook halves the configured price for recipients carrying a
// promo payload and blocks anyone named on its denylist.
type discountHook struct {
	price     *big.Int
	denied    map[string]bool
	purchases int
}

func (h *discountHook) KeyPurchasePrice(from, recipient, referrer string, data []byte) (*big.Int, error) {
	if h.denied[recipient] {
		return nil, fmt.Errorf("recipient %s denied", recipient)
	}
	if string(data) == "promo" {
		return new(big.Int).Div(h.price, big.NewInt(2)), nil
	}
	return h.price, nil
}

func (h *discountHook) OnKeyPurchase(tokenID uint64, from, recipient, referrer string, data []byte, minPrice, paid *big.Int) {
	h.purchases++
}

type nilPriceHook struct{}

func (nilPriceHook) KeyPurchasePrice(from, recipient, referrer string, data []byte) (*big.Int, error) {
	return nil, nil
}

func (nilPriceHook) OnKeyPurchase(tokenID uint64, from, recipient, referrer string, data []byte, minPrice, paid *big.Int) {
}

func TestPurchaseHookReprices(t *testing.T) {
	l, led, _ := newTestLock(t, testConfig(10000))
	hook := &discountHook{price: big.NewInt(10000), denied: map[string]bool{"mallory": true}}
	if err := l.SetEventHooks("manager", Hooks{Purchase: hook}); err != nil {
		t.Fatalf("Failed to set hooks: %v", err)
	}
	fund(led, l.ID(), "alice", 5000)

	price, err := l.PurchasePriceFor("alice", "", []byte("promo"))
	if err != nil {
		t.Fatalf("PurchasePriceFor failed: %v", err)
	}
	if price.Uint64() != 5000 {
		t.Errorf("Expected discounted price 5000, got %s", price)
	}

	_, err = l.Purchase(PurchaseRequest{
		Payer:      "alice",
		Recipients: []string{"alice"},
		Data:       [][]byte{[]byte("promo")},
	})
	if err != nil {
		t.Fatalf("Failed to purchase at hook price: %v", err)
	}
	if balance(led, l.ID()) != 5000 {
		t.Errorf("Expected lock to collect hook price 5000, got %d", balance(led, l.ID()))
	}
	if hook.purchases != 1 {
		t.Errorf("Expected 1 purchase callback, got %d", hook.purchases)
	}
}

func TestPurchaseHookBlocks(t *testing.T) {
	l, led, _ := newTestLock(t, testConfig(10000))
	hook := &discountHook{price: big.NewInt(10000), denied: map[string]bool{"mallory": true}}
	if err := l.SetEventHooks("manager", Hooks{Purchase: hook}); err != nil {
		t.Fatalf("Failed to set hooks: %v", err)
	}
	fund(led, l.ID(), "mallory", 10000)

	_, err := l.Purchase(PurchaseRequest{Payer: "mallory", Recipients: []string{"mallory"}})
	if !errors.Is(err, ErrPurchaseBlockedByHook) {
		t.Errorf("Expected PURCHASE_BLOCKED_BY_HOOK, got %v", err)
	}
	if balance(led, "mallory") != 10000 {
		t.Errorf("Expected no funds moved on blocked purchase, got %d", balance(led, "mallory"))
	}
}

func TestPurchaseHookNilPrice(t *testing.T) {
	l, led, _ := newTestLock(t, testConfig(10000))
	if err := l.SetEventHooks("manager", Hooks{Purchase: nilPriceHook{}}); err != nil {
		t.Fatalf("Failed to set hooks: %v", err)
	}
	fund(led, l.ID(), "alice", 10000)

	_, err := l.Purchase(PurchaseRequest{Payer: "alice", Recipients: []string{"alice"}})
	if !errors.Is(err, ErrInvalidHook) {
		t.Errorf("Expected INVALID_HOOK, got %v", err)
	}
}

func TestSetEventHooksManagerGated(t *testing.T) {
	l, _, _ := newTestLock(t, testConfig(10000))
	err := l.SetEventHooks("mallory", Hooks{})
	if !errors.Is(err, ErrOnlyLockManager) {
		t.Errorf("Expected ONLY_LOCK_MANAGER, got %v", err)
	}
}

func TestHookMinimumPriceAllowsTip(t *testing.T) {
	l, led, _ := newTestLock(t, testConfig(10000))
	hook := &discountHook{price: big.NewInt(2000)}
	if err := l.SetEventHooks("manager", Hooks{Purchase: hook}); err != nil {
		t.Fatalf("Failed to set hooks: %v", err)
	}
	fund(led, l.ID(), "alice", 3000)

	// 3000 is above the hook's 2000 minimum: accepted as a tip.
	_, err := l.Purchase(PurchaseRequest{
		Payer:      "alice",
		Recipients: []string{"alice"},
		Amounts:    []*big.Int{big.NewInt(3000)},
	})
	if err != nil {
		t.Fatalf("Failed to tip above hook price: %v", err)
	}

	// 1000 is below it: rejected even though the configured price is moot.
	fund(led, l.ID(), "bob", 1000)
	_, err = l.Purchase(PurchaseRequest{
		Payer:      "bob",
		Recipients: []string{"bob"},
		Amounts:    []*big.Int{big.NewInt(1000)},
	})
	if !errors.Is(err, ErrInsufficientErc20Value) {
		t.Errorf("Expected INSUFFICIENT_ERC20_VALUE below hook price, got %v", err)
	}
}
