// Package token models the settlement-token boundary of a lock: an
// ERC-20-style ledger with balances, pull-based transfers and allowances,
// plus a native-asset ledger without allowance support.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Ledger is what the engine sees of a settlement token.
type Ledger interface {
	// Pullable reports whether the ledger supports allowance-based pulls.
	// The native-asset ledger does not, which is why native locks cannot
	// auto-renew.
	Pullable() bool

	BalanceOf(addr string) *big.Int
	Allowance(owner, spender string) *big.Int

	// Transfer moves funds the holder already controls.
	Transfer(from, to string, amount *big.Int) error
	// TransferFrom moves funds on behalf of spender, consuming allowance.
	TransferFrom(spender, from, to string, amount *big.Int) error
}

type memoryLedger struct {
	mu        sync.Mutex
	pullable  bool
	balances  map[string]*big.Int
	allowance map[string]map[string]*big.Int
}

// NewLedger returns an in-memory ERC-20-style ledger.
func NewLedger() *memoryLedger {
	return &memoryLedger{
		pullable:  true,
		balances:  make(map[string]*big.Int),
		allowance: make(map[string]map[string]*big.Int),
	}
}

// Native returns an in-memory native-asset ledger (no allowances).
func Native() *memoryLedger {
	l := NewLedger()
	l.pullable = false
	return l
}

func (l *memoryLedger) Pullable() bool { return l.pullable }

func (l *memoryLedger) BalanceOf(addr string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *memoryLedger) Allowance(owner, spender string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowance[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint credits addr out of thin air. Test and bootstrap helper.
func (l *memoryLedger) Mint(addr string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
}

// Approve lets spender pull up to amount from owner.
func (l *memoryLedger) Approve(owner, spender string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowance[owner] == nil {
		l.allowance[owner] = make(map[string]*big.Int)
	}
	l.allowance[owner][spender] = new(big.Int).Set(amount)
}

func (l *memoryLedger) Transfer(from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

func (l *memoryLedger) TransferFrom(spender, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if !l.pullable {
		return fmt.Errorf("native ledger: %w", ErrInsufficientAllowance)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if spender != from {
		a := l.allowance[from][spender]
		if a == nil || a.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		a.Sub(a, amount)
	}
	return l.move(from, to, amount)
}

func (l *memoryLedger) move(from, to string, amount *big.Int) error {
	b := l.balances[from]
	if b == nil || b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	l.credit(to, amount)
	return nil
}

func (l *memoryLedger) credit(addr string, amount *big.Int) {
	if b, ok := l.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[addr] = new(big.Int).Set(amount)
}
