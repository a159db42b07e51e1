package lock

import (
	"errors"
	"testing"

	"memberlock.app/cloud/models"
)

func TestRefundDecaysLinearly(t *testing.T) {
	l, led, clock := newTestLock(t, testConfig(9000))
	fund(led, l.ID(), "alice", 9000)
	id := buy(t, l, "alice")

	thirds := []struct {
		elapsed uint64
		want    uint64
	}{
		{0, 9000},
		{10 * day, 6000},
		{20 * day, 3000},
		{30 * day, 0},
		{45 * day, 0},
	}
	start := clock.now
	for _, tc := range thirds {
		clock.now = start + tc.elapsed
		refund, err := l.RefundFor(id)
		if err != nil {
			t.Fatalf("RefundFor failed: %v", err)
		}
		if refund.Uint64() != tc.want {
			t.Errorf("At +%ds: expected refund %d, got %s", tc.elapsed, tc.want, refund)
		}
	}
}

func TestRefundNeverExceedsPricePaid(t *testing.T) {
	l, led, clock := newTestLock(t, testConfig(10000))
	fund(led, l.ID(), "alice", 30000)
	id := buy(t, l, "alice")

	// Stacked extensions push the expiration past one duration from now;
	// the refund still caps at the price of one term.
	if err := l.Extend("alice", id, nil, "", nil); err != nil {
		t.Fatalf("Failed to extend: %v", err)
	}
	clock.advance(day)
	refund, err := l.RefundFor(id)
	if err != nil {
		t.Fatalf("RefundFor failed: %v", err)
	}
	if refund.Uint64() > 10000 {
		t.Errorf("Expected refund capped at 10000, got %s", refund)
	}
}

func TestRefundNonExpiringKey(t *testing.T) {
	cfg := testConfig(10000)
	cfg.ExpirationDuration = models.DurationInfinite
	cfg.RefundPenaltyBasisPoints = 2500
	l, led, clock := newTestLock(t, cfg)
	fund(led, l.ID(), "alice", 10000)
	id := buy(t, l, "alice")

	clock.advance(1000 * day)
	refund, err := l.RefundFor(id)
	if err != nil {
		t.Fatalf("RefundFor failed: %v", err)
	}
	if refund.Uint64() != 10000 {
		t.Errorf("Expected full refund on non-expiring key, got %s", refund)
	}
}

func TestRefundGrantedKeyIsZero(t *testing.T) {
	l, _, _ := newTestLock(t, testConfig(10000))
	ids, err := l.GrantKeys("manager", []string{"alice"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}
	refund, err := l.RefundFor(ids[0])
	if err != nil {
		t.Fatalf("RefundFor failed: %v", err)
	}
	if refund.Sign() != 0 {
		t.Errorf("Expected zero refund for a free key, got %s", refund)
	}
}

func TestRefundUnknownKey(t *testing.T) {
	l, _, _ := newTestLock(t, testConfig(10000))
	if _, err := l.RefundFor(42); !errors.Is(err, ErrNoSuchKey) {
		t.Errorf("Expected NO_SUCH_KEY, got %v", err)
	}
}

func TestUpdateRefundPenaltyApplies(t *testing.T) {
	l, led, _ := newTestLock(t, testConfig(10000))
	fund(led, l.ID(), "alice", 10000)
	id := buy(t, l, "alice")

	if err := l.UpdateRefundPenalty("mallory", 0, 1000); !errors.Is(err, ErrOnlyLockManager) {
		t.Errorf("Expected ONLY_LOCK_MANAGER, got %v", err)
	}
	if err := l.UpdateRefundPenalty("manager", 0, 1000); err != nil {
		t.Fatalf("Failed to update penalty: %v", err)
	}
	refund, err := l.RefundFor(id)
	if err != nil {
		t.Fatalf("RefundFor failed: %v", err)
	}
	if refund.Uint64() != 9000 {
		t.Errorf("Expected 9000 after 10%% penalty, got %s", refund)
	}
}
