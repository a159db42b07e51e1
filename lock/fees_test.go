package lock

import (
	"errors"
	"testing"

	"memberlock.app/cloud/models"
)

func TestFeeForFixedPoints(t *testing.T) {
	cfg := testConfig(10000)
	cfg.ExpirationDuration = 730 * day
	cfg.TransferFeeBasisPoints = 500
	l, _, _ := newTestLock(t, cfg)
	ids, err := l.GrantKeys("manager", []string{"alice"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}
	id := ids[0]

	cases := []struct {
		duration uint64
		want     uint64
	}{
		{100, 5},
		{31536000, 1576800},
		{2592000, 129600},
	}
	for _, tc := range cases {
		got, err := l.FeeFor(id, tc.duration)
		if err != nil {
			t.Fatalf("FeeFor(%d) failed: %v", tc.duration, err)
		}
		if got != tc.want {
			t.Errorf("FeeFor(%d): expected %d, got %d", tc.duration, tc.want, got)
		}
		if got > tc.duration {
			t.Errorf("FeeFor(%d): fee %d exceeds the time moved", tc.duration, got)
		}
	}
}

func TestFeeForClampsToRemaining(t *testing.T) {
	cfg := testConfig(10000)
	cfg.TransferFeeBasisPoints = 500
	l, _, _ := newTestLock(t, cfg)
	ids, err := l.GrantKeys("manager", []string{"alice"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}

	// Asking for more time than the key has prices the whole remainder.
	whole, _ := l.FeeFor(ids[0], 0)
	over, _ := l.FeeFor(ids[0], 365*day)
	if whole != over {
		t.Errorf("Expected clamped fee %d, got %d", whole, over)
	}
	want := uint64(30*day) * 500 / 10000
	if whole != want {
		t.Errorf("Expected whole-key fee %d, got %d", want, whole)
	}
}

func TestFeeForExpiredAndNonExpiring(t *testing.T) {
	cfg := testConfig(10000)
	cfg.TransferFeeBasisPoints = 500
	l, _, clock := newTestLock(t, cfg)
	ids, err := l.GrantKeys("manager", []string{"alice"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}
	clock.advance(45 * day)
	got, err := l.FeeFor(ids[0], 100)
	if err != nil {
		t.Fatalf("FeeFor on expired key failed: %v", err)
	}
	if got != 0 {
		t.Errorf("Expected zero fee on expired key, got %d", got)
	}

	forever, err := l.GrantKeys("manager", []string{"bob"}, []uint64{models.ExpirationNever}, nil)
	if err != nil {
		t.Fatalf("Failed to grant non-expiring key: %v", err)
	}
	got, err = l.FeeFor(forever[0], 100)
	if err != nil {
		t.Fatalf("FeeFor on non-expiring key failed: %v", err)
	}
	if got != 0 {
		t.Errorf("Expected zero fee on non-expiring key, got %d", got)
	}
}

func TestFeeForUnknownKey(t *testing.T) {
	l, _, _ := newTestLock(t, testConfig(10000))
	if _, err := l.FeeFor(99, 100); !errors.Is(err, ErrNoSuchKey) {
		t.Errorf("Expected NO_SUCH_KEY, got %v", err)
	}
}

func TestFeeMonotonicInDuration(t *testing.T) {
	cfg := testConfig(10000)
	cfg.ExpirationDuration = 730 * day
	cfg.TransferFeeBasisPoints = 137
	l, _, _ := newTestLock(t, cfg)
	ids, err := l.GrantKeys("manager", []string{"alice"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}

	prev := uint64(0)
	for _, d := range []uint64{1, 100, 3600, day, 30 * day, 365 * day} {
		fee, err := l.FeeFor(ids[0], d)
		if err != nil {
			t.Fatalf("FeeFor(%d) failed: %v", d, err)
		}
		if fee < prev {
			t.Errorf("Fee decreased from %d to %d at duration %d", prev, fee, d)
		}
		prev = fee
	}
}
