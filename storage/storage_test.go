package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"memberlock.app/cloud/lock"
	"memberlock.app/cloud/models"
)

func testSnapshot(id string) *models.LockSnapshot {
	return &models.LockSnapshot{
		SchemaVersion: lock.SchemaVersion,
		LockID:        id,
		Config: models.LockConfig{
			Name:               "Stored Lock",
			ExpirationDuration: 2592000,
			KeyPrice:           big.NewInt(10000),
			MaxNumberOfKeys:    models.KeysUnlimited,
			MaxKeysPerAddress:  1,
			SettlementToken:    "USDT",
			RepeatPurchase:     models.RepeatExtend,
		},
		Keys: []models.Key{
			{TokenID: 1, Owner: "alice", Expiration: 2_000_000, PricePaid: big.NewInt(10000), Duration: 2592000, Token: "USDT"},
		},
		NextTokenID: 2,
		Beneficiary: "manager",
		Managers:    []string{"manager"},
	}
}

func testEvent(id, lockID, kind string, at uint64) models.Event {
	return models.Event{ID: id, LockID: lockID, Kind: kind, Actor: "alice", CreatedAt: at}
}

func runStorageSuite(t *testing.T, store Storage) {
	ctx := context.Background()

	t.Run("LockRoundTrip", func(t *testing.T) {
		snap := testSnapshot("lock1")
		if err := store.SaveLock(ctx, snap); err != nil {
			t.Fatalf("Failed to save lock: %v", err)
		}

		got, err := store.GetLock(ctx, "lock1")
		if err != nil {
			t.Fatalf("Failed to get lock: %v", err)
		}
		if got == nil {
			t.Fatalf("Expected snapshot, got nil")
		}
		if got.LockID != "lock1" {
			t.Errorf("Expected lock id lock1, got %s", got.LockID)
		}
		if got.Config.KeyPrice.Cmp(big.NewInt(10000)) != 0 {
			t.Errorf("Expected key price 10000, got %s", got.Config.KeyPrice)
		}
		if len(got.Keys) != 1 || got.Keys[0].Owner != "alice" {
			t.Errorf("Expected alice's key round-tripped, got %+v", got.Keys)
		}

		// Overwrite is an upsert.
		snap.Config.Name = "Renamed"
		if err := store.SaveLock(ctx, snap); err != nil {
			t.Fatalf("Failed to overwrite lock: %v", err)
		}
		got, _ = store.GetLock(ctx, "lock1")
		if got.Config.Name != "Renamed" {
			t.Errorf("Expected overwrite to stick, got %s", got.Config.Name)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		got, err := store.GetLock(ctx, "missing")
		if err != nil {
			t.Errorf("Expected no error for missing lock, got %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil for missing lock, got %+v", got)
		}
	})

	t.Run("ListLocks", func(t *testing.T) {
		if err := store.SaveLock(ctx, testSnapshot("lock2")); err != nil {
			t.Fatalf("Failed to save lock: %v", err)
		}
		ids, err := store.ListLocks(ctx)
		if err != nil {
			t.Fatalf("Failed to list locks: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("Expected 2 locks, got %d (%v)", len(ids), ids)
		}
	})

	t.Run("Events", func(t *testing.T) {
		events := []models.Event{
			testEvent("ev1", "lock1", models.EventPurchase, 100),
			testEvent("ev2", "lock1", models.EventCancel, 200),
			testEvent("ev3", "lock2", models.EventPurchase, 150),
		}
		if err := store.AppendEvents(ctx, events); err != nil {
			t.Fatalf("Failed to append events: %v", err)
		}
		if err := store.AppendEvents(ctx, nil); err != nil {
			t.Errorf("Expected empty append to pass, got %v", err)
		}

		got, err := store.EventsForLock(ctx, "lock1")
		if err != nil {
			t.Fatalf("Failed to load events: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 events for lock1, got %d", len(got))
		}
		if got[0].Kind != models.EventPurchase || got[1].Kind != models.EventCancel {
			t.Errorf("Expected events in emission order, got %s then %s", got[0].Kind, got[1].Kind)
		}
		if got[0].Actor != "alice" {
			t.Errorf("Expected actor round-tripped, got %s", got[0].Actor)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, NewMemoryStorage())
}

func TestSQLiteStorage(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	defer store.Close()
	runStorageSuite(t, store)
}

func TestMemoryStorageDetachesSnapshots(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	snap := testSnapshot("lock1")
	if err := store.SaveLock(ctx, snap); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	snap.Keys[0].Owner = "tampered"
	got, _ := store.GetLock(ctx, "lock1")
	if got.Keys[0].Owner != "alice" {
		t.Errorf("Expected stored copy detached from the saved value, got %s", got.Keys[0].Owner)
	}

	got.Keys[0].Owner = "tampered-again"
	again, _ := store.GetLock(ctx, "lock1")
	if again.Keys[0].Owner != "alice" {
		t.Errorf("Expected reads detached from each other, got %s", again.Keys[0].Owner)
	}
}

func TestSQLiteMigratesOldSnapshotsOnLoad(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	v1 := testSnapshot("legacy")
	v1.SchemaVersion = 1
	v1.Config.MaxKeysPerAddress = 0
	v1.Config.RepeatPurchase = ""
	v1.Keys[0].PricePaid = nil
	v1.Keys[0].Duration = 0
	v1.Keys[0].Token = ""
	if err := store.SaveLock(ctx, v1); err != nil {
		t.Fatalf("Failed to save v1 snapshot: %v", err)
	}

	got, err := store.GetLock(ctx, "legacy")
	if err != nil {
		t.Fatalf("Failed to load v1 snapshot: %v", err)
	}
	if got.SchemaVersion != lock.SchemaVersion {
		t.Errorf("Expected snapshot migrated to %d, got %d", lock.SchemaVersion, got.SchemaVersion)
	}
	if got.Config.MaxKeysPerAddress != 1 {
		t.Errorf("Expected per-address cap backfilled, got %d", got.Config.MaxKeysPerAddress)
	}
	if got.Keys[0].PricePaid == nil || got.Keys[0].PricePaid.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("Expected issuance price backfilled, got %v", got.Keys[0].PricePaid)
	}
}

func TestSQLiteRefusesNewerSchema(t *testing.T) {
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	future := testSnapshot("future")
	future.SchemaVersion = lock.SchemaVersion + 1
	if err := store.SaveLock(ctx, future); err != nil {
		t.Fatalf("Failed to save future snapshot: %v", err)
	}
	if _, err := store.GetLock(ctx, "future"); err == nil {
		t.Errorf("Expected newer-schema snapshot refused on load")
	}
}
