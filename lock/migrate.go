package lock

import (
	"fmt"
	"math/big"

	"memberlock.app/cloud/models"
)

// MigrateSnapshot upgrades a stored snapshot to the current schema.
// Idempotent: a snapshot already at the current version comes back
// unchanged. Snapshots from a newer engine are refused.
//
// Version 1 predates the key-manager delegate, per-key issuance terms and
// the repeat-purchase policy; the migration fills the defaults a version-1
// lock behaved under.
func MigrateSnapshot(snap *models.LockSnapshot) (*models.LockSnapshot, error) {
	if snap == nil {
		return nil, ErrNullValue
	}
	switch {
	case snap.SchemaVersion == SchemaVersion:
		return snap, nil
	case snap.SchemaVersion > SchemaVersion:
		return nil, fmt.Errorf("snapshot schema %d newer than engine schema %d: %w",
			snap.SchemaVersion, SchemaVersion, ErrLockHasChanged)
	case snap.SchemaVersion < 1:
		return nil, fmt.Errorf("snapshot schema %d: %w", snap.SchemaVersion, ErrNullValue)
	}

	out := *snap
	out.SchemaVersion = SchemaVersion
	if out.Config.KeyPrice == nil {
		out.Config.KeyPrice = new(big.Int)
	}
	if out.Config.MaxKeysPerAddress == 0 {
		out.Config.MaxKeysPerAddress = 1
	}
	if out.Config.RepeatPurchase == "" {
		out.Config.RepeatPurchase = models.RepeatExtend
	}
	out.Keys = make([]models.Key, len(snap.Keys))
	for i, k := range snap.Keys {
		if k.PricePaid == nil {
			k.PricePaid = new(big.Int).Set(out.Config.KeyPrice)
		}
		if k.Duration == 0 {
			k.Duration = out.Config.ExpirationDuration
		}
		if k.Token == "" {
			k.Token = out.Config.SettlementToken
		}
		out.Keys[i] = k
	}
	return &out, nil
}
