package lock

import (
	"sort"

	"memberlock.app/cloud/models"
	"memberlock.app/cloud/token"
)

// Snapshot captures the lock's full persistable state under the current
// schema version. The event journal is persisted separately.
func (l *Lock) Snapshot() *models.LockSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := &models.LockSnapshot{
		SchemaVersion: SchemaVersion,
		LockID:        l.id,
		Config:        copyConfig(l.cfg),
		NextTokenID:   l.reg.nextID,
		Beneficiary:   l.roles.beneficiary,
	}
	for _, k := range l.reg.keys {
		snap.Keys = append(snap.Keys, copyKey(k))
	}
	sort.Slice(snap.Keys, func(i, j int) bool { return snap.Keys[i].TokenID < snap.Keys[j].TokenID })
	for m := range l.roles.managers {
		snap.Managers = append(snap.Managers, m)
	}
	sort.Strings(snap.Managers)
	for g := range l.roles.granters {
		snap.Granters = append(snap.Granters, g)
	}
	sort.Strings(snap.Granters)
	if len(l.reg.approved) > 0 {
		snap.ApprovedSpenders = make(map[uint64]string, len(l.reg.approved))
		for id, s := range l.reg.approved {
			snap.ApprovedSpenders[id] = s
		}
	}
	if len(l.reg.operators) > 0 {
		snap.Operators = make(map[string]map[string]bool, len(l.reg.operators))
		for owner, ops := range l.reg.operators {
			inner := make(map[string]bool, len(ops))
			for op, v := range ops {
				inner[op] = v
			}
			snap.Operators[owner] = inner
		}
	}
	return snap
}

// Restore rebuilds a lock from a snapshot. Older layouts are migrated
// first; snapshots newer than the engine are rejected by the caller before
// Restore runs (internal/version gates that).
func Restore(snap *models.LockSnapshot, ledger token.Ledger, clock Clock) (*Lock, error) {
	migrated, err := MigrateSnapshot(snap)
	if err != nil {
		return nil, err
	}
	snap = migrated

	cfg := copyConfig(snap.Config)
	if err := normalizeConfig(&cfg); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	l := &Lock{
		id:     snap.LockID,
		cfg:    cfg,
		clock:  clock,
		ledger: ledger,
		reg:    newRegistry(),
		roles: &roleSet{
			managers:    make(map[string]bool),
			granters:    make(map[string]bool),
			beneficiary: snap.Beneficiary,
		},
	}
	for _, m := range snap.Managers {
		l.roles.managers[m] = true
	}
	for _, g := range snap.Granters {
		l.roles.granters[g] = true
	}
	for i := range snap.Keys {
		k := copyKey(&snap.Keys[i])
		kc := k
		l.reg.keys[kc.TokenID] = &kc
		if kc.Owner != "" {
			l.reg.totalSupply++
			l.reg.incBalance(kc.Owner)
		}
	}
	l.reg.nextID = snap.NextTokenID
	if l.reg.nextID == 0 {
		l.reg.nextID = 1
	}
	for id, s := range snap.ApprovedSpenders {
		l.reg.approved[id] = s
	}
	for owner, ops := range snap.Operators {
		for op, v := range ops {
			if v {
				l.reg.setOperator(owner, op, true)
			}
		}
	}
	return l, nil
}
