package lock

import "memberlock.app/cloud/models"

// roleSet is the native role membership of a lock. The optional RoleHook is
// consulted on top of it: hook answers are ORed in, never ANDed, so native
// roles survive a broken hook.
type roleSet struct {
	managers    map[string]bool
	granters    map[string]bool
	beneficiary string
}

func newRoleSet(initialManager string) *roleSet {
	return &roleSet{
		managers:    map[string]bool{initialManager: true},
		granters:    make(map[string]bool),
		beneficiary: initialManager,
	}
}

func (l *Lock) isLockManager(addr string) bool {
	if l.roles.managers[addr] {
		return true
	}
	return l.hooks.Role != nil && l.hooks.Role.HasRole(RoleLockManager, addr)
}

func (l *Lock) isKeyGranter(addr string) bool {
	if l.roles.granters[addr] {
		return true
	}
	return l.hooks.Role != nil && l.hooks.Role.HasRole(RoleKeyGranter, addr)
}

func (l *Lock) isBeneficiary(addr string) bool {
	return addr != "" && addr == l.roles.beneficiary
}

// canActOnKey reports whether caller may manage the given key: its owner,
// its key manager, its single approved spender, or an operator the owner
// approved for all tokens.
func (l *Lock) canActOnKey(caller string, k *models.Key) bool {
	if caller == "" {
		return false
	}
	if caller == k.Owner || (k.KeyManager != "" && caller == k.KeyManager) {
		return true
	}
	if l.reg.approved[k.TokenID] == caller {
		return true
	}
	return l.reg.isOperator(k.Owner, caller)
}

// IsLockManager is the exported role query.
func (l *Lock) IsLockManager(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLockManager(addr)
}

// IsKeyGranter is the exported role query.
func (l *Lock) IsKeyGranter(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isKeyGranter(addr)
}

// Beneficiary returns the withdrawal address.
func (l *Lock) Beneficiary() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roles.beneficiary
}

// AddLockManager grants the LockManager role. Manager-gated.
func (l *Lock) AddLockManager(caller, addr string) error {
	return l.grantRole(caller, addr, l.roles.managers, "lock_manager")
}

// AddKeyGranter grants the KeyGranter role. Manager-gated.
func (l *Lock) AddKeyGranter(caller, addr string) error {
	return l.grantRole(caller, addr, l.roles.granters, "key_granter")
}

// RevokeKeyGranter removes the KeyGranter role. Manager-gated.
func (l *Lock) RevokeKeyGranter(caller, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	l.opNow = l.clock.Now()
	delete(l.roles.granters, addr)
	l.emit(eventSpec{kind: models.EventRoleRevoke, actor: caller, recipient: addr, note: "key_granter"})
	return nil
}

// RenounceLockManager drops the caller's own LockManager role.
func (l *Lock) RenounceLockManager(caller string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.roles.managers[caller] {
		return ErrOnlyLockManager
	}
	l.opNow = l.clock.Now()
	delete(l.roles.managers, caller)
	l.emit(eventSpec{kind: models.EventRoleRevoke, actor: caller, recipient: caller, note: "lock_manager"})
	return nil
}

// SetBeneficiary redirects withdrawals. Manager-gated.
func (l *Lock) SetBeneficiary(caller, addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if addr == "" {
		return ErrInvalidAddress
	}
	l.opNow = l.clock.Now()
	l.roles.beneficiary = addr
	l.emit(eventSpec{kind: models.EventRoleGrant, actor: caller, recipient: addr, note: "beneficiary"})
	return nil
}

func (l *Lock) grantRole(caller, addr string, set map[string]bool, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isLockManager(caller) {
		return ErrOnlyLockManager
	}
	if addr == "" {
		return ErrInvalidAddress
	}
	l.opNow = l.clock.Now()
	set[addr] = true
	l.emit(eventSpec{kind: models.EventRoleGrant, actor: caller, recipient: addr, note: note})
	return nil
}
