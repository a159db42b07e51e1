package token

import "sync"

// Hub hands out one ledger per settlement token name. The empty name is the
// native asset.
type Hub struct {
	mu      sync.Mutex
	ledgers map[string]*memoryLedger
}

func NewHub() *Hub {
	return &Hub{ledgers: make(map[string]*memoryLedger)}
}

// Get returns the ledger for name, creating it on first use.
func (h *Hub) Get(name string) Ledger {
	return h.get(name)
}

// Memory returns the concrete in-memory ledger for name, for minting and
// approvals outside the engine.
func (h *Hub) Memory(name string) *memoryLedger {
	return h.get(name)
}

func (h *Hub) get(name string) *memoryLedger {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.ledgers[name]; ok {
		return l
	}
	var l *memoryLedger
	if name == "" {
		l = Native()
	} else {
		l = NewLedger()
	}
	h.ledgers[name] = l
	return l
}
