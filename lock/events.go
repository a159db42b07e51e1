package lock

import (
	"math/big"

	"github.com/google/uuid"

	"memberlock.app/cloud/models"
)

type eventSpec struct {
	kind      string
	actor     string
	tokenIDs  []uint64
	amount    *big.Int
	newExp    uint64
	referrer  string
	recipient string
	note      string
}

// emit appends a journal record. Callers hold l.mu and only emit after the
// operation can no longer fail, so the journal never records a rolled-back
// transition.
func (l *Lock) emit(spec eventSpec) {
	ev := models.Event{
		ID:            uuid.NewString(),
		LockID:        l.id,
		Kind:          spec.kind,
		Actor:         spec.actor,
		TokenIDs:      spec.tokenIDs,
		NewExpiration: spec.newExp,
		Referrer:      spec.referrer,
		Recipient:     spec.recipient,
		Note:          spec.note,
		CreatedAt:     l.opNow,
	}
	if spec.amount != nil {
		ev.Amount = spec.amount.String()
	}
	l.journal = append(l.journal, ev)
}

// JournalLen returns the number of events emitted so far.
func (l *Lock) JournalLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.journal)
}

// JournalSince copies the events emitted at or after offset n.
func (l *Lock) JournalSince(n int) []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 || n > len(l.journal) {
		n = len(l.journal)
	}
	out := make([]models.Event, len(l.journal)-n)
	copy(out, l.journal[n:])
	return out
}

// Journal copies the full event journal.
func (l *Lock) Journal() []models.Event {
	return l.JournalSince(0)
}
