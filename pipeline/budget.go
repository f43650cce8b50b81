package pipeline

// Budget is a deterministic frame budget expressed in abstract work units,
// never wall-clock time, so scheduling stays replayable.
type Budget struct {
	remaining uint32
}

// NewBudget returns a budget with the given number of work units.
func NewBudget(units uint32) *Budget {
	return &Budget{remaining: units}
}

// Unlimited returns a practically unbounded (still deterministic) budget.
func Unlimited() *Budget {
	return &Budget{remaining: ^uint32(0)}
}

// Remaining returns the unconsumed work units.
func (b *Budget) Remaining() uint32 { return b.remaining }

// Exhausted reports whether no units remain.
func (b *Budget) Exhausted() bool { return b.remaining == 0 }

// TryConsume consumes units if available and reports success.
func (b *Budget) TryConsume(units uint32) bool {
	if b.remaining < units {
		return false
	}
	b.remaining -= units
	return true
}
