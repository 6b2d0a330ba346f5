package priosched

// Priority is an ordered scheduling tag controlling dispatch order among a
// PriorityScheduler's three DelayQueues. High and Low are starvation-fair
// against each other (see the dispatch policy in scheduler.go); Starvable
// tasks may be deferred indefinitely whenever High or Low work is ready.
type Priority int

const (
	// High is serviced ahead of Low whenever both are ready, subject to the
	// fairness burst limit that periodically forces a Low dispatch.
	High Priority = iota
	// Low is starvation-fair against High: it is guaranteed service after a
	// bounded run of consecutive High dispatches.
	Low
	// Starvable is only serviced once both High and Low are empty or not
	// yet ready. It carries no fairness guarantee; that is its defining
	// property.
	Starvable
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Low:
		return "low"
	case Starvable:
		return "starvable"
	default:
		return "unknown"
	}
}

func (p Priority) valid() bool {
	return p == High || p == Low || p == Starvable
}
