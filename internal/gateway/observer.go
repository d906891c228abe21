package gateway

import "time"

// Stream outcomes reported to Observer.StreamFinished. Failed streams report
// the canonical error kind instead.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// Observer receives gateway events for metrics. Implementations must be safe
// for concurrent use.
type Observer interface {
	// CatalogFetched is called once per provider per aggregation.
	CatalogFetched(provider string, duration time.Duration, err error)
	// StreamFinished is called once per brokered stream with the number of
	// chunks delivered to the consumer.
	StreamFinished(provider string, chunks uint64, outcome string)
}

type nopObserver struct{}

func (nopObserver) CatalogFetched(string, time.Duration, error) {}
func (nopObserver) StreamFinished(string, uint64, string)       {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
