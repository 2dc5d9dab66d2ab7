// internal/health/aggregator.go
package health

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Store persists aggregated call counts. Implemented by *database.Repository.
type Store interface {
	UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error
}

// Aggregator holds transport call stats in memory to reduce database writes.
type Aggregator struct {
	store              Store
	serviceName        string
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
}

// NewAggregator creates a new health aggregator.
func NewAggregator(store Store, serviceName string) *Aggregator {
	return &Aggregator{
		store:       store,
		serviceName: serviceName,
	}
}

// RecordCall increments the in-memory counters for a transport call. Safe on a nil Aggregator.
func (a *Aggregator) RecordCall(success bool) {
	if a == nil {
		return
	}
	a.totalRequests.Add(1)
	if success {
		a.successfulRequests.Add(1)
	}
}

// Pending returns the counts recorded since the last flush.
func (a *Aggregator) Pending() (total, successful uint64) {
	return a.totalRequests.Load(), a.successfulRequests.Load()
}

// FlushToDB writes the aggregated counts to the store and resets the counters.
// On failure the counts are added back so the next flush retries them.
func (a *Aggregator) FlushToDB() {
	total := a.totalRequests.Swap(0)
	successful := a.successfulRequests.Swap(0)

	if total == 0 {
		return
	}

	if err := a.store.UpdateAPIHealthBulk(a.serviceName, total, successful); err != nil {
		log.Printf("ERROR: Failed to flush API health stats to DB for service %s: %v", a.serviceName, err)
		a.totalRequests.Add(total)
		a.successfulRequests.Add(successful)
	}
}

// Start flushes stats periodically until ctx is cancelled, then flushes once
// more. The returned channel is closed after that final flush.
func (a *Aggregator) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	log.Printf("Health Aggregator for '%s' started with a %s flush interval", a.serviceName, interval)
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.FlushToDB()
				return
			case <-ticker.C:
				a.FlushToDB()
			}
		}
	}()
	return done
}
