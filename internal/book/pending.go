package book

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/icewatch/internal/domain"
)

// PendingRefillCheck is a trade waiting for its post-trade book
// confirmation: if a diff restores the consumed level within the refill
// horizon, the pair goes to the iceberg detector.
type PendingRefillCheck struct {
	Trade         domain.Trade
	VisibleBefore decimal.Decimal
	TradeTimeMs   int64
	Price         decimal.Decimal
	IsAsk         bool
}

// PendingRefillQueue holds refill candidates, ordered by trade time. It
// replaces the implicit continuation between a trade and the diff that
// follows it. Candidates outlive the detector's reject horizon slightly
// (retention 100 ms vs 50 ms cap) so late diffs are classified as
// not-a-refill instead of silently unmatched.
type PendingRefillQueue struct {
	checks      []PendingRefillCheck
	retentionMs int64
}

// NewPendingRefillQueue creates a queue with the given retention window in
// exchange milliseconds.
func NewPendingRefillQueue(retentionMs int64) *PendingRefillQueue {
	return &PendingRefillQueue{retentionMs: retentionMs}
}

// Add enqueues a refill candidate for the given trade.
func (q *PendingRefillQueue) Add(t domain.Trade, visibleBefore decimal.Decimal) {
	q.checks = append(q.checks, PendingRefillCheck{
		Trade:         t,
		VisibleBefore: visibleBefore,
		TradeTimeMs:   t.EventTimeMs,
		Price:         t.Price,
		IsAsk:         !t.IsBuyerMaker,
	})
}

// GC drops candidates older than the retention window. Called on every new
// trade; nowMs is exchange time.
func (q *PendingRefillQueue) GC(nowMs int64) {
	cutoff := nowMs - q.retentionMs
	i := 0
	for i < len(q.checks) && q.checks[i].TradeTimeMs < cutoff {
		i++
	}
	if i > 0 {
		q.checks = append(q.checks[:0], q.checks[i:]...)
	}
}

// Len returns the number of pending candidates.
func (q *PendingRefillQueue) Len() int { return len(q.checks) }

// Scan visits every candidate. The callback returns true to consume the
// candidate (remove it from the queue), false to keep it for a later diff.
func (q *PendingRefillQueue) Scan(fn func(c PendingRefillCheck) (consume bool)) {
	kept := q.checks[:0]
	for _, c := range q.checks {
		if !fn(c) {
			kept = append(kept, c)
		}
	}
	q.checks = kept
}

// Clear drops every candidate, used on resync.
func (q *PendingRefillQueue) Clear() {
	q.checks = q.checks[:0]
}
