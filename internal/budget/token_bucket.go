// Package budget implements a token-bucket rate limiter guarding uplink
// command processing: a burst of malformed or hostile command frames must
// not be able to drive the core into continuous reset/mode-change churn.
//
// Unlike a typical token bucket, refill is not driven by a background
// goroutine — the flight core is single-threaded and cooperative, so the
// bucket refills synchronously when Consume observes that a refill period
// has elapsed on the caller-supplied clock reading. This is the same
// clock-driven-instead-of-goroutine-driven transformation internal/sched
// applies to its deadline monitoring.
//
// Cost model: every category costs 1 token except an authorized reset
// command, which costs costReset — a single burst of forged/replayed
// reset frames should exhaust the budget well before it can cycle the
// spacecraft repeatedly.
package budget

import (
	"sync"

	"github.com/cheesejaguar/smartqso/internal/cmdframe"
)

const costReset = 20

// Bucket is a thread-safe (mutex-guarded, not lock-free) token bucket.
type Bucket struct {
	mu sync.Mutex

	capacity     int
	tokens       int
	refillMS     uint64
	lastRefillMS uint64

	consumedTotal uint64
	refillCount   uint64
}

// New creates a Bucket with the given capacity, full at construction.
// capacity and refillMS must be > 0.
func New(capacity int, refillMS uint64, nowMS uint64) *Bucket {
	if capacity <= 0 {
		panic("budget.Bucket: capacity must be > 0")
	}
	if refillMS == 0 {
		panic("budget.Bucket: refillMS must be > 0")
	}
	return &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillMS:     refillMS,
		lastRefillMS: nowMS,
	}
}

// maybeRefillLocked refills to full capacity if a refill period has
// elapsed since the last refill, caller holds mu.
func (b *Bucket) maybeRefillLocked(nowMS uint64) {
	if nowMS < b.lastRefillMS || nowMS-b.lastRefillMS < b.refillMS {
		return
	}
	b.tokens = b.capacity
	b.lastRefillMS = nowMS
	b.refillCount++
}

// Consume attempts to consume cost tokens, first refilling if due at
// nowMS. Returns true if the tokens were available and consumed.
func (b *Bucket) Consume(nowMS uint64, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRefillLocked(nowMS)
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal += uint64(cost)
		return true
	}
	return false
}

// AcceptCommand consumes the standard cost for cmd: costReset for an
// authorized reset command, 1 token otherwise.
func (b *Bucket) AcceptCommand(nowMS uint64, cmd cmdframe.Command) bool {
	cost := 1
	if cmd.IsAuthorizedReset() {
		cost = costReset
	}
	return b.Consume(nowMS, cost)
}

// Remaining returns the current token count without triggering a refill.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity.
func (b *Bucket) Capacity() int {
	return b.capacity
}

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumedTotal
}

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refillCount
}
