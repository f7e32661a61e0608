package topup

import (
	"math/rand"
	"sync"
	"time"
)

// reservation holds a total amount within one day bucket. While the
// reservation is live no other transaction may be issued the same
// total, which is what makes settlement records attributable.
type reservation struct {
	bucket time.Time
	until  time.Time
}

// reservations is the amount-disambiguation table. At most one live
// reservation exists per total amount per day bucket.
type reservations struct {
	mu        sync.Mutex
	byAmount  map[int64]reservation
	suffixMin int64
	suffixMax int64
	attempts  int
	hold      time.Duration
	randInt   func(n int64) int64
}

func newReservations(suffixMin, suffixMax int64, attempts int, hold time.Duration) *reservations {
	return &reservations{
		byAmount:  make(map[int64]reservation),
		suffixMin: suffixMin,
		suffixMax: suffixMax,
		attempts:  attempts,
		hold:      hold,
		randInt:   rand.Int63n,
	}
}

// Reserve draws a uniform suffix, computes the total and reserves it
// for the pending-transaction window if free. The reservation is taken
// before the caller encodes anything, closing the race between two
// concurrent requests landing on the same total. Exhausting the
// attempt budget returns SuffixExhaustedError rather than blocking.
func (r *reservations) Reserve(amount int64, now time.Time) (suffix, total int64, err error) {
	bucket := dayBucket(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < r.attempts; attempt++ {
		suffix = r.suffixMin + r.randInt(r.suffixMax-r.suffixMin+1)
		total = amount + suffix

		existing, ok := r.byAmount[total]
		if ok && existing.bucket.Equal(bucket) && !now.After(existing.until) {
			continue
		}

		r.byAmount[total] = reservation{bucket: bucket, until: now.Add(r.hold)}

		return suffix, total, nil
	}

	return 0, 0, &SuffixExhaustedError{Attempts: r.attempts}
}

// Release frees a total immediately. Used on encode failure and on
// expiry.
func (r *reservations) Release(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byAmount, total)
}

// HoldToDayEnd extends a reservation to the end of its day bucket.
// Applied after payment so a delayed duplicate settlement record
// cannot be claimed by a newly created transaction at the same total.
func (r *reservations) HoldToDayEnd(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byAmount[total]
	if !ok {
		return
	}

	existing.until = existing.bucket.Add(24 * time.Hour)
	r.byAmount[total] = existing
}

// Sweep drops reservations that are past their hold or belong to an
// earlier day bucket.
func (r *reservations) Sweep(now time.Time) {
	bucket := dayBucket(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	for total, res := range r.byAmount {
		if now.After(res.until) || !res.bucket.Equal(bucket) {
			delete(r.byAmount, total)
		}
	}
}
