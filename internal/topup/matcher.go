package topup

import (
	"sync"

	"github.com/xstbot/topup/internal/feed"
)

// dedupSet tracks settlement record ids that have already satisfied a
// transaction. Entries are never removed individually; the whole set
// is reset once it outgrows its cap. The feed is at-least-once and may
// replay or reorder records, so exactly-once matching rests entirely
// on this set.
type dedupSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newDedupSet() *dedupSet {
	return &dedupSet{ids: make(map[string]struct{})}
}

// Claim marks an external id as consumed. Reports false if some other
// transaction already claimed it.
func (d *dedupSet) Claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.ids[id]; taken {
		return false
	}

	d.ids[id] = struct{}{}

	return true
}

// ResetIfAbove clears the whole set once it exceeds cap. Coarse on
// purpose: paid amounts stay reserved until end of day, which keeps
// the re-match window after a reset narrow.
func (d *dedupSet) ResetIfAbove(cap int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ids) <= cap {
		return false
	}

	d.ids = make(map[string]struct{})

	return true
}

// matchRecord selects the first record in feed order that settled at
// or after the transaction was created, carries exactly the
// disambiguated total, and has not been consumed before. claim is
// invoked for the candidate id and must atomically take ownership of
// it; a lost claim moves on to the next record.
func matchRecord(tx Transaction, records []feed.Record, claim func(string) bool) (PaymentDetails, bool) {
	for _, rec := range records {
		if rec.Time.Before(tx.CreatedAt) || rec.Amount != tx.TotalAmount {
			continue
		}

		if !claim(rec.ExternalID) {
			continue
		}

		return PaymentDetails{
			ExternalID: rec.ExternalID,
			PaidAt:     rec.Time,
			Method:     rec.Method,
		}, true
	}

	return PaymentDetails{}, false
}
