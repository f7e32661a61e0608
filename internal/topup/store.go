package topup

import (
	"sync"
	"time"
)

// Store owns transaction records, the owner/global pending indices and
// the per-day id counters. All of them change together, so they share
// one lock.
type Store struct {
	mu           sync.Mutex
	transactions map[string]*Transaction
	ownerActive  map[string]map[string]struct{}
	globalActive map[string]struct{}
	counters     map[string]int
}

func NewStore() *Store {
	return &Store{
		transactions: make(map[string]*Transaction),
		ownerActive:  make(map[string]map[string]struct{}),
		globalActive: make(map[string]struct{}),
		counters:     make(map[string]int),
	}
}

// NextID allocates the next day-bucketed id. Counters are process
// local: a restart resets the sequence, which is a documented
// limitation of the in-memory design.
func (s *Store) NextID(now time.Time) string {
	bucket := dayBucket(now)
	key := dayKey(bucket)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[key]++

	return formatID(bucket, s.counters[key])
}

// UnwindID returns the most recently allocated id for the day. Only
// valid while creation is serialized, which guarantees no later id has
// been handed out in between.
func (s *Store) UnwindID(now time.Time) {
	key := dayKey(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.counters[key] > 0 {
		s.counters[key]--
	}
}

// Add persists a pending transaction and indexes it under its owner
// and the global active set.
func (s *Store) Add(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tx
	s.transactions[tx.ID] = &cp

	owned, ok := s.ownerActive[tx.OwnerID]
	if !ok {
		owned = make(map[string]struct{})
		s.ownerActive[tx.OwnerID] = owned
	}

	owned[tx.ID] = struct{}{}
	s.globalActive[tx.ID] = struct{}{}
}

// Get returns a copy of the transaction, if present.
func (s *Store) Get(id string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return Transaction{}, false
	}

	return *tx, true
}

// OwnerPending counts the owner's live pending transactions and
// reports the earliest expiry among them.
func (s *Store) OwnerPending(owner string, now time.Time) (count int, earliest time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.ownerActive[owner] {
		tx, ok := s.transactions[id]
		if !ok || !livePending(tx, now) {
			continue
		}

		count++

		if earliest.IsZero() || tx.ExpiresAt.Before(earliest) {
			earliest = tx.ExpiresAt
		}
	}

	return count, earliest
}

// ActiveOwners returns the set of owners with at least one live
// pending transaction and the earliest expiry across all of them.
func (s *Store) ActiveOwners(now time.Time) (owners map[string]struct{}, earliest time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owners = make(map[string]struct{})

	for id := range s.globalActive {
		tx, ok := s.transactions[id]
		if !ok || !livePending(tx, now) {
			continue
		}

		owners[tx.OwnerID] = struct{}{}

		if earliest.IsZero() || tx.ExpiresAt.Before(earliest) {
			earliest = tx.ExpiresAt
		}
	}

	return owners, earliest
}

// MarkExpired transitions a pending transaction past its expiry to
// expired. Reports false if the transaction is unknown, already
// terminal or not yet expired.
func (s *Store) MarkExpired(id string, now time.Time) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != StatusPending || !now.After(tx.ExpiresAt) {
		return Transaction{}, false
	}

	tx.Status = StatusExpired

	return *tx, true
}

// Settle transitions a pending transaction to paid using the payment
// details produced by match. The match callback runs under the store
// lock, so claiming the settlement record's external id and the status
// transition are indivisible with respect to concurrent checks: two
// near-simultaneous checks cannot both succeed.
func (s *Store) Settle(id string, match func(tx Transaction) (PaymentDetails, bool)) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.Status != StatusPending {
		return Transaction{}, false
	}

	details, ok := match(*tx)
	if !ok {
		return Transaction{}, false
	}

	tx.Status = StatusPaid
	tx.Payment = &details

	return *tx, true
}

// Remove evicts a transaction and drops it from both indices. Reports
// the removed record so the caller can release its reservation and
// artifact.
func (s *Store) Remove(id string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return Transaction{}, false
	}

	s.removeLocked(id, tx)

	return *tx, true
}

func (s *Store) removeLocked(id string, tx *Transaction) {
	delete(s.transactions, id)
	delete(s.globalActive, id)

	if owned, ok := s.ownerActive[tx.OwnerID]; ok {
		delete(owned, id)

		if len(owned) == 0 {
			delete(s.ownerActive, tx.OwnerID)
		}
	}
}

// Sweep evicts terminal and past-expiry records, transitioning newly
// expired ones on the way out, and prunes id counters from earlier
// days. Returns the evicted transactions with their final status.
func (s *Store) Sweep(now time.Time) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Transaction

	for id, tx := range s.transactions {
		if tx.Status == StatusPending && now.After(tx.ExpiresAt) {
			tx.Status = StatusExpired
		}

		if tx.Status == StatusPending {
			continue
		}

		s.removeLocked(id, tx)
		removed = append(removed, *tx)
	}

	today := dayKey(now)

	for key := range s.counters {
		if key != today {
			delete(s.counters, key)
		}
	}

	return removed
}

func livePending(tx *Transaction, now time.Time) bool {
	return tx.Status == StatusPending && !now.After(tx.ExpiresAt)
}
