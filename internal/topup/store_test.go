package topup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingTx(id, owner string, total int64, now time.Time) *Transaction {
	return &Transaction{
		ID:             id,
		OwnerID:        owner,
		OriginalAmount: total - 5,
		Suffix:         5,
		TotalAmount:    total,
		ArtifactID:     "artifact-" + id,
		CreatedAt:      now,
		ExpiresAt:      now.Add(10 * time.Minute),
		Status:         StatusPending,
	}
}

func TestStore_NextID(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	assert.Equal(t, "202508290001", s.NextID(now))
	assert.Equal(t, "202508290002", s.NextID(now))

	// A rolled-back creation returns its sequence slot.
	s.UnwindID(now)
	assert.Equal(t, "202508290002", s.NextID(now))

	// Sequences are scoped per day bucket.
	nextDay := now.Add(24 * time.Hour)
	assert.Equal(t, "202508300001", s.NextID(nextDay))
}

func TestStore_AddGetRemove(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	tx := pendingTx("202508290001", "alice", 50005, now)
	s.Add(tx)

	got, ok := s.Get(tx.ID)
	require.True(t, ok)
	assert.Equal(t, *tx, got)

	removed, ok := s.Remove(tx.ID)
	require.True(t, ok)
	assert.Equal(t, tx.ID, removed.ID)

	_, ok = s.Get(tx.ID)
	assert.False(t, ok)

	count, _ := s.OwnerPending("alice", now)
	assert.Zero(t, count)
}

func TestStore_OwnerPending(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	first := pendingTx("202508290001", "alice", 50005, now)
	second := pendingTx("202508290002", "alice", 50009, now.Add(time.Minute))
	s.Add(first)
	s.Add(second)

	count, earliest := s.OwnerPending("alice", now.Add(2*time.Minute))
	assert.Equal(t, 2, count)
	assert.Equal(t, first.ExpiresAt, earliest)

	// Past-expiry transactions stop counting against the owner.
	count, _ = s.OwnerPending("alice", now.Add(15*time.Minute))
	assert.Zero(t, count)
}

func TestStore_ActiveOwners(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	s.Add(pendingTx("202508290001", "alice", 50005, now))
	s.Add(pendingTx("202508290002", "bob", 50009, now))

	owners, earliest := s.ActiveOwners(now)
	assert.Len(t, owners, 2)
	assert.Contains(t, owners, "alice")
	assert.Contains(t, owners, "bob")
	assert.Equal(t, now.Add(10*time.Minute), earliest)
}

func TestStore_MarkExpired(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	tx := pendingTx("202508290001", "alice", 50005, now)
	s.Add(tx)

	_, ok := s.MarkExpired(tx.ID, now.Add(5*time.Minute))
	assert.False(t, ok, "not yet expired")

	expired, ok := s.MarkExpired(tx.ID, now.Add(11*time.Minute))
	require.True(t, ok)
	assert.Equal(t, StatusExpired, expired.Status)

	// Terminal states never transition again.
	_, ok = s.MarkExpired(tx.ID, now.Add(12*time.Minute))
	assert.False(t, ok)
}

func TestStore_Settle(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	tx := pendingTx("202508290001", "alice", 50005, now)
	s.Add(tx)

	details := PaymentDetails{ExternalID: "X1", PaidAt: now.Add(time.Minute), Method: "BCA"}

	paid, ok := s.Settle(tx.ID, func(Transaction) (PaymentDetails, bool) {
		return details, true
	})
	require.True(t, ok)
	assert.Equal(t, StatusPaid, paid.Status)
	require.NotNil(t, paid.Payment)
	assert.Equal(t, "X1", paid.Payment.ExternalID)

	// A second settle attempt finds the transaction already terminal.
	_, ok = s.Settle(tx.ID, func(Transaction) (PaymentDetails, bool) {
		t.Fatal("match must not run on a terminal transaction")
		return PaymentDetails{}, false
	})
	assert.False(t, ok)
}

func TestStore_SettleDeclined(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	tx := pendingTx("202508290001", "alice", 50005, now)
	s.Add(tx)

	_, ok := s.Settle(tx.ID, func(Transaction) (PaymentDetails, bool) {
		return PaymentDetails{}, false
	})
	assert.False(t, ok)

	got, _ := s.Get(tx.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestStore_Sweep(t *testing.T) {
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	s := NewStore()

	s.NextID(now.Add(-48 * time.Hour))
	stale := pendingTx("202508270001", "carol", 40007, now.Add(-48*time.Hour))
	live := pendingTx("202508290001", "alice", 50005, now)
	s.Add(stale)
	s.Add(live)

	removed := s.Sweep(now)

	require.Len(t, removed, 1)
	assert.Equal(t, stale.ID, removed[0].ID)
	assert.Equal(t, StatusExpired, removed[0].Status)

	_, ok := s.Get(live.ID)
	assert.True(t, ok)

	// Counters from earlier days are gone; only today's key survives.
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.counters {
		assert.Equal(t, dayKey(now), key)
	}
}
