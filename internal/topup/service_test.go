package topup

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/xstbot/topup/internal/feed"
)

func testLimits() Limits {
	return Limits{
		Expiry:            10 * time.Minute,
		MaxActivePerOwner: 1,
		MaxActiveOwners:   5,
		RequestSpacing:    0,
		SuffixMin:         1,
		SuffixMax:         500,
		SuffixAttempts:    999,
		DedupCap:          1000,
		ExpireSoonWithin:  10 * time.Minute,
	}
}

func newTestService(t *testing.T, limits Limits) (*Service, *MockEncoder, *MockFeed) {
	t.Helper()

	ctrl := gomock.NewController(t)
	enc := NewMockEncoder(ctrl)
	upstream := NewMockFeed(ctrl)

	svc := NewService(limits, enc, upstream)
	t.Cleanup(svc.Close)

	return svc, enc, upstream
}

func TestService_CreateAndSettleScenario(t *testing.T) {
	svc, enc, upstream := newTestService(t, testLimits())

	artifacts := 0
	enc.EXPECT().Encode(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, int64) (string, error) {
			artifacts++
			return fmt.Sprintf("artifact-%d", artifacts), nil
		}).Times(2)

	alice, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, alice.TotalAmount, int64(50001))
	assert.LessOrEqual(t, alice.TotalAmount, int64(50500))
	assert.Equal(t, alice.OriginalAmount+alice.Suffix, alice.TotalAmount)
	assert.Equal(t, StatusPending, alice.Status)
	assert.Equal(t, formatID(dayBucket(alice.CreatedAt), 1), alice.ID)

	bob, err := svc.Create(context.Background(), 50000, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, alice.TotalAmount, bob.TotalAmount,
		"concurrently pending totals must be pairwise distinct")
	assert.Equal(t, formatID(dayBucket(bob.CreatedAt), 2), bob.ID)

	records := []feed.Record{
		{ExternalID: "X1", Amount: alice.TotalAmount, Time: alice.CreatedAt.Add(time.Minute), Method: "BCA"},
	}
	upstream.EXPECT().Records(gomock.Any()).Return(records, nil).AnyTimes()
	enc.EXPECT().Remove(alice.ArtifactID).Return(nil)

	res, err := svc.CheckStatus(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.Transaction.Status)
	require.NotNil(t, res.Transaction.Payment)
	assert.Equal(t, "X1", res.Transaction.Payment.ExternalID)
	assert.Equal(t, "BCA", res.Transaction.Payment.Method)

	// The terminal state was returned once; the record is retired.
	_, err = svc.CheckStatus(context.Background(), alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Bob's transaction is untouched: X1 carried a different amount
	// and can never satisfy another transaction anyway.
	bobRes, err := svc.CheckStatus(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, bobRes.Transaction.Status)
	assert.Positive(t, bobRes.RemainingSeconds)
	assert.True(t, bobRes.ExpiresSoon)
}

func TestService_OwnerCap(t *testing.T) {
	svc, enc, _ := newTestService(t, testLimits())

	enc.EXPECT().Encode(gomock.Any(), gomock.Any()).Return("artifact-1", nil)

	_, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), 60000, "alice")

	var capacity *CapacityError

	require.ErrorAs(t, err, &capacity)
	assert.Equal(t, ScopeOwner, capacity.Scope)
	assert.Positive(t, capacity.WaitSeconds)
}

func TestService_GlobalCap(t *testing.T) {
	limits := testLimits()
	limits.MaxActivePerOwner = 2
	limits.MaxActiveOwners = 1

	svc, enc, _ := newTestService(t, limits)

	enc.EXPECT().Encode(gomock.Any(), gomock.Any()).Return("artifact-1", nil).Times(2)

	_, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)

	// An owner already counted against the global cap is still
	// admitted.
	_, err = svc.Create(context.Background(), 60000, "alice")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), 50000, "bob")

	var capacity *CapacityError

	require.ErrorAs(t, err, &capacity)
	assert.Equal(t, ScopeGlobal, capacity.Scope)
	assert.Positive(t, capacity.WaitSeconds)
}

func TestService_EncodeFailureRollsBack(t *testing.T) {
	limits := testLimits()
	limits.SuffixMin = 7
	limits.SuffixMax = 7
	limits.SuffixAttempts = 1

	svc, enc, _ := newTestService(t, limits)

	enc.EXPECT().Encode(gomock.Any(), int64(50007)).Return("", errors.New("encoder down"))

	_, err := svc.Create(context.Background(), 50000, "alice")

	var encoding *EncodingError

	require.ErrorAs(t, err, &encoding)

	count, _ := svc.store.OwnerPending("alice", svc.now())
	assert.Zero(t, count, "no orphaned index entry after rollback")

	// The reservation and the sequence slot were both returned: the
	// same suffix succeeds and the first id of the day is reissued.
	enc.EXPECT().Encode(gomock.Any(), int64(50007)).Return("artifact-1", nil)

	tx, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50007), tx.TotalAmount)
	assert.Equal(t, formatID(dayBucket(tx.CreatedAt), 1), tx.ID)
}

func TestService_ExpiryThenNotFound(t *testing.T) {
	svc, enc, _ := newTestService(t, testLimits())

	enc.EXPECT().Encode(gomock.Any(), gomock.Any()).Return("artifact-1", nil)

	tx, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)

	svc.now = func() time.Time { return tx.ExpiresAt.Add(time.Second) }

	enc.EXPECT().Remove(tx.ArtifactID).Return(nil)

	// No feed record was ever seen: expired is reported exactly once,
	// without consulting the upstream at all.
	res, err := svc.CheckStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, res.Transaction.Status)
	assert.Zero(t, res.RemainingSeconds)

	_, err = svc.CheckStatus(context.Background(), tx.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_UpstreamFailureLeavesPending(t *testing.T) {
	svc, enc, upstream := newTestService(t, testLimits())

	enc.EXPECT().Encode(gomock.Any(), gomock.Any()).Return("artifact-1", nil)

	tx, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)

	upstream.EXPECT().Records(gomock.Any()).Return(nil, errors.New("feed down"))

	_, err = svc.CheckStatus(context.Background(), tx.ID)

	var transient *UpstreamError

	require.ErrorAs(t, err, &transient)

	// The transaction is unaffected and settles on a later check.
	upstream.EXPECT().Records(gomock.Any()).Return([]feed.Record{
		{ExternalID: "X1", Amount: tx.TotalAmount, Time: tx.CreatedAt.Add(time.Minute), Method: "BRI"},
	}, nil)
	enc.EXPECT().Remove(tx.ArtifactID).Return(nil)

	res, err := svc.CheckStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, res.Transaction.Status)
}

func TestService_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, testLimits())

	tests := []struct {
		name   string
		amount int64
		owner  string
	}{
		{name: "ZeroAmount", amount: 0, owner: "alice"},
		{name: "NegativeAmount", amount: -5, owner: "alice"},
		{name: "EmptyOwner", amount: 50000, owner: ""},
		{name: "BadOwnerChars", amount: 50000, owner: "not valid!"},
		{name: "OwnerTooLong", amount: 50000, owner: "a12345678901234567890123456789012345678901234567890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.amount, tt.owner)

			var validation *ValidationError

			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestService_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, testLimits())

	_, err := svc.CheckStatus(context.Background(), "202508290001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RequestSpacing(t *testing.T) {
	limits := testLimits()
	limits.MaxActivePerOwner = 2
	limits.RequestSpacing = 50 * time.Millisecond

	svc, enc, _ := newTestService(t, limits)

	enc.EXPECT().Encode(gomock.Any(), gomock.Any()).Return("artifact-1", nil).Times(2)

	_, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)

	start := time.Now()

	_, err = svc.Create(context.Background(), 60000, "alice")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond,
		"second creation for the same owner waits out the spacing")
}

func TestService_SweepReleasesEverything(t *testing.T) {
	limits := testLimits()
	limits.SuffixMin = 7
	limits.SuffixMax = 7
	limits.SuffixAttempts = 1
	limits.DedupCap = 1

	svc, enc, _ := newTestService(t, limits)

	enc.EXPECT().Encode(gomock.Any(), int64(50007)).Return("artifact-1", nil)

	tx, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)

	svc.dedup.Claim("X1")
	svc.dedup.Claim("X2")

	later := tx.ExpiresAt.Add(time.Minute)
	svc.now = func() time.Time { return later }

	enc.EXPECT().Remove(tx.ArtifactID).Return(nil)

	svc.Sweep(later)

	_, err = svc.CheckStatus(context.Background(), tx.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The expired reservation is gone: the same total is free again.
	enc.EXPECT().Encode(gomock.Any(), int64(50007)).Return("artifact-2", nil)

	tx2, err := svc.Create(context.Background(), 50000, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50007), tx2.TotalAmount)

	// The oversized dedup set was bulk-reset.
	assert.True(t, svc.dedup.Claim("X1"))
}
