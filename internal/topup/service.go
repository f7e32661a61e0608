package topup

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/xstbot/topup/internal/feed"
)

//go:generate mockgen -source=service.go -destination=service_mock.go -package=topup

// Encoder renders a payment artifact for a disambiguated amount. The
// engine treats it as opaque: on failure the whole creation is rolled
// back and no partial state survives.
type Encoder interface {
	Encode(ctx context.Context, amount int64) (artifactID string, err error)
	Remove(artifactID string) error
}

// Feed supplies the latest normalized settlement snapshot.
type Feed interface {
	Records(ctx context.Context) ([]feed.Record, error)
}

// Limits carries every tunable of the engine.
type Limits struct {
	Expiry            time.Duration
	MaxActivePerOwner int
	MaxActiveOwners   int
	RequestSpacing    time.Duration
	SuffixMin         int64
	SuffixMax         int64
	SuffixAttempts    int
	DedupCap          int
	ExpireSoonWithin  time.Duration
}

// Service is the reconciliation and admission engine. Creation
// requests flow through a single-worker queue (deliberate
// backpressure for the encoder and the upstream feed); status checks
// reconcile the polled settlement snapshot against pending
// transactions exactly once.
type Service struct {
	limits  Limits
	store   *Store
	amounts *reservations
	dedup   *dedupSet
	queue   *creationQueue
	pace    *pacer
	encoder Encoder
	feed    Feed
	now     func() time.Time

	stop       chan struct{}
	workerDone chan struct{}
}

func NewService(limits Limits, encoder Encoder, upstream Feed) *Service {
	s := &Service{
		limits:     limits,
		store:      NewStore(),
		amounts:    newReservations(limits.SuffixMin, limits.SuffixMax, limits.SuffixAttempts, limits.Expiry),
		dedup:      newDedupSet(),
		queue:      newCreationQueue(),
		pace:       newPacer(limits.RequestSpacing),
		encoder:    encoder,
		feed:       upstream,
		now:        time.Now,
		stop:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}

	go s.runCreates()

	return s
}

// Close drains the creation worker. Pending callers receive a
// cancellation error.
func (s *Service) Close() {
	close(s.stop)
	s.queue.Close()
	<-s.workerDone
}

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

func validateCreate(amount int64, owner string) error {
	if amount <= 0 {
		return &ValidationError{Reason: "amount must be a positive integer"}
	}

	if !ownerPattern.MatchString(owner) {
		return &ValidationError{Reason: "owner must be alphanumeric, max 50 characters"}
	}

	return nil
}

// Create requests a new uniquely-identifiable top-up. The request is
// queued and processed in arrival order by the single worker.
func (s *Service) Create(ctx context.Context, amount int64, owner string) (Transaction, error) {
	if err := validateCreate(amount, owner); err != nil {
		return Transaction{}, err
	}

	job := &createJob{
		ctx:    ctx,
		owner:  owner,
		amount: amount,
		done:   make(chan createResult, 1),
	}

	if !s.queue.PushBack(job) {
		return Transaction{}, context.Canceled
	}

	select {
	case res := <-job.done:
		return res.tx, res.err
	case <-ctx.Done():
		return Transaction{}, ctx.Err()
	}
}

// runCreates is the request serializer: one creation at a time,
// system-wide. When the head of line is not yet eligible under its
// owner's spacing, the whole pipeline waits out the remaining delay
// and the head goes back to the FRONT, keeping every other waiting
// owner in arrival order.
func (s *Service) runCreates() {
	defer close(s.workerDone)

	for {
		job, ok := s.queue.Pop()
		if !ok {
			return
		}

		select {
		case <-s.stop:
			// Shutting down: drain the line so no caller is left
			// waiting on a reply.
			job.done <- createResult{err: context.Canceled}
			continue
		default:
		}

		if job.ctx.Err() != nil {
			job.done <- createResult{err: job.ctx.Err()}
			continue
		}

		if delay := s.pace.Delay(job.owner, s.now()); delay > 0 {
			if !s.sleep(delay) || !s.queue.PushFront(job) {
				job.done <- createResult{err: context.Canceled}
			}

			continue
		}

		tx, err := s.handleCreate(job)
		if err == nil {
			s.pace.Accepted(job.owner, s.now())
		}

		job.done <- createResult{tx: tx, err: err}
	}
}

func (s *Service) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Service) handleCreate(job *createJob) (Transaction, error) {
	now := s.now()

	if err := s.admit(job.owner, now); err != nil {
		return Transaction{}, err
	}

	suffix, total, err := s.amounts.Reserve(job.amount, now)
	if err != nil {
		return Transaction{}, err
	}

	id := s.store.NextID(now)

	artifactID, err := s.encoder.Encode(job.ctx, total)
	if err != nil {
		// Full rollback: the reservation and the sequence slot must
		// not outlive a failed encode.
		s.amounts.Release(total)
		s.store.UnwindID(now)

		return Transaction{}, &EncodingError{Err: err}
	}

	tx := &Transaction{
		ID:             id,
		OwnerID:        job.owner,
		OriginalAmount: job.amount,
		Suffix:         suffix,
		TotalAmount:    total,
		ArtifactID:     artifactID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.limits.Expiry),
		Status:         StatusPending,
	}

	s.store.Add(tx)

	slog.Info("transaction created",
		"id", id, "owner", job.owner, "total", total, "expires_at", tx.ExpiresAt)

	return *tx, nil
}

// StatusResult is the outcome of a status check.
type StatusResult struct {
	Transaction      Transaction
	RemainingSeconds int64
	ExpiresSoon      bool
}

// CheckStatus reports a transaction's state, reconciling the latest
// settlement snapshot when it is still pending. A terminal state is
// returned to the caller once and the record is then retired;
// subsequent checks see ErrNotFound.
func (s *Service) CheckStatus(ctx context.Context, id string) (StatusResult, error) {
	now := s.now()

	tx, ok := s.store.Get(id)
	if !ok {
		return StatusResult{}, ErrNotFound
	}

	if tx.Status == StatusPaid {
		s.retire(tx)
		return StatusResult{Transaction: tx}, nil
	}

	if now.After(tx.ExpiresAt) {
		expired, ok := s.store.MarkExpired(id, now)
		if !ok {
			// A concurrent check got there first.
			return StatusResult{}, ErrNotFound
		}

		s.retire(expired)

		return StatusResult{Transaction: expired}, nil
	}

	records, err := s.feed.Records(ctx)
	if err != nil {
		return StatusResult{}, &UpstreamError{Err: err}
	}

	paid, ok := s.store.Settle(id, func(tx Transaction) (PaymentDetails, bool) {
		return matchRecord(tx, records, s.dedup.Claim)
	})
	if ok {
		s.retire(paid)

		slog.Info("transaction paid",
			"id", paid.ID, "owner", paid.OwnerID, "external_id", paid.Payment.ExternalID)

		return StatusResult{Transaction: paid}, nil
	}

	remaining := int64(tx.ExpiresAt.Sub(now) / time.Second)

	return StatusResult{
		Transaction:      tx,
		RemainingSeconds: remaining,
		ExpiresSoon:      tx.ExpiresAt.Sub(now) <= s.limits.ExpireSoonWithin,
	}, nil
}

// retire physically removes a terminal transaction: record and
// indices go, the amount reservation is released on expiry or held to
// end of day on payment, and the artifact is deleted. Lock order is
// store, then reservations.
func (s *Service) retire(tx Transaction) {
	removed, ok := s.store.Remove(tx.ID)
	if !ok {
		return
	}

	s.releaseReservation(removed)

	if err := s.encoder.Remove(removed.ArtifactID); err != nil {
		slog.Error("failed to remove artifact", "id", removed.ID, "error", err)
	}
}

func (s *Service) releaseReservation(tx Transaction) {
	if tx.Status == StatusPaid {
		s.amounts.HoldToDayEnd(tx.TotalAmount)
		return
	}

	s.amounts.Release(tx.TotalAmount)
}
