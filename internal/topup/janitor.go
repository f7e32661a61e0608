package topup

import (
	"log/slog"
	"time"
)

// StartJanitor runs the periodic sweep on a fixed interval,
// independent of traffic. The returned stop function blocks until the
// loop exits.
func (s *Service) StartJanitor(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	quit := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(s.now())
			case <-quit:
				return
			}
		}
	}()

	return func() {
		close(quit)
		<-done
	}
}

// Sweep bounds memory growth and releases stale reservations: expired
// and leftover terminal records are evicted, amount reservations past
// their hold are dropped, id counters from earlier days are pruned,
// the dedup set is bulk-reset above its cap, idle owner pacing entries
// are forgotten, and queued jobs whose callers hung up are shed. State
// groups are touched in fixed order: store, reservations, the rest.
func (s *Service) Sweep(now time.Time) {
	removed := s.store.Sweep(now)

	for _, tx := range removed {
		s.releaseReservation(tx)

		if err := s.encoder.Remove(tx.ArtifactID); err != nil {
			slog.Error("failed to remove artifact", "id", tx.ID, "error", err)
		}

		slog.Info("swept transaction", "id", tx.ID, "status", tx.Status)
	}

	s.amounts.Sweep(now)

	if s.dedup.ResetIfAbove(s.limits.DedupCap) {
		slog.Info("reset processed settlement ids", "cap", s.limits.DedupCap)
	}

	s.pace.Sweep(now, s.limits.Expiry)

	s.queue.Evict(func(job *createJob) bool {
		return job.ctx.Err() != nil
	})
}
