package topup

import (
	"context"
	"sync"
	"time"
)

// createJob is one queued creation request. The worker replies on done
// exactly once.
type createJob struct {
	ctx    context.Context
	owner  string
	amount int64
	done   chan createResult
}

type createResult struct {
	tx  Transaction
	err error
}

// creationQueue is the explicit FIFO behind the request serializer.
// The single worker pops from the head; a head that is not yet
// eligible (owner pacing) is reinserted at the FRONT after the delay,
// preserving the arrival order of every other waiting owner. The
// structure itself carries no clock so ordering is testable without
// wall time.
type creationQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*createJob
	closed bool
}

func newCreationQueue() *creationQueue {
	q := &creationQueue{}
	q.cond = sync.NewCond(&q.mu)

	return q
}

func (q *creationQueue) PushBack(job *createJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, job)
	q.cond.Signal()

	return true
}

// PushFront reinserts a delayed job at the head of the line.
func (q *creationQueue) PushFront(job *createJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append([]*createJob{job}, q.jobs...)
	q.cond.Signal()

	return true
}

// Pop blocks until a job is available or the queue is closed.
func (q *creationQueue) Pop() (*createJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.jobs) == 0 {
		return nil, false
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]

	return job, true
}

// Evict drops queued jobs matching the predicate. Used by the janitor
// to shed requests whose callers have already gone away.
func (q *creationQueue) Evict(drop func(*createJob) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]

	for _, job := range q.jobs {
		if drop(job) {
			job.done <- createResult{err: job.ctx.Err()}
			continue
		}

		kept = append(kept, job)
	}

	q.jobs = kept
}

func (q *creationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// pacer tracks each owner's last accepted creation and computes the
// remaining spacing delay for the head of the line.
type pacer struct {
	mu      sync.Mutex
	spacing time.Duration
	last    map[string]time.Time
}

func newPacer(spacing time.Duration) *pacer {
	return &pacer{spacing: spacing, last: make(map[string]time.Time)}
}

// Delay returns how much longer the owner must wait before another
// creation is accepted. Zero means eligible now.
func (p *pacer) Delay(owner string, now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.last[owner]
	if !ok {
		return 0
	}

	remaining := p.spacing - now.Sub(last)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Accepted records a successful creation for the owner.
func (p *pacer) Accepted(owner string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.last[owner] = now
}

// Sweep forgets owners idle longer than maxIdle.
func (p *pacer) Sweep(now time.Time, maxIdle time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for owner, last := range p.last {
		if now.Sub(last) > maxIdle {
			delete(p.last, owner)
		}
	}
}
