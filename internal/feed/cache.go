package feed

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source produces a fresh settlement snapshot.
type Source interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// Cache bounds the external call rate with a short TTL and collapses
// concurrent refreshes into a single in-flight fetch. Callers either
// get the still-valid cached snapshot or await the one fetch already
// running; duplicate upstream calls are never issued.
type Cache struct {
	src     Source
	ttl     time.Duration
	budget  time.Duration
	sf      singleflight.Group
	mu      sync.Mutex
	records []Record
	fetched time.Time
	now     func() time.Time
}

// NewCache wraps src. budget bounds one refresh end to end; the
// refresh runs detached from any single caller so one client hanging
// up does not fail the others awaiting the same fetch.
func NewCache(src Source, ttl, budget time.Duration) *Cache {
	return &Cache{
		src:    src,
		ttl:    ttl,
		budget: budget,
		now:    time.Now,
	}
}

// Records returns the cached snapshot when fresh, refreshing
// otherwise. Cancellation of ctx abandons the wait, not the refresh.
func (c *Cache) Records(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	if !c.fetched.IsZero() && c.now().Sub(c.fetched) < c.ttl {
		records := slices.Clone(c.records)
		c.mu.Unlock()

		return records, nil
	}
	c.mu.Unlock()

	ch := c.sf.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.Background(), c.budget)
		defer cancel()

		records, err := c.src.Fetch(fctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.records = records
		c.fetched = c.now()
		c.mu.Unlock()

		return records, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return slices.Clone(res.Val.([]Record)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
