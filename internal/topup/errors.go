package topup

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown or already evicted transaction id.
var ErrNotFound = errors.New("transaction not found")

// ValidationError reports a non-retryable bad input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// CapacityScope identifies which admission cap rejected a request.
type CapacityScope string

const (
	ScopeOwner  CapacityScope = "owner"
	ScopeGlobal CapacityScope = "global"
)

// CapacityError reports that an admission cap is full. WaitSeconds is
// the time until the earliest blocking transaction expires, so callers
// can back off deterministically instead of polling.
type CapacityError struct {
	Scope       CapacityScope
	WaitSeconds int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s capacity reached, retry in %ds", e.Scope, e.WaitSeconds)
}

// SuffixExhaustedError reports that the disambiguator could not find a
// free amount within its attempt budget. Retryable.
type SuffixExhaustedError struct {
	Attempts int
}

func (e *SuffixExhaustedError) Error() string {
	return fmt.Sprintf("no unique amount available after %d attempts", e.Attempts)
}

// EncodingError reports a failed artifact encode. The creation it
// interrupted has been fully rolled back.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return "encoding artifact: " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error { return e.Err }

// UpstreamError reports a transient settlement-feed failure after
// retries. The checked transaction is unaffected and stays pending.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "settlement feed unavailable: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }
