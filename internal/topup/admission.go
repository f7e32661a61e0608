package topup

import "time"

// admit enforces the per-owner and global concurrency caps before a
// transaction is created. Creation is serialized by the queue worker,
// so the check cannot race with another admission.
func (s *Service) admit(owner string, now time.Time) error {
	count, earliest := s.store.OwnerPending(owner, now)
	if count >= s.limits.MaxActivePerOwner {
		return &CapacityError{Scope: ScopeOwner, WaitSeconds: waitSeconds(earliest, now)}
	}

	owners, earliest := s.store.ActiveOwners(now)
	if _, active := owners[owner]; len(owners) >= s.limits.MaxActiveOwners && !active {
		return &CapacityError{Scope: ScopeGlobal, WaitSeconds: waitSeconds(earliest, now)}
	}

	return nil
}

// waitSeconds is the ceiling of the time until the earliest blocking
// transaction expires.
func waitSeconds(earliest, now time.Time) int64 {
	d := earliest.Sub(now)
	if d <= 0 {
		return 0
	}

	return int64((d + time.Second - 1) / time.Second)
}
