package engine

import "time"

// lockArbiter grants exclusive write access to a file to at most one
// participant at a time. There is no queueing: a denied requester retries
// after observing a lock_released event. Locks never expire while the holder
// is online; the disconnect path is the only automatic release.
type lockArbiter struct {
	locks map[string]Lock
}

func newLockArbiter() *lockArbiter {
	return &lockArbiter{locks: make(map[string]Lock)}
}

func (a *lockArbiter) acquire(fileID, participantID string, now time.Time) (Lock, *Error) {
	if held, ok := a.locks[fileID]; ok {
		if held.HolderID == participantID {
			// Re-acquiring an already held lock is a no-op.
			return held, nil
		}
		return Lock{}, newError(CodeConflict, "file is locked by another participant",
			LockConflictDetails{FileID: fileID, Holder: held.HolderID})
	}
	lock := Lock{FileID: fileID, HolderID: participantID, AcquiredAt: now}
	a.locks[fileID] = lock
	return lock, nil
}

func (a *lockArbiter) release(fileID, participantID string) *Error {
	held, ok := a.locks[fileID]
	if !ok || held.HolderID != participantID {
		return newError(CodeNotLockHolder, "lock not held by caller",
			map[string]string{"fileId": fileID})
	}
	delete(a.locks, fileID)
	return nil
}

// holder returns the current lock holder of a file, if any.
func (a *lockArbiter) holder(fileID string) (string, bool) {
	held, ok := a.locks[fileID]
	if !ok {
		return "", false
	}
	return held.HolderID, true
}

// releaseAllHeldBy frees every lock held by one participant and returns the
// freed locks. Used on leave, expiry and close so no file is left permanently
// unlockable by a dead session.
func (a *lockArbiter) releaseAllHeldBy(participantID string) []Lock {
	var freed []Lock
	for fileID, held := range a.locks {
		if held.HolderID == participantID {
			freed = append(freed, held)
			delete(a.locks, fileID)
		}
	}
	return freed
}
