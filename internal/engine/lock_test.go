package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockArbiterExclusive(t *testing.T) {
	arbiter := newLockArbiter()
	now := time.Now()

	lock, lockErr := arbiter.acquire("file_1", "alice", now)
	require.Nil(t, lockErr)
	assert.Equal(t, "alice", lock.HolderID)

	_, lockErr = arbiter.acquire("file_1", "bob", now)
	require.NotNil(t, lockErr)
	assert.Equal(t, CodeConflict, lockErr.Code)
	details, ok := lockErr.Details.(LockConflictDetails)
	require.True(t, ok)
	assert.Equal(t, "alice", details.Holder)
}

func TestLockArbiterReacquireIsNoop(t *testing.T) {
	arbiter := newLockArbiter()
	first, lockErr := arbiter.acquire("file_1", "alice", time.Now())
	require.Nil(t, lockErr)

	again, lockErr := arbiter.acquire("file_1", "alice", time.Now().Add(time.Minute))
	require.Nil(t, lockErr)
	assert.Equal(t, first.AcquiredAt, again.AcquiredAt)
}

func TestLockArbiterRelease(t *testing.T) {
	arbiter := newLockArbiter()
	_, lockErr := arbiter.acquire("file_1", "alice", time.Now())
	require.Nil(t, lockErr)

	require.Nil(t, arbiter.release("file_1", "alice"))

	// A second release, and a release by a non-holder, both fail the same way.
	lockErr = arbiter.release("file_1", "alice")
	require.NotNil(t, lockErr)
	assert.Equal(t, CodeNotLockHolder, lockErr.Code)

	_, lockErr = arbiter.acquire("file_1", "bob", time.Now())
	require.Nil(t, lockErr)
	lockErr = arbiter.release("file_1", "alice")
	require.NotNil(t, lockErr)
	assert.Equal(t, CodeNotLockHolder, lockErr.Code)
}

func TestLockArbiterReleaseAllHeldBy(t *testing.T) {
	arbiter := newLockArbiter()
	now := time.Now()
	_, _ = arbiter.acquire("file_1", "alice", now)
	_, _ = arbiter.acquire("file_2", "alice", now)
	_, _ = arbiter.acquire("file_3", "bob", now)

	freed := arbiter.releaseAllHeldBy("alice")
	assert.Len(t, freed, 2)

	_, held := arbiter.holder("file_1")
	assert.False(t, held)
	holder, held := arbiter.holder("file_3")
	require.True(t, held)
	assert.Equal(t, "bob", holder)
}
