package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeSequencesRevisions(t *testing.T) {
	docs := newDocumentStore()
	f := docs.add("main.go", "go", "")
	now := time.Now()

	c1, err := docs.propose(f.id, "alice", 0, Operation{Kind: OpInsert, Position: 0, Text: "hello"}, now)
	require.NoError(t, err)
	c2, err := docs.propose(f.id, "bob", 1, Operation{Kind: OpInsert, Position: 5, Text: " world"}, now)
	require.NoError(t, err)
	c3, err := docs.propose(f.id, "alice", 2, Operation{Kind: OpReplace, Position: 0, Length: 5, Text: "Hello"}, now)
	require.NoError(t, err)

	assert.Equal(t, int64(1), c1.Revision)
	assert.Equal(t, int64(2), c2.Revision)
	assert.Equal(t, int64(3), c3.Revision)
	assert.Equal(t, "Hello world", string(f.content))
	assert.Len(t, f.log, 3)
}

func TestProposeStaleBaseConflicts(t *testing.T) {
	docs := newDocumentStore()
	f := docs.add("main.go", "go", "")
	now := time.Now()

	_, err := docs.propose(f.id, "alice", 0, Operation{Kind: OpInsert, Position: 0, Text: "hello"}, now)
	require.NoError(t, err)

	_, err = docs.propose(f.id, "bob", 0, Operation{Kind: OpInsert, Position: 0, Text: "bye"}, now)
	require.True(t, IsCode(err, CodeConflict))

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	details, ok := engineErr.Details.(ConflictDetails)
	require.True(t, ok)
	assert.Equal(t, f.id, details.FileID)
	assert.Equal(t, int64(1), details.CurrentRevision)
	assert.Equal(t, "hello", details.Content)

	// The rejection left the file untouched.
	assert.Equal(t, int64(1), f.revision)
	assert.Equal(t, "hello", string(f.content))
}

func TestProposeBaseAheadIsCorrupt(t *testing.T) {
	docs := newDocumentStore()
	f := docs.add("main.go", "go", "")

	_, err := docs.propose(f.id, "alice", 5, Operation{Kind: OpInsert, Position: 0, Text: "x"}, time.Now())
	require.ErrorIs(t, err, errCorrupt)
}

func TestProposeUnknownFile(t *testing.T) {
	docs := newDocumentStore()
	_, err := docs.propose("file_missing", "alice", 0, Operation{Kind: OpInsert, Text: "x"}, time.Now())
	require.True(t, IsCode(err, CodeValidation))
}

func TestProposeOutOfRangeConflicts(t *testing.T) {
	docs := newDocumentStore()
	f := docs.add("main.go", "go", "short")

	_, err := docs.propose(f.id, "alice", 0, Operation{Kind: OpDelete, Position: 2, Length: 100}, time.Now())
	require.True(t, IsCode(err, CodeConflict))
	assert.Equal(t, int64(0), f.revision)
}

func TestApplyOperationRuneOffsets(t *testing.T) {
	content := []rune("héllo")

	next, err := applyOperation(content, Operation{Kind: OpInsert, Position: 5, Text: "!"})
	require.NoError(t, err)
	assert.Equal(t, "héllo!", string(next))

	next, err = applyOperation(content, Operation{Kind: OpDelete, Position: 1, Length: 1})
	require.NoError(t, err)
	assert.Equal(t, "hllo", string(next))

	next, err = applyOperation(content, Operation{Kind: OpReplace, Position: 0, Length: 5, Text: "bye"})
	require.NoError(t, err)
	assert.Equal(t, "bye", string(next))

	_, err = applyOperation(content, Operation{Kind: "rotate"})
	require.Error(t, err)
}

func TestChangesSince(t *testing.T) {
	docs := newDocumentStore()
	f := docs.add("main.go", "go", "")
	now := time.Now()
	for i := 0; i < 4; i++ {
		_, err := docs.propose(f.id, "alice", int64(i), Operation{Kind: OpInsert, Position: i, Text: "a"}, now)
		require.NoError(t, err)
	}

	changes, err := docs.changesSince(f.id, 2)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, int64(3), changes[0].Revision)
	assert.Equal(t, int64(4), changes[1].Revision)

	changes, err = docs.changesSince(f.id, 4)
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = docs.changesSince(f.id, -3)
	require.NoError(t, err)
	assert.Len(t, changes, 4)

	_, err = docs.changesSince("file_missing", 0)
	require.True(t, IsCode(err, CodeValidation))
}
