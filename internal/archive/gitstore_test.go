package archive

import (
	"context"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(content string, revision int64, takenAt time.Time) Snapshot {
	return Snapshot{
		SessionID: "sess-1",
		Title:     "Pairing",
		TakenAt:   takenAt,
		Files: []FileSnapshot{
			{FileID: "file_1", Name: "main.go", Language: "go", Content: content, Revision: revision},
		},
	}
}

func TestGitStoreSaveAndLoad(t *testing.T) {
	store := NewGitStore(t.TempDir())
	ctx := context.Background()
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("package main", 1, takenAt)))

	loaded, err := store.LoadSnapshot(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Equal(t, "Pairing", loaded.Title)
	require.Len(t, loaded.Files, 1)
	assert.Equal(t, "main.go", loaded.Files[0].Name)
	assert.Equal(t, "package main", loaded.Files[0].Content)
	assert.Equal(t, int64(1), loaded.Files[0].Revision)
}

func TestGitStoreCommitsEachChangedSnapshot(t *testing.T) {
	store := NewGitStore(t.TempDir())
	ctx := context.Background()
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("a", 1, takenAt)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("ab", 2, takenAt.Add(time.Minute))))

	history, err := store.History("sess-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Contains(t, history[0], takenAt.Add(time.Minute).Format(time.RFC3339))
	assert.Contains(t, history[1], takenAt.Format(time.RFC3339))

	loaded, err := store.LoadSnapshot(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "ab", loaded.Files[0].Content)
}

func TestGitStoreSkipsUnchangedSnapshot(t *testing.T) {
	store := NewGitStore(t.TempDir())
	ctx := context.Background()
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// The manifest embeds TakenAt, so an identical TakenAt and content leaves
	// the worktree clean and no commit is made.
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("a", 1, takenAt)))
	require.NoError(t, store.SaveSnapshot(ctx, testSnapshot("a", 1, takenAt)))

	history, err := store.History("sess-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestGitStoreHistoryLimit(t *testing.T) {
	store := NewGitStore(t.TempDir())
	ctx := context.Background()
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveSnapshot(ctx, testSnapshot(string(rune('a'+i)), int64(i+1), takenAt.Add(time.Duration(i)*time.Minute))))
	}

	history, err := store.History("sess-1", 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestGitStoreSanitizesSessionIDs(t *testing.T) {
	base := t.TempDir()
	store := NewGitStore(base)
	ctx := context.Background()

	snap := testSnapshot("a", 1, time.Now())
	snap.SessionID = "../escape/attempt"
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	// The repo lands inside the base dir under a sanitized name.
	_, err := git.PlainOpen(store.repoPath("../escape/attempt"))
	require.NoError(t, err)
	assert.Equal(t, base+"/..-escape-attempt", store.repoPath("../escape/attempt"))
}

func TestGitStoreLoadMissingSession(t *testing.T) {
	store := NewGitStore(t.TempDir())
	_, err := store.LoadSnapshot(context.Background(), "nope")
	require.Error(t, err)
}
