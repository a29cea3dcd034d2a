package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitStore keeps one repository per session and commits every snapshot, so
// the archive doubles as a browsable history of autosaves.
type GitStore struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// manifest is the committed metadata next to the file contents.
type manifest struct {
	SessionID string         `json:"sessionId"`
	Title     string         `json:"title"`
	TakenAt   time.Time      `json:"takenAt"`
	Files     []manifestFile `json:"files"`
}

type manifestFile struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Revision int64  `json:"revision"`
}

func NewGitStore(baseDir string) *GitStore {
	return &GitStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *GitStore) sessionLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *GitStore) repoPath(sessionID string) string {
	return filepath.Join(s.baseDir, sanitizePathSegment(sessionID))
}

func (s *GitStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	lock := s.sessionLock(snap.SessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(snap.SessionID)
	repo, fresh, err := openOrInitRepo(path)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	if err := writeSnapshotFiles(path, snap); err != nil {
		return err
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() && !fresh {
		// Nothing changed since the last snapshot.
		return nil
	}

	hash, err := worktree.Commit(fmt.Sprintf("Snapshot %s", snap.TakenAt.UTC().Format(time.RFC3339)), &git.CommitOptions{
		Author: &object.Signature{
			Name:  "codesession",
			Email: "archive@codesession.local",
			When:  snap.TakenAt,
		},
		AllowEmptyCommits: fresh,
	})
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
			return fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
			return fmt.Errorf("set HEAD to main: %w", err)
		}
	}
	return nil
}

// LoadSnapshot reads the most recently committed snapshot for a session.
func (s *GitStore) LoadSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(sessionID)
	raw, err := os.ReadFile(filepath.Join(path, "manifest.json"))
	if err != nil {
		return Snapshot{}, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Snapshot{}, fmt.Errorf("decode manifest: %w", err)
	}

	snap := Snapshot{SessionID: m.SessionID, Title: m.Title, TakenAt: m.TakenAt}
	for _, mf := range m.Files {
		content, err := os.ReadFile(filepath.Join(path, "files", sanitizePathSegment(mf.FileID)))
		if err != nil {
			return Snapshot{}, fmt.Errorf("read file %s: %w", mf.FileID, err)
		}
		snap.Files = append(snap.Files, FileSnapshot{
			FileID:   mf.FileID,
			Name:     mf.Name,
			Language: mf.Language,
			Content:  string(content),
			Revision: mf.Revision,
		})
	}
	return snap, nil
}

// History lists snapshot commits for a session, newest first.
func (s *GitStore) History(sessionID string, limit int) ([]string, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var messages []string
	for limit <= 0 || len(messages) < limit {
		commit, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate log: %w", err)
		}
		messages = append(messages, strings.TrimSpace(commit.Message))
	}
	return messages, nil
}

func (s *GitStore) Close() error { return nil }

func openOrInitRepo(path string) (*git.Repository, bool, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func writeSnapshotFiles(path string, snap Snapshot) error {
	filesDir := filepath.Join(path, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("create files dir: %w", err)
	}

	m := manifest{SessionID: snap.SessionID, Title: snap.Title, TakenAt: snap.TakenAt}
	for _, f := range snap.Files {
		m.Files = append(m.Files, manifestFile{
			FileID:   f.FileID,
			Name:     f.Name,
			Language: f.Language,
			Revision: f.Revision,
		})
		target := filepath.Join(filesDir, sanitizePathSegment(f.FileID))
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("write file %s: %w", f.FileID, err)
		}
	}

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "manifest.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func sanitizePathSegment(value string) string {
	out := make([]rune, 0, len(value))
	for _, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_', ch == '.':
			out = append(out, ch)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "unnamed"
	}
	cleaned := string(out)
	// "." and ".." are valid path segments that escape the base dir.
	if strings.Trim(cleaned, ".") == "" {
		return "unnamed"
	}
	return cleaned
}
