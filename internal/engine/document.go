package engine

import (
	"errors"
	"fmt"
	"time"

	"codesession/internal/util"
)

// errCorrupt signals an internal invariant violation inside the document
// store. The session treats it as fatal and closes with a diagnostic rather
// than continuing with possibly corrupted content.
var errCorrupt = errors.New("document store corrupted")

// file is the authoritative in-memory state of one document. Content is
// mutated only through propose; the revision increments by exactly one per
// accepted change.
type file struct {
	id       string
	name     string
	language string
	content  []rune
	revision int64
	log      []Change
}

// documentStore owns every file in a session plus each file's append-only
// change log. Only ever touched on the session's serialized path.
type documentStore struct {
	files map[string]*file
	order []string
}

func newDocumentStore() *documentStore {
	return &documentStore{files: make(map[string]*file)}
}

func (d *documentStore) add(name, language, content string) *file {
	f := &file{
		id:       util.NewID("file"),
		name:     name,
		language: language,
		content:  []rune(content),
	}
	d.files[f.id] = f
	d.order = append(d.order, f.id)
	return f
}

func (d *documentStore) get(fileID string) (*file, bool) {
	f, ok := d.files[fileID]
	return f, ok
}

// propose sequences one edit. The operation is applied verbatim only when the
// author's base revision matches the file's current revision; a stale base
// yields CONFLICT with the authoritative view so the client can resync. The
// engine never attempts a field-level merge of divergent edits.
func (d *documentStore) propose(fileID, authorID string, baseRevision int64, op Operation, now time.Time) (Change, error) {
	f, ok := d.files[fileID]
	if !ok {
		return Change{}, newError(CodeValidation, "unknown file", map[string]string{"fileId": fileID})
	}
	if baseRevision > f.revision {
		// A base revision ahead of the store can only mean lost state.
		return Change{}, fmt.Errorf("%w: base revision %d ahead of current %d for file %s",
			errCorrupt, baseRevision, f.revision, fileID)
	}
	if baseRevision < f.revision {
		return Change{}, newError(CodeConflict, "change proposed against a stale revision",
			ConflictDetails{FileID: fileID, CurrentRevision: f.revision, Content: string(f.content)})
	}

	next, err := applyOperation(f.content, op)
	if err != nil {
		// Out-of-range positions at a matching base revision still resolve by
		// resyncing, so they share the CONFLICT code.
		return Change{}, newError(CodeConflict, err.Error(),
			ConflictDetails{FileID: fileID, CurrentRevision: f.revision, Content: string(f.content)})
	}

	change := Change{
		ID:           util.NewID("chg"),
		FileID:       fileID,
		AuthorID:     authorID,
		BaseRevision: baseRevision,
		Revision:     f.revision + 1,
		Op:           op,
		Timestamp:    now,
	}
	f.content = next
	f.revision++
	f.log = append(f.log, change)

	if f.revision != int64(len(f.log)) {
		return Change{}, fmt.Errorf("%w: revision %d does not match change log length %d for file %s",
			errCorrupt, f.revision, len(f.log), fileID)
	}
	return change, nil
}

// changesSince replays the change log after the given revision, oldest first.
func (d *documentStore) changesSince(fileID string, sinceRevision int64) ([]Change, error) {
	f, ok := d.files[fileID]
	if !ok {
		return nil, newError(CodeValidation, "unknown file", map[string]string{"fileId": fileID})
	}
	if sinceRevision >= f.revision {
		return nil, nil
	}
	start := sinceRevision
	if start < 0 {
		start = 0
	}
	out := make([]Change, f.revision-start)
	copy(out, f.log[start:])
	return out, nil
}

// snapshot returns point-in-time copies of all files in creation order.
// Lock holders are filled in by the caller.
func (d *documentStore) snapshot() []FileSnapshot {
	out := make([]FileSnapshot, 0, len(d.order))
	for _, id := range d.order {
		f := d.files[id]
		out = append(out, FileSnapshot{
			ID:       f.id,
			Name:     f.name,
			Language: f.language,
			Content:  string(f.content),
			Revision: f.revision,
		})
	}
	return out
}

func applyOperation(content []rune, op Operation) ([]rune, error) {
	switch op.Kind {
	case OpInsert:
		if op.Position < 0 || op.Position > len(content) {
			return nil, fmt.Errorf("insert position %d out of range [0,%d]", op.Position, len(content))
		}
		text := []rune(op.Text)
		next := make([]rune, 0, len(content)+len(text))
		next = append(next, content[:op.Position]...)
		next = append(next, text...)
		next = append(next, content[op.Position:]...)
		return next, nil
	case OpDelete:
		if op.Length < 0 || op.Position < 0 || op.Position+op.Length > len(content) {
			return nil, fmt.Errorf("delete range [%d,%d) out of range [0,%d]", op.Position, op.Position+op.Length, len(content))
		}
		next := make([]rune, 0, len(content)-op.Length)
		next = append(next, content[:op.Position]...)
		next = append(next, content[op.Position+op.Length:]...)
		return next, nil
	case OpReplace:
		if op.Length < 0 || op.Position < 0 || op.Position+op.Length > len(content) {
			return nil, fmt.Errorf("replace range [%d,%d) out of range [0,%d]", op.Position, op.Position+op.Length, len(content))
		}
		text := []rune(op.Text)
		next := make([]rune, 0, len(content)-op.Length+len(text))
		next = append(next, content[:op.Position]...)
		next = append(next, text...)
		next = append(next, content[op.Position+op.Length:]...)
		return next, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
