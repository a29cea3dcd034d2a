// Package engine implements the collaborative code-session synchronization
// engine: per-session serialized state (participants, files, locks, chat)
// with canonical event fan-out to every connected participant.
package engine

import "time"

// SystemAuthor is the reserved author id for coordinator-posted chat messages.
const SystemAuthor = "system"

// Identity is the externally resolved identity handed to Join. The engine
// never authenticates credentials itself.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Settings configures a single session.
type Settings struct {
	MaxParticipants int  `json:"maxParticipants"`
	AllowGuests     bool `json:"allowGuests"`
	Autosave        bool `json:"autosave"`
}

// Cursor is a participant's advisory position inside one file.
type Cursor struct {
	FileID   string `json:"fileId"`
	Position int    `json:"position"`
}

// Participant is one member of a session. Identity persists across brief
// disconnects: reconnection within the grace period resumes the same record.
type Participant struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Role        Role        `json:"role"`
	Online      bool        `json:"online"`
	Permissions Permissions `json:"permissions"`
	Cursor      *Cursor     `json:"cursor,omitempty"`
	Typing      bool        `json:"typing"`
	JoinedAt    time.Time   `json:"joinedAt"`
}

type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
)

// Operation is a single edit against a file. Positions and lengths are rune
// offsets into the file content.
type Operation struct {
	Kind     OpKind `json:"kind"`
	Position int    `json:"position"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Change is an accepted, sequenced operation. Immutable once appended to a
// file's change log.
type Change struct {
	ID           string    `json:"id"`
	FileID       string    `json:"fileId"`
	AuthorID     string    `json:"authorId"`
	BaseRevision int64     `json:"baseRevision"`
	Revision     int64     `json:"revision"`
	Op           Operation `json:"op"`
	Timestamp    time.Time `json:"timestamp"`
}

// Lock is exclusive edit access to one file. At most one live lock per file.
type Lock struct {
	FileID     string    `json:"fileId"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// ChatMessage is one entry in the session's append-only chat log. Seq is the
// session-scoped monotonic sequence number every participant observes in the
// same order.
type ChatMessage struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	AuthorID  string      `json:"authorId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// FileSnapshot is the point-in-time view of one file inside a Snapshot.
type FileSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
	Revision int64  `json:"revision"`
	LockedBy string `json:"lockedBy,omitempty"`
}

// Snapshot is the full session view returned by Join so a client can render
// current state without replaying history. It is built on the serialized
// path, so files, roster and chat tail are consistent with one another.
type Snapshot struct {
	SessionID    string         `json:"sessionId"`
	Title        string         `json:"title"`
	You          Participant    `json:"you"`
	Files        []FileSnapshot `json:"files"`
	Participants []Participant  `json:"participants"`
	Chat         []ChatMessage  `json:"chat"`
}
