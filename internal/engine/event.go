package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventKind string

const (
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventFileAdded         EventKind = "file_added"
	EventChangeApplied     EventKind = "change_applied"
	EventChangeRejected    EventKind = "change_rejected"
	EventCursorMoved       EventKind = "cursor_moved"
	EventTypingChanged     EventKind = "typing_changed"
	EventLockAcquired      EventKind = "lock_acquired"
	EventLockReleased      EventKind = "lock_released"
	EventChatMessage       EventKind = "chat_message"
	EventResyncResult      EventKind = "resync"
	EventSessionClosed     EventKind = "session_closed"
)

// Event is the closed set of canonical events the engine broadcasts. Adding a
// kind means adding a struct here and handling it wherever events are
// matched; there is no string-keyed dispatch.
type Event interface {
	Kind() EventKind
}

type ParticipantJoined struct {
	SessionID   string      `json:"sessionId"`
	Participant Participant `json:"participant"`
	// Rejoined marks a reactivation inside the grace period rather than a
	// first join, so clients can suppress join churn in the UI.
	Rejoined bool `json:"rejoined,omitempty"`
}

func (ParticipantJoined) Kind() EventKind { return EventParticipantJoined }

type ParticipantLeft struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	// Reason is one of "leave", "disconnected", "expired", "slow".
	Reason string `json:"reason"`
}

func (ParticipantLeft) Kind() EventKind { return EventParticipantLeft }

type FileAdded struct {
	SessionID string       `json:"sessionId"`
	File      FileSnapshot `json:"file"`
}

func (FileAdded) Kind() EventKind { return EventFileAdded }

type ChangeApplied struct {
	SessionID string `json:"sessionId"`
	FileID    string `json:"fileId"`
	Revision  int64  `json:"revision"`
	Change    Change `json:"change"`
}

func (ChangeApplied) Kind() EventKind { return EventChangeApplied }

// ChangeRejected is delivered to the proposing participant only; it instructs
// the client to discard its pending local edit and resync before retrying.
type ChangeRejected struct {
	SessionID       string `json:"sessionId"`
	FileID          string `json:"fileId"`
	CurrentRevision int64  `json:"currentRevision"`
	Content         string `json:"content"`
}

func (ChangeRejected) Kind() EventKind { return EventChangeRejected }

type CursorMoved struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	FileID        string `json:"fileId"`
	Position      int    `json:"position"`
}

func (CursorMoved) Kind() EventKind { return EventCursorMoved }

type TypingChanged struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Typing        bool   `json:"typing"`
}

func (TypingChanged) Kind() EventKind { return EventTypingChanged }

type LockAcquired struct {
	SessionID  string    `json:"sessionId"`
	FileID     string    `json:"fileId"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

func (LockAcquired) Kind() EventKind { return EventLockAcquired }

type LockReleased struct {
	SessionID string `json:"sessionId"`
	FileID    string `json:"fileId"`
	HolderID  string `json:"holderId"`
	// Reason is one of "release", "leave", "expired", "closed".
	Reason string `json:"reason"`
}

func (LockReleased) Kind() EventKind { return EventLockReleased }

type ChatPosted struct {
	SessionID string      `json:"sessionId"`
	Message   ChatMessage `json:"message"`
}

func (ChatPosted) Kind() EventKind { return EventChatMessage }

// ResyncResult is delivered to the requesting participant only. Changes
// replays the file's log after SinceRevision; Content is the authoritative
// text at CurrentRevision for clients that prefer a full refresh.
type ResyncResult struct {
	SessionID       string   `json:"sessionId"`
	FileID          string   `json:"fileId"`
	CurrentRevision int64    `json:"currentRevision"`
	Changes         []Change `json:"changes"`
	Content         string   `json:"content"`
}

func (ResyncResult) Kind() EventKind { return EventResyncResult }

type SessionClosed struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func (SessionClosed) Kind() EventKind { return EventSessionClosed }

// EncodeEvent renders an event as its self-describing wire envelope: the
// event's own fields plus a "type" discriminator.
func EncodeEvent(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("reshape event: %w", err)
	}
	kind, err := json.Marshal(string(ev.Kind()))
	if err != nil {
		return nil, err
	}
	fields["type"] = kind
	return json.Marshal(fields)
}
