package engine

import (
	"encoding/json"
	"fmt"
)

type IntentKind string

const (
	IntentProposeChange IntentKind = "propose_change"
	IntentMoveCursor    IntentKind = "move_cursor"
	IntentSetTyping     IntentKind = "set_typing"
	IntentAcquireLock   IntentKind = "acquire_lock"
	IntentReleaseLock   IntentKind = "release_lock"
	IntentPostChat      IntentKind = "post_chat"
	IntentAddFile       IntentKind = "add_file"
	IntentResync        IntentKind = "resync"
	IntentCloseSession  IntentKind = "close_session"
)

// Intent is the closed set of client requests Dispatch accepts.
type Intent interface {
	Kind() IntentKind
}

type ProposeChange struct {
	FileID       string    `json:"fileId"`
	BaseRevision int64     `json:"baseRevision"`
	Op           Operation `json:"op"`
}

func (*ProposeChange) Kind() IntentKind { return IntentProposeChange }

type MoveCursor struct {
	FileID   string `json:"fileId"`
	Position int    `json:"position"`
}

func (*MoveCursor) Kind() IntentKind { return IntentMoveCursor }

type SetTyping struct {
	Typing bool `json:"typing"`
}

func (*SetTyping) Kind() IntentKind { return IntentSetTyping }

type AcquireLock struct {
	FileID string `json:"fileId"`
}

func (*AcquireLock) Kind() IntentKind { return IntentAcquireLock }

type ReleaseLock struct {
	FileID string `json:"fileId"`
}

func (*ReleaseLock) Kind() IntentKind { return IntentReleaseLock }

type PostChat struct {
	Content string `json:"content"`
}

func (*PostChat) Kind() IntentKind { return IntentPostChat }

type AddFile struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

func (*AddFile) Kind() IntentKind { return IntentAddFile }

type Resync struct {
	FileID        string `json:"fileId"`
	SinceRevision int64  `json:"sinceRevision"`
}

func (*Resync) Kind() IntentKind { return IntentResync }

type CloseSession struct {
	Reason string `json:"reason"`
}

func (*CloseSession) Kind() IntentKind { return IntentCloseSession }

// DecodeIntent parses a wire envelope ({"type": "...", ...}) into its
// concrete intent. Unknown types are rejected.
func DecodeIntent(data []byte) (Intent, error) {
	var head struct {
		Type IntentKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode intent envelope: %w", err)
	}
	var intent Intent
	switch head.Type {
	case IntentProposeChange:
		intent = &ProposeChange{}
	case IntentMoveCursor:
		intent = &MoveCursor{}
	case IntentSetTyping:
		intent = &SetTyping{}
	case IntentAcquireLock:
		intent = &AcquireLock{}
	case IntentReleaseLock:
		intent = &ReleaseLock{}
	case IntentPostChat:
		intent = &PostChat{}
	case IntentAddFile:
		intent = &AddFile{}
	case IntentResync:
		intent = &Resync{}
	case IntentCloseSession:
		intent = &CloseSession{}
	default:
		return nil, fmt.Errorf("unknown intent type %q", head.Type)
	}
	if err := json.Unmarshal(data, intent); err != nil {
		return nil, fmt.Errorf("decode %s intent: %w", head.Type, err)
	}
	return intent, nil
}
