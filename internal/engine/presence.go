package engine

// presenceTracker maintains cursor position and typing state per participant.
// Presence is advisory: last write wins, nothing is recorded in any change
// log, and no ordering is guaranteed relative to document changes.
type presenceTracker struct {
	reg *registry
}

func newPresenceTracker(reg *registry) *presenceTracker {
	return &presenceTracker{reg: reg}
}

func (t *presenceTracker) updateCursor(participantID, fileID string, position int) bool {
	p, ok := t.reg.get(participantID)
	if !ok {
		return false
	}
	p.Cursor = &Cursor{FileID: fileID, Position: position}
	return true
}

func (t *presenceTracker) setTyping(participantID string, typing bool) bool {
	p, ok := t.reg.get(participantID)
	if !ok {
		return false
	}
	p.Typing = typing
	return true
}
