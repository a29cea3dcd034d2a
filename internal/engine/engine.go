package engine

import (
	"errors"
	"sync"
	"time"

	"codesession/internal/archive"
)

// Relay receives every broadcast event for external observers. Publish must
// not block; implementations queue internally and drop on overflow.
type Relay interface {
	Publish(sessionID string, payload []byte)
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// GracePeriod is how long a disconnected participant's state is kept
	// before removal and automatic lock release.
	GracePeriod time.Duration
	// IdleGrace closes a session that has had zero online participants for
	// this long.
	IdleGrace time.Duration
	// QueueWait bounds how long Join/Dispatch wait for a session's
	// serialization queue before returning BUSY.
	QueueWait time.Duration
	// DefaultMaxParticipants applies to sessions created without an explicit
	// limit. Zero means unlimited.
	DefaultMaxParticipants int
	// ChatTail is how many recent chat messages a join snapshot carries.
	ChatTail int
	// SendBuffer is the per-subscriber event buffer; a subscriber that lets
	// it fill is disconnected.
	SendBuffer int
	// AutosaveInterval is the cadence for offering snapshots to the archiver
	// in sessions with autosave enabled.
	AutosaveInterval time.Duration

	Archiver archive.Archiver
	Relay    Relay
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = 30 * time.Second
	}
	if o.IdleGrace <= 0 {
		o.IdleGrace = o.GracePeriod
	}
	if o.QueueWait <= 0 {
		o.QueueWait = 5 * time.Second
	}
	if o.ChatTail <= 0 {
		o.ChatTail = 50
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// ErrSessionExists is returned by CreateSession for an id already in use.
var ErrSessionExists = errors.New("session already exists")

// Engine owns every live session. Sessions are fully independent: each has
// its own serialization queue and they execute concurrently.
type Engine struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(opts Options) *Engine {
	return &Engine{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

func (e *Engine) lookup(sessionID string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, newError(CodeSessionNotFound, "unknown session", map[string]string{"sessionId": sessionID})
	}
	return s, nil
}

func (e *Engine) remove(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

func (e *Engine) newSessionLocked(id, title string, owner Identity, settings Settings) *Session {
	if settings.MaxParticipants == 0 {
		settings.MaxParticipants = e.opts.DefaultMaxParticipants
	}
	if title == "" {
		title = "Untitled session"
	}
	s := newSession(id, title, owner.ID, settings, e.opts, e.remove)
	e.sessions[id] = s
	return s
}

// CreateSession registers a session ahead of any join. The owner identity is
// recorded but the owner still joins like everyone else.
func (e *Engine) CreateSession(id, title string, owner Identity, settings Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; ok {
		return ErrSessionExists
	}
	e.newSessionLocked(id, title, owner, settings)
	return nil
}

// Join adds a participant to a session, creating the session on the first
// join request for its id (the first joiner becomes owner). On success it
// returns a consistent snapshot and the participant's event subscription.
func (e *Engine) Join(sessionID string, who Identity) (Snapshot, *Subscription, error) {
	who.Role = NormalizeRole(string(who.Role))

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		s = e.newSessionLocked(sessionID, "", who, Settings{})
	}
	e.mu.Unlock()

	var (
		snap    Snapshot
		sub     *Subscription
		joinErr error
	)
	if err := s.do(func() { snap, sub, joinErr = s.join(who) }); err != nil {
		return Snapshot{}, nil, err
	}
	if joinErr != nil {
		return Snapshot{}, nil, joinErr
	}
	return snap, sub, nil
}

// Leave is a deliberate departure: presence goes offline immediately, held
// locks are released, and the disconnect grace timer starts. A non-nil sub
// names the connection being torn down; if a newer connection has replaced it
// the call is a no-op, so a stale teardown never evicts the live seat.
func (e *Engine) Leave(sessionID, participantID string, sub *Subscription) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.do(func() { s.leave(participantID, true, sub) })
}

// Disconnect is a transport-level drop: presence goes offline but locks are
// retained until the grace period expires, so a brief blip does not cost the
// holder its edit rights. sub has the same replaced-connection semantics as
// in Leave.
func (e *Engine) Disconnect(sessionID, participantID string, sub *Subscription) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.do(func() { s.leave(participantID, false, sub) })
}

// Dispatch is the single serialization point for all intents against one
// session. It returns the canonical event (which has also been broadcast) or
// one of the taxonomy errors, delivered to the caller only.
func (e *Engine) Dispatch(sessionID, participantID string, intent Intent) (Event, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	var (
		ev     Event
		devErr error
	)
	if err := s.do(func() { ev, devErr = s.handle(participantID, intent) }); err != nil {
		return nil, err
	}
	return ev, devErr
}

// Close ends a session. Idempotent: closing an unknown or already closed
// session is not an error.
func (e *Engine) Close(sessionID, reason string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		if IsCode(err, CodeSessionNotFound) {
			return nil
		}
		return err
	}
	doErr := s.do(func() { s.closeLocked(reason) })
	if doErr != nil && IsCode(doErr, CodeSessionClosed) {
		return nil
	}
	return doErr
}

// SessionSnapshot builds a consistent snapshot through the serialized path,
// for read-only surfaces like the HTTP session view.
func (e *Engine) SessionSnapshot(sessionID string) (Snapshot, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := s.do(func() { snap = s.snapshotLocked("") }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// SessionIDs lists the ids of live sessions.
func (e *Engine) SessionIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown closes every session, flushing final snapshots to the archiver.
func (e *Engine) Shutdown(reason string) {
	for _, id := range e.SessionIDs() {
		if err := e.Close(id, reason); err != nil {
			continue
		}
	}
}
