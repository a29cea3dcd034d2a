package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"codesession/internal/archive"
)

// Subscription is one participant's view of the session event stream. Events
// arrive in broadcast order; a subscriber that stops draining is disconnected
// rather than allowed to stall delivery to others.
type Subscription struct {
	participantID string
	events        chan Event
}

// Events is the channel the transport drains. It is closed when the
// participant is disconnected or the session closes.
func (s *Subscription) Events() <-chan Event { return s.events }

// Session owns all state for one collaborative editing context. Every
// externally visible operation runs on the session's serialization queue:
// one intent at a time, in arrival order, so no mutation ever races another.
type Session struct {
	id        string
	title     string
	ownerID   string
	createdAt time.Time
	settings  Settings

	active   bool
	registry *registry
	presence *presenceTracker
	docs     *documentStore
	locks    *lockArbiter
	chat     *chatChannel

	subs        map[string]*Subscription
	graceTimers map[string]*time.Timer
	idleTimer   *time.Timer

	reqs chan func()
	quit chan struct{}

	opts     Options
	onRemove func(id string)
}

func newSession(id, title, ownerID string, settings Settings, opts Options, onRemove func(string)) *Session {
	s := &Session{
		id:          id,
		title:       title,
		ownerID:     ownerID,
		createdAt:   time.Now(),
		settings:    settings,
		active:      true,
		registry:    newRegistry(),
		docs:        newDocumentStore(),
		locks:       newLockArbiter(),
		chat:        newChatChannel(),
		subs:        make(map[string]*Subscription),
		graceTimers: make(map[string]*time.Timer),
		reqs:        make(chan func()),
		quit:        make(chan struct{}),
		opts:        opts,
		onRemove:    onRemove,
	}
	s.presence = newPresenceTracker(s.registry)
	go s.run()
	s.startIdleTimer()
	if settings.Autosave && opts.AutosaveInterval > 0 && opts.Archiver != nil {
		go s.autosaveLoop()
	}
	return s
}

// run is the serialization queue. The channel is unbuffered: a request is
// only accepted when the loop is ready to execute it, so a request that was
// accepted always runs.
func (s *Session) run() {
	for {
		select {
		case fn := <-s.reqs:
			fn()
		case <-s.quit:
			for {
				select {
				case fn := <-s.reqs:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do executes fn on the serialized path, waiting at most QueueWait for the
// queue. A wedged session yields BUSY instead of blocking its clients.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	timer := time.NewTimer(s.opts.QueueWait)
	defer timer.Stop()
	select {
	case s.reqs <- wrapped:
	case <-s.quit:
		return newError(CodeSessionClosed, "session is closed", nil)
	case <-timer.C:
		return newError(CodeBusy, "session queue is busy", nil)
	}
	<-done
	return nil
}

// async enqueues fn without a caller waiting; used by timers re-entering the
// serialized path.
func (s *Session) async(fn func()) {
	go func() {
		select {
		case s.reqs <- fn:
		case <-s.quit:
		}
	}()
}

func (s *Session) autosaveLoop() {
	ticker := time.NewTicker(s.opts.AutosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.async(func() { s.archiveLocked("autosave") })
		case <-s.quit:
			return
		}
	}
}

// join registers or reactivates a participant. Runs on the serialized path.
func (s *Session) join(who Identity) (Snapshot, *Subscription, error) {
	if !s.active {
		return Snapshot{}, nil, newError(CodeSessionClosed, "session is closed", nil)
	}

	now := time.Now()
	existing, known := s.registry.get(who.ID)
	switch {
	case known && !existing.Online:
		// Reconnect within the grace period: cancel expiry, resume the same
		// record with cursor and locks intact, no chat churn.
		s.cancelGraceTimer(who.ID)
		s.registry.reactivate(who.ID)
		s.broadcast(ParticipantJoined{SessionID: s.id, Participant: *existing, Rejoined: true})
	case known && existing.Online:
		// A second connection for the same participant replaces the first.
		s.dropSubscription(who.ID)
	default:
		if who.Role == RoleGuest && !s.settings.AllowGuests {
			return Snapshot{}, nil, newError(CodePermissionDenied, "guests are not allowed in this session", nil)
		}
		if s.settings.MaxParticipants > 0 && s.registry.seated() >= s.settings.MaxParticipants {
			return Snapshot{}, nil, newError(CodeSessionFull, "session is full",
				map[string]int{"maxParticipants": s.settings.MaxParticipants})
		}
		p := s.registry.register(who, now)
		msg := s.chat.post(SystemAuthor, who.DisplayName+" joined", MessageSystem, now)
		s.broadcast(ParticipantJoined{SessionID: s.id, Participant: *p})
		s.broadcast(ChatPosted{SessionID: s.id, Message: msg})
	}

	s.stopIdleTimer()

	sub := &Subscription{
		participantID: who.ID,
		events:        make(chan Event, s.opts.SendBuffer),
	}
	s.subs[who.ID] = sub
	return s.snapshotLocked(who.ID), sub, nil
}

// leave handles both a deliberate leave and a transport-level disconnect.
// A deliberate leave frees the participant's locks immediately; a disconnect
// keeps them until the grace period expires, so a brief network blip does not
// cost the holder its edit rights. A non-nil sub that is no longer the
// participant's current subscription marks the teardown of a replaced
// connection, which must not touch the live seat.
func (s *Session) leave(participantID string, deliberate bool, sub *Subscription) {
	if sub != nil && s.subs[participantID] != sub {
		return
	}
	p, ok := s.registry.get(participantID)
	if !ok || !p.Online {
		return
	}
	s.dropSubscription(participantID)
	s.registry.markOffline(participantID)

	reason := "disconnected"
	if deliberate {
		reason = "leave"
		s.releaseLocksOf(participantID, "leave")
		msg := s.chat.post(SystemAuthor, p.DisplayName+" left", MessageSystem, time.Now())
		s.broadcast(ChatPosted{SessionID: s.id, Message: msg})
	}
	s.broadcast(ParticipantLeft{SessionID: s.id, ParticipantID: participantID, Reason: reason})

	// A deliberate leave is already announced; expiry must stay silent for it.
	s.startGraceTimer(participantID, deliberate)
	if s.registry.onlineCount() == 0 {
		s.startIdleTimer()
	}
}

// expire removes a participant whose grace period ran out. announced marks a
// departure that was already broadcast and posted to chat when it happened,
// so expiry only reclaims the seat without repeating the announcement.
func (s *Session) expire(participantID string, announced bool) {
	p, ok := s.registry.get(participantID)
	if !ok || p.Online {
		return
	}
	delete(s.graceTimers, participantID)
	s.releaseLocksOf(participantID, "expired")
	name := p.DisplayName
	s.registry.expire(participantID)
	if !announced {
		msg := s.chat.post(SystemAuthor, name+" left", MessageSystem, time.Now())
		s.broadcast(ParticipantLeft{SessionID: s.id, ParticipantID: participantID, Reason: "expired"})
		s.broadcast(ChatPosted{SessionID: s.id, Message: msg})
	}
	if s.registry.onlineCount() == 0 {
		s.startIdleTimer()
	}
}

// handle routes one intent on the serialized path and returns the canonical
// event. The switch is exhaustive over the closed Intent set.
func (s *Session) handle(participantID string, intent Intent) (Event, error) {
	if !s.active {
		return nil, newError(CodeSessionClosed, "session is closed", nil)
	}
	p, ok := s.registry.get(participantID)
	if !ok || !p.Online {
		return nil, newError(CodePermissionDenied, "not an online participant of this session", nil)
	}

	switch in := intent.(type) {
	case *ProposeChange:
		return s.handleProposeChange(p, in)
	case *MoveCursor:
		s.presence.updateCursor(p.ID, in.FileID, in.Position)
		ev := CursorMoved{SessionID: s.id, ParticipantID: p.ID, FileID: in.FileID, Position: in.Position}
		s.broadcast(ev)
		return ev, nil
	case *SetTyping:
		s.presence.setTyping(p.ID, in.Typing)
		ev := TypingChanged{SessionID: s.id, ParticipantID: p.ID, Typing: in.Typing}
		s.broadcast(ev)
		return ev, nil
	case *AcquireLock:
		return s.handleAcquireLock(p, in)
	case *ReleaseLock:
		return s.handleReleaseLock(p, in)
	case *PostChat:
		content := strings.TrimSpace(in.Content)
		if content == "" {
			return nil, newError(CodeValidation, "chat message is empty", nil)
		}
		msg := s.chat.post(p.ID, content, MessageText, time.Now())
		ev := ChatPosted{SessionID: s.id, Message: msg}
		s.broadcast(ev)
		return ev, nil
	case *AddFile:
		return s.handleAddFile(p, in)
	case *Resync:
		return s.handleResync(in)
	case *CloseSession:
		if !p.Permissions.CanManage {
			return nil, newError(CodePermissionDenied, "closing the session requires manage permission", nil)
		}
		reason := in.Reason
		if reason == "" {
			reason = "closed by " + p.DisplayName
		}
		ev := s.closeLocked(reason)
		return ev, nil
	default:
		return nil, newError(CodeValidation, fmt.Sprintf("unsupported intent %q", intent.Kind()), nil)
	}
}

func (s *Session) handleProposeChange(p *Participant, in *ProposeChange) (Event, error) {
	if !p.Permissions.CanEdit {
		return nil, newError(CodePermissionDenied, "editing requires edit permission", nil)
	}
	if holder, locked := s.locks.holder(in.FileID); locked && holder != p.ID {
		return nil, newError(CodeNotLockHolder, "file is locked by another participant",
			LockConflictDetails{FileID: in.FileID, Holder: holder})
	}
	change, err := s.docs.propose(in.FileID, p.ID, in.BaseRevision, in.Op, time.Now())
	if err != nil {
		if errors.Is(err, errCorrupt) {
			log.Printf("engine: session %s fatal: %v", s.id, err)
			s.closeLocked("internal invariant violation: " + err.Error())
			return nil, newError(CodeSessionClosed, "session closed after internal error", nil)
		}
		return nil, err
	}
	ev := ChangeApplied{SessionID: s.id, FileID: in.FileID, Revision: change.Revision, Change: change}
	s.broadcast(ev)
	return ev, nil
}

func (s *Session) handleAcquireLock(p *Participant, in *AcquireLock) (Event, error) {
	if !p.Permissions.CanEdit {
		return nil, newError(CodePermissionDenied, "locking requires edit permission", nil)
	}
	if _, ok := s.docs.get(in.FileID); !ok {
		return nil, newError(CodeValidation, "unknown file", map[string]string{"fileId": in.FileID})
	}
	lock, lockErr := s.locks.acquire(in.FileID, p.ID, time.Now())
	if lockErr != nil {
		return nil, lockErr
	}
	ev := LockAcquired{SessionID: s.id, FileID: lock.FileID, HolderID: lock.HolderID, AcquiredAt: lock.AcquiredAt}
	s.broadcast(ev)
	return ev, nil
}

func (s *Session) handleReleaseLock(p *Participant, in *ReleaseLock) (Event, error) {
	if lockErr := s.locks.release(in.FileID, p.ID); lockErr != nil {
		return nil, lockErr
	}
	ev := LockReleased{SessionID: s.id, FileID: in.FileID, HolderID: p.ID, Reason: "release"}
	s.broadcast(ev)
	return ev, nil
}

func (s *Session) handleAddFile(p *Participant, in *AddFile) (Event, error) {
	if !p.Permissions.CanEdit {
		return nil, newError(CodePermissionDenied, "adding a file requires edit permission", nil)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, newError(CodeValidation, "file name is required", nil)
	}
	f := s.docs.add(name, in.Language, in.Content)
	ev := FileAdded{SessionID: s.id, File: FileSnapshot{
		ID:       f.id,
		Name:     f.name,
		Language: f.language,
		Content:  string(f.content),
		Revision: f.revision,
	}}
	s.broadcast(ev)
	return ev, nil
}

func (s *Session) handleResync(in *Resync) (Event, error) {
	changes, err := s.docs.changesSince(in.FileID, in.SinceRevision)
	if err != nil {
		return nil, err
	}
	f, _ := s.docs.get(in.FileID)
	// Returned to the requester only: resync is a private catch-up, not a
	// broadcast.
	return ResyncResult{
		SessionID:       s.id,
		FileID:          in.FileID,
		CurrentRevision: f.revision,
		Changes:         changes,
		Content:         string(f.content),
	}, nil
}

// closeLocked is the terminal transition. Idempotent; all locks are freed,
// every subscriber receives session_closed, and a final snapshot is offered
// to the archiver.
func (s *Session) closeLocked(reason string) Event {
	if !s.active {
		return SessionClosed{SessionID: s.id, Reason: reason}
	}
	s.active = false

	for id, timer := range s.graceTimers {
		timer.Stop()
		delete(s.graceTimers, id)
	}
	s.stopIdleTimer()
	s.locks = newLockArbiter()

	ev := SessionClosed{SessionID: s.id, Reason: reason}
	s.broadcast(ev)
	for id := range s.subs {
		s.dropSubscription(id)
	}

	s.archiveLocked("close")
	if s.onRemove != nil {
		s.onRemove(s.id)
	}
	close(s.quit)
	return ev
}

// broadcast fans an event out to every subscriber without blocking on any of
// them, then publishes it to the relay. A subscriber with a persistently
// full buffer is treated as disconnected.
func (s *Session) broadcast(ev Event) {
	var slow []string
	for id, sub := range s.subs {
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		log.Printf("engine: session %s dropping slow subscriber %s", s.id, id)
		s.dropSubscription(id)
		if p, ok := s.registry.get(id); ok && p.Online {
			s.registry.markOffline(id)
			s.broadcast(ParticipantLeft{SessionID: s.id, ParticipantID: id, Reason: "slow"})
			s.startGraceTimer(id, false)
		}
	}
	if s.opts.Relay != nil {
		if payload, err := EncodeEvent(ev); err == nil {
			s.opts.Relay.Publish(s.id, payload)
		} else {
			log.Printf("engine: session %s relay encode failed: %v", s.id, err)
		}
	}
}

func (s *Session) dropSubscription(participantID string) {
	if sub, ok := s.subs[participantID]; ok {
		delete(s.subs, participantID)
		close(sub.events)
	}
}

func (s *Session) releaseLocksOf(participantID, reason string) {
	for _, freed := range s.locks.releaseAllHeldBy(participantID) {
		s.broadcast(LockReleased{SessionID: s.id, FileID: freed.FileID, HolderID: freed.HolderID, Reason: reason})
	}
}

func (s *Session) startGraceTimer(participantID string, announced bool) {
	s.cancelGraceTimer(participantID)
	s.graceTimers[participantID] = time.AfterFunc(s.opts.GracePeriod, func() {
		s.async(func() { s.expire(participantID, announced) })
	})
}

func (s *Session) cancelGraceTimer(participantID string) {
	if timer, ok := s.graceTimers[participantID]; ok {
		timer.Stop()
		delete(s.graceTimers, participantID)
	}
}

func (s *Session) startIdleTimer() {
	s.stopIdleTimer()
	s.idleTimer = time.AfterFunc(s.opts.IdleGrace, func() {
		s.async(func() {
			if s.active && s.registry.onlineCount() == 0 {
				s.closeLocked("idle")
			}
		})
	})
}

func (s *Session) stopIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// snapshotLocked builds a view consistent with a single point on the
// serialized path; it can never observe a torn write.
func (s *Session) snapshotLocked(viewerID string) Snapshot {
	files := s.docs.snapshot()
	for i := range files {
		if holder, ok := s.locks.holder(files[i].ID); ok {
			files[i].LockedBy = holder
		}
	}
	snap := Snapshot{
		SessionID:    s.id,
		Title:        s.title,
		Files:        files,
		Participants: s.registry.list(),
		Chat:         s.chat.tail(s.opts.ChatTail),
	}
	if viewer, ok := s.registry.get(viewerID); ok {
		snap.You = *viewer
	}
	return snap
}

// archiveLocked captures a snapshot on the serialized path and hands it to
// the archiver asynchronously so persistence never blocks session traffic.
func (s *Session) archiveLocked(cause string) {
	if s.opts.Archiver == nil {
		return
	}
	snap := archive.Snapshot{
		SessionID: s.id,
		Title:     s.title,
		TakenAt:   time.Now(),
	}
	for _, f := range s.docs.snapshot() {
		snap.Files = append(snap.Files, archive.FileSnapshot{
			FileID:   f.ID,
			Name:     f.Name,
			Language: f.Language,
			Content:  f.Content,
			Revision: f.Revision,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.opts.Archiver.SaveSnapshot(ctx, snap); err != nil {
			log.Printf("engine: session %s %s snapshot failed: %v", s.id, cause, err)
		}
	}()
}
