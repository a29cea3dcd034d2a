package engine

import "time"

// registry tracks who belongs to a session. A participant id is unique per
// session and is always in exactly one of three states: online, offline
// within the disconnect grace period, or removed. Offline participants keep
// their record so a reconnect resumes the same identity instead of creating a
// duplicate.
type registry struct {
	participants map[string]*Participant
	order        []string
}

func newRegistry() *registry {
	return &registry{participants: make(map[string]*Participant)}
}

func (r *registry) get(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	return p, ok
}

func (r *registry) register(who Identity, now time.Time) *Participant {
	p := &Participant{
		ID:          who.ID,
		DisplayName: who.DisplayName,
		Role:        who.Role,
		Online:      true,
		Permissions: permissionsFor(who.Role),
		JoinedAt:    now,
	}
	r.participants[who.ID] = p
	r.order = append(r.order, who.ID)
	return p
}

func (r *registry) markOffline(id string) {
	if p, ok := r.participants[id]; ok {
		p.Online = false
		p.Typing = false
	}
}

// reactivate brings an in-grace participant back online, retaining prior
// cursor state. Returns false if the id is unknown.
func (r *registry) reactivate(id string) (*Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return nil, false
	}
	p.Online = true
	return p, true
}

func (r *registry) expire(id string) {
	delete(r.participants, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// seated counts participants holding a seat: online or within grace.
func (r *registry) seated() int {
	return len(r.participants)
}

func (r *registry) onlineCount() int {
	count := 0
	for _, p := range r.participants {
		if p.Online {
			count++
		}
	}
	return count
}

// list returns participant copies in join order.
func (r *registry) list() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.participants[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}
