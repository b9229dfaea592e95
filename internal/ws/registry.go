package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// Member is an endpoint's room membership: transient fan-out state only.
// The session store remains authoritative for persisted identity.
type Member struct {
	Endpoint Endpoint
	Role     string
	Name     string
	Code     string
}

type room struct {
	teachers map[string]*Member // endpointID -> member
	students map[string]*Member
}

// Registry maps session codes to connected endpoints for targeted
// fan-out. Role maps give O(1) teacher-only addressing.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	endpoints map[string]*Member // endpointID -> member, for O(1) detach
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:     make(map[string]*room),
		endpoints: make(map[string]*Member),
		logger:    logger,
	}
}

// Attach registers an endpoint in a room under a role and identity. An
// endpoint holds at most one membership; re-attaching moves it.
func (r *Registry) Attach(code string, ep Endpoint, role, name string) error {
	if ep == nil {
		return ErrNilEndpoint
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.endpoints[ep.ID()]; ok {
		r.detachLocked(ep.ID(), existing)
	}

	rm, ok := r.rooms[code]
	if !ok {
		rm = &room{
			teachers: make(map[string]*Member),
			students: make(map[string]*Member),
		}
		r.rooms[code] = rm
	}

	m := &Member{Endpoint: ep, Role: role, Name: name, Code: code}
	r.endpoints[ep.ID()] = m
	if role == types.RoleTeacher {
		rm.teachers[ep.ID()] = m
	} else {
		rm.students[ep.ID()] = m
	}
	return nil
}

// Detach removes the endpoint from its room. The returned member tells
// the caller who just left; ok is false when the endpoint was unknown.
func (r *Registry) Detach(endpointID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.endpoints[endpointID]
	if !ok {
		return Member{}, false
	}
	r.detachLocked(endpointID, m)
	return *m, true
}

func (r *Registry) detachLocked(endpointID string, m *Member) {
	delete(r.endpoints, endpointID)
	rm, ok := r.rooms[m.Code]
	if !ok {
		return
	}
	delete(rm.teachers, endpointID)
	delete(rm.students, endpointID)
	if len(rm.teachers) == 0 && len(rm.students) == 0 {
		delete(r.rooms, m.Code)
	}
}

// Lookup returns the membership for an endpoint ID.
func (r *Registry) Lookup(endpointID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.endpoints[endpointID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// ListRole returns the members of a room holding the given role.
func (r *Registry) ListRole(code, role string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil
	}
	src := rm.students
	if role == types.RoleTeacher {
		src = rm.teachers
	}
	members := make([]Member, 0, len(src))
	for _, m := range src {
		members = append(members, *m)
	}
	return members
}

// TeacherCount reports how many teacher endpoints a room currently has.
func (r *Registry) TeacherCount(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rm, ok := r.rooms[code]; ok {
		return len(rm.teachers)
	}
	return 0
}

// Broadcast enqueues the event on every member of the room. Delivery
// failures on one endpoint never block the rest.
func (r *Registry) Broadcast(code, event string, data any) {
	r.send(r.members(code), "", event, data)
}

// BroadcastExcept is Broadcast minus one endpoint, for user-joined and
// user-left notifications that the subject should not receive.
func (r *Registry) BroadcastExcept(code, exceptID, event string, data any) {
	r.send(r.members(code), exceptID, event, data)
}

// EmitToTeachers delivers the event to the room's teachers only.
func (r *Registry) EmitToTeachers(code, event string, data any) {
	r.send(r.ListRole(code, types.RoleTeacher), "", event, data)
}

func (r *Registry) members(code string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil
	}
	members := make([]Member, 0, len(rm.teachers)+len(rm.students))
	for _, m := range rm.teachers {
		members = append(members, *m)
	}
	for _, m := range rm.students {
		members = append(members, *m)
	}
	return members
}

func (r *Registry) send(members []Member, exceptID, event string, data any) {
	for _, m := range members {
		if exceptID != "" && m.Endpoint.ID() == exceptID {
			continue
		}
		if err := m.Endpoint.Send(event, data); err != nil {
			r.logger.Debug("event delivery failed",
				zap.String("event", event),
				zap.String("endpoint", m.Endpoint.ID()),
				zap.Error(err))
		}
	}
}

// CloseAll closes every attached endpoint and clears the registry.
// Used on graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	members := make([]*Member, 0, len(r.endpoints))
	for _, m := range r.endpoints {
		members = append(members, m)
	}
	r.rooms = make(map[string]*room)
	r.endpoints = make(map[string]*Member)
	r.mu.Unlock()

	for _, m := range members {
		_ = m.Endpoint.Close()
	}
}

// Stats summarizes registry state for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"endpoints": len(r.endpoints),
		"rooms":     len(r.rooms),
	}
}
