package relay

import (
	"log/slog"
	"sync"

	"github.com/cwrk-planet/chat-relay/internal/domain"
	"github.com/cwrk-planet/chat-relay/internal/metrics"
)

// Conn is one live subscriber. Deliver must not block: slow or closed
// connections report an error instead.
type Conn interface {
	ID() string
	Deliver(msg domain.Message) error
}

// Registry maps room ids to their current members. It is created once per
// process and changed only through Join, LeaveRoom and Leave.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]map[Conn]struct{} // roomID -> members
	memberships map[Conn]map[string]struct{} // conn -> roomIDs
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:       make(map[string]map[Conn]struct{}),
		memberships: make(map[Conn]map[string]struct{}),
	}
}

// Join is idempotent.
func (r *Registry) Join(c Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[Conn]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}

	joined, ok := r.memberships[c]
	if !ok {
		joined = make(map[string]struct{})
		r.memberships[c] = joined
	}
	joined[roomID] = struct{}{}

	metrics.RoomsActive.Set(float64(len(r.rooms)))
}

// LeaveRoom drops a single membership.
func (r *Registry) LeaveRoom(c Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c, roomID)
	if joined, ok := r.memberships[c]; ok && len(joined) == 0 {
		delete(r.memberships, c)
	}
	metrics.RoomsActive.Set(float64(len(r.rooms)))
}

// Leave drops every membership of c. No-op for unknown connections.
func (r *Registry) Leave(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.memberships[c] {
		r.removeLocked(c, roomID)
	}
	delete(r.memberships, c)
	metrics.RoomsActive.Set(float64(len(r.rooms)))
}

func (r *Registry) removeLocked(c Conn, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.memberships[c]; ok {
		delete(joined, roomID)
	}
}

// Broadcast delivers msg to every current member of roomID and returns the
// number of successful deliveries. A failing member does not stop the rest.
func (r *Registry) Broadcast(roomID string, msg domain.Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for c := range r.rooms[roomID] {
		if err := c.Deliver(msg); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			slog.Warn("relay.Broadcast: deliver failed",
				"room", roomID, "conn", c.ID(), "msg_id", msg.ID, "err", err)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
		delivered++
	}
	return delivered
}

// Members returns the number of connections currently in roomID.
func (r *Registry) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[roomID])
}

// Rooms returns the ids of the rooms c is a member of.
func (r *Registry) Rooms(c Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.memberships[c]))
	for roomID := range r.memberships[c] {
		out = append(out, roomID)
	}
	return out
}
