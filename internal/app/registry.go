package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

// ConnState is the per-connection protocol state.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateJoined
	StateClosed
)

type connEntry struct {
	conn          core.SignalConnection
	state         ConnState
	userID        domain.UserID
	roomID        domain.RoomID
	participantID domain.ParticipantID
}

// ConnSnapshot is a read-only copy of one registry entry.
type ConnSnapshot struct {
	ID            core.ConnID
	Conn          core.SignalConnection
	State         ConnState
	UserID        domain.UserID
	RoomID        domain.RoomID
	ParticipantID domain.ParticipantID
}

// Registry is the process-local table of live connections. It is never
// shared or serialized across instances; cross-instance awareness goes
// through the backplane only.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Register(id core.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{conn: conn, state: StateConnecting}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("registered connection")
}

func (r *Registry) Authenticate(id core.ConnID, userID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.userID = userID
	e.state = StateAuthenticated
	return true
}

func (r *Registry) TagRoom(id core.ConnID, roomID domain.RoomID, pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.roomID = roomID
	e.participantID = pid
	e.state = StateJoined
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(roomID)).Str("participant", string(pid)).Msg("tagged room")
	return true
}

func (r *Registry) ClearRoom(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.roomID = ""
		e.participantID = ""
		if e.state == StateJoined {
			e.state = StateAuthenticated
		}
	}
}

func (r *Registry) Unregister(id core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unregistered connection")
}

func (r *Registry) Get(id core.ConnID) (ConnSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return ConnSnapshot{}, false
	}
	return snapshotOf(id, e), true
}

func (r *Registry) Connections() []ConnSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnapshot, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, snapshotOf(id, e))
	}
	return out
}

// CountInRoom counts connections of this process joined to the room.
func (r *Registry) CountInRoom(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.conns {
		if e.state == StateJoined && e.roomID == roomID {
			n++
		}
	}
	return n
}

// BroadcastLocal delivers a frame to every local connection joined to
// the room, skipping the excluded participant. Slow consumers drop the
// frame rather than block the caller.
func (r *Registry) BroadcastLocal(roomID domain.RoomID, frame core.Frame, exclude domain.ParticipantID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sent := 0
	for id, e := range r.conns {
		if e.state != StateJoined || e.roomID != roomID {
			continue
		}
		if exclude != "" && e.participantID == exclude {
			continue
		}
		if err := e.conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(id)).Msg("dropping frame")
			continue
		}
		sent++
	}
	return sent
}

// SendToParticipant delivers to the one matching connection, if any.
// No match is a silent no-op.
func (r *Registry) SendToParticipant(roomID domain.RoomID, pid domain.ParticipantID, frame core.Frame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.conns {
		if e.state == StateJoined && e.roomID == roomID && e.participantID == pid {
			return e.conn.TrySend(frame) == nil
		}
	}
	return false
}

func snapshotOf(id core.ConnID, e *connEntry) ConnSnapshot {
	return ConnSnapshot{
		ID:            id,
		Conn:          e.conn,
		State:         e.state,
		UserID:        e.userID,
		RoomID:        e.roomID,
		ParticipantID: e.participantID,
	}
}
