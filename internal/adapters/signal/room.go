package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

func (ctl *Controller) handleJoin(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MeetingID == "" || p.ParticipantID == "" {
		ctl.sendError(c, codeInvalidMessage, "join requires meetingId and participantId")
		return
	}

	// A connection holds at most one membership: joining while joined
	// leaves the previous room first.
	ctl.leaveCurrentRoom(ctx, connID)

	roomID := domain.RoomID(p.MeetingID)
	pid := domain.ParticipantID(p.ParticipantID)
	snapshot, err := ctl.coord.Join(ctx, connID, roomID, pid, p.DisplayName)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("join failed")
		ctl.sendError(c, codeInternal, "failed to join room")
		return
	}

	ctl.sendEvent(c, evtRoomJoined, snapshot)

	frame, err := encodeEvent(evtParticipantJoined, participantJoinedPayload{
		ParticipantID: pid,
		Identity:      ownIdentity(ctl, connID),
		DisplayName:   p.DisplayName,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode participant-joined")
		return
	}
	ctl.coord.BroadcastRoom(ctx, roomID, frame, pid)
}

func (ctl *Controller) handleLeave(ctx context.Context, connID core.ConnID) {
	// Leaving a room you are not in is an idempotent no-op.
	ctl.leaveCurrentRoom(ctx, connID)
}

// leaveCurrentRoom removes the participant and tells the rest of the
// room. Shared by room:leave, re-join and the disconnect cleanup path.
func (ctl *Controller) leaveCurrentRoom(ctx context.Context, connID core.ConnID) {
	roomID, pid, ok := ctl.coord.Leave(ctx, connID)
	if !ok {
		return
	}
	frame, err := encodeEvent(evtParticipantLeft, participantLeftPayload{ParticipantID: pid})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode participant-left")
		return
	}
	ctl.coord.BroadcastRoom(ctx, roomID, frame, pid)
}

func ownIdentity(ctl *Controller, connID core.ConnID) domain.UserID {
	if snap, ok := ctl.coord.Registry().Get(connID); ok {
		return snap.UserID
	}
	return ""
}
