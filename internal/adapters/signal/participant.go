package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

func (ctl *Controller) handleToggleAudio(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, codeInvalidMessage, "bad toggle payload")
		return
	}
	ctl.updateOwn(ctx, connID, c,
		func(s *domain.ParticipantState) { s.IsMuted = !p.Enabled },
		func(s domain.ParticipantState) stateChangedPayload {
			return stateChangedPayload{ParticipantID: s.ParticipantID, IsMuted: &s.IsMuted}
		})
}

func (ctl *Controller) handleToggleVideo(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, codeInvalidMessage, "bad toggle payload")
		return
	}
	ctl.updateOwn(ctx, connID, c,
		func(s *domain.ParticipantState) { s.IsVideoOn = p.Enabled },
		func(s domain.ParticipantState) stateChangedPayload {
			return stateChangedPayload{ParticipantID: s.ParticipantID, IsVideoOn: &s.IsVideoOn}
		})
}

func (ctl *Controller) handleScreenShare(ctx context.Context, connID core.ConnID, c *wsSignalConn, sharing bool) {
	ctl.updateOwn(ctx, connID, c,
		func(s *domain.ParticipantState) { s.IsScreenSharing = sharing },
		func(s domain.ParticipantState) stateChangedPayload {
			return stateChangedPayload{ParticipantID: s.ParticipantID, IsScreenSharing: &s.IsScreenSharing}
		})
}

func (ctl *Controller) handleRaiseHand(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p raiseHandPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, codeInvalidMessage, "bad raise-hand payload")
		return
	}
	ctl.updateOwn(ctx, connID, c,
		func(s *domain.ParticipantState) { s.IsHandRaised = p.Raised },
		func(s domain.ParticipantState) stateChangedPayload {
			return stateChangedPayload{ParticipantID: s.ParticipantID, IsHandRaised: &s.IsHandRaised}
		})
}

// updateOwn mutates the caller's own entry and broadcasts the changed
// field to the rest of the room. The entry is always the connection's
// own: there is no way to address another participant here.
func (ctl *Controller) updateOwn(
	ctx context.Context,
	connID core.ConnID,
	c *wsSignalConn,
	apply func(*domain.ParticipantState),
	patch func(domain.ParticipantState) stateChangedPayload,
) {
	state, err := ctl.coord.UpdateOwnState(ctx, connID, apply)
	if err != nil {
		if errors.Is(err, core.ErrNotJoined) {
			ctl.sendError(c, codeNotJoined, "join a room first")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("state update failed")
		ctl.sendError(c, codeInternal, "failed to update state")
		return
	}

	snap, ok := ctl.coord.Registry().Get(connID)
	if !ok {
		return
	}
	frame, err := encodeEvent(evtStateChanged, patch(state))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode state-changed")
		return
	}
	ctl.coord.BroadcastRoom(ctx, snap.RoomID, frame, snap.ParticipantID)
}

// handleReaction is stateless: nothing is persisted, the reaction is
// fanned out with the sender's id.
func (ctl *Controller) handleReaction(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Type == "" {
		ctl.sendError(c, codeInvalidMessage, "bad reaction payload")
		return
	}
	snap, ok := ctl.coord.Registry().Get(connID)
	if !ok || snap.RoomID == "" {
		ctl.sendError(c, codeNotJoined, "join a room first")
		return
	}
	frame, err := encodeEvent(evtReaction, reactionEventPayload{
		ParticipantID: snap.ParticipantID,
		ReactionType:  p.Type,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode reaction")
		return
	}
	ctl.coord.BroadcastRoom(ctx, snap.RoomID, frame, snap.ParticipantID)
}

func (ctl *Controller) handleSetRecording(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p recordingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, codeInvalidMessage, "bad recording payload")
		return
	}
	flags, err := ctl.coord.SetRecording(ctx, connID, p.IsRecording)
	if err != nil {
		ctl.sendError(c, codeNotJoined, "join a room first")
		return
	}
	snap, ok := ctl.coord.Registry().Get(connID)
	if !ok {
		return
	}
	frame, err := encodeEvent(evtMeetingStateChanged, meetingStatePayload{IsRecording: flags.IsRecording})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode meeting-state-changed")
		return
	}
	// Room-level change: everyone sees it, the sender included.
	ctl.coord.BroadcastRoom(ctx, snap.RoomID, frame, "")
}

func (ctl *Controller) handleActiveSpeaker(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p activeSpeakerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, codeInvalidMessage, "bad active-speaker payload")
		return
	}
	flags, err := ctl.coord.SetActiveSpeaker(ctx, connID, p.ParticipantID)
	if err != nil {
		ctl.sendError(c, codeNotJoined, "join a room first")
		return
	}
	snap, ok := ctl.coord.Registry().Get(connID)
	if !ok {
		return
	}
	frame, err := encodeEvent(evtActiveSpeaker, activeSpeakerPayload{ParticipantID: flags.ActiveSpeakerID})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode active-speaker")
		return
	}
	ctl.coord.BroadcastRoom(ctx, snap.RoomID, frame, "")
}
