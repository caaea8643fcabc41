package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

// Coordinator owns the room-membership logic: it moves participant
// state through the store, keeps the backplane subscription set in
// sync with local presence, and fans events out both locally and
// across instances. Transport and protocol stay in the adapter.
type Coordinator struct {
	instanceID string
	registry   *Registry
	store      core.RoomStore
	backplane  core.Backplane
}

func NewCoordinator(registry *Registry, store core.RoomStore, backplane core.Backplane) *Coordinator {
	return &Coordinator{
		instanceID: uuid.NewString(),
		registry:   registry,
		store:      store,
		backplane:  backplane,
	}
}

func (c *Coordinator) Registry() *Registry { return c.registry }

// HandleBackplane delivers remote events to local connections. Own
// envelopes are discarded: local fan-out already happened at publish.
func (c *Coordinator) HandleBackplane(roomID domain.RoomID, env core.Envelope) {
	if env.Origin == c.instanceID {
		return
	}
	c.registry.BroadcastLocal(roomID, core.Frame(env.Frame), env.Exclude)
}

// Join writes the participant entry with join-time defaults, subscribes
// the room channel, tags the connection, and returns the room snapshot.
// The caller must have left any previous room first.
func (c *Coordinator) Join(ctx context.Context, connID core.ConnID, roomID domain.RoomID, pid domain.ParticipantID, displayName string) (domain.RoomSnapshot, error) {
	snap, ok := c.registry.Get(connID)
	if !ok || snap.State < StateAuthenticated {
		return domain.RoomSnapshot{}, core.ErrNotAuthenticated
	}
	if snap.State == StateJoined {
		return domain.RoomSnapshot{}, core.ErrAlreadyJoined
	}

	// Subscribe before the store write so no event published between
	// the two is missed.
	if err := c.backplane.Subscribe(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("backplane subscribe failed, cross-instance delivery degraded")
	}

	p := domain.NewParticipantState(pid, snap.UserID, displayName)
	if err := c.store.SetParticipant(ctx, roomID, p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Str("participant", string(pid)).Msg("store write failed on join")
	}

	c.registry.TagRoom(connID, roomID, pid)
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("participant", string(pid)).Str("identity", string(snap.UserID)).Msg("participant joined")

	return c.roomSnapshot(ctx, roomID), nil
}

// Leave removes the participant entry and clears the connection's room
// tag. Leaving while not joined is an idempotent no-op. The last local
// departure from a room drops its backplane subscription.
func (c *Coordinator) Leave(ctx context.Context, connID core.ConnID) (domain.RoomID, domain.ParticipantID, bool) {
	snap, ok := c.registry.Get(connID)
	if !ok || snap.State != StateJoined {
		return "", "", false
	}
	roomID, pid := snap.RoomID, snap.ParticipantID

	if err := c.store.RemoveParticipant(ctx, roomID, pid); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Str("participant", string(pid)).Msg("store remove failed on leave")
	}
	c.clearActiveSpeakerIfDeparting(ctx, roomID, pid)

	c.registry.ClearRoom(connID)
	if c.registry.CountInRoom(roomID) == 0 {
		if err := c.backplane.Unsubscribe(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("backplane unsubscribe failed")
		}
	}
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Str("participant", string(pid)).Msg("participant left")
	return roomID, pid, true
}

// UpdateOwnState mutates the calling connection's own participant entry
// only: the entry is addressed by the connection's room tag, so a
// client cannot reach another participant's state.
func (c *Coordinator) UpdateOwnState(ctx context.Context, connID core.ConnID, apply func(*domain.ParticipantState)) (domain.ParticipantState, error) {
	snap, ok := c.registry.Get(connID)
	if !ok || snap.State != StateJoined {
		return domain.ParticipantState{}, core.ErrNotJoined
	}

	p, found, err := c.store.GetParticipant(ctx, snap.RoomID, snap.ParticipantID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(snap.RoomID)).Msg("store read failed, rebuilding entry from defaults")
	}
	if !found {
		p = domain.NewParticipantState(snap.ParticipantID, snap.UserID, "")
	}
	apply(&p)

	if err := c.store.SetParticipant(ctx, snap.RoomID, p); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(snap.RoomID)).Str("participant", string(snap.ParticipantID)).Msg("store write failed on state update")
	}
	return p, nil
}

// SetRecording flips the room-level recording flag, last-write-wins.
func (c *Coordinator) SetRecording(ctx context.Context, connID core.ConnID, on bool) (domain.RoomFlags, error) {
	snap, ok := c.registry.Get(connID)
	if !ok || snap.State != StateJoined {
		return domain.RoomFlags{}, core.ErrNotJoined
	}
	flags, err := c.store.MergeRoomFlags(ctx, snap.RoomID, func(f *domain.RoomFlags) {
		f.IsRecording = on
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(snap.RoomID)).Msg("store merge failed on recording change")
	}
	return flags, nil
}

// SetActiveSpeaker records the speaker-detection result. A nil id
// clears the active speaker.
func (c *Coordinator) SetActiveSpeaker(ctx context.Context, connID core.ConnID, pid *string) (domain.RoomFlags, error) {
	snap, ok := c.registry.Get(connID)
	if !ok || snap.State != StateJoined {
		return domain.RoomFlags{}, core.ErrNotJoined
	}
	flags, err := c.store.MergeRoomFlags(ctx, snap.RoomID, func(f *domain.RoomFlags) {
		f.ActiveSpeakerID = pid
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(snap.RoomID)).Msg("store merge failed on active speaker change")
	}
	return flags, nil
}

// BroadcastRoom delivers to local connections and publishes on the
// backplane for remote instances. A publish failure degrades to
// local-only delivery, it never fails the caller.
func (c *Coordinator) BroadcastRoom(ctx context.Context, roomID domain.RoomID, frame core.Frame, exclude domain.ParticipantID) {
	c.registry.BroadcastLocal(roomID, frame, exclude)
	env := core.Envelope{Origin: c.instanceID, Exclude: exclude, Frame: frame}
	if err := c.backplane.Publish(ctx, roomID, env); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("backplane publish failed, local delivery only")
	}
}

// SendTo delivers to one local participant; no match is a silent no-op.
func (c *Coordinator) SendTo(roomID domain.RoomID, pid domain.ParticipantID, frame core.Frame) bool {
	return c.registry.SendToParticipant(roomID, pid, frame)
}

// DeleteRoom clears both the participant set and the flags, for the
// room-admin surface. Idempotent.
func (c *Coordinator) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	return c.store.DeleteRoom(ctx, roomID)
}

func (c *Coordinator) roomSnapshot(ctx context.Context, roomID domain.RoomID) domain.RoomSnapshot {
	participants, err := c.store.ListParticipants(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("store list failed, returning empty snapshot")
		participants = []domain.ParticipantState{}
	}
	flags, err := c.store.GetRoomFlags(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("store flags read failed, using defaults")
		flags = domain.DefaultRoomFlags()
	}
	return domain.RoomSnapshot{RoomID: roomID, Participants: participants, RoomFlags: flags}
}

func (c *Coordinator) clearActiveSpeakerIfDeparting(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) {
	flags, err := c.store.GetRoomFlags(ctx, roomID)
	if err != nil || flags.ActiveSpeakerID == nil || *flags.ActiveSpeakerID != string(pid) {
		return
	}
	if _, err := c.store.MergeRoomFlags(ctx, roomID, func(f *domain.RoomFlags) {
		if f.ActiveSpeakerID != nil && *f.ActiveSpeakerID == string(pid) {
			f.ActiveSpeakerID = nil
		}
	}); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("failed to clear departed active speaker")
	}
}
