package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

// handleChat assigns every message a fresh id and a server timestamp.
// With a recipient the message goes to exactly that participant plus an
// echo to the sender; without one it is broadcast to the whole room.
func (ctl *Controller) handleChat(ctx context.Context, connID core.ConnID, c *wsSignalConn, data json.RawMessage) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Content == "" {
		ctl.sendError(c, codeInvalidMessage, "chat requires content")
		return
	}

	snap, ok := ctl.coord.Registry().Get(connID)
	if !ok || snap.RoomID == "" {
		ctl.sendError(c, codeNotJoined, "join a room first")
		return
	}

	msg := chatMessagePayload{
		ID:          uuid.NewString(),
		SenderID:    snap.ParticipantID,
		Content:     p.Content,
		RecipientID: p.To,
		Timestamp:   time.Now().UnixMilli(),
	}
	frame, err := encodeEvent(evtChatReceived, msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode chat message")
		return
	}

	if p.To != "" {
		ctl.coord.SendTo(snap.RoomID, domain.ParticipantID(p.To), frame)
		// Echo so the sender's own UI reflects the sent message.
		_ = c.TrySend(frame)
		return
	}
	ctl.coord.BroadcastRoom(ctx, snap.RoomID, frame, "")
}
