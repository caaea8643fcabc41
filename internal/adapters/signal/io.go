package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zoomvconnect/signaling/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, connID core.ConnID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		ctl.cleanupDisconnect(ctx, connID)
		c.Close()
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, connID, c, data)
		}
	}
}

// dispatch is the router: it decodes the envelope and hands the raw
// payload to the per-type handler. Handlers run on the reader
// goroutine, so one connection's commands keep their arrival order.
func (ctl *Controller) dispatch(ctx context.Context, connID core.ConnID, c *wsSignalConn, data []byte) {
	if !ctl.limiter.Allow(connID) {
		ctl.sendError(c, codeRateLimited, "too many messages")
		return
	}

	msg, err := decodeInbound(data)
	if err != nil {
		ctl.sendError(c, codeInvalidMessage, "failed to parse message")
		return
	}

	switch msg.Type {
	case evtRoomJoin:
		ctl.handleJoin(ctx, connID, c, msg.Payload)
	case evtRoomLeave:
		ctl.handleLeave(ctx, connID)
	case evtToggleAudio:
		ctl.handleToggleAudio(ctx, connID, c, msg.Payload)
	case evtToggleVideo:
		ctl.handleToggleVideo(ctx, connID, c, msg.Payload)
	case evtStartScreenShare:
		ctl.handleScreenShare(ctx, connID, c, true)
	case evtStopScreenShare:
		ctl.handleScreenShare(ctx, connID, c, false)
	case evtRaiseHand:
		ctl.handleRaiseHand(ctx, connID, c, msg.Payload)
	case evtReaction:
		ctl.handleReaction(ctx, connID, c, msg.Payload)
	case evtChatMessage:
		ctl.handleChat(ctx, connID, c, msg.Payload)
	case evtSetRecording:
		ctl.handleSetRecording(ctx, connID, c, msg.Payload)
	case evtActiveSpeaker:
		ctl.handleActiveSpeaker(ctx, connID, c, msg.Payload)
	default:
		log.Warn().Str("module", "signal").Str("type", msg.Type).Msg("unknown event")
		ctl.sendError(c, codeUnknownEvent, "unknown event type: "+msg.Type)
	}
}

// cleanupDisconnect runs the same path as room:leave for every
// disconnect, graceful or abrupt, so no participant entry leaks.
func (ctl *Controller) cleanupDisconnect(ctx context.Context, connID core.ConnID) {
	ctl.leaveCurrentRoom(ctx, connID)
	ctl.coord.Registry().Unregister(connID)
	ctl.limiter.Forget(connID)
}

func (ctl *Controller) sendEvent(c *wsSignalConn, typ string, payload any) {
	frame, err := encodeEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("encode event")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *Controller) sendError(c *wsSignalConn, code, message string) {
	ctl.sendEvent(c, evtError, errorPayload{Code: code, Message: message})
}
