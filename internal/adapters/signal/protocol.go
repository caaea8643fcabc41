package signal

import (
	"encoding/json"
	"time"

	"github.com/zoomvconnect/signaling/internal/core"
	"github.com/zoomvconnect/signaling/internal/domain"
)

// Client -> server commands.
const (
	evtRoomJoin         = "room:join"
	evtRoomLeave        = "room:leave"
	evtToggleAudio      = "media:toggle-audio"
	evtToggleVideo      = "media:toggle-video"
	evtStartScreenShare = "media:start-screenshare"
	evtStopScreenShare  = "media:stop-screenshare"
	evtRaiseHand        = "participant:raise-hand"
	evtReaction         = "participant:reaction"
	evtChatMessage      = "chat:message"
	evtSetRecording     = "meeting:set-recording"
	evtActiveSpeaker    = "media:active-speaker"
)

// Server -> client events.
const (
	evtRoomJoined          = "room:joined"
	evtParticipantJoined   = "room:participant-joined"
	evtParticipantLeft     = "room:participant-left"
	evtStateChanged        = "participant:state-changed"
	evtChatReceived        = "chat:message-received"
	evtMeetingStateChanged = "meeting:state-changed"
	evtError               = "error"
)

const (
	codeInvalidMessage = "INVALID_MESSAGE"
	codeUnknownEvent   = "UNKNOWN_EVENT"
	codeNotJoined      = "NOT_JOINED"
	codeRateLimited    = "RATE_LIMITED"
	codeInternal       = "INTERNAL_ERROR"
)

// Close codes for authentication failures, so clients can distinguish
// "must log in" from "token expired, refresh and retry".
const (
	closeCodeMissingCredential = 4001
	closeCodeInvalidCredential = 4002
)

// inbound is the envelope of every client frame; the payload is decoded
// per type by the matching handler.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func decodeInbound(data []byte) (inbound, error) {
	var msg inbound
	err := json.Unmarshal(data, &msg)
	return msg, err
}

type outbound struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// encodeEvent stamps the frame with the server's clock; client time is
// never trusted.
func encodeEvent(typ string, payload any) (core.Frame, error) {
	b, err := json.Marshal(outbound{Type: typ, Payload: payload, Timestamp: time.Now().UnixMilli()})
	return core.Frame(b), err
}

type joinPayload struct {
	MeetingID     string `json:"meetingId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName,omitempty"`
}

type togglePayload struct {
	Enabled bool `json:"enabled"`
}

type raiseHandPayload struct {
	Raised bool `json:"raised"`
}

type reactionPayload struct {
	Type string `json:"type"`
}

type chatPayload struct {
	Content string `json:"content"`
	To      string `json:"to,omitempty"`
}

type recordingPayload struct {
	IsRecording bool `json:"isRecording"`
}

type activeSpeakerPayload struct {
	ParticipantID *string `json:"participantId"`
}

type participantJoinedPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Identity      domain.UserID        `json:"identity"`
	DisplayName   string               `json:"displayName,omitempty"`
}

type participantLeftPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}

// stateChangedPayload carries only the fields that changed; each event
// holds the full new value of its field, so last-delivered-wins is
// consistent for receivers.
type stateChangedPayload struct {
	ParticipantID   domain.ParticipantID `json:"participantId"`
	IsMuted         *bool                `json:"isMuted,omitempty"`
	IsVideoOn       *bool                `json:"isVideoOn,omitempty"`
	IsScreenSharing *bool                `json:"isScreenSharing,omitempty"`
	IsHandRaised    *bool                `json:"isHandRaised,omitempty"`
}

type reactionEventPayload struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	ReactionType  string               `json:"reactionType"`
}

type chatMessagePayload struct {
	ID          string               `json:"id"`
	SenderID    domain.ParticipantID `json:"senderId"`
	Content     string               `json:"content"`
	RecipientID string               `json:"recipientId,omitempty"`
	Timestamp   int64                `json:"timestamp"`
}

type meetingStatePayload struct {
	IsRecording bool `json:"isRecording"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
