package domain

type (
	RoomID        string
	ParticipantID string
	UserID        string
)

// RoomFlags are the room-level settings kept alongside the participant set.
type RoomFlags struct {
	IsRecording     bool    `json:"isRecording"`
	ActiveSpeakerID *string `json:"activeSpeakerId"`
}

// DefaultRoomFlags is what a read returns when no flags are stored yet.
// Absence of a room is not an error.
func DefaultRoomFlags() RoomFlags {
	return RoomFlags{IsRecording: false, ActiveSpeakerID: nil}
}

// RoomSnapshot is the full room view sent to a joining participant.
type RoomSnapshot struct {
	RoomID       RoomID             `json:"roomId"`
	Participants []ParticipantState `json:"participants"`
	RoomFlags
}
