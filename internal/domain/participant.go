package domain

type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityLost      ConnectionQuality = "lost"
)

// ParticipantState is one identity's presence within a room.
// Mutable fields are only ever changed by their owner's connection.
type ParticipantState struct {
	ParticipantID     ParticipantID     `json:"participantId"`
	Identity          UserID            `json:"identity"`
	DisplayName       string            `json:"displayName,omitempty"`
	IsMuted           bool              `json:"isMuted"`
	IsVideoOn         bool              `json:"isVideoOn"`
	IsScreenSharing   bool              `json:"isScreenSharing"`
	IsHandRaised      bool              `json:"isHandRaised"`
	ConnectionQuality ConnectionQuality `json:"connectionQuality,omitempty"`
}

// NewParticipantState applies the join-time defaults: muted, camera off.
func NewParticipantState(pid ParticipantID, identity UserID, displayName string) ParticipantState {
	return ParticipantState{
		ParticipantID:     pid,
		Identity:          identity,
		DisplayName:       displayName,
		IsMuted:           true,
		IsVideoOn:         false,
		ConnectionQuality: QualityGood,
	}
}
