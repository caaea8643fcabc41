package core

import (
	"context"

	"github.com/zoomvconnect/signaling/internal/domain"
)

// Frame is an encoded wire message, ready to write to a socket.
type Frame []byte

// ConnID identifies one live connection within this process.
type ConnID string

// SignalConnection abstracts the messaging transport of one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// Ping sends a liveness probe; the transport marks the connection
	// alive again when the peer acknowledges it.
	Ping() error
	Alive() bool
	MarkUnconfirmed()
	Close()
}

// RoomStore is the cross-instance participant map and room flags,
// hash-map semantics scoped per room. Reads treat absence as empty,
// never as an error. All writes refresh the room's sliding expiry.
type RoomStore interface {
	SetParticipant(ctx context.Context, roomID domain.RoomID, p domain.ParticipantState) error
	GetParticipant(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) (domain.ParticipantState, bool, error)
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) error
	ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantState, error)
	CountParticipants(ctx context.Context, roomID domain.RoomID) (int64, error)

	GetRoomFlags(ctx context.Context, roomID domain.RoomID) (domain.RoomFlags, error)
	MergeRoomFlags(ctx context.Context, roomID domain.RoomID, merge func(*domain.RoomFlags)) (domain.RoomFlags, error)

	DeleteRoom(ctx context.Context, roomID domain.RoomID) error
}

// Envelope is what travels over the backplane: the encoded frame plus
// enough routing metadata for receivers to suppress self-delivery and
// apply the sender's exclusion.
type Envelope struct {
	Origin  string               `json:"origin"`
	Exclude domain.ParticipantID `json:"exclude,omitempty"`
	Frame   Frame                `json:"frame"`
}

// BackplaneHandler is invoked for every envelope received on a
// subscribed room channel, including ones this process published.
type BackplaneHandler func(roomID domain.RoomID, env Envelope)

// Backplane is the cross-instance pub/sub channel keyed by room.
// Subscribe and Unsubscribe are idempotent; one shared subscriber
// connection demultiplexes every room channel this process cares about.
type Backplane interface {
	Publish(ctx context.Context, roomID domain.RoomID, env Envelope) error
	Subscribe(ctx context.Context, roomID domain.RoomID) error
	Unsubscribe(ctx context.Context, roomID domain.RoomID) error
	Close() error
}
