package core

import (
	"errors"

	"github.com/dkeye/Space/internal/domain"
)

type SessionID string

var (
	ErrRoomFull      = errors.New("room is full")
	ErrRoomClosed    = errors.New("room closed")
	ErrSessionClosed = errors.New("session closed")
	ErrNoTransport   = errors.New("transport not set")
	ErrNotJoined     = errors.New("not joined")
)

// member is a snapshot entry of a room's player map.
type member struct {
	slot    domain.Slot
	session *PeerSession
}

// consumerKey addresses the consumer a session holds for one remote peer.
type consumerKey struct {
	uri  domain.RoomURI
	slot domain.Slot
}
