package domain

type (
	// RoomURI is the key of a shared space. URIs live in one flat namespace.
	RoomURI string
	// Slot is the compact per-room participant identity.
	Slot uint8
)

// MaxSlots is the room capacity: every Slot value is usable.
const MaxSlots = 256

const topicPrefix = "room/"

// Topic returns the broadcast topic of a room.
func Topic(uri RoomURI) string {
	return topicPrefix + string(uri)
}

type RoomInfo struct {
	URI         RoomURI `json:"uri"`
	PlayerCount int     `json:"player_count"`
}

// PlayerDTO is a read-only view of a room member for APIs.
type PlayerDTO struct {
	Slot     Slot    `json:"slot"`
	Name     *string `json:"name,omitempty"`
	Handle   *string `json:"handle,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Grounded bool    `json:"grounded"`
}
