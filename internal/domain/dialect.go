package domain

import "fmt"

// Event is a room-level event whose wire name depends on the dialect.
type Event int

const (
	EventPlayerJoin Event = iota
	EventPlayerLeave
	EventPlayerGrounded
	EventPlayerName
	EventPlayerHandle
	EventPlayerAvatar
	EventChatMessage
	EventJoined
)

// Dialect maps room events to wire names. Two client generations exist:
// the short names and the namespaced wired-protocol names.
type Dialect struct {
	name  string
	names map[Event]string
}

var DefaultDialect = Dialect{
	name: "default",
	names: map[Event]string{
		EventPlayerJoin:     "player_join",
		EventPlayerLeave:    "player_leave",
		EventPlayerGrounded: "player_grounded",
		EventPlayerName:     "player_name",
		EventPlayerHandle:   "player_handle",
		EventPlayerAvatar:   "player_avatar",
		EventChatMessage:    "chat_message",
		EventJoined:         "world.joined",
	},
}

var WiredDialect = Dialect{
	name: "wired",
	names: map[Event]string{
		EventPlayerJoin:     "com.wired-protocol.world.player.join",
		EventPlayerLeave:    "com.wired-protocol.world.player.leave",
		EventPlayerGrounded: "com.wired-protocol.world.player.grounded",
		EventPlayerName:     "com.wired-protocol.world.player.name",
		EventPlayerHandle:   "com.wired-protocol.world.player.handle",
		EventPlayerAvatar:   "com.wired-protocol.world.player.avatar",
		EventChatMessage:    "com.wired-protocol.world.chat.message",
		EventJoined:         "com.wired-protocol.world.joined",
	},
}

func DialectByName(name string) (Dialect, error) {
	switch name {
	case "", DefaultDialect.name:
		return DefaultDialect, nil
	case WiredDialect.name:
		return WiredDialect, nil
	}
	return Dialect{}, fmt.Errorf("unknown dialect %q", name)
}

func (d Dialect) String() string { return d.name }

func (d Dialect) Name(e Event) string {
	if d.names == nil {
		return DefaultDialect.names[e]
	}
	return d.names[e]
}
