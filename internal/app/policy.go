package app

import "github.com/dkeye/Space/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case NoAction:
		return "none"
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "unknown"
}

// Policy decides what happens to a connection whose send buffer is full
// while a topic broadcast is delivered.
type Policy interface {
	OnBackPressure(topic string, conn core.SignalConnection) BackpressureAction
}

// SimplePolicy disconnects slow consumers. A client that missed a room
// event has a stale roster and must rejoin anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(string, core.SignalConnection) BackpressureAction {
	return KickMember
}

// DropPolicy only drops the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(string, core.SignalConnection) BackpressureAction {
	return DropFrame
}

func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
