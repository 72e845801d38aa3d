// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxNameLen    = 64
	MaxHandleLen  = 64
	MaxAvatarLen  = 2048
	MaxChatLength = 4000
)

var (
	ErrNameTooLong   = errors.New("name too long")
	ErrHandleTooLong = errors.New("handle too long")
	ErrAvatarTooLong = errors.New("avatar reference too long")
	ErrChatEmpty     = errors.New("chat message cannot be empty")
	ErrChatTooLong   = errors.New("chat message is too long")
)

// Profile holds the mutable identity attributes of a participant.
// Name, Handle and Avatar are optional; Grounded defaults to true.
type Profile struct {
	Name     *string
	Handle   *string
	Avatar   *string
	Grounded bool
}

func NewProfile() Profile {
	return Profile{Grounded: true}
}

func (p Profile) Player(slot Slot) PlayerDTO {
	return PlayerDTO{
		Slot:     slot,
		Name:     p.Name,
		Handle:   p.Handle,
		Avatar:   p.Avatar,
		Grounded: p.Grounded,
	}
}

func ValidateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}

func ValidateHandle(handle string) error {
	if utf8.RuneCountInString(handle) > MaxHandleLen {
		return ErrHandleTooLong
	}
	return nil
}

func ValidateAvatar(ref string) error {
	if len(ref) > MaxAvatarLen {
		return ErrAvatarTooLong
	}
	return nil
}

// NormalizeChat trims the message and checks its length.
func NormalizeChat(message string) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", ErrChatEmpty
	}
	if utf8.RuneCountInString(trimmed) > MaxChatLength {
		return "", ErrChatTooLong
	}
	return trimmed, nil
}
