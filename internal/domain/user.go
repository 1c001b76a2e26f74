// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64

	DefaultDisplayName = "Anonymous"
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type UserID string

// User is the identity a connection presents. It is trusted as already validated
// by whatever issued it; we only guard the shape.
type User struct {
	ID          UserID `json:"userId"`
	DisplayName string `json:"displayName"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id, displayName string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	u := &User{ID: UserID(id)}
	if err := u.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	return u, nil
}

// SetDisplayName falls back to DefaultDisplayName for blank names.
func (u *User) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDisplayName
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	u.DisplayName = name
	return nil
}
