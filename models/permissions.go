package models

import (
	"fmt"
	"strings"
	"time"
)

type AccessLevel string

const (
	LevelView AccessLevel = "VIEW"
	LevelEdit AccessLevel = "EDIT"
)

// ParseAccessLevel is case-insensitive and rejects anything but VIEW and EDIT.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch AccessLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelView:
		return LevelView, nil
	case LevelEdit:
		return LevelEdit, nil
	}
	return "", fmt.Errorf("%w: unknown permission level %q", ErrValidation, s)
}

// Satisfies reports whether a grant at this level passes an access check.
func (l AccessLevel) Satisfies(requireEdit bool) bool {
	if requireEdit {
		return l == LevelEdit
	}
	return l == LevelView || l == LevelEdit
}

// Permission is an explicit grant on one node. (NodeID, UserID) is unique.
type Permission struct {
	NodeID    string      `bson:"node_id" json:"node_id"`
	UserID    string      `bson:"user_id" json:"user_id"`
	Level     AccessLevel `bson:"level" json:"level"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}
