package models

import "time"

// Share is a grant joined with the grantee's identity, as listed on a node.
type Share struct {
	NodeID    string      `json:"node_id"`
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Name      string      `json:"name,omitempty"`
	Level     AccessLevel `json:"level"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
