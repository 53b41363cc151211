package models

import "time"

// TrashItem is a soft-deleted node as shown to its owner.
type TrashItem struct {
	Node
	PurgeAt time.Time `json:"purge_at"`
}
