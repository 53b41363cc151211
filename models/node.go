package models

import (
	"strings"
	"time"
)

type NodeKind string

const (
	KindFile   NodeKind = "FILE"
	KindFolder NodeKind = "FOLDER"
)

// ParseNodeKind accepts FILE or FOLDER in any case.
func ParseNodeKind(s string) (NodeKind, bool) {
	switch NodeKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindFile:
		return KindFile, true
	case KindFolder:
		return KindFolder, true
	}
	return "", false
}

// Node is a file or folder in a user's tree. Folders never carry size,
// mime type or storage reference; files never have children.
type Node struct {
	ID         string     `bson:"_id" json:"id"`
	Name       string     `bson:"name" json:"name"`
	Kind       NodeKind   `bson:"kind" json:"kind"`
	OwnerID    string     `bson:"owner_id" json:"owner_id"`
	ParentID   *string    `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	SizeBytes  int64      `bson:"size_bytes" json:"size_bytes,omitempty"`
	MimeType   string     `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	StorageRef string     `bson:"storage_ref,omitempty" json:"-"`
	IsDeleted  bool       `bson:"is_deleted" json:"is_deleted"`
	DeletedAt  *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
}

func (n *Node) IsFolder() bool { return n.Kind == KindFolder }

func (n *Node) IsFile() bool { return n.Kind == KindFile }

// Parent returns the parent id, or "" for a root node.
func (n *Node) Parent() string {
	if n.ParentID == nil {
		return ""
	}
	return *n.ParentID
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
