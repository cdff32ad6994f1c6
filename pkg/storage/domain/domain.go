// Package domain holds the entities shared by the storage repositories.
package domain

import (
	"time"

	"github.com/cirrusfs/cirrus/pkg/storage/path"
)

// ItemKind distinguishes trashed payload types.
type ItemKind string

const (
	ItemFile   ItemKind = "file"
	ItemFolder ItemKind = "folder"
)

// Folder is a directory in the logical tree. Path is always the parent's
// path joined with Name.
type Folder struct {
	ID         string
	Name       string
	ParentID   string // empty at root level
	Path       path.Logical
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// File is a stored blob with its metadata.
type File struct {
	ID         string
	Name       string
	FolderID   string // empty at root level
	Path       path.Logical
	Size       int64
	MimeType   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// TrashedItem records one staged payload awaiting restore or expiry. The
// JSON field names are the on-disk trash index format.
type TrashedItem struct {
	TrashID      string    `json:"id"`
	OriginalID   string    `json:"original_id"`
	PrincipalID  string    `json:"user_id"`
	Kind         ItemKind  `json:"item_type"`
	Name         string    `json:"name"`
	OriginalPath string    `json:"original_path"`
	TrashedAt    time.Time `json:"trashed_at"`
	DeletionDue  time.Time `json:"deletion_date"`
}

// Expired reports whether the item's retention has lapsed at now.
func (t TrashedItem) Expired(now time.Time) bool {
	return now.After(t.DeletionDue)
}
