// Package snapshot persists the shared scoreboard document and its backup
// generations: a live file, rolling backups on every save, immutable hourly
// snapshots, and one snapshot per process start. Every generation doubles as
// a restore point an administrator can lock, label and roll back to.
package snapshot

import (
	"errors"
	"time"

	"classboard/api/internal/document"
	"classboard/api/internal/guard"
)

var (
	// ErrNoDocument means neither the live file nor any readable backup
	// exists yet.
	ErrNoDocument = errors.New("snapshot: no document")

	// ErrPointNotFound means the requested restore point id is unknown.
	ErrPointNotFound = errors.New("snapshot: restore point not found")
)

// Kind classifies a restore point by the generation it came from.
type Kind string

const (
	KindLive    Kind = "live"
	KindRolling Kind = "rolling"
	KindHourly  Kind = "hourly"
	KindStartup Kind = "startup"
)

// RestorePoint is one restorable copy of the document. ID is stable across
// listings and is the handle used by SetMeta and Restore.
type RestorePoint struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	ModTime      time.Time `json:"mod_time"`
	UpdatedAt    string    `json:"updated_at"`
	StudentCount int       `json:"student_count"`
	SizeBytes    int64     `json:"size_bytes"`
	Locked       bool      `json:"locked"`
	Label        string    `json:"label,omitempty"`
}

// Store is the persistence contract the engine runs on. The default
// implementation is file-based; the same surface would fit an embedded KV
// store or an object store.
type Store interface {
	// Load returns the current document, falling back to the best readable
	// backup when the live file is absent or unreadable. ErrNoDocument when
	// nothing readable exists.
	Load() (*document.Document, error)

	// Save atomically installs doc as the live document and rotates the
	// backup generations.
	Save(doc *document.Document) error

	// Candidates lists every readable backup generation as a recovery
	// candidate, for ranking when the live document fails the corruption
	// guard.
	Candidates() []guard.Candidate

	// ListRestorePoints enumerates every restorable copy, newest first.
	ListRestorePoints() ([]RestorePoint, error)

	// SetMeta updates the lock flag and/or label of a restore point. A nil
	// field is left unchanged.
	SetMeta(id string, locked *bool, label *string) error

	// Restore installs the named point as the live document after writing a
	// pre-restore safety copy of whatever was live. The returned document
	// carries a freshly bumped logical clock.
	Restore(id string) (*document.Document, error)
}
