// Package guard screens documents for implausible shapes before they are
// served, persisted or adopted from a peer. It never merges anything itself;
// a document that passes still goes through the normal merge path.
package guard

import (
	"time"

	"classboard/api/internal/document"
)

const (
	// DefaultMinSafeStudents is the roster floor below which a non-empty
	// document is treated as corrupt.
	DefaultMinSafeStudents = 25

	// minMissingRolls and shrinkSlack together define a suspicious shrink:
	// an incoming roll set missing at least minMissingRolls known rolls and
	// smaller than the stored set by more than shrinkSlack.
	minMissingRolls = 8
	shrinkSlack     = 3

	// HealingMargin is how much newer a peer's clock must be before the
	// local node adopts its document. Anything closer is treated as clock
	// skew, not new data.
	HealingMargin = 2 * time.Second
)

// TinyRoster reports whether doc's student collection is non-empty but below
// the safe minimum. An empty document is a fresh install, not corruption.
func TinyRoster(doc *document.Document, minSafe int) bool {
	if minSafe <= 0 {
		minSafe = DefaultMinSafeStudents
	}
	count := doc.StudentCount()
	return count > 0 && count < minSafe
}

// SuspiciousShrink reports whether incoming looks like an accidental
// full-roster downgrade of existing rather than a legitimate small patch.
func SuspiciousShrink(existing, incoming *document.Document) bool {
	if existing == nil || incoming == nil {
		return false
	}
	known := existing.RollSet()
	if len(known) == 0 {
		return false
	}
	offered := incoming.RollSet()
	missing := 0
	for roll := range known {
		if _, ok := offered[roll]; !ok {
			missing++
		}
	}
	return missing >= minMissingRolls && len(offered) < len(known)-shrinkSlack
}

// ShouldHeal reports whether a peer's document is meaningfully newer than the
// local one and should be adopted (through the merge path).
func ShouldHeal(local, peer *document.Document) bool {
	if peer == nil {
		return false
	}
	peerClock := document.ParseClock(peer.ServerUpdatedAt)
	if peerClock.IsZero() {
		return false
	}
	if local == nil {
		return true
	}
	localClock := document.ParseClock(local.ServerUpdatedAt)
	return peerClock.After(localClock.Add(HealingMargin))
}

// Candidate is one recovery source: a peer snapshot or a local backup.
type Candidate struct {
	Doc     *document.Document
	ModTime time.Time
	Source  string
}

// Best ranks candidates by (logical clock, modification time, student count)
// descending and returns the healthiest one, or nil when every candidate is
// missing, empty or below the safe minimum.
func Best(candidates []Candidate, minSafe int) *Candidate {
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.Doc == nil || c.Doc.StudentCount() == 0 || TinyRoster(c.Doc, minSafe) {
			continue
		}
		if best == nil || ranksAbove(c, best) {
			best = c
		}
	}
	return best
}

func ranksAbove(a, b *Candidate) bool {
	ac := document.ParseClock(a.Doc.ServerUpdatedAt)
	bc := document.ParseClock(b.Doc.ServerUpdatedAt)
	if !ac.Equal(bc) {
		return ac.After(bc)
	}
	if !a.ModTime.Equal(b.ModTime) {
		return a.ModTime.After(b.ModTime)
	}
	return a.Doc.StudentCount() > b.Doc.StudentCount()
}
