package guard

import (
	"fmt"
	"testing"
	"time"

	"classboard/api/internal/document"
)

func roster(n int) *document.Document {
	doc := &document.Document{}
	for i := 1; i <= n; i++ {
		doc.Students = append(doc.Students, document.Student{
			ID: i, Roll: fmt.Sprintf("EA24A%02d", i), Active: true,
		})
	}
	return doc
}

func TestTinyRoster(t *testing.T) {
	if TinyRoster(&document.Document{}, 25) {
		t.Fatal("empty document is a fresh install, not corruption")
	}
	if !TinyRoster(roster(10), 25) {
		t.Fatal("10 students below floor 25 must be flagged")
	}
	if TinyRoster(roster(25), 25) {
		t.Fatal("exactly at the floor is healthy")
	}
	if !TinyRoster(roster(3), 0) {
		t.Fatal("zero config must fall back to the default floor")
	}
}

func TestSuspiciousShrink(t *testing.T) {
	existing := roster(46)

	if !SuspiciousShrink(existing, roster(20)) {
		t.Fatal("46 -> 20 must be flagged as a suspicious shrink")
	}
	if SuspiciousShrink(existing, roster(44)) {
		t.Fatal("missing 2 rolls is within slack, not suspicious")
	}
	if SuspiciousShrink(existing, roster(50)) {
		t.Fatal("a superset can never be a shrink")
	}
	if SuspiciousShrink(&document.Document{}, roster(20)) {
		t.Fatal("nothing known yet means nothing can shrink")
	}
}

func TestShouldHeal(t *testing.T) {
	local := &document.Document{ServerUpdatedAt: "2026-02-10T10:00:00Z"}

	within := &document.Document{ServerUpdatedAt: "2026-02-10T10:00:01Z"}
	if ShouldHeal(local, within) {
		t.Fatal("1s ahead is clock skew, not new data")
	}
	beyond := &document.Document{ServerUpdatedAt: "2026-02-10T10:00:03Z"}
	if !ShouldHeal(local, beyond) {
		t.Fatal("3s ahead is beyond the margin and should heal")
	}
	if ShouldHeal(local, &document.Document{}) {
		t.Fatal("a clockless peer document must not be adopted")
	}
	if !ShouldHeal(nil, beyond) {
		t.Fatal("with no local document any clocked peer wins")
	}
}

func TestBestRanksByClockThenModTimeThenCount(t *testing.T) {
	older := Candidate{Doc: withClock(roster(40), "2026-02-10T09:00:00Z"), Source: "peer-a"}
	newer := Candidate{Doc: withClock(roster(30), "2026-02-10T10:00:00Z"), Source: "peer-b"}
	tiny := Candidate{Doc: withClock(roster(5), "2026-02-10T11:00:00Z"), Source: "peer-c"}

	best := Best([]Candidate{older, newer, tiny}, 25)
	if best == nil || best.Source != "peer-b" {
		t.Fatalf("newest healthy clock must win, got %+v", best)
	}

	// Clock tie: later file wins.
	now := time.Now()
	a := Candidate{Doc: withClock(roster(30), "2026-02-10T10:00:00Z"), ModTime: now.Add(-time.Hour), Source: "a"}
	b := Candidate{Doc: withClock(roster(30), "2026-02-10T10:00:00Z"), ModTime: now, Source: "b"}
	best = Best([]Candidate{a, b}, 25)
	if best.Source != "b" {
		t.Fatalf("later mod time must break the clock tie, got %s", best.Source)
	}

	if got := Best([]Candidate{tiny}, 25); got != nil {
		t.Fatalf("no healthy candidate means nil, got %+v", got)
	}
}

func withClock(doc *document.Document, clock string) *document.Document {
	doc.ServerUpdatedAt = clock
	return doc
}
