package document

import "testing"

func TestParseNameMeta(t *testing.T) {
	base, stars, vetos := ParseNameMeta("Sahil Yadav****** (vvv)")
	if base != "Sahil Yadav" {
		t.Errorf("base = %q, want %q", base, "Sahil Yadav")
	}
	if stars != 6 {
		t.Errorf("stars = %d, want 6", stars)
	}
	if vetos != 3 {
		t.Errorf("vetos = %d, want 3", vetos)
	}
}

func TestParseNameMetaPlain(t *testing.T) {
	base, stars, vetos := ParseNameMeta("Riya Singh")
	if base != "Riya Singh" || stars != 0 || vetos != 0 {
		t.Errorf("got (%q, %d, %d), want clean name with no markers", base, stars, vetos)
	}
}

func TestGroupFromRoll(t *testing.T) {
	if g := GroupFromRoll("ea25c19"); g != "C" {
		t.Errorf("GroupFromRoll(ea25c19) = %q, want C", g)
	}
	if g := GroupFromRoll("X-1"); g != "A" {
		t.Errorf("unmatched roll should default to A, got %q", g)
	}
}

func TestNormalizeBackfillsTimestamps(t *testing.T) {
	doc := &Document{
		ServerUpdatedAt: "2026-02-10T08:00:00Z",
		Scores: []Score{
			{ID: 1, StudentID: 3, Date: "2026-02-01"},
			{ID: 2, StudentID: 4, Date: "2026-02-02", CreatedAt: "2026-02-02T09:00:00Z"},
		},
	}
	Normalize(doc)
	if doc.Scores[0].UpdatedAt != "2026-02-10T08:00:00Z" {
		t.Errorf("score without created_at should inherit document clock, got %q", doc.Scores[0].UpdatedAt)
	}
	if doc.Scores[1].UpdatedAt != "2026-02-02T09:00:00Z" {
		t.Errorf("score with created_at should inherit it, got %q", doc.Scores[1].UpdatedAt)
	}
	if doc.Scores[0].Month != "2026-02" {
		t.Errorf("month should derive from date, got %q", doc.Scores[0].Month)
	}
}

func TestStudentActiveDefaultsTrue(t *testing.T) {
	doc, err := Decode([]byte(`{"students":[{"id":1,"roll":"ea24a01","name":"Ayush Gupta** (CR)"},{"id":2,"roll":"EA24A03","name":"Ayat Parveen","active":false}]}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !doc.Students[0].Active {
		t.Error("absent active flag should default to true")
	}
	if doc.Students[1].Active {
		t.Error("explicit active:false should survive decoding")
	}
	if doc.Students[0].Roll != "EA24A01" {
		t.Errorf("roll should be upper-cased, got %q", doc.Students[0].Roll)
	}
	if doc.Students[0].Stars != 2 {
		t.Errorf("stars should derive from name markers, got %d", doc.Students[0].Stars)
	}
}

func TestStatusStateMachine(t *testing.T) {
	if !CanTransition(StatusPendingTeacher, StatusRecommended) {
		t.Error("pending_teacher -> recommended should be allowed")
	}
	if CanTransition(StatusApproved, StatusPendingAdmin) {
		t.Error("status must never move backward")
	}
	if MoreAdvanced(StatusApproved, StatusPendingTeacher) != StatusApproved {
		t.Error("max rank should win")
	}
	if MoreAdvanced(StatusRecommended, StatusNotRecommended) != StatusRecommended {
		t.Error("equal rank should keep the stored side")
	}
	if NormalizeStatus("bogus") != StatusDraft {
		t.Error("unknown status should normalize to draft")
	}
}

func TestNetScore(t *testing.T) {
	if got := NetScore(100, 3, 2); got != 120 {
		t.Errorf("NetScore(100,3,2) = %d, want 120", got)
	}
}

func TestNormalizeClampsScoreBounds(t *testing.T) {
	doc := &Document{
		Students: []Student{
			{ID: 1, Roll: "ea24a01", Name: "Asha", Stars: 999, Vetos: -4, Active: true},
		},
		Scores: []Score{
			{ID: 1, StudentID: 1, Date: "2026-02-10", Points: 1000000000, Stars: 500, Vetos: -3},
		},
	}
	Normalize(doc)

	sc := doc.Scores[0]
	if sc.Points != 1000 || sc.Stars != 100 || sc.Vetos != 0 {
		t.Fatalf("score row not clamped: %+v", sc)
	}
	s := doc.Students[0]
	if s.Stars != 100 || s.Vetos != 0 {
		t.Fatalf("student markers not clamped: stars=%d vetos=%d", s.Stars, s.Vetos)
	}
}
