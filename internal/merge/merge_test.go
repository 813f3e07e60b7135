package merge

import (
	"reflect"
	"testing"

	"classboard/api/internal/document"
)

func TestMergeIsIdempotent(t *testing.T) {
	existing := &document.Document{
		ServerUpdatedAt: "2026-02-10T08:00:00Z",
		Students: []document.Student{
			{ID: 1, Roll: "EA24A01", Name: "Ayush Gupta", Active: true, UpdatedAt: "2026-02-09T10:00:00Z"},
		},
		Scores: []document.Score{
			{ID: 1, StudentID: 1, Roll: "EA24A01", Date: "2026-02-01", Points: 50, UpdatedAt: "2026-02-01T12:00:00Z"},
		},
	}
	incoming := &document.Document{
		ServerUpdatedAt: "2026-02-10T09:00:00Z",
		Students: []document.Student{
			{ID: 7, Roll: "EA24A01", Name: "Ayush Gupta", Active: true, UpdatedAt: "2026-02-10T07:00:00Z"},
		},
		Scores: []document.Score{
			{ID: 3, StudentID: 7, Roll: "EA24A01", Date: "2026-02-01", Points: 65, UpdatedAt: "2026-02-02T12:00:00Z"},
		},
	}

	once := Documents(existing, incoming)
	twice := Documents(once, incoming)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestStudentActiveNeverDowngradedByStaleWrite(t *testing.T) {
	existing := &document.Document{Students: []document.Student{
		{ID: 1, Roll: "EA24A01", Name: "Ayush Gupta", Active: true, UpdatedAt: "2026-02-10T10:00:00Z"},
	}}

	stale := &document.Document{Students: []document.Student{
		{ID: 1, Roll: "EA24A01", Name: "Ayush Gupta", Active: false, UpdatedAt: "2026-02-09T10:00:00Z"},
	}}
	merged := Documents(existing, stale)
	if !merged.Students[0].Active {
		t.Fatal("stale write must not deactivate a student")
	}

	tied := &document.Document{Students: []document.Student{
		{ID: 9, Roll: "EA24A01", Name: "Ayush Gupta", Active: false, UpdatedAt: "2026-02-10T10:00:00Z"},
	}}
	merged = Documents(existing, tied)
	if !merged.Students[0].Active {
		t.Fatal("timestamp tie must keep the existing active value")
	}

	newer := &document.Document{Students: []document.Student{
		{ID: 1, Roll: "EA24A01", Name: "Ayush Gupta", Active: false, UpdatedAt: "2026-02-11T10:00:00Z"},
	}}
	merged = Documents(existing, newer)
	if merged.Students[0].Active {
		t.Fatal("a strictly newer deactivation must be accepted")
	}
}

func TestScoreNewestWinsRegardlessOfOrder(t *testing.T) {
	students := []document.Student{{ID: 12, Roll: "EA25B06", Name: "Jay Arya", Active: true}}
	older := &document.Document{
		Students: students,
		Scores: []document.Score{
			{ID: 40, StudentID: 12, Date: "2026-02-02", Points: 30, UpdatedAt: "2026-02-02T10:00:00Z"},
		},
	}
	newer := &document.Document{
		Students: students,
		Scores: []document.Score{
			{ID: 41, StudentID: 12, Date: "2026-02-02", Points: 45, UpdatedAt: "2026-02-02T10:00:01Z"},
		},
	}

	ab := Documents(older, newer)
	ba := Documents(newer, older)
	if len(ab.Scores) != 1 || ab.Scores[0].Points != 45 {
		t.Fatalf("A then B: surviving row = %+v, want the T+1s version", ab.Scores)
	}
	if len(ba.Scores) != 1 || ba.Scores[0].Points != 45 {
		t.Fatalf("B then A: surviving row = %+v, want the T+1s version", ba.Scores)
	}
}

func TestScoreTieBreaksOnHigherRowID(t *testing.T) {
	a := &document.Document{Scores: []document.Score{
		{ID: 5, StudentID: 3, Roll: "EA24A04", Date: "2026-02-01", Points: 10, UpdatedAt: "2026-02-01T10:00:00Z"},
	}}
	b := &document.Document{Scores: []document.Score{
		{ID: 8, StudentID: 3, Roll: "EA24A04", Date: "2026-02-01", Points: 20, UpdatedAt: "2026-02-01T10:00:00Z"},
	}}
	merged := Documents(a, b)
	if merged.Scores[0].ID != 8 {
		t.Fatalf("tie should prefer higher row id, got %d", merged.Scores[0].ID)
	}
}

func TestAttendanceIdentityResolvesThroughRoll(t *testing.T) {
	// Same student, different local numeric ids on each node.
	a := &document.Document{
		Students: []document.Student{{ID: 4, Roll: "EA25C09", Name: "Shomiya Xalxo", Active: true}},
		Attendance: []document.Attendance{
			{ID: 1, StudentID: 4, Date: "2026-02-03", Status: "present", UpdatedAt: "2026-02-03T09:00:00Z"},
		},
	}
	b := &document.Document{
		Students: []document.Student{{ID: 11, Roll: "EA25C09", Name: "Shomiya Xalxo", Active: true}},
		Attendance: []document.Attendance{
			{ID: 2, StudentID: 11, Date: "2026-02-03", Status: "absent", UpdatedAt: "2026-02-03T10:00:00Z"},
		},
	}
	merged := Documents(a, b)
	if len(merged.Attendance) != 1 {
		t.Fatalf("attendance rows should collapse through the roll lookup, got %d", len(merged.Attendance))
	}
	if merged.Attendance[0].Status != "absent" {
		t.Fatalf("newer attendance row should win, got %q", merged.Attendance[0].Status)
	}
}

func TestFeeMergeNeverDiscardsPaymentEvidence(t *testing.T) {
	existing := &document.Document{FeeRecords: []document.FeeRecord{{
		StudentID:    9,
		Roll:         "EA24B03",
		LastPaidDate: "2026-01-15",
		PaymentHistory: []document.Payment{
			{Date: "2025-12-10", Amount: 500},
			{Date: "2026-01-15", Amount: 500, Note: "January"},
		},
		Remarks:   "old remark",
		UpdatedAt: "2026-02-01T10:00:00Z",
	}}}
	incoming := &document.Document{FeeRecords: []document.FeeRecord{{
		StudentID:    9,
		Roll:         "EA24B03",
		LastPaidDate: "2026-02-05",
		PaymentHistory: []document.Payment{
			{Date: "2026-01-15", Amount: 500, Note: "January"},
			{Date: "2026-02-05", Amount: 500},
		},
		Remarks:   "new remark",
		UpdatedAt: "2026-02-06T10:00:00Z",
	}}}

	merged := Documents(existing, incoming)
	fee := merged.FeeRecords[0]
	if len(fee.PaymentHistory) != 3 {
		t.Fatalf("payment history should be the deduplicated union, got %d entries", len(fee.PaymentHistory))
	}
	if fee.LastPaidDate != "2026-02-05" {
		t.Fatalf("last_paid_date should be the max of both sides, got %q", fee.LastPaidDate)
	}
	if fee.Remarks != "new remark" {
		t.Fatalf("advisory remarks should follow newest-wins, got %q", fee.Remarks)
	}

	// Same merge with the stale side newer overall: evidence still unioned.
	reversed := Documents(incoming, existing)
	if len(reversed.FeeRecords[0].PaymentHistory) != 3 || reversed.FeeRecords[0].LastPaidDate != "2026-02-05" {
		t.Fatal("payment evidence must survive regardless of merge order")
	}
}

func TestRequestStatusNeverRegresses(t *testing.T) {
	existing := &document.Document{ResourceRequests: []document.ResourceRequest{{
		ID: 3, StudentID: 5, Status: document.StatusApproved, UpdatedAt: "2026-02-01T10:00:00Z",
	}}}
	incoming := &document.Document{ResourceRequests: []document.ResourceRequest{{
		ID: 3, StudentID: 5, Status: document.StatusPendingAdmin, UpdatedAt: "2026-02-03T10:00:00Z",
	}}}
	merged := Documents(existing, incoming)
	if merged.ResourceRequests[0].Status != document.StatusApproved {
		t.Fatalf("approved must not regress even against a newer timestamp, got %q", merged.ResourceRequests[0].Status)
	}
}

func TestDeductionReversalIsPermanent(t *testing.T) {
	existing := &document.Document{AdvantageDeductions: []document.AdvantageDeduction{{
		ID: 2, StudentID: 8, Points: 10, Reversed: true, UpdatedAt: "2026-02-01T10:00:00Z",
	}}}
	incoming := &document.Document{AdvantageDeductions: []document.AdvantageDeduction{{
		ID: 2, StudentID: 8, Points: 10, Reversed: false, UpdatedAt: "2026-02-05T10:00:00Z",
	}}}
	merged := Documents(existing, incoming)
	if !merged.AdvantageDeductions[0].Reversed {
		t.Fatal("reversed=true is permanent")
	}
}

func TestLeadershipHolderNeverEmptiedByStaleWrite(t *testing.T) {
	existing := &document.Document{Leadership: []document.LeadershipPost{{
		ID: 1, Post: "LEADER (L)", Holder: "HARSH MALLICK", Status: "active", UpdatedAt: "2026-02-01T10:00:00Z",
	}}}
	emptied := &document.Document{Leadership: []document.LeadershipPost{{
		ID: 1, Post: "LEADER (L)", Holder: "", UpdatedAt: "2026-02-05T10:00:00Z",
	}}}
	merged := Documents(existing, emptied)
	if merged.Leadership[0].Holder != "HARSH MALLICK" {
		t.Fatal("a populated post must never be overwritten by an empty one")
	}

	reassigned := &document.Document{Leadership: []document.LeadershipPost{{
		ID: 1, Post: "LEADER (L)", Holder: "JAY KUMAR YADAV", Status: "active", UpdatedAt: "2026-02-05T10:00:00Z",
	}}}
	merged = Documents(existing, reassigned)
	if merged.Leadership[0].Holder != "JAY KUMAR YADAV" {
		t.Fatal("a newer different assignee is an intentional reassignment")
	}
}

func TestLeadershipEndedStickyAgainstStaleActive(t *testing.T) {
	existing := &document.Document{Leadership: []document.LeadershipPost{{
		ID: 2, Post: "SPORTS CAPTAIN (SC)", Holder: "REEYANSH LAMA", Status: "ended", UpdatedAt: "2026-02-05T10:00:00Z",
	}}}
	stale := &document.Document{Leadership: []document.LeadershipPost{{
		ID: 2, Post: "SPORTS CAPTAIN (SC)", Holder: "REEYANSH LAMA", Status: "active", UpdatedAt: "2026-02-05T10:00:00Z",
	}}}
	merged := Documents(existing, stale)
	if merged.Leadership[0].Status != "ended" {
		t.Fatalf("ended must be sticky against a non-newer active, got %q", merged.Leadership[0].Status)
	}
}

func TestMonthRostersUnionNeverShrinks(t *testing.T) {
	existing := &document.Document{MonthRosters: map[string][]string{
		"2026-02": {"EA24A01", "EA24A03", "EA24A04"},
	}}
	partial := &document.Document{MonthRosters: map[string][]string{
		"2026-02": {"EA24A04", "EA25B06"},
		"2026-01": {"EA24A01"},
	}}
	merged := Documents(existing, partial)
	if got := len(merged.MonthRosters["2026-02"]); got != 4 {
		t.Fatalf("month roster should union to 4 rolls, got %d", got)
	}
	if got := len(merged.MonthRosters["2026-01"]); got != 1 {
		t.Fatalf("new month should appear, got %d", got)
	}
}

func TestDuplicateVoterPostCollapses(t *testing.T) {
	a := &document.Document{ElectionVotes: []document.ElectionVote{{
		ID: 1, VoterRoll: "EA24A01", Post: "LEADER", Choice: "X", CreatedAt: "2026-02-01T10:00:00Z",
	}}}
	b := &document.Document{ElectionVotes: []document.ElectionVote{{
		ID: 2, VoterRoll: "EA24A01", Post: "LEADER", Choice: "Y", CreatedAt: "2026-02-01T11:00:00Z",
	}}}
	merged := Documents(a, b)
	if len(merged.ElectionVotes) != 1 {
		t.Fatalf("voter+post must be unique, got %d votes", len(merged.ElectionVotes))
	}
	if merged.ElectionVotes[0].Choice != "Y" {
		t.Fatalf("later vote should win, got %q", merged.ElectionVotes[0].Choice)
	}
}

func TestVetoLedgerRecomputed(t *testing.T) {
	doc := &document.Document{
		Students: []document.Student{
			{ID: 40, Roll: "EA25D20", Name: "Harsh Mallik", BaseName: "Harsh Mallik", Active: true},
		},
		Leadership: []document.LeadershipPost{
			{ID: 1, Post: "LEADER (L)", Holder: "HARSH MALLIK", Status: "active"},
		},
		Scores: []document.Score{
			{ID: 1, StudentID: 40, Date: "2026-02-01", Month: "2026-02", Points: 10},
		},
	}
	ledger := RecomputeVetoLedger(doc)
	if ledger["2026-02|40"] != 5 {
		t.Fatalf("leader should get 5 vetos for the active month, got %d", ledger["2026-02|40"])
	}

	// Ledger is derived: merging recomputes it rather than unioning stale entries.
	doc.VetoLedger = map[string]int{"2026-02|40": 99}
	merged := Documents(doc, &document.Document{})
	if merged.VetoLedger["2026-02|40"] != 5 {
		t.Fatalf("ledger must be recomputed on merge, got %d", merged.VetoLedger["2026-02|40"])
	}
}
