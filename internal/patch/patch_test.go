package patch

import (
	"errors"
	"testing"
	"time"

	"classboard/api/internal/document"
)

var feb = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

func baseDocument() *document.Document {
	return &document.Document{
		Students: []document.Student{
			{ID: 5, Roll: "EA24A05", Name: "Aman Kumar", Active: true},
			{ID: 6, Roll: "EA24A06", Name: "Gone Kid", Active: false},
		},
		CabinetItems: []document.CabinetItem{
			{ID: 2, Name: "Geometry box", Cost: 120, Quantity: 4, Active: true},
			{ID: 3, Name: "Broken globe", Cost: 400, Quantity: 1, Active: false},
		},
		ResourceRequests: []document.ResourceRequest{
			{ID: 9, StudentID: 5, ItemID: 2, ItemName: "Geometry box", Cost: 120, Status: document.StatusPendingTeacher},
			{ID: 10, StudentID: 5, ItemID: 2, ItemName: "Geometry box", Cost: 120, Status: document.StatusApproved},
		},
	}
}

func TestTeacherPatchDropsOutOfMonthAndForeignRows(t *testing.T) {
	existing := baseDocument()
	submitted := &document.Document{
		Scores: []document.Score{
			{ID: 1, StudentID: 5, Date: "2026-02-10", Month: "2026-02", Points: 20, RecordedBy: "teacher1"},
			{ID: 2, StudentID: 5, Date: "2026-01-28", Month: "2026-01", Points: 15, RecordedBy: "teacher1"},
			{ID: 3, StudentID: 5, Date: "2026-02-11", Month: "2026-02", Points: 30, RecordedBy: "someone_else"},
		},
		Attendance: []document.Attendance{
			{ID: 1, Roll: "EA24A05", Date: "2026-02-10", Status: "present"},
			{ID: 2, Roll: "EA24A05", Date: "2026-01-10", Status: "present"},
		},
		Students: []document.Student{
			{ID: 99, Roll: "EA24A99", Name: "Injected", Active: true},
		},
		FeeRecords: []document.FeeRecord{{StudentID: 5, TotalFees: 0}},
	}

	got := ForTeacher(existing, submitted, Actor{Login: "teacher1", Name: "Teacher One"}, feb)

	if len(got.Scores) != 1 || got.Scores[0].ID != 1 {
		t.Fatalf("only the authored current-month score survives, got %+v", got.Scores)
	}
	if len(got.Attendance) != 1 || got.Attendance[0].Date != "2026-02-10" {
		t.Fatalf("only current-month attendance survives, got %+v", got.Attendance)
	}
	if len(got.Students) != 0 || len(got.FeeRecords) != 0 {
		t.Fatal("collections outside the teacher allow-list must be dropped")
	}
}

func TestTeacherDecisionOnExistingRequest(t *testing.T) {
	existing := baseDocument()
	submitted := &document.Document{
		ResourceRequests: []document.ResourceRequest{
			// legal decision on a pending request, with a price injection
			{ID: 9, Cost: 1, Status: document.StatusRecommended, TeacherRemarks: "needed for class", UpdatedAt: "2026-02-15T12:00:00Z"},
			// illegal regression of an approved request
			{ID: 10, Status: document.StatusRecommended},
		},
	}

	got := ForTeacher(existing, submitted, Actor{Login: "teacher1"}, feb)
	if len(got.ResourceRequests) != 1 {
		t.Fatalf("want one surviving request, got %+v", got.ResourceRequests)
	}
	req := got.ResourceRequests[0]
	if req.ID != 9 || req.Status != document.StatusRecommended {
		t.Fatalf("decision not applied: %+v", req)
	}
	if req.Cost != 120 {
		t.Fatalf("financial fields must come from the stored side, got cost %d", req.Cost)
	}
	if req.TeacherRemarks != "needed for class" {
		t.Fatalf("remarks not applied: %+v", req)
	}
}

func TestTeacherCreatesRequestOnBehalf(t *testing.T) {
	existing := baseDocument()
	submitted := &document.Document{
		ResourceRequests: []document.ResourceRequest{
			{ID: 101, StudentID: 5, ItemID: 2, Cost: 9999, Status: document.StatusApproved},
			{ID: 102, StudentID: 5, ItemID: 77},
		},
	}

	got := ForTeacher(existing, submitted, Actor{Login: "teacher1"}, feb)
	if len(got.ResourceRequests) != 1 {
		t.Fatalf("unknown item must be dropped, got %+v", got.ResourceRequests)
	}
	req := got.ResourceRequests[0]
	if req.Cost != 120 || req.Status != document.StatusPendingTeacher {
		t.Fatalf("new request must be priced from catalog and start pending: %+v", req)
	}
	if req.RequestedBy != "teacher1" {
		t.Fatalf("creator not recorded: %+v", req)
	}
}

func TestStudentCreatesRequestForSelf(t *testing.T) {
	existing := baseDocument()
	sub := StudentSubmission{
		Request: &document.ResourceRequest{ID: 200, StudentID: 999, ItemID: 2, Cost: 5},
	}

	got, err := ForStudent(existing, sub, Actor{Login: "aman", Roll: "ea24a05"}, feb)
	if err != nil {
		t.Fatalf("ForStudent: %v", err)
	}
	req := got.ResourceRequests[0]
	if req.StudentID != 5 || req.Roll != "EA24A05" {
		t.Fatalf("identity must come from the login, got %+v", req)
	}
	if req.Cost != 120 {
		t.Fatalf("cost must come from catalog, got %d", req.Cost)
	}
	if req.Status != document.StatusPendingTeacher {
		t.Fatalf("student-created request must start pending, got %q", req.Status)
	}
}

func TestStudentRequestValidation(t *testing.T) {
	existing := baseDocument()

	if _, err := ForStudent(existing, StudentSubmission{
		Request: &document.ResourceRequest{ItemID: 2},
	}, Actor{Login: "ghost", Roll: "EA24A44"}, feb); !errors.Is(err, ErrIdentity) {
		t.Fatalf("unknown roll: want ErrIdentity, got %v", err)
	}

	if _, err := ForStudent(existing, StudentSubmission{
		Request: &document.ResourceRequest{ItemID: 2},
	}, Actor{Login: "gone", Roll: "EA24A06"}, feb); !errors.Is(err, ErrIdentity) {
		t.Fatalf("inactive student: want ErrIdentity, got %v", err)
	}

	if _, err := ForStudent(existing, StudentSubmission{
		Request: &document.ResourceRequest{ItemID: 3},
	}, Actor{Login: "aman", Roll: "EA24A05"}, feb); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("inactive catalog item: want ErrUnknownItem, got %v", err)
	}

	if _, err := ForStudent(existing, StudentSubmission{}, Actor{Login: "aman", Roll: "EA24A05"}, feb); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty submission: want ErrEmpty, got %v", err)
	}
}

func TestStudentAppealFieldAllowList(t *testing.T) {
	existing := baseDocument()
	sub := StudentSubmission{
		Appeal: &document.Appeal{
			Fields: map[string]string{
				"Name":       "Aman K",
				"total_fees": "0",
				"vetos":      "99",
			},
			Message: "name misspelt",
		},
	}

	got, err := ForStudent(existing, sub, Actor{Login: "aman", Roll: "EA24A05"}, feb)
	if err != nil {
		t.Fatalf("ForStudent: %v", err)
	}
	ap := got.Appeals[0]
	if ap.Kind != "profile_change" || ap.Status != "pending" || ap.Roll != "EA24A05" {
		t.Fatalf("appeal not normalized: %+v", ap)
	}
	if len(ap.Fields) != 1 || ap.Fields["name"] != "Aman K" {
		t.Fatalf("only allow-listed fields survive, got %v", ap.Fields)
	}
}

func TestReplicaTeacherPatchKeepsAttributedRows(t *testing.T) {
	existing := baseDocument()
	submitted := &document.Document{
		Scores: []document.Score{
			{ID: 1, StudentID: 5, Date: "2026-02-10", Month: "2026-02", Points: 20, RecordedBy: "teacher1"},
			{ID: 2, StudentID: 5, Date: "2026-02-10", Month: "2026-02", Points: 25},
		},
	}
	got := ForReplicaTeacher(existing, submitted, feb)
	if len(got.Scores) != 1 || got.Scores[0].RecordedBy != "teacher1" {
		t.Fatalf("unattributed relayed rows must be dropped, got %+v", got.Scores)
	}
}
