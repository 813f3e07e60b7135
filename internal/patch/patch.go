// Package patch narrows a submitted document to what the caller's role is
// allowed to contribute. Anything outside the allow-list is dropped before
// the merge engine ever sees it; identity and catalog facts come from the
// stored document, never from the caller.
package patch

import (
	"errors"
	"strings"
	"time"

	"classboard/api/internal/document"
)

var (
	// ErrIdentity means the caller could not be resolved to a known student.
	ErrIdentity = errors.New("patch: unknown student identity")

	// ErrUnknownItem means a created request references no active catalog item.
	ErrUnknownItem = errors.New("patch: unknown catalog item")

	// ErrEmpty means nothing in the submission survived scoping.
	ErrEmpty = errors.New("patch: nothing within scope")
)

// Actor identifies the authenticated caller.
type Actor struct {
	Login string
	Name  string
	Roll  string
}

// allowed profile fields in a student's change appeal
var appealFields = map[string]bool{
	"name":  true,
	"class": true,
	"group": true,
}

// ForTeacher narrows a teacher's submission to: score rows they authored in
// the current month, current-month attendance, their own current-month
// appeals, recommend/reject decisions on existing resource requests, and new
// requests raised on a student's behalf. Every other collection is dropped.
func ForTeacher(existing, submitted *document.Document, teacher Actor, now time.Time) *document.Document {
	return teacherScope(existing, submitted, now, func(recordedBy string) bool {
		return sameActor(recordedBy, teacher.Login) || sameActor(recordedBy, teacher.Name)
	}, teacher.Login)
}

// ForReplicaTeacher applies the teacher scope to a patch relayed by a peer.
// The relaying node already attributed each row, so authorship only requires
// a non-empty recorded_by.
func ForReplicaTeacher(existing, submitted *document.Document, now time.Time) *document.Document {
	return teacherScope(existing, submitted, now, func(recordedBy string) bool {
		return strings.TrimSpace(recordedBy) != ""
	}, "")
}

func teacherScope(existing, submitted *document.Document, now time.Time, authored func(string) bool, creator string) *document.Document {
	if existing == nil {
		existing = &document.Document{}
	}
	if submitted == nil {
		return &document.Document{}
	}
	month := now.Format("2006-01")

	out := &document.Document{ServerUpdatedAt: submitted.ServerUpdatedAt}

	for _, s := range submitted.Scores {
		if scoreMonth(s) != month || !authored(s.RecordedBy) {
			continue
		}
		out.Scores = append(out.Scores, s)
	}
	for _, a := range submitted.Attendance {
		if attendanceMonth(a) != month {
			continue
		}
		out.Attendance = append(out.Attendance, a)
	}
	for _, ap := range submitted.Appeals {
		if appealMonth(ap) != month {
			continue
		}
		if creator != "" && !sameActor(ap.CreatedBy, creator) {
			continue
		}
		out.Appeals = append(out.Appeals, ap)
	}

	known := requestsByID(existing)
	for _, req := range submitted.ResourceRequests {
		if base, ok := known[req.ID]; ok {
			if decided, ok := teacherDecision(base, req); ok {
				out.ResourceRequests = append(out.ResourceRequests, decided)
			}
			continue
		}
		created, err := newRequest(existing, req, creator, now)
		if err != nil {
			continue
		}
		out.ResourceRequests = append(out.ResourceRequests, created)
	}

	return out
}

// teacherDecision applies a recommend/reject decision and remarks onto the
// stored request. Financial and identity fields always come from the stored
// side.
func teacherDecision(base, submitted document.ResourceRequest) (document.ResourceRequest, bool) {
	status := document.NormalizeStatus(submitted.Status)
	changed := false
	if status == document.StatusRecommended || status == document.StatusNotRecommended {
		if document.CanTransition(base.Status, status) {
			base.Status = status
			changed = true
		}
	}
	if remarks := strings.TrimSpace(submitted.TeacherRemarks); remarks != "" && remarks != base.TeacherRemarks {
		base.TeacherRemarks = remarks
		changed = true
	}
	if changed {
		base.UpdatedAt = submitted.UpdatedAt
	}
	return base, changed
}

// StudentSubmission is what a student write may carry: at most one new
// resource request and/or one profile-change appeal.
type StudentSubmission struct {
	Request *document.ResourceRequest `json:"request,omitempty"`
	Appeal  *document.Appeal          `json:"appeal,omitempty"`
}

// ForStudent builds a student's patch. Identity is resolved from the login,
// the catalog item is validated against the stored document and the cost is
// computed server side.
func ForStudent(existing *document.Document, sub StudentSubmission, student Actor, now time.Time) (*document.Document, error) {
	if existing == nil {
		existing = &document.Document{}
	}
	self := resolveStudent(existing, student)
	if self == nil {
		return nil, ErrIdentity
	}

	out := &document.Document{}

	if sub.Request != nil {
		req := *sub.Request
		req.StudentID = self.ID
		req.Roll = self.Roll
		created, err := newRequest(existing, req, student.Login, now)
		if err != nil {
			return nil, err
		}
		out.ResourceRequests = append(out.ResourceRequests, created)
	}

	if sub.Appeal != nil {
		ap := *sub.Appeal
		ap.Roll = self.Roll
		ap.Kind = "profile_change"
		ap.Status = "pending"
		ap.Month = now.Format("2006-01")
		ap.CreatedBy = student.Login
		if ap.CreatedAt == "" {
			ap.CreatedAt = document.FormatClock(now)
		}
		fields := map[string]string{}
		for k, v := range ap.Fields {
			if appealFields[strings.ToLower(k)] {
				fields[strings.ToLower(k)] = v
			}
		}
		if len(fields) == 0 && strings.TrimSpace(ap.Message) == "" {
			return nil, ErrEmpty
		}
		ap.Fields = fields
		out.Appeals = append(out.Appeals, ap)
	}

	if len(out.ResourceRequests) == 0 && len(out.Appeals) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// newRequest validates a freshly created resource request against the stored
// catalog and prices it from the catalog entry.
func newRequest(existing *document.Document, req document.ResourceRequest, requestedBy string, now time.Time) (document.ResourceRequest, error) {
	item := catalogItem(existing, req.ItemID)
	if item == nil {
		return document.ResourceRequest{}, ErrUnknownItem
	}
	req.ItemName = item.Name
	req.Cost = item.Cost
	req.Status = document.StatusPendingTeacher
	if requestedBy != "" {
		req.RequestedBy = requestedBy
	}
	if req.CreatedAt == "" {
		req.CreatedAt = document.FormatClock(now)
	}
	req.UpdatedAt = document.FormatClock(now)
	req.TeacherRemarks = ""
	req.AdminRemarks = ""
	return req, nil
}

func catalogItem(doc *document.Document, itemID int) *document.CabinetItem {
	for i := range doc.CabinetItems {
		item := &doc.CabinetItems[i]
		if item.ID == itemID && item.Active {
			return item
		}
	}
	return nil
}

func resolveStudent(doc *document.Document, actor Actor) *document.Student {
	roll := document.NormalizeRoll(actor.Roll)
	if roll == "" {
		return nil
	}
	for i := range doc.Students {
		s := &doc.Students[i]
		if s.Active && document.NormalizeRoll(s.Roll) == roll {
			return s
		}
	}
	return nil
}

func requestsByID(doc *document.Document) map[int]document.ResourceRequest {
	out := make(map[int]document.ResourceRequest, len(doc.ResourceRequests))
	for _, r := range doc.ResourceRequests {
		out[r.ID] = r
	}
	return out
}

func sameActor(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}

func scoreMonth(s document.Score) string {
	if s.Month != "" {
		return s.Month
	}
	return document.MonthOf(s.Date)
}

func attendanceMonth(a document.Attendance) string {
	if a.Month != "" {
		return a.Month
	}
	return document.MonthOf(a.Date)
}

func appealMonth(a document.Appeal) string {
	if a.Month != "" {
		return a.Month
	}
	return document.MonthOf(a.CreatedAt)
}
