// Package merge implements the per-collection reconciliation rules for the
// shared scoreboard document. Every merge is a pure function of its two
// inputs: identity keys are stable and tie-breaks depend only on item
// timestamps, so applying peers' documents in either order converges.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"classboard/api/internal/document"
)

// Documents merges an incoming document into the existing one collection by
// collection and returns the combined result. Neither input is mutated.
func Documents(existing, incoming *document.Document) *document.Document {
	if existing == nil {
		existing = &document.Document{}
	}
	if incoming == nil {
		incoming = &document.Document{}
	}

	rolls := rollLookup(existing, incoming)

	out := &document.Document{}
	out.Students = mergeByKey(existing.Students, incoming.Students, studentKey, resolveStudent)
	out.Scores = mergeByKey(existing.Scores, incoming.Scores, scoreKey(rolls), resolveScore)
	out.Attendance = mergeByKey(existing.Attendance, incoming.Attendance, attendanceKey(rolls), resolveByClock(attendanceClock, attendanceID))
	out.FeeRecords = mergeByKey(existing.FeeRecords, incoming.FeeRecords, feeKey(rolls), resolveFee)
	out.CabinetItems = mergeByKey(existing.CabinetItems, incoming.CabinetItems,
		func(c document.CabinetItem) string { return fmt.Sprintf("%d", c.ID) },
		resolveByClock(func(c document.CabinetItem) (string, string) { return c.UpdatedAt, "" },
			func(c document.CabinetItem) int { return c.ID }))
	out.ResourceRequests = mergeByKey(existing.ResourceRequests, incoming.ResourceRequests,
		func(r document.ResourceRequest) string { return fmt.Sprintf("%d", r.ID) }, resolveRequest)
	out.ResourceTransactions = mergeByKey(existing.ResourceTransactions, incoming.ResourceTransactions,
		func(t document.ResourceTransaction) string { return fmt.Sprintf("%d", t.ID) },
		resolveByClock(func(t document.ResourceTransaction) (string, string) { return t.UpdatedAt, t.CreatedAt },
			func(t document.ResourceTransaction) int { return t.ID }))
	out.AdvantageDeductions = mergeByKey(existing.AdvantageDeductions, incoming.AdvantageDeductions,
		func(d document.AdvantageDeduction) string { return fmt.Sprintf("%d", d.ID) }, resolveDeduction)
	out.Leadership = mergeByKey(existing.Leadership, incoming.Leadership,
		func(p document.LeadershipPost) string { return strings.ToUpper(strings.TrimSpace(p.Post)) }, resolveLeadership)
	out.ClassReps = mergeByKey(existing.ClassReps, incoming.ClassReps,
		func(r document.ClassRep) string { return strings.ToUpper(strings.TrimSpace(r.Class)) }, resolveClassRep)
	out.GroupCRs = mergeByKey(existing.GroupCRs, incoming.GroupCRs,
		func(g document.GroupCR) string { return strings.ToUpper(strings.TrimSpace(g.Group)) }, resolveGroupCR)
	out.Parties = mergeByKey(existing.Parties, incoming.Parties,
		func(p document.Party) string { return strings.ToUpper(strings.TrimSpace(p.Code)) },
		resolveByClock(func(p document.Party) (string, string) { return p.UpdatedAt, "" },
			func(p document.Party) int { return p.ID }))
	out.ElectionVotes = mergeByKey(existing.ElectionVotes, incoming.ElectionVotes,
		func(v document.ElectionVote) string { return v.VoterRoll + "|" + v.Post },
		resolveByClock(func(v document.ElectionVote) (string, string) { return v.UpdatedAt, v.CreatedAt },
			func(v document.ElectionVote) int { return v.ID }))
	out.PendingResults = mergeByKey(existing.PendingResults, incoming.PendingResults,
		func(p document.PendingResult) string { return fmt.Sprintf("%d", p.ID) },
		resolveByClock(func(p document.PendingResult) (string, string) { return p.UpdatedAt, p.CreatedAt },
			func(p document.PendingResult) int { return p.ID }))
	out.Appeals = mergeByKey(existing.Appeals, incoming.Appeals,
		func(a document.Appeal) string { return fmt.Sprintf("%d", a.ID) },
		resolveByClock(func(a document.Appeal) (string, string) { return a.UpdatedAt, a.CreatedAt },
			func(a document.Appeal) int { return a.ID }))
	out.Notifications = mergeByKey(existing.Notifications, incoming.Notifications,
		func(n document.Notification) string { return fmt.Sprintf("%d", n.ID) },
		resolveByClock(func(n document.Notification) (string, string) { return n.UpdatedAt, n.CreatedAt },
			func(n document.Notification) int { return n.ID }))
	out.Syllabus = mergeByKey(existing.Syllabus, incoming.Syllabus,
		func(s document.SyllabusEntry) string { return fmt.Sprintf("%d", s.ID) },
		resolveByClock(func(s document.SyllabusEntry) (string, string) { return s.UpdatedAt, "" },
			func(s document.SyllabusEntry) int { return s.ID }))

	out.MonthRosters = unionRosters(existing.MonthRosters, incoming.MonthRosters)
	out.Classes = unionStrings(existing.Classes, incoming.Classes)

	out.ServerUpdatedAt = laterClock(existing.ServerUpdatedAt, incoming.ServerUpdatedAt)
	out.VetoLedger = RecomputeVetoLedger(out)
	return out
}

// mergeByKey unions two slices by identity key and resolves collisions with
// the supplied rule. Output is sorted by key so the result is deterministic
// regardless of input order.
func mergeByKey[T any](a, b []T, key func(T) string, resolve func(old, new T) T) []T {
	merged := make(map[string]T, len(a)+len(b))
	for _, item := range a {
		k := key(item)
		if prev, ok := merged[k]; ok {
			merged[k] = resolve(prev, item)
			continue
		}
		merged[k] = item
	}
	for _, item := range b {
		k := key(item)
		if prev, ok := merged[k]; ok {
			merged[k] = resolve(prev, item)
			continue
		}
		merged[k] = item
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, merged[k])
	}
	return out
}

// strictlyNewer reports whether timestamp a is strictly after b.
func strictlyNewer(a, b string) bool {
	return document.ParseClock(a).After(document.ParseClock(b))
}

func laterClock(a, b string) string {
	if strictlyNewer(b, a) {
		return b
	}
	return a
}

// resolveByClock is the default newest-wins rule: later updated_at (falling
// back to created_at) wins wholesale; on an exact tie the higher local id
// wins as a last resort.
func resolveByClock[T any](clock func(T) (updated, created string), id func(T) int) func(old, new T) T {
	return func(old, new T) T {
		oc := itemClock(clock(old))
		nc := itemClock(clock(new))
		if strictlyNewer(nc, oc) {
			return new
		}
		if strictlyNewer(oc, nc) {
			return old
		}
		if id(new) > id(old) {
			return new
		}
		return old
	}
}

func itemClock(updated, created string) string {
	if updated != "" {
		return updated
	}
	return created
}

// rollLookup builds an id->roll table from both sides' rosters so records
// carrying only a local numeric id can be re-keyed by roll.
func rollLookup(docs ...*document.Document) map[int]string {
	out := map[int]string{}
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for id, roll := range doc.RollByID() {
			if _, seen := out[id]; !seen {
				out[id] = roll
			}
		}
	}
	return out
}

func studentKey(s document.Student) string {
	if s.Roll != "" {
		return s.Roll
	}
	return fmt.Sprintf("id:%d", s.ID)
}

func resolveStudent(old, new document.Student) document.Student {
	oc := itemClock(old.UpdatedAt, old.CreatedAt)
	nc := itemClock(new.UpdatedAt, new.CreatedAt)
	if strictlyNewer(nc, oc) {
		return new
	}
	if strictlyNewer(oc, nc) {
		return old
	}
	// Exact tie: higher local id wins the row, but the existing active flag
	// is kept so a stale device can never deactivate a student.
	winner := old
	if new.ID > old.ID {
		winner = new
	}
	winner.Active = old.Active
	return winner
}

func scoreKey(rolls map[int]string) func(document.Score) string {
	return func(s document.Score) string {
		roll := s.Roll
		if roll == "" {
			roll = rolls[s.StudentID]
		}
		if roll != "" {
			return roll + "|" + s.Date
		}
		return fmt.Sprintf("id:%d|%s", s.StudentID, s.Date)
	}
}

func resolveScore(old, new document.Score) document.Score {
	oc := itemClock(old.UpdatedAt, old.CreatedAt)
	nc := itemClock(new.UpdatedAt, new.CreatedAt)
	if strictlyNewer(nc, oc) {
		return new
	}
	if strictlyNewer(oc, nc) {
		return old
	}
	if new.ID > old.ID {
		return new
	}
	return old
}

func attendanceKey(rolls map[int]string) func(document.Attendance) string {
	return func(a document.Attendance) string {
		roll := a.Roll
		if roll == "" {
			roll = rolls[a.StudentID]
		}
		if roll != "" {
			return a.Date + "|" + roll
		}
		return fmt.Sprintf("%s|id:%d", a.Date, a.StudentID)
	}
}

func attendanceClock(a document.Attendance) (string, string) { return a.UpdatedAt, a.CreatedAt }
func attendanceID(a document.Attendance) int                 { return a.ID }

func feeKey(rolls map[int]string) func(document.FeeRecord) string {
	return func(f document.FeeRecord) string {
		if f.Roll != "" {
			return f.Roll
		}
		if roll := rolls[f.StudentID]; roll != "" {
			return roll
		}
		return fmt.Sprintf("id:%d", f.StudentID)
	}
}

// resolveFee never discards payment evidence: the history is a deduplicated
// union and last_paid_date is the maximum of both sides, regardless of which
// side is newer. Only advisory fields follow newest-wins.
func resolveFee(old, new document.FeeRecord) document.FeeRecord {
	winner := old
	if strictlyNewer(itemClock(new.UpdatedAt, ""), itemClock(old.UpdatedAt, "")) {
		winner = new
	}
	winner.PaymentHistory = unionPayments(old.PaymentHistory, new.PaymentHistory)
	winner.LastPaidDate = maxDate(old.LastPaidDate, new.LastPaidDate)
	if old.TotalFees > winner.TotalFees {
		winner.TotalFees = old.TotalFees
	}
	if new.TotalFees > winner.TotalFees {
		winner.TotalFees = new.TotalFees
	}
	return winner
}

// paymentFingerprint is the dedupe key for payment evidence.
func paymentFingerprint(p document.Payment) string {
	return fmt.Sprintf("%s::%d::%s", document.NormalizeDate(p.Date), p.Amount, strings.ToLower(strings.TrimSpace(p.Note)))
}

func unionPayments(a, b []document.Payment) []document.Payment {
	seen := map[string]struct{}{}
	out := make([]document.Payment, 0, len(a)+len(b))
	for _, src := range [][]document.Payment{a, b} {
		for _, p := range src {
			fp := paymentFingerprint(p)
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return document.NormalizeDate(out[i].Date) < document.NormalizeDate(out[j].Date)
	})
	return out
}

func maxDate(a, b string) string {
	aa := document.NormalizeDate(a)
	bb := document.NormalizeDate(b)
	if aa == "" {
		return bb
	}
	if bb == "" {
		return aa
	}
	if aa >= bb {
		return aa
	}
	return bb
}

// resolveRequest keeps the more-advanced status side wholesale: an
// administrative decision is never rolled back by a replication race, even
// when the less-advanced side carries a newer timestamp.
func resolveRequest(old, new document.ResourceRequest) document.ResourceRequest {
	or := document.StatusRank(old.Status)
	nr := document.StatusRank(new.Status)
	if nr > or {
		return new
	}
	if or > nr {
		return old
	}
	oc := itemClock(old.UpdatedAt, old.CreatedAt)
	nc := itemClock(new.UpdatedAt, new.CreatedAt)
	if strictlyNewer(nc, oc) {
		return new
	}
	if strictlyNewer(oc, nc) {
		return old
	}
	if new.ID > old.ID {
		return new
	}
	return old
}

func resolveDeduction(old, new document.AdvantageDeduction) document.AdvantageDeduction {
	winner := resolveByClock(
		func(d document.AdvantageDeduction) (string, string) { return d.UpdatedAt, d.CreatedAt },
		func(d document.AdvantageDeduction) int { return d.ID },
	)(old, new)
	// reversed is permanent once set
	winner.Reversed = old.Reversed || new.Reversed
	return winner
}

func resolveLeadership(old, new document.LeadershipPost) document.LeadershipPost {
	holder := func(p document.LeadershipPost) string { return strings.TrimSpace(p.Holder) }
	winner := resolveHolder(old.UpdatedAt, new.UpdatedAt, holder(old), holder(new), old.Status, new.Status)
	switch winner {
	case pickOld:
		return old
	case pickNew:
		return new
	default:
		kept := old
		kept.Status = "ended"
		return kept
	}
}

func resolveClassRep(old, new document.ClassRep) document.ClassRep {
	winner := resolveHolder(old.UpdatedAt, new.UpdatedAt, strings.TrimSpace(old.Holder), strings.TrimSpace(new.Holder), old.Status, new.Status)
	switch winner {
	case pickOld:
		return old
	case pickNew:
		return new
	default:
		kept := old
		kept.Status = "ended"
		return kept
	}
}

func resolveGroupCR(old, new document.GroupCR) document.GroupCR {
	winner := resolveHolder(old.UpdatedAt, new.UpdatedAt, strings.TrimSpace(old.Holder), strings.TrimSpace(new.Holder), old.Status, new.Status)
	switch winner {
	case pickOld:
		return old
	case pickNew:
		return new
	default:
		kept := old
		kept.Status = "ended"
		return kept
	}
}

type holderPick int

const (
	pickOld holderPick = iota
	pickNew
	pickOldEnded
)

// resolveHolder implements the roster rules shared by leadership posts,
// class reps and group CRs: a populated entry is never overwritten by an
// empty one, and "ended" is sticky against a stale "active" for the same
// assignee. A different assignee is an intentional reassignment.
func resolveHolder(oldClock, newClock, oldHolder, newHolder, oldStatus, newStatus string) holderPick {
	if newHolder == "" && oldHolder != "" {
		return pickOld
	}
	if oldHolder == "" && newHolder != "" {
		return pickNew
	}
	sameAssignee := strings.EqualFold(oldHolder, newHolder)
	if strictlyNewer(newClock, oldClock) {
		// a strictly newer write wins, including a same-assignee reopen
		return pickNew
	}
	if sameAssignee && oldStatus == "ended" && newStatus == "active" {
		return pickOld
	}
	if sameAssignee && newStatus == "ended" && oldStatus == "active" {
		return pickOldEnded
	}
	return pickOld
}

func unionRosters(a, b map[string][]string) map[string][]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := map[string][]string{}
	for _, src := range []map[string][]string{a, b} {
		for month, rolls := range src {
			out[month] = unionStrings(out[month], rolls)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(a)+len(b))
	for _, src := range [][]string{a, b} {
		for _, v := range src {
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
