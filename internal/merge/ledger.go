package merge

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"classboard/api/internal/document"
)

// Veto allowances granted per month of active tenure, by office.
const (
	vetoQuotaLeader     = 5
	vetoQuotaCoLeader   = 3
	vetoQuotaOpposition = 2
	vetoQuotaClassRep   = 2
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// nameKey collapses a display name to a lookup key: lower-cased, markers and
// punctuation stripped. Holder strings and student names come from different
// hands and rarely agree on case or spacing.
func nameKey(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.ReplaceAll(text, "*", "")
	return nonAlnum.ReplaceAllString(text, "")
}

// RecomputeVetoLedger rebuilds the (month, student) -> veto allowance map
// from the current office holders. The ledger is derived state: it is
// recomputed on every accepted write, never merged.
func RecomputeVetoLedger(doc *document.Document) map[string]int {
	if doc == nil {
		return nil
	}
	months := activeMonths(doc)
	if len(months) == 0 {
		return nil
	}

	byName := make(map[string]int, len(doc.Students))
	for _, s := range doc.Students {
		if !s.Active {
			continue
		}
		key := nameKey(s.BaseName)
		if key == "" {
			key, _, _ = splitNameKey(s.Name)
		}
		if key != "" {
			byName[key] = s.ID
		}
	}

	ledger := map[string]int{}
	grant := func(month string, studentID, quota int) {
		if quota <= 0 || studentID == 0 {
			return
		}
		key := month + "|" + strconv.Itoa(studentID)
		if quota > ledger[key] {
			ledger[key] = quota
		}
	}

	for _, post := range doc.Leadership {
		if post.Status == "ended" || strings.TrimSpace(post.Holder) == "" {
			continue
		}
		studentID := byName[nameKey(post.Holder)]
		quota := quotaForPost(post.Post)
		for _, month := range months {
			grant(month, studentID, quota)
		}
	}
	for _, rep := range doc.ClassReps {
		if rep.Status == "ended" || strings.TrimSpace(rep.Holder) == "" {
			continue
		}
		studentID := byName[nameKey(rep.Holder)]
		for _, month := range months {
			grant(month, studentID, vetoQuotaClassRep)
		}
	}
	for _, cr := range doc.GroupCRs {
		if cr.Status == "ended" || strings.TrimSpace(cr.Holder) == "" {
			continue
		}
		studentID := byName[nameKey(cr.Holder)]
		for _, month := range months {
			grant(month, studentID, vetoQuotaClassRep)
		}
	}

	if len(ledger) == 0 {
		return nil
	}
	return ledger
}

// quotaForPost maps a post title to its monthly veto allowance. Titles are
// free text, so matching is by the most specific phrase first.
func quotaForPost(title string) int {
	t := strings.ToUpper(title)
	switch {
	case strings.Contains(t, "LEADER OF OPPOSITION"):
		return vetoQuotaOpposition
	case strings.Contains(t, "CO-LEADER"):
		return vetoQuotaCoLeader
	case strings.Contains(t, "LEADER"):
		return vetoQuotaLeader
	case strings.Contains(t, "(CR)") || t == "CR":
		return vetoQuotaClassRep
	default:
		return 0
	}
}

// activeMonths collects the months the document has data for, sorted.
func activeMonths(doc *document.Document) []string {
	seen := map[string]struct{}{}
	for _, s := range doc.Scores {
		if s.Month != "" {
			seen[s.Month] = struct{}{}
		}
	}
	for month := range doc.MonthRosters {
		seen[month] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func splitNameKey(raw string) (string, int, int) {
	base, stars, vetos := document.ParseNameMeta(raw)
	return nameKey(base), stars, vetos
}
