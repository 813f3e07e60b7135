package document

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	groupFromRoll = regexp.MustCompile(`^EA\d{2}([A-Z])`)
	starMarkers   = regexp.MustCompile(`\*+`)
	vetoMarkers   = regexp.MustCompile(`(?i)\((v+)\)`)
	spaceRuns     = regexp.MustCompile(`\s{2,}`)
)

// NormalizeRoll canonicalizes a roll code: trimmed, upper-cased.
func NormalizeRoll(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}

// ParseNameMeta splits a raw display name into its base name plus the star
// and veto counts encoded as "*" runs and "(v...)" markers.
func ParseNameMeta(raw string) (base string, stars, vetos int) {
	text := strings.TrimSpace(raw)
	stars = len(starMarkers.FindAllString(text, -1))
	for _, m := range vetoMarkers.FindAllStringSubmatch(text, -1) {
		vetos += len(m[1])
	}
	base = starMarkers.ReplaceAllString(text, "")
	base = vetoMarkers.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaceRuns.ReplaceAllString(base, " "))
	if base == "" {
		base = text
	}
	return base, stars, vetos
}

// GroupFromRoll infers the group letter from the roll pattern, defaulting to
// "A" when the roll does not match.
func GroupFromRoll(roll string) string {
	if m := groupFromRoll.FindStringSubmatch(NormalizeRoll(roll)); m != nil {
		return m[1]
	}
	return "A"
}

// MonthOf derives the "YYYY-MM" month key from an ISO date.
func MonthOf(date string) string {
	d := strings.TrimSpace(date)
	if len(d) >= 7 && d[4] == '-' {
		return d[:7]
	}
	return ""
}

// NormalizeDate keeps only the YYYY-MM-DD prefix when possible.
func NormalizeDate(date string) string {
	d := strings.TrimSpace(date)
	if len(d) >= 10 && d[4] == '-' && d[7] == '-' {
		return d[:10]
	}
	return d
}

// Score value ranges. Values outside them are clamped at the boundary so a
// corrupt or malicious payload cannot smuggle absurd totals through a merge.
const (
	maxPoints = 1000
	maxStars  = 100
	maxVetos  = 50
)

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NetScore applies the fixed scoring weights: one star is worth 10 points,
// one veto costs 5.
func NetScore(points, stars, vetos int) int {
	return points + stars*10 - vetos*5
}

var clockFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseClock parses a document timestamp. Absent or unparseable values
// return the zero time, which always loses a newest-wins comparison.
func ParseClock(value string) time.Time {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range clockFormats {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatClock renders the logical clock in the document's wire format.
func FormatClock(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Decode parses a wire payload into a typed Document and normalizes it.
func Decode(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	Normalize(&doc)
	return &doc, nil
}

// DecodeValue converts an already-unmarshalled JSON value (as produced by
// decoding a request envelope into any) into a typed Document.
func DecodeValue(value any) (*Document, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("re-encode document value: %w", err)
	}
	return Decode(raw)
}

// Normalize canonicalizes a decoded document in place: roll casing, derived
// name metadata, derived months, and timestamp backfill from created_at or
// the document clock so no mutable item is left without a comparable
// timestamp.
func Normalize(doc *Document) {
	if doc == nil {
		return
	}
	fallback := doc.ServerUpdatedAt

	for i := range doc.Students {
		s := &doc.Students[i]
		s.Roll = NormalizeRoll(s.Roll)
		base, stars, vetos := ParseNameMeta(s.Name)
		if s.BaseName == "" {
			s.BaseName = base
		}
		if s.Stars == 0 {
			s.Stars = stars
		}
		if s.Vetos == 0 {
			s.Vetos = vetos
		}
		if s.Group == "" {
			s.Group = GroupFromRoll(s.Roll)
		}
		s.Stars = clampInt(s.Stars, 0, maxStars)
		s.Vetos = clampInt(s.Vetos, 0, maxVetos)
		backfill(&s.UpdatedAt, s.CreatedAt, fallback)
	}
	for i := range doc.Scores {
		sc := &doc.Scores[i]
		sc.Roll = NormalizeRoll(sc.Roll)
		sc.Date = NormalizeDate(sc.Date)
		if m := MonthOf(sc.Date); m != "" {
			sc.Month = m
		}
		sc.Points = clampInt(sc.Points, 0, maxPoints)
		sc.Stars = clampInt(sc.Stars, 0, maxStars)
		sc.Vetos = clampInt(sc.Vetos, 0, maxVetos)
		backfill(&sc.UpdatedAt, sc.CreatedAt, fallback)
	}
	for i := range doc.Attendance {
		a := &doc.Attendance[i]
		a.Roll = NormalizeRoll(a.Roll)
		a.Date = NormalizeDate(a.Date)
		if a.Month == "" {
			a.Month = MonthOf(a.Date)
		}
		backfill(&a.UpdatedAt, a.CreatedAt, fallback)
	}
	for i := range doc.FeeRecords {
		f := &doc.FeeRecords[i]
		f.Roll = NormalizeRoll(f.Roll)
		f.LastPaidDate = NormalizeDate(f.LastPaidDate)
		for j := range f.PaymentHistory {
			f.PaymentHistory[j].Date = NormalizeDate(f.PaymentHistory[j].Date)
		}
		backfill(&f.UpdatedAt, "", fallback)
	}
	for i := range doc.ResourceRequests {
		r := &doc.ResourceRequests[i]
		r.Roll = NormalizeRoll(r.Roll)
		r.Status = NormalizeStatus(r.Status)
		backfill(&r.UpdatedAt, r.CreatedAt, fallback)
	}
	for i := range doc.Appeals {
		a := &doc.Appeals[i]
		a.Roll = NormalizeRoll(a.Roll)
		if a.Month == "" {
			a.Month = MonthOf(a.CreatedAt)
		}
		backfill(&a.UpdatedAt, a.CreatedAt, fallback)
	}
	for i := range doc.ElectionVotes {
		v := &doc.ElectionVotes[i]
		v.VoterRoll = NormalizeRoll(v.VoterRoll)
		backfill(&v.UpdatedAt, v.CreatedAt, fallback)
	}
	for month, rolls := range doc.MonthRosters {
		normalized := make([]string, 0, len(rolls))
		for _, roll := range rolls {
			if r := NormalizeRoll(roll); r != "" {
				normalized = append(normalized, r)
			}
		}
		doc.MonthRosters[month] = normalized
	}
}

func backfill(updatedAt *string, createdAt, documentClock string) {
	if *updatedAt != "" {
		return
	}
	if createdAt != "" {
		*updatedAt = createdAt
		return
	}
	*updatedAt = documentClock
}
