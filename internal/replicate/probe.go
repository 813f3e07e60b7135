package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"classboard/api/internal/document"
	"classboard/api/internal/guard"
)

// PeerHealth is one probe result for the operational health view.
type PeerHealth struct {
	Peer       string         `json:"peer"`
	Reachable  bool           `json:"reachable"`
	UpdatedAt  string         `json:"updated_at,omitempty"`
	Students   int            `json:"students"`
	Sizes      map[string]int `json:"sizes,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// ProbeAll fetches every peer's snapshot and reports reachability, clock and
// collection sizes. Failures are reported per peer, never returned as an
// error.
func ProbeAll(ctx context.Context, peers []string) []PeerHealth {
	client := &http.Client{Timeout: ProbeTimeout}
	out := make([]PeerHealth, 0, len(peers))
	for _, peer := range peers {
		peer = strings.TrimRight(strings.TrimSpace(peer), "/")
		if peer == "" {
			continue
		}
		started := time.Now()
		doc, err := fetchDocument(ctx, client, peer)
		health := PeerHealth{Peer: peer, DurationMS: time.Since(started).Milliseconds()}
		if err != nil {
			health.Error = err.Error()
			out = append(out, health)
			continue
		}
		health.Reachable = true
		if doc != nil {
			health.UpdatedAt = doc.ServerUpdatedAt
			health.Students = doc.StudentCount()
			health.Sizes = map[string]int{
				"students":          len(doc.Students),
				"scores":            len(doc.Scores),
				"attendance":        len(doc.Attendance),
				"fee_records":       len(doc.FeeRecords),
				"resource_requests": len(doc.ResourceRequests),
			}
		}
		out = append(out, health)
	}
	return out
}

// BestPeerSnapshot fetches every reachable peer's document and returns the
// healthiest one per the recovery ranking, or nil when no peer offers a
// usable document.
func BestPeerSnapshot(ctx context.Context, peers []string, minSafe int) *guard.Candidate {
	client := &http.Client{Timeout: ProbeTimeout}
	var candidates []guard.Candidate
	for _, peer := range peers {
		peer = strings.TrimRight(strings.TrimSpace(peer), "/")
		if peer == "" {
			continue
		}
		doc, err := fetchDocument(ctx, client, peer)
		if err != nil || doc == nil {
			continue
		}
		candidates = append(candidates, guard.Candidate{
			Doc:     doc,
			ModTime: time.Now(),
			Source:  peer,
		})
	}
	return guard.Best(candidates, minSafe)
}

// fetchDocument pulls a peer's current document. A 204 means the peer has
// nothing yet and yields (nil, nil).
func fetchDocument(ctx context.Context, client *http.Client, peer string) (*document.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+endpointPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer answered %d", resp.StatusCode)
	}
	var body struct {
		Data      json.RawMessage `json:"data"`
		UpdatedAt string          `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode peer document: %w", err)
	}
	doc, err := document.Decode(body.Data)
	if err != nil {
		return nil, fmt.Errorf("decode peer document: %w", err)
	}
	if doc.ServerUpdatedAt == "" {
		doc.ServerUpdatedAt = body.UpdatedAt
	}
	return doc, nil
}
