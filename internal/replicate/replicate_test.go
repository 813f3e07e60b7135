package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"classboard/api/internal/document"
)

func TestForwardDeliversWithReplicaHeaders(t *testing.T) {
	var mu sync.Mutex
	var got []*http.Request
	var bodies []map[string]any
	done := make(chan struct{}, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, r)
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer server.Close()

	f := NewForwarder("shhh", 1, 8)
	doc := &document.Document{ServerUpdatedAt: "2026-02-10T10:00:00Z"}
	f.Forward(doc, []string{server.URL}, "teacher", "teacher_patch")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forward never arrived")
	}
	f.Close()

	mu.Lock()
	defer mu.Unlock()
	r := got[0]
	if r.URL.Path != endpointPath || r.Method != http.MethodPost {
		t.Fatalf("wrong endpoint: %s %s", r.Method, r.URL.Path)
	}
	if r.Header.Get(HeaderReplicated) != "1" || r.Header.Get(HeaderSyncKey) != "shhh" {
		t.Fatalf("replica headers missing: %v", r.Header)
	}
	body := bodies[0]
	if body["actor_role"] != "teacher" || body["replica_purpose"] != "teacher_patch" {
		t.Fatalf("role context not forwarded: %v", body)
	}
}

func TestForwardSwallowsPeerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewForwarder("", 1, 8)
	f.Forward(&document.Document{}, []string{server.URL, "http://127.0.0.1:1"}, "", "")
	// Close drains the queue; failures must not panic or hang.
	f.Close()
}

func peerServing(t *testing.T, doc *document.Document) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":       doc,
			"updated_at": doc.ServerUpdatedAt,
		})
	}))
}

func bigRoster(n int, clock string) *document.Document {
	doc := &document.Document{ServerUpdatedAt: clock}
	for i := 1; i <= n; i++ {
		doc.Students = append(doc.Students, document.Student{
			ID: i, Roll: fmt.Sprintf("EA24A%02d", i), Active: true,
		})
	}
	return doc
}

func TestProbeAll(t *testing.T) {
	healthy := peerServing(t, bigRoster(30, "2026-02-10T10:00:00Z"))
	defer healthy.Close()
	empty := peerServing(t, nil)
	defer empty.Close()

	results := ProbeAll(context.Background(), []string{healthy.URL, empty.URL, "http://127.0.0.1:1"})
	if len(results) != 3 {
		t.Fatalf("want 3 results, got %d", len(results))
	}
	if !results[0].Reachable || results[0].Students != 30 || results[0].Sizes["students"] != 30 {
		t.Fatalf("healthy peer misreported: %+v", results[0])
	}
	if !results[1].Reachable || results[1].Students != 0 {
		t.Fatalf("empty peer misreported: %+v", results[1])
	}
	if results[2].Reachable || results[2].Error == "" {
		t.Fatalf("dead peer misreported: %+v", results[2])
	}
}

func TestBestPeerSnapshot(t *testing.T) {
	older := peerServing(t, bigRoster(40, "2026-02-10T09:00:00Z"))
	defer older.Close()
	newer := peerServing(t, bigRoster(30, "2026-02-10T10:00:00Z"))
	defer newer.Close()
	tiny := peerServing(t, bigRoster(5, "2026-02-10T11:00:00Z"))
	defer tiny.Close()

	best := BestPeerSnapshot(context.Background(), []string{older.URL, newer.URL, tiny.URL, "http://127.0.0.1:1"}, 25)
	if best == nil {
		t.Fatal("expected a candidate")
	}
	if best.Doc.ServerUpdatedAt != "2026-02-10T10:00:00Z" {
		t.Fatalf("newest healthy peer must win, got %+v", best.Doc.ServerUpdatedAt)
	}

	if got := BestPeerSnapshot(context.Background(), []string{tiny.URL}, 25); got != nil {
		t.Fatalf("tiny-only peers must yield nil, got %+v", got)
	}
}
