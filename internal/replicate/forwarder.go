// Package replicate pushes accepted writes to configured peers and pulls
// peer snapshots for recovery and startup bootstrap. Everything here is best
// effort: a peer failure is logged and forgotten, never surfaced to the
// writer whose document is already durable locally.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"classboard/api/internal/document"
)

const (
	// ForwardTimeout bounds one push to one peer.
	ForwardTimeout = 4 * time.Second

	// ProbeTimeout bounds one health or snapshot fetch.
	ProbeTimeout = 3 * time.Second

	endpointPath = "/api/offline-data"

	// HeaderReplicated marks a forwarded write so the receiver applies
	// replica semantics instead of treating it as a direct client write.
	HeaderReplicated = "X-EA-Replicated"

	// HeaderSyncKey carries the shared replication secret.
	HeaderSyncKey = "X-EA-Sync-Key"
)

type job struct {
	peer    string
	payload []byte
}

// Forwarder owns a bounded queue and a small worker pool. A full queue drops
// the oldest intent for that write; the next accepted write re-forwards the
// whole document anyway.
type Forwarder struct {
	client    *http.Client
	sharedKey string

	queue chan job
	wg    sync.WaitGroup
	once  sync.Once
}

func NewForwarder(sharedKey string, workers, depth int) *Forwarder {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 64
	}
	f := &Forwarder{
		client:    &http.Client{Timeout: ForwardTimeout},
		sharedKey: sharedKey,
		queue:     make(chan job, depth),
	}
	f.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go f.worker()
	}
	return f
}

// Forward queues one push of doc to every peer. It never blocks the caller.
func (f *Forwarder) Forward(doc *document.Document, peers []string, actorRole, purpose string) {
	if len(peers) == 0 {
		return
	}
	body := map[string]any{"data": doc}
	if actorRole != "" {
		body["actor_role"] = actorRole
	}
	if purpose != "" {
		body["replica_purpose"] = purpose
	}
	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("replicate: encode forward payload: %v", err)
		return
	}
	for _, peer := range peers {
		peer = strings.TrimRight(strings.TrimSpace(peer), "/")
		if peer == "" {
			continue
		}
		select {
		case f.queue <- job{peer: peer, payload: payload}:
		default:
			log.Printf("replicate: queue full, dropping forward to %s", peer)
		}
	}
}

// Close stops accepting work and drains the queue.
func (f *Forwarder) Close() {
	f.once.Do(func() { close(f.queue) })
	f.wg.Wait()
}

func (f *Forwarder) worker() {
	defer f.wg.Done()
	for j := range f.queue {
		if err := f.push(j); err != nil {
			log.Printf("replicate: forward to %s failed: %v", j.peer, err)
		}
	}
}

func (f *Forwarder) push(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), ForwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.peer+endpointPath, bytes.NewReader(j.payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderReplicated, "1")
	req.Header.Set(HeaderSyncKey, f.sharedKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer answered %d", resp.StatusCode)
	}
	return nil
}
