package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"classboard/api/internal/auth"
	"classboard/api/internal/broadcast"
	"classboard/api/internal/document"
	"classboard/api/internal/patch"
	"classboard/api/internal/rbac"
	"classboard/api/internal/replicate"
)

const keepaliveInterval = 25 * time.Second

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// caller is the resolved identity of one request.
type caller struct {
	role  rbac.Role
	actor patch.Actor
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		s.handleHealth(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/offline-data" {
		s.handleGetData(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/offline-data" {
		s.handlePostData(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/offline-data/events" {
		s.handleEvents(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/offline-data/history" {
		s.handleHistory(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/restore-points" {
		s.handleListRestorePoints(w, r)
		return
	}

	if parts := splitPath(r.URL.Path); len(parts) == 4 && parts[0] == "api" && parts[1] == "restore-points" {
		if r.Method == http.MethodPost && parts[3] == "meta" {
			s.handleRestoreMeta(w, r, parts[2])
			return
		}
		if r.Method == http.MethodPost && parts[3] == "restore" {
			s.handleRestore(w, r, parts[2])
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/peer-health" {
		s.handlePeerHealth(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"ok": true}
	if doc, err := s.service.CurrentDocument(r.Context()); err == nil && doc != nil {
		payload["updated_at"] = doc.ServerUpdatedAt
		payload["students"] = doc.StudentCount()
		payload["month_net_points"] = monthNetPoints(doc, time.Now())
	}
	writeJSON(w, http.StatusOK, payload)
}

// monthNetPoints totals the weighted score of the current month, the number
// the scoreboard headline shows.
func monthNetPoints(doc *document.Document, now time.Time) int {
	month := now.UTC().Format("2006-01")
	total := 0
	for _, score := range doc.Scores {
		m := score.Month
		if m == "" {
			m = document.MonthOf(score.Date)
		}
		if m != month {
			continue
		}
		total += document.NetScore(score.Points, score.Stars, score.Vetos)
	}
	return total
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.RestorePoints(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok": false, "status": "not_ready", "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LoginID  string `json:"loginId"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(body.LoginID, body.Password)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleGetData(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.CurrentDocument(r.Context())
	if err != nil {
		writeMapped(w, err)
		return
	}
	if doc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if !document.ParseClock(doc.ServerUpdatedAt).After(document.ParseClock(since)) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       doc,
		"updated_at": doc.ServerUpdatedAt,
	})
}

func (s *HTTPServer) handlePostData(w http.ResponseWriter, r *http.Request) {
	who, err := s.resolveCaller(r)
	if err != nil {
		writeMapped(w, err)
		return
	}

	var body struct {
		Data           json.RawMessage           `json:"data"`
		Peers          []string                  `json:"peers"`
		ForceReplace   bool                      `json:"force_replace"`
		ActorRole      string                    `json:"actor_role"`
		ReplicaPurpose string                    `json:"replica_purpose"`
		Request        *document.ResourceRequest `json:"request"`
		Appeal         *document.Appeal          `json:"appeal"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	req := SubmitRequest{
		Actor:          who.actor,
		Role:           who.role,
		Peers:          body.Peers,
		ForceReplace:   body.ForceReplace && who.role == rbac.RoleAdmin,
		ActorRole:      body.ActorRole,
		ReplicaPurpose: body.ReplicaPurpose,
		Student:        patch.StudentSubmission{Request: body.Request, Appeal: body.Appeal},
	}
	if len(body.Data) > 0 {
		doc, err := document.Decode(body.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Document payload does not decode", nil)
			return
		}
		req.Data = doc
	}

	updatedAt, err := s.service.SubmitDocument(r.Context(), req)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated_at": updatedAt})
}

// handleEvents serves the SSE stream: a baseline sync event on connect, a
// sync event per accepted write, and periodic keepalive comments.
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAM_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	broker := s.service.Broker()
	if broker == nil {
		writeError(w, http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", "Event broadcaster not configured", nil)
		return
	}
	events, cancel := broker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	baseline := broadcast.Event{Source: "baseline"}
	if doc, err := s.service.CurrentDocument(r.Context()); err == nil && doc != nil {
		baseline.UpdatedAt = doc.ServerUpdatedAt
	}
	writeSSE(w, baseline)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev broadcast.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: sync\ndata: %s\n\n", payload)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	who, err := s.resolveCaller(r)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !rbac.Can(who.role, rbac.ActionRestore) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	items, err := s.service.History(limit)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

func (s *HTTPServer) handleListRestorePoints(w http.ResponseWriter, r *http.Request) {
	who, err := s.resolveCaller(r)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !rbac.Can(who.role, rbac.ActionRestore) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	points, err := s.service.RestorePoints()
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restore_points": points})
}

func (s *HTTPServer) handleRestoreMeta(w http.ResponseWriter, r *http.Request, id string) {
	who, err := s.resolveCaller(r)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !rbac.Can(who.role, rbac.ActionRestore) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	var body struct {
		Locked *bool   `json:"locked"`
		Label  *string `json:"label"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.SetRestoreMeta(id, body.Locked, body.Label); err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request, id string) {
	who, err := s.resolveCaller(r)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !rbac.Can(who.role, rbac.ActionRestore) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	updatedAt, err := s.service.Restore(id)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated_at": updatedAt})
}

func (s *HTTPServer) handlePeerHealth(w http.ResponseWriter, r *http.Request) {
	who, err := s.resolveCaller(r)
	if err != nil {
		writeMapped(w, err)
		return
	}
	if !rbac.Can(who.role, rbac.ActionHealthCheck) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.service.PeerHealth(ctx)})
}

// resolveCaller authenticates a request: a replica header pair outranks a
// bearer token, and a bad replica key is rejected outright rather than
// falling back to anonymous.
func (s *HTTPServer) resolveCaller(r *http.Request) (caller, error) {
	if r.Header.Get(replicate.HeaderReplicated) == "1" {
		if !auth.SharedKeyMatch(s.service.cfg.SyncSharedKey, r.Header.Get(replicate.HeaderSyncKey)) {
			return caller{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid sync key", nil)
		}
		return caller{role: rbac.RoleReplica}, nil
	}

	token := bearerToken(r)
	if token == "" {
		return caller{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing credentials", nil)
	}
	claims, err := auth.ParseToken([]byte(s.service.cfg.SessionSecret), token)
	if err != nil {
		return caller{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
	}
	return caller{
		role: rbac.Normalize(claims.Role),
		actor: patch.Actor{
			Login: claims.Sub,
			Name:  claims.Name,
			Roll:  claims.Roll,
		},
	}, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets the recorder pass SSE flushes through to the real writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+replicate.HeaderReplicated+", "+replicate.HeaderSyncKey)
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
