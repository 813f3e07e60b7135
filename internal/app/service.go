package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"classboard/api/internal/archive"
	"classboard/api/internal/auth"
	"classboard/api/internal/broadcast"
	"classboard/api/internal/config"
	"classboard/api/internal/document"
	"classboard/api/internal/guard"
	"classboard/api/internal/merge"
	"classboard/api/internal/patch"
	"classboard/api/internal/rbac"
	"classboard/api/internal/replicate"
	"classboard/api/internal/snapshot"
)

// Service ties the engine together: every accepted write travels the same
// path of scope -> guard -> merge -> persist -> archive -> forward ->
// broadcast.
type Service struct {
	cfg       config.Config
	store     snapshot.Store
	keeper    *snapshot.Keeper
	archive   *archive.Service
	forwarder *replicate.Forwarder
	broker    broadcast.Broker

	now func() time.Time
}

func NewService(cfg config.Config, store snapshot.Store, keeper *snapshot.Keeper, arch *archive.Service, forwarder *replicate.Forwarder, broker broadcast.Broker) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		keeper:    keeper,
		archive:   arch,
		forwarder: forwarder,
		broker:    broker,
		now:       time.Now,
	}
}

func (s *Service) Broker() broadcast.Broker { return s.broker }

// Session is the payload handed back after a successful login.
type Session struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Login checks the operator credentials from the environment. Student tokens
// are issued by the surrounding application with the same session secret;
// this endpoint only covers the two operator accounts the engine itself
// needs.
func (s *Service) Login(loginID, password string) (Session, error) {
	var role, name, hash string
	switch loginID {
	case s.cfg.AdminLogin:
		role, name, hash = string(rbac.RoleAdmin), s.cfg.AdminLogin, s.cfg.AdminPasswordHash
	case s.cfg.TeacherLogin:
		role, name, hash = string(rbac.RoleTeacher), s.cfg.TeacherLogin, s.cfg.TeacherPasswordHash
	default:
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}

	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Sub:  loginID,
		Name: name,
		Role: role,
		Exp:  s.now().Add(s.cfg.SessionTTL).Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Name: name, Role: role}, nil
}

// CurrentDocument returns the live document. When the stored copy fails the
// corruption guard it recovers through peers, then local backup generations,
// then the keeper row. A nil document with a nil error means nothing exists
// yet.
func (s *Service) CurrentDocument(ctx context.Context) (*document.Document, error) {
	doc, err := s.store.Load()
	if errors.Is(err, snapshot.ErrNoDocument) {
		doc = nil
	} else if err != nil {
		return nil, err
	}

	if doc == nil {
		if recovered := s.keeperDocument(ctx); recovered != nil {
			return s.adopt(recovered, "keeper")
		}
		return nil, nil
	}
	if !guard.TinyRoster(doc, s.cfg.MinSafeStudents) {
		return doc, nil
	}

	log.Printf("guard: stored document has %d students, below floor %d, recovering", doc.StudentCount(), s.cfg.MinSafeStudents)
	if best := replicate.BestPeerSnapshot(ctx, s.cfg.Peers, s.cfg.MinSafeStudents); best != nil {
		return s.adopt(merge.Documents(doc, best.Doc), "peer:"+best.Source)
	}
	if best := guard.Best(s.store.Candidates(), s.cfg.MinSafeStudents); best != nil {
		return s.adopt(merge.Documents(doc, best.Doc), "backup:"+best.Source)
	}
	if recovered := s.keeperDocument(ctx); recovered != nil && !guard.TinyRoster(recovered, s.cfg.MinSafeStudents) {
		return s.adopt(merge.Documents(doc, recovered), "keeper")
	}
	return nil, domainError(http.StatusServiceUnavailable, "CORRUPT_STATE", "Stored document failed the corruption check and no healthy candidate exists", nil)
}

// adopt persists a recovered document and reports it as the current one.
func (s *Service) adopt(doc *document.Document, source string) (*document.Document, error) {
	if doc.ServerUpdatedAt == "" {
		doc.ServerUpdatedAt = document.FormatClock(s.now())
	}
	if err := s.store.Save(doc); err != nil {
		return nil, err
	}
	s.afterWrite(doc, source)
	return doc, nil
}

func (s *Service) keeperDocument(ctx context.Context) *document.Document {
	if s.keeper == nil {
		return nil
	}
	doc, err := s.keeper.Load(ctx)
	if err != nil {
		if !errors.Is(err, snapshot.ErrNoDocument) {
			log.Printf("keeper: load failed: %v", err)
		}
		return nil
	}
	return doc
}

// SubmitRequest is one write attempt after HTTP decoding.
type SubmitRequest struct {
	Actor          patch.Actor
	Role           rbac.Role
	Data           *document.Document
	Student        patch.StudentSubmission
	Peers          []string
	ForceReplace   bool
	ActorRole      string
	ReplicaPurpose string
}

// SubmitDocument runs one write through the full pipeline and returns the
// post-merge logical clock.
func (s *Service) SubmitDocument(ctx context.Context, req SubmitRequest) (string, error) {
	if s.cfg.RestoreLock {
		return "", domainError(http.StatusLocked, "RESTORE_LOCK", "Writes are temporarily blocked by the restore lock", nil)
	}
	if !rbac.Can(req.Role, rbac.ActionWrite) {
		return "", domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Role may not write", nil)
	}

	existing, err := s.store.Load()
	if errors.Is(err, snapshot.ErrNoDocument) {
		existing, err = nil, nil
	}
	if err != nil {
		return "", err
	}

	scoped, narrowPatch, err := s.scope(existing, req)
	if err != nil {
		return "", err
	}

	if !narrowPatch && !req.ForceReplace && existing != nil {
		if guard.SuspiciousShrink(existing, scoped) {
			incomingClock := document.ParseClock(scoped.ServerUpdatedAt)
			existingClock := document.ParseClock(existing.ServerUpdatedAt)
			if !incomingClock.After(existingClock) {
				return "", domainError(http.StatusConflict, "CONFLICT", "Incoming document is older and would shrink the roster", map[string]any{
					"server_updated_at": existing.ServerUpdatedAt,
				})
			}
			return "", domainError(http.StatusUnprocessableEntity, "PAYLOAD_TOO_SMALL", "Incoming document would drop too many known students", map[string]any{
				"existing_students": existing.StudentCount(),
				"incoming_students": scoped.StudentCount(),
			})
		}
		if guard.TinyRoster(scoped, s.cfg.MinSafeStudents) && existing.StudentCount() >= s.cfg.MinSafeStudents {
			return "", domainError(http.StatusUnprocessableEntity, "PAYLOAD_TOO_SMALL", "Incoming roster is below the safe minimum", map[string]any{
				"incoming_students": scoped.StudentCount(),
				"min_safe":          s.cfg.MinSafeStudents,
			})
		}
	}

	merged := merge.Documents(existing, scoped)
	merged.ServerUpdatedAt = s.bumpClock(existing)
	if err := s.store.Save(merged); err != nil {
		return "", err
	}

	source := writeSource(req)
	s.afterWrite(merged, source)

	peers := req.Peers
	if len(peers) == 0 {
		peers = s.cfg.Peers
	}
	if s.forwarder != nil && len(peers) > 0 {
		if req.Role == rbac.RoleTeacher {
			// a narrowly-scoped node relays only what it was allowed to write
			s.forwarder.Forward(scoped, peers, string(rbac.RoleTeacher), "teacher_patch")
		} else if req.Role != rbac.RoleReplica {
			s.forwarder.Forward(merged, peers, "", "")
		}
	}
	return merged.ServerUpdatedAt, nil
}

// scope narrows the submission per the caller's role. The second return
// reports whether the result is a narrow patch exempt from whole-document
// guards.
func (s *Service) scope(existing *document.Document, req SubmitRequest) (*document.Document, bool, error) {
	now := s.now().In(s.cfg.Location())
	switch req.Role {
	case rbac.RoleAdmin:
		if req.Data == nil {
			return nil, false, domainError(http.StatusBadRequest, "INVALID_BODY", "Missing document payload", nil)
		}
		document.Normalize(req.Data)
		return req.Data, false, nil

	case rbac.RoleTeacher:
		if req.Data == nil {
			return nil, false, domainError(http.StatusBadRequest, "INVALID_BODY", "Missing document payload", nil)
		}
		document.Normalize(req.Data)
		return patch.ForTeacher(existing, req.Data, req.Actor, now), true, nil

	case rbac.RoleStudent:
		scoped, err := patch.ForStudent(existing, req.Student, req.Actor, now)
		if err != nil {
			return nil, false, mapPatchError(err)
		}
		return scoped, true, nil

	case rbac.RoleReplica:
		if req.Data == nil {
			return nil, false, domainError(http.StatusBadRequest, "INVALID_BODY", "Missing document payload", nil)
		}
		document.Normalize(req.Data)
		if rbac.Normalize(req.ActorRole) == rbac.RoleTeacher && req.ReplicaPurpose == "teacher_patch" {
			return patch.ForReplicaTeacher(existing, req.Data, now), true, nil
		}
		if s.cfg.MasterMode && req.ReplicaPurpose != "teacher_patch" && existing != nil {
			// the master only takes full documents that move the clock forward
			if !document.ParseClock(req.Data.ServerUpdatedAt).After(document.ParseClock(existing.ServerUpdatedAt)) {
				return nil, false, domainError(http.StatusConflict, "CONFLICT", "Replica document is not newer than the master copy", map[string]any{
					"server_updated_at": existing.ServerUpdatedAt,
				})
			}
		}
		return req.Data, false, nil

	default:
		return nil, false, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unknown role", nil)
	}
}

func mapPatchError(err error) error {
	switch {
	case errors.Is(err, patch.ErrIdentity):
		return domainError(http.StatusUnauthorized, "UNKNOWN_IDENTITY", "Caller does not resolve to a known student", nil)
	case errors.Is(err, patch.ErrUnknownItem):
		return domainError(http.StatusUnprocessableEntity, "UNKNOWN_ITEM", "Requested catalog item does not exist", nil)
	case errors.Is(err, patch.ErrEmpty):
		return domainError(http.StatusUnprocessableEntity, "EMPTY_PATCH", "Nothing in the submission is within the caller's scope", nil)
	default:
		return err
	}
}

// bumpClock produces a logical clock strictly after the stored one even when
// the wall clock has not moved past it.
func (s *Service) bumpClock(existing *document.Document) string {
	now := s.now().UTC()
	if existing != nil {
		if prev := document.ParseClock(existing.ServerUpdatedAt); !now.After(prev) {
			now = prev.Add(time.Millisecond)
		}
	}
	return document.FormatClock(now)
}

// afterWrite runs the non-blocking tail of the pipeline: keeper mirror,
// archive commit, sync broadcast.
func (s *Service) afterWrite(doc *document.Document, source string) {
	if s.keeper != nil && !guard.TinyRoster(doc, s.cfg.MinSafeStudents) && doc.StudentCount() > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.keeper.SaveHealthy(ctx, doc); err != nil {
				log.Printf("keeper: save failed: %v", err)
			}
		}()
	}
	if s.archive != nil {
		go func() {
			if err := s.archive.Record(doc, source); err != nil {
				log.Printf("archive: record failed: %v", err)
			}
		}()
	}
	if s.broker != nil {
		s.broker.Publish(broadcast.Event{UpdatedAt: doc.ServerUpdatedAt, Source: source})
	}
}

func writeSource(req SubmitRequest) string {
	switch req.Role {
	case rbac.RoleReplica:
		if req.ReplicaPurpose != "" {
			return "replica:" + req.ReplicaPurpose
		}
		return "replica"
	default:
		if req.Actor.Login != "" {
			return string(req.Role) + ":" + req.Actor.Login
		}
		return string(req.Role)
	}
}

// RestorePoints lists every restorable copy with its metadata.
func (s *Service) RestorePoints() ([]snapshot.RestorePoint, error) {
	return s.store.ListRestorePoints()
}

// SetRestoreMeta toggles the lock flag and/or label on a restore point.
func (s *Service) SetRestoreMeta(id string, locked *bool, label *string) error {
	err := s.store.SetMeta(id, locked, label)
	if errors.Is(err, snapshot.ErrPointNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Unknown restore point", nil)
	}
	return err
}

// Restore installs a restore point as the live document and pushes the
// result through the usual post-write tail.
func (s *Service) Restore(id string) (string, error) {
	doc, err := s.store.Restore(id)
	if errors.Is(err, snapshot.ErrPointNotFound) {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Unknown restore point", nil)
	}
	if err != nil {
		return "", err
	}
	s.afterWrite(doc, "restore:"+id)
	if s.forwarder != nil && len(s.cfg.Peers) > 0 {
		s.forwarder.Forward(doc, s.cfg.Peers, "", "")
	}
	return doc.ServerUpdatedAt, nil
}

// History lists recent archived versions.
func (s *Service) History(limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "Document history archive is not configured", nil)
	}
	return s.archive.History(limit)
}

// PeerHealth probes every configured peer.
func (s *Service) PeerHealth(ctx context.Context) []replicate.PeerHealth {
	return replicate.ProbeAll(ctx, s.cfg.Peers)
}

// Bootstrap seeds or heals the local store from peers at startup: an empty
// or tiny local document adopts the best reachable peer snapshot, and a peer
// clock beyond the healing margin is adopted through the merge path.
func (s *Service) Bootstrap(ctx context.Context) {
	if len(s.cfg.Peers) == 0 {
		return
	}
	local, err := s.store.Load()
	if err != nil && !errors.Is(err, snapshot.ErrNoDocument) {
		log.Printf("bootstrap: load local: %v", err)
		return
	}

	best := replicate.BestPeerSnapshot(ctx, s.cfg.Peers, s.cfg.MinSafeStudents)
	if best == nil {
		return
	}
	needsSeed := local == nil || guard.TinyRoster(local, s.cfg.MinSafeStudents)
	if !needsSeed && !guard.ShouldHeal(local, best.Doc) {
		return
	}
	merged := merge.Documents(local, best.Doc)
	if err := s.store.Save(merged); err != nil {
		log.Printf("bootstrap: save: %v", err)
		return
	}
	s.afterWrite(merged, "bootstrap:"+best.Source)
	log.Printf("bootstrap: adopted snapshot from %s (%d students, clock %s)",
		best.Source, merged.StudentCount(), merged.ServerUpdatedAt)
}
