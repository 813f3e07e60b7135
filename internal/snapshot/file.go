package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"classboard/api/internal/document"
	"classboard/api/internal/guard"
)

const (
	liveName   = "offline_scoreboard_data.json"
	rollingDir = "offline_scoreboard_backups"
	hourlyDir  = "offline_scoreboard_hourly_backups"
	startupDir = "startup_restore_points"
	metaName   = "restore_points.meta.json"

	keepRolling = 20
	keepHourly  = 48
	keepStartup = 10
)

// Mirror receives a copy of every new hourly snapshot, for offsite storage.
type Mirror interface {
	Upload(name string, data []byte) error
}

// FileStore is the file-backed Store. All writes go through a temp file and
// an atomic rename, so a crash mid-save never corrupts the live document.
type FileStore struct {
	dir    string
	loc    *time.Location
	mirror Mirror

	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore opens (creating if needed) a document store rooted at dir.
// mirror may be nil.
func NewFileStore(dir string, loc *time.Location, mirror Mirror) (*FileStore, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, sub := range []string{"", rollingDir, hourlyDir, startupDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: create %s: %w", sub, err)
		}
	}
	return &FileStore{dir: dir, loc: loc, mirror: mirror, now: time.Now}, nil
}

func (s *FileStore) livePath() string { return filepath.Join(s.dir, liveName) }

func (s *FileStore) Load() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, err := readDocument(s.livePath()); err == nil {
		return doc, nil
	}
	if best := s.bestBackup(); best != nil {
		return best, nil
	}
	return nil, ErrNoDocument
}

func (s *FileStore) Save(doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

func (s *FileStore) saveLocked(doc *document.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode document: %w", err)
	}
	if err := writeAtomic(s.livePath(), data); err != nil {
		return fmt.Errorf("snapshot: write live document: %w", err)
	}

	now := s.now().In(s.loc)
	rolling := uniquePath(filepath.Join(s.dir, rollingDir), "backup_"+now.Format("20060102_150405"))
	if err := writeAtomic(rolling, data); err != nil {
		return fmt.Errorf("snapshot: write rolling backup: %w", err)
	}

	hourly := filepath.Join(s.dir, hourlyDir, "hourly_"+now.Format("20060102_15")+".json")
	if _, err := os.Stat(hourly); os.IsNotExist(err) {
		if err := writeAtomic(hourly, data); err != nil {
			return fmt.Errorf("snapshot: write hourly snapshot: %w", err)
		}
		if s.mirror != nil {
			name := filepath.Base(hourly)
			payload := data
			go func() {
				// offsite copy is best effort, never blocks the writer
				_ = s.mirror.Upload(name, payload)
			}()
		}
	}

	locked := s.lockedSet()
	s.prune(filepath.Join(s.dir, rollingDir), keepRolling, locked)
	s.prune(filepath.Join(s.dir, hourlyDir), keepHourly, locked)
	return nil
}

// StartupSnapshot copies the current live document into the per-boot
// restore-point set. A missing or unreadable live file is not an error.
func (s *FileStore) StartupSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.livePath())
	if err != nil {
		return nil
	}
	if _, err := document.Decode(data); err != nil {
		return nil
	}
	now := s.now().In(s.loc)
	path := uniquePath(filepath.Join(s.dir, startupDir), "startup_"+now.Format("20060102_150405"))
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("snapshot: write startup snapshot: %w", err)
	}
	s.prune(filepath.Join(s.dir, startupDir), keepStartup, s.lockedSet())
	return nil
}

func (s *FileStore) ListRestorePoints() ([]RestorePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.readMeta()
	var points []RestorePoint
	add := func(id string, kind Kind, path string) {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		doc, err := document.Decode(data)
		if err != nil {
			// malformed generations are not restorable, leave them out
			return
		}
		p := RestorePoint{
			ID:           id,
			Kind:         kind,
			ModTime:      info.ModTime(),
			UpdatedAt:    doc.ServerUpdatedAt,
			StudentCount: doc.StudentCount(),
			SizeBytes:    info.Size(),
		}
		if m, ok := meta[id]; ok {
			p.Locked = m.Locked
			p.Label = m.Label
		}
		points = append(points, p)
	}

	add("live", KindLive, s.livePath())
	for _, gen := range []struct {
		dir  string
		kind Kind
	}{
		{rollingDir, KindRolling},
		{hourlyDir, KindHourly},
		{startupDir, KindStartup},
	} {
		for _, name := range listJSON(filepath.Join(s.dir, gen.dir)) {
			add(name, gen.kind, filepath.Join(s.dir, gen.dir, name))
		}
	}

	sort.Slice(points, func(i, j int) bool {
		if !points[i].ModTime.Equal(points[j].ModTime) {
			return points[i].ModTime.After(points[j].ModTime)
		}
		return points[i].ID < points[j].ID
	})
	return points, nil
}

func (s *FileStore) SetMeta(id string, locked *bool, label *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.resolve(id); err != nil {
		return err
	}
	meta := s.readMeta()
	m := meta[id]
	if locked != nil {
		m.Locked = *locked
	}
	if label != nil {
		m.Label = strings.TrimSpace(*label)
	}
	meta[id] = m
	return s.writeMeta(meta)
}

func (s *FileStore) Restore(id string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read restore point %s: %w", id, err)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot: restore point %s is malformed: %w", id, err)
	}

	now := s.now().In(s.loc)
	if live, err := os.ReadFile(s.livePath()); err == nil {
		safety := uniquePath(filepath.Join(s.dir, rollingDir), "pre_restore_"+now.Format("20060102_150405"))
		if err := writeAtomic(safety, live); err != nil {
			return nil, fmt.Errorf("snapshot: write pre-restore copy: %w", err)
		}
	}

	doc.ServerUpdatedAt = document.FormatClock(now)
	if err := s.saveLocked(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// resolve maps a restore-point id back to its file, rejecting anything that
// is not a plain generated filename.
func (s *FileStore) resolve(id string) (string, error) {
	if id == "live" {
		return s.livePath(), nil
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", ErrPointNotFound
	}
	var dir string
	switch {
	case strings.HasPrefix(id, "backup_") || strings.HasPrefix(id, "pre_restore_"):
		dir = rollingDir
	case strings.HasPrefix(id, "hourly_"):
		dir = hourlyDir
	case strings.HasPrefix(id, "startup_"):
		dir = startupDir
	default:
		return "", ErrPointNotFound
	}
	path := filepath.Join(s.dir, dir, id)
	if _, err := os.Stat(path); err != nil {
		return "", ErrPointNotFound
	}
	return path, nil
}

// bestBackup scans every generation for the healthiest readable copy:
// newest logical clock first, then file modification time, then roster
// size. Malformed files are skipped.
func (s *FileStore) bestBackup() *document.Document {
	var best *guard.Candidate
	for _, c := range s.backupCandidates() {
		if best == nil || betterCandidate(
			document.ParseClock(c.Doc.ServerUpdatedAt), c.ModTime, c.Doc.StudentCount(),
			document.ParseClock(best.Doc.ServerUpdatedAt), best.ModTime, best.Doc.StudentCount()) {
			best = &c
		}
	}
	if best == nil {
		return nil
	}
	return best.Doc
}

// Candidates exposes the backup generations for recovery ranking when the
// live document itself is readable but fails the corruption guard.
func (s *FileStore) Candidates() []guard.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupCandidates()
}

func (s *FileStore) backupCandidates() []guard.Candidate {
	var out []guard.Candidate
	for _, dir := range []string{rollingDir, hourlyDir, startupDir} {
		full := filepath.Join(s.dir, dir)
		for _, name := range listJSON(full) {
			path := filepath.Join(full, name)
			doc, err := readDocument(path)
			if err != nil {
				continue
			}
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			out = append(out, guard.Candidate{Doc: doc, ModTime: info.ModTime(), Source: name})
		}
	}
	return out
}

func betterCandidate(aClock, aMod time.Time, aCount int, bClock, bMod time.Time, bCount int) bool {
	if !aClock.Equal(bClock) {
		return aClock.After(bClock)
	}
	if !aMod.Equal(bMod) {
		return aMod.After(bMod)
	}
	return aCount > bCount
}

type pointMeta struct {
	Locked bool   `json:"locked"`
	Label  string `json:"label,omitempty"`
}

func (s *FileStore) metaPath() string { return filepath.Join(s.dir, metaName) }

func (s *FileStore) readMeta() map[string]pointMeta {
	meta := map[string]pointMeta{}
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}

func (s *FileStore) writeMeta(meta map[string]pointMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode meta: %w", err)
	}
	if err := writeAtomic(s.metaPath(), data); err != nil {
		return fmt.Errorf("snapshot: write meta: %w", err)
	}
	return nil
}

func (s *FileStore) lockedSet() map[string]bool {
	locked := map[string]bool{}
	for id, m := range s.readMeta() {
		if m.Locked {
			locked[id] = true
		}
	}
	return locked
}

// prune deletes the oldest files beyond keep, never touching locked ids.
func (s *FileStore) prune(dir string, keep int, locked map[string]bool) {
	names := listJSON(dir)
	type aged struct {
		name    string
		modTime time.Time
	}
	var files []aged
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		files = append(files, aged{name, info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].name > files[j].name
	})
	kept := 0
	for _, f := range files {
		if locked[f.name] {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		_ = os.Remove(filepath.Join(dir, f.name))
	}
}

func listJSON(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readDocument(path string) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return document.Decode(data)
}

// writeAtomic writes data to a sibling temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// uniquePath returns dir/base.json, suffixing _2, _3, ... if taken. Saves
// inside the same second otherwise collide.
func uniquePath(dir, base string) string {
	path := filepath.Join(dir, base+".json")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.json", base, n))
	}
}
