// Package archive keeps a git history of accepted document versions: one
// repository, one tracked file, one commit per accepted write. The history
// is operational forensics, not a recovery mechanism; restores go through
// the snapshot store.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"classboard/api/internal/document"
)

const trackedFile = "document.json"

// CommitInfo is one archived version, newest first in History output.
type CommitInfo struct {
	Hash         string    `json:"hash"`
	Message      string    `json:"message"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	StudentCount int       `json:"student_count"`
}

type Service struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Service {
	return &Service{dir: dir}
}

// Record commits doc as the newest archived version. Source names where the
// write came from (a role, a peer, a restore). An unchanged document is a
// no-op, not an error.
func (s *Service) Record(doc *document.Document, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("archive: open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, trackedFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", trackedFile, err)
	}
	if _, err := worktree.Add(trackedFile); err != nil {
		return fmt.Errorf("archive: git add: %w", err)
	}

	message := fmt.Sprintf("sync: %d students, clock %s, via %s",
		doc.StudentCount(), doc.ServerUpdatedAt, source)
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  source,
			Email: "sync@classboard.local",
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// History returns up to limit archived versions, newest first. An archive
// with no commits yet returns an empty list.
func (s *Service) History(limit int) ([]CommitInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("archive: read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		items = append(items, CommitInfo{
			Hash:         c.Hash.String()[:7],
			Message:      c.Message,
			Source:       c.Author.Name,
			CreatedAt:    c.Author.When,
			StudentCount: studentCountAt(c),
		})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("archive: iterate log: %w", err)
	}
	return items, nil
}

// open returns the archive repository, initializing it on first use.
func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("archive: open repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("archive: init repo: %w", err)
	}
	return repo, nil
}

func studentCountAt(c *object.Commit) int {
	file, err := c.File(trackedFile)
	if err != nil {
		return 0
	}
	reader, err := file.Reader()
	if err != nil {
		return 0
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0
	}
	doc, err := document.Decode(data)
	if err != nil {
		return 0
	}
	return doc.StudentCount()
}
