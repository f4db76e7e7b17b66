package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orion-services/activity/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "content.json"
	mainBranch  = "main"
)

// Content is a group document as committed to its history: its text and the
// turn state at the time of the commit.
type Content struct {
	Text         string   `json:"text"`
	Round        int      `json:"round"`
	Participants []string `json:"participants,omitempty"`
	Edited       []string `json:"edited,omitempty"`
}

// Service keeps one git repository per document under baseDir.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDocumentRepo initializes the repository of documentID with initial as
// its first commit on main. An existing repository is left untouched.
func (s *Service) EnsureDocumentRepo(documentID string, initial Content, author string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	hash, err := commit(worktree, initial, author, "Create document")
	if err != nil {
		return err
	}

	branch := plumbing.NewBranchReferenceName(mainBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branch, hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitContent records content on main. When content matches the head
// nothing is committed and the head is returned.
func (s *Service) CommitContent(documentID string, content Content, author, message string) (store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := writeContent(worktree.Filesystem.Root(), content); err != nil {
		return store.CommitInfo{}, err
	}
	status, err := worktree.Status()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("worktree status: %w", err)
	}

	var hash plumbing.Hash
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return store.CommitInfo{}, fmt.Errorf("resolve head: %w", err)
		}
		hash = head.Hash()
	} else {
		hash, err = commit(worktree, content, author, message)
		if err != nil {
			return store.CommitInfo{}, err
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// GetHeadContent returns the content at the tip of main with its commit.
func (s *Service) GetHeadContent(documentID string) (Content, store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Content{}, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return Content{}, store.CommitInfo{}, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

// History lists commits on main, newest first. limit <= 0 returns all.
func (s *Service) History(documentID string, limit int) ([]store.CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var items []store.CommitInfo
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func writeContent(repoRoot string, content Content) error {
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", contentFile, err)
	}
	return nil
}

func commit(worktree *git.Worktree, content Content, author, message string) (plumbing.Hash, error) {
	if err := writeContent(worktree.Filesystem.Root(), content); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: signature(author)})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	if author == "" {
		author = "orion"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@users.orion.local", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
