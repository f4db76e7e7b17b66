package gitrepo

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{Text: "Once upon a time", Participants: []string{"u1", "u2"}}
	if err := svc.EnsureDocumentRepo("doc-1", initial, "group-1"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	head, commit, err := svc.GetHeadContent("doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if head.Text != initial.Text || len(head.Participants) != 2 {
		t.Fatalf("unexpected head content: %+v", head)
	}
	if commit.Hash == "" || commit.Author != "group-1" {
		t.Fatalf("unexpected commit info: %+v", commit)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single commit, got %d", len(history))
	}
}

func TestEnsureDocumentRepoIsIdempotent(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureDocumentRepo("doc-1", Content{Text: "first"}, ""); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.EnsureDocumentRepo("doc-1", Content{Text: "second"}, ""); err != nil {
		t.Fatalf("EnsureDocumentRepo() second call error = %v", err)
	}

	head, _, err := svc.GetHeadContent("doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if head.Text != "first" {
		t.Fatalf("expected original content to be kept, got %q", head.Text)
	}
}

func TestConcurrentEnsureDocumentRepo(t *testing.T) {
	svc := New(t.TempDir())

	const callers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.EnsureDocumentRepo("doc-1", Content{Text: "shared"}, "group-1"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("EnsureDocumentRepo() concurrent error = %v", err)
	}

	history, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one baseline commit, got %d", len(history))
	}
}

func TestGetHeadContentMissingRepo(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.GetHeadContent("missing"); err == nil {
		t.Fatal("expected error for missing repository")
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{
		"Avery Stone": "Avery.Stone",
		"":            "user",
		"!!":          "user",
		"a_b-c":       "a.b.c",
	}
	for input, want := range cases {
		if got := sanitizeEmail(input); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCommitContentGrowsHistory(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc-1", Content{Participants: []string{"u1", "u2"}}, "group-1"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	turn := Content{Round: 0, Participants: []string{"u2"}, Edited: []string{"u1"}}
	first, err := svc.CommitContent("doc-1", turn, "u1", "Turn of u1")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if first.Author != "u1" || first.Message != "Turn of u1" {
		t.Fatalf("unexpected commit: %+v", first)
	}

	again, err := svc.CommitContent("doc-1", turn, "u1", "Turn of u1")
	if err != nil {
		t.Fatalf("CommitContent() unchanged error = %v", err)
	}
	if again.Hash != first.Hash {
		t.Fatalf("expected unchanged content to keep head %s, got %s", first.Hash, again.Hash)
	}

	head, _, err := svc.GetHeadContent("doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if len(head.Edited) != 1 || head.Edited[0] != "u1" {
		t.Fatalf("unexpected head content: %+v", head)
	}
	history, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != first.Hash {
		t.Fatalf("expected two commits with the turn on top, got %+v", history)
	}
}

func TestCommitContentMissingRepo(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.CommitContent("missing", Content{}, "u1", "Turn of u1"); err == nil {
		t.Fatal("expected error for missing repo")
	}
}
