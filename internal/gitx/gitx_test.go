package gitx

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initRepo creates a git repository with one committed file.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}

	run("init")
	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("committed content\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	run("add", "tracked.txt")
	run("commit", "-m", "initial")
	return dir
}

func TestDetectInsideRepo(t *testing.T) {
	dir := initRepo(t)

	repo := Detect(dir)
	if repo == nil {
		t.Fatal("expected repo handle inside working tree")
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	gotRoot, _ := filepath.EvalSymlinks(repo.Root)
	if gotRoot != resolved {
		t.Errorf("expected root %s, got %s", resolved, gotRoot)
	}
}

func TestDetectOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	// An isolated temp dir is not a working tree, unless the host nests
	// temp under one.
	dir := t.TempDir()
	if repo := Detect(dir); repo != nil {
		t.Skipf("temp dir unexpectedly inside a working tree: %s", repo.Root)
	}
}

func TestHeadContent(t *testing.T) {
	dir := initRepo(t)
	repo := Detect(dir)
	if repo == nil {
		t.Fatal("expected repo handle")
	}

	content, ok := repo.HeadContent(filepath.Join(dir, "tracked.txt"))
	if !ok {
		t.Fatal("expected HEAD content for tracked file")
	}
	if string(content) != "committed content\n" {
		t.Errorf("unexpected content: %q", content)
	}

	if _, ok := repo.HeadContent(filepath.Join(dir, "untracked.txt")); ok {
		t.Error("expected no content for untracked file")
	}
	if _, ok := repo.HeadContent("/definitely/outside"); ok {
		t.Error("expected no content for path outside the tree")
	}
}

func TestNilRepoIsSafe(t *testing.T) {
	var repo *Repo
	if _, ok := repo.HeadContent("/any/path"); ok {
		t.Error("nil repo must report no content")
	}
}
