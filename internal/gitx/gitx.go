// Package gitx is a thin handle onto a git working tree, used to seed
// file baselines from HEAD. Detection and reads shell out to the git
// binary; a missing binary or a non-repository root simply yields no
// handle.
package gitx

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Repo is a handle onto one git working tree.
type Repo struct {
	// Root is the absolute path of the working tree top level.
	Root string
}

// Detect returns a Repo handle when path lies inside a git working tree,
// or nil when it does not (or git is unavailable).
func Detect(path string) *Repo {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil
	}

	cmd := exec.Command("git", "-C", abs, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	root := strings.TrimSpace(string(out))
	if root == "" {
		return nil
	}
	return &Repo{Root: root}
}

// HeadContent returns the HEAD blob for the file at absPath, or ok=false
// when the path is untracked, outside the tree, or git fails.
func (r *Repo) HeadContent(absPath string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	rel, err := filepath.Rel(r.Root, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, false
	}
	rel = filepath.ToSlash(rel)

	cmd := exec.Command("git", "-C", r.Root, "show", "HEAD:"+rel)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, false
	}
	return stdout.Bytes(), true
}
