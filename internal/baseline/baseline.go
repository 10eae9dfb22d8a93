// Package baseline tracks the last-observed bytes of each watched file
// and renders unified diffs against them. The cache is owned by a single
// watcher and seeded lazily from git HEAD on first observation.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/calebhsu/codetrail/internal/gitx"
)

// Source names where the previous bytes of a diff came from.
type Source string

const (
	// SourceCache means the previous bytes were the cache's last
	// observation (empty on a true first sighting).
	SourceCache Source = "cache"
	// SourceHead means the previous bytes were seeded from git HEAD.
	SourceHead Source = "head"
)

// BinaryMarker replaces the diff for non-decodable content.
const BinaryMarker = "[binary file]"

// Cache maps absolute paths to their last-observed content.
type Cache struct {
	repo    *gitx.Repo
	entries map[string][]byte
}

// New returns an empty cache. repo may be nil when the watched root is
// not a git working tree.
func New(repo *gitx.Repo) *Cache {
	return &Cache{
		repo:    repo,
		entries: make(map[string][]byte),
	}
}

// Previous returns the bytes considered prior content for path. On first
// observation it consults git HEAD; afterwards it returns the cached
// bytes from the last Update.
func (c *Cache) Previous(path string) ([]byte, Source) {
	if prev, ok := c.entries[path]; ok {
		return prev, SourceCache
	}
	if c.repo != nil {
		if head, ok := c.repo.HeadContent(path); ok {
			return head, SourceHead
		}
	}
	return nil, SourceCache
}

// Update stores content as the new baseline for path.
func (c *Cache) Update(path string, content []byte) {
	c.entries[path] = content
}

// Forget drops the baseline for path, typically after deletion.
func (c *Cache) Forget(path string) {
	delete(c.entries, path)
}

// Len reports the number of cached paths.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Diff renders a unified diff from prev to curr with three lines of
// context. Non-decodable content yields BinaryMarker.
func Diff(prev, curr []byte, label string) (string, error) {
	if !utf8.Valid(prev) || !utf8.Valid(curr) {
		return BinaryMarker, nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(prev)),
		B:        difflib.SplitLines(string(curr)),
		FromFile: label,
		ToFile:   label,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(text, "\n"), nil
}

// Hash returns the hex sha256 of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
