package correlate

import (
	"testing"
)

func TestExtractSnippets(t *testing.T) {
	text := "Here is the fix:\n```go\nfunc add(a, b int) int {\n\treturn a + b\n}\n```\nand a config:\n```yaml\nkey: value\n```"

	snippets := ExtractSnippets(text)
	if len(snippets) != 2 {
		t.Fatalf("expected 2 snippets, got %d", len(snippets))
	}
	if snippets[0].Language != "go" || snippets[0].LineCount != 3 {
		t.Errorf("unexpected first snippet: %+v", snippets[0])
	}
	if snippets[1].Language != "yaml" || snippets[1].Text != "key: value" {
		t.Errorf("unexpected second snippet: %+v", snippets[1])
	}
}

func TestExtractSnippetsNoFences(t *testing.T) {
	if got := ExtractSnippets("plain prose, no code at all"); len(got) != 0 {
		t.Errorf("expected no snippets, got %v", got)
	}
}

func TestExtractSnippetsUnlabeledFence(t *testing.T) {
	snippets := ExtractSnippets("```\nraw text\n```")
	if len(snippets) != 1 || snippets[0].Language != "" || snippets[0].Text != "raw text" {
		t.Errorf("unexpected snippets: %+v", snippets)
	}
}

func TestExtractFileRefs(t *testing.T) {
	text := "Please update src/server.go and the config.yaml, then check https://example.com/docs.md for details. Also example.com is down."

	refs := ExtractFileRefs(text)

	want := map[string]bool{"src/server.go": true, "config.yaml": true}
	for _, ref := range refs {
		if !want[ref] {
			t.Errorf("unexpected ref %q", ref)
		}
		delete(want, ref)
	}
	for missing := range want {
		t.Errorf("missing ref %q", missing)
	}
}

func TestExtractFileRefsSkipsFencedContent(t *testing.T) {
	text := "See main.go.\n```go\nimport \"inner/hidden.go\"\n```"

	refs := ExtractFileRefs(text)
	if len(refs) != 1 || refs[0] != "main.go" {
		t.Errorf("expected only main.go, got %v", refs)
	}
}

func TestExtractFileRefsDeduplicates(t *testing.T) {
	refs := ExtractFileRefs("touch a.go then a.go again and a.go once more")
	if len(refs) != 1 {
		t.Errorf("expected one deduplicated ref, got %v", refs)
	}
}
