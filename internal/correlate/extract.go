package correlate

import (
	"regexp"
	"strings"
)

// CodeSnippet is one fenced code block extracted from a conversation.
type CodeSnippet struct {
	Language  string `json:"language"`
	Text      string `json:"text"`
	LineCount int    `json:"line_count"`
}

var (
	fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.-]*)\n(.*?)```")
	urlRe   = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://\S+`)
	fileRe  = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_./\-]*\.[A-Za-z0-9]{1,6}\b`)
)

// ExtractSnippets returns every maximal fenced code block in text.
func ExtractSnippets(text string) []CodeSnippet {
	var out []CodeSnippet
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSuffix(m[2], "\n")
		out = append(out, CodeSnippet{
			Language:  m[1],
			Text:      body,
			LineCount: strings.Count(body, "\n") + 1,
		})
	}
	return out
}

// ExtractFileRefs returns deduplicated file-like tokens occurring outside
// code fences. Absolute URLs are excluded.
func ExtractFileRefs(text string) []string {
	stripped := fenceRe.ReplaceAllString(text, " ")
	stripped = urlRe.ReplaceAllString(stripped, " ")

	seen := make(map[string]bool)
	var out []string
	for _, tok := range fileRe.FindAllString(stripped, -1) {
		if looksLikeDomainOnly(tok) {
			continue
		}
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// looksLikeDomainOnly filters bare host names such as example.com that
// the token pattern would otherwise accept.
func looksLikeDomainOnly(tok string) bool {
	if strings.ContainsAny(tok, "/_-") {
		return false
	}
	switch strings.ToLower(tok[strings.LastIndex(tok, ".")+1:]) {
	case "com", "org", "net", "io", "dev", "ai":
		return strings.Count(tok, ".") == 1
	}
	return false
}
