// Package archdoc parses project architecture documents and maintains a
// living structured summary that grows with each plausible architectural
// change.
package archdoc

import (
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Record is the structured form of a project's architecture document plus
// its accumulated change log.
type Record struct {
	SourcePath    string            `json:"source_path"`
	UpdatedAt     int64             `json:"updated_at"`
	Overview      string            `json:"overview"`
	Features      []Feature         `json:"features"`
	ClassRegistry map[string]string `json:"class_registry"`
	Dependencies  Dependencies      `json:"dependencies"`
	ChangeLog     []ChangeEntry     `json:"change_log"`
}

// Feature maps one named feature to its classes, files, and dependencies.
type Feature struct {
	Name         string   `json:"name"`
	Classes      []string `json:"classes"`
	Files        []string `json:"files"`
	Dependencies []string `json:"dependencies"`
}

// Dependencies holds the declared production and development lists.
type Dependencies struct {
	Production  []string `json:"production"`
	Development []string `json:"development"`
}

// ChangeEntry is one impact-analysis result in the change log, newest
// first.
type ChangeEntry struct {
	EventID             int64    `json:"event_id"`
	TS                  int64    `json:"ts"`
	Path                string   `json:"path"`
	ChangeType          string   `json:"change_type"`
	AffectedFeatures    []string `json:"affected_features"`
	ModifiedClasses     []string `json:"modified_classes"`
	NewClasses          []string `json:"new_classes"`
	ArchitecturalChange bool     `json:"architectural_change"`
	ImpactLevel         string   `json:"impact_level"`
	Summary             string   `json:"summary"`
	Concerns            []string `json:"concerns"`
	Recommendations     []string `json:"recommendations"`
}

// MaxChangeLog bounds the change log; the oldest entry is dropped once
// the bound is exceeded.
const MaxChangeLog = 100

// Summary renders the record as a compact text block for LLM prompts.
func (r *Record) Summary() string {
	var sb strings.Builder
	if r.Overview != "" {
		sb.WriteString("Overview: ")
		sb.WriteString(r.Overview)
		sb.WriteString("\n")
	}
	for _, f := range r.Features {
		fmt.Fprintf(&sb, "Feature %s: classes=%s files=%s\n",
			f.Name, strings.Join(f.Classes, ","), strings.Join(f.Files, ","))
	}
	if len(r.ClassRegistry) > 0 {
		sb.WriteString("Classes: ")
		first := true
		for name := range r.ClassRegistry {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(name)
			first = false
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ParseDocument reads the markdown architecture document at path and
// extracts its named sections. Missing sections yield empty collections.
func ParseDocument(path string) (*Record, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read architecture document: %w", err)
	}
	record := Parse(src)
	record.SourcePath = path
	return record, nil
}

// Parse extracts the architecture sections from markdown source.
func Parse(src []byte) *Record {
	record := &Record{ClassRegistry: map[string]string{}}

	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	type section int
	const (
		secNone section = iota
		secOverview
		secFeature
		secClassRegistry
		secDependencies
	)

	current := secNone
	var feature *Feature
	var overviewParts []string

	flushFeature := func() {
		if feature != nil {
			record.Features = append(record.Features, *feature)
			feature = nil
		}
	}

	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := strings.TrimSpace(nodeText(n, src))
			flushFeature()
			switch {
			case strings.EqualFold(title, "Overview"):
				current = secOverview
			case strings.HasPrefix(title, "Feature:"):
				current = secFeature
				feature = &Feature{Name: strings.TrimSpace(strings.TrimPrefix(title, "Feature:"))}
			case strings.EqualFold(title, "Class Registry"):
				current = secClassRegistry
			case strings.EqualFold(title, "Dependencies"):
				current = secDependencies
			default:
				current = secNone
			}

		case *ast.Paragraph:
			if current == secOverview {
				if p := strings.TrimSpace(nodeText(n, src)); p != "" {
					overviewParts = append(overviewParts, p)
				}
			}

		case *ast.List:
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				line := strings.TrimSpace(nodeText(item, src))
				if line == "" {
					continue
				}
				label, rest, ok := strings.Cut(line, ":")
				if !ok {
					continue
				}
				label = strings.TrimSpace(label)
				rest = strings.TrimSpace(rest)
				switch current {
				case secFeature:
					if feature == nil {
						continue
					}
					switch label {
					case "Classes":
						feature.Classes = splitCommaList(rest)
					case "Files":
						feature.Files = splitCommaList(rest)
					case "Dependencies":
						feature.Dependencies = splitCommaList(rest)
					}
				case secClassRegistry:
					record.ClassRegistry[label] = rest
				case secDependencies:
					switch label {
					case "Production":
						record.Dependencies.Production = splitCommaList(rest)
					case "Development":
						record.Dependencies.Development = splitCommaList(rest)
					}
				}
			}
		}
	}
	flushFeature()

	record.Overview = strings.Join(overviewParts, "\n\n")
	return record
}

// nodeText concatenates the raw text content beneath node.
func nodeText(node ast.Node, src []byte) string {
	var sb strings.Builder
	ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
