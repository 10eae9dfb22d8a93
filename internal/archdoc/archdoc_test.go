package archdoc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDoc = `# Demo Service

## Overview

A recorder for development activity.

It stores events in sqlite.

## Feature: Event Store

- Classes: EventStore, Migrator
- Files: store.go, migrate.go
- Dependencies: sqlite

## Feature: Live Stream

- Classes: Broadcaster
- Files: stream.go

## Class Registry

- EventStore: append-only sqlite store
- Broadcaster: fan-out of stored events

## Dependencies

- Production: sqlite, websocket
- Development: testify
`

func TestParseSections(t *testing.T) {
	record := Parse([]byte(sampleDoc))

	if !strings.Contains(record.Overview, "recorder for development activity") {
		t.Errorf("unexpected overview: %q", record.Overview)
	}
	if !strings.Contains(record.Overview, "stores events in sqlite") {
		t.Errorf("expected both overview paragraphs, got %q", record.Overview)
	}

	if len(record.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(record.Features))
	}
	store := record.Features[0]
	if store.Name != "Event Store" {
		t.Errorf("unexpected feature name: %q", store.Name)
	}
	if len(store.Classes) != 2 || store.Classes[1] != "Migrator" {
		t.Errorf("unexpected classes: %v", store.Classes)
	}
	if len(store.Files) != 2 || len(store.Dependencies) != 1 {
		t.Errorf("unexpected files/deps: %v %v", store.Files, store.Dependencies)
	}
	stream := record.Features[1]
	if stream.Name != "Live Stream" || len(stream.Classes) != 1 {
		t.Errorf("unexpected second feature: %+v", stream)
	}

	if record.ClassRegistry["EventStore"] != "append-only sqlite store" {
		t.Errorf("unexpected registry: %v", record.ClassRegistry)
	}
	if len(record.Dependencies.Production) != 2 || record.Dependencies.Development[0] != "testify" {
		t.Errorf("unexpected dependencies: %+v", record.Dependencies)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	record := Parse([]byte("# Title only\n\nsome prose outside any known section\n"))

	if record.Overview != "" {
		t.Errorf("expected empty overview, got %q", record.Overview)
	}
	if len(record.Features) != 0 || len(record.ClassRegistry) != 0 {
		t.Errorf("expected empty sections, got %+v", record)
	}
}

func TestParseDocumentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ARCHITECTURE.md")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	record, err := ParseDocument(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if record.SourcePath != path {
		t.Errorf("expected source path recorded, got %q", record.SourcePath)
	}
	if len(record.Features) != 2 {
		t.Errorf("expected parsed features, got %d", len(record.Features))
	}
}

func TestParseDocumentMissingFile(t *testing.T) {
	if _, err := ParseDocument(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("expected error for missing document")
	}
}

func TestSummary(t *testing.T) {
	record := Parse([]byte(sampleDoc))
	summary := record.Summary()

	for _, want := range []string{"Overview:", "Feature Event Store:", "EventStore"} {
		if !strings.Contains(summary, want) {
			t.Errorf("expected summary to contain %q, got:\n%s", want, summary)
		}
	}
}
