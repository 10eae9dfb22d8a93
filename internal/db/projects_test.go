package db

import (
	"encoding/json"
	"testing"

	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

func TestCreateAndGetProject(t *testing.T) {
	database := testDB(t)

	created, err := CreateProject(database, "demo", "/tmp/demo", "scratch project", []string{"*.log"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected non-zero project id")
	}
	if !created.Active {
		t.Error("new projects must start active")
	}

	got, err := GetProject(database, created.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Name != "demo" || got.Path != "/tmp/demo" || got.Description != "scratch project" {
		t.Errorf("unexpected project fields: %+v", got)
	}
	if len(got.IgnorePatterns) != 1 || got.IgnorePatterns[0] != "*.log" {
		t.Errorf("unexpected ignore patterns: %v", got.IgnorePatterns)
	}
}

func TestCreateProjectDuplicatePath(t *testing.T) {
	database := testDB(t)

	if _, err := CreateProject(database, "one", "/tmp/same", "", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := CreateProject(database, "two", "/tmp/same", "", nil)
	if !trailerrors.Is(err, trailerrors.ErrDuplicatePath) {
		t.Errorf("expected DUPLICATE_PATH, got %v", err)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	database := testDB(t)

	_, err := GetProject(database, 9999)
	if !trailerrors.Is(err, trailerrors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestListProjectsNewestFirst(t *testing.T) {
	database := testDB(t)

	for _, p := range []string{"/a", "/b", "/c"} {
		if _, err := CreateProject(database, "p"+p, p, "", nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	projects, err := ListProjects(database, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(projects))
	}
	if projects[0].Path != "/c" || projects[2].Path != "/a" {
		t.Errorf("expected newest-first ordering, got %s..%s", projects[0].Path, projects[2].Path)
	}
}

func TestListProjectsActiveFilter(t *testing.T) {
	database := testDB(t)

	kept, err := CreateProject(database, "kept", "/tmp/kept", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	parked, err := CreateProject(database, "parked", "/tmp/parked", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	off := false
	if _, err := UpdateProjectMeta(database, parked.ID, ProjectPatch{Active: &off}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	on := true
	active, err := ListProjects(database, &on)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != kept.ID {
		t.Errorf("expected only project %d, got %+v", kept.ID, active)
	}

	inactive, err := ListProjects(database, &off)
	if err != nil {
		t.Fatalf("list inactive: %v", err)
	}
	if len(inactive) != 1 || inactive[0].ID != parked.ID {
		t.Errorf("expected only project %d, got %+v", parked.ID, inactive)
	}

	all, err := ListProjects(database, nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 projects without a filter, got %d", len(all))
	}
}

func TestUpdateProjectMeta(t *testing.T) {
	database := testDB(t)

	created, err := CreateProject(database, "demo", "/tmp/demo", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "renamed"
	active := false
	updated, err := UpdateProjectMeta(database, created.ID, ProjectPatch{Name: &name, Active: &active})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Errorf("expected renamed project, got %q", updated.Name)
	}
	if updated.Active {
		t.Error("expected project deactivated")
	}
	if updated.Path != "/tmp/demo" {
		t.Errorf("path must be immutable, got %q", updated.Path)
	}

	// Untouched fields survive a partial patch.
	desc := "later"
	again, err := UpdateProjectMeta(database, created.ID, ProjectPatch{Description: &desc})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if again.Name != "renamed" || again.Active {
		t.Errorf("partial patch clobbered earlier fields: %+v", again)
	}
}

func TestUpdateProjectConfig(t *testing.T) {
	database := testDB(t)

	created, err := CreateProject(database, "demo", "/tmp/demo", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := UpdateProjectConfig(database, created.ID, []string{"dist", "*.tmp"}, "docs/ARCHITECTURE.md")
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if len(updated.IgnorePatterns) != 2 {
		t.Errorf("expected 2 patterns, got %v", updated.IgnorePatterns)
	}
	if updated.FeatureDocPath != "docs/ARCHITECTURE.md" {
		t.Errorf("unexpected doc path: %q", updated.FeatureDocPath)
	}
}

func TestListActiveProjects(t *testing.T) {
	database := testDB(t)

	a, _ := CreateProject(database, "a", "/a", "", nil)
	if _, err := CreateProject(database, "b", "/b", "", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	inactive := false
	if _, err := UpdateProjectMeta(database, a.ID, ProjectPatch{Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := ListActiveProjects(database)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Path != "/b" {
		t.Errorf("expected only /b active, got %+v", active)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	database := testDB(t)

	created, err := CreateProject(database, "demo", "/tmp/demo", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := AppendEvent(database, event.KindFileChange, &created.ID, "x.go", event.FileChangePayload{Event: "modified"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	convID, err := InsertConversation(database, &Conversation{
		ProjectID:  &created.ID,
		AIProvider: "claude",
		UserPrompt: "change x",
		AIResponse: "done",
	})
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if _, err := InsertMatch(database, &Match{ConversationID: convID, EventID: 1, Confidence: 0.9}); err != nil {
		t.Fatalf("insert match: %v", err)
	}

	eventsDeleted, convsDeleted, err := DeleteProject(database, created.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if eventsDeleted != 4 || convsDeleted != 1 {
		t.Errorf("expected 4 events and 1 conversation deleted, got %d and %d", eventsDeleted, convsDeleted)
	}

	if _, err := GetProject(database, created.ID); !trailerrors.Is(err, trailerrors.ErrNotFound) {
		t.Errorf("expected project gone, got %v", err)
	}
	var matches int64
	if err := database.QueryRow(`SELECT COUNT(*) FROM ai_code_matches`).Scan(&matches); err != nil {
		t.Fatalf("count matches: %v", err)
	}
	if matches != 0 {
		t.Errorf("expected matches removed, got %d", matches)
	}
}

func TestStats(t *testing.T) {
	database := testDB(t)

	created, err := CreateProject(database, "demo", "/tmp/demo", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := Stats(database, created.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EventCount != 0 || stats.HasArchitecture || stats.ChangeLogSize != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	if _, err := AppendEvent(database, event.KindPrompt, &created.ID, "", event.PromptPayload{Text: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	doc, _ := json.Marshal(map[string]any{
		"overview":   "demo system",
		"change_log": []map[string]any{{"path": "a.go"}, {"path": "b.go"}},
	})
	if err := SetTechDoc(database, created.ID, doc); err != nil {
		t.Fatalf("set tech doc: %v", err)
	}

	stats, err = Stats(database, created.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.EventCount != 1 {
		t.Errorf("expected 1 event, got %d", stats.EventCount)
	}
	if !stats.HasArchitecture || stats.ChangeLogSize != 2 {
		t.Errorf("expected architecture doc with 2 log entries, got %+v", stats)
	}
	if stats.LastEventTS == nil {
		t.Error("expected last event timestamp")
	}
}

func TestTechDocRoundTrip(t *testing.T) {
	database := testDB(t)

	created, err := CreateProject(database, "demo", "/tmp/demo", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, ts, err := GetTechDoc(database, created.ID)
	if err != nil {
		t.Fatalf("get tech doc: %v", err)
	}
	if doc != nil || ts != nil {
		t.Errorf("expected empty tech doc, got %s", doc)
	}

	if err := SetTechDoc(database, created.ID, json.RawMessage(`{"overview":"x"}`)); err != nil {
		t.Fatalf("set tech doc: %v", err)
	}
	doc, ts, err = GetTechDoc(database, created.ID)
	if err != nil {
		t.Fatalf("get tech doc: %v", err)
	}
	if string(doc) != `{"overview":"x"}` {
		t.Errorf("unexpected doc: %s", doc)
	}
	if ts == nil {
		t.Error("expected updated_at timestamp")
	}
}
