package correlate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/db"
	"github.com/calebhsu/codetrail/internal/event"
	"github.com/calebhsu/codetrail/internal/llm"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(filepath.Join(t.TempDir(), "codetrail.db"))
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// scriptedClient returns canned match results.
type scriptedClient struct {
	results []llm.MatchResult
	err     error
}

func (scriptedClient) Enabled() bool { return true }

func (c scriptedClient) ScoreMatches(context.Context, llm.MatchRequest) ([]llm.MatchResult, error) {
	return c.results, c.err
}

func (scriptedClient) SummarizeImpact(context.Context, llm.ImpactRequest) (*llm.ImpactResult, error) {
	return nil, llm.ErrDisabled
}

func (scriptedClient) Complete(context.Context, string, string) (string, error) {
	return "", llm.ErrDisabled
}

func newCorrelator(t *testing.T, database *sql.DB, client llm.Client) (*Correlator, *broadcast.Broadcaster) {
	t.Helper()
	bus := broadcast.New(16)
	t.Cleanup(bus.Close)
	tasks := pool.New().WithMaxGoroutines(2)
	t.Cleanup(tasks.Wait)
	return New(Options{
		Database:    database,
		Broadcaster: bus,
		Client:      client,
		Tasks:       tasks,
	}), bus
}

// seedConversation stores a conversation and one nearby file change.
func seedConversation(t *testing.T, database *sql.DB, contextFiles []string) (int64, *event.Event) {
	t.Helper()
	project, err := db.CreateProject(database, "demo", "/demo", "", nil)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	change, err := db.AppendEvent(database, event.KindFileChange, &project.ID, "svc/handler.go",
		event.FileChangePayload{Event: "modified", Diff: "+handled"})
	if err != nil {
		t.Fatalf("append change: %v", err)
	}
	convID, err := db.InsertConversation(database, &db.Conversation{
		ProjectID:    &project.ID,
		AIProvider:   "claude",
		Timestamp:    change.TS,
		UserPrompt:   "fix the handler",
		AIResponse:   "updated svc/handler.go",
		ContextFiles: contextFiles,
	})
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	return convID, change
}

func TestMatchWithScoredResults(t *testing.T) {
	database := testDB(t)
	convID, change := seedConversation(t, database, []string{"svc/handler.go"})

	c, _ := newCorrelator(t, database, scriptedClient{results: []llm.MatchResult{
		{EventID: change.ID, MatchCategory: "direct", Confidence: 0.92, Reasoning: "diff mirrors the response"},
	}})

	outcome, err := c.Match(context.Background(), convID, false)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if outcome.CandidateCount != 1 || outcome.MatchCount != 1 || outcome.UsedFallback {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	matches, err := db.ListMatches(database, convID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != 1 || matches[0].MatchType != "direct" || matches[0].Confidence != 0.92 {
		t.Errorf("unexpected match: %+v", matches[0])
	}

	conv, err := db.GetConversation(database, convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.MatchedToEvents) != 1 || conv.MatchedToEvents[0] != change.ID {
		t.Errorf("conversation not updated: %v", conv.MatchedToEvents)
	}
}

func TestMatchFallbackOnLLMFailure(t *testing.T) {
	database := testDB(t)
	convID, change := seedConversation(t, database, []string{"handler.go"})

	c, _ := newCorrelator(t, database, scriptedClient{err: llm.ErrDisabled})

	outcome, err := c.Match(context.Background(), convID, false)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !outcome.UsedFallback {
		t.Error("expected fallback path")
	}
	if outcome.MatchCount != 1 {
		t.Fatalf("expected 1 fallback match, got %d", outcome.MatchCount)
	}

	matches, err := db.ListMatches(database, convID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if matches[0].EventID != change.ID || matches[0].Confidence != 0.5 || !matches[0].FileOverlap {
		t.Errorf("unexpected fallback match: %+v", matches[0])
	}
}

func TestMatchFallbackWithDisabledClient(t *testing.T) {
	database := testDB(t)
	convID, _ := seedConversation(t, database, []string{"svc/handler.go"})

	c, _ := newCorrelator(t, database, llm.Disabled{})

	outcome, err := c.Match(context.Background(), convID, false)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !outcome.UsedFallback || outcome.MatchCount != 1 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestMatchIgnoresUnknownCandidateIDs(t *testing.T) {
	database := testDB(t)
	convID, change := seedConversation(t, database, nil)

	c, _ := newCorrelator(t, database, scriptedClient{results: []llm.MatchResult{
		{EventID: 99999, MatchCategory: "direct", Confidence: 0.9},
		{EventID: change.ID, MatchCategory: "invented-category", Confidence: 1.7},
	}})

	outcome, err := c.Match(context.Background(), convID, false)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if outcome.MatchCount != 1 {
		t.Fatalf("expected hallucinated id dropped, got %d matches", outcome.MatchCount)
	}

	matches, err := db.ListMatches(database, convID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if matches[0].Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %f", matches[0].Confidence)
	}
	if matches[0].MatchType != "related" {
		t.Errorf("expected unknown category coerced to related, got %q", matches[0].MatchType)
	}
}

func TestManualMatchReplacesAndFloors(t *testing.T) {
	database := testDB(t)
	convID, change := seedConversation(t, database, nil)

	// Seed a stale automatic match.
	if _, err := db.InsertMatch(database, &db.Match{
		ConversationID: convID, EventID: change.ID, Confidence: 0.3, MatchType: "related",
	}); err != nil {
		t.Fatalf("seed match: %v", err)
	}

	c, _ := newCorrelator(t, database, scriptedClient{results: []llm.MatchResult{
		{EventID: change.ID, MatchCategory: "suggested", Confidence: 0.45},
	}})

	outcome, err := c.Match(context.Background(), convID, true)
	if err != nil {
		t.Fatalf("manual match: %v", err)
	}
	if outcome.MatchCount != 0 {
		t.Errorf("expected below-floor result discarded, got %d", outcome.MatchCount)
	}

	matches, err := db.ListMatches(database, convID)
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected stale matches replaced, got %+v", matches)
	}
}

func TestMatchNoCandidatesClearsState(t *testing.T) {
	database := testDB(t)

	project, _ := db.CreateProject(database, "demo", "/demo", "", nil)
	convID, err := db.InsertConversation(database, &db.Conversation{
		ProjectID:  &project.ID,
		AIProvider: "claude",
		Timestamp:  time.Now().Unix() - 100000, // far from any change
		UserPrompt: "p",
		AIResponse: "r",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	c, bus := newCorrelator(t, database, llm.Disabled{})
	ch, cancel := bus.Subscribe()
	defer cancel()

	outcome, err := c.Match(context.Background(), convID, false)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if outcome.CandidateCount != 0 || outcome.MatchCount != 0 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	// The run is still announced as an ai_match event.
	select {
	case env := <-ch:
		if env.Kind != event.KindAIMatch {
			t.Errorf("expected ai_match event, got %s", env.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no ai_match event announced")
	}
}

func TestScheduleRunsInBackground(t *testing.T) {
	database := testDB(t)
	convID, _ := seedConversation(t, database, []string{"svc/handler.go"})

	c, _ := newCorrelator(t, database, llm.Disabled{})
	c.Schedule(context.Background(), convID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conv, err := db.GetConversation(database, convID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(conv.MatchedToEvents) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("scheduled match never completed")
}
