package db

import (
	"encoding/json"
	"testing"

	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

func TestInsertAndGetConversation(t *testing.T) {
	database := testDB(t)

	id, err := InsertConversation(database, &Conversation{
		AIProvider:   "claude",
		AIModel:      "claude-sonnet",
		UserPrompt:   "add retries to the fetcher",
		AIResponse:   "done, see fetch.go",
		ContextFiles: []string{"fetch.go", "client.go"},
		CodeSnippets: json.RawMessage(`[{"language":"go","text":"func retry() {}"}]`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := GetConversation(database, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AIProvider != "claude" || got.UserPrompt != "add retries to the fetcher" {
		t.Errorf("unexpected conversation: %+v", got)
	}
	if got.Timestamp == 0 {
		t.Error("expected zero timestamp stamped with current time")
	}
	if len(got.ContextFiles) != 2 {
		t.Errorf("expected 2 context files, got %v", got.ContextFiles)
	}
	if got.ConfidenceScore != nil {
		t.Error("expected no confidence before matching")
	}
}

func TestGetConversationNotFound(t *testing.T) {
	database := testDB(t)

	_, err := GetConversation(database, 7)
	if !trailerrors.Is(err, trailerrors.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	database := testDB(t)

	for i, ts := range []int64{100, 300, 200} {
		if _, err := InsertConversation(database, &Conversation{
			AIProvider: "claude",
			Timestamp:  ts,
			UserPrompt: "p",
			AIResponse: "r",
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	page, err := ListConversations(database, ConversationFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("expected 3 conversations, got total=%d len=%d", page.Total, len(page.Items))
	}
	if page.Items[0].Timestamp != 300 || page.Items[2].Timestamp != 100 {
		t.Errorf("expected newest-first by timestamp, got %d..%d",
			page.Items[0].Timestamp, page.Items[2].Timestamp)
	}
}

func TestUpdateConversationMatches(t *testing.T) {
	database := testDB(t)

	id, err := InsertConversation(database, &Conversation{
		AIProvider: "claude", UserPrompt: "p", AIResponse: "r",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := UpdateConversationMatches(database, id, []int64{4, 9}, 0.85); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := GetConversation(database, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.MatchedToEvents) != 2 || got.MatchedToEvents[0] != 4 {
		t.Errorf("unexpected matched events: %v", got.MatchedToEvents)
	}
	if got.ConfidenceScore == nil || *got.ConfidenceScore != 0.85 {
		t.Errorf("unexpected confidence: %v", got.ConfidenceScore)
	}

	// Clearing matches resets both columns.
	if err := UpdateConversationMatches(database, id, nil, 0); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = GetConversation(database, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.MatchedToEvents) != 0 {
		t.Errorf("expected matches cleared, got %v", got.MatchedToEvents)
	}
}

func TestMatchesLifecycle(t *testing.T) {
	database := testDB(t)

	convID, err := InsertConversation(database, &Conversation{
		AIProvider: "claude", UserPrompt: "p", AIResponse: "r",
	})
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}

	low, err := InsertMatch(database, &Match{
		ConversationID: convID, EventID: 1, Confidence: 0.4, MatchType: "related",
	})
	if err != nil {
		t.Fatalf("insert low: %v", err)
	}
	high, err := InsertMatch(database, &Match{
		ConversationID: convID, EventID: 2, Confidence: 0.95, MatchType: "direct",
		FileOverlap: true, Reasoning: "same file touched",
	})
	if err != nil {
		t.Fatalf("insert high: %v", err)
	}

	matches, err := ListMatches(database, convID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != high || matches[1].ID != low {
		t.Errorf("expected highest confidence first, got %d then %d", matches[0].ID, matches[1].ID)
	}
	if !matches[0].FileOverlap {
		t.Error("expected file overlap preserved")
	}

	deleted, err := DeleteMatches(database, convID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}
}

func TestTimelineJoinsEvents(t *testing.T) {
	database := testDB(t)

	project, _ := CreateProject(database, "demo", "/demo", "", nil)
	e, err := AppendEvent(database, event.KindFileChange, &project.ID, "core.go", event.FileChangePayload{Event: "modified", Diff: "+x"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	convID, err := InsertConversation(database, &Conversation{
		ProjectID: &project.ID, AIProvider: "claude", UserPrompt: "p", AIResponse: "r",
	})
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	if _, err := InsertMatch(database, &Match{
		ConversationID: convID, EventID: e.ID, Confidence: 0.8, MatchType: "direct",
	}); err != nil {
		t.Fatalf("insert match: %v", err)
	}

	rows, err := Timeline(database, convID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 timeline row, got %d", len(rows))
	}
	if rows[0].EventID != e.ID || rows[0].EventPath != "core.go" {
		t.Errorf("unexpected timeline row: %+v", rows[0])
	}
}

func TestComputeAIStats(t *testing.T) {
	database := testDB(t)

	matched, err := InsertConversation(database, &Conversation{
		AIProvider: "claude", UserPrompt: "p", AIResponse: "r",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := InsertConversation(database, &Conversation{
		AIProvider: "copilot", UserPrompt: "p", AIResponse: "r",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := UpdateConversationMatches(database, matched, []int64{1}, 0.7); err != nil {
		t.Fatalf("update matches: %v", err)
	}
	if _, err := InsertMatch(database, &Match{ConversationID: matched, EventID: 1, Confidence: 0.7}); err != nil {
		t.Fatalf("insert match: %v", err)
	}

	stats, err := ComputeAIStats(database, nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalConversations != 2 || stats.Matched != 1 || stats.Unmatched != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if stats.TotalMatches != 1 {
		t.Errorf("expected 1 match, got %d", stats.TotalMatches)
	}
	if stats.ByProvider["claude"] != 1 || stats.ByProvider["copilot"] != 1 {
		t.Errorf("unexpected provider split: %v", stats.ByProvider)
	}
}
