// Package correlate links ingested AI conversations to the file_change
// events they plausibly produced. Scoring is delegated to the LLM with a
// deterministic file-overlap fallback.
package correlate

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/db"
	"github.com/calebhsu/codetrail/internal/event"
	"github.com/calebhsu/codetrail/internal/llm"
)

// DefaultWindow is the half-width of the candidate time window.
const DefaultWindow = 300 * time.Second

// manualFloor is the minimum confidence kept on the manual match path.
const manualFloor = 0.6

// Correlator schedules and runs conversation matching tasks.
type Correlator struct {
	database *sql.DB
	bus      *broadcast.Broadcaster
	client   llm.Client
	tasks    *pool.Pool
	window   time.Duration
}

// Options configures a Correlator.
type Options struct {
	Database    *sql.DB
	Broadcaster *broadcast.Broadcaster
	Client      llm.Client

	// Tasks is the shared background pool; matching never runs on the
	// request path.
	Tasks *pool.Pool

	// Window overrides the candidate half-window. Zero means DefaultWindow.
	Window time.Duration
}

// New builds a Correlator.
func New(opts Options) *Correlator {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return &Correlator{
		database: opts.Database,
		bus:      opts.Broadcaster,
		client:   opts.Client,
		tasks:    opts.Tasks,
		window:   window,
	}
}

// Schedule hands a matching task for the conversation to the shared
// background pool and returns once a worker accepts it; when every worker
// is busy, the call waits for a free one.
func (c *Correlator) Schedule(ctx context.Context, conversationID int64) {
	c.tasks.Go(func() {
		if _, err := c.Match(ctx, conversationID, false); err != nil {
			log.Printf("correlate: conversation %d: %v", conversationID, err)
		}
	})
}

// MatchOutcome summarizes one matching run.
type MatchOutcome struct {
	ConversationID int64   `json:"conversation_id"`
	CandidateCount int     `json:"candidate_count"`
	MatchCount     int     `json:"match_count"`
	MeanConfidence float64 `json:"mean_confidence"`
	UsedFallback   bool    `json:"used_fallback"`
}

// Match runs one matching pass for the conversation. Manual runs replace
// any prior matches and keep only high-confidence results.
func (c *Correlator) Match(ctx context.Context, conversationID int64, manual bool) (*MatchOutcome, error) {
	conv, err := db.GetConversation(c.database, conversationID)
	if err != nil {
		return nil, err
	}

	outcome := &MatchOutcome{ConversationID: conversationID}

	var candidates []*event.Event
	if conv.ProjectID != nil {
		window := int64(c.window / time.Second)
		candidates, err = db.FileChangesInWindow(c.database, *conv.ProjectID,
			conv.Timestamp-window, conv.Timestamp+window)
		if err != nil {
			return nil, err
		}
	}
	outcome.CandidateCount = len(candidates)

	if manual {
		if _, err := db.DeleteMatches(c.database, conversationID); err != nil {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		if err := db.UpdateConversationMatches(c.database, conversationID, nil, 0); err != nil {
			return nil, err
		}
		c.announce(conv, outcome)
		return outcome, nil
	}

	results, usedFallback := c.score(ctx, conv, candidates)
	outcome.UsedFallback = usedFallback

	byID := make(map[int64]*event.Event, len(candidates))
	for _, cand := range candidates {
		byID[cand.ID] = cand
	}

	var (
		eventIDs []int64
		sum      float64
	)
	for _, r := range results {
		cand, ok := byID[r.EventID]
		if !ok {
			continue
		}
		confidence := clamp01(r.Confidence)
		if manual && confidence < manualFloor {
			continue
		}
		category := r.MatchCategory
		switch category {
		case "direct", "related", "suggested":
		default:
			category = "related"
		}
		timeDelta := r.TimeDelta
		if timeDelta == 0 {
			timeDelta = cand.TS - conv.Timestamp
		}
		if _, err := db.InsertMatch(c.database, &db.Match{
			ConversationID: conversationID,
			EventID:        r.EventID,
			Confidence:     confidence,
			Reasoning:      r.Reasoning,
			MatchType:      category,
			FileOverlap:    r.FileOverlap,
			TimeDelta:      timeDelta,
		}); err != nil {
			return nil, err
		}
		eventIDs = append(eventIDs, r.EventID)
		sum += confidence
	}

	mean := 0.0
	if len(eventIDs) > 0 {
		mean = sum / float64(len(eventIDs))
	}
	if err := db.UpdateConversationMatches(c.database, conversationID, eventIDs, mean); err != nil {
		return nil, err
	}

	outcome.MatchCount = len(eventIDs)
	outcome.MeanConfidence = mean
	c.announce(conv, outcome)
	return outcome, nil
}

// score asks the LLM for match verdicts, falling back to deterministic
// file-overlap matching when the call fails or no client is configured.
func (c *Correlator) score(ctx context.Context, conv *db.Conversation, candidates []*event.Event) ([]llm.MatchResult, bool) {
	req := llm.MatchRequest{
		UserPrompt: conv.UserPrompt,
		AIResponse: conv.AIResponse,
		FileRefs:   conv.ContextFiles,
	}
	for _, cand := range candidates {
		var payload event.FileChangePayload
		if len(cand.Payload) > 0 {
			if err := json.Unmarshal(cand.Payload, &payload); err != nil {
				log.Printf("correlate: event %d: corrupt payload: %v", cand.ID, err)
			}
		}
		req.Candidates = append(req.Candidates, llm.MatchCandidate{
			EventID:     cand.ID,
			Path:        cand.Path,
			DiffExcerpt: event.SafeTrim(payload.Diff, 400),
			TimeDelta:   cand.TS - conv.Timestamp,
		})
	}

	if c.client.Enabled() {
		results, err := c.client.ScoreMatches(ctx, req)
		if err == nil {
			return results, false
		}
		log.Printf("correlate: conversation %d: llm failed, using fallback: %v", conv.ID, err)
	}
	return fallbackMatches(conv, candidates), true
}

// fallbackMatches inserts a related match for every candidate whose path
// appears in the conversation's file references.
func fallbackMatches(conv *db.Conversation, candidates []*event.Event) []llm.MatchResult {
	var out []llm.MatchResult
	for _, cand := range candidates {
		if !pathReferenced(cand.Path, conv.ContextFiles) {
			continue
		}
		out = append(out, llm.MatchResult{
			EventID:       cand.ID,
			MatchCategory: "related",
			Confidence:    0.5,
			Reasoning:     "file referenced in conversation",
			FileOverlap:   true,
			TimeDelta:     cand.TS - conv.Timestamp,
		})
	}
	return out
}

func pathReferenced(path string, refs []string) bool {
	for _, ref := range refs {
		if path == ref || hasPathSuffix(path, ref) || hasPathSuffix(ref, path) {
			return true
		}
	}
	return false
}

func hasPathSuffix(s, suffix string) bool {
	if len(suffix) == 0 || len(s) < len(suffix) {
		return false
	}
	if s[len(s)-len(suffix):] != suffix {
		return false
	}
	return len(s) == len(suffix) || s[len(s)-len(suffix)-1] == '/'
}

// announce appends an ai_match event recording the run counts.
func (c *Correlator) announce(conv *db.Conversation, outcome *MatchOutcome) {
	e, err := db.AppendEvent(c.database, event.KindAIMatch, conv.ProjectID, "", event.AIMatchPayload{
		PromptCount:     1,
		CodeChangeCount: outcome.CandidateCount,
		MatchCount:      outcome.MatchCount,
	})
	if err != nil {
		log.Printf("correlate: conversation %d: failed to record outcome: %v", conv.ID, err)
		return
	}
	c.bus.Publish(e.Envelope())
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
