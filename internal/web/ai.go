package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/oklog/ulid/v2"

	"github.com/calebhsu/codetrail/internal/correlate"
	"github.com/calebhsu/codetrail/internal/db"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

// HandleInsertConversation handles POST /ai-chat. The response is written
// once the conversation row is durable and the matching task has been
// handed to the background pool (see Correlator.Schedule); matching runs
// as a background task.
func (h *Handlers) HandleInsertConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID        *int64          `json:"project_id"`
		SessionID        string          `json:"session_id"`
		AIProvider       string          `json:"ai_provider"`
		AIModel          string          `json:"ai_model"`
		Timestamp        int64           `json:"timestamp"`
		ConversationType string          `json:"conversation_type"`
		UserPrompt       string          `json:"user_prompt"`
		AIResponse       string          `json:"ai_response"`
		ContextFiles     []string        `json:"context_files"`
		Metadata         json.RawMessage `json:"metadata"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.AIProvider == "" || body.UserPrompt == "" || body.AIResponse == "" {
		writeError(w, trailerrors.NewInvalidRequest("ai_provider, user_prompt, and ai_response are required"))
		return
	}

	contextFiles := body.ContextFiles
	if len(contextFiles) == 0 {
		contextFiles = correlate.ExtractFileRefs(body.UserPrompt + "\n" + body.AIResponse)
	}
	var snippets json.RawMessage
	if extracted := correlate.ExtractSnippets(body.AIResponse); len(extracted) > 0 {
		raw, err := json.Marshal(extracted)
		if err == nil {
			snippets = raw
		}
	}

	conv := &db.Conversation{
		ProjectID:        body.ProjectID,
		SessionID:        body.SessionID,
		AIProvider:       body.AIProvider,
		AIModel:          body.AIModel,
		Timestamp:        body.Timestamp,
		ConversationType: body.ConversationType,
		UserPrompt:       body.UserPrompt,
		AIResponse:       body.AIResponse,
		ContextFiles:     contextFiles,
		CodeSnippets:     snippets,
		Metadata:         body.Metadata,
	}
	if conv.SessionID == "" {
		conv.SessionID = ulid.Make().String()
	}
	id, err := db.InsertConversation(h.deps.DB, conv)
	if err != nil {
		writeError(w, err)
		return
	}

	note, err := db.AppendEvent(h.deps.DB, event.KindAIConversation, conv.ProjectID, "",
		event.AIConversationPayload{
			ConversationID: id,
			AIProvider:     conv.AIProvider,
			AIModel:        conv.AIModel,
			PromptPreview:  event.SafeTrim(conv.UserPrompt, 200),
		})
	if err != nil {
		log.Printf("web: conversation %d: failed to record ingest event: %v", id, err)
	} else {
		h.deps.Bus.Publish(note.Envelope())
	}

	// The request context dies with this response; the matching task
	// gets its own.
	h.deps.Correlator.Schedule(context.Background(), id)

	writeJSON(w, http.StatusCreated, conv)
}

// HandleListConversations handles GET /ai-chat.
func (h *Handlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	result, err := db.ListConversations(h.deps.DB, db.ConversationFilter{
		ProjectID:  queryInt64Ptr(r, "project_id"),
		AIProvider: r.URL.Query().Get("ai_provider"),
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	items := result.Items
	if items == nil {
		items = []*db.Conversation{}
	}
	writeJSON(w, http.StatusOK, newPage(items, result.Total, result.Offset, result.Limit))
}

// HandleAIStats handles GET /ai-chat/stats.
func (h *Handlers) HandleAIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.ComputeAIStats(h.deps.DB, queryInt64Ptr(r, "project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleGetConversation handles GET /ai-chat/{id}.
func (h *Handlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := db.GetConversation(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// timelineEntry is one matched event in the conversation timeline.
type timelineEntry struct {
	EventID          int64   `json:"event_id"`
	Path             string  `json:"path"`
	MatchCategory    string  `json:"match_category"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty"`
	TimeDeltaSeconds int64   `json:"time_delta_seconds"`
	Diff             string  `json:"diff,omitempty"`
}

// HandleTimeline handles GET /ai-chat/{id}/timeline.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := db.GetConversation(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := db.Timeline(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := make([]timelineEntry, 0, len(rows))
	for _, row := range rows {
		entry := timelineEntry{
			EventID:          row.Match.EventID,
			Path:             row.EventPath,
			MatchCategory:    row.Match.MatchType,
			Confidence:       row.Match.Confidence,
			Reasoning:        row.Match.Reasoning,
			TimeDeltaSeconds: row.Match.TimeDelta,
		}
		if len(row.Payload) > 0 {
			var payload event.FileChangePayload
			if err := json.Unmarshal(row.Payload, &payload); err == nil {
				entry.Diff = payload.Diff
			}
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"timeline":     entries,
	})
}

// HandleManualMatch handles POST /ai-chat/{id}/match. The run replaces
// any existing matches and completes before the response is written.
func (h *Handlers) HandleManualMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	outcome, err := h.deps.Correlator.Match(r.Context(), id, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
