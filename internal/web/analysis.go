package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/calebhsu/codetrail/internal/db"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

// HandleRunSummary handles POST /summary/run. It digests recent events
// and asks the model for a short work journal entry.
func (h *Handlers) HandleRunSummary(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Client.Enabled() {
		writeError(w, trailerrors.NewLLMDisabled())
		return
	}
	projectID := queryInt64Ptr(r, "project_id")

	events, err := db.RecentEvents(h.deps.DB, projectID, h.deps.Cfg.SummaryEventLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(events) == 0 {
		writeError(w, trailerrors.NewInvalidRequest("no events to summarize"))
		return
	}

	digest := buildDigest(events, h.deps.Cfg.SummaryCharLimit)
	const system = "You write concise engineering work journals from development activity logs. Summarize what happened, grouped by theme."

	summary, err := h.deps.Client.Complete(r.Context(), system, digest)
	if err != nil {
		writeError(w, trailerrors.NewTransient(err))
		return
	}

	note, err := db.AppendEvent(h.deps.DB, event.KindSummary, projectID, "",
		event.SummaryPayload{Content: summary, Model: h.deps.Cfg.OpenAIModel})
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Bus.Publish(note.Envelope())

	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "event_id": note.ID})
}

// HandleLatestSummary handles GET /summary/latest.
func (h *Handlers) HandleLatestSummary(w http.ResponseWriter, r *http.Request) {
	e, err := db.LatestSummary(h.deps.DB, queryInt64Ptr(r, "project_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if e == nil {
		writeError(w, trailerrors.NewNotFound("summary", "latest"))
		return
	}
	writeJSON(w, http.StatusOK, e.Envelope())
}

// HandleAnalyzeChange handles POST /analyze-change. It reviews a single
// file_change diff without appending an event.
func (h *Handlers) HandleAnalyzeChange(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Client.Enabled() {
		writeError(w, trailerrors.NewLLMDisabled())
		return
	}
	var body struct {
		EventID int64 `json:"event_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	e, err := db.GetEvent(h.deps.DB, body.EventID)
	if err != nil {
		writeError(w, err)
		return
	}
	if e.Kind != event.KindFileChange {
		writeError(w, trailerrors.NewInvalidRequest("event is not a file_change"))
		return
	}
	var payload event.FileChangePayload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			writeError(w, trailerrors.NewInternal(err))
			return
		}
	}

	const system = "You review code changes. Explain what the change does and flag anything risky, briefly."
	prompt := fmt.Sprintf("File: %s (%s)\n\n%s", e.Path, payload.Event, event.SafeTrim(payload.Diff, 4000))

	analysis, err := h.deps.Client.Complete(r.Context(), system, prompt)
	if err != nil {
		writeError(w, trailerrors.NewTransient(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis": analysis,
		"event_id": e.ID,
		"path":     e.Path,
	})
}

// HandleImplications handles POST /implications. It analyzes the
// project's code changes over the last N hours.
func (h *Handlers) HandleImplications(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Client.Enabled() {
		writeError(w, trailerrors.NewLLMDisabled())
		return
	}
	projectID := queryInt64Ptr(r, "project_id")
	if projectID == nil {
		writeError(w, trailerrors.NewInvalidRequest("project_id is required"))
		return
	}
	hours := queryInt(r, "hours", 24)
	if hours <= 0 || hours > 720 {
		writeError(w, trailerrors.NewInvalidRequest("hours must be between 1 and 720"))
		return
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	all, err := db.EventsSince(h.deps.DB, *projectID, since, 500)
	if err != nil {
		writeError(w, err)
		return
	}
	var changes []*event.Event
	for _, e := range all {
		if e.Kind == event.KindFileChange && len(changes) < 100 {
			changes = append(changes, e)
		}
	}
	if len(changes) == 0 {
		writeError(w, trailerrors.NewInvalidRequest("no code changes in the requested window"))
		return
	}

	digest := buildDigest(changes, h.deps.Cfg.SummaryCharLimit)
	const system = "You analyze the broader implications of a series of code changes: architectural drift, risk, and follow-up work."

	content, err := h.deps.Client.Complete(r.Context(), system, digest)
	if err != nil {
		writeError(w, trailerrors.NewTransient(err))
		return
	}

	payload := event.ImplicationsPayload{
		Content:    content,
		ProjectID:  *projectID,
		EventCount: len(changes),
		Model:      h.deps.Cfg.OpenAIModel,
		Hours:      hours,
	}
	note, err := db.AppendEvent(h.deps.DB, event.KindImplications, projectID, "", payload)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Bus.Publish(note.Envelope())

	writeJSON(w, http.StatusOK, map[string]any{
		"content":     content,
		"event_count": len(changes),
		"event_id":    note.ID,
		"hours":       hours,
	})
}

// buildDigest renders events as one line each, in the reverse of the given
// order (newest last for a newest-first list), capped at charLimit
// characters.
func buildDigest(events []*event.Event, charLimit int) string {
	var sb strings.Builder
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		line := fmt.Sprintf("[%s] %s %s", event.FormatTS(e.TS), e.Kind, e.Path)
		if len(e.Payload) > 0 {
			line += " " + event.SafeTrim(string(e.Payload), 200)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		if charLimit > 0 && sb.Len() > charLimit {
			break
		}
	}
	return event.SafeTrim(sb.String(), charLimit)
}
