package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/calebhsu/codetrail/internal/db"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

// HandleExport handles GET /events/export. JSON is the default; markdown
// renders a readable activity log.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "markdown" {
		writeError(w, trailerrors.NewInvalidRequest("format must be json or markdown"))
		return
	}

	events, err := db.EventsForExport(h.deps.DB, queryInt64Ptr(r, "project_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if format == "json" {
		envelopes := make([]event.Envelope, 0, len(events))
		for _, e := range events {
			envelopes = append(envelopes, e.Envelope())
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(envelopes),
			"events": envelopes,
		})
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(renderMarkdown(events)))
}

// renderMarkdown lays events out as a chronological activity log grouped
// by day.
func renderMarkdown(events []*event.Event) string {
	var sb strings.Builder
	sb.WriteString("# Activity Log\n")

	lastDay := ""
	for _, e := range events {
		ts := event.FormatTS(e.TS)
		day := ts[:10]
		if day != lastDay {
			fmt.Fprintf(&sb, "\n## %s\n\n", day)
			lastDay = day
		}
		line := fmt.Sprintf("- `%s` **%s**", ts[11:19], e.Kind)
		if e.Path != "" {
			line += " " + e.Path
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if lastDay == "" {
		sb.WriteString("\nNo events recorded.\n")
	}
	return sb.String()
}
