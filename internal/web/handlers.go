package web

import (
	"net/http"

	"github.com/calebhsu/codetrail/internal/db"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

// Handlers contains the HTTP route handlers for the recorder API.
type Handlers struct {
	deps Deps
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     h.deps.Version,
		"llm_enabled": h.deps.Client.Enabled(),
	})
}

// projectView is a project joined with its derived stats.
type projectView struct {
	*db.Project
	Stats *db.ProjectStats `json:"stats"`
}

// HandleCreateProject handles POST /projects.
func (h *Handlers) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name           string   `json:"name"`
		Path           string   `json:"path"`
		Description    string   `json:"description"`
		IgnorePatterns []string `json:"ignore_patterns"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" || body.Path == "" {
		writeError(w, trailerrors.NewInvalidRequest("name and path are required"))
		return
	}

	project, err := db.CreateProject(h.deps.DB, body.Name, body.Path, body.Description, body.IgnorePatterns)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Supervisor.Start(r.Context(), project)
	writeJSON(w, http.StatusCreated, projectView{Project: project, Stats: &db.ProjectStats{}})
}

// HandleListProjects handles GET /projects.
func (h *Handlers) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := db.ListProjects(h.deps.DB, queryBoolPtr(r, "active"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]projectView, 0, len(projects))
	for _, p := range projects {
		stats, err := db.Stats(h.deps.DB, p.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, projectView{Project: p, Stats: stats})
	}
	writeJSON(w, http.StatusOK, newPage(views, int64(len(views)), 0, len(views)))
}

// HandleGetProject handles GET /projects/{id}.
func (h *Handlers) HandleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := db.GetProject(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := db.Stats(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectView{Project: project, Stats: stats})
}

// HandlePatchProject handles PATCH /projects/{id}. Active transitions
// start or stop the project's watcher.
func (h *Handlers) HandlePatchProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Active      *bool   `json:"active"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name != nil && *body.Name == "" {
		writeError(w, trailerrors.NewInvalidRequest("name must not be empty"))
		return
	}

	project, err := db.UpdateProjectMeta(h.deps.DB, id, db.ProjectPatch{
		Name:        body.Name,
		Description: body.Description,
		Active:      body.Active,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Active != nil {
		h.deps.Supervisor.Swap(r.Context(), project)
	}
	writeJSON(w, http.StatusOK, project)
}

// HandleDeleteProject handles DELETE /projects/{id}.
func (h *Handlers) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Supervisor.Stop(id)
	events, conversations, err := db.DeleteProject(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":               true,
		"events_deleted":        events,
		"conversations_deleted": conversations,
	})
}

// HandleGetProjectConfig handles GET /projects/{id}/config.
func (h *Handlers) HandleGetProjectConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := db.GetProject(h.deps.DB, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configBody(project))
}

// HandlePutProjectConfig handles PUT /projects/{id}/config. The response
// is not written until the watcher swap has completed.
func (h *Handlers) HandlePutProjectConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		IgnorePatterns []string `json:"ignore_patterns"`
		FeatureDocPath string   `json:"feature_doc_path"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	project, err := db.UpdateProjectConfig(h.deps.DB, id, body.IgnorePatterns, body.FeatureDocPath)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Supervisor.Swap(r.Context(), project)
	writeJSON(w, http.StatusOK, configBody(project))
}

func configBody(project *db.Project) map[string]any {
	patterns := project.IgnorePatterns
	if patterns == nil {
		patterns = []string{}
	}
	return map[string]any{
		"ignore_patterns":  patterns,
		"feature_doc_path": project.FeatureDocPath,
	}
}

// HandleGetTechnicalDoc handles GET /projects/{id}/technical-doc.
func (h *Handlers) HandleGetTechnicalDoc(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := h.deps.Tracker.Current(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if record == nil {
		writeError(w, trailerrors.NewNotFound("technical doc", id))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleRefreshTechnicalDoc handles POST /projects/{id}/technical-doc/refresh.
func (h *Handlers) HandleRefreshTechnicalDoc(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	record, err := h.deps.Tracker.Refresh(id)
	if err != nil {
		if _, ok := err.(*trailerrors.TrailError); !ok {
			err = trailerrors.NewInvalidRequest(err.Error())
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// HandleListEvents handles GET /events.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	kind := event.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, trailerrors.NewInvalidRequest("unknown event kind: "+string(kind)))
		return
	}

	result, err := db.ListEvents(h.deps.DB, db.EventFilter{
		ProjectID: queryInt64Ptr(r, "project_id"),
		Kind:      kind,
		Search:    r.URL.Query().Get("search"),
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]event.Envelope, 0, len(result.Items))
	for _, e := range result.Items {
		items = append(items, e.Envelope())
	}
	writeJSON(w, http.StatusOK, newPage(items, result.Total, result.Offset, result.Limit))
}

// HandleLogPrompt handles POST /prompt.
func (h *Handlers) HandleLogPrompt(w http.ResponseWriter, r *http.Request) {
	var body event.PromptPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Text == "" {
		writeError(w, trailerrors.NewInvalidRequest("text is required"))
		return
	}
	h.ingest(w, r, event.KindPrompt, body)
}

// HandleLogChat handles POST /copilot.
func (h *Handlers) HandleLogChat(w http.ResponseWriter, r *http.Request) {
	var body event.CopilotChatPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Prompt == "" || body.Response == "" {
		writeError(w, trailerrors.NewInvalidRequest("prompt and response are required"))
		return
	}
	h.ingest(w, r, event.KindCopilotChat, body)
}

// HandleLogError handles POST /error.
func (h *Handlers) HandleLogError(w http.ResponseWriter, r *http.Request) {
	var body event.ErrorPayload
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Message == "" {
		writeError(w, trailerrors.NewInvalidRequest("message is required"))
		return
	}
	h.ingest(w, r, event.KindError, body)
}

// ingest appends one externally supplied event and publishes it, sharing
// the watcher's write-then-broadcast path.
func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request, kind event.Kind, payload any) {
	projectID := queryInt64Ptr(r, "project_id")
	e, err := db.AppendEvent(h.deps.DB, kind, projectID, "", payload)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Bus.Publish(e.Envelope())
	writeJSON(w, http.StatusCreated, e.Envelope())
}
