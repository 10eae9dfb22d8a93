package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/correlate"
	"github.com/calebhsu/codetrail/internal/db"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
	"github.com/calebhsu/codetrail/internal/event"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db         *sql.DB
	bus        *broadcast.Broadcaster
	correlator *correlate.Correlator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(database *sql.DB, bus *broadcast.Broadcaster, correlator *correlate.Correlator) *Handlers {
	return &Handlers{db: database, bus: bus, correlator: correlator}
}

// Tool definitions

var logPromptToolDef = mcp.NewTool("trail_log_prompt",
	mcp.WithDescription("Record a prompt sent to an AI assistant"),
	mcp.WithString("text", mcp.Required(), mcp.Description("The prompt text")),
	mcp.WithString("source", mcp.Description("Originating tool or editor")),
	mcp.WithString("model", mcp.Description("Model the prompt was sent to")),
	mcp.WithNumber("project_id", mcp.Description("Owning project id")),
)

var logChatToolDef = mcp.NewTool("trail_log_chat",
	mcp.WithDescription("Record one prompt/response exchange with an AI assistant"),
	mcp.WithString("prompt", mcp.Required(), mcp.Description("The user prompt")),
	mcp.WithString("response", mcp.Required(), mcp.Description("The assistant response")),
	mcp.WithString("source", mcp.Description("Originating tool or editor")),
	mcp.WithString("model", mcp.Description("Model that produced the response")),
	mcp.WithString("conversation_id", mcp.Description("Client-side conversation id")),
	mcp.WithNumber("project_id", mcp.Description("Owning project id")),
)

var logErrorToolDef = mcp.NewTool("trail_log_error",
	mcp.WithDescription("Record an error observed during development"),
	mcp.WithString("message", mcp.Required(), mcp.Description("The error message")),
	mcp.WithObject("context", mcp.Description("Arbitrary context attached to the error")),
	mcp.WithNumber("project_id", mcp.Description("Owning project id")),
)

var logConversationToolDef = mcp.NewTool("trail_log_conversation",
	mcp.WithDescription("Record a full AI conversation and schedule code-change matching"),
	mcp.WithString("ai_provider", mcp.Required(), mcp.Description("Provider name, e.g. openai or anthropic")),
	mcp.WithString("user_prompt", mcp.Required(), mcp.Description("The user prompt")),
	mcp.WithString("ai_response", mcp.Required(), mcp.Description("The assistant response")),
	mcp.WithString("ai_model", mcp.Description("Model tag")),
	mcp.WithString("session_id", mcp.Description("Client session id")),
	mcp.WithString("conversation_type", mcp.Description("Free-form conversation category")),
	mcp.WithNumber("project_id", mcp.Description("Owning project id")),
	mcp.WithNumber("timestamp", mcp.Description("Unix seconds; defaults to now")),
	mcp.WithArray("context_files", mcp.Description("Files referenced by the conversation")),
)

var listEventsToolDef = mcp.NewTool("trail_list_events",
	mcp.WithDescription("List recorded events, newest first"),
	mcp.WithNumber("project_id", mcp.Description("Filter by project id")),
	mcp.WithString("kind", mcp.Description("Filter by event kind")),
	mcp.WithString("search", mcp.Description("Case-insensitive substring match on path and payload")),
	mcp.WithNumber("offset", mcp.Description("Pagination offset")),
	mcp.WithNumber("limit", mcp.Description("Page size, default 100")),
)

// Request types for each tool

// LogPromptRequest represents the arguments for trail_log_prompt.
type LogPromptRequest struct {
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	Model     string `json:"model,omitempty"`
	ProjectID *int64 `json:"project_id,omitempty"`
}

// LogChatRequest represents the arguments for trail_log_chat.
type LogChatRequest struct {
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Source         string `json:"source,omitempty"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ProjectID      *int64 `json:"project_id,omitempty"`
}

// LogErrorRequest represents the arguments for trail_log_error.
type LogErrorRequest struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	ProjectID *int64         `json:"project_id,omitempty"`
}

// LogConversationRequest represents the arguments for trail_log_conversation.
type LogConversationRequest struct {
	AIProvider       string   `json:"ai_provider"`
	UserPrompt       string   `json:"user_prompt"`
	AIResponse       string   `json:"ai_response"`
	AIModel          string   `json:"ai_model,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	ConversationType string   `json:"conversation_type,omitempty"`
	ProjectID        *int64   `json:"project_id,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"`
	ContextFiles     []string `json:"context_files,omitempty"`
}

// ListEventsRequest represents the arguments for trail_list_events.
type ListEventsRequest struct {
	ProjectID *int64 `json:"project_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Search    string `json:"search,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HandleLogPrompt handles the trail_log_prompt tool call.
func (h *Handlers) HandleLogPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LogPromptRequest](req)
	if err != nil {
		return errorResult(trailerrors.NewInvalidRequest(err.Error())), nil
	}
	if input.Text == "" {
		return errorResult(trailerrors.NewInvalidRequest("text is required")), nil
	}
	return h.append(event.KindPrompt, input.ProjectID, event.PromptPayload{
		Text:   input.Text,
		Source: input.Source,
		Model:  input.Model,
	})
}

// HandleLogChat handles the trail_log_chat tool call.
func (h *Handlers) HandleLogChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LogChatRequest](req)
	if err != nil {
		return errorResult(trailerrors.NewInvalidRequest(err.Error())), nil
	}
	if input.Prompt == "" || input.Response == "" {
		return errorResult(trailerrors.NewInvalidRequest("prompt and response are required")), nil
	}
	return h.append(event.KindCopilotChat, input.ProjectID, event.CopilotChatPayload{
		Prompt:         input.Prompt,
		Response:       input.Response,
		Source:         input.Source,
		Model:          input.Model,
		ConversationID: input.ConversationID,
	})
}

// HandleLogError handles the trail_log_error tool call.
func (h *Handlers) HandleLogError(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LogErrorRequest](req)
	if err != nil {
		return errorResult(trailerrors.NewInvalidRequest(err.Error())), nil
	}
	if input.Message == "" {
		return errorResult(trailerrors.NewInvalidRequest("message is required")), nil
	}
	return h.append(event.KindError, input.ProjectID, event.ErrorPayload{
		Message: input.Message,
		Context: input.Context,
	})
}

// HandleLogConversation handles the trail_log_conversation tool call. It
// mirrors the HTTP ingest path: durable insert, ingest event, background
// matching.
func (h *Handlers) HandleLogConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LogConversationRequest](req)
	if err != nil {
		return errorResult(trailerrors.NewInvalidRequest(err.Error())), nil
	}
	if input.AIProvider == "" || input.UserPrompt == "" || input.AIResponse == "" {
		return errorResult(trailerrors.NewInvalidRequest("ai_provider, user_prompt, and ai_response are required")), nil
	}

	contextFiles := input.ContextFiles
	if len(contextFiles) == 0 {
		contextFiles = correlate.ExtractFileRefs(input.UserPrompt + "\n" + input.AIResponse)
	}
	var snippets json.RawMessage
	if extracted := correlate.ExtractSnippets(input.AIResponse); len(extracted) > 0 {
		if raw, err := json.Marshal(extracted); err == nil {
			snippets = raw
		}
	}

	conv := &db.Conversation{
		ProjectID:        input.ProjectID,
		SessionID:        input.SessionID,
		AIProvider:       input.AIProvider,
		AIModel:          input.AIModel,
		Timestamp:        input.Timestamp,
		ConversationType: input.ConversationType,
		UserPrompt:       input.UserPrompt,
		AIResponse:       input.AIResponse,
		ContextFiles:     contextFiles,
		CodeSnippets:     snippets,
	}
	if conv.SessionID == "" {
		conv.SessionID = ulid.Make().String()
	}
	id, err := db.InsertConversation(h.db, conv)
	if err != nil {
		return errorResult(err), nil
	}

	if note, err := db.AppendEvent(h.db, event.KindAIConversation, conv.ProjectID, "",
		event.AIConversationPayload{
			ConversationID: id,
			AIProvider:     conv.AIProvider,
			AIModel:        conv.AIModel,
			PromptPreview:  event.SafeTrim(conv.UserPrompt, 200),
		}); err == nil {
		h.bus.Publish(note.Envelope())
	}

	h.correlator.Schedule(context.Background(), id)
	return successResult(conv)
}

// HandleListEvents handles the trail_list_events tool call.
func (h *Handlers) HandleListEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListEventsRequest](req)
	if err != nil {
		return errorResult(trailerrors.NewInvalidRequest(err.Error())), nil
	}
	kind := event.Kind(input.Kind)
	if kind != "" && !kind.Valid() {
		return errorResult(trailerrors.NewInvalidRequest("unknown event kind: " + input.Kind)), nil
	}

	result, err := db.ListEvents(h.db, db.EventFilter{
		ProjectID: input.ProjectID,
		Kind:      kind,
		Search:    input.Search,
		Offset:    input.Offset,
		Limit:     input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	items := make([]event.Envelope, 0, len(result.Items))
	for _, e := range result.Items {
		items = append(items, e.Envelope())
	}
	return successResult(map[string]any{
		"items":  items,
		"total":  result.Total,
		"offset": result.Offset,
		"limit":  result.Limit,
	})
}

// append stores one event, publishes it, and returns its envelope.
func (h *Handlers) append(kind event.Kind, projectID *int64, payload any) (*mcp.CallToolResult, error) {
	e, err := db.AppendEvent(h.db, kind, projectID, "", payload)
	if err != nil {
		return errorResult(err), nil
	}
	h.bus.Publish(e.Envelope())
	return successResult(e.Envelope())
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if tErr, ok := err.(*trailerrors.TrailError); ok {
		errorObj := map[string]any{
			"code":    tErr.Code,
			"message": tErr.Message,
			"status":  tErr.Status,
		}
		if tErr.Code != trailerrors.ErrInternal && tErr.Details != nil {
			errorObj["details"] = tErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
