// Package event defines the typed, timestamped records produced by the
// watch engine and the ingest surface. Payloads form a closed union over
// Kind; the store persists their serialized form unchanged.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the payload shape of an event.
type Kind string

const (
	KindFileChange     Kind = "file_change"
	KindFileDeleted    Kind = "file_deleted"
	KindFolderCreated  Kind = "folder_created"
	KindFolderDeleted  Kind = "folder_deleted"
	KindPrompt         Kind = "prompt"
	KindCopilotChat    Kind = "copilot_chat"
	KindError          Kind = "error"
	KindSummary        Kind = "summary"
	KindAIMatch        Kind = "ai_match"
	KindAIConversation Kind = "ai_conversation"
	KindImplications   Kind = "implications_analysis"
)

// Kinds lists every valid event kind.
var Kinds = []Kind{
	KindFileChange, KindFileDeleted, KindFolderCreated, KindFolderDeleted,
	KindPrompt, KindCopilotChat, KindError, KindSummary,
	KindAIMatch, KindAIConversation, KindImplications,
}

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is an immutable stored record. TS is unix seconds; Payload is the
// serialized per-kind payload.
type Event struct {
	ID        int64           `json:"id"`
	TS        int64           `json:"-"`
	Kind      Kind            `json:"kind"`
	Path      string          `json:"path"`
	Payload   json.RawMessage `json:"payload"`
	ProjectID *int64          `json:"project_id"`
}

// Envelope is the JSON-serializable record broadcast for each new event
// and returned by the query API.
type Envelope struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Kind      Kind            `json:"kind"`
	Path      string          `json:"path"`
	Payload   json.RawMessage `json:"payload"`
	ProjectID *int64          `json:"project_id"`
}

// Envelope converts a stored event into its broadcast form.
func (e Event) Envelope() Envelope {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Envelope{
		ID:        e.ID,
		TS:        FormatTS(e.TS),
		Kind:      e.Kind,
		Path:      e.Path,
		Payload:   payload,
		ProjectID: e.ProjectID,
	}
}

// FormatTS renders unix seconds as RFC3339 UTC with a trailing Z.
func FormatTS(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// SafeTrim truncates text to limit characters, appending a marker that
// records how much was dropped.
func SafeTrim(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit] + fmt.Sprintf("... [truncated %d chars]", len(text)-limit)
}

// FileChangePayload accompanies file_change events.
type FileChangePayload struct {
	Event    string `json:"event"` // "created" or "modified"
	Diff     string `json:"diff"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Baseline string `json:"baseline"` // "cache" or "head"
}

// FileDeletedPayload accompanies file_deleted events.
type FileDeletedPayload struct {
	Event string `json:"event"` // always "deleted"
}

// FolderPayload accompanies folder_created and folder_deleted events.
type FolderPayload struct {
	Event string `json:"event"` // "created" or "deleted"
	Type  string `json:"type"`  // always "directory"
}

// PromptPayload accompanies prompt events.
type PromptPayload struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Model  string `json:"model,omitempty"`
}

// CopilotChatPayload accompanies copilot_chat events.
type CopilotChatPayload struct {
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	Source         string `json:"source,omitempty"`
	Model          string `json:"model,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ErrorPayload accompanies error events.
type ErrorPayload struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// SummaryPayload accompanies summary events.
type SummaryPayload struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// AIMatchPayload accompanies ai_match events.
type AIMatchPayload struct {
	PromptCount     int `json:"prompt_count"`
	CodeChangeCount int `json:"code_change_count"`
	MatchCount      int `json:"match_count"`
}

// AIConversationPayload accompanies ai_conversation events appended when
// a conversation is ingested.
type AIConversationPayload struct {
	ConversationID int64  `json:"conversation_id"`
	AIProvider     string `json:"ai_provider"`
	AIModel        string `json:"ai_model,omitempty"`
	PromptPreview  string `json:"prompt_preview"`
}

// ImplicationsPayload accompanies implications_analysis events.
type ImplicationsPayload struct {
	Content    string `json:"content"`
	ProjectID  int64  `json:"project_id"`
	EventCount int    `json:"event_count"`
	Model      string `json:"model,omitempty"`
	Hours      int    `json:"hours,omitempty"`
}
