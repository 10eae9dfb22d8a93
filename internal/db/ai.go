package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	trailerrors "github.com/calebhsu/codetrail/internal/errors"
)

// Conversation is one ingested AI exchange. ContextFiles, CodeSnippets,
// Metadata, and MatchedToEvents are stored as serialized JSON columns.
type Conversation struct {
	ID               int64           `json:"id"`
	ProjectID        *int64          `json:"project_id"`
	SessionID        string          `json:"session_id,omitempty"`
	AIProvider       string          `json:"ai_provider"`
	AIModel          string          `json:"ai_model,omitempty"`
	Timestamp        int64           `json:"timestamp"`
	ConversationType string          `json:"conversation_type,omitempty"`
	UserPrompt       string          `json:"user_prompt"`
	AIResponse       string          `json:"ai_response"`
	ContextFiles     []string        `json:"context_files,omitempty"`
	CodeSnippets     json.RawMessage `json:"code_snippets,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	MatchedToEvents  []int64         `json:"matched_to_events,omitempty"`
	ConfidenceScore  *float64        `json:"confidence_score,omitempty"`
}

// Match links a conversation to one code-change event.
type Match struct {
	ID             int64   `json:"id"`
	ConversationID int64   `json:"conversation_id"`
	EventID        int64   `json:"event_id"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning,omitempty"`
	MatchType      string  `json:"match_type,omitempty"`
	FileOverlap    bool    `json:"file_overlap"`
	TimeDelta      int64   `json:"time_delta"`
	CreatedAt      int64   `json:"created_at"`
}

const conversationColumns = `id, project_id, session_id, ai_provider, ai_model,
	timestamp, conversation_type, user_prompt, ai_response,
	context_files, code_snippets, metadata, matched_to_events, confidence_score`

// InsertConversation stores a new conversation. A zero Timestamp is
// stamped with the current time.
func InsertConversation(database *sql.DB, c *Conversation) (int64, error) {
	if c.Timestamp == 0 {
		c.Timestamp = time.Now().Unix()
	}
	contextFiles, err := marshalNullable(c.ContextFiles)
	if err != nil {
		return 0, fmt.Errorf("failed to encode context files: %w", err)
	}

	res, err := database.Exec(
		`INSERT INTO ai_conversations
		 (project_id, session_id, ai_provider, ai_model, timestamp,
		  conversation_type, user_prompt, ai_response,
		  context_files, code_snippets, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		toNullInt64(c.ProjectID), toNullString(c.SessionID), c.AIProvider,
		toNullString(c.AIModel), c.Timestamp, toNullString(c.ConversationType),
		c.UserPrompt, c.AIResponse, contextFiles,
		rawToNullString(c.CodeSnippets), rawToNullString(c.Metadata),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read conversation id: %w", err)
	}
	c.ID = id
	return id, nil
}

// GetConversation loads one conversation by id.
func GetConversation(database *sql.DB, id int64) (*Conversation, error) {
	row := database.QueryRow(
		`SELECT `+conversationColumns+` FROM ai_conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, trailerrors.NewNotFound("conversation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %d: %w", id, err)
	}
	return c, nil
}

// ConversationFilter narrows ListConversations.
type ConversationFilter struct {
	ProjectID  *int64
	AIProvider string
	Offset     int
	Limit      int
}

// ConversationPage is one page of a filtered conversation listing.
type ConversationPage struct {
	Items  []*Conversation
	Total  int64
	Offset int
	Limit  int
}

// ListConversations returns conversations matching the filter, newest
// first by conversation timestamp.
func ListConversations(database *sql.DB, filter ConversationFilter) (*ConversationPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		clauses []string
		args    []any
	)
	if filter.ProjectID != nil {
		clauses = append(clauses, "project_id = ?")
		args = append(args, *filter.ProjectID)
	}
	if filter.AIProvider != "" {
		clauses = append(clauses, "ai_provider = ?")
		args = append(args, filter.AIProvider)
	}
	where := ""
	for i, c := range clauses {
		if i == 0 {
			where = " WHERE " + c
		} else {
			where += " AND " + c
		}
	}

	var total int64
	if err := database.QueryRow(`SELECT COUNT(*) FROM ai_conversations`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := database.Query(
		`SELECT `+conversationColumns+` FROM ai_conversations`+where+
			` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var items []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &ConversationPage{Items: items, Total: total, Offset: filter.Offset, Limit: filter.Limit}, nil
}

// UpdateConversationMatches records the matched event ids and the mean
// confidence on the conversation row.
func UpdateConversationMatches(database *sql.DB, conversationID int64, eventIDs []int64, confidence float64) error {
	matched, err := marshalNullable(eventIDs)
	if err != nil {
		return fmt.Errorf("failed to encode matched events: %w", err)
	}
	res, err := database.Exec(
		`UPDATE ai_conversations SET matched_to_events = ?, confidence_score = ? WHERE id = ?`,
		matched, confidence, conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation %d matches: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trailerrors.NewNotFound("conversation", conversationID)
	}
	return nil
}

// InsertMatch stores one conversation-to-event link.
func InsertMatch(database *sql.DB, m *Match) (int64, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	res, err := database.Exec(
		`INSERT INTO ai_code_matches
		 (conversation_id, event_id, confidence, reasoning, match_type,
		  file_overlap, time_delta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.EventID, m.Confidence, toNullString(m.Reasoning),
		toNullString(m.MatchType), boolToInt(m.FileOverlap), m.TimeDelta, m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read match id: %w", err)
	}
	m.ID = id
	return id, nil
}

// ListMatches returns a conversation's matches ordered by confidence,
// strongest first.
func ListMatches(database *sql.DB, conversationID int64) ([]*Match, error) {
	rows, err := database.Query(
		`SELECT id, conversation_id, event_id, confidence, reasoning,
		        match_type, file_overlap, time_delta, created_at
		 FROM ai_code_matches WHERE conversation_id = ?
		 ORDER BY confidence DESC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		var (
			m           Match
			reasoning   sql.NullString
			matchType   sql.NullString
			fileOverlap int
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.EventID, &m.Confidence,
			&reasoning, &matchType, &fileOverlap, &m.TimeDelta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.Reasoning = reasoning.String
		m.MatchType = matchType.String
		m.FileOverlap = fileOverlap != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMatches removes every match for a conversation and returns the
// count removed. Manual re-matching replaces prior links.
func DeleteMatches(database *sql.DB, conversationID int64) (int64, error) {
	res, err := database.Exec(
		`DELETE FROM ai_code_matches WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete matches for conversation %d: %w", conversationID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TimelineRow joins one match with its event for the conversation
// timeline view.
type TimelineRow struct {
	Match     *Match          `json:"match"`
	EventID   int64           `json:"event_id"`
	EventTS   int64           `json:"event_ts"`
	EventKind string          `json:"event_kind"`
	EventPath string          `json:"event_path"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Timeline returns a conversation's matched events with their payloads,
// ordered by match confidence, strongest first.
func Timeline(database *sql.DB, conversationID int64) ([]*TimelineRow, error) {
	rows, err := database.Query(
		`SELECT m.id, m.conversation_id, m.event_id, m.confidence, m.reasoning,
		        m.match_type, m.file_overlap, m.time_delta, m.created_at,
		        e.id, e.ts, e.kind, COALESCE(e.path, ''), COALESCE(e.payload, '')
		 FROM ai_code_matches m
		 LEFT JOIN events e ON e.id = m.event_id
		 WHERE m.conversation_id = ?
		 ORDER BY m.confidence DESC, m.id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()

	var out []*TimelineRow
	for rows.Next() {
		var (
			m           Match
			reasoning   sql.NullString
			matchType   sql.NullString
			fileOverlap int
			eventID     sql.NullInt64
			eventTS     sql.NullInt64
			eventKind   sql.NullString
			eventPath   string
			payload     string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.EventID, &m.Confidence,
			&reasoning, &matchType, &fileOverlap, &m.TimeDelta, &m.CreatedAt,
			&eventID, &eventTS, &eventKind, &eventPath, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}
		m.Reasoning = reasoning.String
		m.MatchType = matchType.String
		m.FileOverlap = fileOverlap != 0
		row := &TimelineRow{
			Match:     &m,
			EventID:   eventID.Int64,
			EventTS:   eventTS.Int64,
			EventKind: eventKind.String,
			EventPath: eventPath,
		}
		if payload != "" {
			row.Payload = json.RawMessage(payload)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// AIStats summarizes the conversation store.
type AIStats struct {
	TotalConversations int64            `json:"total_conversations"`
	Matched            int64            `json:"matched"`
	Unmatched          int64            `json:"unmatched"`
	TotalMatches       int64            `json:"total_matches"`
	ByProvider         map[string]int64 `json:"by_provider"`
}

// ComputeAIStats aggregates conversation and match counters, optionally
// scoped to one project.
func ComputeAIStats(database *sql.DB, projectID *int64) (*AIStats, error) {
	stats := &AIStats{ByProvider: map[string]int64{}}

	where := ""
	var args []any
	if projectID != nil {
		where = " WHERE project_id = ?"
		args = append(args, *projectID)
	}

	row := database.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN matched_to_events IS NOT NULL AND matched_to_events != '' AND matched_to_events != '[]' THEN 1 ELSE 0 END), 0)
		 FROM ai_conversations`+where, args...)
	if err := row.Scan(&stats.TotalConversations, &stats.Matched); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	stats.Unmatched = stats.TotalConversations - stats.Matched

	matchQuery := `SELECT COUNT(*) FROM ai_code_matches`
	var matchArgs []any
	if projectID != nil {
		matchQuery += ` WHERE conversation_id IN (SELECT id FROM ai_conversations WHERE project_id = ?)`
		matchArgs = append(matchArgs, *projectID)
	}
	if err := database.QueryRow(matchQuery, matchArgs...).Scan(&stats.TotalMatches); err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}

	rows, err := database.Query(
		`SELECT ai_provider, COUNT(*) FROM ai_conversations`+where+` GROUP BY ai_provider`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group conversations by provider: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			provider string
			count    int64
		)
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan provider count: %w", err)
		}
		stats.ByProvider[provider] = count
	}
	return stats, rows.Err()
}

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var (
		c            Conversation
		projectID    sql.NullInt64
		sessionID    sql.NullString
		model        sql.NullString
		convType     sql.NullString
		contextFiles sql.NullString
		codeSnippets sql.NullString
		metadata     sql.NullString
		matched      sql.NullString
		confidence   sql.NullFloat64
	)
	err := row.Scan(&c.ID, &projectID, &sessionID, &c.AIProvider, &model,
		&c.Timestamp, &convType, &c.UserPrompt, &c.AIResponse,
		&contextFiles, &codeSnippets, &metadata, &matched, &confidence)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		c.ProjectID = &projectID.Int64
	}
	c.SessionID = sessionID.String
	c.AIModel = model.String
	c.ConversationType = convType.String
	if contextFiles.Valid && contextFiles.String != "" {
		if err := json.Unmarshal([]byte(contextFiles.String), &c.ContextFiles); err != nil {
			return nil, fmt.Errorf("corrupt context_files for conversation %d: %w", c.ID, err)
		}
	}
	if codeSnippets.Valid && codeSnippets.String != "" {
		c.CodeSnippets = json.RawMessage(codeSnippets.String)
	}
	if metadata.Valid && metadata.String != "" {
		c.Metadata = json.RawMessage(metadata.String)
	}
	if matched.Valid && matched.String != "" {
		if err := json.Unmarshal([]byte(matched.String), &c.MatchedToEvents); err != nil {
			return nil, fmt.Errorf("corrupt matched_to_events for conversation %d: %w", c.ID, err)
		}
	}
	if confidence.Valid {
		c.ConfidenceScore = &confidence.Float64
	}
	return &c, nil
}

// marshalNullable encodes v as JSON, mapping empty slices to NULL.
func marshalNullable(v any) (sql.NullString, error) {
	switch s := v.(type) {
	case []string:
		if len(s) == 0 {
			return sql.NullString{}, nil
		}
	case []int64:
		if len(s) == 0 {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func rawToNullString(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
