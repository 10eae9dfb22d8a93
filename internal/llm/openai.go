package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calebhsu/codetrail/internal/event"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAI calls the chat-completions API. Matching uses MatchingModel;
// everything else uses Model.
type OpenAI struct {
	apiKey        string
	model         string
	matchingModel string
	baseURL       string
	timeout       time.Duration
	httpClient    *http.Client
}

// OpenAIOptions configures an OpenAI client.
type OpenAIOptions struct {
	APIKey        string
	Model         string
	MatchingModel string
	BaseURL       string
	Timeout       time.Duration
}

// NewOpenAI builds a client. The per-call timeout applies on top of any
// caller context deadline.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MatchingModel == "" {
		opts.MatchingModel = opts.Model
	}
	return &OpenAI{
		apiKey:        opts.APIKey,
		model:         opts.Model,
		matchingModel: opts.MatchingModel,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		timeout:       opts.Timeout,
		httpClient:    &http.Client{},
	}
}

// Enabled reports whether an API key is set.
func (c *OpenAI) Enabled() bool { return c.apiKey != "" }

// ScoreMatches asks the matching model for a strict JSON verdict over the
// candidate events.
func (c *OpenAI) ScoreMatches(ctx context.Context, req MatchRequest) ([]MatchResult, error) {
	var sb strings.Builder
	sb.WriteString("User prompt:\n")
	sb.WriteString(event.SafeTrim(req.UserPrompt, 500))
	sb.WriteString("\n\nAssistant response:\n")
	sb.WriteString(event.SafeTrim(req.AIResponse, 1000))
	sb.WriteString("\n\nFiles referenced in the conversation:\n")
	if len(req.FileRefs) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, f := range req.FileRefs {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	sb.WriteString("\nCandidate code-change events:\n")
	for _, cand := range req.Candidates {
		fmt.Fprintf(&sb, "- event_id=%d path=%s time_delta=%ds\n  diff: %s\n",
			cand.EventID, cand.Path, cand.TimeDelta, event.SafeTrim(cand.DiffExcerpt, 400))
	}
	sb.WriteString(`
Return a JSON object {"matches": [{"event_id", "match_category", "confidence", "reasoning", "file_overlap", "time_delta"}]}.
match_category must be one of "direct", "related", "suggested". confidence must be between 0 and 1.
Only include candidate event ids listed above.`)

	const system = "You link AI coding-assistant conversations to the code changes they produced. Respond with strict JSON only."

	raw, err := c.complete(ctx, c.matchingModel, system, sb.String(), true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Matches []MatchResult `json:"matches"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("llm: malformed match response: %w", err)
	}
	return out.Matches, nil
}

// SummarizeImpact asks the model for a strict JSON impact analysis.
func (c *OpenAI) SummarizeImpact(ctx context.Context, req ImpactRequest) (*ImpactResult, error) {
	var sb strings.Builder
	sb.WriteString("Current architecture summary:\n")
	sb.WriteString(event.SafeTrim(req.ArchitectureSummary, 3000))
	fmt.Fprintf(&sb, "\n\nCode change (%s) to %s:\n%s\n",
		req.ChangeType, req.Path, event.SafeTrim(req.DiffExcerpt, 2000))
	sb.WriteString(`
Return a JSON object {"affected_features": [], "modified_classes": [], "new_classes": [], "architectural_change": bool, "impact_level": "minor"|"moderate"|"major", "summary": "", "concerns": [], "recommendations": []}.`)

	const system = "You assess how a code change affects a project's architecture. Respond with strict JSON only."

	raw, err := c.complete(ctx, c.model, system, sb.String(), true)
	if err != nil {
		return nil, err
	}
	var out ImpactResult
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("llm: malformed impact response: %w", err)
	}
	return &out, nil
}

// Complete performs a free-form completion with the default model.
func (c *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, c.model, system, user, false)
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAI) complete(ctx context.Context, model, system, user string, jsonMode bool) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := chatRequest{
		Model:       model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	if jsonMode {
		payload.ResponseFormat = &formatSpec{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("llm: failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: malformed response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
