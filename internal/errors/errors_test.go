package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestConstructorCodesAndStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    *TrailError
		code   ErrorCode
		status int
	}{
		{"invalid request", NewInvalidRequest("bad input"), ErrInvalidRequest, 400},
		{"llm disabled", NewLLMDisabled(), ErrLLMDisabled, 400},
		{"not found", NewNotFound("project", 7), ErrNotFound, 404},
		{"duplicate path", NewDuplicatePath("/tmp/demo"), ErrDuplicatePath, 409},
		{"conflict", NewConflict("already running"), ErrConflict, 409},
		{"transient", NewTransient(stderrors.New("db locked")), ErrTransient, 503},
		{"internal", NewInternal(stderrors.New("boom")), ErrInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.Status)
			}
			if tt.err.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewNotFound("project", 42)
	if got := err.Error(); got != "NOT_FOUND: project not found: 42" {
		t.Errorf("unexpected error string: %q", got)
	}
}

func TestNotFoundDetails(t *testing.T) {
	err := NewNotFound("conversation", int64(9))
	if err.Details["entity"] != "conversation" {
		t.Errorf("unexpected entity detail: %v", err.Details["entity"])
	}
	if err.Details["id"] != int64(9) {
		t.Errorf("unexpected id detail: %v", err.Details["id"])
	}
}

func TestDuplicatePathMessage(t *testing.T) {
	err := NewDuplicatePath("/srv/app")
	if !strings.Contains(err.Message, `"/srv/app"`) {
		t.Errorf("expected quoted path in message, got %q", err.Message)
	}
	if err.Details["path"] != "/srv/app" {
		t.Errorf("unexpected path detail: %v", err.Details["path"])
	}
}

func TestTransientAndInternalFallbackMessages(t *testing.T) {
	if got := NewTransient(nil).Message; got != "temporary backend failure" {
		t.Errorf("unexpected transient fallback: %q", got)
	}
	if got := NewInternal(nil).Message; got != "internal error" {
		t.Errorf("unexpected internal fallback: %q", got)
	}
	if got := NewInternal(stderrors.New("disk full")).Message; got != "disk full" {
		t.Errorf("expected wrapped message, got %q", got)
	}
}

func TestIs(t *testing.T) {
	err := NewConflict("busy")
	if !Is(err, ErrConflict) {
		t.Error("expected Is to match the code")
	}
	if Is(err, ErrNotFound) {
		t.Error("expected Is to reject a different code")
	}
	if Is(stderrors.New("plain"), ErrConflict) {
		t.Error("expected Is to reject non-trail errors")
	}
	if Is(nil, ErrConflict) {
		t.Error("expected Is to reject nil")
	}
}
