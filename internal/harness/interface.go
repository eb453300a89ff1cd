package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed is returned when a closed session is used.
var ErrSessionClosed = errors.New("session closed")

// Options configures one agent runtime session.
type Options struct {
	SystemPromptAppend string
	WorkDir            string
	Model              string
	PermissionMode     string
	AllowedTools       []string
	SettingSources     []string
	Resume             string
	// MCPConfig is a JSON document registering local tool servers, empty for none.
	MCPConfig string
	// Env is appended to the runtime process environment.
	Env []string
}

// Validate checks the fields every runtime needs.
func (o Options) Validate() error {
	if strings.TrimSpace(o.WorkDir) == "" {
		return errors.New("workdir is required")
	}
	if strings.TrimSpace(o.Model) == "" {
		return errors.New("model is required")
	}
	return nil
}

// Event is one item of a session's ordered response stream.
type Event interface {
	isEvent()
}

// TextEvent carries assistant text.
type TextEvent struct {
	Text string
}

// ToolUseEvent carries one tool invocation requested by the assistant.
type ToolUseEvent struct {
	ID    string
	Name  string
	Input map[string]any
}

// ResultEvent terminates a run.
type ResultEvent struct {
	IsError      bool
	Subtype      string
	TotalCostUSD *float64
	SessionID    string
	DurationMS   int64
	NumTurns     int
	Result       string
}

func (TextEvent) isEvent()    {}
func (ToolUseEvent) isEvent() {}
func (ResultEvent) isEvent()  {}

// InputString renders the tool input as compact JSON with sorted keys.
func (e ToolUseEvent) InputString() string {
	if len(e.Input) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(e.Input); err != nil {
		return fmt.Sprintf("%v", e.Input)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// TargetPath returns the file the tool operates on, or "unknown".
func (e ToolUseEvent) TargetPath() string {
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if value, ok := e.Input[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return "unknown"
}

// Runtime opens sessions with an external agent runtime.
type Runtime interface {
	Open(ctx context.Context, opts Options) (Session, error)
}

// Session is a scoped conversation with the runtime. Callers must Close it.
type Session interface {
	// Query submits the task prompt.
	Query(ctx context.Context, prompt string) error
	// Events yields response events in arrival order and is closed when the
	// stream ends.
	Events() <-chan Event
	// Err reports why the event stream ended early, nil on clean exhaustion.
	Err() error
	// Close releases the session. It is safe to call more than once.
	Close() error
}
