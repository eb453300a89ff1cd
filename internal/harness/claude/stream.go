package claude

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lilo-dev/lilo/internal/harness"
)

const (
	messageTypeAssistant = "assistant"
	messageTypeResult    = "result"

	blockTypeText    = "text"
	blockTypeToolUse = "tool_use"
)

// streamMessage is one line of stream-json output. Only the fields the
// runner consumes are decoded; system and user messages are skipped.
type streamMessage struct {
	Type      string            `json:"type"`
	Subtype   string            `json:"subtype,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Message   *assistantMessage `json:"message,omitempty"`

	IsError      bool     `json:"is_error,omitempty"`
	DurationMS   int64    `json:"duration_ms,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	Result       string   `json:"result,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
}

type assistantMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// decodeLine converts one stream-json line into zero or more events, keeping
// content block order.
func decodeLine(line []byte) ([]harness.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	if line[0] != '{' {
		return nil, errors.New("not a json object")
	}

	var msg streamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("decode stream message: %w", err)
	}

	switch msg.Type {
	case messageTypeAssistant:
		if msg.Message == nil {
			return nil, nil
		}
		events := make([]harness.Event, 0, len(msg.Message.Content))
		for _, block := range msg.Message.Content {
			switch block.Type {
			case blockTypeText:
				events = append(events, harness.TextEvent{Text: block.Text})
			case blockTypeToolUse:
				events = append(events, harness.ToolUseEvent{
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				})
			}
		}
		return events, nil
	case messageTypeResult:
		return []harness.Event{harness.ResultEvent{
			IsError:      msg.IsError,
			Subtype:      msg.Subtype,
			TotalCostUSD: msg.TotalCostUSD,
			SessionID:    msg.SessionID,
			DurationMS:   msg.DurationMS,
			NumTurns:     msg.NumTurns,
			Result:       msg.Result,
		}}, nil
	default:
		return nil, nil
	}
}
