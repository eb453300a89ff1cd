package driver

import (
	"encoding/json"
	"fmt"
	"io"
)

const (
	recordThink  = "think"
	recordTool   = "tool"
	recordResult = "result"

	// StatusSuccess and StatusError are the result record statuses.
	StatusSuccess = "success"
	StatusError   = "error"
)

type thinkRecord struct {
	Type    string  `json:"type"`
	Content string  `json:"content"`
	T       float64 `json:"t"`
	DT      float64 `json:"dt"`
}

type toolRecord struct {
	Type  string  `json:"type"`
	Tool  string  `json:"tool"`
	Input string  `json:"input"`
	T     float64 `json:"t"`
	DT    float64 `json:"dt"`
}

type resultRecord struct {
	Type      string   `json:"type"`
	Status    string   `json:"status"`
	Cost      *float64 `json:"cost"`
	SessionID string   `json:"session_id"`
	DurationS float64  `json:"duration_s"`
}

// writeRecord emits one NDJSON line. HTML escaping is off so prompts and file
// contents appear as written.
func writeRecord(w io.Writer, kind string, record any) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(record); err != nil {
		return fmt.Errorf("write %s record: %w", kind, err)
	}
	return nil
}
