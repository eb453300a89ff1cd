package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorMessageBytes = 512

var (
	sensitiveInlinePattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`)
	bearerTokenPattern     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]+`)
	anthropicTokenPattern  = regexp.MustCompile(`\bsk-(?:ant-)?[A-Za-z0-9_\-]{10,}\b`)
)

// RunRequest describes one agent run for tracing.
type RunRequest struct {
	RunID          string
	Model          string
	Mode           string
	PermissionMode string
	PromptSource   string
	Prompt         string
	Resume         string
}

// RunSummary is the final state recorded on the agent.run span.
type RunSummary struct {
	Status    string
	CostUSD   *float64
	SessionID string
	DurationS float64
}

// Run tracks one agent.run span lifecycle. A nil *Run is valid and records
// nothing.
type Run struct {
	span      trace.Span
	startedAt time.Time

	mu       sync.Mutex
	toolUses int
	thoughts int
	ended    bool
}

// StartRun starts an agent.run span and returns the derived context.
func StartRun(ctx context.Context, req RunRequest) (context.Context, *Run) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("model_name", normalizeOrUnknown(req.Model)),
		attribute.String("mode", normalizeOrUnknown(req.Mode)),
		attribute.String("permission_mode", normalizeOrUnknown(req.PermissionMode)),
		attribute.String("prompt_source", normalizeOrUnknown(req.PromptSource)),
		attribute.Int("prompt_tokens", EstimateTokenCount(req.Prompt)),
		attribute.String("prompt_hash", hashPrompt(req.Prompt)),
		attribute.Bool("resumed", strings.TrimSpace(req.Resume) != ""),
	}
	if runID := strings.TrimSpace(req.RunID); runID != "" {
		attrs = append(attrs, attribute.String("run_id", runID))
	}

	spanCtx, span := otel.Tracer("lilo/telemetry/run").Start(
		ctx,
		"agent.run",
		trace.WithAttributes(attrs...),
	)
	return spanCtx, &Run{span: span, startedAt: time.Now()}
}

// RecordThought counts one assistant text block.
func (r *Run) RecordThought() {
	if r == nil || r.span == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.thoughts++
}

// RecordToolUse adds an agent.tool_use event to the run span.
func (r *Run) RecordToolUse(toolName string, target string) {
	if r == nil || r.span == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	r.toolUses++

	attrs := []attribute.KeyValue{attribute.String("tool_name", normalizeOrUnknown(toolName))}
	if target = strings.TrimSpace(target); target != "" {
		attrs = append(attrs, attribute.String("target_path", target))
	}
	r.span.AddEvent("agent.tool_use", trace.WithAttributes(attrs...))
}

// End finalizes the run span. A non-nil err marks the span failed; a summary
// with status "error" is recorded as a failed agent turn.
func (r *Run) End(summary RunSummary, err error) {
	if r == nil || r.span == nil {
		return
	}

	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	toolUses := r.toolUses
	thoughts := r.thoughts
	r.mu.Unlock()

	latencyMS := time.Since(r.startedAt).Milliseconds()
	if latencyMS < 0 {
		latencyMS = 0
	}

	attrs := []attribute.KeyValue{
		attribute.Int64("latency_ms", latencyMS),
		attribute.Int("tool_uses_count", toolUses),
		attribute.Int("thoughts_count", thoughts),
	}
	if status := strings.TrimSpace(summary.Status); status != "" {
		attrs = append(attrs,
			attribute.String("status", status),
			attribute.Float64("duration_s", summary.DurationS),
		)
		if summary.CostUSD != nil {
			attrs = append(attrs, attribute.Float64("cost_usd", *summary.CostUSD))
		}
	}
	if sessionID := strings.TrimSpace(summary.SessionID); sessionID != "" {
		attrs = append(attrs, attribute.String("session_id", sessionID))
	}
	r.span.SetAttributes(attrs...)

	switch {
	case err != nil:
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, redactSecrets(err.Error()))
	case summary.Status == "error":
		r.span.SetStatus(codes.Error, "agent reported error result")
	default:
		r.span.SetStatus(codes.Ok, "agent run completed")
	}
	r.span.End()
}

// EstimateTokenCount estimates token count using a deterministic words-to-tokens heuristic.
func EstimateTokenCount(text string) int {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0
	}
	estimated := (len(fields)*4 + 2) / 3
	if estimated < 1 {
		return 1
	}
	return estimated
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(redactSecrets(prompt)))
	return hex.EncodeToString(sum[:])
}

func redactSecrets(input string) string {
	redacted := strings.TrimSpace(input)
	if redacted == "" {
		return ""
	}
	redacted = sensitiveInlinePattern.ReplaceAllString(redacted, "$1=<redacted>")
	redacted = bearerTokenPattern.ReplaceAllString(redacted, "bearer <redacted>")
	redacted = anthropicTokenPattern.ReplaceAllString(redacted, "<redacted>")
	if len(redacted) > maxErrorMessageBytes {
		return redacted[:maxErrorMessageBytes-len("...[truncated]")] + "...[truncated]"
	}
	return redacted
}

func normalizeOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
