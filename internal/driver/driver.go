// Package driver runs one agent session and streams its activity as NDJSON.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lilo-dev/lilo/internal/harness"
	"github.com/lilo-dev/lilo/internal/telemetry"
)

// ErrNoResult reports that the event stream ended before a result event.
var ErrNoResult = errors.New("agent stream ended without a result")

// liveTools are the file-writing tools announced with a [LIVE] line.
var liveTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// Store persists the session id returned by the runtime.
type Store interface {
	Save(id string) error
}

// Config wires a Driver.
type Config struct {
	Runtime harness.Runtime
	Options harness.Options
	Store   Store
	Out     io.Writer
	Logger  *log.Logger
	Tracker *telemetry.Run
	Now     func() time.Time
}

// Outcome is what the result event reported.
type Outcome struct {
	Status    string
	CostUSD   *float64
	SessionID string
	DurationS float64
	NumTurns  int
}

// Driver consumes the event stream of a single session.
type Driver struct {
	runtime harness.Runtime
	options harness.Options
	store   Store
	out     io.Writer
	logger  *log.Logger
	tracker *telemetry.Run
	now     func() time.Time
}

// New validates cfg and returns a Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("runtime is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Out == nil {
		return nil, errors.New("output is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Driver{
		runtime: cfg.Runtime,
		options: cfg.Options,
		store:   cfg.Store,
		out:     cfg.Out,
		logger:  cfg.Logger,
		tracker: cfg.Tracker,
		now:     cfg.Now,
	}, nil
}

// Run opens a session, submits query and streams events until the result.
// The session is closed on every return path. A result with is_error set is
// not an error here; it surfaces as status "error" in the result record.
func (d *Driver) Run(ctx context.Context, query string) (outcome Outcome, err error) {
	defer func() {
		d.tracker.End(telemetry.RunSummary{
			Status:    outcome.Status,
			CostUSD:   outcome.CostUSD,
			SessionID: outcome.SessionID,
			DurationS: outcome.DurationS,
		}, fatal(err))
	}()

	clock := NewClock(d.now())
	d.logger.Info("initializing client")

	session, err := d.runtime.Open(ctx, d.options)
	if err != nil {
		return Outcome{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			d.logger.Warn("close session", "err", closeErr)
		}
	}()

	if err := session.Query(ctx, query); err != nil {
		return Outcome{}, fmt.Errorf("submit query: %w", err)
	}

	events := session.Events()
	for {
		var (
			event harness.Event
			ok    bool
		)
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case event, ok = <-events:
		}
		if !ok {
			break
		}

		var stamp Stamp
		stamp, clock = clock.Tick(d.now())

		switch e := event.(type) {
		case harness.TextEvent:
			d.tracker.RecordThought()
			if err := writeRecord(d.out, recordThink, thinkRecord{
				Type:    recordThink,
				Content: e.Text,
				T:       stamp.T,
				DT:      stamp.DT,
			}); err != nil {
				return Outcome{}, err
			}
		case harness.ToolUseEvent:
			if err := d.emitTool(e, stamp); err != nil {
				return Outcome{}, err
			}
		case harness.ResultEvent:
			return d.finish(e, clock)
		}
	}

	if err := session.Err(); err != nil {
		return Outcome{}, fmt.Errorf("agent stream: %w", err)
	}
	d.logger.Warn("agent stream ended without a result")
	return Outcome{}, ErrNoResult
}

func (d *Driver) emitTool(event harness.ToolUseEvent, stamp Stamp) error {
	target := ""
	if liveTools[event.Name] {
		target = event.TargetPath()
		if _, err := fmt.Fprintf(d.out, "[LIVE] 📝 %s: %s\n", event.Name, target); err != nil {
			return fmt.Errorf("write live line: %w", err)
		}
	}
	d.tracker.RecordToolUse(event.Name, target)
	return writeRecord(d.out, recordTool, toolRecord{
		Type:  recordTool,
		Tool:  event.Name,
		Input: event.InputString(),
		T:     stamp.T,
		DT:    stamp.DT,
	})
}

// finish persists the session id and emits the single result record. A
// failed save is logged and does not change the status.
func (d *Driver) finish(event harness.ResultEvent, clock Clock) (Outcome, error) {
	status := StatusSuccess
	if event.IsError {
		status = StatusError
	}
	d.logger.Info("session id", "id", event.SessionID)

	if strings.TrimSpace(event.SessionID) != "" {
		if err := d.store.Save(event.SessionID); err != nil {
			d.logger.Warn("failed to save session id", "err", err)
		} else {
			d.logger.Info("✅ session id saved")
		}
	}

	outcome := Outcome{
		Status:    status,
		CostUSD:   event.TotalCostUSD,
		SessionID: event.SessionID,
		DurationS: clock.Elapsed(d.now()),
		NumTurns:  event.NumTurns,
	}
	if err := writeRecord(d.out, recordResult, resultRecord{
		Type:      recordResult,
		Status:    outcome.Status,
		Cost:      outcome.CostUSD,
		SessionID: outcome.SessionID,
		DurationS: outcome.DurationS,
	}); err != nil {
		return outcome, err
	}
	d.logger.Info(fmt.Sprintf("✅ changes complete (%.1fs)", outcome.DurationS))
	return outcome, nil
}

// fatal filters out the non-fatal ErrNoResult for tracing.
func fatal(err error) error {
	if errors.Is(err, ErrNoResult) {
		return nil
	}
	return err
}
