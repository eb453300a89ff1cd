package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lilo-dev/lilo/internal/harness"
)

const (
	defaultBinary          = "claude"
	defaultShutdownTimeout = 2 * time.Second
	defaultMaxLineBytes    = 32 * 1024 * 1024
	stderrTailBytes        = 4 * 1024
)

// CommandSpec describes the runtime process to start.
type CommandSpec struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// Process is a started runtime process.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	Kill() error
}

// ProcessStarter starts runtime processes.
type ProcessStarter interface {
	Start(ctx context.Context, spec CommandSpec) (Process, error)
}

type execStarter struct{}

func (execStarter) Start(ctx context.Context, spec CommandSpec) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start %s: %w", formatCommand(spec.Name, nil), err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr *tailBuffer
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}
	if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
		return fmt.Errorf("%w (%s)", err, tail)
	}
	return err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Runtime implements harness.Runtime on top of the Claude Code CLI in
// stream-json print mode.
type Runtime struct {
	binary          string
	starter         ProcessStarter
	logger          *log.Logger
	shutdownTimeout time.Duration
	maxLineBytes    int
}

// New constructs a Claude runtime that spawns binary.
func New(binary string, logger *log.Logger) *Runtime {
	runtime, _ := NewWithStarter(execStarter{}, binary, logger)
	return runtime
}

// NewWithStarter constructs a Claude runtime with an injectable process starter.
func NewWithStarter(starter ProcessStarter, binary string, logger *log.Logger) (*Runtime, error) {
	if starter == nil {
		return nil, errors.New("starter is required")
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = defaultBinary
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runtime{
		binary:          binary,
		starter:         starter,
		logger:          logger,
		shutdownTimeout: defaultShutdownTimeout,
		maxLineBytes:    defaultMaxLineBytes,
	}, nil
}

// Open starts the runtime process and begins reading its event stream.
func (r *Runtime) Open(ctx context.Context, opts harness.Options) (harness.Session, error) {
	if r == nil {
		return nil, errors.New("runtime is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	spec := CommandSpec{
		Name: r.binary,
		Args: buildArgs(opts),
		Dir:  strings.TrimSpace(opts.WorkDir),
		Env:  append([]string(nil), opts.Env...),
	}
	r.logger.Debug("starting agent runtime", "command", formatCommand(spec.Name, spec.Args), "dir", spec.Dir)

	proc, err := r.starter.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("open claude session: %w", err)
	}

	s := &session{
		proc:            proc,
		logger:          r.logger,
		shutdownTimeout: r.shutdownTimeout,
		maxLineBytes:    r.maxLineBytes,
		events:          make(chan harness.Event),
		done:            make(chan struct{}),
		finished:        make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func buildArgs(opts harness.Options) []string {
	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--model", strings.TrimSpace(opts.Model),
	}
	if mode := strings.TrimSpace(opts.PermissionMode); mode != "" {
		args = append(args, "--permission-mode", mode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if text := strings.TrimSpace(opts.SystemPromptAppend); text != "" {
		args = append(args, "--append-system-prompt", text)
	}
	if len(opts.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(opts.SettingSources, ","))
	}
	if resume := strings.TrimSpace(opts.Resume); resume != "" {
		args = append(args, "--resume", resume)
	}
	if mcpConfig := strings.TrimSpace(opts.MCPConfig); mcpConfig != "" {
		args = append(args, "--mcp-config", mcpConfig)
	}
	return args
}

type session struct {
	proc            Process
	logger          *log.Logger
	shutdownTimeout time.Duration
	maxLineBytes    int

	events   chan harness.Event
	done     chan struct{}
	finished chan struct{}

	mu        sync.Mutex
	queried   bool
	closed    bool
	err       error
	closeOnce sync.Once
	closeErr  error
}

type userInput struct {
	Type    string         `json:"type"`
	Message userInputInner `json:"message"`
}

type userInputInner struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query writes the prompt as a single user turn and closes the input stream.
func (s *session) Query(_ context.Context, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return harness.ErrSessionClosed
	}
	if s.queried {
		return errors.New("session already queried")
	}
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt is required")
	}
	s.queried = true

	payload, err := json.Marshal(userInput{
		Type:    "user",
		Message: userInputInner{Role: "user", Content: prompt},
	})
	if err != nil {
		return fmt.Errorf("marshal user message: %w", err)
	}
	stdin := s.proc.Stdin()
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write user message: %w", err)
	}
	if err := stdin.Close(); err != nil {
		return fmt.Errorf("close runtime input: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan harness.Event {
	return s.events
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the runtime. A process that does not exit within the shutdown
// timeout is killed.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		queried := s.queried
		s.mu.Unlock()

		if !queried {
			_ = s.proc.Stdin().Close()
		}
		close(s.done)

		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-s.finished:
			return
		case <-timer.C:
		}
		s.logger.Warn("agent runtime did not exit; killing", "timeout", s.shutdownTimeout)
		if err := s.proc.Kill(); err != nil {
			s.closeErr = fmt.Errorf("kill claude process: %w", err)
		}
		<-s.finished
	})
	return s.closeErr
}

func (s *session) read() {
	defer close(s.finished)
	defer close(s.events)

	sawResult := false
	scanner := bufio.NewScanner(s.proc.Stdout())
	scanner.Buffer(make([]byte, 0, min(64*1024, s.maxLineBytes)), s.maxLineBytes)
	for scanner.Scan() {
		events, err := decodeLine(scanner.Bytes())
		if err != nil {
			s.logger.Debug("skipping runtime output line", "err", err)
			continue
		}
		for _, event := range events {
			if _, ok := event.(harness.ResultEvent); ok {
				sawResult = true
			}
			select {
			case s.events <- event:
			case <-s.done:
			}
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Unread stdout blocks the child, so Wait would never return.
		if err := s.proc.Kill(); err != nil {
			s.logger.Warn("failed to kill agent runtime after stream error", "err", err)
		}
	}
	waitErr := s.proc.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch {
	case scanErr != nil:
		s.err = fmt.Errorf("read claude stream: %w", scanErr)
	case waitErr != nil && !sawResult:
		s.err = fmt.Errorf("claude exited before result: %w", waitErr)
	}
}

func formatCommand(name string, args []string) string {
	parts := append([]string{strings.TrimSpace(name)}, args...)
	sanitized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) > 80 {
			part = part[:77] + "..."
		}
		sanitized = append(sanitized, part)
	}
	return strings.Join(sanitized, " ")
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = append([]byte(nil), b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

var _ harness.Runtime = (*Runtime)(nil)
