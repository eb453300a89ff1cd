// Package prompt chooses the user prompt for a run and renders the query sent
// to the agent.
package prompt

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/lilo-dev/lilo/internal/config"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("prompts").ParseFS(templateFS, "templates/*.tmpl"))

// Source names where the user prompt came from.
type Source string

const (
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceDefault Source = "default"
)

// Selection is the chosen prompt and the rendered query.
type Selection struct {
	Source     Source
	UserPrompt string
	Query      string
}

// Continuation reports whether the query edits an existing dashboard.
func (s Selection) Continuation() bool {
	return s.Source != SourceDefault
}

// ReadFileFunc reads a prompt file.
type ReadFileFunc func(path string) ([]byte, error)

// Selector picks the prompt from file, environment, or the built-in default.
type Selector struct {
	readFile ReadFileFunc
	logger   *log.Logger
}

// New returns a selector reading from the local filesystem.
func New(logger *log.Logger) *Selector {
	selector, _ := NewWithReader(os.ReadFile, logger)
	return selector
}

// NewWithReader returns a selector with an injectable file reader.
func NewWithReader(readFile ReadFileFunc, logger *log.Logger) (*Selector, error) {
	if readFile == nil {
		return nil, errors.New("read file func is required")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Selector{readFile: readFile, logger: logger}, nil
}

// Select applies the precedence prompt file > USER_PROMPT > default. A file
// that is missing, unreadable, not UTF-8 or blank counts as absent.
func (s *Selector) Select(_ context.Context, cfg config.Config) (Selection, error) {
	selection := Selection{Source: SourceDefault}
	if text, ok := s.fromFile(cfg.PromptFile); ok {
		selection.Source = SourceFile
		selection.UserPrompt = text
	} else if strings.TrimSpace(cfg.UserPrompt) != "" {
		selection.Source = SourceEnv
		selection.UserPrompt = cfg.UserPrompt
		s.logger.Info("prompt read from env")
	}

	query, err := Render(cfg.Mode, selection.UserPrompt)
	if err != nil {
		return Selection{}, err
	}
	selection.Query = query

	if selection.Continuation() {
		s.logger.Info("user prompt", "prompt", selection.UserPrompt)
	} else {
		s.logger.Info("build mode: creating new dashboard", "mode", string(cfg.Mode))
	}
	return selection, nil
}

func (s *Selector) fromFile(path string) (string, bool) {
	if strings.TrimSpace(path) == "" {
		return "", false
	}
	data, err := s.readFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read prompt file", "path", path, "err", err)
		}
		return "", false
	}
	if !utf8.Valid(data) {
		s.logger.Warn("failed to read prompt file", "path", path, "err", "content is not valid UTF-8")
		return "", false
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", false
	}
	s.logger.Info("prompt read from file", "chars", utf8.RuneCountInString(text))
	return text, true
}

// Render builds the query for mode. An empty userPrompt selects the fresh
// build instruction; otherwise the prompt is embedded verbatim.
func Render(mode config.Mode, userPrompt string) (string, error) {
	if mode != config.ModePreview && mode != config.ModeApply {
		return "", fmt.Errorf("unsupported mode %q", mode)
	}
	kind := "build"
	if strings.TrimSpace(userPrompt) != "" {
		kind = "continue"
	}
	name := fmt.Sprintf("%s_%s.tmpl", mode, kind)

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, struct{ UserPrompt string }{userPrompt}); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
