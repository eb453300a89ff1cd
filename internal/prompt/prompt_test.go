package prompt

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lilo-dev/lilo/internal/config"
)

const promptPath = "/home/user/app/.user_prompt"

func TestSelectPrefersFileOverEnv(t *testing.T) {
	selector, logs := newTestSelector(t, files{promptPath: "  Ändere die Sidebar-Farbe zu Blau\n"})

	selection, err := selector.Select(context.Background(), testConfig(config.ModePreview, "env prompt"))
	require.NoError(t, err)

	assert.Equal(t, SourceFile, selection.Source)
	assert.Equal(t, "Ändere die Sidebar-Farbe zu Blau", selection.UserPrompt)
	assert.Contains(t, selection.Query, `User-Anfrage: "Ändere die Sidebar-Farbe zu Blau"`)
	assert.True(t, strings.HasPrefix(selection.Query, "🔴 LIVE PREVIEW MODE"))
	assert.Contains(t, logs.String(), "prompt read from file")
	assert.Contains(t, logs.String(), "chars=32")
	assert.NotContains(t, logs.String(), "prompt read from env")
}

func TestSelectBlankFileFallsBackToEnv(t *testing.T) {
	selector, logs := newTestSelector(t, files{promptPath: " \n\t"})

	selection, err := selector.Select(context.Background(), testConfig(config.ModePreview, "Mach den Header grün"))
	require.NoError(t, err)

	assert.Equal(t, SourceEnv, selection.Source)
	assert.Equal(t, "Mach den Header grün", selection.UserPrompt)
	assert.Contains(t, logs.String(), "prompt read from env")
	assert.NotContains(t, logs.String(), "prompt read from file")
}

func TestSelectMissingFileIsSilent(t *testing.T) {
	selector, logs := newTestSelector(t, files{})

	selection, err := selector.Select(context.Background(), testConfig(config.ModePreview, "x"))
	require.NoError(t, err)

	assert.Equal(t, SourceEnv, selection.Source)
	assert.NotContains(t, logs.String(), "failed to read prompt file")
}

func TestSelectUnreadableFileIsLoggedAndSkipped(t *testing.T) {
	var logs bytes.Buffer
	selector, err := NewWithReader(func(string) ([]byte, error) {
		return nil, errors.New("permission denied")
	}, log.New(&logs))
	require.NoError(t, err)

	selection, err := selector.Select(context.Background(), testConfig(config.ModePreview, "from env"))
	require.NoError(t, err)

	assert.Equal(t, SourceEnv, selection.Source)
	assert.Contains(t, logs.String(), "failed to read prompt file")
	assert.Contains(t, logs.String(), "permission denied")
}

func TestSelectInvalidUTF8FileCountsAsAbsent(t *testing.T) {
	selector, logs := newTestSelector(t, files{promptPath: string([]byte{0xff, 0xfe, 'a'})})

	selection, err := selector.Select(context.Background(), testConfig(config.ModePreview, ""))
	require.NoError(t, err)

	assert.Equal(t, SourceDefault, selection.Source)
	assert.Contains(t, logs.String(), "not valid UTF-8")
}

func TestSelectDefaultBuildQuery(t *testing.T) {
	selector, logs := newTestSelector(t, files{})

	selection, err := selector.Select(context.Background(), testConfig(config.ModePreview, ""))
	require.NoError(t, err)

	assert.Equal(t, SourceDefault, selection.Source)
	assert.Empty(t, selection.UserPrompt)
	assert.False(t, selection.Continuation())
	assert.True(t, strings.HasPrefix(selection.Query, "🔍 PREVIEW MODE - Neues Dashboard ohne Auto-Deploy"))
	assert.Contains(t, selection.Query, ".scaffold_context")
	assert.Contains(t, selection.Query, "Rufe NICHT deploy_to_github auf!")
	assert.Contains(t, logs.String(), "build mode: creating new dashboard")
}

func TestSelectEnvPromptEmbeddedVerbatim(t *testing.T) {
	raw := `Zeig "Umsatz" & <Kosten> mit {{.Secret}} an`
	selector, _ := newTestSelector(t, files{})

	selection, err := selector.Select(context.Background(), testConfig(config.ModeApply, raw))
	require.NoError(t, err)

	assert.Equal(t, raw, selection.UserPrompt)
	assert.Contains(t, selection.Query, `User-Anfrage: "`+raw+`"`)
	assert.NotContains(t, selection.Query, "deploy_to_github")
}

func TestRenderVariants(t *testing.T) {
	tests := []struct {
		mode   config.Mode
		prompt string
		prefix string
	}{
		{mode: config.ModePreview, prompt: "p", prefix: "🔴 LIVE PREVIEW MODE"},
		{mode: config.ModePreview, prompt: "", prefix: "🔍 PREVIEW MODE"},
		{mode: config.ModeApply, prompt: "p", prefix: "✏️ ÄNDERUNGS-MODUS"},
		{mode: config.ModeApply, prompt: "", prefix: "🚀 BUILD MODE"},
	}
	for _, tc := range tests {
		query, err := Render(tc.mode, tc.prompt)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(query, tc.prefix), "mode=%s prompt=%q query=%q", tc.mode, tc.prompt, query)
		assert.False(t, strings.HasSuffix(query, "\n"))
	}
}

func TestRenderRejectsUnknownMode(t *testing.T) {
	_, err := Render(config.Mode("ship"), "x")
	require.Error(t, err)
}

func TestNewWithReaderRequiresReader(t *testing.T) {
	_, err := NewWithReader(nil, nil)
	require.Error(t, err)
}

type files map[string]string

func (f files) read(path string) ([]byte, error) {
	content, ok := f[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(content), nil
}

func newTestSelector(t *testing.T, f files) (*Selector, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	selector, err := NewWithReader(f.read, log.New(&logs))
	require.NoError(t, err)
	return selector, &logs
}

func testConfig(mode config.Mode, userPrompt string) config.Config {
	return config.Config{
		Mode:       mode,
		WorkDir:    "/home/user/app",
		PromptFile: promptPath,
		UserPrompt: userPrompt,
	}
}
