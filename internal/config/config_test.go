package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	work := t.TempDir()
	cfg, warnings, err := Resolve(envMap{"LILO_WORKDIR": work}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}

	if cfg.Mode != ModePreview {
		t.Fatalf("mode = %q, want %q", cfg.Mode, ModePreview)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("model = %q, want %q", cfg.Model, DefaultModel)
	}
	if cfg.PermissionMode != PermissionBypass {
		t.Fatalf("permission mode = %q, want %q", cfg.PermissionMode, PermissionBypass)
	}
	if cfg.PromptFile != filepath.Join(work, ".user_prompt") {
		t.Fatalf("prompt file = %q", cfg.PromptFile)
	}
	if cfg.SessionFile != filepath.Join(work, ".claude_session_id") {
		t.Fatalf("session file = %q", cfg.SessionFile)
	}
	if cfg.AppsAPIBaseURL != DefaultAppsAPIBaseURL {
		t.Fatalf("apps api = %q", cfg.AppsAPIBaseURL)
	}
	if cfg.AgentAPIBaseURL != "" {
		t.Fatalf("agent api = %q, want empty", cfg.AgentAPIBaseURL)
	}
	if cfg.ClaudeBinary != DefaultClaudeBinary {
		t.Fatalf("claude binary = %q", cfg.ClaudeBinary)
	}
	if !strings.HasPrefix(cfg.SystemPromptAppend, "MANDATORY RULES") {
		t.Fatalf("system prompt append = %q", cfg.SystemPromptAppend)
	}
	if cfg.ConfigPath != "" {
		t.Fatalf("config path = %q, want empty when no file exists", cfg.ConfigPath)
	}
	if got := cfg.SettingSources(); !reflect.DeepEqual(got, []string{"project"}) {
		t.Fatalf("setting sources = %v", got)
	}
}

func TestResolveDefaultWorkDirWithoutEnvironment(t *testing.T) {
	cfg, _, err := Resolve(envMap{}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.WorkDir != DefaultWorkDir {
		t.Fatalf("workdir = %q, want %q", cfg.WorkDir, DefaultWorkDir)
	}
}

func TestAllowedToolsIncludeDeployStubOnlyInPreview(t *testing.T) {
	work := t.TempDir()

	preview, _, err := Resolve(envMap{"LILO_WORKDIR": work}.lookup)
	if err != nil {
		t.Fatalf("resolve preview: %v", err)
	}
	want := []string{"Bash", "Write", "Read", "Edit", "Glob", "Grep", "Task", "mcp__deploy_tools__deploy_to_github"}
	if got := preview.AllowedTools(); !reflect.DeepEqual(got, want) {
		t.Fatalf("preview tools = %v, want %v", got, want)
	}

	apply, _, err := Resolve(envMap{"LILO_WORKDIR": work, "LILO_MODE": "apply"}.lookup)
	if err != nil {
		t.Fatalf("resolve apply: %v", err)
	}
	if got := apply.AllowedTools(); !reflect.DeepEqual(got, want[:7]) {
		t.Fatalf("apply tools = %v, want %v", got, want[:7])
	}
}

func TestAllowedToolsReturnsCopy(t *testing.T) {
	cfg, _, err := Resolve(envMap{"LILO_WORKDIR": t.TempDir()}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	tools := cfg.AllowedTools()
	tools[0] = "Mutated"
	if cfg.AllowedTools()[0] != "Bash" {
		t.Fatal("allowed tools mutated through returned slice")
	}
}

func TestResolvePrecedenceEnvOverFileOverDefault(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, ".lilo", "config.toml"), `
mode = "apply"
model = "file-model"
permission_mode = "default"
allowed_tools = ["Read", "Write"]
claude_binary = "/opt/claude"

[api]
agent_base_url = "https://file.example/agent"
apps_base_url = "https://file.example/rest"

[log]
level = "debug"
dir = "/var/log/lilo"

[otel]
endpoint = "http://collector:4318"
`)

	cfg, _, err := Resolve(envMap{
		"LILO_WORKDIR":       work,
		"LILO_MODEL":         "env-model",
		"LIVINGAPPS_API_URL": "https://env.example/rest",
	}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.ConfigPath != filepath.Join(work, ".lilo", "config.toml") {
		t.Fatalf("config path = %q", cfg.ConfigPath)
	}
	if cfg.Mode != ModeApply {
		t.Fatalf("mode = %q, want apply from file", cfg.Mode)
	}
	if cfg.Model != "env-model" {
		t.Fatalf("model = %q, want env override", cfg.Model)
	}
	if cfg.PermissionMode != PermissionStrict {
		t.Fatalf("permission mode = %q, want strict from file", cfg.PermissionMode)
	}
	if got := cfg.AllowedTools(); !reflect.DeepEqual(got, []string{"Read", "Write"}) {
		t.Fatalf("allowed tools = %v", got)
	}
	if cfg.ClaudeBinary != "/opt/claude" {
		t.Fatalf("claude binary = %q", cfg.ClaudeBinary)
	}
	if cfg.AgentAPIBaseURL != "https://file.example/agent" {
		t.Fatalf("agent api = %q", cfg.AgentAPIBaseURL)
	}
	if cfg.AppsAPIBaseURL != "https://env.example/rest" {
		t.Fatalf("apps api = %q, want env override", cfg.AppsAPIBaseURL)
	}
	if cfg.LogLevel != "debug" || cfg.LogDir != "/var/log/lilo" {
		t.Fatalf("log = %q %q", cfg.LogLevel, cfg.LogDir)
	}
	if cfg.OTLPEndpoint != "http://collector:4318" {
		t.Fatalf("otlp endpoint = %q", cfg.OTLPEndpoint)
	}
}

func TestResolveModeOverrideBeatsEnvironment(t *testing.T) {
	cfg, _, err := Resolve(envMap{"LILO_WORKDIR": t.TempDir(), "LILO_MODE": "apply"}.lookup, WithMode("preview"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != ModePreview {
		t.Fatalf("mode = %q, want preview", cfg.Mode)
	}
}

func TestResolveRejectsInvalidModeOverride(t *testing.T) {
	_, _, err := Resolve(envMap{"LILO_WORKDIR": t.TempDir()}.lookup, WithMode("ship-it"))
	if err == nil {
		t.Fatal("expected invalid mode error")
	}
	if !strings.Contains(err.Error(), "unsupported mode") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveInvalidEnvironmentEnumIsWarningNotError(t *testing.T) {
	cfg, warnings, err := Resolve(envMap{
		"LILO_WORKDIR":         t.TempDir(),
		"LILO_MODE":            "nonsense",
		"LILO_PERMISSION_MODE": "yolo",
	}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != ModePreview || cfg.PermissionMode != PermissionBypass {
		t.Fatalf("mode/permission = %q/%q, want defaults", cfg.Mode, cfg.PermissionMode)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want two", warnings)
	}
}

func TestResolveBlankEnvironmentCountsAsAbsent(t *testing.T) {
	cfg, _, err := Resolve(envMap{
		"LILO_WORKDIR":      t.TempDir(),
		"LILO_MODEL":        "   ",
		"RESUME_SESSION_ID": "",
		"USER_PROMPT":       " \n ",
	}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("model = %q, want default", cfg.Model)
	}
	if cfg.ResumeSessionID != "" || cfg.UserPrompt != "" {
		t.Fatalf("resume/user prompt = %q/%q, want empty", cfg.ResumeSessionID, cfg.UserPrompt)
	}
}

func TestResolveKeepsUserPromptVerbatim(t *testing.T) {
	prompt := `  Mach "alles" blau & füge <b>Ümläute</b> hinzu $HOME  `
	cfg, _, err := Resolve(envMap{"LILO_WORKDIR": t.TempDir(), "USER_PROMPT": prompt}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.UserPrompt != prompt {
		t.Fatalf("user prompt = %q, want verbatim %q", cfg.UserPrompt, prompt)
	}
}

func TestResolveExplicitConfigPathMustExist(t *testing.T) {
	_, _, err := Resolve(envMap{}.lookup, WithConfigPath(filepath.Join(t.TempDir(), "missing.toml")))
	if err == nil {
		t.Fatal("expected missing explicit config error")
	}
}

func TestResolveInvalidConfigFile(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, ".lilo", "config.toml"), "mode = [")
	_, _, err := Resolve(envMap{"LILO_WORKDIR": work}.lookup)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !strings.Contains(err.Error(), "decode config file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRuntimeEnvCarriesConfiguredEndpoints(t *testing.T) {
	cfg, _, err := Resolve(envMap{
		"LILO_WORKDIR":       t.TempDir(),
		"ANTHROPIC_BASE_URL": "https://proxy.example",
	}.lookup)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{
		"ANTHROPIC_BASE_URL=https://proxy.example",
		"LIVINGAPPS_API_URL=" + DefaultAppsAPIBaseURL,
		"LIVINGAPPS_AI_URL=" + DefaultAIEndpointURL,
	}
	if got := cfg.RuntimeEnv(); !reflect.DeepEqual(got, want) {
		t.Fatalf("runtime env = %v, want %v", got, want)
	}
}

func TestModeHelpers(t *testing.T) {
	if ModePreview.DeployEnabled() {
		t.Fatal("preview must not deploy")
	}
	if !ModeApply.DeployEnabled() {
		t.Fatal("apply deploys downstream")
	}
	if ModePreview.LogPrefix() != "LILO-PREVIEW" || ModeApply.LogPrefix() != "LILO-APPLY" {
		t.Fatalf("prefixes = %q/%q", ModePreview.LogPrefix(), ModeApply.LogPrefix())
	}
	if mode, err := ParseMode("Continue"); err != nil || mode != ModeApply {
		t.Fatalf("parse continue = %q, %v", mode, err)
	}
}

func TestSettingsDocumentEveryEnvironmentVariable(t *testing.T) {
	seen := map[string]bool{}
	for _, setting := range Settings() {
		if setting.Env == "" {
			t.Fatalf("setting %q missing env name", setting.Key)
		}
		if seen[setting.Env] {
			t.Fatalf("duplicate env %q", setting.Env)
		}
		seen[setting.Env] = true
	}
}

type envMap map[string]string

func (e envMap) lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
