package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/lilo-dev/lilo/internal/deploytool"
)

const (
	// DefaultWorkDir is the scaffolded dashboard project the agent edits.
	DefaultWorkDir = "/home/user/app"
	// DefaultModel is the agent model used when nothing overrides it.
	DefaultModel = "claude-sonnet-4-6"
	// DefaultAppsAPIBaseURL is the Living Apps REST endpoint used by the dashboard.
	DefaultAppsAPIBaseURL = "https://my.living-apps.de/rest"
	// DefaultAIEndpointURL is the chat completion endpoint used by dashboard AI features.
	DefaultAIEndpointURL = "https://my.living-apps.de/litellm/v1/chat/completions"
	// DefaultClaudeBinary is the agent runtime executable.
	DefaultClaudeBinary = "claude"
	// DefaultLogLevel is the operator log level.
	DefaultLogLevel = "info"

	promptFileName  = ".user_prompt"
	sessionFileName = ".claude_session_id"
	configDirName   = ".lilo"
	configFileName  = "config.toml"
)

//go:embed system_prompt.txt
var defaultSystemPromptAppend string

var defaultAllowedTools = []string{"Bash", "Write", "Read", "Edit", "Glob", "Grep", "Task"}

// Mode selects whether deployment is disabled (preview) or left to the pipeline (apply).
type Mode string

const (
	// ModePreview disables deployment; the user validates in the live preview first.
	ModePreview Mode = "preview"
	// ModeApply continues an existing dashboard; deployment happens downstream.
	ModeApply Mode = "apply"
)

// ParseMode validates a mode name.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModePreview:
		return ModePreview, nil
	case ModeApply, "continue":
		return ModeApply, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (want preview or apply)", value)
	}
}

// DeployEnabled reports whether the run may deploy on its own.
func (m Mode) DeployEnabled() bool {
	return m != ModePreview
}

// LogPrefix is the operator log prefix for the mode.
func (m Mode) LogPrefix() string {
	if m == ModePreview {
		return "LILO-PREVIEW"
	}
	return "LILO-APPLY"
}

// PermissionMode is the runtime permission policy.
type PermissionMode string

const (
	// PermissionStrict asks before every privileged tool use.
	PermissionStrict PermissionMode = "default"
	// PermissionBypass skips all permission checks so edits land immediately.
	PermissionBypass PermissionMode = "bypassPermissions"
)

// ParsePermissionMode validates a permission mode name.
func ParsePermissionMode(value string) (PermissionMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "default", "strict":
		return PermissionStrict, nil
	case "bypasspermissions", "bypass":
		return PermissionBypass, nil
	default:
		return "", fmt.Errorf("unsupported permission mode %q (want default or bypassPermissions)", value)
	}
}

// Setting documents one resolvable configuration value.
type Setting struct {
	Key         string
	Env         string
	Description string
}

// Resolvable settings. Precedence for each one is:
// command-line override > environment > config file > built-in default.
var (
	SettingConfigPath     = Setting{Key: "", Env: "LILO_CONFIG", Description: "config file path (default <workdir>/.lilo/config.toml)"}
	SettingMode           = Setting{Key: "mode", Env: "LILO_MODE", Description: "preview or apply"}
	SettingWorkDir        = Setting{Key: "workdir", Env: "LILO_WORKDIR", Description: "project directory the agent edits"}
	SettingModel          = Setting{Key: "model", Env: "LILO_MODEL", Description: "agent model identifier"}
	SettingPermissionMode = Setting{Key: "permission_mode", Env: "LILO_PERMISSION_MODE", Description: "default or bypassPermissions"}
	SettingAllowedTools   = Setting{Key: "allowed_tools", Env: "LILO_ALLOWED_TOOLS", Description: "comma-separated tool allow-list"}
	SettingSystemPrompt   = Setting{Key: "system_prompt_append", Env: "LILO_SYSTEM_PROMPT_APPEND", Description: "text appended to the runtime system prompt"}
	SettingSources        = Setting{Key: "setting_sources", Env: "LILO_SETTING_SOURCES", Description: "runtime setting sources to load"}
	SettingPromptFile     = Setting{Key: "prompt_file", Env: "LILO_PROMPT_FILE", Description: "user prompt file (default <workdir>/.user_prompt)"}
	SettingSessionFile    = Setting{Key: "session_file", Env: "LILO_SESSION_FILE", Description: "session id file (default <workdir>/.claude_session_id)"}
	SettingResumeSession  = Setting{Key: "", Env: "RESUME_SESSION_ID", Description: "session id to resume"}
	SettingUserPrompt     = Setting{Key: "", Env: "USER_PROMPT", Description: "fallback user prompt"}
	SettingAgentAPIURL    = Setting{Key: "api.agent_base_url", Env: "ANTHROPIC_BASE_URL", Description: "agent model API base URL"}
	SettingAppsAPIURL     = Setting{Key: "api.apps_base_url", Env: "LIVINGAPPS_API_URL", Description: "Living Apps REST base URL"}
	SettingAIEndpointURL  = Setting{Key: "api.ai_endpoint", Env: "LIVINGAPPS_AI_URL", Description: "dashboard AI endpoint"}
	SettingClaudeBinary   = Setting{Key: "claude_binary", Env: "LILO_CLAUDE_BIN", Description: "agent runtime executable"}
	SettingLogLevel       = Setting{Key: "log.level", Env: "LILO_LOG_LEVEL", Description: "operator log level"}
	SettingLogDir         = Setting{Key: "log.dir", Env: "LILO_LOG_DIR", Description: "directory for JSON log files"}
	SettingOTLPEndpoint   = Setting{Key: "otel.endpoint", Env: "OTEL_EXPORTER_OTLP_ENDPOINT", Description: "OTLP HTTP endpoint; tracing is off when empty"}
)

// Settings lists every resolvable setting in documentation order.
func Settings() []Setting {
	return []Setting{
		SettingConfigPath, SettingMode, SettingWorkDir, SettingModel, SettingPermissionMode,
		SettingAllowedTools, SettingSystemPrompt, SettingSources, SettingPromptFile,
		SettingSessionFile, SettingResumeSession, SettingUserPrompt, SettingAgentAPIURL,
		SettingAppsAPIURL, SettingAIEndpointURL, SettingClaudeBinary, SettingLogLevel,
		SettingLogDir, SettingOTLPEndpoint,
	}
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// Config is the resolved, read-only run configuration.
type Config struct {
	Mode               Mode
	WorkDir            string
	Model              string
	PermissionMode     PermissionMode
	SystemPromptAppend string
	PromptFile         string
	SessionFile        string
	ResumeSessionID    string
	UserPrompt         string
	AgentAPIBaseURL    string
	AppsAPIBaseURL     string
	AIEndpointURL      string
	ClaudeBinary       string
	LogLevel           string
	LogDir             string
	OTLPEndpoint       string
	ConfigPath         string

	allowedTools   []string
	settingSources []string
}

// AllowedTools returns the tool allow-list. Preview mode includes the deploy stub.
func (c Config) AllowedTools() []string {
	tools := append([]string(nil), c.allowedTools...)
	if c.Mode == ModePreview && !contains(tools, deploytool.QualifiedToolName()) {
		tools = append(tools, deploytool.QualifiedToolName())
	}
	return tools
}

// SettingSources returns the runtime setting sources to load.
func (c Config) SettingSources() []string {
	return append([]string(nil), c.settingSources...)
}

// RuntimeEnv returns the API endpoint variables handed to the agent runtime process.
func (c Config) RuntimeEnv() []string {
	env := make([]string, 0, 3)
	if c.AgentAPIBaseURL != "" {
		env = append(env, SettingAgentAPIURL.Env+"="+c.AgentAPIBaseURL)
	}
	if c.AppsAPIBaseURL != "" {
		env = append(env, SettingAppsAPIURL.Env+"="+c.AppsAPIBaseURL)
	}
	if c.AIEndpointURL != "" {
		env = append(env, SettingAIEndpointURL.Env+"="+c.AIEndpointURL)
	}
	return env
}

// Option overrides resolution with command-line values.
type Option func(*resolveOptions)

type resolveOptions struct {
	configPath string
	mode       string
}

// WithConfigPath reads the config file at path. A missing file is an error.
func WithConfigPath(path string) Option {
	return func(opts *resolveOptions) {
		opts.configPath = strings.TrimSpace(path)
	}
}

// WithMode forces the run mode.
func WithMode(mode string) Option {
	return func(opts *resolveOptions) {
		opts.mode = strings.TrimSpace(mode)
	}
}

type fileConfig struct {
	Mode               *string    `toml:"mode"`
	WorkDir            *string    `toml:"workdir"`
	Model              *string    `toml:"model"`
	PermissionMode     *string    `toml:"permission_mode"`
	AllowedTools       []string   `toml:"allowed_tools"`
	SystemPromptAppend *string    `toml:"system_prompt_append"`
	SettingSources     []string   `toml:"setting_sources"`
	PromptFile         *string    `toml:"prompt_file"`
	SessionFile        *string    `toml:"session_file"`
	ClaudeBinary       *string    `toml:"claude_binary"`
	API                apiConfig  `toml:"api"`
	Log                logConfig  `toml:"log"`
	OTEL               otelConfig `toml:"otel"`
}

type apiConfig struct {
	AgentBaseURL *string `toml:"agent_base_url"`
	AppsBaseURL  *string `toml:"apps_base_url"`
	AIEndpoint   *string `toml:"ai_endpoint"`
}

type logConfig struct {
	Level *string `toml:"level"`
	Dir   *string `toml:"dir"`
}

type otelConfig struct {
	Endpoint *string `toml:"endpoint"`
}

// Resolve builds the run configuration from defaults, the optional config
// file, and the environment. Environment values never fail resolution: blank
// values count as absent and invalid enum values are skipped with a warning.
// Errors come only from an unreadable or invalid config file or an invalid
// command-line override.
func Resolve(lookup LookupFunc, options ...Option) (Config, []string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	resolved := resolveOptions{}
	for _, option := range options {
		if option != nil {
			option(&resolved)
		}
	}

	env := func(setting Setting) string {
		value, ok := lookup(setting.Env)
		if !ok {
			return ""
		}
		return strings.TrimSpace(value)
	}

	warnings := []string{}

	configPath := resolved.configPath
	explicitPath := configPath != ""
	if configPath == "" {
		configPath = env(SettingConfigPath)
		explicitPath = configPath != ""
	}
	if configPath == "" {
		configPath = filepath.Join(firstNonEmpty(env(SettingWorkDir), DefaultWorkDir), configDirName, configFileName)
	}
	file, loaded, err := loadFile(configPath, explicitPath)
	if err != nil {
		return Config{}, nil, err
	}

	mode, err := resolveMode(resolved.mode, env(SettingMode), file.Mode, &warnings)
	if err != nil {
		return Config{}, nil, err
	}
	permissionMode, err := resolvePermissionMode(env(SettingPermissionMode), file.PermissionMode, &warnings)
	if err != nil {
		return Config{}, nil, fmt.Errorf("parse permission_mode in %q: %w", configPath, err)
	}

	workDir := firstNonEmpty(env(SettingWorkDir), deref(file.WorkDir), DefaultWorkDir)

	cfg := Config{
		Mode:               mode,
		WorkDir:            workDir,
		Model:              firstNonEmpty(env(SettingModel), deref(file.Model), DefaultModel),
		PermissionMode:     permissionMode,
		SystemPromptAppend: firstNonEmpty(env(SettingSystemPrompt), deref(file.SystemPromptAppend), strings.TrimSpace(defaultSystemPromptAppend)),
		PromptFile:         firstNonEmpty(env(SettingPromptFile), deref(file.PromptFile), filepath.Join(workDir, promptFileName)),
		SessionFile:        firstNonEmpty(env(SettingSessionFile), deref(file.SessionFile), filepath.Join(workDir, sessionFileName)),
		ResumeSessionID:    env(SettingResumeSession),
		UserPrompt:         rawEnv(lookup, SettingUserPrompt),
		AgentAPIBaseURL:    firstNonEmpty(env(SettingAgentAPIURL), deref(file.API.AgentBaseURL)),
		AppsAPIBaseURL:     firstNonEmpty(env(SettingAppsAPIURL), deref(file.API.AppsBaseURL), DefaultAppsAPIBaseURL),
		AIEndpointURL:      firstNonEmpty(env(SettingAIEndpointURL), deref(file.API.AIEndpoint), DefaultAIEndpointURL),
		ClaudeBinary:       firstNonEmpty(env(SettingClaudeBinary), deref(file.ClaudeBinary), DefaultClaudeBinary),
		LogLevel:           strings.ToLower(firstNonEmpty(env(SettingLogLevel), deref(file.Log.Level), DefaultLogLevel)),
		LogDir:             firstNonEmpty(env(SettingLogDir), deref(file.Log.Dir)),
		OTLPEndpoint:       firstNonEmpty(env(SettingOTLPEndpoint), deref(file.OTEL.Endpoint)),
		allowedTools:       firstNonEmptyList(splitList(env(SettingAllowedTools)), file.AllowedTools, defaultAllowedTools),
		settingSources:     firstNonEmptyList(splitList(env(SettingSources)), file.SettingSources, []string{"project"}),
	}
	if loaded {
		cfg.ConfigPath = configPath
	}
	return cfg, warnings, nil
}

func loadFile(path string, explicit bool) (fileConfig, bool, error) {
	var decoded fileConfig
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return decoded, false, nil
		}
		return decoded, false, fmt.Errorf("stat config file %q: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return decoded, false, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return decoded, true, nil
}

func resolveMode(override string, envValue string, fileValue *string, warnings *[]string) (Mode, error) {
	if override != "" {
		return ParseMode(override)
	}
	if envValue != "" {
		mode, err := ParseMode(envValue)
		if err == nil {
			return mode, nil
		}
		*warnings = append(*warnings, fmt.Sprintf("ignoring %s: %v", SettingMode.Env, err))
	}
	if value := deref(fileValue); value != "" {
		mode, err := ParseMode(value)
		if err != nil {
			return "", fmt.Errorf("parse mode in config file: %w", err)
		}
		return mode, nil
	}
	return ModePreview, nil
}

func resolvePermissionMode(envValue string, fileValue *string, warnings *[]string) (PermissionMode, error) {
	if envValue != "" {
		mode, err := ParsePermissionMode(envValue)
		if err == nil {
			return mode, nil
		}
		*warnings = append(*warnings, fmt.Sprintf("ignoring %s: %v", SettingPermissionMode.Env, err))
	}
	if value := deref(fileValue); value != "" {
		return ParsePermissionMode(value)
	}
	return PermissionBypass, nil
}

// rawEnv returns the variable unmodified when it carries any non-blank content.
func rawEnv(lookup LookupFunc, setting Setting) string {
	value, ok := lookup(setting.Env)
	if !ok || strings.TrimSpace(value) == "" {
		return ""
	}
	return value
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, list := range lists {
		cleaned := make([]string, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				cleaned = append(cleaned, item)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
