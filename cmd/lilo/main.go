package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/lilo-dev/lilo/internal/config"
	"github.com/lilo-dev/lilo/internal/deploytool"
	"github.com/lilo-dev/lilo/internal/harness"
	"github.com/lilo-dev/lilo/internal/harness/claude"
	"github.com/lilo-dev/lilo/internal/prompt"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(defaultDependencies()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dependencies are the process-level collaborators, swapped out in tests.
type dependencies struct {
	lookup     config.LookupFunc
	readFile   prompt.ReadFileFunc
	executable func() (string, error)
	newRuntime func(binary string, logger *log.Logger) (harness.Runtime, error)
	serveMCP   func(ctx context.Context) error
	now        func() time.Time
	stdout     io.Writer
}

func defaultDependencies() dependencies {
	return dependencies{
		lookup:     os.LookupEnv,
		readFile:   os.ReadFile,
		executable: os.Executable,
		newRuntime: func(binary string, logger *log.Logger) (harness.Runtime, error) {
			path, err := harness.LookupBinary(binary)
			if err != nil {
				return nil, err
			}
			return claude.New(path, logger), nil
		},
		serveMCP: func(ctx context.Context) error {
			return deploytool.Serve(ctx, &mcp.StdioTransport{}, Version)
		},
		now:    time.Now,
		stdout: os.Stdout,
	}
}

func newRootCommand(deps dependencies) *cobra.Command {
	root := &cobra.Command{
		Use:           "lilo",
		Short:         "Drive the coding agent that builds and edits Living Apps dashboards",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newRunCommand(deps),
		newMCPCommand(deps),
	)
	return root
}

func newMCPCommand(deps dependencies) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:    "mcp",
		Short:  "Local MCP servers used by agent runs",
		Hidden: true,
	}
	mcpCmd.AddCommand(&cobra.Command{
		Use:   "deploy",
		Short: "Serve the preview-mode deploy tool over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return deps.serveMCP(cmd.Context())
		},
	})
	return mcpCmd
}

func newRunCommand(deps dependencies) *cobra.Command {
	var (
		mode       string
		configPath string
		resumeLast bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one agent session and stream its events as NDJSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			options := make([]config.Option, 0, 2)
			if cmd.Flags().Changed("mode") {
				options = append(options, config.WithMode(mode))
			}
			if configPath != "" {
				options = append(options, config.WithConfigPath(configPath))
			}
			return runAgent(cmd.Context(), deps, runFlags{resumeLast: resumeLast}, options...)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(config.ModePreview), "run mode: preview (deploy disabled) or apply")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().BoolVar(&resumeLast, "resume-last", false, "resume the session stored in the session file when RESUME_SESSION_ID is unset")
	return cmd
}
