// Package cmd implements the zeke command tree.
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ghostkellz/zeke/internal/analyzer"
	"github.com/ghostkellz/zeke/internal/config"
	"github.com/ghostkellz/zeke/internal/credentials"
	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/mcp"
	"github.com/ghostkellz/zeke/internal/router"
	"github.com/ghostkellz/zeke/internal/routingdb"
	"github.com/ghostkellz/zeke/internal/tools"
	"github.com/ghostkellz/zeke/internal/ui"
)

// Exit codes per the CLI contract.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitAuthFailure = 3
	exitNoProvider  = 4
	exitBudget      = 5
)

var (
	flagNoKeyring bool
	flagProvider  string
	flagModel     string
)

var rootCmd = &cobra.Command{
	Use:   "zeke",
	Short: "AI coding companion with smart multi-provider routing",
	Long: `Zeke brokers conversations and tool-mediated edits between editors,
terminals and LLM providers, picking the best provider per request.

Examples:
  zeke chat "add error handling to this function" --stream
  zeke explain main.go
  zeke serve --port 7777
  zeke auth claude`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagNoKeyring, "no-keyring", false, "Skip the OS keyring and store credentials in a file")
}

// Execute runs the CLI and maps errors to exit codes.
func Execute() {
	setupLogging()
	if err := rootCmd.Execute(); err != nil {
		ui.Errorf("%v", err)
		os.Exit(exitCode(err))
	}
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("ZEKE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// exitCode maps the error taxonomy onto the documented exit codes.
func exitCode(err error) int {
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case llm.ErrUnauthorised, llm.ErrReAuthRequired:
			return exitAuthFailure
		case llm.ErrNetwork, llm.ErrTimeout, llm.ErrServer:
			return exitNoProvider
		}
	}
	if errors.Is(err, router.ErrBudgetExceeded) {
		return exitBudget
	}
	if errors.Is(err, router.ErrNoProviders) {
		return exitNoProvider
	}
	var terr *tools.Error
	if errors.As(err, &terr) && terr.Type == tools.ErrInvalidParams {
		return exitUsage
	}
	return exitFailure
}

// app bundles the subsystems a command needs. Everything is
// constructed here and torn down in Close; nothing is global.
type app struct {
	cfg       *config.Config
	store     *credentials.Store
	db        *routingdb.DB
	catalog   *llm.Catalog
	providers map[string]llm.Provider
	router    *router.Router
	approvals *tools.Approvals
	registry  *tools.Registry
	analyzer  *analyzer.Analyzer
	mcp       mcp.Client
	stateDir  string
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	configDir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, err
	}
	store, err := credentials.Open(credentials.Options{
		ConfigDir: configDir,
		NoKeyring: flagNoKeyring || cfg.NoKeyring,
	})
	if err != nil {
		return nil, err
	}
	db, err := routingdb.Open(filepath.Join(stateDir, "zeke.db"))
	if err != nil {
		return nil, err
	}

	catalog := llm.NewCatalog()
	if records, err := db.LoadModels(); err == nil {
		for _, rec := range records {
			_ = catalog.Put(rec)
		}
	}

	providers := llm.BuildProviders(cfg, store)
	opts := router.Options{
		PreferLocalFor:    parseIntents(cfg.Router.PreferLocalFor),
		FallbackEnabled:   cfg.Router.FallbackEnabled,
		FirstTokenTimeout: cfg.Router.FirstTokenTimeout,
		CloudTimeout:      cfg.Router.CloudRequestTimeout,
		LocalTimeout:      cfg.Router.LocalRequestTimeout,
		OllamaTimeout:     cfg.Router.OllamaRequestTimeout,
		LocalProvider:     "ollama",
	}
	rt := router.New(providers, catalog, db, opts, cfg.Aliases)

	a := &app{
		cfg:       cfg,
		store:     store,
		db:        db,
		catalog:   catalog,
		providers: providers,
		router:    rt,
		approvals: tools.NewApprovals(),
		analyzer:  analyzer.New(nil),
		stateDir:  stateDir,
	}
	a.registry = tools.NewRegistry(a.approvals, terminalPrompter{})
	if err := a.registerTools(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) registerTools() error {
	edit := tools.NewFileEditTool(a.cfg.Tools.WorkspaceRoot, a.cfg.Tools.BackupDir)
	shell, err := tools.NewShellTool(a.cfg.Tools.ShellAllowlist, a.cfg.Tools.ExecTimeout)
	if err != nil {
		return err
	}
	registered := []tools.Tool{
		edit,
		tools.NewPreviewTool(edit),
		tools.NewBackupsTool(edit),
		shell,
		tools.NewAnalyzeTool(a.analyzer),
	}

	// MCP tools appear when a transport is configured. The client is
	// started lazily on first call via the tool's context.
	mcpCfg := mcp.Config{
		Command:         a.cfg.MCP.Command,
		Args:            a.cfg.MCP.Args,
		WebSocketURL:    a.cfg.MCP.WebSocketURL,
		DockerContainer: a.cfg.MCP.DockerContainer,
		DockerCommand:   a.cfg.MCP.DockerCommand,
	}
	if mcpCfg.Command != "" || mcpCfg.WebSocketURL != "" || mcpCfg.DockerContainer != "" {
		client, err := mcp.New(mcpCfg)
		if err != nil {
			return err
		}
		a.mcp = client
		registered = append(registered,
			tools.NewMCPTool(client),
			tools.NewMCPResourceTool(client),
		)
	}

	for _, t := range registered {
		if err := a.registry.Register(t); err != nil {
			return err
		}
	}
	// Auto-approved tools from config get standing project grants.
	for _, name := range a.cfg.Tools.AutoApprove {
		a.approvals.Record(name, tools.ScopeProject, "")
	}
	return nil
}

func (a *app) Close() {
	if a.mcp != nil {
		a.mcp.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func parseIntents(names []string) []llm.Intent {
	out := make([]llm.Intent, 0, len(names))
	for _, n := range names {
		out = append(out, llm.ParseIntent(n))
	}
	return out
}

// projectID keys prefs and stats by the working directory.
func projectID() string {
	wd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return routingdb.ProjectID(wd)
}

// terminalPrompter asks for tool confirmation on the controlling
// terminal.
type terminalPrompter struct{}

func (terminalPrompter) Confirm(action, detail string) (tools.Scope, error) {
	styles := ui.NewStyles(os.Stderr)
	fmt.Fprintf(os.Stderr, "%s %s\n", styles.Bold.Render("confirm:"), detail)
	fmt.Fprint(os.Stderr, "allow? [once/session/project/deny] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return tools.ScopeDeny, err
	}
	switch strings.TrimSpace(strings.ToLower(line)) {
	case "once", "o", "y", "yes":
		return tools.ScopeOnce, nil
	case "session", "s":
		return tools.ScopeSession, nil
	case "project", "p":
		return tools.ScopeProject, nil
	default:
		return tools.ScopeDeny, nil
	}
}
