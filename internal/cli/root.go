// Package cli provides the command-line interface for the loan decisioning engine.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"loanai/internal/agents"
	"loanai/internal/config"
	apperrors "loanai/internal/errors"
	"loanai/internal/resilience"
	"loanai/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DecisionStore

	// LLMClient drives deliberation; AnalysisClient is the same model in
	// JSON mode for branch analyses. Both are nil when no key is configured.
	LLMClient      agents.LLMClient
	AnalysisClient agents.LLMClient

	Breakers *resilience.Registry
}

// NewApp wires the application dependencies from configuration. A store
// that fails to open only disables the commands that need it.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Breakers: resilience.NewRegistry(cfg.BreakerConfig()),
	}

	dataStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, decisions will not be persisted")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
	}

	if cfg.LLMAvailable() {
		client := agents.NewOpenAIClient(cfg.Credentials.OpenAI.APIKey, cfg.LLM.Model, cfg.LLM.Temperature)
		app.LLMClient = client
		app.AnalysisClient = client.JSON()
		logger.Debug().Str("model", client.Model()).Msg("OpenAI LLM client initialized")
	}

	return app
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// requireStore returns the store or an error explaining why it is missing.
func (a *App) requireStore() (store.DecisionStore, error) {
	if a.Store == nil {
		return nil, fmt.Errorf("%w: decision store is not available (check store.path in config.toml)", apperrors.ErrDatabaseError)
	}
	return a.Store, nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loanai",
		Short: "Loan application decisioning engine",
		Long: `loanai evaluates loan applications with three independent analysis
branches (bank, salary, verification), a bounded deliberation between them,
and a configurable lending policy.

Decisions and processing status are stored locally so they can be
retrieved later with 'loanai result' and 'loanai status'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/loanai)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addDecisionCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newPoliciesCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("loanai v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Dir})
			}
			output.Println(app.Config.Dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Decisioning")
	output.Printf("  Policy:          %s\n", cfg.Decisioning.Policy)
	output.Printf("  Branch Timeout:  %s\n", cfg.Decisioning.BranchTimeout)
	output.Printf("  Max Rounds:      %d\n", cfg.Decisioning.MaxRounds)
	output.Printf("  Early Exit:      %s\n", cfg.Decisioning.EarlyExit)
	output.Printf("  Red Flag Limit:  %d\n", cfg.Decisioning.RedFlagLimit)
	output.Println()

	output.Bold("Providers")
	output.Printf("  Retry Attempts:  %d (initial delay %s)\n", cfg.Providers.RetryAttempts, cfg.Providers.RetryInitialDelay)
	output.Printf("  Breaker:         %d failures, %s cooldown\n", cfg.Providers.BreakerThreshold, cfg.Providers.BreakerCooldown)
	output.Println()

	output.Bold("LLM")
	output.Printf("  Enabled:         %v\n", cfg.LLM.Enabled)
	output.Printf("  Model:           %s\n", cfg.LLM.Model)
	output.Printf("  Temperature:     %.2f\n", cfg.LLM.Temperature)
	output.Printf("  API Key:         %v\n", cfg.Credentials.OpenAI.APIKey != "")
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:        %s\n", cfg.Store.Path)
	output.Printf("  Log File:        %s\n", cfg.Logging.FilePath)
}
