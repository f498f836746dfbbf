package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/output"
	"github.com/joescharf/prreview/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "prreview",
	Short: "Automated GitHub pull request reviews",
	Long: `prreview reviews GitHub pull requests with static rules and a language model.

Reviews run as background tasks that move through pending, processing,
completed and failed. Submit them over HTTP (prreview serve), over MCP
(prreview mcp) or directly from the command line (prreview review).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prreview/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PRREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every configuration key with its default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "prreview.db"))

	viper.SetDefault("server.addr", ":8000")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("server.queue_size", 64)
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.subject", "")

	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", "")
	viper.SetDefault("github.timeout", "30s")
	viper.SetDefault("github.fetch_attempts", 3)

	viper.SetDefault("llm.provider", "ollama")
	viper.SetDefault("llm.model", "llama3.2:latest")
	viper.SetDefault("llm.host", "http://localhost:11434")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("anthropic.api_key", "")

	viper.SetDefault("review.concurrency", 2)
	viper.SetDefault("review.retry_bound", 2)
	viper.SetDefault("review.fail_fast", false)
	viper.SetDefault("review.max_line_length", 120)
	viper.SetDefault("review.redact_secrets", true)
	viper.SetDefault("review.max_content_bytes", 60000)
	viper.SetDefault("review.max_tokens", 4096)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
