package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "prreview"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prreview configuration.

Running bare 'prreview config' is the same as 'prreview config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# prreview configuration
# See: prreview config show (for effective values and sources)

# State/data directory (default: ~/.config/prreview)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/prreview/prreview.db)
# db_path: {{ .DBPath }}

# HTTP API
server:
  addr: "{{ .ServerAddr }}"
  # Background review workers and queue capacity
  workers: {{ .ServerWorkers }}
  queue_size: {{ .ServerQueueSize }}

# Bearer JWT auth for the HTTP API. Empty secret disables auth.
auth:
  jwt_secret: ""
  subject: "{{ .AuthSubject }}"

# GitHub
github:
  # Default token when a submission carries none (prefer PRREVIEW_GITHUB_TOKEN)
  token: ""
  # API base URL for GitHub Enterprise (default: https://api.github.com/)
  api_url: "{{ .GitHubAPIURL }}"
  timeout: {{ .GitHubTimeout }}
  fetch_attempts: {{ .GitHubFetchAttempts }}

# Review model backend: ollama or anthropic
llm:
  provider: "{{ .LLMProvider }}"
  model: "{{ .LLMModel }}"
  host: "{{ .LLMHost }}"
  timeout: {{ .LLMTimeout }}

# Anthropic API key (falls back to ANTHROPIC_API_KEY)
anthropic:
  api_key: ""

# Review pipeline
review:
  # Per-file reviews in flight within one task
  concurrency: {{ .ReviewConcurrency }}
  # Corrective retries after an invalid model reply
  retry_bound: {{ .ReviewRetryBound }}
  # Fail the whole task when one file's model review fails
  fail_fast: {{ .ReviewFailFast }}
  max_line_length: {{ .ReviewMaxLineLength }}
  redact_secrets: {{ .ReviewRedactSecrets }}
  max_content_bytes: {{ .ReviewMaxContentBytes }}
`

type configTemplateData struct {
	StateDir              string
	DBPath                string
	ServerAddr            string
	ServerWorkers         int
	ServerQueueSize       int
	AuthSubject           string
	GitHubAPIURL          string
	GitHubTimeout         string
	GitHubFetchAttempts   int
	LLMProvider           string
	LLMModel              string
	LLMHost               string
	LLMTimeout            string
	ReviewConcurrency     int
	ReviewRetryBound      int
	ReviewFailFast        bool
	ReviewMaxLineLength   int
	ReviewRedactSecrets   bool
	ReviewMaxContentBytes int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:              viper.GetString("state_dir"),
		DBPath:                viper.GetString("db_path"),
		ServerAddr:            viper.GetString("server.addr"),
		ServerWorkers:         viper.GetInt("server.workers"),
		ServerQueueSize:       viper.GetInt("server.queue_size"),
		AuthSubject:           viper.GetString("auth.subject"),
		GitHubAPIURL:          viper.GetString("github.api_url"),
		GitHubTimeout:         viper.GetDuration("github.timeout").String(),
		GitHubFetchAttempts:   viper.GetInt("github.fetch_attempts"),
		LLMProvider:           viper.GetString("llm.provider"),
		LLMModel:              viper.GetString("llm.model"),
		LLMHost:               viper.GetString("llm.host"),
		LLMTimeout:            viper.GetDuration("llm.timeout").String(),
		ReviewConcurrency:     viper.GetInt("review.concurrency"),
		ReviewRetryBound:      viper.GetInt("review.retry_bound"),
		ReviewFailFast:        viper.GetBool("review.fail_fast"),
		ReviewMaxLineLength:   viper.GetInt("review.max_line_length"),
		ReviewRedactSecrets:   viper.GetBool("review.redact_secrets"),
		ReviewMaxContentBytes: viper.GetInt("review.max_content_bytes"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "PRREVIEW_STATE_DIR"},
	{Key: "db_path", EnvVar: "PRREVIEW_DB_PATH"},
	{Key: "server.addr", EnvVar: "PRREVIEW_SERVER_ADDR"},
	{Key: "server.workers", EnvVar: "PRREVIEW_SERVER_WORKERS"},
	{Key: "server.queue_size", EnvVar: "PRREVIEW_SERVER_QUEUE_SIZE"},
	{Key: "auth.jwt_secret", EnvVar: "PRREVIEW_AUTH_JWT_SECRET", Secret: true},
	{Key: "auth.subject", EnvVar: "PRREVIEW_AUTH_SUBJECT"},
	{Key: "github.token", EnvVar: "PRREVIEW_GITHUB_TOKEN", Secret: true},
	{Key: "github.api_url", EnvVar: "PRREVIEW_GITHUB_API_URL"},
	{Key: "github.timeout", EnvVar: "PRREVIEW_GITHUB_TIMEOUT"},
	{Key: "github.fetch_attempts", EnvVar: "PRREVIEW_GITHUB_FETCH_ATTEMPTS"},
	{Key: "llm.provider", EnvVar: "PRREVIEW_LLM_PROVIDER"},
	{Key: "llm.model", EnvVar: "PRREVIEW_LLM_MODEL"},
	{Key: "llm.host", EnvVar: "PRREVIEW_LLM_HOST"},
	{Key: "llm.timeout", EnvVar: "PRREVIEW_LLM_TIMEOUT"},
	{Key: "anthropic.api_key", EnvVar: "PRREVIEW_ANTHROPIC_API_KEY", Secret: true},
	{Key: "review.concurrency", EnvVar: "PRREVIEW_REVIEW_CONCURRENCY"},
	{Key: "review.retry_bound", EnvVar: "PRREVIEW_REVIEW_RETRY_BOUND"},
	{Key: "review.fail_fast", EnvVar: "PRREVIEW_REVIEW_FAIL_FAST"},
	{Key: "review.max_line_length", EnvVar: "PRREVIEW_REVIEW_MAX_LINE_LENGTH"},
	{Key: "review.redact_secrets", EnvVar: "PRREVIEW_REVIEW_REDACT_SECRETS"},
	{Key: "review.max_content_bytes", EnvVar: "PRREVIEW_REVIEW_MAX_CONTENT_BYTES"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prreview config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
