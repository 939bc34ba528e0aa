package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"vkcrawler/pkg/checkpoint"
	"vkcrawler/pkg/config"
	"vkcrawler/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage vkcrawler configuration files.

Configuration is merged from, highest priority first:
  - Command line flags
  - Environment variables (VKCRAWLER_*, .env files included)
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with every available option.

The file is written to 'vkcrawler.yaml' in the current directory unless
another path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

Besides the value checks done on every run, this makes sure the database,
checkpoint and log directories can be created.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# vkcrawler configuration
#
# Every option can also be set with a VKCRAWLER_ environment variable,
# for example VKCRAWLER_GROUPS=club1,durov or VKCRAWLER_MAX_POSTS=200.

crawl:
  # Wall slugs to crawl
  groups: []

  # Posts per group and comments per post
  max_posts: 50
  max_comments_per_post: 25

  # SQLite database, created on first use
  db_path: ""

  # Workers for normal and fast mode
  workers: 4
  fast_workers: 12
  fast_mode: false

session:
  base_url: "https://m.vk.com"

  # Number of concurrent sessions
  pool_size: 15

  request_timeout: 15s
  fast_request_timeout: 10s
  acquire_timeout: 30s

  # A session is replaced after this many failures in a row
  max_consecutive_failures: 3
  # and the run aborts once this many replacements are used up
  max_session_replacements: 30

  # Stored accounts to use (see 'vkcrawler auth'); empty means all
  accounts: []

rate_limit:
  base_interval: 100ms
  fast_base_interval: 20ms
  max_interval: 5s
  jitter: 50ms
  fast_jitter: 0s
  backoff_multiplier: 2.0
  transient_multiplier: 1.5
  decay_factor: 0.9
  cooldown: 10s

retry:
  # Retries per task after the first attempt
  max_retries: 4
  base_delay: 1s
  rate_limit_base_delay: 5s
  max_delay: 60s
  multiplier: 2.0
  jitter_factor: 0.2

checkpoint:
  enabled: true
  directory: ""

logging:
  # debug, info, warn, error
  level: "info"
  # console or json
  format: "console"
  # Optional JSON log file
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "vkcrawler.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Add the groups to crawl")
	fmt.Println("2. Run 'vkcrawler config validate' to check the file")
	fmt.Println("3. Start with 'vkcrawler crawl'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	source := configFile
	if source == "" {
		source = config.FindConfigFile()
	}
	if source == "" {
		source = "(none found)"
	}
	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Printf("2. Environment variables (%s*)\n", config.EnvPrefix)
	fmt.Printf("3. Configuration file: %s\n", source)
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return errors.New("no configuration file found, specify one with --config")
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		return err
	}

	problems := directoryProblems(cfg)
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}
	if len(cfg.Crawl.Groups) == 0 {
		ui.PrintWarning("No groups configured, pass them to 'vkcrawler crawl'")
	}

	ui.PrintSuccess("Configuration is valid")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Database: %s\n", cfg.Crawl.DBPath)
	fmt.Printf("  Groups: %v\n", cfg.Crawl.Groups)
	fmt.Printf("  Workers: %d\n", cfg.WorkerCount())
	fmt.Printf("  Sessions: %d\n", cfg.Session.PoolSize)
	fmt.Printf("  Max retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// directoryProblems reports directories the run would need but cannot create
func directoryProblems(cfg *config.Config) []string {
	var problems []string
	if err := os.MkdirAll(filepath.Dir(cfg.Crawl.DBPath), 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create database directory: %v", err))
	}
	if cfg.Checkpoint.Enabled {
		dir := cfg.Checkpoint.Directory
		if dir == "" {
			dir = checkpoint.DefaultDirectory()
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create checkpoint directory: %v", err))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	return problems
}
