package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mediafetch/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage mediafetch configuration.

Configuration is resolved in order: defaults, then the YAML file, then
MEDIAFETCH_* environment variables. A .env file in the working directory
is loaded first when present.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created as 'mediafetch.yaml' in the current directory unless
a different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the effective configuration after defaults, file, and environment are merged.`,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

const exampleConfig = `# mediafetch configuration
#
# Every value here can also be set with a MEDIAFETCH_* environment
# variable, which takes precedence over this file.

api:
  # Metadata API origin. Leave empty for the default.
  base_url: ""
  user_agent: ""
  timeout: 30s
  # Posts per timeline page (max 50).
  page_size: 12

rate_limit:
  # Sliding-window budget for metadata requests.
  max_requests: 75
  window: 660s
  # Random extra delay after each admitted request.
  jitter_min: 500ms
  jitter_max: 5s

proxy:
  # Single endpoint (http, https, or socks5 URL). Takes precedence
  # over the pool file.
  url: ""
  # One proxy URL per line; '#' starts a comment.
  file: ""
  # Preventive rotation interval in requests.
  rotate_every: 20

retry:
  max_attempts: 3
  backoff_base: 1s
  backoff_cap: 60s
  # Wait after throttling when the server gives no Retry-After hint.
  default_retry_after: 300s

transfer:
  batch_size: 50
  concurrency: 16
  # Delegate batches to aria2c when it is on PATH.
  use_aria2: true
  timeout: 60s

archive:
  # Download archive path. Empty means <output>/<handle>/.archive.
  path: ""

output:
  base_directory: "./downloads"
  create_user_folders: true

logging:
  # debug, info, warn, error, fatal
  level: "info"
  # Optional log file; empty logs to stderr.
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "mediafetch.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	fmt.Println("Configuration file created:", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Adjust the settings for your environment")
	fmt.Println("  2. Store credentials with 'mediafetch auth login'")
	fmt.Println("  3. Start fetching with 'mediafetch fetch <handle>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Print(string(data))

	fmt.Println("\n# Sources (highest priority first):")
	fmt.Println("#   1. MEDIAFETCH_* environment variables")
	if configFile != "" {
		fmt.Printf("#   2. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("#   2. Configuration file: (auto-discovered)")
	}
	fmt.Println("#   3. Built-in defaults")
	return nil
}
