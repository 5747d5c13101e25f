package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"jan-server/services/dm-api/internal/infrastructure/dmclient"
)

var version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dm-cli",
	Short: "Direct messages from the terminal",
	Long: `dm-cli talks to a dm-api server.

Settings are read from ~/.dm-cli.yaml and may be overridden by flags.

Examples:
  dm-cli conversations list
  dm-cli conversations start bob
  dm-cli chat 6c0e7f3a-2a47-4f5e-9a36-0f2b8e1c9d11`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(chatCmd)

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.dm-cli.yaml)")
	rootCmd.PersistentFlags().String("base-url", "", "dm-api base URL")
	rootCmd.PersistentFlags().String("token", "", "Bearer token")
	rootCmd.PersistentFlags().String("user", "", "User id sent as X-User-ID")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "Timeout for non-streaming requests")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
}

// newClient resolves settings for cmd and builds an API client.
func newClient(cmd *cobra.Command) (*dmclient.Client, *cliConfig, zerolog.Logger, error) {
	log := newLogger(cmd)

	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, log, err
	}
	cfg.applyFlags(cmd)
	if err := cfg.validate(); err != nil {
		return nil, nil, log, err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	client := dmclient.New(dmclient.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		UserID:  cfg.UserID,
		Timeout: timeout,
	}, log)
	return client, cfg, log, nil
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}
