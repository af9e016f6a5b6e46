package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/koalatalk/koalatalk-go/internal/api"
	"github.com/koalatalk/koalatalk-go/internal/config"
	"github.com/koalatalk/koalatalk-go/internal/identity"
	"github.com/koalatalk/koalatalk-go/internal/logger"
)

var (
	flagServer  string
	flagChannel string
)

var rootCmd = &cobra.Command{
	Use:   "koalatalk",
	Short: "Terminal client for a KoalaTalk chat server",
	Long: `koalatalk syncs a channel timeline over the server's live stream and
lets you read, send, page history, and run one-to-one calls from the
terminal. Run with no subcommand for the interactive client.`,
	SilenceUsage: true,
	RunE:         runChat,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "server base URL (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagChannel, "channel", "c", "", "channel key (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag overrides, and returns a
// client seeded with any saved session.
func setup() (*config.Config, *api.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flagServer != "" {
		cfg.Server.BaseURL = flagServer
	}
	if flagChannel != "" {
		cfg.Client.DefaultChannel = flagChannel
	}
	logger.SetLevel(cfg.Log.Level)

	client := api.NewClient(cfg.Server.BaseURL)
	client.SetSessionToken(identity.LoadSession())
	return cfg, client, nil
}
