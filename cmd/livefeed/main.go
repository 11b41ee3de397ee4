package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "livefeed",
		Short:         "Live voucher update feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newWatchCommand(),
		newAnnounceCommand(),
	)

	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live feed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings Settings
			_, err := env.UnmarshalFromEnviron(&settings)
			if err != nil {
				return fmt.Errorf("failed to parse settings from environment: %w", err)
			}

			err = settings.Validate()
			if err != nil {
				return err
			}

			logger, err := buildZapLogger(settings.LogEncoding)
			if err != nil {
				return err
			}
			defer logger.Sync()

			app, err := NewApp(logger, settings)
			if err != nil {
				return err
			}

			return app.setup(cmd.Context())
		},
	}
}

// loadClientSettings reads the environment, then lets flags override it.
func loadClientSettings(flags *pflag.FlagSet, settings *ClientSettings) error {
	url, token := settings.URL, settings.Token

	_, err := env.UnmarshalFromEnviron(settings)
	if err != nil {
		return fmt.Errorf("failed to parse settings from environment: %w", err)
	}

	if flags.Changed("url") {
		settings.URL = url
	}
	if flags.Changed("token") {
		settings.Token = token
	}

	return nil
}

func addClientFlags(flags *pflag.FlagSet, settings *ClientSettings) {
	flags.StringVar(&settings.URL, "url", "", "base url of the live feed (LIVEFEED_URL)")
	flags.StringVar(&settings.Token, "token", "", "bearer token or api key (LIVEFEED_TOKEN)")
}

func main() {
	// A missing .env file is fine, the environment is used as is.
	_ = godotenv.Load()

	err := newRootCommand().ExecuteContext(context.Background())
	if err != nil {
		logger, _ := zap.NewDevelopment()
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()

		os.Exit(1)
	}
}
