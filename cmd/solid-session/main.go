package main

import (
	"log/slog"
	"os"

	"github.com/gematik/solid-session/pkg/prettylog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "solid-session",
	Short:         "Log in to a Solid identity provider and make authenticated requests",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configPath == "" {
			configPath = os.Getenv("SOLID_SESSION_CONFIG")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (env SOLID_SESSION_CONFIG)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(logoutCmd)
}

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelInfo))
		slog.SetDefault(logger)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
