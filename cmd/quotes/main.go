package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quotecache/internal/app"
	"quotecache/internal/config"
)

var (
	configPath string
	asJSON     bool
	svc        *app.App
)

var rootCmd = &cobra.Command{
	Use:           "quotes",
	Short:         "Query and manage the local quote cache",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		svc = a
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config file (json or yaml)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(getCmd(), refreshCmd(), clearCmd(), warmCmd(), cacheCmd())

	err := rootCmd.ExecuteContext(context.Background())
	if svc != nil {
		if cerr := svc.Close(); cerr != nil {
			log.WithError(cerr).Warn("close")
		}
	}
	if err != nil {
		log.Fatalf("quotes: %v", err)
	}
}
