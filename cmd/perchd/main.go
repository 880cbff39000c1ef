package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/perch-irc/perch/internal/app"
	"github.com/perch-irc/perch/internal/auth"
	"github.com/perch-irc/perch/internal/config"
	"github.com/perch-irc/perch/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "perchd",
		Short:         "perchd links to an IRC network and hosts plugins against its state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the uplink and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	hashPassword := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash of a password for the operators config section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	root.AddCommand(serve, hashPassword)
	root.RunE = serve.RunE
	return root
}

func runServe(configPath string) error {
	bootLog := log.New("info")

	cfg, path, err := config.Load(bootLog, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(cfg.LogLevel)
	logger.Info().Str("config", path).Str("server", cfg.Server.Name).
		Str("sid", cfg.Server.SID).Msg("starting perchd")

	application, err := app.New(&cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("perchd exited: %w", err)
	}
	logger.Info().Msg("perchd stopped")
	return nil
}
