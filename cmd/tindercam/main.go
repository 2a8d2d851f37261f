package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/matcontt/tindercam/disposition"
	"github.com/matcontt/tindercam/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// defaultConfigFile is used when --config is not given and it exists.
const defaultConfigFile = "tindercam.yaml"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tindercam",
		Short: "Keep or discard photos with a swipe",
		Long: strings.TrimSpace(`
Every captured photo is swiped right into a gallery of 15 photos or left into a
bounded trash that forgets its oldest photo when full.
    `),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default ./tindercam.yaml when present)")

	rootCmd.AddCommand(
		newInitCmd(),
		newMigrateCmd(),
		newServeCmd(),
		newSwipeCmd(),
		newStatusCmd(),
		newListCmd(),
		newDeleteCmd(),
		newReconcileCmd(),
	)
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config, falling back to
// ./tindercam.yaml and then to the defaults.
func loadConfig(cmd *cobra.Command) (*disposition.Config, error) {
	filename, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if filename == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			filename = defaultConfigFile
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return disposition.LoadConfig(filename)
}

// openApp loads the config, builds the logger and opens the app.
func openApp(cmd *cobra.Command) (*disposition.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	app, err := disposition.OpenApp(cmd.Context(), cfg, logger)
	if err != nil {
		logging.Sync(logger)
		return nil, err
	}
	app.Logger.Debug("cli: opened app", zap.String("command", cmd.Name()))
	return app, nil
}

// withApp runs fn with an open app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(app *disposition.App) error) (err error) {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(app)
}
