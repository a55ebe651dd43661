// Package cmd wires the command line interface
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/tphakala/webaudio-go/cmd/config"
	"github.com/tphakala/webaudio-go/cmd/render"
	"github.com/tphakala/webaudio-go/internal/conf"
	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/logger"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string
	BuildDate string
}

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, info BuildInfo) *cobra.Command {
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "webaudio",
		Short:         "Offline audio rendering CLI",
		Version:       fmt.Sprintf("%s (built %s)", info.Version, info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(
		render.Command(settings),
		configcmd.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Sync the settings with viper so command line flags take precedence
		if err := conf.SyncViper(settings); err != nil {
			return err
		}

		cl, err := initialize(settings, info)
		if err != nil {
			return err
		}
		central = cl
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initialize sets up logging and telemetry before a subcommand runs
func initialize(settings *conf.Settings, info BuildInfo) (*logger.CentralLogger, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, info.Version); err != nil {
			logger.Global().Module("main").Warn("telemetry disabled", logger.Error(err))
		}
	}

	return central, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
