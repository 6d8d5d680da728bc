// Package cli provides the command-line interface for modelbench.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale/modelbench/internal/config"
	"github.com/rescale/modelbench/internal/core"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/version"
)

var (
	// Global flags
	cfgFile   string
	serverURL string
	specDirs  []string
	verbose   bool
	debug     bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command for CLI mode.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modelbench",
		Short: "Configure, validate, save and run spec-driven models",
		Long: `modelbench ` + version.Version + `
Configure, validate, save, load and launch parameterized models whose
arguments are described by a model spec.

Specs come from the model server (--server or server.url) or, without a
server, from spec files in --spec-dir and the specs built into modelbench.

Parameter sets may be read from and written to local paths, s3://bucket/key
or az://container/blob.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logger
			logger = logging.NewDefaultCLILogger()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Settings file path (default "+config.DefaultSettingsPath()+")")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Model server URL (overrides server.url)")
	rootCmd.PersistentFlags().StringArrayVar(&specDirs, "spec-dir", nil, "Directory with model spec files (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output (same as --verbose)")

	rootCmd.Version = version.Version

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	// Create a context that can be cancelled by signals
	rootContext, cancelFunc = context.WithCancel(context.Background())
	defer cancelFunc()

	// Set up signal handling for graceful cancellation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nReceived signal %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	// Clean up signal handler
	signal.Stop(sigChan)
	close(sigChan)

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", core.UserMessage(err))
		logger.Debug().Err(err).Msg("command failed")
	}
	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newSpecCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newSaveCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return logger
}

// GetContext returns the global CLI context with signal handling.
// This context will be cancelled when the user presses Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		// Fallback to background context if called before Execute()
		return context.Background()
	}
	return rootContext
}

// loadSettings reads the settings file and applies the --server flag.
func loadSettings() (*config.Settings, error) {
	settings, err := config.LoadSettings(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if serverURL != "" {
		settings.Server.URL = serverURL
	}
	if !verbose && !debug {
		logging.SetGlobalLevel(logging.ParseLevel(settings.Workbench.LoggingLevel))
	}
	return settings, nil
}
