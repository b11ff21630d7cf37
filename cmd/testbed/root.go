package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/harunnryd/testbed/internal/config"
	apperrors "github.com/harunnryd/testbed/internal/errors"
	"github.com/harunnryd/testbed/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "testbed",
	Short: "Local integration-test bootstrapper",
	Long: `testbed provisions a disposable environment, starts the builder services under
one supervisor, waits for all of them to report ready, runs the test project and
tears everything down again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.LogLevel)
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr *apperrors.ExitError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
	}
	os.Exit(apperrors.ExitCode(err))
}

// errorMessage names the failed stage when the error carries one.
func errorMessage(err error) string {
	if category := apperrors.Category(err); category != "" && category != "Unknown" {
		return fmt.Sprintf("Error [%s]: %v", category, err)
	}
	return fmt.Sprintf("Error: %v", err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.testbed/config.yaml)")
	rootCmd.PersistentFlags().String("log_level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
}
