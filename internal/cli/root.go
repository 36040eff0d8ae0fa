// Package cli implements the projectdesk command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/projectdesk/projectdesk/internal/config"
	"github.com/projectdesk/projectdesk/internal/shell"
)

// ExitConfig is the exit status for configuration errors.
const ExitConfig = 2

// configError marks failures to load or validate configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type rootOptions struct {
	configPath string
	noTray     bool
}

// NewRootCommand builds the projectdesk command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "projectdesk",
		Short:         "Desktop shell for the project management backend",
		Long:          "Starts the backend on a free local port and shows the frontend in an application window.",
		Version:       config.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().Bool("dev", false, "load the dev server instead of the packaged frontend")
	cmd.PersistentFlags().String("app-path", "", "install directory containing the backend and frontend")
	cmd.Flags().BoolVar(&opts.noTray, "no-tray", false, "run without a tray or status bar icon")

	cmd.AddCommand(newPortCommand(opts), newConfigCommand(opts))
	return cmd
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"dev":      "shell.dev_mode",
	"app-path": "app.path",
}

// loadConfig loads configuration with flags from cmd taking precedence.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, &configError{err: err}
	}

	cfg, err := config.LoadWith(v, opts.configPath)
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// ExitCode maps an error returned by the root command to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	var shellErr *shell.Error
	if errors.As(err, &shellErr) {
		return shellErr.Kind.ExitCode()
	}
	return 1
}

// Execute runs the root command and returns the exit status.
func Execute() int {
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "projectdesk:", err)
		bootstrapLog(fmt.Sprintf("FATAL: %v", err))
	}
	return ExitCode(err)
}
