package cli

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/sqlpipe/internal/config"
	"github.com/roach88/sqlpipe/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config starts at config.Default and is overlaid by --config, then by
	// flags set on the command line.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sqlpipe CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Config: config.Default()}

	cmd := &cobra.Command{
		Use:   "sqlpipe",
		Short: "sqlpipe - asynchronous SQLite operation pipeline",
		Long: `Run SQL through a queued, single-flight SQLite pipeline driven by a
declarative transition table, and inspect the audit trail it leaves.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	f.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	f.StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	f.StringVar(&opts.Config.Database, "db", opts.Config.Database, "path to SQLite database")
	f.StringVar(&opts.Config.TablePath, "table", "", "transition table file (default: embedded)")
	f.IntVar(&opts.Config.MaxRetries, "max-retries", opts.Config.MaxRetries, "reconnect attempts after a connection failure")
	f.DurationVar(&opts.Config.RetryBase, "retry-base", opts.Config.RetryBase, "delay before the first reconnect")
	f.DurationVar(&opts.Config.JoinTimeout, "join-timeout", opts.Config.JoinTimeout, "shutdown wait before the worker is terminated")
	f.StringVar(&opts.Config.LogLevel, "log-level", opts.Config.LogLevel, "log level (debug|info|warn|error)")

	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// resolve overlays the config file, keeping flags the user set.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if o.ConfigPath != "" {
		fc, err := config.LoadFileConfig(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}

		changed := make(map[string]bool)
		for _, name := range []string{"db", "table", "max-retries", "retry-base", "join-timeout", "log-level"} {
			changed[name] = cmd.Flags().Changed(name)
		}
		if err := config.Apply(&o.Config, fc, changed); err != nil {
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
	}
	if err := o.Config.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	return nil
}

// logger writes to the command's stderr. --verbose forces debug.
func (o *RootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	level := o.Config.LogLevel
	if o.Verbose {
		level = "debug"
	}
	return logging.New(cmd.ErrOrStderr(), level)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
