package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskplan/internal/app"
	"taskplan/internal/planner"
	"taskplan/internal/schedule"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	ConfigPath string
	JSON       bool
	LogLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "taskplan",
		Short:         "Plan projects as dependency graphs of tasks",
		Long:          "taskplan schedules project tasks from their durations and dependencies,\nkeeps start and end dates current and reports the critical path.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "./config.json", "Path to config file (json, yaml or toml)")
	root.PersistentFlags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")

	root.AddCommand(
		newServeCmd(opts),
		newProjectCmd(opts),
		newTaskCmd(opts),
		newDepCmd(opts),
		newScheduleCmd(opts),
		newCriticalCmd(opts),
		newImportCmd(opts),
	)
	return root
}

// Execute runs the CLI and exits with status 1 on any error.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage renders err for humans. Cycle errors lead with
// "circular dependency detected" already.
func errorMessage(err error) string {
	var ve *planner.ValidationError
	if errors.As(err, &ve) {
		return "invalid " + ve.Error()
	}
	return err.Error()
}

// openApp builds an app for a one-shot command. Logs go to stderr so they
// never mix with command output.
func openApp(cmd *cobra.Command, opts *globalOptions) (*app.App, error) {
	level := opts.LogLevel
	if level == "" {
		level = "warn"
	}
	return app.NewApp(opts.ConfigPath,
		app.WithLogOutput(cmd.ErrOrStderr()),
		app.WithLogLevel(level),
	)
}

// withPlanner runs fn against a freshly opened app and closes it afterwards.
func withPlanner(cmd *cobra.Command, opts *globalOptions, fn func(*planner.Service) error) (err error) {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(a.Planner())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func parseDateArg(s string) (time.Time, error) {
	return schedule.ParseDate(strings.TrimSpace(s))
}
