// Package cli implements the pipeline command line.
package cli

import (
	"io"
	"log/slog"

	"go-dataset-pipeline/internal/app"
	"go-dataset-pipeline/internal/config"
	"go-dataset-pipeline/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewRootCommand returns the pipeline command and its subcommands.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "pipeline",
		Short: "Dataset processing pipeline",
		Long: `pipeline takes uploaded tabular files through analysis, schema
detection, remote extensions, indexing and finalization, and serves
the resulting datasets over HTTP.

Configuration is read from the file given by --config, from environment
variables prefixed with PIPELINE_ and from the flags below, which take
precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rc.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file to read from.")
	flags.String("data_dir", "", "Directory of the dataset files.")
	flags.String("store.path", "", "Path of the document store.")
	flags.String("store.index_path", "", "Path of the index database.")
	flags.String("log.level", "", "Log level (debug, info, warn, error).")
	flags.String("log.format", "", "Log format (text, json).")
	flags.String("log.output", "", "Log output (stdout, stderr, file).")

	rc.AddCommand(newServeCommand(stdin, stdout, stderr))
	rc.AddCommand(newWorkersCommand(stdin, stdout, stderr))
	rc.AddCommand(newLoadCommand(stdin, stdout, stderr))
	rc.AddCommand(newVirtualCommand(stdin, stdout, stderr))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// openApp loads the configuration of cmd, sets the default logger up and
// opens the application. The caller closes it.
func openApp(cmd *cobra.Command) (*app.App, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadWithFlags(path, cmd.Flags())
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	l, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cfg, l.With("cmd", cmd.Name()))
	if err != nil {
		l.Error("failed to open application", "error", err)
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Default().Error("failed to close application", "error", err)
	}
}
