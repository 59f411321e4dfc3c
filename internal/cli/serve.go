package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and run the stage workers.",
		Long: `serve runs the HTTP API and the workers of every enabled stage in the
same process until it receives SIGINT or SIGTERM, then waits for the
runs in flight to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, true, true)
		},
	}
	cmd.Flags().Int("server.port", 0, "Port the API listens on.")
	return cmd
}

func newWorkersCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Run the stage workers only.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, false, true)
		},
	}
	cmd.Flags().StringSlice("workers.stages", nil, "Stages to run, all of them when empty.")
	cmd.Flags().String("locks.backend", "", "Lease backend (sqlite, etcd).")
	return cmd
}

func run(cmd *cobra.Command, serveAPI, runWorkers bool) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = a.Run(ctx, serveAPI, runWorkers)
	a.Logger.Info("shut down", "error", err)
	return err
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
