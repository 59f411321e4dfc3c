// Command pipeline-api serves the HTTP API without running stage workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go-dataset-pipeline/internal/app"
	"go-dataset-pipeline/internal/config"
	"go-dataset-pipeline/pkg/logger"

	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("pipeline-api", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Configuration file to read from.")
	flags.Int("server.port", 0, "Port the API listens on.")
	flags.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(*configPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l, err := logger.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	a, err := app.Open(cfg, l)
	if err != nil {
		l.Error("failed to open application", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = a.Run(ctx, true, false)
	stop()
	if closeErr := a.Close(); closeErr != nil {
		l.Error("failed to close application", "error", closeErr)
	}
	if err != nil {
		l.Error("api stopped", "error", err)
		os.Exit(1)
	}
}
