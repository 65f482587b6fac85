package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/coopledger/coopledger/cmd/coopctl/cli"
	"github.com/coopledger/coopledger/internal/app"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping coopctl")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := app.NewLoggerTo(cfg, os.Stderr)

	deps := cli.Deps{
		Processor: func(ctx context.Context) (cli.Processor, func(), error) {
			engine, err := app.NewEngine(ctx, cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			return engine.Service, func() { engine.Close(logger) }, nil
		},
		Queue: func() (cli.Queue, error) {
			return cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		},
	}

	if err := cli.NewRootCommand(deps).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "coopctl:", err)
		os.Exit(1)
	}
}
