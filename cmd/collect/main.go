package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacoelho/collect/internal/config"
	"github.com/jacoelho/collect/internal/run"
)

func main() {
	os.Exit(runMain())
}

func runMain() int {
	cfg, exitResult := config.Parse(os.Args)
	if exitResult != nil {
		exitResult.Print()
		return exitResult.ExitCode
	}

	r, exitResult := run.New(cfg)
	if exitResult != nil {
		exitResult.Print()
		return exitResult.ExitCode
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return r.Run(ctx)
}
