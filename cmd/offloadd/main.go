// Command offloadd runs an offload scheduler with the built-in handlers behind
// an HTTP admin API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jzx17/offload/internal/api"
	"github.com/jzx17/offload/internal/config"
	"github.com/jzx17/offload/pkg/handlers"
	"github.com/jzx17/offload/pkg/scheduler"
	"github.com/jzx17/offload/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Server.LogLevel)

	reg := worker.NewRegistry()
	if err := handlers.RegisterBuiltins(reg); err != nil {
		log.Fatalf("failed to register handlers: %v", err)
	}

	sched, err := scheduler.New(cfg.SchedulerConfig(reg, logger))
	if err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	logger.Info("offloadd: starting",
		"listen_addr", cfg.Server.ListenAddr,
		"scheduler_id", sched.ID(),
		"task_types", reg.Types(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(sched, api.Options{
		Addr:            cfg.Server.ListenAddr,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          logger,
	})

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}

	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
