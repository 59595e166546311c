// main package for the performer-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/config"
	"github.com/book-expert/performer-service/internal/performer"
	"github.com/book-expert/performer-service/internal/worker"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), "performer-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "performer-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	settings, err := cfg.PerformerSettings()
	if err != nil {
		finalLog.Error("Invalid performer settings: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialize services: %v", err)

		return err
	}
	defer svc.Close()

	perf, err := performer.New(svc.deps(settings), settings, finalLog)
	if err != nil {
		return fmt.Errorf("failed to create performer: %w", err)
	}

	svc.hub.SetReplay(perf.ReplayEvents)
	svc.trigger = perf
	perf.Start()

	defer perf.Close()

	chatWorker := worker.NewNatsWorker(svc.natsConnection, cfg.NATS.ChatSubject, perf, finalLog)
	server := &http.Server{
		Addr:              cfg.UI.ListenAddr,
		Handler:           svc.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	finalLog.System("Performer-Service successfully initialized. Listening for chat on subject: %s", cfg.NATS.ChatSubject)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return chatWorker.Run(groupCtx)
	})

	group.Go(func() error {
		return svc.sounds.Watch(groupCtx)
	})

	group.Go(func() error {
		finalLog.System("Serving overlay on %s", server.Addr)

		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("overlay server failed: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		svc.hub.Close()

		return server.Shutdown(shutdownCtx)
	})

	err = group.Wait()

	finalLog.System("Performer-Service shutting down.")

	return err
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
