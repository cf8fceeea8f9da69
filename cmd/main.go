package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"brightdock/internal/api"
	"brightdock/internal/clock"
	"brightdock/internal/config"
	"brightdock/internal/device"
	"brightdock/internal/dispatch"
	"brightdock/internal/ha"
	"brightdock/internal/reconcile"
)

const shutdownGrace = 10 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	settings, err := config.FromEnv()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	bindings, err := config.LoadBindings(settings.BindingsFile)
	if err != nil {
		logger.Fatal("Failed to load device bindings", zap.Error(err))
	}

	logger.Info("Starting BrightDock Core",
		zap.String("ha_url", settings.HAURL),
		zap.Duration("poll_interval", settings.PollInterval),
		zap.Int("devices", len(bindings)))

	entities := make([]string, 0, len(bindings))
	for _, b := range bindings {
		entities = append(entities, b.EntityID)
	}

	client := ha.NewClient(settings.HAURL, settings.HAToken, entities, logger)

	// Reachability check, same spirit as a startup banner: log the
	// verdict, keep going either way. The poll loop will retry.
	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.CheckAPI(checkCtx); err != nil {
		logger.Warn("Home Assistant check failed", zap.Error(err))
	} else {
		logger.Info("Home Assistant reachable", zap.String("url", settings.HAURL))
	}
	checkCancel()

	registry, err := device.NewRegistry(bindings, device.NewDDCTransport(), logger)
	if err != nil {
		logger.Fatal("Failed to build device registry", zap.Error(err))
	}

	clk := clock.NewReal()
	store := reconcile.NewStore(registry.IDs())
	health := reconcile.NewHealth()

	dispatcher := dispatch.NewDispatcher(registry, clk, logger)
	dispatcher.OnOutcome(store.Record)
	dispatcher.OnOutcome(reportToHA(client, registry, logger))

	reconciler := reconcile.NewReconciler(client, dispatcher, registry, store, health,
		clk, settings.PollInterval, logger)

	server := api.NewServer(store, health, registry, dispatcher, clk, logger, settings.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(ctx)

	if settings.PushDisabled {
		logger.Info("Push listener disabled, relying on polling only")
	} else {
		push := ha.NewPushListener(settings.HAURL, settings.HAToken, entities,
			reconciler.SubmitPushed, logger)
		go push.Run(ctx)
	}

	serverErr := server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Fatal("Status server failed", zap.Error(err))
	}

	// Stop producing commands, then drain what is in flight.
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer drainCancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("Dispatcher drain incomplete", zap.Error(err))
	}

	if err := server.Stop(); err != nil {
		logger.Warn("Status server stop failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// reportToHA returns an outcome sink that posts applied values back
// to Home Assistant so the control plane converges between polls.
func reportToHA(client *ha.Client, registry *device.Registry, logger *zap.Logger) dispatch.Sink {
	return func(outcome dispatch.Outcome) {
		if !outcome.Applied() {
			return
		}
		handle, err := registry.Acquire(outcome.Command.Device)
		if err != nil {
			return
		}
		entityID := handle.Binding().EntityID

		// Off the lane goroutine; a slow HA must not stall devices.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.PostState(ctx, entityID, outcome.Command.Value); err != nil {
				logger.Warn("Failed to report state to Home Assistant",
					zap.String("entity_id", entityID), zap.Error(err))
			}
		}()
	}
}
