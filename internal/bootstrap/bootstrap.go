package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	extinadapter "ucx/internal/modules/extension/adapter/in"
	extoutadapter "ucx/internal/modules/extension/adapter/out"
	extout "ucx/internal/modules/extension/port/out"
	extservice "ucx/internal/modules/extension/service"
	extusecase "ucx/internal/modules/extension/usecase"
	"ucx/internal/platform/clock"
	"ucx/internal/platform/config"
	"ucx/internal/platform/id"
)

type App struct {
	ExtensionCLI extinadapter.CLIHandler
	ScanWindow   time.Duration
}

func New(cfg config.Config) (*App, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	clk := clock.SystemClock{}
	ids := id.UUID{}

	stateStore, err := extoutadapter.NewSQLiteStateStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("new state store: %w", err)
	}

	registry := extservice.NewRegistryService(stateStore, clk, logger)
	// Offline commands (list, uninstall, enable) read persisted state without
	// ever starting the node.
	if err := registry.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("load installed extensions: %w", err)
	}
	discovery := extservice.NewDiscoveryService(registry, clk, logger)
	executor := extservice.NewExecutorService(registry, ids, clk, logger)
	publisher := extservice.NewPublisherService(
		extoutadapter.NewFilePublishedStore(cfg.DataDir),
		extoutadapter.NewPluginBackendHost(),
		logger,
	)
	node := extservice.NewNodeService(
		extoutadapter.NewLibp2pTransport(logger),
		extout.TransportStartInput{
			ListenAddrs:     cfg.ListenAddrs,
			IdentityKeyPath: cfg.IdentityKeyPath,
			BootstrapPeers:  cfg.BootstrapPeers,
			EnableAnnounce:  cfg.EnableAnnounce,
		},
		registry,
		discovery,
		executor,
		publisher,
		logger,
	)

	usecase := extusecase.NewInteractor(node, registry, executor, publisher)
	return &App{
		ExtensionCLI: extinadapter.NewCLIHandler(usecase),
		ScanWindow:   cfg.ScanWindow,
	}, nil
}
