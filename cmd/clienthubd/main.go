// Command clienthubd serves the clienthub JSON-RPC API over WebSocket.
//
//	clienthubd -config clienthub.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/clienthub/bus"
	"github.com/vinayprograms/clienthub/clients"
	"github.com/vinayprograms/clienthub/config"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/mailbox"
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/rpc"
	"github.com/vinayprograms/clienthub/server"
	"github.com/vinayprograms/clienthub/shutdown"
	"github.com/vinayprograms/clienthub/store"
	"github.com/vinayprograms/clienthub/telemetry"
)

// Version information (set via ldflags during build)
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to clienthub.toml (default: search standard locations)")
	logLevel := flag.String("log-level", "", "Override log.level (debug, info, warn, error)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("clienthubd %s\n", version)
		return
	}

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "clienthubd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, used, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	logger := logging.New()
	logger.SetLevel(level)
	log := logger.WithComponent("main")
	log.Info("starting", map[string]interface{}{"version": version, "config": used})

	coord := shutdown.NewCoordinator(shutdown.Config{
		Timeout: cfg.Shutdown.Timeout.Duration,
		Logger:  logger,
	})

	provider, err := telemetry.InitProvider(context.Background(), cfg.ProviderConfig(version))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	coord.Register("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)

	var conn *nats.Conn
	if cfg.UsesNATS() {
		conn, err = bus.Connect(cfg.BusNATSConfig())
		if err != nil {
			return err
		}
		coord.Register("nats", shutdown.PhaseStore+1, func(context.Context) error {
			return conn.Drain()
		})
		log.Info("nats_connected", map[string]interface{}{"url": conn.ConnectedUrl()})
	}

	st, err := openStore(cfg, conn)
	if err != nil {
		return err
	}
	coord.Register("store", shutdown.PhaseStore, func(context.Context) error { return st.Close() })

	var mb bus.MessageBus
	if cfg.Bus.Backend == config.BackendNATS {
		mb = bus.NewNATSBusFromConn(conn, cfg.BusNATSConfig())
	} else {
		mb = bus.NewMemoryBus(bus.Config{BufferSize: cfg.Bus.BufferSize})
	}
	coord.Register("bus", shutdown.PhaseSessions, func(context.Context) error { return mb.Close() })

	registry := manifest.NewRegistry(st, logger)
	if cfg.Manifests.SeedFile != "" {
		n, err := registry.LoadFile(cfg.Manifests.SeedFile)
		if err != nil {
			return err
		}
		log.Info("manifests_seeded", map[string]interface{}{"file": cfg.Manifests.SeedFile, "services": n})
	}

	svc := clients.NewService(st, registry, logger)
	queue := mailbox.New(mailbox.WithBus(mb), mailbox.WithLogger(logger))
	dispatcher := rpc.NewDispatcher(svc, queue,
		rpc.WithLogger(logger),
		rpc.WithTracer(provider.Tracer()))

	srv := server.New(cfg.ServerConfig(), dispatcher,
		server.WithBus(mb),
		server.WithLogger(logger),
		server.WithReadyCheck(readyCheck(st, conn)))
	coord.Register("http", shutdown.PhaseHTTP, srv.Shutdown)
	coord.Register("sessions", shutdown.PhaseSessions, srv.CloseSessions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
		cancel()
	}()

	coord.WaitForSignal(ctx)
	shutdownErr := coord.ShutdownWithTimeout(0)

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	default:
	}
	return shutdownErr
}

func openStore(cfg config.Config, conn *nats.Conn) (store.Store, error) {
	if cfg.Store.Backend != config.BackendNATS {
		return store.NewMemoryStore(), nil
	}
	storeCfg := cfg.StoreNATSConfig()
	storeCfg.Conn = conn
	return store.NewNATSStore(storeCfg)
}

// readyCheck reports the store reachable and, when used, NATS connected.
func readyCheck(st store.Store, conn *nats.Conn) func(context.Context) error {
	return func(ctx context.Context) error {
		if conn != nil && !conn.IsConnected() {
			return fmt.Errorf("nats: %s", conn.Status())
		}
		_, err := st.Keys("manifest.*")
		return err
	}
}
