// Command node runs a BrightID node: it admits signed operations, settles
// them against the trust graph, reports recovery eligibility and issues
// partially blind verification signatures.
//
// # Configuration
//
// Settings come from a YAML file with flag overrides:
//
//	listen_addr: ":8529"
//	metrics_addr: ":9090"
//	storage_backend: "postgres"
//	postgres:
//	  host: "localhost"
//	  port: 5432
//	  user: "brightid"
//	  password: "secret"
//	  database: "brightid"
//	wischnorr_password: "shared-issuer-secret"
//	protocol:
//	  rate_limit: 60
//	  rate_limit_window: 15m
//
// # Usage
//
//	go run ./cmd/node --config=node.yaml
//	go run ./cmd/node --listen-addr=:8529 --storage=memory --wischnorr-password=dev
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BrightID/BrightID-Node-sub000/api/httpserver"
	"github.com/BrightID/BrightID-Node-sub000/cmd/common"
	"github.com/BrightID/BrightID-Node-sub000/node"
	"github.com/BrightID/BrightID-Node-sub000/services"
	"github.com/BrightID/BrightID-Node-sub000/store"
	"github.com/BrightID/BrightID-Node-sub000/store/postgres"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listenAddr  = flag.String("listen-addr", "", "API listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address")
		storage     = flag.String("storage", "", "Storage backend: postgres or memory")
		password    = flag.String("wischnorr-password", "", "Blind signature issuer password")
		enablePprof = flag.Bool("pprof", false, "Enable the pprof API")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
		logDebug    = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *storage != "" {
		cfg.StorageBackend = *storage
	}
	if *password != "" {
		cfg.WISchnorrPassword = *password
	}
	if *enablePprof {
		cfg.EnablePprof = true
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	if *logDebug {
		cfg.LogDebug = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("Opening store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	engine := node.New(st, &cfg.Protocol, log, nil)

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.GracefulShutdownDuration,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
	},
		services.NewNodeHandler(engine, log),
		services.NewVerificationHandler(engine, cfg.WISchnorrPassword, &cfg.Protocol, log, nil),
	)
	if err != nil {
		log.Error("Creating HTTP server failed", "err", err)
		os.Exit(1)
	}

	srv.RunInBackground()
	log.Info("Node started", "listenAddr", cfg.ListenAddr, "storage", cfg.StorageBackend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down")
	srv.Shutdown()
}

func newLogger(cfg *common.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func openStore(cfg *common.Config) (store.Store, func(), error) {
	if cfg.StorageBackend == "memory" {
		return store.NewMemoryStore(), func() {}, nil
	}
	st, err := postgres.New(&cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}
