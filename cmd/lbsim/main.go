package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gowtham/lbsim/internal/config"
	"github.com/gowtham/lbsim/internal/domain"
	"github.com/gowtham/lbsim/internal/handler"
	"github.com/gowtham/lbsim/internal/middleware"
	"github.com/gowtham/lbsim/internal/service"
	"github.com/gowtham/lbsim/internal/simulation"
	"github.com/gowtham/lbsim/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults with env overrides when empty)")
	dumpConfig := flag.String("dump-config", "", "write the default config to this path and exit")
	hold := flag.Bool("hold", false, "keep the admin listener serving after the run until interrupted")
	flag.Parse()

	if *dumpConfig != "" {
		if err := config.DefaultConfig().SaveToFile(*dumpConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", *dumpConfig)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting load balancing fabric")

	forwarder, engines := buildFabric(cfg, log)

	log.WithFields(map[string]interface{}{
		"forwarder": forwarder.Name(),
		"engines":   len(engines),
		"backends":  len(cfg.Backends),
		"clients":   cfg.Simulation.Clients,
	}).Info("Fabric topology wired")

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		adminHandler := handler.NewAdminHandler(forwarder, engines, log)
		adminChain := middleware.Chain(adminHandler.Router(),
			middleware.Recovery(log),
			middleware.RequestLogging(log),
		)
		adminServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Admin.Port),
			Handler:      adminChain,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.WithField("port", cfg.Admin.Port).Info("Starting admin listener")
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Admin listener failed")
			}
		}()
	}

	// The synthetic workload drives the first configured engine
	driver := simulation.NewDriver(forwarder, engines[0], cfg, log)

	done := make(chan simulation.Summary, 1)
	go func() {
		done <- driver.Run()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case summary := <-done:
		inspectFabric(forwarder, engines, log)

		log.WithFields(map[string]interface{}{
			"clients":      summary.Clients,
			"ok":           summary.OK,
			"route_misses": summary.RouteMisses,
			"unavailable":  summary.Unavailable,
		}).Info("Simulation finished")

		if *hold && adminServer != nil {
			log.WithField("port", cfg.Admin.Port).Info("Holding admin listener open; interrupt to exit")
			sig := <-sigChan
			log.WithField("signal", sig.String()).Info("Shutdown signal received")
		}
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutdown signal received; abandoning run")
	}

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error shutting down admin listener")
		}
	}

	log.Info("Fabric stopped gracefully")
}

// loadConfig reads the file when a path is given, otherwise the defaults
// with environment overrides. Both paths end validated.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildFabric wires backends into engines per the configured routes and
// registers every engine as a forwarder downstream. Config is validated
// before this runs, so wiring failures are fatal.
func buildFabric(cfg *config.Config, log *logger.Logger) (*service.Forwarder, []*service.Engine) {
	backends := cfg.BuildBackends()

	engines := make([]*service.Engine, 0, len(cfg.Engines))
	for _, ec := range cfg.Engines {
		engine := service.NewEngine(ec.Name, log)

		if ec.DefaultStrategy != "" {
			if err := engine.SetDefaultStrategy(domain.StrategyType(ec.DefaultStrategy)); err != nil {
				log.WithError(err).Fatalf("Failed to set default strategy for engine %s", ec.Name)
			}
		}

		for _, rc := range ec.Routes {
			pool := make([]*domain.Backend, 0, len(rc.Backends))
			for _, name := range rc.Backends {
				pool = append(pool, backends[name])
			}
			if err := engine.RegisterRoute(rc.Prefix, pool, domain.StrategyType(rc.Strategy)); err != nil {
				log.WithError(err).Fatalf("Failed to register route %s", rc.Prefix)
			}
		}

		engines = append(engines, engine)
	}

	forwarder := service.NewForwarder(cfg.Forwarder.Name, cfg.Forwarder.PublicIP, cfg.Forwarder.NatBaseIP, log)
	for _, engine := range engines {
		forwarder.RegisterDownstream(engine)
	}

	return forwarder, engines
}

// inspectFabric logs the post-run state: registered prefixes, every
// backend's health and load, and the per-tier counters
func inspectFabric(forwarder *service.Forwarder, engines []*service.Engine, log *logger.Logger) {
	fs := forwarder.Stats()
	log.WithFields(map[string]interface{}{
		"forwarder":             fs.Name,
		"public_address":        fs.PublicAddress,
		"downstreams":           fs.Downstreams,
		"connections_forwarded": fs.ConnectionsForwarded,
		"connections_rejected":  fs.ConnectionsRejected,
		"capability_mismatches": fs.CapabilityMismatches,
		"traced_connections":    fs.TracedConnections,
	}).Info("Forwarder stats")

	for _, engine := range engines {
		es := engine.Stats()
		log.WithFields(map[string]interface{}{
			"engine":               es.Name,
			"default_strategy":     es.DefaultStrategy,
			"routes":               es.Routes,
			"requests_handled":     es.RequestsHandled,
			"route_misses":         es.RouteMisses,
			"no_healthy_backend":   es.NoHealthyBackend,
			"connections_accepted": es.ConnectionsAccepted,
		}).Info("Engine stats")

		prefixes := engine.RegisteredPrefixes()
		log.WithFields(map[string]interface{}{
			"engine":   es.Name,
			"prefixes": prefixes,
		}).Info("Registered prefixes")

		for _, prefix := range prefixes {
			for _, b := range engine.BackendsForPrefix(prefix) {
				log.WithFields(map[string]interface{}{
					"prefix":       prefix,
					"backend":      b.Name,
					"address":      b.Address(),
					"healthy":      b.IsHealthy(),
					"in_flight":    b.CurrentConnections(),
					"total_served": b.TotalServed(),
				}).Info("Backend state")
			}
		}
	}
}
