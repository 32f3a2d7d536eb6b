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

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/fullnode/app/services/node/handlers"
	"github.com/ardanlabs/fullnode/foundation/blockchain/genesis"
	"github.com/ardanlabs/fullnode/foundation/blockchain/header"
	"github.com/ardanlabs/fullnode/foundation/blockchain/mempool"
	"github.com/ardanlabs/fullnode/foundation/blockchain/peer"
	"github.com/ardanlabs/fullnode/foundation/blockchain/signature"
	"github.com/ardanlabs/fullnode/foundation/blockchain/simulator"
	"github.com/ardanlabs/fullnode/foundation/blockchain/state"
	"github.com/ardanlabs/fullnode/foundation/blockchain/worker"
	"github.com/ardanlabs/fullnode/foundation/events"
	"github.com/ardanlabs/fullnode/foundation/logger"
	"github.com/ardanlabs/fullnode/foundation/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
		}
		State struct {
			GenesisPath string   `conf:"default:zblock/genesis.json"`
			Verifiers   string   `conf:"default:simulated"`
			Host        string   `conf:"default:0.0.0.0:9080"`
			KnownPeers  []string `conf:"default:0.0.0.0:9180"`
			Workers     int      `conf:"default:4"`
			BatchSize   int      `conf:"default:4"`
		}
		Store struct {
			MaxSeenUnfinishedBlocks int           `conf:"default:1000"`
			RecentSignagePoints     int           `conf:"default:500"`
			RecentEOS               int           `conf:"default:50"`
			FutureCacheTTL          time.Duration `conf:"default:1h"`
			ExpiryInterval          time.Duration `conf:"default:1m"`
		}
		TxQueue struct {
			MaxSize    int    `conf:"default:10000"`
			MaxPerPeer int    `conf:"default:1000"`
			Strategy   string `conf:"default:feerate"`
			Adverts    int    `conf:"default:50000"`
		}
		Gate struct {
			Active           int           `conf:"default:2"`
			Waiting          int           `conf:"default:20"`
			AnnouncementWait time.Duration `conf:"default:30s"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}
	log.Infow("startup", "status", "genesis", "network", gen.Network, "challenge", gen.Constants.GenesisChallenge)

	// Proof verification is provided by native libraries the node links
	// against. The simulated verifiers accept the proofs the simulator builds
	// and are only good for local networks.
	var verifiers header.Verifiers
	var bls signature.Verifier
	switch cfg.State.Verifiers {
	case "simulated":
		verifiers = header.Verifiers{VDF: simulator.VDF{}, PoS: simulator.PoS{}}
		bls = simulator.BLS{}
	default:
		return fmt.Errorf("unsupported verifiers %q", cfg.State.Verifiers)
	}

	// A peer set is a collection of known nodes in the network so peaks and
	// transactions can be accepted from them.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log.
	traceID := uuid.NewString()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", traceID)
	}

	// The node's collectors are served by the debug service.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	evts := events.New()

	// The state value represents the full node and manages the chain, the
	// consensus material store and the transaction queue.
	st, err := state.New(state.Config{
		Genesis:   gen,
		Verifiers: verifiers,
		BLS:       bls,
		Workers:   cfg.State.Workers,
		BatchSize: cfg.State.BatchSize,
		Store: state.StoreConfig{
			MaxSeenUnfinishedBlocks: cfg.Store.MaxSeenUnfinishedBlocks,
			RecentSignagePoints:     cfg.Store.RecentSignagePoints,
			RecentEOS:               cfg.Store.RecentEOS,
			FutureCacheTTL:          cfg.Store.FutureCacheTTL,
		},
		TxQueue: state.TxQueueConfig{
			MaxSize:    cfg.TxQueue.MaxSize,
			MaxPerPeer: cfg.TxQueue.MaxPerPeer,
			Strategy:   cfg.TxQueue.Strategy,
			Adverts:    cfg.TxQueue.Adverts,
		},
		Gate: state.GateConfig{
			Active:  cfg.Gate.Active,
			Waiting: cfg.Gate.Waiting,
		},
		Host:       cfg.State.Host,
		KnownPeers: peerSet,
		Metrics:    metrics.New(reg),
		Events:     evts,
		EvHandler:  ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// Log every peak the node moves to.
	peaks := evts.Acquire("node")
	go func() {
		for p := range peaks {
			log.Infow("peak", "event", p.String(), "traceid", traceID)
		}
	}()

	// The mempool lives outside the consensus core. Until one is attached
	// queued transactions are logged and released.
	admit := func(ctx context.Context, e mempool.Entry) error {
		log.Infow("admit", "tx", e.ID, "bytes", len(e.Bundle), "traceid", traceID)
		return nil
	}

	// The worker package implements cache expiry, transaction admission and
	// peak announcement processing. The worker will register itself with the
	// state.
	worker.Run(st, worker.Config{
		ExpiryInterval:   cfg.Store.ExpiryInterval,
		AnnouncementWait: cfg.Gate.AnnouncementWait,
		Admit:            admit,
		EvHandler:        ev,
	})

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(handlers.MuxConfig{
		Build:    build,
		Log:      log,
		State:    st,
		Gatherer: reg,
	})

	debug := http.Server{
		Addr:         cfg.Web.DebugHost,
		Handler:      debugMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	go func() {
		serverErrors <- debug.ListenAndServe()
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := debug.Shutdown(ctx); err != nil {
			debug.Close()
			return fmt.Errorf("could not stop debug service gracefully: %w", err)
		}
	}

	return nil
}
