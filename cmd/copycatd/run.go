package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/copycat/copycat/pkg/codec"
	"github.com/copycat/copycat/pkg/config"
	"github.com/copycat/copycat/pkg/events"
	"github.com/copycat/copycat/pkg/log"
	"github.com/copycat/copycat/pkg/metrics"
	"github.com/copycat/copycat/pkg/raft"
	"github.com/copycat/copycat/pkg/segment"
	"github.com/copycat/copycat/pkg/storage"
	"github.com/copycat/copycat/pkg/transport"
	"github.com/copycat/copycat/pkg/types"
)

var (
	configPath  string
	metricsAddr string
	listenAddr  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a copycat node and keep it running until terminated",
	RunE:  runNode,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "copycat.yaml", "Path to the node config file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address the metrics/health HTTP server listens on")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Address this node's transport listens on (defaults to the config's address)")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.WithRaftState(cfg.ID, 0, "start")
	logger.Info().Str("address", cfg.Address).Str("memberType", cfg.MemberType).Msg("starting copycat node")

	segLog, err := segment.Open(segment.Config{
		Directory:            filepath.Join(cfg.Directory, "log"),
		Name:                 cfg.Name,
		MaxEntrySize:         cfg.MaxEntrySize,
		MaxSegmentSize:       cfg.MaxSegmentSize,
		MaxEntriesPerSegment: cfg.MaxEntriesPerSegment,
	})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	store, err := storage.NewBoltStore(filepath.Join(cfg.Directory, "meta"))
	if err != nil {
		segLog.Close()
		return fmt.Errorf("open store: %w", err)
	}

	addr := cfg.Address
	if listenAddr != "" {
		addr = listenAddr
	}
	registry := transport.NewRegistry()
	trans, err := transport.NewChannelTransport(registry, addr)
	if err != nil {
		store.Close()
		segLog.Close()
		return fmt.Errorf("open transport: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	eventCtx, stopEventSink := context.WithCancel(context.Background())
	log.EventSink(eventCtx, broker, func() zerolog.Logger { return logger })

	node, err := raft.Open(raft.Config{
		ID:                cfg.ID,
		Address:           addr,
		MemberType:        cfg.ParsedMemberType(),
		ElectionTimeout:   cfg.ElectionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Members:           cfg.SeedMembers(),
		Log:               segLog,
		Store:             store,
		Transport:         trans,
		Codec:             codec.JSONCodec{},
		Broker:            broker,
		Apply:             echoApply,
	})
	if err != nil {
		broker.Stop()
		trans.Close()
		store.Close()
		segLog.Close()
		return fmt.Errorf("open raft context: %w", err)
	}

	collector := metrics.NewCollector(node, 5*time.Second)
	collector.Start()

	metrics.RegisterComponent("segment", true, "")
	metrics.RegisterComponent("transport", true, "")
	// The "raft" component's health is kept current by the collector
	// started above, which samples real role/term/commit-index each period.

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())
	mux.HandleFunc("/status", statusHandler(node))
	server := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	logger.Info().Str("metrics", metricsAddr).Msg("node ready")
	waitForSignal()
	logger.Info().Msg("shutting down")

	server.Close()
	collector.Stop()
	stopEventSink()
	broker.Stop()
	if err := node.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing raft context")
	}
	return nil
}

// echoApply is the default state machine applied when no domain-specific
// one is configured: it returns the submitted operation unchanged, letting
// a fresh cluster demonstrate commit/apply without any application logic.
func echoApply(entry types.Entry) ([]byte, error) {
	return entry.Payload, nil
}
