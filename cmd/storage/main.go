// cmd/storage is the per-site daemon bundling the Storage Manager,
// Operation Log, Replicator, and Heartbeat/Health subsystems — spec §2's
// dependency-ordered leaf components, mirrored here onto a single
// process the way original_source's "ga" (gestor_almacenamiento) process
// bundles them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/biblored/internal/config"
	"github.com/cuemby/biblored/internal/heartbeat"
	"github.com/cuemby/biblored/internal/logging"
	"github.com/cuemby/biblored/internal/metrics"
	"github.com/cuemby/biblored/internal/oplog"
	"github.com/cuemby/biblored/internal/replicator"
	"github.com/cuemby/biblored/internal/storage"
	"github.com/cuemby/biblored/internal/transport/pubsub"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	var (
		dataDir string
		nodeID  string
		pretty  bool
	)

	root := &cobra.Command{
		Use:   "biblored-storage",
		Short: "Storage Manager + Operation Log + Replicator + Heartbeat daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("node-id") {
				cfg.NodeID = nodeID
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Pretty = pretty
			}
			return run(cfg)
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory for books/loans/oplog files")
	root.PersistentFlags().StringVar(&nodeID, "node-id", "A", "this site's node id")
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-readable console logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Init(cfg.Pretty)
	log := logging.WithNode(logging.WithComponent("storage"), cfg.NodeID)

	ol, err := oplog.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open oplog: %w", err)
	}
	defer ol.Close()

	sm, err := storage.New(cfg.DataDir, cfg.NodeID, ol, cfg.MaxRenewals, cfg.LoanDurationDays)
	if err != nil {
		return fmt.Errorf("open storage manager: %w", err)
	}

	replChannel := fmt.Sprintf("%s.%s", cfg.ReplChannelPrefix, cfg.NodeID)
	replPub := pubsub.NewPublisher(cfg.RedisAddr)
	defer replPub.Close()
	replSub := pubsub.NewPatternSubscriber(cfg.RedisPeerAddr, cfg.ReplChannelPrefix+".*")
	defer replSub.Close()

	rp := replicator.New(cfg.NodeID, sm, ol, replPub, replSub, replChannel,
		cfg.SnapshotIntervalOps, cfg.OLRetainLastN, logging.WithComponent("replicator"))

	// onApplied hands every successful local mutation to the Replicator
	// for outbound publication (spec §4.3's "SM applies mutation, appends
	// to OL, then RP publishes"), keeping storage.Manager itself free of
	// any dependency on the replicator package.
	onApplied := func(entry wire.OpLogEntry) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rp.PublishApplied(ctx, entry); err != nil {
			log.Warn().Err(err).Str("id", entry.ID).Msg("replication publish failed")
		}
	}
	smServer := storage.NewServer(sm, cfg.SMRepAddr, "/sm", onApplied)

	hbPub := pubsub.NewPublisher(cfg.RedisAddr)
	defer hbPub.Close()
	hb := heartbeat.New(cfg.NodeID, time.Duration(cfg.HeartbeatIntervalMs)*time.Millisecond,
		hbPub, cfg.HBChannel, cfg.HealthRepAddr, "/health", logging.WithComponent("heartbeat"))

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})}

	go rp.Run()
	go hb.RunPublisher()
	go func() {
		if err := hb.RunResponder(); err != nil {
			log.Error().Err(err).Msg("health responder exited")
		}
	}()
	go func() {
		if err := smServer.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("sm-rep server exited")
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	log.Info().Str("data_dir", cfg.DataDir).Str("sm_addr", cfg.SMRepAddr).Msg("storage daemon started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rp.Stop()
	if err := hb.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("heartbeat shutdown error")
	}
	if err := smServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("sm-rep shutdown error")
	}
	_ = metricsServer.Shutdown(ctx)

	return nil
}
