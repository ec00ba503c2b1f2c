// cmd/coordinator is the Central Coordinator (CC) entry point: validates
// client requests, dispatches PRESTAR synchronously to the Loan actor,
// publishes RENOVAR/DEVOLVER to their topics, and replies (spec §4.6).
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
	"github.com/cuemby/biblored/internal/coordinator"
	"github.com/cuemby/biblored/internal/logging"
	"github.com/cuemby/biblored/internal/metrics"
	"github.com/cuemby/biblored/internal/transport/pubsub"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	var (
		nodeID  string
		mode    string
		workers int
		pretty  bool
	)

	root := &cobra.Command{
		Use:   "biblored-coordinator",
		Short: "Central Coordinator: client entry point and request dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("node-id") {
				cfg.NodeID = nodeID
			}
			if cmd.Flags().Changed("mode") {
				cfg.CCMode = mode
			}
			if cmd.Flags().Changed("workers") {
				cfg.CCWorkers = workers
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Pretty = pretty
			}
			return run(cfg)
		},
	}

	root.PersistentFlags().StringVar(&nodeID, "node-id", "A", "this site's node id")
	root.PersistentFlags().StringVar(&mode, "mode", "serial", "execution mode: serial or threaded")
	root.PersistentFlags().IntVar(&workers, "workers", 8, "worker pool size in threaded mode")
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "human-readable console logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Init(cfg.Pretty)
	log := logging.WithNode(logging.WithComponent("coordinator"), cfg.NodeID)

	pub := pubsub.NewPublisher(cfg.RedisAddr)
	defer pub.Close()

	ccCfg := coordinator.Config{
		NodeID:            cfg.NodeID,
		Mode:              coordinator.Mode(cfg.CCMode),
		Workers:           cfg.CCWorkers,
		LoanRepAddr:       "http://" + cfg.LoanRepAddr,
		LoanRepPath:       "/loan",
		TopicRenovacion:   cfg.TopicRenovacion,
		TopicDevolucion:   cfg.TopicDevolucion,
		RenewDurationDays: cfg.RenewDurationDays,
	}
	cc := coordinator.New(ccCfg, pub, log)
	cc.Start()

	ccServer := coordinator.NewServer(cc, cfg.CCClientAddr, "/request")
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})}

	go func() {
		if err := ccServer.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("cc-client server exited")
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()

	log.Info().Str("mode", cfg.CCMode).Int("workers", cfg.CCWorkers).Str("addr", cfg.CCClientAddr).
		Msg("coordinator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ccServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("cc-client shutdown error")
	}
	cc.Stop()
	_ = metricsServer.Shutdown(ctx)

	return nil
}
