package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/zapline/internal/config"
	"github.com/alfredjeanlab/zapline/internal/events"
	"github.com/alfredjeanlab/zapline/internal/ledger"
	"github.com/alfredjeanlab/zapline/internal/metrics"
	"github.com/alfredjeanlab/zapline/internal/receipts"
	"github.com/alfredjeanlab/zapline/internal/server"
	snapshot "github.com/alfredjeanlab/zapline/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the receipt subscriber, relay retries, reply ingestion and ops server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withIngest, _ := cmd.Flags().GetBool("ingest")
		idle, _ := cmd.Flags().GetDuration("idle")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, cmd.ErrOrStderr())
		if err := cfg.RequireRelays(); err != nil {
			return err
		}
		keys, err := loadKeys(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		evPub, err := openEvents(cfg, logger)
		if err != nil {
			return err
		}
		defer evPub.Close()
		q, err := openQueue(ctx, cfg)
		if err != nil {
			return err
		}
		defer q.Close()

		m := metrics.New()
		pub, err := newPublisher(cfg, keys, st, q, evPub, m, logger)
		if err != nil {
			return err
		}

		l := ledger.New(m, evPub, logger)
		ops := server.NewOpsServer(st, l, m, logger)

		var wg sync.WaitGroup
		goRun := func(name string, fn func()) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn()
				logger.Info("worker stopped", "worker", name)
			}()
		}

		// Receipt subscriber.
		if cfg.NATSURL != "" {
			ccfg := events.ReceiptConsumerConfig()
			ccfg.Logger = logger
			consumer, err := events.NewDurableConsumer(ctx, cfg.NATSURL, ccfg)
			if err != nil {
				return err
			}
			defer consumer.Close()
			h := receipts.NewHandler(l, st, evPub, m, logger)
			goRun("receipts", func() {
				if err := h.StartSubscriber(ctx, consumer); err != nil {
					logger.Error("receipt subscriber error", "err", err)
				}
			})
		} else {
			logger.Info("receipt subscriber disabled (ZAPLINE_NATS_URL not set)")
		}

		// Relay retries.
		goRun("relay-retries", func() { pub.RunRetries(ctx, cfg.RetryInterval) })

		// Reply ingestion, one loop per shard.
		if withIngest {
			in, err := newIngestor(cfg, st, q, evPub, m, logger)
			if err != nil {
				return err
			}
			for shard := 0; shard < cfg.Shards; shard++ {
				goRun("ingest", func() {
					if err := in.Run(ctx, shard, cfg.Shards, idle); err != nil {
						logger.Error("reply ingestor stopped", "shard", shard, "err", err)
					}
				})
			}
		}

		// Ledger snapshots.
		var scheduler *snapshot.Scheduler
		if cfg.SyncS3Bucket != "" && cfg.SyncInterval > 0 {
			dest, err := snapshot.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Prefix, cfg.SyncS3Region, cfg.SyncS3Endpoint)
			if err != nil {
				logger.Error("failed to create S3 snapshot destination", "err", err)
			} else {
				scheduler = snapshot.NewScheduler(st, []snapshot.Destination{dest}, cfg.SyncInterval, logger)
				scheduler.Start(ctx)
				logger.Info("ledger snapshots enabled", "bucket", cfg.SyncS3Bucket, "key", dest.Key(), "interval", cfg.SyncInterval)
			}
		}

		// Ops servers.
		grpcServer := server.NewGRPCServer(ops, cfg.OpsToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           ops.NewHTTPHandler(cfg.OpsToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		ops.SetServing(true)
		logger.Info("zapline server started",
			"relays", len(cfg.Relays),
			"queue", cfg.Queue,
			"shards", cfg.Shards,
		)

		<-ctx.Done()
		logger.Info("shutting down")

		ops.Shutdown()
		if scheduler != nil {
			scheduler.Stop()
		}
		wg.Wait()

		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().Bool("ingest", true, "run a reply ingestor for every shard")
	serveCmd.Flags().Duration("idle", 5*time.Second, "sleep between polls of an empty shard")
}
