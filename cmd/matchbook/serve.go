package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matchbook/api/grpcserver"
	"matchbook/config"
	"matchbook/infra/sequence"
	exitwal "matchbook/infra/wal/exit"
	"matchbook/jobs/broadcaster"
	"matchbook/service"
	"matchbook/snapshot"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume a live feed and answer book queries until stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("grpc-addr", ":50051", "Listen address of the query API")
	f.String("metrics-addr", ":9090", "Listen address of the metrics endpoint")
	c.bind(f.Lookup("grpc-addr"), "grpc.addr")
	c.bind(f.Lookup("metrics-addr"), "metrics.addr")
	return cmd
}

func (c *cli) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := snapshot.NewRunID()
	if err != nil {
		return err
	}
	log := c.log.With(zap.Stringer("run", runID))
	start := time.Now()

	// ---------------- Metrics ----------------

	promReg := c.prom
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(promReg)

	if c.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{Registry: promReg}))
		srv := &http.Server{Addr: c.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("metrics listening", zap.String("addr", c.cfg.Metrics.Addr))
	}

	// ---------------- Entry journal ----------------

	opts := []service.Option{
		service.WithSequencer(sequence.New(0)),
		service.WithMetrics(metrics),
	}
	j, err := c.openJournal(log)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
		opts = append(opts, service.WithJournal(j))
	}
	reg := service.NewBookRegistry(log, opts...)

	// ---------------- Report outbox ----------------

	var bc *broadcaster.Broadcaster
	var outbox *exitwal.Outbox
	stopBC := func() {}
	if c.cfg.Outbox.Enabled {
		outbox, err = exitwal.Open(c.cfg.Outbox.Dir, log)
		if err != nil {
			return err
		}
		defer outbox.Close()

		bc, err = broadcaster.New(outbox, c.cfg.Kafka.Brokers, c.cfg.Kafka.ReportsTopic, log)
		if err != nil {
			return err
		}
		defer bc.Close()
		bcCtx, cancelBC := context.WithCancel(ctx)
		bcDone := bc.Start(bcCtx)
		stopBC = func() {
			cancelBC()
			<-bcDone
		}
		defer stopBC()
	}

	// ---------------- gRPC ----------------

	if c.cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", c.cfg.GRPC.Addr)
		if err != nil {
			return errors.Wrap(err, "listen grpc")
		}
		g := grpcserver.NewGRPCServer(reg, log)
		go func() {
			if err := g.Serve(lis); err != nil {
				log.Error("grpc server exited", zap.Error(err))
			}
		}()
		defer g.GracefulStop()
		log.Info("query api listening", zap.String("addr", c.cfg.GRPC.Addr))
	}

	// ---------------- Feed ----------------

	if c.cfg.Feed.Kind != config.FeedKafka {
		log.Warn("serve reads a finite feed; it stops at end of feed", zap.String("kind", c.cfg.Feed.Kind))
	}
	src, closeSrc, err := c.openSource(log)
	if err != nil {
		return err
	}
	defer closeSrc()

	n, feedErr := reg.Consume(ctx, src)
	if errors.Is(feedErr, context.Canceled) {
		feedErr = nil
	}
	log.Info("feed stopped", zap.Int("events", n), zap.Error(feedErr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Shutdown.Timeout)
	defer cancel()
	rep, shutdownErr := reg.Shutdown(shutdownCtx)

	report := c.finalReport(reg, runID, time.Since(start), rep)
	if outbox != nil {
		stopBC()
		if err := snapshot.Stage(outbox, report); err != nil {
			return err
		}
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), c.cfg.Shutdown.Timeout)
		defer cancelFlush()
		if _, err := bc.Flush(flushCtx); err != nil {
			log.Warn("final report flush failed", zap.Error(err))
		}
	}
	if c.cfg.Report.Dir != "" {
		if _, err := (&snapshot.Writer{Dir: c.cfg.Report.Dir}).Write(report); err != nil {
			return err
		}
	}
	if err := c.pruneJournal(j, log); err != nil {
		return err
	}

	if feedErr != nil {
		return feedErr
	}
	return shutdownErr
}
