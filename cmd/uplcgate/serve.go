package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mgpai22/uplcgate"
	"github.com/mgpai22/uplcgate/internal/hostproto"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer framed host protocol requests on stdin/stdout",
		Long: `Reads 4-byte length-prefixed CBOR request frames from stdin and writes one
response frame per request to stdout, strictly in order. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, engine, err := flags.setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer engine.Close(context.Background())

			opts := []uplcgate.Option{uplcgate.WithLogger(logger.Named("gateway"))}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				opts = append(opts, uplcgate.WithMetrics(uplcgate.NewMetrics(reg)))

				srv := startMetricsServer(metricsAddr, reg, logger)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			server := hostproto.NewServer(uplcgate.New(engine, opts...),
				hostproto.WithMaxFrameSize(cfg.MaxFrameSize),
				hostproto.WithServerLogger(logger.Named("hostproto")))

			logger.Info("serving host protocol on stdin/stdout",
				zap.String("wasm", cfg.Engine.WasmFile),
				zap.Uint32("max_frame_size", cfg.MaxFrameSize))

			err = server.Serve(ctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
	return cmd
}

func startMetricsServer(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("metrics server started", zap.String("addr", addr))
	return srv
}
