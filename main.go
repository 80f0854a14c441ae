package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breez/data-store/config"
	"github.com/breez/data-store/manager"
	"github.com/breez/data-store/middleware"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

func main() {
	config, err := config.NewConfig()
	if err != nil {
		startupLogger := zerolog.New(os.Stderr)
		startupLogger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := newLogger(config.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srvMetrics := grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram())
	registry.MustRegister(srvMetrics)

	m, err := manager.New(config, logger, registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open document store")
	}

	grpcListener, err := net.Listen("tcp", config.GrpcListenAddress)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to listen")
	}
	s := CreateServer(config, NewManagedDocStoreServer(m, logger), srvMetrics)

	if config.MetricsListenAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
			logger.Info().Str("address", config.MetricsListenAddress).Msg("Metrics listening")
			if err := http.ListenAndServe(config.MetricsListenAddress, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
	if config.GrpcWebListenAddress != "" {
		go func() {
			logger.Info().Str("address", config.GrpcWebListenAddress).Msg("grpc-web listening")
			if err := http.ListenAndServe(config.GrpcWebListenAddress, grpcWebHandler(s)); err != nil {
				logger.Error().Err(err).Msg("grpc-web server stopped")
			}
		}()
	}

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		<-signals
		logger.Info().Msg("shutting down")
		s.GracefulStop()
	}()

	logger.Info().Str("address", config.GrpcListenAddress).Msg("Server listening")
	if err := s.Serve(grpcListener); err != nil {
		logger.Fatal().Err(err).Msg("failed to serve")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to close document store")
	}
}

func newLogger(level string) zerolog.Logger {
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		l = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(l).With().Timestamp().Logger()
}

func CreateServer(config *config.Config, server DocStoreServer, srvMetrics *grpcprom.ServerMetrics) *grpc.Server {
	s := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             time.Second * 5,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			srvMetrics.UnaryServerInterceptor(),
			middleware.UnaryAuthInterceptor(config),
		),
	)
	RegisterDocStoreServer(s, server)
	srvMetrics.InitializeMetrics(s)
	return s
}

func grpcWebHandler(s *grpc.Server) http.Handler {
	wrapped := grpcweb.WrapServer(s, grpcweb.WithOriginFunc(func(string) bool { return true }))
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(wrapped)
}
