package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/common/config"
	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/common/middleware"
	"github.com/pesio-ai/be-plt-approvals/internal/common/nats"
	"github.com/pesio-ai/be-plt-approvals/internal/handler"
	"github.com/pesio-ai/be-plt-approvals/internal/lock"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// stores groups the persistence ports for the selected driver.
type stores struct {
	flows       service.FlowStore
	requests    service.RequestStore
	history     service.HistoryReader
	directory   service.Directory
	delegations service.DelegationStore
	records     service.RecordStore
	actions     service.ActionSource
	ready       func(ctx context.Context) error
	close       func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer st.close()

	// Redis backs the distributed request lock and the directory cache
	var locker service.Locker = lock.NewLocalLocker()
	var cachedDirectory *client.CachedDirectory
	directory := st.directory
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}

		locker = lock.NewRedisLocker(rdb, lock.RedisConfig{
			TTL:     cfg.Engine.LockTTL,
			Timeout: cfg.Engine.LockTimeout,
		}, log.Component("lock"))
		cachedDirectory = client.NewCachedDirectory(st.directory, rdb, cfg.Redis.DirectoryTTL, log.Component("directory"))
		directory = cachedDirectory
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis lock and directory cache enabled")
	} else {
		log.Warn().Msg("Redis not configured, request locks are local to this instance")
	}

	// Notifications go to NATS when configured, to the log otherwise
	var notifier service.Notifier
	if cfg.NATS.Enabled() {
		nc, err := nats.Connect(nats.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.Service.Name,
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		notifier = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Component("notifications"))
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher enabled")

		if cachedDirectory != nil && cfg.NATS.DirectorySubject != "" {
			unsubscribe, err := cachedDirectory.InvalidateOnChange(nc, cfg.NATS.DirectorySubject)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to subscribe to directory changes")
			}
			defer func() { _ = unsubscribe() }()
			log.Info().Str("subject", cfg.NATS.DirectorySubject).Msg("Directory cache follows change events")
		}
	} else {
		notifier = client.NewLogNotifier(log.Component("notifications"))
	}

	// Load the global action catalog
	catalog, err := service.LoadActionCatalog(ctx, st.actions)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load action catalog")
	}
	if missing := catalog.Missing(); len(missing) > 0 {
		log.Warn().Strs("codes", missing).Msg("Action catalog is incomplete, affected transitions will fail")
	}

	// Initialize services
	engine := service.NewApprovalEngine(service.Dependencies{
		Flows:       st.flows,
		Requests:    st.requests,
		History:     st.history,
		Directory:   directory,
		Delegations: st.delegations,
		Records:     st.records,
		Catalog:     catalog,
		Locker:      locker,
		Notifier:    notifier,
		Metrics:     service.NewMetrics(prometheus.DefaultRegisterer),
		Log:         log.Component("engine"),
	})
	flowService := service.NewFlowService(st.flows, catalog, log.Component("flows"))
	delegationService := service.NewDelegationService(st.delegations, nil, log.Component("delegations"))
	recordService := service.NewRecordService(st.records, log.Component("records"))

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := st.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.NewHTTPHandler(engine, flowService, delegationService, recordService, log.Component("http")).Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(log.Component("grpc"))))
	handler.NewGRPCHandler(engine, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openStores connects the configured persistence driver.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	if cfg.Store.Driver == "memory" {
		log.Warn().Msg("Using the in-memory store, data is lost on restart")
		m := memory.New()
		return &stores{
			flows:       m,
			requests:    m,
			history:     m,
			directory:   m,
			delegations: m,
			records:     m,
			actions:     m,
			ready:       func(context.Context) error { return nil },
			close:       func() {},
		}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if cfg.Database.Migrate {
		if err := repository.Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info().Msg("Database migrations applied")
	}

	return &stores{
		flows:       repository.NewFlowRepository(db),
		requests:    repository.NewRequestRepository(db),
		history:     repository.NewHistoryRepository(db),
		directory:   repository.NewDirectoryRepository(db),
		delegations: repository.NewDelegationRepository(db),
		records:     repository.NewTargetRecordRepository(db),
		actions:     repository.NewActionRepository(db),
		ready:       db.Ping,
		close:       db.Close,
	}, nil
}
