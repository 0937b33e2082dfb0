package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"livecollab/internal/api"
	"livecollab/internal/config"
	"livecollab/internal/models"
	"livecollab/internal/persistence"
	"livecollab/internal/room_management"
	"livecollab/internal/routers"
	"livecollab/internal/services"
	"livecollab/internal/session"
	"livecollab/internal/utils"
)

const shutdownTimeout = 10 * time.Second

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc       = defaultExit
)

func defaultExit(err error) {
	log.Printf("livecollab: %v", err)
	os.Exit(1)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLoggerWithLevel(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	utils.SetJWTSecret([]byte(cfg.JWTSecret))

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	writer := persistence.NewWriter(gw, logger, persistence.WriterOptions{
		Workers: cfg.PersistWorkers,
		Queue:   cfg.PersistQueue,
		Timeout: cfg.PersistTimeout,
	})

	instanceID := uuid.NewString()
	lifecycle := openLifecycle(ctx, cfg, logger)

	registry := session.NewRegistry()
	opts := session.Options{
		Reader:         writer,
		Writes:         writer,
		InstanceID:     instanceID,
		InboxSize:      cfg.InboxSize,
		HydrateTimeout: cfg.HydrateTimeout,
		Log:            logger,
	}
	if lifecycle != nil {
		opts.Lifecycle = lifecycle
	}
	coord := session.NewCoordinator(session.NewStore(), registry, opts)

	coordCtx, stopCoord := context.WithCancel(context.Background())
	go coord.Run(coordCtx)

	if lifecycle != nil {
		go func() {
			err := lifecycle.Subscribe(coordCtx, func(ev models.RoomLifecycleEvent) {
				if ev.InstanceID == instanceID {
					return
				}
				logger.Info("room lifecycle on peer instance",
					"roomId", ev.RoomID, "event", ev.Event, "instanceId", ev.InstanceID)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("lifecycle subscription ended", "error", err)
			}
		}()
	}

	h := api.NewHandlers(logger, coord, registry, room_management.NewAccessManager(logger), api.Options{
		RatePerSec:     cfg.WSRatePerSec,
		RateBurst:      cfg.WSRateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routers.New(logger, h, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()
	logger.Info("livecollab listening", "addr", srv.Addr, "store", cfg.StoreBackend, "instanceId", instanceID)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	stopCoord()
	<-coord.Done()
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Warn("persistence drain incomplete", "error", err, "dropped", writer.Dropped())
	}
	if lifecycle != nil {
		_ = lifecycle.Close()
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warn("store close", "error", err)
	}
	return runErr
}

func openGateway(ctx context.Context, cfg *config.Config) (persistence.Gateway, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		return persistence.NewMongo(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
	case config.BackendRedis:
		return persistence.NewRedis(cfg.RedisAddr), nil
	case config.BackendSQLite:
		return persistence.OpenSQLite(cfg.SQLitePath)
	case config.BackendPostgres:
		return persistence.OpenPostgres(cfg.DatabaseURL)
	case config.BackendMemory:
		return persistence.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// openLifecycle returns nil when REDIS_ADDR is unset or unreachable; the
// service then runs without lifecycle events.
func openLifecycle(ctx context.Context, cfg *config.Config, logger *utils.Logger) *services.LifecycleService {
	if cfg.RedisAddr == "" {
		return nil
	}
	svc := services.NewLifecycleService(cfg.RedisAddr, cfg.RoomEventsChannel, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := svc.Ping(pingCtx); err != nil {
		logger.Warn("lifecycle events disabled, redis unreachable", "addr", cfg.RedisAddr, "error", err)
		_ = svc.Close()
		return nil
	}
	return svc
}
