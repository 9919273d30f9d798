package ingestor

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/canopy-network/perpindexer/pkg/ingest"
	"github.com/canopy-network/perpindexer/pkg/logging"
	"github.com/canopy-network/perpindexer/pkg/metrics"
	"github.com/canopy-network/perpindexer/pkg/redis"
	"github.com/canopy-network/perpindexer/pkg/utils"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const component = "ingestor"

type App struct {
	Consumer      *redis.StreamConsumer
	Applier       *ingest.Applier
	RedisClient   *redis.Client
	MetricsServer *http.Server
	Logger        *zap.Logger
}

// Start consumes the update stream until the context is canceled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.MetricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	err := a.Consumer.Run(ctx, a.Applier.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Stream consumer stopped", zap.Error(err))
	}
	a.Stop()
}

// Stop releases connections.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.MetricsServer.Shutdown(shutdownCtx)

	if err := a.RedisClient.Close(); err != nil {
		a.Logger.Error("Failed to close redis connection", zap.Error(err))
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New(component)
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to redis", zap.Error(err))
	}

	hostname, _ := os.Hostname()
	consumer, err := redis.NewStreamConsumer(redisClient, redis.StreamConsumerConfig{
		Stream:   utils.Env("INGEST_STREAM", "perpindexer:cache_updates"),
		Group:    utils.Env("INGEST_GROUP", "perpindexer-ingestor"),
		Consumer: utils.Env("INGEST_CONSUMER", hostname),
		Count:    int64(utils.EnvInt("INGEST_BATCH_SIZE", 100)),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Invalid stream consumer configuration", zap.Error(err))
	}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	applier := ingest.NewApplier(redisClient, utils.EnvDuration("FILL_DEDUP_TTL", ingest.DefaultFillDedupTTL), logger)
	if stream := utils.Env("INGEST_DEAD_LETTER_STREAM", ""); stream != "" {
		applier.WithDeadLetter(redisClient, stream)
	}

	return &App{
		Consumer:    consumer,
		Applier:     applier,
		RedisClient: redisClient,
		MetricsServer: &http.Server{
			Addr:              utils.Env("METRICS_ADDR", ":9090"),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Logger: logger,
	}
}
