package query

import (
	"context"
	"time"

	"github.com/canopy-network/perpindexer/app/query/types"
	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/db/clickhouse"
	"github.com/canopy-network/perpindexer/pkg/db/clickhouse/pnl"
	"github.com/canopy-network/perpindexer/pkg/db/postgres"
	"github.com/canopy-network/perpindexer/pkg/db/postgres/snapshot"
	"github.com/canopy-network/perpindexer/pkg/logging"
	"github.com/canopy-network/perpindexer/pkg/markets"
	"github.com/canopy-network/perpindexer/pkg/ratelimit"
	"github.com/canopy-network/perpindexer/pkg/redis"
	"github.com/canopy-network/perpindexer/pkg/utils"
	"github.com/canopy-network/perpindexer/pkg/vault"
	"go.uber.org/zap"
)

const component = "query"

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New(component)
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	// Bad vault configuration must stop the process, never fail requests one by one.
	mapping, err := vault.LoadMappingFromEnv()
	if err != nil {
		logger.Fatal("Invalid vault configuration", zap.Error(err))
	}
	logger.Info("Loaded vault mapping", zap.Int("vaults", mapping.Len()))

	redisClient, err := redis.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect to redis", zap.Error(err))
	}

	snapshots, err := snapshot.NewWithPoolConfig(ctx, logger,
		utils.Env("POSTGRES_DATABASE", "perpindexer"),
		*postgres.GetPoolConfigForComponent(component),
		utils.EnvBool("POSTGRES_INITIALIZE", false),
	)
	if err != nil {
		logger.Fatal("Unable to initialize snapshot store", zap.Error(err))
	}

	pnlTicks, err := pnl.New(ctx, logger,
		utils.Env("CLICKHOUSE_DATABASE", "perpindexer"),
		clickhouse.GetPoolConfigForComponent(component),
	)
	if err != nil {
		logger.Fatal("Unable to initialize pnl tick store", zap.Error(err))
	}

	marketsStaleAfter := utils.EnvDuration("MARKET_STALE_AFTER", 5*time.Minute)
	refresher := markets.NewRefresher(snapshots, logger)
	if err := refresher.Start(ctx, utils.Env("MARKET_REFRESH_CRON", "@every 30s")); err != nil {
		logger.Fatal("Unable to load perpetual markets", zap.Error(err))
	}

	vaults := vault.NewService(vault.Config{
		Snapshots:     snapshots,
		PnlTicks:      pnlTicks,
		Funding:       cache.NewFundingIndexCache(redisClient),
		Markets:       refresher,
		Mapping:       mapping,
		HistoryWindow: vault.PnlHistoryWindowFromEnv(),
		Logger:        logger,
	})

	app := &types.App{
		Vaults: vaults,
		Dependencies: []types.Dependency{
			{Name: "redis", Ping: redisClient.Ping},
			{Name: "postgres", Ping: snapshots.Ping},
			{Name: "clickhouse", Ping: pnlTicks.Ping},
			{Name: "markets", Ping: func(context.Context) error { return refresher.CheckFresh(marketsStaleAfter) }},
		},
		Limiter: ratelimit.NewFromEnv(),
		Closers: []func() error{
			func() error { refresher.Stop(); return nil },
			redisClient.Close,
			pnlTicks.Close,
			func() error { snapshots.Close(); return nil },
		},
		Logger: logger,
	}

	return app
}
