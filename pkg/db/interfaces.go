package db

import (
	"context"
	"time"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
)

// SnapshotStore exposes the relational snapshot reads the aggregation engine performs.
// Every read failure wraps errdefs.ErrUpstreamUnavailable.
type SnapshotStore interface {
	FindSubaccounts(ctx context.Context, ids []string) ([]indexer.Subaccount, error)
	FindAssets(ctx context.Context) ([]indexer.Asset, error)
	FindMarkets(ctx context.Context) ([]indexer.Market, error)
	FindPerpetualMarkets(ctx context.Context) ([]indexer.PerpetualMarket, error)
	FindPerpetualPositions(ctx context.Context, subaccountIDs []string, statuses []indexer.PerpetualPositionStatus) ([]indexer.PerpetualPosition, error)
	FindAssetPositions(ctx context.Context, subaccountIDs, assetIDs []string) ([]indexer.AssetPosition, error)
	// GetLatestBlock returns nil when no block has been indexed yet.
	GetLatestBlock(ctx context.Context) (*indexer.Block, error)
	Ping(ctx context.Context) error
}

// PnlTickStore reads sampled PnL ticks.
type PnlTickStore interface {
	// GetPnlTicksAtResolution returns at most one tick per (subaccount, resolution bucket)
	// whose block time falls within window of now, ordered by subaccount then block height.
	GetPnlTicksAtResolution(ctx context.Context, resolution indexer.PnlTickResolution, window time.Duration, subaccountIDs []string) ([]indexer.PnlTick, error)
	Ping(ctx context.Context) error
}
