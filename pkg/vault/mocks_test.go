package vault

import (
	"context"
	"time"

	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/stretchr/testify/mock"
)

type mockSnapshots struct {
	mock.Mock
}

func (m *mockSnapshots) FindSubaccounts(ctx context.Context, ids []string) ([]indexer.Subaccount, error) {
	args := m.Called(ctx, ids)
	if v := args.Get(0); v != nil {
		return v.([]indexer.Subaccount), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) FindAssets(ctx context.Context) ([]indexer.Asset, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]indexer.Asset), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) FindMarkets(ctx context.Context) ([]indexer.Market, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]indexer.Market), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) FindPerpetualMarkets(ctx context.Context) ([]indexer.PerpetualMarket, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]indexer.PerpetualMarket), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) FindPerpetualPositions(ctx context.Context, ids []string, statuses []indexer.PerpetualPositionStatus) ([]indexer.PerpetualPosition, error) {
	args := m.Called(ctx, ids, statuses)
	if v := args.Get(0); v != nil {
		return v.([]indexer.PerpetualPosition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) FindAssetPositions(ctx context.Context, ids, assetIDs []string) ([]indexer.AssetPosition, error) {
	args := m.Called(ctx, ids, assetIDs)
	if v := args.Get(0); v != nil {
		return v.([]indexer.AssetPosition), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) GetLatestBlock(ctx context.Context) (*indexer.Block, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*indexer.Block), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSnapshots) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockPnlTicks struct {
	mock.Mock
}

func (m *mockPnlTicks) GetPnlTicksAtResolution(ctx context.Context, resolution indexer.PnlTickResolution, window time.Duration, ids []string) ([]indexer.PnlTick, error) {
	args := m.Called(ctx, resolution, window, ids)
	if v := args.Get(0); v != nil {
		return v.([]indexer.PnlTick), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPnlTicks) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockFunding struct {
	mock.Mock
}

func (m *mockFunding) GetFundingIndexMap(ctx context.Context, height uint64) (cache.FundingIndexMap, error) {
	args := m.Called(ctx, height)
	if v := args.Get(0); v != nil {
		return v.(cache.FundingIndexMap), args.Error(1)
	}
	return nil, args.Error(1)
}

// staticMarkets resolves from a fixed list.
type staticMarkets []indexer.PerpetualMarket

func (s staticMarkets) GetPerpetualMarketFromClobPairID(clobPairID string) (indexer.PerpetualMarket, bool) {
	for _, m := range s {
		if m.ClobPairID == clobPairID {
			return m, true
		}
	}
	return indexer.PerpetualMarket{}, false
}

func (s staticMarkets) GetPerpetualMarket(perpetualID string) (indexer.PerpetualMarket, bool) {
	for _, m := range s {
		if m.ID == perpetualID {
			return m, true
		}
	}
	return indexer.PerpetualMarket{}, false
}
