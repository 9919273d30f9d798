package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testMarkets = staticMarkets{
	{ID: "0", ClobPairID: "0", Ticker: "BTC-USD", MarketID: 0},
	{ID: "1", ClobPairID: "1", Ticker: "ETH-USD", MarketID: 1},
}

type serviceFixture struct {
	snapshots *mockSnapshots
	pnlTicks  *mockPnlTicks
	funding   *mockFunding
	service   *Service
}

func newServiceFixture(t *testing.T, mapping Mapping) serviceFixture {
	f := serviceFixture{
		snapshots: &mockSnapshots{},
		pnlTicks:  &mockPnlTicks{},
		funding:   &mockFunding{},
	}
	f.service = NewService(Config{
		Snapshots:     f.snapshots,
		PnlTicks:      f.pnlTicks,
		Funding:       f.funding,
		Markets:       testMarkets,
		Mapping:       mapping,
		HistoryWindow: 24 * time.Hour,
		Logger:        zaptest.NewLogger(t),
	})
	t.Cleanup(func() {
		f.snapshots.AssertExpectations(t)
		f.pnlTicks.AssertExpectations(t)
		f.funding.AssertExpectations(t)
	})
	return f
}

func mustMapping(t *testing.T, subaccounts, clobPairs string) Mapping {
	m, err := ParseMapping(subaccounts, clobPairs)
	require.NoError(t, err)
	return m
}

func TestEmptyMappingTouchesNoStore(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, Mapping{})

	pnl, err := f.service.MegavaultHistoricalPnl(ctx, indexer.PnlTickResolutionDay)
	require.NoError(t, err)
	assert.Empty(t, pnl.MegavaultPnl)
	assert.NotNil(t, pnl.MegavaultPnl)

	vaults, err := f.service.VaultsHistoricalPnl(ctx, indexer.PnlTickResolutionHour)
	require.NoError(t, err)
	assert.Empty(t, vaults.VaultsPnl)

	positions, err := f.service.MegavaultPositions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, positions.Positions)
	assert.Empty(t, positions.Positions)
}

func TestMegavaultHistoricalPnlMergesByHeight(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, mustMapping(t, vaultA+","+vaultB, "0,1"))
	f.pnlTicks.On("GetPnlTicksAtResolution", ctx, indexer.PnlTickResolutionDay, 24*time.Hour, []string{vaultA, vaultB}).
		Return([]indexer.PnlTick{
			tick("a10", vaultA, 10, "110"),
			tick("a20", vaultA, 20, "120"),
			tick("b20", vaultB, 20, "200"),
			tick("b30", vaultB, 30, "300"),
		}, nil)

	got, err := f.service.MegavaultHistoricalPnl(ctx, indexer.PnlTickResolutionDay)
	require.NoError(t, err)
	require.Len(t, got.MegavaultPnl, 3)
	assert.Equal(t, "20", got.MegavaultPnl[1].BlockHeight)
	assert.Equal(t, "320", got.MegavaultPnl[1].Equity)
	assert.Equal(t, "2024-01-01T00:20:00.000Z", got.MegavaultPnl[1].BlockTime)
}

func TestHistoricalPnlStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, mustMapping(t, vaultA, "0"))
	f.pnlTicks.On("GetPnlTicksAtResolution", ctx, indexer.PnlTickResolutionHour, 24*time.Hour, []string{vaultA}).
		Return(nil, errdefs.Unavailable("query pnl ticks", errors.New("connection refused")))

	_, err := f.service.MegavaultHistoricalPnl(ctx, indexer.PnlTickResolutionHour)
	assert.ErrorIs(t, err, errdefs.ErrUpstreamUnavailable)
}

func TestVaultsHistoricalPnlSortedByTicker(t *testing.T) {
	ctx := context.Background()
	// vaultA trades ETH, vaultB trades BTC.
	f := newServiceFixture(t, mustMapping(t, vaultA+","+vaultB, "1,0"))
	f.pnlTicks.On("GetPnlTicksAtResolution", ctx, indexer.PnlTickResolutionDay, 24*time.Hour, []string{vaultA, vaultB}).
		Return([]indexer.PnlTick{
			tick("a10", vaultA, 10, "110"),
			tick("a20", vaultA, 20, "120"),
			tick("b20", vaultB, 20, "200"),
		}, nil)

	got, err := f.service.VaultsHistoricalPnl(ctx, indexer.PnlTickResolutionDay)
	require.NoError(t, err)
	require.Len(t, got.VaultsPnl, 2)
	assert.Equal(t, "BTC-USD", got.VaultsPnl[0].Ticker)
	require.Len(t, got.VaultsPnl[0].HistoricalPnl, 1)
	assert.Equal(t, "200", got.VaultsPnl[0].HistoricalPnl[0].Equity)
	assert.Equal(t, "ETH-USD", got.VaultsPnl[1].Ticker)
	require.Len(t, got.VaultsPnl[1].HistoricalPnl, 2)
	assert.Equal(t, "120", got.VaultsPnl[1].HistoricalPnl[1].Equity)
}

func TestVaultsHistoricalPnlSameTickerKeepsSeparateEntries(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, mustMapping(t, vaultB+","+vaultA, "0,0"))
	f.pnlTicks.On("GetPnlTicksAtResolution", ctx, indexer.PnlTickResolutionDay, 24*time.Hour, []string{vaultB, vaultA}).
		Return([]indexer.PnlTick{
			tick("b10", vaultB, 10, "200"),
			tick("a10", vaultA, 10, "110"),
			tick("a20", vaultA, 20, "120"),
		}, nil)

	got, err := f.service.VaultsHistoricalPnl(ctx, indexer.PnlTickResolutionDay)
	require.NoError(t, err)
	require.Len(t, got.VaultsPnl, 2)

	first, second := got.VaultsPnl[0], got.VaultsPnl[1]
	assert.Equal(t, "BTC-USD", first.Ticker)
	assert.Equal(t, "BTC-USD", second.Ticker)

	require.Len(t, first.HistoricalPnl, 2)
	assert.Equal(t, vaultA, first.HistoricalPnl[0].SubaccountID)
	assert.Equal(t, "110", first.HistoricalPnl[0].Equity)
	assert.Equal(t, "120", first.HistoricalPnl[1].Equity)

	require.Len(t, second.HistoricalPnl, 1)
	assert.Equal(t, vaultB, second.HistoricalPnl[0].SubaccountID)
	assert.Equal(t, "200", second.HistoricalPnl[0].Equity)
}

func TestVaultsHistoricalPnlUnknownMarket(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, mustMapping(t, vaultA, "9"))
	f.pnlTicks.On("GetPnlTicksAtResolution", ctx, indexer.PnlTickResolutionDay, 24*time.Hour, []string{vaultA}).
		Return([]indexer.PnlTick{tick("a10", vaultA, 10, "110")}, nil)

	_, err := f.service.VaultsHistoricalPnl(ctx, indexer.PnlTickResolutionDay)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestMegavaultPositionsUnknownMarketSkipsReads(t *testing.T) {
	f := newServiceFixture(t, mustMapping(t, vaultA, "9"))

	_, err := f.service.MegavaultPositions(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func expectSnapshot(f serviceFixture, ids []string, subaccounts []indexer.Subaccount, perps []indexer.PerpetualPosition, assets []indexer.AssetPosition, block *indexer.Block) {
	ctx := mock.Anything
	f.snapshots.On("FindSubaccounts", ctx, ids).Return(subaccounts, nil)
	f.snapshots.On("FindAssets", ctx).Return([]indexer.Asset{{ID: indexer.USDCAssetID, Symbol: indexer.USDCSymbol}}, nil)
	f.snapshots.On("FindPerpetualPositions", ctx, ids, []indexer.PerpetualPositionStatus{indexer.PerpetualPositionStatusOpen}).
		Return(perps, nil)
	f.snapshots.On("FindAssetPositions", ctx, ids, []string{indexer.USDCAssetID}).Return(assets, nil)
	f.snapshots.On("FindMarkets", ctx).Return([]indexer.Market{
		{ID: 0, Pair: "BTC-USD", OraclePrice: price("100")},
		{ID: 1, Pair: "ETH-USD", OraclePrice: price("10")},
	}, nil)
	f.snapshots.On("GetLatestBlock", ctx).Return(block, nil)
}

func TestMegavaultPositions(t *testing.T) {
	ctx := context.Background()
	ids := []string{vaultA, vaultB}
	f := newServiceFixture(t, mustMapping(t, vaultA+","+vaultB, "1,0"))

	expectSnapshot(f, ids,
		[]indexer.Subaccount{
			{ID: vaultA, SubaccountNumber: 0, UpdatedAtHeight: 40},
			{ID: vaultB, SubaccountNumber: 0, UpdatedAtHeight: 50},
		},
		[]indexer.PerpetualPosition{
			{
				ID: "pp-a", SubaccountID: vaultA, PerpetualID: "1", Side: indexer.PositionSideShort,
				Status: indexer.PerpetualPositionStatusOpen, Size: d("-5"), EntryPrice: d("12"),
				CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), CreatedAtHeight: 30,
			},
			{
				ID: "pp-b", SubaccountID: vaultB, PerpetualID: "0", Side: indexer.PositionSideLong,
				Status: indexer.PerpetualPositionStatusOpen, Size: d("1"), EntryPrice: d("90"),
				EntryFundingIndex: decimal.NewNullDecimal(d("2")),
			},
		},
		[]indexer.AssetPosition{
			{ID: "ap-a", SubaccountID: vaultA, AssetID: indexer.USDCAssetID, Size: d("500"), IsLong: true},
		},
		&indexer.Block{BlockHeight: 100},
	)
	f.funding.On("GetFundingIndexMap", ctx, uint64(100)).
		Return(cache.FundingIndexMap{"0": d("3"), "1": d("1")}, nil).Once()
	// Only vaultA's position lacks an entry index.
	f.funding.On("GetFundingIndexMap", ctx, uint64(40)).
		Return(cache.FundingIndexMap{"1": d("0.5")}, nil).Once()

	got, err := f.service.MegavaultPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got.Positions, 2)

	btc := got.Positions[0]
	assert.Equal(t, "BTC-USD", btc.Ticker)
	assert.Nil(t, btc.AssetPosition)
	require.NotNil(t, btc.PerpetualPosition)
	assert.Equal(t, "10", btc.PerpetualPosition.UnrealizedPnl)
	// 1*100 + (3-2)*1
	assert.Equal(t, "101", btc.Equity)

	eth := got.Positions[1]
	assert.Equal(t, "ETH-USD", eth.Ticker)
	require.NotNil(t, eth.AssetPosition)
	assert.Equal(t, "500", eth.AssetPosition.Size)
	require.NotNil(t, eth.PerpetualPosition)
	assert.Equal(t, indexer.PositionSideShort, eth.PerpetualPosition.Side)
	assert.Equal(t, "ETH-USD", eth.PerpetualPosition.Market)
	assert.Equal(t, "30", eth.PerpetualPosition.CreatedAtHeight)
	// 500 + -5*10 + (1-0.5)*-5
	assert.Equal(t, "447.5", eth.Equity)
}

func TestMegavaultPositionsOmitsMissingSubaccount(t *testing.T) {
	ctx := context.Background()
	ids := []string{vaultA, vaultB}
	f := newServiceFixture(t, mustMapping(t, vaultA+","+vaultB, "1,0"))
	expectSnapshot(f, ids,
		[]indexer.Subaccount{{ID: vaultB}},
		[]indexer.PerpetualPosition{},
		[]indexer.AssetPosition{{ID: "ap-b", SubaccountID: vaultB, AssetID: indexer.USDCAssetID, Size: d("10"), IsLong: true}},
		&indexer.Block{BlockHeight: 7},
	)
	f.funding.On("GetFundingIndexMap", ctx, uint64(7)).Return(cache.FundingIndexMap{}, nil)

	got, err := f.service.MegavaultPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, "BTC-USD", got.Positions[0].Ticker)
	assert.Nil(t, got.Positions[0].PerpetualPosition)
	assert.Equal(t, "10", got.Positions[0].Equity)
}

func TestMegavaultPositionsWithoutBlock(t *testing.T) {
	ids := []string{vaultA}
	f := newServiceFixture(t, mustMapping(t, vaultA, "0"))
	expectSnapshot(f, ids, []indexer.Subaccount{{ID: vaultA}}, nil, nil, nil)

	_, err := f.service.MegavaultPositions(context.Background())
	assert.ErrorIs(t, err, errdefs.ErrUpstreamUnavailable)
}

func TestMegavaultPositionsReadFailure(t *testing.T) {
	ctx := context.Background()
	ids := []string{vaultA}
	f := newServiceFixture(t, mustMapping(t, vaultA, "0"))
	failure := errdefs.Unavailable("find assets", errors.New("timeout"))

	f.snapshots.On("FindSubaccounts", mock.Anything, ids).Return([]indexer.Subaccount{{ID: vaultA}}, nil).Maybe()
	f.snapshots.On("FindAssets", mock.Anything).Return(nil, failure)
	f.snapshots.On("FindPerpetualPositions", mock.Anything, ids, mock.Anything).Return([]indexer.PerpetualPosition{}, nil).Maybe()
	f.snapshots.On("FindAssetPositions", mock.Anything, ids, mock.Anything).Return([]indexer.AssetPosition{}, nil).Maybe()
	f.snapshots.On("FindMarkets", mock.Anything).Return([]indexer.Market{}, nil).Maybe()
	f.snapshots.On("GetLatestBlock", mock.Anything).Return(&indexer.Block{BlockHeight: 1}, nil).Maybe()

	_, err := f.service.MegavaultPositions(ctx)
	assert.ErrorIs(t, err, errdefs.ErrUpstreamUnavailable)
}
