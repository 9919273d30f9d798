package vault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/db"
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"go.uber.org/zap"
)

// FundingReader is the read side of the funding index cache.
type FundingReader interface {
	GetFundingIndexMap(ctx context.Context, height uint64) (cache.FundingIndexMap, error)
}

// MarketResolver resolves perpetual markets from memory.
type MarketResolver interface {
	GetPerpetualMarketFromClobPairID(clobPairID string) (indexer.PerpetualMarket, bool)
	GetPerpetualMarket(perpetualID string) (indexer.PerpetualMarket, bool)
}

// Config wires a Service.
type Config struct {
	Snapshots     db.SnapshotStore
	PnlTicks      db.PnlTickStore
	Funding       FundingReader
	Markets       MarketResolver
	Mapping       Mapping
	HistoryWindow time.Duration
	Logger        *zap.Logger
	// Pool runs the parallel snapshot reads. Defaults to a pool of 12 workers.
	Pool pond.Pool
}

// Service answers the vault read endpoints. It never writes to a store or cache.
type Service struct {
	snapshots db.SnapshotStore
	pnlTicks  db.PnlTickStore
	funding   FundingReader
	markets   MarketResolver
	mapping   Mapping
	window    time.Duration
	logger    *zap.Logger
	pool      pond.Pool
}

func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Pool == nil {
		cfg.Pool = pond.NewPool(12)
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultPnlHistoryDays * 24 * time.Hour
	}
	return &Service{
		snapshots: cfg.Snapshots,
		pnlTicks:  cfg.PnlTicks,
		funding:   cfg.Funding,
		markets:   cfg.Markets,
		mapping:   cfg.Mapping,
		window:    cfg.HistoryWindow,
		logger:    cfg.Logger,
		pool:      cfg.Pool,
	}
}

func (s *Service) vaultPnlTicks(ctx context.Context, resolution indexer.PnlTickResolution) ([]indexer.PnlTick, error) {
	if s.mapping.Len() == 0 {
		return []indexer.PnlTick{}, nil
	}
	ticks, err := s.pnlTicks.GetPnlTicksAtResolution(ctx, resolution, s.window, s.mapping.SubaccountIDs())
	if err != nil {
		return nil, fmt.Errorf("vault pnl ticks: %w", err)
	}
	return ticks, nil
}

// MegavaultHistoricalPnl returns the vault subaccounts' ticks merged by block height.
func (s *Service) MegavaultHistoricalPnl(ctx context.Context, resolution indexer.PnlTickResolution) (MegavaultHistoricalPnlResponse, error) {
	ticks, err := s.vaultPnlTicks(ctx, resolution)
	if err != nil {
		return MegavaultHistoricalPnlResponse{}, err
	}
	return MegavaultHistoricalPnlResponse{
		MegavaultPnl: pnlTicksToResponse(AggregatePnlTicksByHeight(ticks)),
	}, nil
}

// VaultsHistoricalPnl returns one unmerged series per vault subaccount, sorted by ticker.
func (s *Service) VaultsHistoricalPnl(ctx context.Context, resolution indexer.PnlTickResolution) (VaultsHistoricalPnlResponse, error) {
	ticks, err := s.vaultPnlTicks(ctx, resolution)
	if err != nil {
		return VaultsHistoricalPnlResponse{}, err
	}

	type keyed struct {
		subaccountID string
		pnl          VaultHistoricalPnl
	}
	series := GroupPnlTicksBySubaccount(ticks)
	vaults := make([]keyed, 0, len(series))
	for _, g := range series {
		market, err := s.vaultMarket(g.SubaccountID)
		if err != nil {
			return VaultsHistoricalPnlResponse{}, err
		}
		vaults = append(vaults, keyed{
			subaccountID: g.SubaccountID,
			pnl: VaultHistoricalPnl{
				Ticker:        market.Ticker,
				HistoricalPnl: pnlTicksToResponse(g.Ticks),
			},
		})
	}
	sort.SliceStable(vaults, func(i, j int) bool {
		if vaults[i].pnl.Ticker != vaults[j].pnl.Ticker {
			return vaults[i].pnl.Ticker < vaults[j].pnl.Ticker
		}
		return vaults[i].subaccountID < vaults[j].subaccountID
	})

	out := VaultsHistoricalPnlResponse{VaultsPnl: make([]VaultHistoricalPnl, len(vaults))}
	for i, v := range vaults {
		out.VaultsPnl[i] = v.pnl
	}
	return out, nil
}

// vaultMarket resolves the perpetual market a vault subaccount is mapped to.
func (s *Service) vaultMarket(subaccountID string) (indexer.PerpetualMarket, error) {
	clobPairID, ok := s.mapping.ClobPairID(subaccountID)
	if !ok {
		return indexer.PerpetualMarket{}, errdefs.Configuration("subaccount %s is not a vault", subaccountID)
	}
	market, ok := s.markets.GetPerpetualMarketFromClobPairID(clobPairID)
	if !ok {
		return indexer.PerpetualMarket{}, errdefs.Configuration(
			"vault subaccount %s maps to clob pair %s which has no perpetual market", subaccountID, clobPairID,
		)
	}
	return market, nil
}

type positionsBatch struct {
	subaccounts        []indexer.Subaccount
	assets             []indexer.Asset
	perpetualPositions []indexer.PerpetualPosition
	assetPositions     []indexer.AssetPosition
	markets            []indexer.Market
	latestBlock        *indexer.Block
}

func (s *Service) loadPositionsBatch(ctx context.Context, ids []string) (positionsBatch, error) {
	var b positionsBatch
	group := s.pool.NewGroupContext(ctx)
	gctx := group.Context()

	group.SubmitErr(
		func() (err error) {
			b.subaccounts, err = s.snapshots.FindSubaccounts(gctx, ids)
			return err
		},
		func() (err error) {
			b.assets, err = s.snapshots.FindAssets(gctx)
			return err
		},
		func() (err error) {
			b.perpetualPositions, err = s.snapshots.FindPerpetualPositions(gctx, ids,
				[]indexer.PerpetualPositionStatus{indexer.PerpetualPositionStatusOpen})
			return err
		},
		func() (err error) {
			b.assetPositions, err = s.snapshots.FindAssetPositions(gctx, ids, []string{indexer.USDCAssetID})
			return err
		},
		func() (err error) {
			b.markets, err = s.snapshots.FindMarkets(gctx)
			return err
		},
		func() (err error) {
			b.latestBlock, err = s.snapshots.GetLatestBlock(gctx)
			return err
		},
	)

	if err := group.Wait(); err != nil {
		if errors.Is(err, pond.ErrGroupStopped) {
			err = errdefs.Unavailable("load vault snapshot", err)
		}
		return positionsBatch{}, fmt.Errorf("load vault snapshot: %w", err)
	}
	if b.latestBlock == nil {
		return positionsBatch{}, errdefs.Unavailable("load vault snapshot", errors.New("no block indexed yet"))
	}
	return b, nil
}

// MegavaultPositions returns each vault's USDC balance, open position in its market and
// equity, sorted by ticker. Every funding lookup is anchored to one latest block.
func (s *Service) MegavaultPositions(ctx context.Context) (MegavaultPositionResponse, error) {
	if s.mapping.Len() == 0 {
		return MegavaultPositionResponse{Positions: []VaultPosition{}}, nil
	}

	vaultMarkets := make(map[string]indexer.PerpetualMarket, s.mapping.Len())
	for _, e := range s.mapping.Entries() {
		market, err := s.vaultMarket(e.SubaccountID)
		if err != nil {
			return MegavaultPositionResponse{}, err
		}
		vaultMarkets[e.SubaccountID] = market
	}

	batch, err := s.loadPositionsBatch(ctx, s.mapping.SubaccountIDs())
	if err != nil {
		return MegavaultPositionResponse{}, err
	}

	latestFunding, err := s.funding.GetFundingIndexMap(ctx, batch.latestBlock.BlockHeight)
	if err != nil {
		return MegavaultPositionResponse{}, fmt.Errorf("funding index at latest block %d: %w", batch.latestBlock.BlockHeight, err)
	}

	assets := make(map[string]indexer.Asset, len(batch.assets))
	for _, a := range batch.assets {
		assets[a.ID] = a
	}
	markets := make(map[int32]indexer.Market, len(batch.markets))
	for _, m := range batch.markets {
		markets[m.ID] = m
	}
	perpsBySubaccount := make(map[string][]indexer.PerpetualPosition)
	perpetualMarkets := make(map[string]indexer.PerpetualMarket)
	for _, p := range batch.perpetualPositions {
		perpsBySubaccount[p.SubaccountID] = append(perpsBySubaccount[p.SubaccountID], p)
		if pm, ok := s.markets.GetPerpetualMarket(p.PerpetualID); ok {
			perpetualMarkets[p.PerpetualID] = pm
		}
	}
	assetsBySubaccount := make(map[string][]indexer.AssetPosition)
	for _, p := range batch.assetPositions {
		assetsBySubaccount[p.SubaccountID] = append(assetsBySubaccount[p.SubaccountID], p)
	}

	lastUpdatedMaps := make(map[uint64]cache.FundingIndexMap)
	positions := make([]VaultPosition, 0, len(batch.subaccounts))
	subaccountOf := make(map[int]string, len(batch.subaccounts))

	for _, sub := range batch.subaccounts {
		market, ok := vaultMarkets[sub.ID]
		if !ok {
			continue
		}
		perps := perpsBySubaccount[sub.ID]

		var lastUpdated cache.FundingIndexMap
		if NeedsLastUpdatedFundingIndex(perps) {
			if lastUpdated, ok = lastUpdatedMaps[sub.UpdatedAtHeight]; !ok {
				lastUpdated, err = s.funding.GetFundingIndexMap(ctx, sub.UpdatedAtHeight)
				if err != nil {
					return MegavaultPositionResponse{}, fmt.Errorf("funding index at height %d: %w", sub.UpdatedAtHeight, err)
				}
				lastUpdatedMaps[sub.UpdatedAtHeight] = lastUpdated
			}
		}

		snap, err := ComputeSubaccountSnapshot(EquityInput{
			Subaccount:              sub,
			AssetPositions:          assetsBySubaccount[sub.ID],
			PerpetualPositions:      perps,
			Assets:                  assets,
			Markets:                 markets,
			PerpetualMarkets:        perpetualMarkets,
			LatestFundingIndex:      latestFunding,
			LastUpdatedFundingIndex: lastUpdated,
		})
		if err != nil {
			return MegavaultPositionResponse{}, fmt.Errorf("equity of vault %s: %w", sub.ID, err)
		}

		subaccountOf[len(positions)] = sub.ID
		positions = append(positions, projectVaultPosition(market.Ticker, snap))
	}

	order := make([]int, len(positions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := positions[order[a]], positions[order[b]]
		if pa.Ticker != pb.Ticker {
			return pa.Ticker < pb.Ticker
		}
		return subaccountOf[order[a]] < subaccountOf[order[b]]
	})
	sorted := make([]VaultPosition, len(positions))
	for i, idx := range order {
		sorted[i] = positions[idx]
	}

	s.logger.Debug("Computed megavault positions",
		zap.Int("vaults", len(sorted)),
		zap.Uint64("latestHeight", batch.latestBlock.BlockHeight))
	return MegavaultPositionResponse{Positions: sorted}, nil
}

// projectVaultPosition picks the USDC balance and the position in the vault's own market.
func projectVaultPosition(ticker string, snap SubaccountSnapshot) VaultPosition {
	vp := VaultPosition{Ticker: ticker, Equity: snap.Equity.String()}
	if ap, ok := snap.AssetPositions[indexer.USDCSymbol]; ok {
		vp.AssetPosition = assetPositionToResponse(ap)
	}
	if pp, ok := snap.OpenPerpetualPositions[ticker]; ok {
		vp.PerpetualPosition = perpetualPositionToResponse(pp)
	}
	return vp
}
