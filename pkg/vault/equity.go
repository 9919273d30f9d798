package vault

import (
	"time"

	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/shopspring/decimal"
)

// EquityInput is everything equity depends on. Maps are keyed by id.
type EquityInput struct {
	Subaccount         indexer.Subaccount
	AssetPositions     []indexer.AssetPosition
	PerpetualPositions []indexer.PerpetualPosition
	Assets             map[string]indexer.Asset
	Markets            map[int32]indexer.Market
	PerpetualMarkets   map[string]indexer.PerpetualMarket
	// LatestFundingIndex is the funding index map at the snapshot's latest block.
	LatestFundingIndex cache.FundingIndexMap
	// LastUpdatedFundingIndex is the map at Subaccount.UpdatedAtHeight, used for
	// positions without an entry funding index. Nil when no position needs it.
	LastUpdatedFundingIndex cache.FundingIndexMap
}

type AssetPositionView struct {
	Symbol           string
	Side             indexer.PositionSide
	Size             decimal.Decimal
	AssetID          string
	SubaccountNumber uint32
}

type PerpetualPositionView struct {
	Ticker           string
	Status           indexer.PerpetualPositionStatus
	Side             indexer.PositionSide
	Size             decimal.Decimal
	MaxSize          decimal.Decimal
	EntryPrice       decimal.Decimal
	RealizedPnl      decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	NetFunding       decimal.Decimal
	SumOpen          decimal.Decimal
	SumClose         decimal.Decimal
	CreatedAt        time.Time
	CreatedAtHeight  uint64
	SubaccountNumber uint32
}

// SubaccountSnapshot is a subaccount's equity with its positions keyed by asset
// symbol and by perpetual ticker.
type SubaccountSnapshot struct {
	Equity                 decimal.Decimal
	AssetPositions         map[string]AssetPositionView
	OpenPerpetualPositions map[string]PerpetualPositionView
}

// NeedsLastUpdatedFundingIndex reports whether any open position lacks an entry funding index.
func NeedsLastUpdatedFundingIndex(positions []indexer.PerpetualPosition) bool {
	for _, p := range positions {
		if p.Status == indexer.PerpetualPositionStatusOpen && !p.EntryFundingIndex.Valid {
			return true
		}
	}
	return false
}

// ComputeSubaccountSnapshot computes equity as the USD value of asset balances plus the
// notional of every open perpetual position plus its unsettled funding
// (latestIndex - entryIndex) * size. It reads nothing but in.
func ComputeSubaccountSnapshot(in EquityInput) (SubaccountSnapshot, error) {
	snap := SubaccountSnapshot{
		Equity:                 decimal.Zero,
		AssetPositions:         make(map[string]AssetPositionView, len(in.AssetPositions)),
		OpenPerpetualPositions: make(map[string]PerpetualPositionView, len(in.PerpetualPositions)),
	}

	for _, ap := range in.AssetPositions {
		asset, ok := in.Assets[ap.AssetID]
		if !ok {
			return SubaccountSnapshot{}, errdefs.Configuration("asset position %s references unknown asset %s", ap.ID, ap.AssetID)
		}
		value, err := assetUSDValue(asset, ap.SignedSize(), in.Markets)
		if err != nil {
			return SubaccountSnapshot{}, err
		}
		snap.Equity = snap.Equity.Add(value)

		side := indexer.PositionSideLong
		if !ap.IsLong {
			side = indexer.PositionSideShort
		}
		snap.AssetPositions[asset.Symbol] = AssetPositionView{
			Symbol:           asset.Symbol,
			Side:             side,
			Size:             ap.Size,
			AssetID:          asset.ID,
			SubaccountNumber: in.Subaccount.SubaccountNumber,
		}
	}

	for _, pp := range in.PerpetualPositions {
		if pp.Status != indexer.PerpetualPositionStatusOpen {
			continue
		}
		perpetual, ok := in.PerpetualMarkets[pp.PerpetualID]
		if !ok {
			return SubaccountSnapshot{}, errdefs.Configuration("position %s references unknown perpetual %s", pp.ID, pp.PerpetualID)
		}
		price, err := oraclePrice(in.Markets, perpetual.MarketID)
		if err != nil {
			return SubaccountSnapshot{}, err
		}

		unsettled := unsettledFunding(pp, in.LatestFundingIndex, in.LastUpdatedFundingIndex)
		snap.Equity = snap.Equity.Add(pp.Size.Mul(price)).Add(unsettled)

		snap.OpenPerpetualPositions[perpetual.Ticker] = PerpetualPositionView{
			Ticker:           perpetual.Ticker,
			Status:           pp.Status,
			Side:             pp.Side,
			Size:             pp.Size,
			MaxSize:          pp.MaxSize,
			EntryPrice:       pp.EntryPrice,
			RealizedPnl:      pp.RealizedPnl,
			UnrealizedPnl:    price.Sub(pp.EntryPrice).Mul(pp.Size),
			NetFunding:       pp.SettledFunding.Add(unsettled),
			SumOpen:          pp.SumOpen,
			SumClose:         pp.SumClose,
			CreatedAt:        pp.CreatedAt,
			CreatedAtHeight:  pp.CreatedAtHeight,
			SubaccountNumber: in.Subaccount.SubaccountNumber,
		}
	}

	return snap, nil
}

// unsettledFunding is zero when the latest map has no entry for the perpetual. The entry
// index falls back to the last-updated map, then to the initial zero index.
func unsettledFunding(p indexer.PerpetualPosition, latest, lastUpdated cache.FundingIndexMap) decimal.Decimal {
	latestIndex, ok := latest[p.PerpetualID]
	if !ok {
		return decimal.Zero
	}
	entry := decimal.Zero
	switch {
	case p.EntryFundingIndex.Valid:
		entry = p.EntryFundingIndex.Decimal
	case lastUpdated != nil:
		if idx, ok := lastUpdated[p.PerpetualID]; ok {
			entry = idx
		}
	}
	return latestIndex.Sub(entry).Mul(p.Size)
}

func assetUSDValue(asset indexer.Asset, signedSize decimal.Decimal, markets map[int32]indexer.Market) (decimal.Decimal, error) {
	if asset.Symbol == indexer.USDCSymbol {
		return signedSize, nil
	}
	if !asset.HasMarket || asset.MarketID == nil {
		return decimal.Zero, errdefs.Configuration("asset %s has no price market", asset.Symbol)
	}
	price, err := oraclePrice(markets, *asset.MarketID)
	if err != nil {
		return decimal.Zero, err
	}
	return signedSize.Mul(price), nil
}

func oraclePrice(markets map[int32]indexer.Market, marketID int32) (decimal.Decimal, error) {
	m, ok := markets[marketID]
	if !ok {
		return decimal.Zero, errdefs.Configuration("market %d does not exist", marketID)
	}
	if !m.OraclePrice.Valid {
		return decimal.Zero, errdefs.Configuration("market %s has no oracle price", m.Pair)
	}
	return m.OraclePrice.Decimal, nil
}
