package indexer

import (
	"github.com/shopspring/decimal"
)

const (
	AssetsTableName         = "assets"
	AssetPositionsTableName = "asset_positions"

	USDCAssetID = "0"
	USDCSymbol  = "USDC"
)

// Asset is a collateral asset. MarketID is set when the asset is priced by an oracle market.
type Asset struct {
	ID               string `json:"id"`
	Symbol           string `json:"symbol"`
	AtomicResolution int32  `json:"atomicResolution"`
	HasMarket        bool   `json:"hasMarket"`
	MarketID         *int32 `json:"marketId,omitempty"`
}

// AssetPosition is a signed balance of one asset held by one subaccount.
// Size is absolute; IsLong carries the sign.
type AssetPosition struct {
	ID           string          `json:"id"`
	SubaccountID string          `json:"subaccountId"`
	AssetID      string          `json:"assetId"`
	Size         decimal.Decimal `json:"size"`
	IsLong       bool            `json:"isLong"`
}

// SignedSize returns Size with the position's sign applied.
func (p AssetPosition) SignedSize() decimal.Decimal {
	if p.IsLong {
		return p.Size
	}
	return p.Size.Neg()
}
