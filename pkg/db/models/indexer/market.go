package indexer

import (
	"github.com/shopspring/decimal"
)

const (
	MarketsTableName          = "markets"
	PerpetualMarketsTableName = "perpetual_markets"
)

// Market is an oracle price feed. OraclePrice is invalid until the first price update.
type Market struct {
	ID                int32               `json:"id"`
	Pair              string              `json:"pair"`
	Exponent          int32               `json:"exponent"`
	MinPriceChangePpm int32               `json:"minPriceChangePpm"`
	OraclePrice       decimal.NullDecimal `json:"oraclePrice"`
}

// PerpetualMarket joins a perpetual to its order book (clob pair) and its oracle market.
type PerpetualMarket struct {
	ID         string `json:"id"`
	ClobPairID string `json:"clobPairId"`
	Ticker     string `json:"ticker"`
	MarketID   int32  `json:"marketId"`
}
