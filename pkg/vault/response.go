package vault

import (
	"strconv"
	"time"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
)

// PnlTickResponse is a PnL tick as served over HTTP. Amounts and heights are strings.
type PnlTickResponse struct {
	ID           string `json:"id"`
	SubaccountID string `json:"subaccountId"`
	Equity       string `json:"equity"`
	TotalPnl     string `json:"totalPnl"`
	NetTransfers string `json:"netTransfers"`
	CreatedAt    string `json:"createdAt"`
	BlockHeight  string `json:"blockHeight"`
	BlockTime    string `json:"blockTime"`
}

type MegavaultHistoricalPnlResponse struct {
	MegavaultPnl []PnlTickResponse `json:"megavaultPnl"`
}

type VaultHistoricalPnl struct {
	Ticker        string            `json:"ticker"`
	HistoricalPnl []PnlTickResponse `json:"historicalPnl"`
}

type VaultsHistoricalPnlResponse struct {
	VaultsPnl []VaultHistoricalPnl `json:"vaultsPnl"`
}

type AssetPositionResponse struct {
	Symbol           string               `json:"symbol"`
	Side             indexer.PositionSide `json:"side"`
	Size             string               `json:"size"`
	AssetID          string               `json:"assetId"`
	SubaccountNumber uint32               `json:"subaccountNumber"`
}

type PerpetualPositionResponse struct {
	Market           string                          `json:"market"`
	Status           indexer.PerpetualPositionStatus `json:"status"`
	Side             indexer.PositionSide            `json:"side"`
	Size             string                          `json:"size"`
	MaxSize          string                          `json:"maxSize"`
	EntryPrice       string                          `json:"entryPrice"`
	RealizedPnl      string                          `json:"realizedPnl"`
	UnrealizedPnl    string                          `json:"unrealizedPnl"`
	NetFunding       string                          `json:"netFunding"`
	SumOpen          string                          `json:"sumOpen"`
	SumClose         string                          `json:"sumClose"`
	CreatedAt        string                          `json:"createdAt"`
	CreatedAtHeight  string                          `json:"createdAtHeight"`
	SubaccountNumber uint32                          `json:"subaccountNumber"`
}

// VaultPosition is one vault's projection: its USDC balance, its open position in the
// vault market (either may be absent) and its equity.
type VaultPosition struct {
	Ticker            string                     `json:"ticker"`
	AssetPosition     *AssetPositionResponse     `json:"assetPosition"`
	PerpetualPosition *PerpetualPositionResponse `json:"perpetualPosition"`
	Equity            string                     `json:"equity"`
}

type MegavaultPositionResponse struct {
	Positions []VaultPosition `json:"positions"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func pnlTickToResponse(t indexer.PnlTick) PnlTickResponse {
	return PnlTickResponse{
		ID:           t.ID,
		SubaccountID: t.SubaccountID,
		Equity:       t.Equity.String(),
		TotalPnl:     t.TotalPnl.String(),
		NetTransfers: t.NetTransfers.String(),
		CreatedAt:    formatTime(t.CreatedAt),
		BlockHeight:  strconv.FormatUint(t.BlockHeight, 10),
		BlockTime:    formatTime(t.BlockTime),
	}
}

func pnlTicksToResponse(ticks []indexer.PnlTick) []PnlTickResponse {
	out := make([]PnlTickResponse, len(ticks))
	for i, t := range ticks {
		out[i] = pnlTickToResponse(t)
	}
	return out
}

func assetPositionToResponse(p AssetPositionView) *AssetPositionResponse {
	return &AssetPositionResponse{
		Symbol:           p.Symbol,
		Side:             p.Side,
		Size:             p.Size.String(),
		AssetID:          p.AssetID,
		SubaccountNumber: p.SubaccountNumber,
	}
}

func perpetualPositionToResponse(p PerpetualPositionView) *PerpetualPositionResponse {
	return &PerpetualPositionResponse{
		Market:           p.Ticker,
		Status:           p.Status,
		Side:             p.Side,
		Size:             p.Size.String(),
		MaxSize:          p.MaxSize.String(),
		EntryPrice:       p.EntryPrice.String(),
		RealizedPnl:      p.RealizedPnl.String(),
		UnrealizedPnl:    p.UnrealizedPnl.String(),
		NetFunding:       p.NetFunding.String(),
		SumOpen:          p.SumOpen.String(),
		SumClose:         p.SumClose.String(),
		CreatedAt:        formatTime(p.CreatedAt),
		CreatedAtHeight:  strconv.FormatUint(p.CreatedAtHeight, 10),
		SubaccountNumber: p.SubaccountNumber,
	}
}
