package indexer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const PnlTicksTableName = "pnl_ticks"

// PnlTickColumns defines the schema for the pnl_ticks table.
var PnlTickColumns = []ColumnDef{
	{Name: "id", Type: "String", Codec: "ZSTD(1)"},
	{Name: "subaccount_id", Type: "String", Codec: "ZSTD(1)"},
	{Name: "equity", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "total_pnl", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "net_transfers", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "created_at", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4"},
	{Name: "block_height", Type: "UInt64", Codec: "DoubleDelta, LZ4"},
	{Name: "block_time", Type: "DateTime64(6)", Codec: "DoubleDelta, LZ4"},
}

// PnlTick is one sampled equity/PnL point of a subaccount.
type PnlTick struct {
	ID           string          `ch:"id" json:"id"`
	SubaccountID string          `ch:"subaccount_id" json:"subaccountId"`
	Equity       decimal.Decimal `ch:"equity" json:"equity"`
	TotalPnl     decimal.Decimal `ch:"total_pnl" json:"totalPnl"`
	NetTransfers decimal.Decimal `ch:"net_transfers" json:"netTransfers"`
	CreatedAt    time.Time       `ch:"created_at" json:"createdAt"`
	BlockHeight  uint64          `ch:"block_height" json:"blockHeight"`
	BlockTime    time.Time       `ch:"block_time" json:"blockTime"`
}

// PnlTickResolution is the bucket width PnL ticks are sampled at.
type PnlTickResolution string

const (
	PnlTickResolutionHour PnlTickResolution = "hour"
	PnlTickResolutionDay  PnlTickResolution = "day"
)

var PnlTickResolutions = []PnlTickResolution{PnlTickResolutionHour, PnlTickResolutionDay}

func ParsePnlTickResolution(s string) (PnlTickResolution, error) {
	for _, r := range PnlTickResolutions {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("invalid resolution %q: must be one of hour, day", s)
}
