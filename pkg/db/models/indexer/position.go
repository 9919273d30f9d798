package indexer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const PerpetualPositionsTableName = "perpetual_positions"

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

type PerpetualPositionStatus string

const (
	PerpetualPositionStatusOpen       PerpetualPositionStatus = "OPEN"
	PerpetualPositionStatusClosed     PerpetualPositionStatus = "CLOSED"
	PerpetualPositionStatusLiquidated PerpetualPositionStatus = "LIQUIDATED"
)

func ParsePerpetualPositionStatus(s string) (PerpetualPositionStatus, error) {
	switch st := PerpetualPositionStatus(s); st {
	case PerpetualPositionStatusOpen, PerpetualPositionStatusClosed, PerpetualPositionStatusLiquidated:
		return st, nil
	}
	return "", fmt.Errorf("unknown perpetual position status %q", s)
}

// PerpetualPosition is a subaccount's position in one perpetual. Size is signed
// (negative when short). EntryFundingIndex is the funding index when the position was
// last settled; it is invalid for rows written before it was captured.
type PerpetualPosition struct {
	ID                string                  `json:"id"`
	SubaccountID      string                  `json:"subaccountId"`
	PerpetualID       string                  `json:"perpetualId"`
	Side              PositionSide            `json:"side"`
	Status            PerpetualPositionStatus `json:"status"`
	Size              decimal.Decimal         `json:"size"`
	MaxSize           decimal.Decimal         `json:"maxSize"`
	EntryPrice        decimal.Decimal         `json:"entryPrice"`
	SumOpen           decimal.Decimal         `json:"sumOpen"`
	SumClose          decimal.Decimal         `json:"sumClose"`
	RealizedPnl       decimal.Decimal         `json:"realizedPnl"`
	SettledFunding    decimal.Decimal         `json:"settledFunding"`
	EntryFundingIndex decimal.NullDecimal     `json:"entryFundingIndex"`
	CreatedAt         time.Time               `json:"createdAt"`
	CreatedAtHeight   uint64                  `json:"createdAtHeight"`
	LastEventHeight   uint64                  `json:"lastEventHeight"`
}
