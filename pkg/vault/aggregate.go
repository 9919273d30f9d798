package vault

import (
	"sort"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
)

// AggregatePnlTicksByHeight merges ticks of many subaccounts into one series. Ticks
// sharing an exact block height are summed; a height one subaccount lacks gets nothing
// from it. The id, createdAt and blockTime of the first tick seen at a height are kept.
// The result is ordered by height ascending.
func AggregatePnlTicksByHeight(ticks []indexer.PnlTick) []indexer.PnlTick {
	byHeight := make(map[uint64]int, len(ticks))
	out := make([]indexer.PnlTick, 0, len(ticks))

	for _, t := range ticks {
		i, ok := byHeight[t.BlockHeight]
		if !ok {
			byHeight[t.BlockHeight] = len(out)
			out = append(out, t)
			continue
		}
		out[i].Equity = out[i].Equity.Add(t.Equity)
		out[i].TotalPnl = out[i].TotalPnl.Add(t.TotalPnl)
		out[i].NetTransfers = out[i].NetTransfers.Add(t.NetTransfers)
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].BlockHeight < out[b].BlockHeight
	})
	return out
}

// SubaccountSeries is one subaccount's untouched tick series.
type SubaccountSeries struct {
	SubaccountID string
	Ticks        []indexer.PnlTick
}

// GroupPnlTicksBySubaccount splits ticks by subaccount, preserving each series' order.
// Groups come out in order of first appearance.
func GroupPnlTicksBySubaccount(ticks []indexer.PnlTick) []SubaccountSeries {
	index := make(map[string]int)
	out := make([]SubaccountSeries, 0)
	for _, t := range ticks {
		i, ok := index[t.SubaccountID]
		if !ok {
			i = len(out)
			index[t.SubaccountID] = i
			out = append(out, SubaccountSeries{SubaccountID: t.SubaccountID})
		}
		out[i].Ticks = append(out[i].Ticks, t)
	}
	return out
}
