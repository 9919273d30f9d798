package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/shopspring/decimal"
)

// maxExactHeight is the largest height a sorted-set score (float64) represents exactly.
const maxExactHeight = uint64(1) << 53

// FundingIndexMap maps a perpetual id to its cumulative funding index. A market that is
// absent had no funding recorded at or before the requested height.
type FundingIndexMap map[string]decimal.Decimal

// NextFundingCache holds the latest predicted funding rate per ticker. Each write
// replaces the previous prediction; no history is kept.
type NextFundingCache struct {
	client Client
}

func NewNextFundingCache(client Client) *NextFundingCache {
	return &NextFundingCache{client: client}
}

func nextFundingKey(ticker string) string {
	return nextFundingPrefix + ticker
}

func (c *NextFundingCache) SetNextFundingRate(ctx context.Context, ticker string, rate decimal.Decimal) error {
	if err := c.client.Set(ctx, nextFundingKey(ticker), rate.String()); err != nil {
		return fmt.Errorf("set next funding rate %s: %w", ticker, err)
	}
	return nil
}

// GetNextFunding returns an entry for every requested ticker; Valid is false for a
// ticker whose rate was never set.
func (c *NextFundingCache) GetNextFunding(ctx context.Context, tickers []string) (map[string]decimal.NullDecimal, error) {
	out := make(map[string]decimal.NullDecimal, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}

	keys := make([]string, len(tickers))
	for i, ticker := range tickers {
		keys[i] = nextFundingKey(ticker)
	}
	values, err := c.client.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("get next funding: %w", err)
	}

	for i, ticker := range tickers {
		raw, ok := values[keys[i]]
		if !ok {
			out[ticker] = decimal.NullDecimal{}
			continue
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errdefs.Corruption("next funding rate of %s holds %q", ticker, raw)
		}
		out[ticker] = decimal.NewNullDecimal(rate)
	}
	return out, nil
}

// FundingIndexCache keeps a height-indexed history of cumulative funding indices per
// perpetual. Values live in one hash per perpetual (field = height), the heights in a
// sorted set for "latest at or before" lookups, and the perpetual ids in a set.
//
// Writes go hash, then sorted set, then market set, so a reader that finds a height
// always finds its value.
type FundingIndexCache struct {
	client Client
}

func NewFundingIndexCache(client Client) *FundingIndexCache {
	return &FundingIndexCache{client: client}
}

func fundingIndexKey(perpetualID string) string {
	return fundingIndexPrefix + perpetualID
}

func fundingIndexHeightsKey(perpetualID string) string {
	return fundingIndexHeightsPrefix + perpetualID
}

// RecordFundingIndex stores the cumulative index of a perpetual at height. Replaying the
// same value is a no-op; a different value at an existing height is ErrDataCorruption.
func (c *FundingIndexCache) RecordFundingIndex(ctx context.Context, perpetualID string, height uint64, index decimal.Decimal) error {
	if height > maxExactHeight {
		return fmt.Errorf("funding index height %d exceeds %d", height, maxExactHeight)
	}
	field := strconv.FormatUint(height, 10)

	stored, err := c.client.HSetNX(ctx, fundingIndexKey(perpetualID), field, index.String())
	if err != nil {
		return fmt.Errorf("record funding index %s@%d: %w", perpetualID, height, err)
	}
	if !stored {
		existing, err := c.valueAt(ctx, perpetualID, field)
		if err != nil {
			return err
		}
		if !existing.Equal(index) {
			return errdefs.Corruption(
				"funding index %s@%d rewritten from %s to %s",
				perpetualID, height, existing.String(), index.String(),
			)
		}
	}

	// Also run on replays so a write interrupted after the hash converges.
	if err := c.client.ZAdd(ctx, fundingIndexHeightsKey(perpetualID), float64(height), field); err != nil {
		return fmt.Errorf("index funding height %s@%d: %w", perpetualID, height, err)
	}
	if err := c.client.SAdd(ctx, fundingIndexMarketsKey, perpetualID); err != nil {
		return fmt.Errorf("register funding market %s: %w", perpetualID, err)
	}
	return nil
}

// GetFundingIndexMap returns, for every perpetual with an entry at or before height,
// the most recent cumulative index at or before height.
func (c *FundingIndexCache) GetFundingIndexMap(ctx context.Context, height uint64) (FundingIndexMap, error) {
	markets, err := c.client.SMembers(ctx, fundingIndexMarketsKey)
	if err != nil {
		return nil, fmt.Errorf("list funding markets: %w", err)
	}

	out := make(FundingIndexMap, len(markets))
	for _, perpetualID := range markets {
		index, ok, err := c.IndexAtOrBefore(ctx, perpetualID, height)
		if err != nil {
			return nil, err
		}
		if ok {
			out[perpetualID] = index
		}
	}
	return out, nil
}

// IndexAtOrBefore returns the most recent index of one perpetual at or before height.
func (c *FundingIndexCache) IndexAtOrBefore(ctx context.Context, perpetualID string, height uint64) (decimal.Decimal, bool, error) {
	field, ok, err := c.client.ZMaxMemberAtOrBelow(ctx, fundingIndexHeightsKey(perpetualID), float64(height))
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("lookup funding height %s<=%d: %w", perpetualID, height, err)
	}
	if !ok {
		return decimal.Zero, false, nil
	}
	index, err := c.valueAt(ctx, perpetualID, field)
	if err != nil {
		return decimal.Zero, false, err
	}
	return index, true, nil
}

// FundingAccrued returns (index(h1) - index(h0)) * size for one perpetual. h1 is looked
// up before h0. No entry at h1 means nothing accrued; no entry at h0 means the
// accrual starts from the market's initial zero index.
func (c *FundingIndexCache) FundingAccrued(
	ctx context.Context,
	perpetualID string,
	h0, h1 uint64,
	size decimal.Decimal,
) (decimal.Decimal, error) {
	if h0 > h1 {
		return decimal.Zero, fmt.Errorf("funding window %d..%d is inverted", h0, h1)
	}
	end, ok, err := c.IndexAtOrBefore(ctx, perpetualID, h1)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	start, _, err := c.IndexAtOrBefore(ctx, perpetualID, h0)
	if err != nil {
		return decimal.Zero, err
	}
	return end.Sub(start).Mul(size), nil
}

func (c *FundingIndexCache) valueAt(ctx context.Context, perpetualID, field string) (decimal.Decimal, error) {
	raw, ok, err := c.client.HGet(ctx, fundingIndexKey(perpetualID), field)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get funding index %s@%s: %w", perpetualID, field, err)
	}
	if !ok {
		return decimal.Zero, errdefs.Corruption("funding height %s@%s is indexed without a value", perpetualID, field)
	}
	index, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errdefs.Corruption("funding index %s@%s holds %q", perpetualID, field, raw)
	}
	return index, nil
}
