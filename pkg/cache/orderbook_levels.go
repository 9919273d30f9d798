package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/shopspring/decimal"
)

// OrderSide is the book side of a price level.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderbookLevelsCache keeps the aggregate resting size, in quantums, at every
// (ticker, side, price). A level whose size returns to zero is removed.
type OrderbookLevelsCache struct {
	client Client
}

func NewOrderbookLevelsCache(client Client) *OrderbookLevelsCache {
	return &OrderbookLevelsCache{client: client}
}

func orderbookLevelsKey(ticker string, side OrderSide) string {
	return orderbookLevelsPrefix + ticker + "/" + string(side)
}

// normalizePrice maps equal prices written differently ("10.50", "10.5") to one field.
func normalizePrice(price string) (string, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", price, err)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("invalid price %q: must be positive", price)
	}
	return d.String(), nil
}

// ApplyDelta adds sizeDeltaInQuantums to the level and returns the new size.
// A delta that would make the level negative is an ErrDataCorruption and leaves the level unchanged.
func (c *OrderbookLevelsCache) ApplyDelta(
	ctx context.Context,
	ticker string,
	side OrderSide,
	price string,
	sizeDeltaInQuantums int64,
) (int64, error) {
	if !side.Valid() {
		return 0, fmt.Errorf("invalid order side %q", side)
	}
	field, err := normalizePrice(price)
	if err != nil {
		return 0, err
	}
	if sizeDeltaInQuantums == 0 {
		return c.getLevel(ctx, ticker, side, field)
	}

	size, err := c.client.HIncrByNonNegative(ctx, orderbookLevelsKey(ticker, side), field, sizeDeltaInQuantums)
	if errors.Is(err, ErrNegativeResult) {
		return 0, errdefs.Corruption(
			"price level %s %s %s would become negative: size %d, delta %d",
			ticker, side, field, size, sizeDeltaInQuantums,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("apply price level delta %s %s %s: %w", ticker, side, field, err)
	}
	return size, nil
}

// GetLevel returns the resting size at the level. An absent level has size zero.
func (c *OrderbookLevelsCache) GetLevel(ctx context.Context, ticker string, side OrderSide, price string) (int64, error) {
	if !side.Valid() {
		return 0, fmt.Errorf("invalid order side %q", side)
	}
	field, err := normalizePrice(price)
	if err != nil {
		return 0, err
	}
	return c.getLevel(ctx, ticker, side, field)
}

func (c *OrderbookLevelsCache) getLevel(ctx context.Context, ticker string, side OrderSide, field string) (int64, error) {
	raw, ok, err := c.client.HGet(ctx, orderbookLevelsKey(ticker, side), field)
	if err != nil {
		return 0, fmt.Errorf("get price level %s %s %s: %w", ticker, side, field, err)
	}
	if !ok {
		return 0, nil
	}
	size, err := parseQuantums(raw)
	if err != nil {
		return 0, errdefs.Corruption("price level %s %s %s holds %q", ticker, side, field, raw)
	}
	return size, nil
}
