package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/canopy-network/perpindexer/pkg/errdefs"
)

// FilledQuantumsCache stores the cumulative filled size of each order.
//
// Only the running total is kept. A caller that may deliver the same fill twice owns the
// de-duplication marker and passes it to RecordFillOnce (see pkg/ingest).
type FilledQuantumsCache struct {
	client Client
}

func NewFilledQuantumsCache(client Client) *FilledQuantumsCache {
	return &FilledQuantumsCache{client: client}
}

func filledQuantumsKey(orderID string) string {
	return filledQuantumsPrefix + orderID
}

// GetFilledQuantums returns the filled total and false when the order has never been filled.
func (c *FilledQuantumsCache) GetFilledQuantums(ctx context.Context, orderID string) (int64, bool, error) {
	raw, ok, err := c.client.Get(ctx, filledQuantumsKey(orderID))
	if err != nil {
		return 0, false, fmt.Errorf("get filled quantums %s: %w", orderID, err)
	}
	if !ok {
		return 0, false, nil
	}
	q, err := parseQuantums(raw)
	if err != nil {
		return 0, false, errdefs.Corruption("filled quantums of %s holds %q", orderID, raw)
	}
	return q, true, nil
}

// RecordFill adds quantumsDelta to the order's total and returns the new total.
func (c *FilledQuantumsCache) RecordFill(ctx context.Context, orderID string, quantumsDelta int64) (int64, error) {
	if quantumsDelta < 0 {
		return 0, errdefs.Corruption("fill delta %d for order %s is negative", quantumsDelta, orderID)
	}
	total, err := c.client.IncrBy(ctx, filledQuantumsKey(orderID), quantumsDelta)
	if err != nil {
		return 0, fmt.Errorf("record fill %s: %w", orderID, err)
	}
	return total, nil
}

// RecordFillOnce adds quantumsDelta unless marker was already stored, claiming the marker in
// the same atomic step. It returns the total and whether the delta was counted.
func (c *FilledQuantumsCache) RecordFillOnce(
	ctx context.Context,
	orderID, marker, markerValue string,
	ttl time.Duration,
	quantumsDelta int64,
) (int64, bool, error) {
	if quantumsDelta < 0 {
		return 0, false, errdefs.Corruption("fill delta %d for order %s is negative", quantumsDelta, orderID)
	}
	total, applied, err := c.client.IncrByOnce(ctx, marker, markerValue, ttl, filledQuantumsKey(orderID), quantumsDelta)
	if err != nil {
		return 0, false, fmt.Errorf("record fill %s: %w", orderID, err)
	}
	return total, applied, nil
}

func parseQuantums(raw string) (int64, error) {
	q, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if q < 0 {
		return 0, fmt.Errorf("negative quantums %d", q)
	}
	return q, nil
}
