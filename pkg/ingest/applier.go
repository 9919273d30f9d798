// Package ingest applies already-decoded cache update messages from the update stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/perpindexer/pkg/cache"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/canopy-network/perpindexer/pkg/metrics"
	"github.com/canopy-network/perpindexer/pkg/redis"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Message types carried in the "type" field.
const (
	TypePriceLevel   = "price_level"
	TypeNextFunding  = "next_funding"
	TypeFundingIndex = "funding_index"
	TypeFill         = "fill"
)

const (
	DefaultFillDedupTTL = 24 * time.Hour
	fillDedupPrefix     = "v4/fillEvent/"
	outcomeMalformed    = "malformed"
)

// ErrMalformed marks a message that can never be applied. It is acknowledged and dropped.
var ErrMalformed = errors.New("malformed update message")

// DeadLetterWriter receives a copy of every dropped message.
type DeadLetterWriter interface {
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// Applier routes stream messages to the cache operations.
type Applier struct {
	levels       *cache.OrderbookLevelsCache
	nextFunding  *cache.NextFundingCache
	fundingIndex *cache.FundingIndexCache
	filled       *cache.FilledQuantumsCache
	dedupTTL     time.Duration
	logger       *zap.Logger

	deadLetter       DeadLetterWriter
	deadLetterStream string
}

func NewApplier(client cache.Client, dedupTTL time.Duration, logger *zap.Logger) *Applier {
	if dedupTTL <= 0 {
		dedupTTL = DefaultFillDedupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		levels:       cache.NewOrderbookLevelsCache(client),
		nextFunding:  cache.NewNextFundingCache(client),
		fundingIndex: cache.NewFundingIndexCache(client),
		filled:       cache.NewFilledQuantumsCache(client),
		dedupTTL:     dedupTTL,
		logger:       logger,
	}
}

// WithDeadLetter copies malformed messages to stream before they are acknowledged.
func (a *Applier) WithDeadLetter(w DeadLetterWriter, stream string) *Applier {
	a.deadLetter = w
	a.deadLetterStream = stream
	return a
}

// Handle applies one message. Malformed messages return nil so the consumer acknowledges
// them; any other error leaves the message pending.
func (a *Applier) Handle(ctx context.Context, msg redis.Message) error {
	typ, _ := msg.Field("type")

	err := a.apply(ctx, typ, msg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrMalformed):
		metrics.IngestMessagesTotal.WithLabelValues(typ, outcomeMalformed).Inc()
		a.logger.Warn("Dropping malformed update message",
			zap.String("id", msg.ID),
			zap.String("type", typ),
			zap.Error(err))
		return a.writeDeadLetter(ctx, msg, err)
	default:
		metrics.IngestMessagesTotal.WithLabelValues(typ, metrics.OutcomeError).Inc()
		if errdefs.Classify(err) == errdefs.KindDataCorruption {
			a.logger.Error("Update violates a cache invariant, leaving it pending",
				zap.String("id", msg.ID),
				zap.String("type", typ),
				zap.Error(err))
		}
		return err
	}
}

func (a *Applier) apply(ctx context.Context, typ string, msg redis.Message) error {
	switch typ {
	case TypePriceLevel:
		return a.applyPriceLevel(ctx, msg)
	case TypeNextFunding:
		return a.applyNextFunding(ctx, msg)
	case TypeFundingIndex:
		return a.applyFundingIndex(ctx, msg)
	case TypeFill:
		return a.applyFill(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}
}

// applyPriceLevel has no event id to de-duplicate on. A delta replayed after a lost
// acknowledgment is applied again.
func (a *Applier) applyPriceLevel(ctx context.Context, msg redis.Message) error {
	ticker, err := requireField(msg, "ticker")
	if err != nil {
		return err
	}
	side, err := requireField(msg, "side")
	if err != nil {
		return err
	}
	if !cache.OrderSide(side).Valid() {
		return fmt.Errorf("%w: side %q", ErrMalformed, side)
	}
	price, err := requireField(msg, "price")
	if err != nil {
		return err
	}
	if _, err := decimal.NewFromString(price); err != nil {
		return fmt.Errorf("%w: price %q", ErrMalformed, price)
	}
	delta, err := msg.Int64("delta")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	size, err := a.levels.ApplyDelta(ctx, ticker, cache.OrderSide(side), price, delta)
	if err != nil {
		return err
	}
	metrics.IngestMessagesTotal.WithLabelValues(TypePriceLevel, metrics.OutcomeOK).Inc()
	a.logger.Debug("Applied price level delta",
		zap.String("ticker", ticker),
		zap.String("side", side),
		zap.String("price", price),
		zap.Int64("delta", delta),
		zap.Int64("size", size))
	return nil
}

func (a *Applier) applyNextFunding(ctx context.Context, msg redis.Message) error {
	ticker, err := requireField(msg, "ticker")
	if err != nil {
		return err
	}
	rate, err := requireDecimal(msg, "rate")
	if err != nil {
		return err
	}
	if err := a.nextFunding.SetNextFundingRate(ctx, ticker, rate); err != nil {
		return err
	}
	metrics.IngestMessagesTotal.WithLabelValues(TypeNextFunding, metrics.OutcomeOK).Inc()
	return nil
}

func (a *Applier) applyFundingIndex(ctx context.Context, msg redis.Message) error {
	perpetualID, err := requireField(msg, "perpetualId")
	if err != nil {
		return err
	}
	height, err := msg.Uint64("height")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	index, err := requireDecimal(msg, "index")
	if err != nil {
		return err
	}
	if err := a.fundingIndex.RecordFundingIndex(ctx, perpetualID, height, index); err != nil {
		return err
	}
	metrics.IngestMessagesTotal.WithLabelValues(TypeFundingIndex, metrics.OutcomeOK).Inc()
	return nil
}

// applyFill counts a fill and claims its event id in one atomic step, so a redelivered fill
// is counted once and a failed count leaves the event unclaimed for the retry.
func (a *Applier) applyFill(ctx context.Context, msg redis.Message) error {
	orderID, err := requireField(msg, "orderId")
	if err != nil {
		return err
	}
	quantums, err := msg.Int64("quantums")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	eventID, _ := msg.Field("eventId")
	var (
		total   int64
		applied = true
	)
	if eventID == "" {
		total, err = a.filled.RecordFill(ctx, orderID, quantums)
	} else {
		total, applied, err = a.filled.RecordFillOnce(ctx, orderID, fillDedupPrefix+eventID, msg.ID, a.dedupTTL, quantums)
	}
	if err != nil {
		return err
	}
	if !applied {
		metrics.IngestMessagesTotal.WithLabelValues(TypeFill, metrics.OutcomeDuplicate).Inc()
		a.logger.Debug("Skipping duplicate fill",
			zap.String("eventId", eventID),
			zap.String("orderId", orderID))
		return nil
	}
	metrics.IngestMessagesTotal.WithLabelValues(TypeFill, metrics.OutcomeOK).Inc()
	a.logger.Debug("Recorded fill",
		zap.String("orderId", orderID),
		zap.Int64("quantums", quantums),
		zap.Int64("total", total))
	return nil
}

// writeDeadLetter fails only when the copy could not be written, keeping the message pending.
func (a *Applier) writeDeadLetter(ctx context.Context, msg redis.Message, cause error) error {
	if a.deadLetter == nil || a.deadLetterStream == "" {
		return nil
	}
	values := make(map[string]interface{}, len(msg.Values)+3)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["sourceStream"] = msg.Stream
	values["sourceId"] = msg.ID
	values["error"] = cause.Error()
	if _, err := a.deadLetter.XAdd(ctx, a.deadLetterStream, values); err != nil {
		return fmt.Errorf("dead-letter message %s: %w", msg.ID, err)
	}
	return nil
}

func requireField(msg redis.Message, name string) (string, error) {
	v, ok := msg.Field(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: message %s: missing field %q", ErrMalformed, msg.ID, name)
	}
	return v, nil
}

func requireDecimal(msg redis.Message, name string) (decimal.Decimal, error) {
	raw, err := requireField(msg, name)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: field %q: %v", ErrMalformed, name, err)
	}
	return d, nil
}
