// Package markets keeps an in-memory copy of the perpetual markets table.
package markets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/canopy-network/perpindexer/pkg/metrics"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Source loads the current perpetual markets.
type Source interface {
	FindPerpetualMarkets(ctx context.Context) ([]indexer.PerpetualMarket, error)
}

// Refresher serves perpetual markets by clob pair id and by perpetual id from memory.
// Markets are reloaded on a cron schedule; readers never wait on a reload.
type Refresher struct {
	source      Source
	logger      *zap.Logger
	byClobPair  *xsync.Map[string, indexer.PerpetualMarket]
	byID        *xsync.Map[string, indexer.PerpetualMarket]
	cron        *cron.Cron
	lastRefresh *xsync.Map[string, time.Time]
	now         func() time.Time
}

func NewRefresher(source Source, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		source:      source,
		logger:      logger,
		byClobPair:  xsync.NewMap[string, indexer.PerpetualMarket](),
		byID:        xsync.NewMap[string, indexer.PerpetualMarket](),
		lastRefresh: xsync.NewMap[string, time.Time](),
		now:         time.Now,
	}
}

// Refresh reloads every market. Markets missing from the source are dropped.
func (r *Refresher) Refresh(ctx context.Context) error {
	all, err := r.source.FindPerpetualMarkets(ctx)
	if err != nil {
		metrics.MarketRefreshTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("refresh perpetual markets: %w", err)
	}

	seenClob := make(map[string]struct{}, len(all))
	seenID := make(map[string]struct{}, len(all))
	for _, m := range all {
		r.byClobPair.Store(m.ClobPairID, m)
		r.byID.Store(m.ID, m)
		seenClob[m.ClobPairID] = struct{}{}
		seenID[m.ID] = struct{}{}
	}
	r.byClobPair.Range(func(k string, _ indexer.PerpetualMarket) bool {
		if _, ok := seenClob[k]; !ok {
			r.byClobPair.Delete(k)
		}
		return true
	})
	r.byID.Range(func(k string, _ indexer.PerpetualMarket) bool {
		if _, ok := seenID[k]; !ok {
			r.byID.Delete(k)
		}
		return true
	})

	r.lastRefresh.Store("perpetual_markets", r.now())
	metrics.MarketRefreshTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.PerpetualMarkets.Set(float64(r.byID.Size()))
	r.logger.Debug("Refreshed perpetual markets", zap.Int("count", len(all)))
	return nil
}

// Start loads the markets once, failing if that load fails, then reloads on cronSpec.
func (r *Refresher) Start(ctx context.Context, cronSpec string) error {
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	logger := cronLogger{r.logger.Sugar()}
	r.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))
	_, err := r.cron.AddFunc(cronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if err := r.Refresh(rctx); err != nil {
			// Keep serving the previous copy.
			r.logger.Warn("Perpetual market refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule market refresh %q: %w", cronSpec, err)
	}
	r.cron.Start()
	r.logger.Info("Market refresher started", zap.String("cronSpec", cronSpec))
	return nil
}

// Stop waits for a running refresh to finish.
func (r *Refresher) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Refresher) GetPerpetualMarketFromClobPairID(clobPairID string) (indexer.PerpetualMarket, bool) {
	return r.byClobPair.Load(clobPairID)
}

func (r *Refresher) GetPerpetualMarket(perpetualID string) (indexer.PerpetualMarket, bool) {
	return r.byID.Load(perpetualID)
}

// LastRefresh reports when markets were last loaded.
func (r *Refresher) LastRefresh() (time.Time, bool) {
	return r.lastRefresh.Load("perpetual_markets")
}

// CheckFresh fails when the markets were never loaded or the last load is older than maxAge.
func (r *Refresher) CheckFresh(maxAge time.Duration) error {
	at, ok := r.LastRefresh()
	if !ok {
		return errdefs.Unavailable("perpetual markets", errors.New("never loaded"))
	}
	if age := r.now().Sub(at); maxAge > 0 && age > maxAge {
		return errdefs.Unavailable("perpetual markets", fmt.Errorf("last refresh %s ago", age.Round(time.Second)))
	}
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
