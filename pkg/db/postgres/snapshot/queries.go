package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/db/postgres"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// FindSubaccounts returns the subaccounts among ids. Unknown ids are skipped.
func (d *DB) FindSubaccounts(ctx context.Context, ids []string) ([]indexer.Subaccount, error) {
	if len(ids) == 0 {
		return []indexer.Subaccount{}, nil
	}
	query := `
		SELECT id::text, address, subaccount_number, updated_at, updated_at_height
		FROM subaccounts
		WHERE id::text = ANY($1)
		ORDER BY id
	`
	rows, err := d.Query(ctx, query, ids)
	if err != nil {
		return nil, errdefs.Unavailable("find subaccounts", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexer.Subaccount, error) {
		var s indexer.Subaccount
		var number int32
		var height int64
		if err := row.Scan(&s.ID, &s.Address, &number, &s.UpdatedAt, &height); err != nil {
			return s, err
		}
		s.SubaccountNumber = uint32(number)
		s.UpdatedAtHeight = uint64(height)
		return s, nil
	})
	if err != nil {
		return nil, collectError("scan subaccounts", err)
	}
	return out, nil
}

func (d *DB) FindAssets(ctx context.Context) ([]indexer.Asset, error) {
	query := `
		SELECT id, symbol, atomic_resolution, has_market, market_id
		FROM assets
		ORDER BY id
	`
	rows, err := d.Query(ctx, query)
	if err != nil {
		return nil, errdefs.Unavailable("find assets", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexer.Asset, error) {
		var a indexer.Asset
		err := row.Scan(&a.ID, &a.Symbol, &a.AtomicResolution, &a.HasMarket, &a.MarketID)
		return a, err
	})
	if err != nil {
		return nil, collectError("scan assets", err)
	}
	return out, nil
}

func (d *DB) FindMarkets(ctx context.Context) ([]indexer.Market, error) {
	query := `
		SELECT id, pair, exponent, min_price_change_ppm, oracle_price::text
		FROM markets
		ORDER BY id
	`
	rows, err := d.Query(ctx, query)
	if err != nil {
		return nil, errdefs.Unavailable("find markets", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexer.Market, error) {
		var m indexer.Market
		var price *string
		if err := row.Scan(&m.ID, &m.Pair, &m.Exponent, &m.MinPriceChangePpm, &price); err != nil {
			return m, err
		}
		var err error
		m.OraclePrice, err = parseNullDecimal(price)
		return m, err
	})
	if err != nil {
		return nil, collectError("scan markets", err)
	}
	return out, nil
}

func (d *DB) FindPerpetualMarkets(ctx context.Context) ([]indexer.PerpetualMarket, error) {
	query := `
		SELECT id, clob_pair_id, ticker, market_id
		FROM perpetual_markets
		ORDER BY id
	`
	rows, err := d.Query(ctx, query)
	if err != nil {
		return nil, errdefs.Unavailable("find perpetual markets", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexer.PerpetualMarket, error) {
		var p indexer.PerpetualMarket
		err := row.Scan(&p.ID, &p.ClobPairID, &p.Ticker, &p.MarketID)
		return p, err
	})
	if err != nil {
		return nil, collectError("scan perpetual markets", err)
	}
	return out, nil
}

func (d *DB) FindPerpetualPositions(
	ctx context.Context,
	subaccountIDs []string,
	statuses []indexer.PerpetualPositionStatus,
) ([]indexer.PerpetualPosition, error) {
	if len(subaccountIDs) == 0 || len(statuses) == 0 {
		return []indexer.PerpetualPosition{}, nil
	}
	statusArgs := make([]string, len(statuses))
	for i, s := range statuses {
		statusArgs[i] = string(s)
	}

	query := `
		SELECT id::text, subaccount_id::text, perpetual_id, side, status,
		       size::text, max_size::text, entry_price::text, sum_open::text, sum_close::text,
		       realized_pnl::text, settled_funding::text, entry_funding_index::text,
		       created_at, created_at_height, last_event_height
		FROM perpetual_positions
		WHERE subaccount_id::text = ANY($1) AND status = ANY($2)
		ORDER BY subaccount_id, perpetual_id, created_at_height
	`
	rows, err := d.Query(ctx, query, subaccountIDs, statusArgs)
	if err != nil {
		return nil, errdefs.Unavailable("find perpetual positions", err)
	}
	out, err := pgx.CollectRows(rows, scanPerpetualPosition)
	if err != nil {
		return nil, collectError("scan perpetual positions", err)
	}
	return out, nil
}

func scanPerpetualPosition(row pgx.CollectableRow) (indexer.PerpetualPosition, error) {
	var p indexer.PerpetualPosition
	var side, status string
	var size, maxSize, entryPrice, sumOpen, sumClose, realizedPnl, settledFunding string
	var entryFundingIndex *string
	var createdAtHeight, lastEventHeight int64
	if err := row.Scan(
		&p.ID, &p.SubaccountID, &p.PerpetualID, &side, &status,
		&size, &maxSize, &entryPrice, &sumOpen, &sumClose,
		&realizedPnl, &settledFunding, &entryFundingIndex,
		&p.CreatedAt, &createdAtHeight, &lastEventHeight,
	); err != nil {
		return p, err
	}

	var err error
	if p.Status, err = indexer.ParsePerpetualPositionStatus(status); err != nil {
		return p, errdefs.Corruption("position %s: %v", p.ID, err)
	}
	p.Side = indexer.PositionSide(side)
	p.CreatedAtHeight = uint64(createdAtHeight)
	p.LastEventHeight = uint64(lastEventHeight)

	fields := []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&p.Size, size},
		{&p.MaxSize, maxSize},
		{&p.EntryPrice, entryPrice},
		{&p.SumOpen, sumOpen},
		{&p.SumClose, sumClose},
		{&p.RealizedPnl, realizedPnl},
		{&p.SettledFunding, settledFunding},
	}
	for _, f := range fields {
		if *f.dst, err = parseDecimal(f.raw); err != nil {
			return p, fmt.Errorf("position %s: %w", p.ID, err)
		}
	}
	p.EntryFundingIndex, err = parseNullDecimal(entryFundingIndex)
	return p, err
}

func (d *DB) FindAssetPositions(ctx context.Context, subaccountIDs, assetIDs []string) ([]indexer.AssetPosition, error) {
	if len(subaccountIDs) == 0 || len(assetIDs) == 0 {
		return []indexer.AssetPosition{}, nil
	}
	query := `
		SELECT id::text, subaccount_id::text, asset_id, size::text, is_long
		FROM asset_positions
		WHERE subaccount_id::text = ANY($1) AND asset_id = ANY($2)
		ORDER BY subaccount_id, asset_id
	`
	rows, err := d.Query(ctx, query, subaccountIDs, assetIDs)
	if err != nil {
		return nil, errdefs.Unavailable("find asset positions", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexer.AssetPosition, error) {
		var a indexer.AssetPosition
		var size string
		if err := row.Scan(&a.ID, &a.SubaccountID, &a.AssetID, &size, &a.IsLong); err != nil {
			return a, err
		}
		var err error
		a.Size, err = parseDecimal(size)
		return a, err
	})
	if err != nil {
		return nil, collectError("scan asset positions", err)
	}
	return out, nil
}

func (d *DB) GetLatestBlock(ctx context.Context) (*indexer.Block, error) {
	query := `
		SELECT block_height, time
		FROM blocks
		ORDER BY block_height DESC
		LIMIT 1
	`
	var (
		b      indexer.Block
		height int64
	)
	err := d.QueryRow(ctx, query).Scan(&height, &b.Time)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Unavailable("get latest block", err)
	}
	b.BlockHeight = uint64(height)
	return &b, nil
}

// collectError keeps a stored row that does not decode apart from a failed read.
func collectError(op string, err error) error {
	if errors.Is(err, errdefs.ErrDataCorruption) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errdefs.Unavailable(op, err)
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errdefs.Corruption("%q is not a decimal", raw)
	}
	return d, nil
}

func parseNullDecimal(raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(*raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
