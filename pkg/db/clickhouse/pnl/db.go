package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/perpindexer/pkg/db"
	"github.com/canopy-network/perpindexer/pkg/db/clickhouse"
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"go.uber.org/zap"
)

// DB reads PnL ticks from ClickHouse.
type DB struct {
	clickhouse.Client
	Name string
}

var _ db.PnlTickStore = (*DB)(nil)

// New connects to ClickHouse and ensures the pnl_ticks table exists.
func New(ctx context.Context, logger *zap.Logger, name string, poolConfig *clickhouse.PoolConfig) (*DB, error) {
	client, err := clickhouse.New(ctx, logger.With(zap.String("db", name)), name, poolConfig)
	if err != nil {
		return nil, errdefs.Unavailable("connect clickhouse", err)
	}

	store := &DB{Client: client, Name: client.TargetDatabase}
	if err := store.InitializeDB(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

// InitializeDB creates the pnl_ticks table. A replay of the same tick id collapses on merge.
func (d *DB) InitializeDB(ctx context.Context) error {
	d.Logger.Info("Initializing pnl tick table", zap.String("database", d.Name))

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s %s (
			%s,
			INDEX idx_block_time block_time TYPE minmax GRANULARITY 4
		) ENGINE = %s
		PARTITION BY toYYYYMM(block_time)
		ORDER BY (subaccount_id, block_height, id)
	`, d.TableName(indexer.PnlTicksTableName), d.OnCluster(),
		indexer.ColumnsToSchemaSQL(indexer.PnlTickColumns), clickhouse.ReplacingMergeTree)
	if err := d.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", indexer.PnlTicksTableName, err)
	}
	return nil
}

// bucketFunctions whitelists the ClickHouse bucketing function per resolution.
var bucketFunctions = map[indexer.PnlTickResolution]string{
	indexer.PnlTickResolutionHour: "toStartOfHour",
	indexer.PnlTickResolutionDay:  "toStartOfDay",
}

// pnlTicksQuery keeps the earliest tick by height in every (subaccount, bucket).
func pnlTicksQuery(table string, resolution indexer.PnlTickResolution) (string, error) {
	bucket, ok := bucketFunctions[resolution]
	if !ok {
		return "", fmt.Errorf("unsupported pnl tick resolution %q", resolution)
	}
	return fmt.Sprintf(`
		SELECT id, subaccount_id, equity, total_pnl, net_transfers, created_at, block_height, block_time
		FROM %s FINAL
		WHERE has(?, subaccount_id)
		  AND block_time >= now64(6) - toIntervalSecond(?)
		ORDER BY subaccount_id, block_height
		LIMIT 1 BY subaccount_id, %s(block_time)
	`, table, bucket), nil
}

func (d *DB) GetPnlTicksAtResolution(
	ctx context.Context,
	resolution indexer.PnlTickResolution,
	window time.Duration,
	subaccountIDs []string,
) ([]indexer.PnlTick, error) {
	if len(subaccountIDs) == 0 {
		return []indexer.PnlTick{}, nil
	}
	query, err := pnlTicksQuery(d.TableName(indexer.PnlTicksTableName), resolution)
	if err != nil {
		return nil, err
	}

	rows, err := d.Query(ctx, query, subaccountIDs, int64(window/time.Second))
	if err != nil {
		return nil, errdefs.Unavailable("query pnl ticks", err)
	}
	defer func() { _ = rows.Close() }()

	ticks := make([]indexer.PnlTick, 0)
	for rows.Next() {
		var t indexer.PnlTick
		if err := rows.Scan(
			&t.ID,
			&t.SubaccountID,
			&t.Equity,
			&t.TotalPnl,
			&t.NetTransfers,
			&t.CreatedAt,
			&t.BlockHeight,
			&t.BlockTime,
		); err != nil {
			return nil, errdefs.Unavailable("scan pnl tick", err)
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Unavailable("iterate pnl ticks", err)
	}
	return ticks, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return errdefs.Unavailable("clickhouse ping", d.Client.Ping(ctx))
}
