package snapshot

import (
	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
)

type table struct {
	name string
	ddl  string
}

// tables lists DDL in dependency order.
var tables = []table{
	{name: indexer.SubaccountsTableName, ddl: `
		CREATE TABLE IF NOT EXISTS subaccounts (
			id UUID PRIMARY KEY,
			address TEXT NOT NULL,
			subaccount_number INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at_height BIGINT NOT NULL DEFAULT 0,
			UNIQUE (address, subaccount_number)
		)
	`},
	{name: indexer.MarketsTableName, ddl: `
		CREATE TABLE IF NOT EXISTS markets (
			id INTEGER PRIMARY KEY,
			pair TEXT NOT NULL,
			exponent INTEGER NOT NULL,
			min_price_change_ppm INTEGER NOT NULL,
			oracle_price NUMERIC
		)
	`},
	{name: indexer.AssetsTableName, ddl: `
		CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL UNIQUE,
			atomic_resolution INTEGER NOT NULL,
			has_market BOOLEAN NOT NULL DEFAULT FALSE,
			market_id INTEGER REFERENCES markets (id)
		)
	`},
	{name: indexer.AssetPositionsTableName, ddl: `
		CREATE TABLE IF NOT EXISTS asset_positions (
			id UUID PRIMARY KEY,
			subaccount_id UUID NOT NULL REFERENCES subaccounts (id),
			asset_id TEXT NOT NULL REFERENCES assets (id),
			size NUMERIC NOT NULL,
			is_long BOOLEAN NOT NULL,
			UNIQUE (subaccount_id, asset_id)
		)
	`},
	{name: indexer.PerpetualMarketsTableName, ddl: `
		CREATE TABLE IF NOT EXISTS perpetual_markets (
			id TEXT PRIMARY KEY,
			clob_pair_id TEXT NOT NULL UNIQUE,
			ticker TEXT NOT NULL UNIQUE,
			market_id INTEGER NOT NULL REFERENCES markets (id)
		)
	`},
	{name: indexer.PerpetualPositionsTableName, ddl: `
		CREATE TABLE IF NOT EXISTS perpetual_positions (
			id UUID PRIMARY KEY,
			subaccount_id UUID NOT NULL REFERENCES subaccounts (id),
			perpetual_id TEXT NOT NULL REFERENCES perpetual_markets (id),
			side TEXT NOT NULL,
			status TEXT NOT NULL,
			size NUMERIC NOT NULL,
			max_size NUMERIC NOT NULL,
			entry_price NUMERIC NOT NULL,
			sum_open NUMERIC NOT NULL,
			sum_close NUMERIC NOT NULL DEFAULT 0,
			realized_pnl NUMERIC NOT NULL DEFAULT 0,
			settled_funding NUMERIC NOT NULL DEFAULT 0,
			entry_funding_index NUMERIC,
			created_at TIMESTAMPTZ NOT NULL,
			created_at_height BIGINT NOT NULL,
			last_event_height BIGINT NOT NULL
		)
	`},
	{name: "perpetual_positions_open_idx", ddl: `
		CREATE INDEX IF NOT EXISTS perpetual_positions_subaccount_status_idx
			ON perpetual_positions (subaccount_id, status)
	`},
	{name: indexer.BlocksTableName, ddl: `
		CREATE TABLE IF NOT EXISTS blocks (
			block_height BIGINT PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL
		)
	`},
}
