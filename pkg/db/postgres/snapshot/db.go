package snapshot

import (
	"context"
	"fmt"

	"github.com/canopy-network/perpindexer/pkg/db"
	"github.com/canopy-network/perpindexer/pkg/db/postgres"
	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"go.uber.org/zap"
)

// DB is the relational snapshot store: subaccounts, positions, assets, markets and blocks.
type DB struct {
	postgres.Client
	Name string
}

var _ db.SnapshotStore = (*DB)(nil)

// NewWithPoolConfig connects and, when initialize is set, creates the snapshot tables.
// Read replicas of the query service pass initialize=false.
func NewWithPoolConfig(ctx context.Context, logger *zap.Logger, name string, poolConfig postgres.PoolConfig, initialize bool) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", poolConfig.Component),
	), name, &poolConfig)
	if err != nil {
		return nil, errdefs.Unavailable("connect postgres", err)
	}

	store := &DB{Client: client, Name: name}
	if initialize {
		if err := store.InitializeDB(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

// InitializeDB ensures the snapshot tables exist.
func (d *DB) InitializeDB(ctx context.Context) error {
	d.Logger.Info("Initializing snapshot tables", zap.String("database", d.Name))
	for _, t := range tables {
		if err := d.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return errdefs.Unavailable("postgres ping", d.Client.Ping(ctx))
}
