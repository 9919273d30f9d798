package pnl

import (
	"testing"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPnlTicksQueryBucketsByResolution(t *testing.T) {
	tests := []struct {
		resolution indexer.PnlTickResolution
		bucket     string
	}{
		{resolution: indexer.PnlTickResolutionHour, bucket: "toStartOfHour(block_time)"},
		{resolution: indexer.PnlTickResolutionDay, bucket: "toStartOfDay(block_time)"},
	}
	for _, tt := range tests {
		t.Run(string(tt.resolution), func(t *testing.T) {
			q, err := pnlTicksQuery("perp.pnl_ticks", tt.resolution)
			require.NoError(t, err)
			assert.Contains(t, q, "FROM perp.pnl_ticks FINAL")
			assert.Contains(t, q, "ORDER BY subaccount_id, block_height")
			assert.Contains(t, q, "LIMIT 1 BY subaccount_id, "+tt.bucket)
		})
	}
}

func TestPnlTicksQueryRejectsUnknownResolution(t *testing.T) {
	_, err := pnlTicksQuery("perp.pnl_ticks", indexer.PnlTickResolution("week; DROP TABLE x"))
	assert.Error(t, err)
}
