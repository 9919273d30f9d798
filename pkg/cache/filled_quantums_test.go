package cache

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilledQuantums(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient()
	fills := NewFilledQuantumsCache(client)

	_, ok, err := fills.GetFilledQuantums(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, ok)

	total, err := fills.RecordFill(ctx, "order-1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
	total, err = fills.RecordFill(ctx, "order-1", 12)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)

	q, ok, err := fills.GetFilledQuantums(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), q)

	_, err = fills.RecordFill(ctx, "order-1", -1)
	assert.ErrorIs(t, err, errdefs.ErrDataCorruption)

	require.NoError(t, client.Set(ctx, filledQuantumsKey("order-2"), "garbage"))
	_, _, err = fills.GetFilledQuantums(ctx, "order-2")
	assert.ErrorIs(t, err, errdefs.ErrDataCorruption)
}

func TestFilledQuantumsRecordFillOnce(t *testing.T) {
	ctx := context.Background()
	fills := NewFilledQuantumsCache(NewMemoryClient())

	total, applied, err := fills.RecordFillOnce(ctx, "order-1", "evt/1", "1-0", time.Hour, 30)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(30), total)

	total, applied, err = fills.RecordFillOnce(ctx, "order-1", "evt/1", "1-0", time.Hour, 30)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(30), total)

	total, applied, err = fills.RecordFillOnce(ctx, "order-1", "evt/2", "2-0", time.Hour, 12)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(42), total)

	_, _, err = fills.RecordFillOnce(ctx, "order-1", "evt/3", "3-0", time.Hour, -1)
	assert.ErrorIs(t, err, errdefs.ErrDataCorruption)
}
