package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/internal/testutil"
	"github.com/smith3v/couple-devotional/pkg/timezone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryConsumeSameLocalDay(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	g := New(gdb, timezone.New(-180), nil)
	ctx := context.Background()

	morning := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
	ok, err := g.TryConsume(ctx, couple.ID, morning)
	require.NoError(t, err)
	assert.True(t, ok)

	// 02:00 UTC next day is still the same local day at UTC-3.
	ok, err = g.TryConsume(ctx, couple.ID, time.Date(2025, 1, 9, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryConsumeAcrossLocalMidnight(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	g := New(gdb, timezone.New(-180), nil)
	ctx := context.Background()

	ok, err := g.TryConsume(ctx, couple.ID, time.Date(2025, 1, 9, 2, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryConsume(ctx, couple.ID, time.Date(2025, 1, 9, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryConsumeConcurrent(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	g := New(gdb, timezone.New(-180), nil)
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryConsume(context.Background(), couple.ID, now)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestTryConsumeUnknownCouple(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	g := New(gdb, timezone.New(0), nil)

	_, err := g.TryConsume(context.Background(), "missing", time.Now())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAvailable(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	now := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
	g := New(gdb, timezone.New(-180), func() time.Time { return now })
	ctx := context.Background()

	ok, err := g.Available(ctx, couple.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = g.TryConsume(ctx, couple.ID, time.Time{})
	require.NoError(t, err)

	ok, err = g.Available(ctx, couple.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(24 * time.Hour)
	ok, err = g.Available(ctx, couple.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseRestoresPreviousStamp(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	g := New(gdb, timezone.New(-180), nil)
	ctx := context.Background()

	yesterday := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	today := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)

	slot, ok, err := g.Claim(ctx, couple.ID, today)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, slot.Previous)
	require.NoError(t, g.Release(ctx, slot))

	var stored db.Couple
	require.NoError(t, gdb.First(&stored, "id = ?", couple.ID).Error)
	assert.Nil(t, stored.LastGeneratedAt)

	_, ok, err = g.Claim(ctx, couple.ID, yesterday)
	require.NoError(t, err)
	require.True(t, ok)
	slot, ok, err = g.Claim(ctx, couple.ID, today)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, slot.Previous)
	require.NoError(t, g.Release(ctx, slot))

	require.NoError(t, gdb.First(&stored, "id = ?", couple.ID).Error)
	require.NotNil(t, stored.LastGeneratedAt)
	assert.True(t, stored.LastGeneratedAt.Equal(yesterday))

	ok, err = g.TryConsume(ctx, couple.ID, today)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAfterReclaimIsNoop(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	couple := testutil.CreateCouple(t, gdb, "AB1-CD2-EF3")
	g := New(gdb, timezone.New(-180), nil)
	ctx := context.Background()

	first, ok, err := g.Claim(ctx, couple.ID, time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, g.Release(ctx, first))

	second, ok, err := g.Claim(ctx, couple.ID, time.Date(2025, 1, 8, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, ok)

	// A stale release must not free the newer claim.
	require.NoError(t, g.Release(ctx, first))
	ok, err = g.TryConsume(ctx, couple.ID, time.Date(2025, 1, 8, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, second.ClaimedAt.After(first.ClaimedAt))
}
