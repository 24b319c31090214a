package statistics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/psegsync/psegsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func hourAt(day, hour int) time.Time {
	return time.Date(2026, 8, day, hour, 0, 0, 0, time.UTC)
}

func TestUpsertPoints(t *testing.T) {
	store := newTestStore(t)

	points := []models.StatisticPoint{
		{StatisticID: "psegli:off_peak_usage", HourStart: hourAt(20, 0), State: 1.0, Sum: 1.0},
		{StatisticID: "psegli:off_peak_usage", HourStart: hourAt(20, 1), State: 2.0, Sum: 3.0},
	}
	require.NoError(t, store.UpsertPoints(points))

	got, err := store.ListPoints("psegli:off_peak_usage", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Sum)
	assert.Equal(t, 3.0, got[1].Sum)

	// Re-submitting identical points must not change anything or add rows
	require.NoError(t, store.UpsertPoints(points))
	again, err := store.ListPoints("psegli:off_peak_usage", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, got, again)

	// A conflicting write for an existing bucket overwrites it
	require.NoError(t, store.UpsertPoints([]models.StatisticPoint{
		{StatisticID: "psegli:off_peak_usage", HourStart: hourAt(20, 1), State: 2.5, Sum: 3.5},
	}))
	updated, err := store.ListPoints("psegli:off_peak_usage", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, updated, 2, "upsert must not create a duplicate bucket")
	assert.Equal(t, 2.5, updated[1].State)
	assert.Equal(t, 3.5, updated[1].Sum)
}

func TestUpsertPointsEmpty(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertPoints(nil))
}

func TestSumBefore(t *testing.T) {
	store := newTestStore(t)

	sum, err := store.SumBefore("psegli:on_peak_usage", hourAt(20, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum, "empty series anchors at zero")

	require.NoError(t, store.UpsertPoints([]models.StatisticPoint{
		{StatisticID: "psegli:on_peak_usage", HourStart: hourAt(20, 0), State: 1.0, Sum: 1.0},
		{StatisticID: "psegli:on_peak_usage", HourStart: hourAt(20, 1), State: 1.0, Sum: 2.0},
		{StatisticID: "psegli:on_peak_usage", HourStart: hourAt(20, 2), State: 1.0, Sum: 3.0},
		// other series must not leak into the anchor
		{StatisticID: "psegli:off_peak_usage", HourStart: hourAt(20, 1), State: 9.0, Sum: 9.0},
	}))

	sum, err = store.SumBefore("psegli:on_peak_usage", hourAt(20, 2))
	require.NoError(t, err)
	assert.Equal(t, 2.0, sum)

	// Strictly before: a bucket at exactly the given hour is excluded
	sum, err = store.SumBefore("psegli:on_peak_usage", hourAt(20, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum)

	sum, err = store.SumBefore("psegli:on_peak_usage", hourAt(21, 0))
	require.NoError(t, err)
	assert.Equal(t, 3.0, sum)
}

func TestLatestPoint(t *testing.T) {
	store := newTestStore(t)

	point, err := store.LatestPoint("psegli:off_peak_usage")
	require.NoError(t, err)
	assert.Nil(t, point)

	require.NoError(t, store.UpsertPoints([]models.StatisticPoint{
		{StatisticID: "psegli:off_peak_usage", HourStart: hourAt(20, 5), State: 1.5, Sum: 1.5},
		{StatisticID: "psegli:off_peak_usage", HourStart: hourAt(20, 7), State: 0.5, Sum: 2.0},
	}))

	point, err = store.LatestPoint("psegli:off_peak_usage")
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.Equal(t, hourAt(20, 7), point.HourStart)
	assert.Equal(t, 2.0, point.Sum)
}

func TestListPointsRange(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertPoints([]models.StatisticPoint{
		{StatisticID: "psegli:on_peak_usage", HourStart: hourAt(20, 0), State: 1, Sum: 1},
		{StatisticID: "psegli:on_peak_usage", HourStart: hourAt(21, 0), State: 1, Sum: 2},
		{StatisticID: "psegli:on_peak_usage", HourStart: hourAt(22, 0), State: 1, Sum: 3},
	}))

	got, err := store.ListPoints("psegli:on_peak_usage", hourAt(21, 0), hourAt(22, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hourAt(21, 0), got[0].HourStart)
}
