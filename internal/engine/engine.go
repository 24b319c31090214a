package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psegsync/psegsync/internal/provider"
	"github.com/psegsync/psegsync/internal/session"
	"github.com/psegsync/psegsync/internal/statistics"
	"github.com/psegsync/psegsync/pkg/log"
	"github.com/psegsync/psegsync/pkg/models"
)

// ErrBusy is returned when a backfill is requested while another one for
// the same account is still in flight.
var ErrBusy = errors.New("another backfill is already in progress")

// Publisher pushes the latest readings to an external consumer after a
// successful write. Optional.
type Publisher interface {
	PublishLatest(readings []models.UsageReading) error
}

// DayError records a fetch failure for a single day in a range.
type DayError struct {
	Day time.Time
	Err error
}

// Engine coordinates fetching usage from the provider and writing hourly
// statistic buckets. One engine per account; RunBackfill never runs
// concurrently with itself so cumulative sums cannot interleave.
type Engine struct {
	mu      sync.Mutex
	session *session.Manager
	source  provider.Source
	store   *statistics.Store
	pub     Publisher
	now     func() time.Time
}

// New creates an engine for one account.
func New(sess *session.Manager, source provider.Source, store *statistics.Store) *Engine {
	return &Engine{
		session: sess,
		source:  source,
		store:   store,
		now:     time.Now,
	}
}

// SetPublisher installs an optional publisher for post-write publication.
func (e *Engine) SetPublisher(p Publisher) {
	e.pub = p
}

// FetchRange fetches readings for each day in the inclusive range. On an
// authentication failure the session is refreshed exactly once and the
// day retried exactly once; a day that still fails is recorded and the
// range continues, preserving results from earlier days.
func (e *Engine) FetchRange(ctx context.Context, start, end time.Time) ([]models.UsageReading, []DayError) {
	var readings []models.UsageReading
	var failures []DayError

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			failures = append(failures, DayError{Day: day, Err: err})
			continue
		}

		dayReadings, err := e.fetchDay(ctx, day)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "fetching day failed",
				"day", day.Format("2006-01-02"), "error", err)
			failures = append(failures, DayError{Day: day, Err: err})
			continue
		}

		readings = append(readings, dayReadings...)
	}

	return readings, failures
}

func (e *Engine) fetchDay(ctx context.Context, day time.Time) ([]models.UsageReading, error) {
	readings, err := e.source.FetchDay(ctx, e.session.Current().Cookie, day)
	if provider.IsAuthError(err) {
		e.session.MarkExpired()
		if _, rerr := e.session.Refresh(ctx, "fetch rejected cookie"); rerr != nil {
			return nil, fmt.Errorf("authentication failed and refresh unavailable: %w", rerr)
		}
		readings, err = e.source.FetchDay(ctx, e.session.Current().Cookie, day)
		if provider.IsAuthError(err) {
			e.session.MarkExpired()
			return nil, fmt.Errorf("authentication failed after refresh: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	e.session.Validated()
	return readings, nil
}

// WriteStatistics groups readings into hourly buckets per statistic series,
// continues the cumulative sum from the last value already stored before
// the first new bucket, and upserts every bucket in one transaction.
// Re-submitting the same readings leaves stored values unchanged.
func (e *Engine) WriteStatistics(readings []models.UsageReading) (int, error) {
	buckets := make(map[string]map[time.Time]float64)
	for _, r := range readings {
		statID := r.Period.StatisticID()
		if buckets[statID] == nil {
			buckets[statID] = make(map[time.Time]float64)
		}
		hour := r.Timestamp.Truncate(time.Hour)
		buckets[statID][hour] += r.KWh
	}

	statIDs := make([]string, 0, len(buckets))
	for statID := range buckets {
		statIDs = append(statIDs, statID)
	}
	sort.Strings(statIDs)

	var points []models.StatisticPoint
	for _, statID := range statIDs {
		hours := make([]time.Time, 0, len(buckets[statID]))
		for hour := range buckets[statID] {
			hours = append(hours, hour)
		}
		sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

		// Anchor at the sum stored before our first bucket so recomputing
		// an overlapping range converges to the same values.
		running, err := e.store.SumBefore(statID, hours[0])
		if err != nil {
			return 0, fmt.Errorf("fetching last sum for %s: %w", statID, err)
		}

		for _, hour := range hours {
			state := buckets[statID][hour]
			running += state
			points = append(points, models.StatisticPoint{
				StatisticID: statID,
				HourStart:   hour,
				State:       state,
				Sum:         running,
			})
		}
	}

	if err := e.store.UpsertPoints(points); err != nil {
		return 0, err
	}

	return len(points), nil
}

// RunBackfill fetches [today-daysBack, today] (yesterday through today when
// daysBack is 0) and writes the resulting statistics. Only one backfill per
// engine runs at a time; overlapping calls fail with ErrBusy.
func (e *Engine) RunBackfill(ctx context.Context, daysBack int) (models.WriteSummary, error) {
	var summary models.WriteSummary

	if daysBack < 0 {
		return summary, fmt.Errorf("days back must be >= 0, got %d", daysBack)
	}

	if !e.mu.TryLock() {
		return summary, ErrBusy
	}
	defer e.mu.Unlock()

	now := e.now()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -daysBack)
	if daysBack == 0 {
		start = end.AddDate(0, 0, -1)
	}

	log.Ctx(ctx).InfoContext(ctx, "starting backfill",
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))

	readings, failures := e.FetchRange(ctx, start, end)

	totalDays := daysBack + 1
	if daysBack == 0 {
		totalDays = 2
	}
	summary.DaysFetched = totalDays - len(failures)
	summary.Readings = len(readings)
	for _, f := range failures {
		summary.DaysFailed = append(summary.DaysFailed, f.Day.Format("2006-01-02"))
	}

	written, err := e.WriteStatistics(readings)
	if err != nil {
		return summary, fmt.Errorf("writing statistics: %w", err)
	}
	summary.PointsWritten = written

	if e.pub != nil && len(readings) > 0 {
		if err := e.pub.PublishLatest(readings); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "publishing latest readings failed", "error", err)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "backfill finished",
		"readings", summary.Readings,
		"points", summary.PointsWritten,
		"days_failed", len(summary.DaysFailed))

	return summary, nil
}
