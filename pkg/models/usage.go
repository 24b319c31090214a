package models

import "time"

// Period is the utility's billing classification for a usage interval.
type Period string

const (
	PeriodOnPeak  Period = "on_peak"
	PeriodOffPeak Period = "off_peak"
)

// Periods lists every period we record statistics for.
var Periods = []Period{PeriodOnPeak, PeriodOffPeak}

// StatisticID returns the long-term statistic series this period maps to.
func (p Period) StatisticID() string {
	return "psegli:" + string(p) + "_usage"
}

// UsageReading is a single finalized usage interval from the utility.
// Timestamp is the start of the interval (hourly or 15-minute aligned).
type UsageReading struct {
	Timestamp time.Time `json:"timestamp"`
	Period    Period    `json:"period"`
	KWh       float64   `json:"kwh"`
}

// StatisticPoint is one hour-aligned bucket in the statistics store,
// keyed by (StatisticID, HourStart).
type StatisticPoint struct {
	StatisticID string    `json:"statistic_id"`
	HourStart   time.Time `json:"hour_start"`
	State       float64   `json:"state"` // consumption during the hour
	Sum         float64   `json:"sum"`   // cumulative total up to and including the hour
}

// WriteSummary reports the outcome of a backfill run.
type WriteSummary struct {
	DaysFetched   int      `json:"days_fetched"`
	DaysFailed    []string `json:"days_failed,omitempty"` // YYYY-MM-DD
	Readings      int      `json:"readings"`
	PointsWritten int      `json:"points_written"`
}
