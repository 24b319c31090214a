package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/psegsync/psegsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "tok-abc-123"

type chartPoint struct {
	X float64  `json:"x"`
	Y *float64 `json:"y"`
}

type portalFixture struct {
	series map[string][]chartPoint // series name -> points

	chartSetupStatus string // "", "redirect", or "html"
}

func f64(v float64) *float64 { return &v }

// xFor produces the portal's raw millisecond timestamp for the wanted
// reading time, i.e. shifted back by the alignment offset.
func xFor(ts time.Time) float64 {
	return float64(ts.Add(-timestampShift).UnixMilli())
}

func (p *portalFixture) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/Dashboard", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pseg_cook=abc", r.Header.Get("Cookie"))
		fmt.Fprintf(w, `<html><form><input name="__RequestVerificationToken" type="hidden" value="%s" /></form></html>`, testToken)
	})

	mux.HandleFunc("/Dashboard/Chart", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, testToken, r.Form.Get("__RequestVerificationToken"))
		assert.Equal(t, "5", r.Form.Get("UsageInterval"), "must request hourly granularity")
		assert.NotEmpty(t, r.Form.Get("Start"))
		assert.NotEmpty(t, r.Form.Get("End"))

		switch p.chartSetupStatus {
		case "redirect":
			json.NewEncoder(w).Encode(map[string]any{
				"AjaxResults": []map[string]string{{"Action": "Redirect", "Value": "/Login"}},
			})
		case "html":
			fmt.Fprint(w, "<html>please sign in</html>")
		default:
			json.NewEncoder(w).Encode(map[string]any{"AjaxResults": []map[string]string{}})
		}
	})

	mux.HandleFunc("/Dashboard/ChartData", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("_"), "cache buster expected")

		var series []map[string]any
		for name, points := range p.series {
			series = append(series, map[string]any{"name": name, "data": points})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Data": map[string]any{"series": series},
		})
	})

	return mux
}

func TestFetchDay(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.Local)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.Local)

	t.Run("ParsesBothSeries", func(t *testing.T) {
		fixture := &portalFixture{series: map[string][]chartPoint{
			"Electric Off-Peak Usage": {
				{X: xFor(day.Add(1 * time.Hour)), Y: f64(0.8)},
				{X: xFor(day.Add(2 * time.Hour)), Y: f64(1.1)},
				// outside the requested day, must be dropped
				{X: xFor(day.AddDate(0, 0, 1).Add(1 * time.Hour)), Y: f64(9.9)},
			},
			"Electric On-Peak Usage": {
				{X: xFor(day.Add(15 * time.Hour)), Y: f64(2.5)},
				// null y means no reading, recorded as zero
				{X: xFor(day.Add(16 * time.Hour)), Y: nil},
			},
		}}
		ts := httptest.NewServer(fixture.handler(t))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		client.now = func() time.Time { return now }

		readings, err := client.FetchDay(context.Background(), "pseg_cook=abc", day)
		require.NoError(t, err)
		require.Len(t, readings, 4)

		dayEnd := day.AddDate(0, 0, 1)
		for i, r := range readings {
			assert.False(t, r.Timestamp.Before(day), "reading %d before requested day", i)
			assert.True(t, r.Timestamp.Before(dayEnd), "reading %d after requested day", i)
			if i > 0 {
				assert.False(t, readings[i].Timestamp.Before(readings[i-1].Timestamp),
					"timestamps must be monotonically non-decreasing")
			}
		}

		assert.Equal(t, models.PeriodOffPeak, readings[0].Period)
		assert.Equal(t, 0.8, readings[0].KWh)
		assert.Equal(t, models.PeriodOnPeak, readings[2].Period)
		assert.Equal(t, 2.5, readings[2].KWh)
		assert.Equal(t, 0.0, readings[3].KWh, "null reading in a finalized hour recorded as zero")
	})

	t.Run("DropsUnfinalizedCurrentHourZeros", func(t *testing.T) {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
		fixture := &portalFixture{series: map[string][]chartPoint{
			"Electric Off-Peak Usage": {
				{X: xFor(today.Add(8 * time.Hour)), Y: f64(1.2)},
				{X: xFor(today.Add(9 * time.Hour)), Y: f64(0)}, // finalized zero, kept
				{X: xFor(now.Truncate(time.Hour)), Y: f64(0)},  // current hour, not finalized
			},
		}}
		ts := httptest.NewServer(fixture.handler(t))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		client.now = func() time.Time { return now }

		readings, err := client.FetchDay(context.Background(), "pseg_cook=abc", today)
		require.NoError(t, err)
		require.Len(t, readings, 2)
		assert.Equal(t, 1.2, readings[0].KWh)
		assert.Equal(t, 0.0, readings[1].KWh)
	})

	t.Run("SkipsUnknownSeries", func(t *testing.T) {
		fixture := &portalFixture{series: map[string][]chartPoint{
			"Temperature": {{X: xFor(day.Add(1 * time.Hour)), Y: f64(72)}},
		}}
		ts := httptest.NewServer(fixture.handler(t))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		client.now = func() time.Time { return now }

		readings, err := client.FetchDay(context.Background(), "pseg_cook=abc", day)
		require.NoError(t, err)
		assert.Empty(t, readings)
	})
}

func TestFetchDayAuthErrors(t *testing.T) {
	day := time.Date(2026, 8, 20, 0, 0, 0, 0, time.Local)

	t.Run("RedirectToLogin", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/Dashboard", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/Login?ReturnUrl=%2FDashboard", http.StatusFound)
		})
		mux.HandleFunc("/Login", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>sign in</html>")
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		_, err := client.FetchDay(context.Background(), "pseg_cook=stale", day)
		require.Error(t, err)
		assert.True(t, IsAuthError(err), "login redirect must be an auth error, got %v", err)
	})

	t.Run("Forbidden", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		_, err := client.FetchDay(context.Background(), "pseg_cook=stale", day)
		require.Error(t, err)
		require.True(t, IsAuthError(err))

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
	})

	t.Run("ChartSetupRedirectAction", func(t *testing.T) {
		fixture := &portalFixture{chartSetupStatus: "redirect"}
		ts := httptest.NewServer(fixture.handler(t))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		_, err := client.FetchDay(context.Background(), "pseg_cook=abc", day)
		require.Error(t, err)
		assert.True(t, IsAuthError(err))
	})

	t.Run("ChartSetupNotJSON", func(t *testing.T) {
		fixture := &portalFixture{chartSetupStatus: "html"}
		ts := httptest.NewServer(fixture.handler(t))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		_, err := client.FetchDay(context.Background(), "pseg_cook=abc", day)
		require.Error(t, err)
		assert.True(t, IsAuthError(err), "HTML login page instead of JSON means the cookie expired")
	})

	t.Run("MissingVerificationToken", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>sign in</html>")
		}))
		defer ts.Close()

		client := NewPSEGLIClient(ts.URL)
		_, err := client.FetchDay(context.Background(), "pseg_cook=stale", day)
		require.Error(t, err)
		assert.True(t, IsAuthError(err))
	})
}
