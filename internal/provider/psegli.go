package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/psegsync/psegsync/pkg/models"
)

const defaultBaseURL = "https://mysmartenergy.psegliny.com"

// The portal's chart timestamps lag the actual peak hours by four hours;
// shifting them forward aligns readings with the real intervals.
const timestampShift = 4 * time.Hour

var verificationTokenRe = regexp.MustCompile(`name="__RequestVerificationToken" type="hidden" value="([^"]+)"`)

// PSEGLIClient fetches hourly usage from the PSEG Long Island portal using
// direct API calls against the dashboard endpoints.
type PSEGLIClient struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewPSEGLIClient creates a PSEG-LI client. baseURL may be empty to use the
// production portal.
func NewPSEGLIClient(baseURL string) *PSEGLIClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &PSEGLIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// FetchDay fetches usage for a single day. Three requests are needed: the
// dashboard page (cookie check plus verification token), a chart setup call
// that establishes the hourly context for the date range, and the chart
// data call itself.
func (c *PSEGLIClient) FetchDay(ctx context.Context, cookie string, day time.Time) ([]models.UsageReading, error) {
	token, err := c.dashboardToken(ctx, cookie)
	if err != nil {
		return nil, err
	}

	if err := c.setupChart(ctx, cookie, token, day, day); err != nil {
		return nil, err
	}

	chart, err := c.chartData(ctx, cookie)
	if err != nil {
		return nil, err
	}

	return c.parseReadings(chart, day)
}

// dashboardToken loads the Dashboard page and extracts the
// __RequestVerificationToken hidden field. A redirect to the login page
// means the cookie was rejected.
func (c *PSEGLIClient) dashboardToken(ctx context.Context, cookie string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/Dashboard", nil, cookie)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching dashboard: %w", err)
	}
	defer resp.Body.Close()

	if err := checkAuth(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading dashboard page: %w", err)
	}

	match := verificationTokenRe.FindSubmatch(body)
	if match == nil {
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			Message:    "could not find RequestVerificationToken on /Dashboard (cookie likely expired)",
		}
	}

	return string(match[1]), nil
}

// setupChart posts the chart context with hourly granularity for the
// requested date range. The portal stores this server-side; the following
// ChartData call returns whatever context was last established.
func (c *PSEGLIClient) setupChart(ctx context.Context, cookie, token string, start, end time.Time) error {
	form := url.Values{}
	form.Set("__RequestVerificationToken", token)
	form.Set("UsageInterval", "5") // 5 = hourly granularity
	form.Set("UsageType", "1")
	form.Set("jsTargetName", "StorageType")
	form.Set("EnableHoverChart", "true")
	form.Set("Start", start.Format("2006-01-02"))
	form.Set("End", end.Format("2006-01-02"))
	form.Set("IsRangeOpen", "False")
	form.Set("MaintainMaxDate", "true")
	form.Set("SelectedViaDateRange", "False")
	form.Set("ChartComparison", "1")
	form.Set("ChartComparison2", "0")
	form.Set("ChartComparison3", "0")
	form.Set("ChartComparison4", "0")

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/Dashboard/Chart", strings.NewReader(form.Encode()), cookie)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chart setup request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkAuth(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading chart setup response: %w", err)
	}

	// The portal answers with JSON AjaxResults. A non-JSON body is the HTML
	// login page, a Redirect action means the hourly context was not set.
	var setup struct {
		AjaxResults []struct {
			Action string `json:"Action"`
			Value  string `json:"Value"`
		} `json:"AjaxResults"`
	}
	if err := json.Unmarshal(body, &setup); err != nil {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    "chart setup response is not JSON (cookie likely expired)",
		}
	}
	for _, result := range setup.AjaxResults {
		if result.Action == "Redirect" {
			return &AuthError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("chart setup redirected to %s", result.Value),
			}
		}
	}

	return nil
}

type chartResponse struct {
	Data struct {
		Series []struct {
			Name string `json:"name"`
			Data []struct {
				X float64  `json:"x"` // unix millis
				Y *float64 `json:"y"` // kWh, null when missing
			} `json:"data"`
		} `json:"series"`
	} `json:"Data"`
}

// chartData fetches the hourly series established by setupChart.
func (c *PSEGLIClient) chartData(ctx context.Context, cookie string) (*chartResponse, error) {
	// The underscore parameter is a cache buster
	reqURL := fmt.Sprintf("%s/Dashboard/ChartData?_=%d", c.baseURL, c.now().UnixMilli())

	req, err := c.newRequest(ctx, http.MethodGet, reqURL, nil, cookie)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chart data request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkAuth(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading chart data: %w", err)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    "chart data response is not JSON (cookie likely expired)",
		}
	}

	return &chart, nil
}

// parseReadings converts chart series to readings for the requested day.
// Series are classified by name; anything that is not on-peak or off-peak
// is skipped. Zero values at or past the current hour are dropped since the
// utility has not finalized them yet.
func (c *PSEGLIClient) parseReadings(chart *chartResponse, day time.Time) ([]models.UsageReading, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	currentHour := c.now().Truncate(time.Hour)

	var readings []models.UsageReading
	for _, series := range chart.Data.Series {
		var period models.Period
		switch {
		case strings.Contains(series.Name, "Off-Peak"):
			period = models.PeriodOffPeak
		case strings.Contains(series.Name, "On-Peak"):
			period = models.PeriodOnPeak
		default:
			continue
		}

		for _, point := range series.Data {
			ts := time.UnixMilli(int64(point.X)).Add(timestampShift).In(day.Location())
			if ts.Before(dayStart) || !ts.Before(dayEnd) {
				continue
			}

			var kwh float64
			if point.Y != nil {
				kwh = *point.Y
			}
			if kwh < 0 {
				kwh = 0
			}
			// Only finalized history is recorded; a zero in the current
			// hour just means the meter has not reported yet.
			if kwh == 0 && !ts.Before(currentHour) {
				continue
			}

			readings = append(readings, models.UsageReading{
				Timestamp: ts,
				Period:    period,
				KWh:       kwh,
			})
		}
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	return readings, nil
}

func (c *PSEGLIClient) newRequest(ctx context.Context, method, reqURL string, body io.Reader, cookie string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36")
	req.Header.Set("Referer", c.baseURL+"/Dashboard")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	return req, nil
}

// checkAuth flags authentication failures: explicit status codes and
// redirects that landed on the login page.
func checkAuth(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(resp.Body)
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("authentication failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}

	finalPath := strings.ToLower(resp.Request.URL.Path)
	if strings.Contains(finalPath, "login") || strings.Contains(finalPath, "signin") {
		return &AuthError{
			StatusCode: resp.StatusCode,
			Message:    "cookie rejected - redirected to login page",
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("portal returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
