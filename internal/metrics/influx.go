package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// InfluxTarget describes an InfluxDB v2 write endpoint.
type InfluxTarget struct {
	URL, Token, Org, Bucket string
}

var influxClient = &http.Client{Timeout: 5 * time.Second}

// PushInflux writes the current snapshot as one line-protocol point.
// It is a no-op when URL or bucket is empty.
func PushInflux(ctx context.Context, t InfluxTarget) error {
	if t.URL == "" || t.Bucket == "" {
		return nil
	}
	q := url.Values{}
	q.Set("org", t.Org)
	q.Set("bucket", t.Bucket)
	q.Set("precision", "s")
	writeURL := fmt.Sprintf("%s/api/v2/write?%s", strings.TrimRight(t.URL, "/"), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, bytes.NewReader([]byte(lineProtocol(GetSnapshot(), time.Now()))))
	if err != nil {
		return fmt.Errorf("influxdb request creation failed: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.Token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := influxClient.Do(req)
	if err != nil {
		return fmt.Errorf("influxdb push failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("influxdb rejected metrics: status %d", resp.StatusCode)
	}
	return nil
}

// lineProtocol renders: measurement field=value,... timestamp
func lineProtocol(s StatsSnapshot, now time.Time) string {
	return fmt.Sprintf(
		"kenmeiwatch runs=%di,runs_failed=%di,updates=%di,notifications_sent=%di,notifications_failed=%di,series=%di,last_run=%di %d\n",
		s.Runs, s.RunsFailed, s.UpdatesDetected, s.NotificationsSent, s.NotificationsFailed, s.SeriesTracked, s.LastRun, now.Unix(),
	)
}
