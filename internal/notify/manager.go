// Package notify delivers chapter release messages to push services.
package notify

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kenmeiwatch/kenmeiwatch/internal/logging"
)

// Retry backoff settings (can be tuned in tests)
var notifierBaseBackoff = 500 * time.Millisecond

// notifierBackoffJitter adds up to this random duration to backoff
var notifierBackoffJitter = 250 * time.Millisecond

// sleepHook is used in tests to avoid sleeping for real
var sleepHook = time.Sleep

// httpClient is shared by all providers.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// SetHTTPTimeout changes the timeout used by every provider.
// Non-positive values are ignored.
func SetHTTPTimeout(d time.Duration) {
	if d > 0 {
		httpClient.Timeout = d
	}
}

// Service is the interface all notifiers must implement
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// MultiNotifier sends each message to every configured service, one after another.
type MultiNotifier struct {
	services []Service
	attempts int
}

// NewMultiNotifier returns an empty notifier that tries each service once.
func NewMultiNotifier() *MultiNotifier {
	return &MultiNotifier{attempts: 1}
}

// SetAttempts sets how many times a failing service is tried per message.
// Values below 1 mean a single attempt.
func (m *MultiNotifier) SetAttempts(n int) {
	if n < 1 {
		n = 1
	}
	m.attempts = n
}

func (m *MultiNotifier) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

func (m *MultiNotifier) Len() int {
	return len(m.services)
}

// Send delivers the message to all services. Every service is attempted even
// when an earlier one fails; the failures are joined into the returned error.
func (m *MultiNotifier) Send(ctx context.Context, title, message string) error {
	if len(m.services) == 0 {
		return errors.New("no notification services configured")
	}
	var errs []error
	for _, s := range m.services {
		if err := m.sendWithRetries(ctx, s, title, message); err != nil {
			logging.Get().Error().Err(err).Str("service", s.Name()).Msg("notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// sendWithRetries attempts to send a notification with backoff between attempts. Returns last error if any.
func (m *MultiNotifier) sendWithRetries(ctx context.Context, s Service, title, message string) error {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		err := s.Send(ctx, title, message)
		if err == nil {
			logging.Get().Debug().Str("service", s.Name()).Msg("notification sent")
			return nil
		}
		lastErr = err
		if attempt == m.attempts {
			break
		}
		logging.Get().Warn().Err(err).Str("service", s.Name()).Int("attempt", attempt).Msg("notification attempt failed")
		if err := ctx.Err(); err != nil {
			return err
		}
		sleepHook(backoffDuration(attempt))
	}
	return lastErr
}

// backoffDuration returns the computed backoff including optional jitter for the given attempt
func backoffDuration(attempt int) time.Duration {
	d := notifierBaseBackoff * time.Duration(1<<uint(attempt-1))
	if notifierBackoffJitter > 0 {
		max := big.NewInt(int64(notifierBackoffJitter))
		if n, err := crand.Int(crand.Reader, max); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// postJSON is a shared helper used by providers
func postJSON(ctx context.Context, endpoint string, data interface{}, headers map[string]string) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(req)
}

// postForm sends url-encoded form values, as the Pushover API expects.
func postForm(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(req)
}

func do(req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return fmt.Errorf("api returned status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}
