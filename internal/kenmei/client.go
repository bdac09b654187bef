// Package kenmei talks to the Kenmei manga tracker: it logs in with account
// credentials and lists the tracked manga entries with their latest chapter.
package kenmei

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kenmeiwatch/kenmeiwatch/internal/logging"
)

// DefaultBaseURL is the public Kenmei API.
const DefaultBaseURL = "https://api.kenmei.co"

var (
	// ErrAuth marks login failures and requests rejected as unauthorized.
	ErrAuth = errors.New("kenmei authentication failed")
	// ErrFetch marks failures while listing manga entries.
	ErrFetch = errors.New("kenmei fetch failed")
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Client is a Kenmei API client. It is not safe for concurrent use.
type Client struct {
	baseURL     string
	http        *http.Client
	sentryTrace string
	token       string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient returns a client for the Kenmei API.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		http:        &http.Client{Timeout: 10 * time.Second},
		sentryTrace: fmt.Sprintf("%s-%s-1", hexID(), hexID()[:16]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func hexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Login exchanges account credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body := loginRequest{User: loginUser{Login: email, Password: password, RememberMe: false}}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/sessions", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: login returned status %d", ErrAuth, resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode login response: %v", ErrAuth, err)
	}
	if out.Access == "" {
		return fmt.Errorf("%w: login response carried no access token", ErrAuth)
	}
	c.token = out.Access
	logging.Get().Debug().Msg("kenmei authentication successful")
	return nil
}

// FetchSeries lists every tracked entry across all pages and returns the ones
// with a usable title and chapter, in API order. Any failing page fails the
// whole call so callers never act on a partial list.
func (c *Client) FetchSeries(ctx context.Context) ([]Series, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: not logged in", ErrAuth)
	}

	first, err := c.fetchPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	pages := first.Pagy.Pages
	if pages < 1 {
		pages = 1
	}
	logging.Get().Debug().Int("pages", pages).Msg("found manga entry pages")

	entries := first.Entries
	for page := 2; page <= pages; page++ {
		p, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(p.Entries) == 0 {
			logging.Get().Debug().Int("page", page).Msg("no entries on page")
		}
		entries = append(entries, p.Entries...)
	}

	series := parseEntries(entries)
	logging.Get().Info().Int("entries", len(entries)).Int("series", len(series)).Msg("fetched kenmei entries")
	return series, nil
}

func (c *Client) fetchPage(ctx context.Context, page int) (*entriesPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("status", "1")
	endpoint := fmt.Sprintf("%s/api/v2/manga_entries?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrFetch, page, err)
	}
	c.setHeaders(req)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrFetch, page, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: page %d returned status %d", ErrAuth, page, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: page %d returned status %d", ErrFetch, page, resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrFetch, page, err)
	}
	var out entriesPage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON on page %d: %v", ErrFetch, page, err)
	}
	logging.Get().Debug().Int("page", page).Int("entries", len(out.Entries)).Msg("fetched page")
	return &out, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://www.kenmei.co")
	req.Header.Set("Referer", "https://www.kenmei.co/")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("sentry-trace", c.sentryTrace)
}
