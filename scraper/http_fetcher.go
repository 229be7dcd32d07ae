package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"stayscraper/config"
	"stayscraper/httputil"
)

const (
	maxAttempts       = 3
	maxBackoff        = 25 * time.Second
	defaultRetryAfter = 90 * time.Second
)

// HTTPFetcher is the cheap tier: a plain client dressed up as a
// browser. One instance serves all languages of one queue item and
// keeps a stable user agent and cookie jar for that item, so the
// traffic looks like one person reading the page in several languages.
type HTTPFetcher struct {
	cfg       *config.FetchConfig
	languages *config.LanguageConfig

	sessionID string
	userAgent string
	client    *http.Client

	// sleep and newClient are replaceable in tests; production uses
	// context-aware sleeping so shutdown is not held up by a backoff.
	sleep     func(ctx context.Context, d time.Duration) error
	newClient func() *http.Client
}

func NewHTTPFetcher(cfg *config.FetchConfig, languages *config.LanguageConfig) *HTTPFetcher {
	f := &HTTPFetcher{
		cfg:       cfg,
		languages: languages,
		sleep:     sleepCtx,
	}
	f.newClient = func() *http.Client {
		return httputil.NewScrapingClient(cfg.BrowserTimeout)
	}
	f.resetSession()
	return f
}

// resetSession discards cookies and identity. Used at construction and
// after a 403, which usually means the current session is poisoned.
func (f *HTTPFetcher) resetSession() {
	f.sessionID = uuid.NewString()[:8]
	f.userAgent = httputil.RandomUserAgent()
	f.client = f.newClient()
	httputil.SeedConsentCookies(f.client, "https://www.booking.com")
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL, language string) (string, error) {
	entry := f.languages.Entry(language)

	var lastErr error
	cooled := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 && !cooled {
			if err := f.sleep(ctx, f.backoff(attempt)); err != nil {
				return "", err
			}
		}
		cooled = false

		html, err := f.fetchOnce(ctx, pageURL, entry)
		if err == nil {
			return html, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return "", err
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			// The server named its own delay; it replaces the backoff
			// for the next attempt.
			log.Printf("[fetch:%s] rate limited, cooling down %s", f.sessionID, rl.RetryAfter)
			if serr := f.sleep(ctx, rl.RetryAfter); serr != nil {
				return "", serr
			}
			cooled = true
			continue
		}

		log.Printf("[fetch:%s] attempt %d/%d failed: %v", f.sessionID, attempt, maxAttempts, err)
	}
	return "", fmt.Errorf("http tier gave up on %s: %w", pageURL, lastErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, pageURL string, entry config.LanguageEntry) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	httputil.BrowserHeaders(req, f.userAgent, entry.Accept)
	req.Header.Set("Referer", "https://www.google.com/")
	req.AddCookie(&http.Cookie{Name: "lang", Value: entry.Locale})

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &TransientError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%w: %s", ErrNotFound, pageURL)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusForbidden:
		// The session is poisoned; a fresh jar and UA sometimes get
		// through where backoff alone never does.
		log.Printf("[fetch:%s] 403, resetting session", f.sessionID)
		f.resetSession()
		return "", &TransientError{Reason: "403 forbidden, session reset"}
	case resp.StatusCode != http.StatusOK:
		return "", &TransientError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &TransientError{Reason: "read body", Err: err}
	}

	html := string(body)
	if err := validatePage(html); err != nil {
		return "", err
	}
	return html, nil
}

// backoff grows multiplicatively from a randomized base delay.
func (f *HTTPFetcher) backoff(attempt int) time.Duration {
	span := f.cfg.MaxRequestDelay - f.cfg.MinRequestDelay
	base := f.cfg.MinRequestDelay
	if span > 0 {
		base += time.Duration(rand.Int63n(int64(span)))
	}
	d := time.Duration(float64(base) * float64(attempt) * 1.5)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (f *HTTPFetcher) Transport() *http.Client { return f.client }

func (f *HTTPFetcher) Close() { f.client.CloseIdleConnections() }

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newCookieClient builds a plain client pre-loaded with the given
// cookies, the image downloader's view of a browser session.
func newCookieClient(site string, cookies []*http.Cookie, timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	if u, err := url.Parse(site); err == nil {
		jar.SetCookies(u, cookies)
	}
	return &http.Client{Timeout: timeout, Jar: jar}
}
