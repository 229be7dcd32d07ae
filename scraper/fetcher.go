package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound marks a page that is gone for good; retrying any
	// tier is pointless.
	ErrNotFound = errors.New("page not found")

	// ErrSessionInvalid reports a dead browser session. The browser
	// fetcher recovers from it in-call; if it escapes, the caller
	// should rebuild the fetcher.
	ErrSessionInvalid = errors.New("browser session invalid")

	// ErrTierExhausted means every fetch strategy ran out of attempts.
	ErrTierExhausted = errors.New("all fetch tiers exhausted")
)

// TransientError wraps a failure worth retrying on the same tier.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError carries the server-requested cooldown.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Fetcher retrieves the rendered HTML of one property page in one
// language. A Fetcher instance lives for the languages of a single
// queue item, so browser-backed implementations can share one session
// across the item.
type Fetcher interface {
	Fetch(ctx context.Context, url, language string) (string, error)
	// Transport returns a client carrying the fetcher's session
	// cookies, for follow-up downloads the CDN only serves to
	// authenticated sessions. May be nil before the first Fetch.
	Transport() *http.Client
	Close()
}

// Chain escalates from the plain HTTP tier to the browser tier. The
// browser tier is optional; without it the HTTP tier is the only
// strategy.
type Chain struct {
	Primary  Fetcher
	Fallback Fetcher // nil when browser fetching is disabled

	lastUsed Fetcher
}

func (c *Chain) Fetch(ctx context.Context, url, language string) (string, error) {
	html, err := c.Primary.Fetch(ctx, url, language)
	if err == nil {
		c.lastUsed = c.Primary
		return html, nil
	}
	if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return "", err
	}
	if c.Fallback == nil {
		return "", fmt.Errorf("%w: %v", ErrTierExhausted, err)
	}

	html, berr := c.Fallback.Fetch(ctx, url, language)
	if berr == nil {
		c.lastUsed = c.Fallback
		return html, nil
	}
	if errors.Is(berr, ErrNotFound) {
		return "", berr
	}
	return "", fmt.Errorf("%w: http tier: %v; browser tier: %v", ErrTierExhausted, err, berr)
}

// Transport returns the client of whichever tier served the last
// successful fetch, so image downloads reuse its cookies.
func (c *Chain) Transport() *http.Client {
	if c.lastUsed != nil {
		return c.lastUsed.Transport()
	}
	return c.Primary.Transport()
}

func (c *Chain) Close() {
	c.Primary.Close()
	if c.Fallback != nil {
		c.Fallback.Close()
	}
}

// Markers that identify a real property page. A response missing all of
// them is a shell, an interstitial, or the wrong page entirely.
var hotelPageSignals = []string{
	"property-description",
	"hp_facilities_box",
	"maxotelroomarea",
	"reviewscore",
	"review-score",
	"b2hotelpage",
	"hoteldetails",
}

// Markers of anti-bot interstitials and block pages.
var blockSignals = []string{
	"just a moment",
	"access denied",
	"403 forbidden",
	"privacymanager",
	"cookie-consent",
	"please verify you are a human",
	"enable javascript",
	"checking your browser",
}

const minPageBytes = 5000

// validatePage decides whether fetched HTML is a usable property page.
// Returns a transient error describing what is wrong with it.
func validatePage(html string) error {
	lower := strings.ToLower(html)

	for _, sig := range blockSignals {
		if strings.Contains(lower, sig) {
			return &TransientError{Reason: "blocked: " + sig}
		}
	}
	if len(html) < minPageBytes {
		return &TransientError{Reason: fmt.Sprintf("suspiciously small page (%d bytes)", len(html))}
	}
	for _, sig := range hotelPageSignals {
		if strings.Contains(lower, sig) {
			return nil
		}
	}
	return &TransientError{Reason: "no property page markers"}
}
