package scraper

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"stayscraper/config"
)

const testPageURL = "https://www.booking.com/hotel/us/plaza.html"

func hotelPage() string {
	return `<html><body><div id="property-description">A lovely hotel</div>` +
		strings.Repeat("<p>filler</p>", 500) + `</body></html>`
}

func newTestFetcher(mt *httpmock.MockTransport) *HTTPFetcher {
	cfg := &config.FetchConfig{
		BrowserTimeout:  5 * time.Second,
		MaxRetries:      3,
		MinRequestDelay: time.Millisecond,
		MaxRequestDelay: 2 * time.Millisecond,
	}
	langs := &config.LanguageConfig{
		Enabled: []string{"en", "es"},
		Default: "en",
		Table: map[string]config.LanguageEntry{
			"en": {Suffix: "", Locale: "en-gb", Accept: "en-US,en;q=0.9"},
			"es": {Suffix: ".es", Locale: "es", Accept: "es-ES,es;q=0.9"},
		},
	}
	f := NewHTTPFetcher(cfg, langs)
	f.newClient = func() *http.Client { return &http.Client{Transport: mt} }
	f.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	f.resetSession()
	return f
}

func TestHTTPFetcherSuccess(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder("GET", testPageURL,
		httpmock.NewStringResponder(200, hotelPage()))

	f := newTestFetcher(mt)
	html, err := f.Fetch(context.Background(), testPageURL, "en")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !strings.Contains(html, "property-description") {
		t.Error("returned HTML lost the page content")
	}
	if mt.GetTotalCallCount() != 1 {
		t.Errorf("expected a single request, got %d", mt.GetTotalCallCount())
	}
}

func TestHTTPFetcherSendsLanguageHeaders(t *testing.T) {
	mt := httpmock.NewMockTransport()
	var gotAccept, gotCookie string
	mt.RegisterResponder("GET", testPageURL,
		func(req *http.Request) (*http.Response, error) {
			gotAccept = req.Header.Get("Accept-Language")
			if c, err := req.Cookie("lang"); err == nil {
				gotCookie = c.Value
			}
			return httpmock.NewStringResponse(200, hotelPage()), nil
		})

	f := newTestFetcher(mt)
	if _, err := f.Fetch(context.Background(), testPageURL, "es"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotAccept != "es-ES,es;q=0.9" {
		t.Errorf("wrong Accept-Language %q", gotAccept)
	}
	if gotCookie != "es" {
		t.Errorf("wrong lang cookie %q", gotCookie)
	}
}

func TestHTTPFetcherNotFoundIsPermanent(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder("GET", testPageURL,
		httpmock.NewStringResponder(404, "gone"))

	f := newTestFetcher(mt)
	_, err := f.Fetch(context.Background(), testPageURL, "en")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mt.GetTotalCallCount() != 1 {
		t.Errorf("404 must not be retried, got %d requests", mt.GetTotalCallCount())
	}
}

func TestHTTPFetcherForbiddenResetsSession(t *testing.T) {
	mt := httpmock.NewMockTransport()
	calls := 0
	mt.RegisterResponder("GET", testPageURL,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(403, "forbidden"), nil
			}
			return httpmock.NewStringResponse(200, hotelPage()), nil
		})

	f := newTestFetcher(mt)
	before := f.sessionID

	if _, err := f.Fetch(context.Background(), testPageURL, "en"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if f.sessionID == before {
		t.Error("403 should have reset the session identity")
	}
	if calls != 2 {
		t.Errorf("expected retry after reset, got %d requests", calls)
	}
}

func TestHTTPFetcherRateLimitHonoursRetryAfter(t *testing.T) {
	mt := httpmock.NewMockTransport()
	calls := 0
	mt.RegisterResponder("GET", testPageURL,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				resp := httpmock.NewStringResponse(429, "slow down")
				resp.Header.Set("Retry-After", "7")
				return resp, nil
			}
			return httpmock.NewStringResponse(200, hotelPage()), nil
		})

	f := newTestFetcher(mt)
	var slept []time.Duration
	f.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if _, err := f.Fetch(context.Background(), testPageURL, "en"); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	// The server-specified cooldown replaces the backoff for the next
	// attempt; it must be the only sleep.
	if len(slept) != 1 || slept[0] != 7*time.Second {
		t.Errorf("expected a single 7s cooldown from Retry-After, slept %v", slept)
	}
}

func TestHTTPFetcherRejectsBlockPages(t *testing.T) {
	mt := httpmock.NewMockTransport()
	body := "<html>Checking your browser before accessing</html>" + strings.Repeat(" ", 6000)
	mt.RegisterResponder("GET", testPageURL,
		httpmock.NewStringResponder(200, body))

	f := newTestFetcher(mt)
	_, err := f.Fetch(context.Background(), testPageURL, "en")
	if err == nil {
		t.Fatal("interstitial page should not be accepted")
	}
	if mt.GetTotalCallCount() != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, mt.GetTotalCallCount())
	}
}

func TestHTTPFetcherRejectsTinyPages(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder("GET", testPageURL,
		httpmock.NewStringResponder(200, "<html>property-description</html>"))

	f := newTestFetcher(mt)
	_, err := f.Fetch(context.Background(), testPageURL, "en")
	if err == nil {
		t.Fatal("undersized page should not be accepted")
	}
}

func TestBackoffIsCapped(t *testing.T) {
	f := &HTTPFetcher{cfg: &config.FetchConfig{
		MinRequestDelay: 20 * time.Second,
		MaxRequestDelay: 20 * time.Second,
	}}
	if d := f.backoff(3); d != maxBackoff {
		t.Errorf("expected backoff capped at %s, got %s", maxBackoff, d)
	}
}
