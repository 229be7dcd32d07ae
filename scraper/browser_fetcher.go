package scraper

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"stayscraper/config"
)

// BrowserFetcher is the expensive tier: a real rendered browser for
// pages the plain client cannot get past. One instance, and one
// underlying browser session, serves all languages of a queue item.
type BrowserFetcher struct {
	cfg       *config.FetchConfig
	languages *config.LanguageConfig

	newSession func() (browserSession, error)
	session    browserSession

	transport *http.Client

	sleep func(ctx context.Context, d time.Duration) error
}

// browserSession is the slice of browser behavior the fetcher needs.
// Production wraps playwright; tests substitute a fake.
type browserSession interface {
	Navigate(ctx context.Context, url string, entry config.LanguageEntry) (string, error)
	Cookies() ([]*http.Cookie, error)
	Close()
}

func NewBrowserFetcher(cfg *config.FetchConfig, languages *config.LanguageConfig) *BrowserFetcher {
	f := &BrowserFetcher{
		cfg:       cfg,
		languages: languages,
		sleep:     sleepCtx,
	}
	f.newSession = func() (browserSession, error) {
		return newPlaywrightSession(cfg)
	}
	return f
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageURL, language string) (string, error) {
	entry := f.languages.Entry(language)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(2+rand.Intn(4)) * time.Second
			if err := f.sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		if f.session == nil {
			s, err := f.newSession()
			if err != nil {
				return "", fmt.Errorf("start browser session: %w", err)
			}
			f.session = s
		}

		html, err := f.session.Navigate(ctx, pageURL, entry)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", err
			}
			if isSessionInvalid(err) {
				// A dead session never recovers; waiting on it just
				// burns the page-load timeout again and again. Tear it
				// down now and retry on a fresh one.
				log.Printf("[browser] session invalid, recreating: %v", err)
				f.session.Close()
				f.session = nil
				continue
			}
			log.Printf("[browser] attempt %d/%d failed: %v", attempt, maxAttempts, err)
			continue
		}

		if err := validatePage(html); err != nil {
			lastErr = err
			log.Printf("[browser] attempt %d/%d rejected page: %v", attempt, maxAttempts, err)
			continue
		}

		f.refreshTransport()
		return html, nil
	}
	return "", fmt.Errorf("browser tier gave up on %s: %w", pageURL, lastErr)
}

// refreshTransport rebuilds the cookie-carrying client from the live
// session. The image CDN rejects plain anonymous requests, so the
// downloader must present the cookies the browser earned.
func (f *BrowserFetcher) refreshTransport() {
	cookies, err := f.session.Cookies()
	if err != nil {
		log.Printf("[browser] could not harvest cookies: %v", err)
		return
	}
	f.transport = newCookieClient("https://www.booking.com", cookies, 30*time.Second)
}

func (f *BrowserFetcher) Transport() *http.Client { return f.transport }

func (f *BrowserFetcher) Close() {
	if f.session != nil {
		f.session.Close()
		f.session = nil
	}
}

func isSessionInvalid(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid session id") ||
		strings.Contains(msg, "browser has been closed") ||
		strings.Contains(msg, "target closed")
}

// playwrightSession drives a Chromium instance.
type playwrightSession struct {
	cfg     *config.FetchConfig
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
}

func newPlaywrightSession(cfg *config.FetchConfig) (*playwrightSession, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(randomBrowserUA()),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create page: %w", err)
	}

	return &playwrightSession{cfg: cfg, pw: pw, browser: browser, bctx: bctx, page: page}, nil
}

func randomBrowserUA() string {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	}
	return uas[rand.Intn(len(uas))]
}

// Selectors that mark the property page as rendered, in the order they
// usually appear.
var contentReadySelectors = []string{
	"#hp_hotel_name",
	"[data-testid='property-section--content']",
	"#property-description",
	".hp__hotel-title",
	"[data-capla-component*='PropertyPage']",
}

func (s *playwrightSession) Navigate(ctx context.Context, pageURL string, entry config.LanguageEntry) (string, error) {
	if err := s.page.SetExtraHTTPHeaders(map[string]string{
		"Accept-Language": entry.Accept,
	}); err != nil {
		return "", err
	}

	timeoutMs := float64(s.cfg.BrowserTimeout.Milliseconds())
	if _, err := s.page.Goto(pageURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(timeoutMs),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("goto %s: %w", pageURL, err)
	}

	s.humanDelay(1000, 2500)
	s.dismissOverlays()
	s.simulateReading()
	s.waitForContent()
	s.scrollThrough()
	s.forceGalleryLoad()

	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

func (s *playwrightSession) waitForContent() {
	deadline := time.Now().Add(s.cfg.BrowserTimeout)
	for time.Now().Before(deadline) {
		for _, sel := range contentReadySelectors {
			el := s.page.Locator(sel).First()
			if visible, _ := el.IsVisible(); visible {
				return
			}
		}
		s.page.WaitForTimeout(500)
	}
	log.Println("[browser] timeout waiting for page content")
}

func (s *playwrightSession) dismissOverlays() {
	selectors := []string{
		"#onetrust-accept-btn-handler",
		"button[aria-label='Dismiss sign-in info.']",
		"button:has-text('Accept')",
		"button:has-text('Accept All')",
		"button[id*='accept']",
		"button[class*='consent']",
	}
	for _, sel := range selectors {
		btn := s.page.Locator(sel).First()
		if visible, _ := btn.IsVisible(); visible {
			btn.Click()
			s.page.WaitForTimeout(1000)
		}
	}
}

func (s *playwrightSession) simulateReading() {
	s.page.Mouse().Move(float64(300+rand.Intn(400)), float64(200+rand.Intn(300)))
	s.page.WaitForTimeout(float64(200 + rand.Intn(300)))
	s.page.Mouse().Move(float64(400+rand.Intn(300)), float64(300+rand.Intn(200)))
	s.page.WaitForTimeout(float64(200 + rand.Intn(300)))
}

func (s *playwrightSession) scrollThrough() {
	passes := s.cfg.ScrollPasses
	if passes <= 0 {
		passes = 3
	}
	for i := 0; i < passes; i++ {
		s.page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, 600+rand.Intn(400)))
		s.humanDelay(400, 900)
	}
	s.page.Evaluate(`window.scrollTo(0, 0)`)
}

// forceGalleryLoad opens the photo gallery modal and scrolls it so the
// lazy-loaded image grid ends up in the DOM.
func (s *playwrightSession) forceGalleryLoad() {
	openers := []string{
		"[data-testid='gallery-trigger']",
		".bh-photo-grid-item",
		"a[data-photo-id]",
	}
	for _, sel := range openers {
		el := s.page.Locator(sel).First()
		if visible, _ := el.IsVisible(); visible {
			el.Click()
			s.humanDelay(800, 1500)

			for i := 0; i < 5; i++ {
				s.page.Keyboard().Press("PageDown")
				s.humanDelay(300, 600)
			}
			s.page.Keyboard().Press("Escape")
			s.page.WaitForTimeout(500)
			return
		}
	}
}

func (s *playwrightSession) humanDelay(minMs, maxMs int) {
	s.page.WaitForTimeout(float64(minMs + rand.Intn(maxMs-minMs)))
}

func (s *playwrightSession) Cookies() ([]*http.Cookie, error) {
	raw, err := s.bctx.Cookies()
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain})
	}
	return out, nil
}

func (s *playwrightSession) Close() {
	if s.page != nil {
		s.page.Close()
	}
	if s.bctx != nil {
		s.bctx.Close()
	}
	if s.browser != nil {
		s.browser.Close()
	}
	if s.pw != nil {
		s.pw.Stop()
	}
}
