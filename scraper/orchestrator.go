package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"stayscraper/config"
	"stayscraper/extract"
	"stayscraper/images"
	"stayscraper/metrics"
	"stayscraper/models"
)

// Gateway is the slice of persistence the orchestrator needs. Any
// gateway error is treated as a persistence failure: the item is left
// in processing rather than guessing at queue bookkeeping against a
// store that is not answering.
type Gateway interface {
	UpsertHotel(ctx context.Context, itemID int64, language string, rec *models.HotelRecord) error
	AppendLog(ctx context.Context, entry *models.ScrapeLogEntry) error
	FinishItem(ctx context.Context, itemID int64, succeeded bool, lastError string) error
	RecordRotation(ctx context.Context, ev models.RotationEvent) error
}

// Rotator abstracts the VPN identity.
type Rotator interface {
	Current(ctx context.Context) models.NetworkIdentity
	ShouldRotate(itemsSince, consecutiveFailures int) bool
	Rotate(ctx context.Context, reason string) models.RotationEvent
}

// ImageDownloader stores a property's photo set locally.
type ImageDownloader interface {
	DownloadSet(ctx context.Context, urls []string, itemID int64, language string, client *http.Client) ([]string, images.Stats)
}

// Orchestrator runs the per-item scrape: all configured languages in
// order, default language first, image download once per item, and the
// final queue bookkeeping. One item at a time.
type Orchestrator struct {
	cfg       *config.Config
	gateway   Gateway
	rotator   Rotator
	extractor extract.Extractor
	imgs      ImageDownloader // nil disables the image stage

	// newFetcher builds the fetch session owned by one item.
	newFetcher func() Fetcher

	itemsSinceRotation int
}

func NewOrchestrator(cfg *config.Config, gw Gateway, rotator Rotator, extractor extract.Extractor, imgs ImageDownloader, newFetcher func() Fetcher) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		gateway:    gw,
		rotator:    rotator,
		extractor:  extractor,
		imgs:       imgs,
		newFetcher: newFetcher,
	}
}

// ProcessItem scrapes one claimed queue item. The returned error means
// the item's final state could not be recorded (persistence failure or
// cancellation); it stays in processing for recovery.
func (o *Orchestrator) ProcessItem(ctx context.Context, item *models.QueueItem) error {
	if o.rotator.ShouldRotate(o.itemsSinceRotation, 0) {
		o.rotate(ctx, "item threshold")
	}

	fetcher := o.newFetcher()
	defer fetcher.Close()

	languages := OrderedLanguages(&o.cfg.Languages)
	persisted := 0
	consecutiveFailures := 0
	imagesDone := false
	var lastErr string

	log.Printf("[orchestrator] item %d: %s (%d languages)", item.ID, item.URL, len(languages))

	for _, lang := range languages {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entry := o.cfg.Languages.Entry(lang)
		pageURL := LanguageURL(item.URL, entry)
		start := time.Now()

		html, err := fetcher.Fetch(ctx, pageURL, lang)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err.Error()
			consecutiveFailures++
			metrics.LanguagesScraped.WithLabelValues(lang, "error").Inc()

			if lerr := o.appendLog(ctx, item.ID, lang, models.LogError, time.Since(start), 0, err.Error()); lerr != nil {
				return lerr
			}
			if o.rotator.ShouldRotate(0, consecutiveFailures) {
				o.rotate(ctx, fmt.Sprintf("%d consecutive failures", consecutiveFailures))
				consecutiveFailures = 0
			}
			continue
		}

		rec, err := o.extractor.Extract(html, lang)
		if err != nil {
			lastErr = err.Error()
			consecutiveFailures++
			metrics.LanguagesScraped.WithLabelValues(lang, "error").Inc()
			if lerr := o.appendLog(ctx, item.ID, lang, models.LogError, time.Since(start), 0, err.Error()); lerr != nil {
				return lerr
			}
			continue
		}

		if rec.Empty() {
			// A parseable page with nothing on it is an answer, not a
			// failure; it also says nothing about whether the identity
			// is burned, so the failure streak is left alone.
			metrics.LanguagesScraped.WithLabelValues(lang, "no_data").Inc()
			if lerr := o.appendLog(ctx, item.ID, lang, models.LogNoData, time.Since(start), 0, ""); lerr != nil {
				return lerr
			}
			continue
		}

		rec.URLID = item.ID
		rec.URL = pageURL

		if !imagesDone && lang == o.cfg.Languages.Default && o.imgs != nil {
			paths, stats := o.imgs.DownloadSet(ctx, rec.ImageURLs, item.ID, lang, fetcher.Transport())
			rec.ImagesLocal = paths
			rec.ImagesCount = len(paths)
			imagesDone = true
			log.Printf("[orchestrator] item %d images: %d stored, %d failed, %d skipped",
				item.ID, stats.Downloaded, stats.Failed, stats.Skipped)
		}

		if err := o.gateway.UpsertHotel(ctx, item.ID, lang, rec); err != nil {
			log.Printf("[orchestrator] item %d: persistence failure, leaving in processing: %v", item.ID, err)
			return err
		}

		persisted++
		consecutiveFailures = 0
		metrics.LanguagesScraped.WithLabelValues(lang, "completed").Inc()

		if lerr := o.appendLog(ctx, item.ID, lang, models.LogCompleted, time.Since(start), rec.FieldCount(), ""); lerr != nil {
			return lerr
		}
	}

	succeeded := persisted > 0
	if err := o.gateway.FinishItem(ctx, item.ID, succeeded, lastErr); err != nil {
		return err
	}

	if succeeded {
		// The rotation interval counts hotels, not languages.
		o.itemsSinceRotation++
		metrics.ItemsCompleted.Inc()
		log.Printf("[orchestrator] item %d completed: %d/%d languages", item.ID, persisted, len(languages))
	} else {
		metrics.ItemsFailed.Inc()
		log.Printf("[orchestrator] item %d failed: %s", item.ID, lastErr)
	}
	return nil
}

func (o *Orchestrator) rotate(ctx context.Context, reason string) {
	ev := o.rotator.Rotate(ctx, reason)
	if ev.Success {
		o.itemsSinceRotation = 0
		metrics.Rotations.WithLabelValues("success").Inc()
	} else {
		// Keep scraping on the current identity; a missed rotation is
		// not worth stalling the queue for.
		metrics.Rotations.WithLabelValues("failure").Inc()
		log.Printf("[orchestrator] rotation failed (%s): %s", reason, ev.Error)
	}
	if err := o.gateway.RecordRotation(ctx, ev); err != nil {
		log.Printf("[orchestrator] could not record rotation: %v", err)
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, itemID int64, lang string, status models.LogStatus, dur time.Duration, items int, errMsg string) error {
	entry := &models.ScrapeLogEntry{
		URLID:          itemID,
		Language:       lang,
		Status:         status,
		Duration:       dur,
		ItemsExtracted: items,
		ErrorMessage:   errMsg,
		VPNIP:          o.rotator.Current(ctx).IP,
		Timestamp:      time.Now(),
	}
	if err := o.gateway.AppendLog(ctx, entry); err != nil {
		log.Printf("[orchestrator] persistence failure on log append: %v", err)
		return err
	}
	return nil
}
