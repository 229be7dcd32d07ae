// Package metrics exposes the daemon's prometheus instruments. They
// are registered on the default registry; an embedding process decides
// whether to export them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stayscraper_items_completed_total",
		Help: "Queue items that finished with at least one language persisted.",
	})

	ItemsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stayscraper_items_failed_total",
		Help: "Queue items that failed every language.",
	})

	LanguagesScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayscraper_languages_scraped_total",
		Help: "Per-language scrape outcomes.",
	}, []string{"language", "status"})

	ImagesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stayscraper_images_downloaded_total",
		Help: "Images stored locally after validation.",
	})

	ImagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stayscraper_images_skipped_total",
		Help: "Image candidates skipped as duplicates or undersized.",
	})

	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stayscraper_vpn_rotations_total",
		Help: "Identity rotations by outcome.",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stayscraper_queue_pending",
		Help: "Pending items observed at the last dispatch.",
	})
)
