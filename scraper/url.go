package scraper

import (
	"regexp"
	"strings"

	"stayscraper/config"
)

// Matches an existing language suffix in front of the .html extension,
// e.g. ".es.html" or ".zh-cn.html". Queue URLs arrive in whatever
// language the operator copied them in, so the suffix has to be
// stripped before a new one is applied.
var langSuffixRe = regexp.MustCompile(`\.[a-z]{2}(?:-[a-z]{2,4})?\.html$`)

// BaseURL strips any language suffix and query string, returning the
// canonical default-language form of a property URL.
func BaseURL(rawURL string) string {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return langSuffixRe.ReplaceAllString(u, ".html")
}

// LanguageURL builds the URL for one language: the bare base form when
// the entry has no suffix (the default language), otherwise the suffix
// inserted before the .html extension.
func LanguageURL(rawURL string, entry config.LanguageEntry) string {
	base := BaseURL(rawURL)
	if entry.Suffix == "" {
		return base
	}
	if strings.HasSuffix(base, ".html") {
		return strings.TrimSuffix(base, ".html") + entry.Suffix + ".html"
	}
	return base + entry.Suffix
}

// OrderedLanguages returns the enabled languages with the default
// language moved to the front. The default language is scraped first so
// the richest page is persisted early and its session feeds the image
// download.
func OrderedLanguages(cfg *config.LanguageConfig) []string {
	out := make([]string, 0, len(cfg.Enabled))
	for _, lang := range cfg.Enabled {
		if lang == cfg.Default {
			continue
		}
		out = append(out, lang)
	}
	return append([]string{cfg.Default}, out...)
}
