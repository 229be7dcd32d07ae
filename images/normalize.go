package images

import (
	"regexp"
	"strings"
)

// canonicalSize is the one CDN resolution we ever request. The gallery
// markup references the same photo at many sizes; normalizing first
// means sizes never produce duplicate downloads.
const canonicalSize = "/max1280x900/"

var sizeTokens = []*regexp.Regexp{
	regexp.MustCompile(`/max\d+x\d+x?\d*/`),
	regexp.MustCompile(`/max\d+/`),
	regexp.MustCompile(`/square\d+/`),
}

const hotelContentPath = "bstatic.com/xdata/images/hotel/"

// NormalizeURL rewrites any resolution token to the canonical size.
// Pure and idempotent; unknown URLs pass through untouched.
func NormalizeURL(rawURL string) string {
	out := rawURL
	for _, re := range sizeTokens {
		out = re.ReplaceAllString(out, canonicalSize)
	}
	return out
}

// dedupeKey identifies a photo regardless of its query string, which
// carries per-request signatures.
func dedupeKey(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// FilterCandidates turns raw gallery URLs into the download list:
// normalized, restricted to hotel photo content (drops flags, avatars
// and tracking pixels), deduplicated, and capped at limit.
func FilterCandidates(urls []string, limit int) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, limit)

	for _, raw := range urls {
		u := NormalizeURL(strings.TrimSpace(raw))
		if u == "" || !strings.Contains(u, hotelContentPath) {
			continue
		}
		key := dedupeKey(u)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
