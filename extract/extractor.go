// Package extract turns rendered property pages into structured
// records. The selectors track the site's markup generations; older
// class-based selectors are kept as fallbacks because cached and
// language-variant pages still serve them.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"stayscraper/models"
)

// Extractor parses one language variant of a property page. A nil
// record with a nil error means the page parsed but held no usable
// property data.
type Extractor interface {
	Extract(html, language string) (*models.HotelRecord, error)
}

type HotelExtractor struct{}

func New() *HotelExtractor { return &HotelExtractor{} }

var imageURLRe = regexp.MustCompile(`https://cf\.bstatic\.com/xdata/images/hotel/[^"'\\\s)]+`)

func (e *HotelExtractor) Extract(html, language string) (*models.HotelRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	rec := &models.HotelRecord{
		Language:  language,
		ScrapedAt: time.Now(),
	}

	rec.Name = firstText(doc,
		"h2[data-testid='title']",
		"#hp_hotel_name",
		".hp__hotel-title h2",
		".hp__hotel-name",
	)
	if rec.Name == "" {
		// Parseable page, no property on it.
		return nil, nil
	}

	rec.Address = firstText(doc,
		"[data-testid='address']",
		".hp_address_subtitle",
		"[data-node_tt_id='location_score_tooltip']",
	)
	rec.Description = firstText(doc,
		"[data-testid='property-description']",
		"#property-description",
		"#summary",
	)

	rec.Rating, rec.RatingCategory, rec.TotalReviews = e.reviewScore(doc)
	rec.ReviewScores = e.subscores(doc)
	rec.Services = e.services(doc)
	rec.Facilities = e.facilities(doc)
	rec.HouseRules = firstText(doc,
		"[data-testid='house-rules-section']",
		"#hotelPoliciesInc",
	)
	rec.ImportantInfo = firstText(doc,
		".hp_important_info_box",
		"[data-testid='important-info-section']",
	)
	rec.Rooms = e.rooms(doc)
	rec.ImageURLs = e.imageURLs(doc, html)

	return rec, nil
}

func (e *HotelExtractor) reviewScore(doc *goquery.Document) (float64, string, int) {
	var rating float64
	var category string
	var total int

	scoreText := firstText(doc,
		"[data-testid='review-score-component']",
		".review-score-badge",
		"#js--hp-gallery-scorecard",
	)
	if m := regexp.MustCompile(`\d+[.,]\d+`).FindString(scoreText); m != "" {
		rating, _ = strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	}

	category = firstText(doc,
		"[data-testid='review-score-component'] div:nth-child(2) div:first-child",
		".review-score-widget__text",
	)

	countText := firstText(doc,
		"[data-testid='review-score-component'] div:last-child",
		".review-score-widget__subtext",
		".bui-review-score__text",
	)
	if m := regexp.MustCompile(`[\d,.\x{00a0}' ]{1,15}`).FindString(countText); m != "" {
		digits := regexp.MustCompile(`\d`).FindAllString(m, -1)
		total, _ = strconv.Atoi(strings.Join(digits, ""))
	}

	return rating, category, total
}

func (e *HotelExtractor) subscores(doc *goquery.Document) map[string]float64 {
	scores := make(map[string]float64)
	doc.Find("[data-testid='review-subscore']").Each(func(_ int, s *goquery.Selection) {
		label := strings.TrimSpace(s.Find("span").First().Text())
		valText := strings.TrimSpace(s.Find("[aria-hidden='true']").Last().Text())
		if valText == "" {
			valText = regexp.MustCompile(`\d+[.,]\d+`).FindString(s.Text())
		}
		if label == "" || valText == "" {
			return
		}
		if v, err := strconv.ParseFloat(strings.ReplaceAll(valText, ",", "."), 64); err == nil {
			scores[label] = v
		}
	})
	if len(scores) == 0 {
		return nil
	}
	return scores
}

func (e *HotelExtractor) services(doc *goquery.Document) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find("[data-testid='property-most-popular-facilities-wrapper'] li, .important_facilities .important_facility").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	})
	return out
}

func (e *HotelExtractor) facilities(doc *goquery.Document) map[string][]string {
	groups := make(map[string][]string)

	doc.Find("[data-testid='facility-group-container']").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").First().Text())
		if title == "" {
			return
		}
		var items []string
		s.Find("li").Each(func(_ int, li *goquery.Selection) {
			if t := strings.TrimSpace(li.Text()); t != "" {
				items = append(items, t)
			}
		})
		if len(items) > 0 {
			groups[title] = items
		}
	})

	// Legacy facilities box markup.
	if len(groups) == 0 {
		doc.Find(".hp_facilities_box .facilitiesChecklistSection").Each(func(_ int, s *goquery.Selection) {
			title := strings.TrimSpace(s.Find("h5").First().Text())
			if title == "" {
				return
			}
			var items []string
			s.Find("li").Each(func(_ int, li *goquery.Selection) {
				if t := strings.TrimSpace(li.Text()); t != "" {
					items = append(items, t)
				}
			})
			if len(items) > 0 {
				groups[title] = items
			}
		})
	}

	if len(groups) == 0 {
		return nil
	}
	return groups
}

func (e *HotelExtractor) rooms(doc *goquery.Document) []models.RoomInfo {
	var rooms []models.RoomInfo
	seen := make(map[string]struct{})

	add := func(name, desc string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		rooms = append(rooms, models.RoomInfo{Name: name, Description: strings.TrimSpace(desc)})
	}

	doc.Find("#maxotelRoomArea [data-room-name], #maxotelRoomArea .hprt-roomtype-icon-link").Each(func(_ int, s *goquery.Selection) {
		add(s.Text(), "")
	})
	doc.Find("[data-testid='room-name']").Each(func(_ int, s *goquery.Selection) {
		add(s.Text(), strings.TrimSpace(s.Parent().Find("[data-testid='room-facilities']").Text()))
	})

	return rooms
}

// imageURLs harvests gallery candidates from both the DOM and the raw
// markup; the full-size variants usually live in inline JSON that no
// selector reaches.
func (e *HotelExtractor) imageURLs(doc *goquery.Document, html string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	doc.Find("img[src*='bstatic.com/xdata/images/hotel']").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			add(src)
		}
	})
	doc.Find("a[data-fancybox='gallery'], a[data-photo-id]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})
	for _, m := range imageURLRe.FindAllString(html, -1) {
		add(m)
	}

	return out
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return normalizeSpace(text)
		}
	}
	return ""
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeSpace(s string) string {
	return spaceRe.ReplaceAllString(s, " ")
}
