package models

import "time"

// HotelRecord is one extracted result for an (item, language) pair.
// Persistence keeps at most one row per key via upsert.
type HotelRecord struct {
	URLID          int64
	URL            string
	Language       string
	Name           string
	Address        string
	Description    string
	Rating         float64
	TotalReviews   int
	RatingCategory string
	ReviewScores   map[string]float64
	Services       []string
	Facilities     map[string][]string
	HouseRules     string
	ImportantInfo  string
	Rooms          []RoomInfo
	ImageURLs      []string
	ImagesLocal    []string
	ImagesCount    int
	ScrapedAt      time.Time
}

type RoomInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Empty reports whether extraction yielded no usable fields. An empty
// record is a no_data outcome, not a failure.
func (r *HotelRecord) Empty() bool {
	return r == nil || r.Name == ""
}

// FieldCount counts populated top-level fields, the item count logged
// for a completed language.
func (r *HotelRecord) FieldCount() int {
	if r == nil {
		return 0
	}
	n := 0
	if r.Name != "" {
		n++
	}
	if r.Address != "" {
		n++
	}
	if r.Description != "" {
		n++
	}
	if r.Rating > 0 {
		n++
	}
	if r.TotalReviews > 0 {
		n++
	}
	if r.RatingCategory != "" {
		n++
	}
	if len(r.ReviewScores) > 0 {
		n++
	}
	if len(r.Services) > 0 {
		n++
	}
	if len(r.Facilities) > 0 {
		n++
	}
	if r.HouseRules != "" {
		n++
	}
	if r.ImportantInfo != "" {
		n++
	}
	if len(r.Rooms) > 0 {
		n++
	}
	if len(r.ImageURLs) > 0 {
		n++
	}
	return n
}
