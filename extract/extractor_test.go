package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestExtractHotelPage(t *testing.T) {
	rec, err := New().Extract(fixture(t, "hotel_en.html"), "en")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if rec.Empty() {
		t.Fatal("expected a populated record")
	}

	if rec.Name != "Grand Plaza Hotel" {
		t.Errorf("name = %q", rec.Name)
	}
	if rec.Language != "en" {
		t.Errorf("language = %q", rec.Language)
	}
	if !strings.Contains(rec.Address, "New York") {
		t.Errorf("address = %q", rec.Address)
	}
	if !strings.Contains(rec.Description, "rooftop bar") {
		t.Errorf("description = %q", rec.Description)
	}
	if rec.Rating != 8.6 {
		t.Errorf("rating = %v", rec.Rating)
	}
	if rec.RatingCategory != "Fabulous" {
		t.Errorf("rating category = %q", rec.RatingCategory)
	}
	if rec.TotalReviews != 2481 {
		t.Errorf("total reviews = %d", rec.TotalReviews)
	}

	if got := rec.ReviewScores["Cleanliness"]; got != 9.1 {
		t.Errorf("cleanliness subscore = %v", got)
	}
	if got := rec.ReviewScores["Location"]; got != 9.5 {
		t.Errorf("location subscore = %v", got)
	}

	if len(rec.Services) != 3 || rec.Services[0] != "Free WiFi" {
		t.Errorf("services = %v", rec.Services)
	}
	if got := rec.Facilities["Bathroom"]; len(got) != 2 || got[1] != "Bathtub" {
		t.Errorf("bathroom facilities = %v", got)
	}
	if !strings.Contains(rec.HouseRules, "Check-in from 15:00") {
		t.Errorf("house rules = %q", rec.HouseRules)
	}

	if len(rec.Rooms) != 2 || rec.Rooms[0].Name != "Deluxe Double Room" {
		t.Errorf("rooms = %v", rec.Rooms)
	}

	if len(rec.ImageURLs) != 3 {
		t.Fatalf("expected 3 gallery candidates, got %v", rec.ImageURLs)
	}
	for _, u := range rec.ImageURLs {
		if !strings.Contains(u, "xdata/images/hotel") {
			t.Errorf("non-hotel image harvested: %s", u)
		}
	}
}

func TestExtractEmptyPage(t *testing.T) {
	rec, err := New().Extract("<html><body><p>No results for your search.</p></body></html>", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for a page without a property, got %+v", rec)
	}
	if !rec.Empty() {
		t.Error("nil record must read as empty")
	}
}

func TestExtractFieldCount(t *testing.T) {
	rec, err := New().Extract(fixture(t, "hotel_en.html"), "en")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FieldCount() < 8 {
		t.Errorf("expected a rich record, field count %d", rec.FieldCount())
	}
}
