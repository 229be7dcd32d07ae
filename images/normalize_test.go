package images

import (
	"reflect"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{
			"https://cf.bstatic.com/xdata/images/hotel/max500/12345.jpg",
			"https://cf.bstatic.com/xdata/images/hotel/max1280x900/12345.jpg",
		},
		{
			"https://cf.bstatic.com/xdata/images/hotel/max1024x768/12345.jpg",
			"https://cf.bstatic.com/xdata/images/hotel/max1280x900/12345.jpg",
		},
		{
			"https://cf.bstatic.com/xdata/images/hotel/square60/12345.jpg",
			"https://cf.bstatic.com/xdata/images/hotel/max1280x900/12345.jpg",
		},
		{
			"https://cf.bstatic.com/xdata/images/hotel/max1280x900/12345.jpg",
			"https://cf.bstatic.com/xdata/images/hotel/max1280x900/12345.jpg",
		},
		// No size token, nothing to rewrite.
		{
			"https://cf.bstatic.com/xdata/images/hotel/12345.jpg",
			"https://cf.bstatic.com/xdata/images/hotel/12345.jpg",
		},
	}
	for _, c := range cases {
		if got := NormalizeURL(c.in); got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	u := "https://cf.bstatic.com/xdata/images/hotel/square200/9.jpg"
	once := NormalizeURL(u)
	if twice := NormalizeURL(once); twice != once {
		t.Errorf("not idempotent: %q vs %q", once, twice)
	}
}

func TestFilterCandidates(t *testing.T) {
	in := []string{
		"https://cf.bstatic.com/xdata/images/hotel/max500/1.jpg?k=abc",
		// Same photo, different size and signature: a duplicate.
		"https://cf.bstatic.com/xdata/images/hotel/square60/1.jpg?k=def",
		"https://cf.bstatic.com/xdata/images/hotel/max1280x900/2.jpg",
		// Not hotel content.
		"https://cf.bstatic.com/static/img/flags/us.png",
		"https://example.com/tracking.gif",
		"",
	}
	got := FilterCandidates(in, 30)
	want := []string{
		"https://cf.bstatic.com/xdata/images/hotel/max1280x900/1.jpg?k=abc",
		"https://cf.bstatic.com/xdata/images/hotel/max1280x900/2.jpg",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFilterCandidatesCap(t *testing.T) {
	var in []string
	for i := 0; i < 50; i++ {
		in = append(in, "https://cf.bstatic.com/xdata/images/hotel/max500/"+string(rune('a'+i%26))+string(rune('0'+i/26))+".jpg")
	}
	if got := FilterCandidates(in, 30); len(got) != 30 {
		t.Errorf("expected cap at 30, got %d", len(got))
	}
}
