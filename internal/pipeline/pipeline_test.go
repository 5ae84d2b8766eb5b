package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/nickheyer/militaria-crawler/internal/httpfetch"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/selector"
)

func TestBuildPageURL(t *testing.T) {
	access := models.AccessConfig{BaseURL: "https://site.test/", ProductsPagePath: "shop/page/{page}/"}
	got := buildPageURL(access, 3)
	want := "https://site.test/shop/page/3/"
	if got != want {
		t.Errorf("buildPageURL() = %q, want %q", got, want)
	}
}

func TestBuildPageURLAbsolutePath(t *testing.T) {
	access := models.AccessConfig{BaseURL: "https://site.test/", ProductsPagePath: "https://other.test/listing?page={page}"}
	got := buildPageURL(access, 2)
	want := "https://other.test/listing?page=2"
	if got != want {
		t.Errorf("buildPageURL() = %q, want %q", got, want)
	}
}

func TestSameURLSet(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"y": true, "x": true}
	if !sameURLSet(a, b) {
		t.Error("sameURLSet() should treat identical sets as equal regardless of insertion order")
	}

	c := map[string]bool{"x": true}
	if sameURLSet(a, c) {
		t.Error("sameURLSet() should reject sets of differing size")
	}
}

func walkTileSelectors() map[string]models.Selector {
	return map[string]models.Selector{
		"tiles":       {Kind: models.SelectorDomQuery, Method: "find", Args: []string{".tile"}},
		"details_url": {Kind: models.SelectorDomQuery, Method: "find", Args: []string{".link"}, Attribute: "href"},
		"tile_title":  {Kind: models.SelectorDomQuery, Method: "find", Args: []string{".t"}},
	}
}

// pagesOfItemsServer serves, for each page in pages, a listing page built
// from the given item ids (rendered as distinct product URLs); any page not
// present in the map serves an empty listing (no tiles).
func pagesOfItemsServer(t *testing.T, pages map[int][]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		ids, ok := pages[page]
		if !ok {
			w.Write([]byte(`<html><body></body></html>`))
			return
		}
		base := "http://" + r.Host
		var body string
		for _, id := range ids {
			body += fmt.Sprintf(`<div class="tile"><a class="link" href="%s/item/%s">x</a><div class="t">Item %s</div></div>`, base, id, id)
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func walkTestWalker() *Walker {
	return New(httpfetch.New(), selector.New())
}

func walkTestProfile(baseURL string) *models.SiteProfile {
	return &models.SiteProfile{
		SourceName:           "site",
		AccessConfig:         models.AccessConfig{BaseURL: baseURL, ProductsPagePath: "?page={page}", StartPage: 1, PageIncrement: 1},
		ProductTileSelectors: walkTileSelectors(),
	}
}

// TestWalkToleratesSingleRepeatedPage covers testable property #10: a
// single page that repeats the immediately-previous page's URL set (some
// sites pad their last listing page) must not end the walk. Page 3 here
// repeats page 2's items verbatim; page 4 carries new items, proving the
// walk kept going past the single repeat to reach it.
func TestWalkToleratesSingleRepeatedPage(t *testing.T) {
	srv := pagesOfItemsServer(t, map[int][]string{
		1: {"a", "b"},
		2: {"c", "d"},
		3: {"c", "d"}, // single repeat of page 2 — tolerated
		4: {"e", "f"}, // new items — walk must have continued past page 3
	})

	var seen []string
	counters := models.NewCounters("site", 1)
	err := walkTestWalker().Walk(context.Background(), walkTestProfile(srv.URL), counters, 1, func(page []models.Tile) error {
		for _, tile := range page {
			seen = append(seen, tile.Title)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	found := map[string]bool{}
	for _, title := range seen {
		found[title] = true
	}
	if !found["Item e"] || !found["Item f"] {
		t.Errorf("Walk() tiles = %v, want it to have reached page 4's new items past the single repeated page", seen)
	}
}

// TestWalkTerminatesOnTwoConsecutiveRepeatedPages covers the other half of
// property #10: two consecutive pages with identical URL sets must end the
// walk (condition 3), even though neither page reports zero tiles.
func TestWalkTerminatesOnTwoConsecutiveRepeatedPages(t *testing.T) {
	srv := pagesOfItemsServer(t, map[int][]string{
		1: {"a", "b"},
		2: {"c", "d"},
		3: {"c", "d"}, // first repeat — tolerated
		4: {"c", "d"}, // second consecutive repeat — must terminate here
		5: {"g", "h"}, // must never be reached
	})

	var seen []string
	counters := models.NewCounters("site", 1)
	err := walkTestWalker().Walk(context.Background(), walkTestProfile(srv.URL), counters, 1, func(page []models.Tile) error {
		for _, tile := range page {
			seen = append(seen, tile.Title)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if counters.PagesWalked != 4 {
		t.Errorf("PagesWalked = %d, want 4 (walk should stop at the second consecutive repeat)", counters.PagesWalked)
	}
	for _, title := range seen {
		if title == "Item g" || title == "Item h" {
			t.Fatalf("Walk() reached page 5 (%v), should have terminated at the repeat on page 4", seen)
		}
	}
}

// TestWalkEmptyPageRunIsNotConflatedWithPageRepeat guards against the
// regression where the pass-wide-deduplicated tile count (which drops to
// zero on any repeated page, not just a genuinely empty one) fed the
// empty-page-run counter. A page that repeats the previous page's URLs
// must NOT by itself count toward the empty-page run: with targetMatch=1,
// only a page with zero *freshly extracted* tiles may trigger it.
func TestWalkEmptyPageRunIsNotConflatedWithPageRepeat(t *testing.T) {
	srv := pagesOfItemsServer(t, map[int][]string{
		1: {"a", "b"},
		2: {"c", "d"},
		3: {"c", "d"}, // repeat, not an empty page — EmptyPageRun must stay 0
		// page 4 is absent from the map -> genuinely empty listing
	})

	counters := models.NewCounters("site", 1)
	err := walkTestWalker().Walk(context.Background(), walkTestProfile(srv.URL), counters, 1, func(page []models.Tile) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	// The walk must have reached the genuinely empty page 4 (not stopped at
	// page 3's repeat via EmptyPageRun), and stopped there.
	if counters.PagesWalked != 4 {
		t.Errorf("PagesWalked = %d, want 4 (repeat page must not be mistaken for an empty page)", counters.PagesWalked)
	}
}
