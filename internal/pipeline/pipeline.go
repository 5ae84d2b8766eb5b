// Package pipeline walks a site's paginated listing, extracts and
// validates tiles, deduplicates them within a pass, and decides when the
// catalog has ended.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nickheyer/militaria-crawler/internal/clean"
	"github.com/nickheyer/militaria-crawler/internal/httpfetch"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/selector"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

// badURLs is a small hardcoded set of listing hrefs that are never real
// products (placeholder links, "view all" anchors that just repeat base_url).
var badURLs = map[string]bool{
	"#": true, "javascript:void(0)": true, "": true,
}

// PageHandler is invoked once per fetched listing page. Returning an error
// aborts the walk.
type PageHandler func(page []models.Tile) error

// Walker walks one SiteProfile's paginated listing.
type Walker struct {
	HTTP     *httpfetch.Client
	Selector *selector.Engine
}

// New builds a Walker over the given HTTP client and selector engine.
func New(httpClient *httpfetch.Client, sel *selector.Engine) *Walker {
	return &Walker{HTTP: httpClient, Selector: sel}
}

// Walk fetches pages starting at the profile's configured start page,
// invoking onPage for every page of valid, deduplicated tiles, until one of
// the four end-of-catalog conditions documented in the pipeline's design is
// met. targetMatch controls how many consecutive empty pages are tolerated
// before the walk terminates (1 for routine sweeps, higher for backfills).
func (w *Walker) Walk(ctx context.Context, profile *models.SiteProfile, counters *models.Counters, targetMatch int, onPage PageHandler) error {
	seenURLs := make(map[string]bool)
	var prevPageURLs map[string]bool
	var repeatCount int

	robots := w.HTTP.LoadRobots(ctx, profile.AccessConfig.BaseURL, profile.AccessConfig.UserAgent)

	page := profile.AccessConfig.StartPage
	if counters.CurrentPage != 0 {
		page = counters.CurrentPage
	}
	step := profile.AccessConfig.PageIncrement
	if step == 0 {
		step = 1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		counters.CurrentPage = page
		pageURL := buildPageURL(profile.AccessConfig, page)

		if !robots.Allowed(pageURL) {
			utils.GetLogger().Warn("page disallowed by robots.txt, ending walk", map[string]any{"site": profile.SourceName, "page": page, "url": pageURL})
			counters.Continue = false
			return nil
		}

		html, err := w.HTTP.FetchHTML(ctx, pageURL, profile.AccessConfig.UserAgent)
		if err != nil {
			// CONDITION 1: FETCH FAILURE ENDS THE CATALOG
			utils.GetLogger().Warn("page fetch failed, ending walk", map[string]any{"site": profile.SourceName, "page": page, "error": err.Error()})
			counters.Continue = false
			return nil
		}
		if strings.TrimSpace(html) == "" {
			counters.Continue = false
			return nil
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			counters.Continue = false
			return fmt.Errorf("parse listing page: %w", err)
		}

		tiles, currentPageURLs := w.extractTiles(doc, profile, seenURLs)
		counters.PagesWalked++

		// CONDITION 3: TWO CONSECUTIVE IDENTICAL PAGE-URL SETS AT PAGE >= 2
		if prevPageURLs != nil && page >= 2 && sameURLSet(prevPageURLs, currentPageURLs) {
			repeatCount++
			if repeatCount >= 2 {
				counters.Continue = false
				return nil
			}
		} else {
			repeatCount = 0
		}
		prevPageURLs = currentPageURLs

		// CONDITION 2 / 4: ZERO VALID TILES ON THIS PAGE COUNTS TOWARD THE
		// EMPTY-PAGE RUN. This must be judged on currentPageURLs (every
		// tile that passed URL/title validation on this page), not on
		// tiles (which drops pass-wide duplicates) — otherwise a page that
		// legitimately repeats the previous page's products looks
		// indistinguishable from a page with no products at all, and the
		// two termination signals collide.
		if len(currentPageURLs) == 0 {
			counters.EmptyPageRun++
			if counters.EmptyPageRun >= targetMatch {
				counters.Continue = false
				return nil
			}
		} else {
			counters.EmptyPageRun = 0
		}

		counters.TotalSeen += len(tiles)
		if len(tiles) > 0 {
			if err := onPage(tiles); err != nil {
				return err
			}
		}

		page += step
	}
}

func buildPageURL(access models.AccessConfig, page int) string {
	path := strings.ReplaceAll(access.ProductsPagePath, "{page}", strconv.Itoa(page))
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(access.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func sameURLSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// extractTiles runs the profile's tile selectors over every tile-container
// node on the page, validating and deduplicating (within this whole pass,
// via the caller-owned seenURLs set) as it goes.
func (w *Walker) extractTiles(doc *goquery.Document, profile *models.SiteProfile, seenURLs map[string]bool) ([]models.Tile, map[string]bool) {
	tileSel, ok := profile.ProductTileSelectors["tiles"]
	if !ok {
		return nil, nil
	}

	containers := tileContainers(doc, tileSel)
	var tiles []models.Tile
	pageURLs := make(map[string]bool)

	containers.Each(func(_ int, node *goquery.Selection) {
		urlVal, _ := w.Selector.Extract(node, profile.ProductTileSelectors["details_url"], "")
		rawURL, _ := urlVal.(string)
		tileURL := clean.URL(rawURL)
		if tileURL == "" || badURLs[tileURL] || tileURL == strings.TrimRight(profile.AccessConfig.BaseURL, "/") {
			return
		}

		titleVal, _ := w.Selector.Extract(node, profile.ProductTileSelectors["tile_title"], tileURL)
		title := clean.Title(fmt.Sprint(titleVal))
		if title == "" {
			return
		}

		pageURLs[tileURL] = true
		if seenURLs[tileURL] {
			return
		}
		seenURLs[tileURL] = true

		var price *float64
		if priceSel, ok := profile.ProductTileSelectors["tile_price"]; ok {
			priceVal, _ := w.Selector.Extract(node, priceSel, tileURL)
			price = clean.Price(fmt.Sprint(priceVal))
		}

		available := resolveTileAvailability(w.Selector, node, profile, tileURL)

		tiles = append(tiles, models.Tile{URL: tileURL, Title: title, Price: price, Available: available})
	})

	return tiles, pageURLs
}

// tileContainers resolves the "tiles" selector to the repeated node set a
// page's listing is built from.
func tileContainers(doc *goquery.Document, tileSel models.Selector) *goquery.Selection {
	if tileSel.Kind != models.SelectorDomQuery || len(tileSel.Args) == 0 {
		return doc.Find("")
	}
	sel := doc.Find(tileSel.Args[0])
	return sel
}

// resolveTileAvailability runs the three-stage policy documented for tile
// availability: primary selector, then unavailability overrides, then the
// static-"true" default rule.
func resolveTileAvailability(eng *selector.Engine, node *goquery.Selection, profile *models.SiteProfile, tileURL string) bool {
	if availSel, ok := profile.ProductTileSelectors["tile_availability"]; ok {
		val, _ := eng.Extract(node, availSel, tileURL)
		if b, matched := clean.Availability(val); matched {
			return b
		}
		if availSel.Kind == models.SelectorStatic {
			if s, ok := availSel.StaticValue.(string); ok && s == "true" {
				return true
			}
		}
	}

	if soldSel, ok := profile.ProductTileSelectors["tile_unavailability_sold"]; ok {
		val, _ := eng.Extract(node, soldSel, tileURL)
		if val != nil && fmt.Sprint(val) != "" {
			return false
		}
	}
	if reservedSel, ok := profile.ProductTileSelectors["tile_unavailability_reserved"]; ok {
		val, _ := eng.Extract(node, reservedSel, tileURL)
		if val != nil && fmt.Sprint(val) != "" {
			return false
		}
	}

	return false
}
