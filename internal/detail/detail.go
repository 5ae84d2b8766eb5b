// Package detail implements the per-product detail-page fetch: selector
// extraction, cleaning, the new-vs-existing dispatch, and handing imagery
// off to the image subsystem.
package detail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nickheyer/militaria-crawler/internal/catalog"
	"github.com/nickheyer/militaria-crawler/internal/clean"
	"github.com/nickheyer/militaria-crawler/internal/httpfetch"
	"github.com/nickheyer/militaria-crawler/internal/imageextract"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/selector"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

// Classifier is the optional ML capability that tags a product with
// conflict/nation/item-type/supergroup. The core must run without one.
type Classifier interface {
	Classify(ctx context.Context, title, description, imageURL string) (ClassifyResult, error)
}

// ClassifyResult holds whichever fields the classifier was able to produce;
// empty strings are left untouched on the catalog row.
type ClassifyResult struct {
	Conflict   string
	Nation     string
	ItemType   string
	Supergroup string
}

// Embedder is the optional vector-embedding capability used for similarity
// search. The core must run without one.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ImageSubsystem is the narrow interface detail.Processor needs from the
// image acquisition subsystem, kept separate to avoid an import cycle.
type ImageSubsystem interface {
	ProcessProductImages(ctx context.Context, site, productID string, imageURLs []string, sensitive bool) (ImageResult, error)
}

// ImageResult is what the image subsystem reports back per product.
type ImageResult struct {
	S3ImageURLs    []string
	ThumbnailURL   string
	DownloadFailed bool
	RequiresAttention bool
}

// Processor runs the detail-page pipeline for one tile at a time.
type Processor struct {
	HTTP       *httpfetch.Client
	Selector   *selector.Engine
	Catalog    *catalog.Gateway
	Images     ImageSubsystem
	Classifier Classifier // may be nil
	Embedder   Embedder   // may be nil
	DisableItemType bool
	DisableConflict bool
	DisableNation   bool
}

// Process fetches tile's product page, extracts and cleans every field,
// writes the catalog row (insert or partial update), and enqueues imagery.
// existing is the snapshot-matched record, or nil for a brand new URL.
func (p *Processor) Process(ctx context.Context, profile *models.SiteProfile, tile models.Tile, existing *models.ProductRecord, sensitiveSite bool) error {
	html, err := p.HTTP.FetchHTML(ctx, tile.URL, profile.AccessConfig.UserAgent)
	if err != nil {
		return utils.NewTemporaryScraperError(err.Error(), tile.URL, profile.SourceName, "detail_fetch", 3)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		snippet := utils.TruncateString(html, 200)
		return utils.NewScraperError(fmt.Sprintf("parse detail page: %v (body: %s)", err, snippet), tile.URL, profile.SourceName, "detail_parse")
	}

	// A redirect to a different canonical URL means the original listing is
	// gone; treat the original as unavailable and do not create a row under
	// the redirect target's identity.
	if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && canonical != "" {
		if clean.URL(canonical) != "" && clean.URL(canonical) != tile.URL {
			if existing != nil {
				return p.Catalog.SetAvailability(profile.SourceName, tile.URL, false, time.Now())
			}
			return nil
		}
	}

	fields := p.extractFields(doc.Selection, profile, tile.URL)

	var imageURLs []string
	noImages := false
	if fn, ok := imageextract.Get(detailImageFunction(profile)); ok {
		imageURLs = fn(doc.Selection, profile.AccessConfig.BaseURL)
		noImages = len(imageURLs) == 0
	}

	if p.Classifier != nil {
		if res, cErr := p.Classifier.Classify(ctx, fields.title, fields.description, firstOrEmpty(imageURLs)); cErr == nil {
			if !p.DisableConflict && res.Conflict != "" {
				fields.conflictAI = res.Conflict
			}
			if !p.DisableNation && res.Nation != "" {
				fields.nationAI = res.Nation
			}
			if !p.DisableItemType && res.ItemType != "" {
				fields.itemTypeAI = res.ItemType
			}
			if res.Supergroup != "" {
				fields.supergroupAI = res.Supergroup
			}
		}
	}

	now := time.Now()

	if existing == nil {
		if p.Embedder != nil {
			if vec, eErr := p.Embedder.Embed(ctx, strings.TrimSpace(fields.title+" "+fields.description)); eErr == nil {
				fields.vector = vec
			}
		}
		rec := &models.ProductRecord{
			Site: profile.SourceName, URL: tile.URL,
			Title: fields.title, Description: fields.description, Price: fields.price,
			Available: fields.available, Date: now, DateModified: now,
			ExtractedID: fields.extractedID, ItemType: fields.itemType, Grade: fields.grade,
			Conflict: fields.conflict, Nation: fields.nation, Categories: fields.categories,
			ConflictAIGenerated: fields.conflictAI, NationAIGenerated: fields.nationAI,
			ItemTypeAIGenerated: fields.itemTypeAI, SupergroupAIGenerated: fields.supergroupAI,
			OriginalImageURLs: imageURLs,
			OpenAIVector:      fields.vector,
			RequiresAttention: noImages,
		}
		if !fields.available {
			rec.DateSold = &now
		}
		if err := p.Catalog.InsertProduct(rec); err != nil {
			return err
		}
		return p.enqueueImages(ctx, profile.SourceName, rec.ID, imageURLs, sensitiveSite)
	}

	updates := map[string]any{}
	if existing.Title != fields.title {
		updates["title"] = fields.title
	}
	if existing.Description != fields.description {
		updates["description"] = fields.description
	}
	if !pricesEqual(existing.Price, fields.price) {
		updates["price"] = nullableFloat(fields.price)
	}
	if noImages && !existing.RequiresAttention {
		updates["requires_attention"] = 1
	}
	if existing.Available != fields.available {
		if err := p.Catalog.SetAvailability(profile.SourceName, tile.URL, fields.available, now); err != nil {
			return err
		}
	}
	if len(updates) > 0 {
		if err := p.Catalog.UpdateProductFields(profile.SourceName, tile.URL, updates); err != nil {
			return err
		}
	}

	if shouldSkipImageUpload(existing) {
		return nil
	}
	return p.enqueueImages(ctx, profile.SourceName, existing.ID, imageURLs, sensitiveSite)
}

func (p *Processor) enqueueImages(ctx context.Context, site string, productID int64, urls []string, sensitive bool) error {
	if len(urls) == 0 || p.Images == nil {
		return nil
	}
	res, err := p.Images.ProcessProductImages(ctx, site, fmt.Sprint(productID), urls, sensitive)
	if err != nil {
		return err
	}
	return p.Catalog.UpdateProductFieldsByID(productID, map[string]any{
		"s3_image_urls":            joinJSON(res.S3ImageURLs),
		"s3_first_image_thumbnail": res.ThumbnailURL,
		"image_download_failed":    boolToInt(res.DownloadFailed),
		"requires_attention":       boolToInt(res.RequiresAttention),
	})
}

// shouldSkipImageUpload matches §4.7 step 1: both URL lists already
// populated and of equal length means this product's imagery is settled.
func shouldSkipImageUpload(rec *models.ProductRecord) bool {
	return len(rec.OriginalImageURLs) > 0 && len(rec.S3ImageURLs) > 0 && len(rec.OriginalImageURLs) == len(rec.S3ImageURLs)
}

func detailImageFunction(profile *models.SiteProfile) string {
	sel, ok := profile.ProductDetailSelectors["details_image_url"]
	if !ok {
		return ""
	}
	return sel.Function
}

type extractedFields struct {
	title, description, extractedID, itemType, grade, conflict, nation string
	categories                                                         []string
	price                                                              *float64
	available                                                          bool
	conflictAI, nationAI, itemTypeAI, supergroupAI                     string
	vector                                                             []float32
}

func (p *Processor) extractFields(root *goquery.Selection, profile *models.SiteProfile, productURL string) extractedFields {
	get := func(name string) any {
		sel, ok := profile.ProductDetailSelectors[name]
		if !ok {
			return ""
		}
		v, _ := p.Selector.Extract(root, sel, productURL)
		if v == nil {
			return ""
		}
		return v
	}

	var f extractedFields
	f.title = clean.Title(fmt.Sprint(get("details_title")))
	f.description = clean.Description(fmt.Sprint(get("details_description")))
	f.price = clean.Price(fmt.Sprint(get("details_price")))
	if b, ok := clean.Availability(get("details_availability")); ok {
		f.available = b
	} else {
		f.available = true
	}
	f.extractedID = clean.ExtractedID(fmt.Sprint(get("details_extracted_id")))
	f.itemType = clean.ItemType(fmt.Sprint(get("details_item_type")))
	f.grade = clean.Grade(fmt.Sprint(get("details_grade")))
	f.conflict = clean.Conflict(fmt.Sprint(get("details_conflict")))
	f.nation = clean.Nation(fmt.Sprint(get("details_nation")))
	f.categories = clean.Categories(fmt.Sprint(get("details_categories")))
	return f
}

func firstOrEmpty(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

func pricesEqual(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinJSON(urls []string) string {
	if len(urls) == 0 {
		return "[]"
	}
	out := "["
	for i, u := range urls {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", u)
	}
	return out + "]"
}
