// Package differ classifies tiles against a CatalogSnapshot so the
// expensive detail-page fetch only runs when something actually changed.
package differ

import (
	"github.com/nickheyer/militaria-crawler/internal/models"
)

// Classify compares tile against the site's known catalog record (if any)
// and returns the classification plus the matched record (nil for a brand
// new URL).
func Classify(snapshot *models.CatalogSnapshot, site string, tile models.Tile) (models.DiffClassification, *models.ProductRecord) {
	rec, ok := snapshot.Lookup(site, tile.URL)
	if !ok {
		return models.DiffNeedsDetail, nil
	}

	titleMatches := rec.Title == tile.Title
	priceMatches := pricesEqual(rec.Price, tile.Price)

	if !titleMatches || !priceMatches {
		return models.DiffNeedsDetail, rec
	}

	if rec.Available != tile.Available {
		return models.DiffAvailabilityOnly, rec
	}

	return models.DiffUnchanged, rec
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
