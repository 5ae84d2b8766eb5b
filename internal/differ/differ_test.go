package differ

import (
	"testing"

	"github.com/nickheyer/militaria-crawler/internal/models"
)

func price(v float64) *float64 { return &v }

func TestClassifyNewURL(t *testing.T) {
	snap := models.NewCatalogSnapshot()
	tile := models.Tile{URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: true}

	class, rec := Classify(snap, "site", tile)
	if class != models.DiffNeedsDetail || rec != nil {
		t.Errorf("Classify() = (%v, %v), want (DiffNeedsDetail, nil)", class, rec)
	}
}

func TestClassifyUnchanged(t *testing.T) {
	snap := models.NewCatalogSnapshot()
	snap.Put(&models.ProductRecord{Site: "site", URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: true})
	tile := models.Tile{URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: true}

	class, rec := Classify(snap, "site", tile)
	if class != models.DiffUnchanged || rec == nil {
		t.Errorf("Classify() = (%v, %v), want (DiffUnchanged, non-nil)", class, rec)
	}
}

func TestClassifyAvailabilityOnly(t *testing.T) {
	snap := models.NewCatalogSnapshot()
	snap.Put(&models.ProductRecord{Site: "site", URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: true})
	tile := models.Tile{URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: false}

	class, rec := Classify(snap, "site", tile)
	if class != models.DiffAvailabilityOnly || rec == nil {
		t.Errorf("Classify() = (%v, %v), want (DiffAvailabilityOnly, non-nil)", class, rec)
	}
}

func TestClassifyNeedsDetailOnTitleChange(t *testing.T) {
	snap := models.NewCatalogSnapshot()
	snap.Put(&models.ProductRecord{Site: "site", URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: true})
	tile := models.Tile{URL: "https://site.test/item/1", Title: "Helmet Mk2", Price: price(50), Available: true}

	class, _ := Classify(snap, "site", tile)
	if class != models.DiffNeedsDetail {
		t.Errorf("Classify() = %v, want DiffNeedsDetail on title change", class)
	}
}

func TestClassifyNeedsDetailOnPriceChange(t *testing.T) {
	snap := models.NewCatalogSnapshot()
	snap.Put(&models.ProductRecord{Site: "site", URL: "https://site.test/item/1", Title: "Helmet", Price: price(50), Available: true})
	tile := models.Tile{URL: "https://site.test/item/1", Title: "Helmet", Price: price(65), Available: true}

	class, _ := Classify(snap, "site", tile)
	if class != models.DiffNeedsDetail {
		t.Errorf("Classify() = %v, want DiffNeedsDetail on price change", class)
	}
}
