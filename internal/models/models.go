// Package models defines the data types shared across the crawler core:
// site configuration, extraction selectors, transient pagination state, and
// the persistent catalog row.
package models

import (
	"time"
)

// Settings wraps AppConfig under an "appConfig" JSON key. Nothing in the
// crawler core persists or reads it; runtime configuration is loaded by
// internal/config.
type Settings struct {
	AppConfig AppConfig `json:"appConfig"`
}

// AppConfig holds filesystem and pool-sizing knobs. Nothing in the crawler
// core loads it.
type AppConfig struct {
	Port               int           `json:"port"`
	StoragePath        string        `json:"storagePath"`
	ThumbnailsPath     string        `json:"thumbnailsPath"`
	DataPath           string        `json:"dataPath"`
	LogsPath           string        `json:"logsPath"`
	ErrorsPath         string        `json:"errorsPath"`
	ProfilesPath       string        `json:"profilesPath"`
	CatalogDSN         string        `json:"catalogDsn"`
	S3CredentialsPath  string        `json:"s3CredentialsPath"`
	S3Bucket           string        `json:"s3Bucket"`
	S3Region           string        `json:"s3Region"`
	MaxConcurrentSites int           `json:"maxConcurrentSites"`
	MaxImageWorkers    int           `json:"maxImageWorkers"`
	SensitiveSites     []string      `json:"sensitiveSites"`
	AvailabilitySleep  time.Duration `json:"availabilitySleep"`
	ScrapeSleep        time.Duration `json:"scrapeSleep"`
	DefaultTimeout     time.Duration `json:"defaultTimeout"`
	StoreErrorDetails  bool          `json:"storeErrorDetails"`
	DevMode            bool          `json:"devMode"`
}

// AccessConfig describes how to reach and paginate a site's listing pages.
type AccessConfig struct {
	BaseURL          string            `json:"base_url"`
	ProductsPagePath string            `json:"products_page_path"`
	PageIncrement    int               `json:"page_increment_step"`
	StartPage        int               `json:"start_page"`
	UserAgent        string            `json:"user_agent,omitempty"`
	Cookies          map[string]string `json:"cookies,omitempty"`
}

// BulkAvailabilityMode selects the reconciliation strategy a profile uses.
type BulkAvailabilityMode string

const (
	AvailabilityModeTile     BulkAvailabilityMode = "tile"
	AvailabilityModeLastSeen BulkAvailabilityMode = "last_seen"
)

// SiteProfile is the immutable, JSON-loaded description of one crawl source.
type SiteProfile struct {
	SourceName              string               `json:"source_name"`
	JSONDesc                string               `json:"json_desc"`
	IsWorking               bool                 `json:"is_working"`
	IsSoldArchive           bool                 `json:"is_sold_archive"`
	BulkAvailabilityMode    BulkAvailabilityMode `json:"bulk_availability_mode"`
	AccessConfig            AccessConfig         `json:"access_config"`
	ProductTileSelectors    map[string]Selector  `json:"product_tile_selectors"`
	ProductDetailSelectors  map[string]Selector  `json:"product_details_selectors"`
	Notes                   string               `json:"notes,omitempty"`
}

// SelectorKind discriminates the polymorphic Selector variants.
type SelectorKind string

const (
	SelectorDomQuery      SelectorKind = "dom_query"
	SelectorNamedFunction SelectorKind = "named_function"
	SelectorStatic        SelectorKind = "static"
)

// PostProcessor is one named transform in a selector's post_process pipeline.
type PostProcessor struct {
	Name string `json:"name"`
	Arg  any    `json:"arg,omitempty"`
}

// Selector describes how to extract one field from a parsed document.
type Selector struct {
	Kind          SelectorKind     `json:"kind"`
	Method        string           `json:"method,omitempty"`
	Args          []string         `json:"args,omitempty"`
	Kwargs        map[string]any   `json:"kwargs,omitempty"`
	Attribute     string           `json:"attribute,omitempty"`
	Function      string           `json:"function,omitempty"`
	StaticValue   any              `json:"static_value,omitempty"`
	PostProcess   []PostProcessor  `json:"post_process,omitempty"`
}

// Tile is the transient per-listing-entry record produced while walking a
// paginated catalog page. It is never persisted; the catalog stores
// ProductRecord rows.
type Tile struct {
	URL       string
	Title     string
	Price     *float64
	Available bool
}

// ProductRecord is the persistent catalog row.
type ProductRecord struct {
	ID                     int64
	Site                   string
	URL                    string
	Title                  string
	Description            string
	Price                  *float64
	Currency               string
	Available              bool
	Date                   time.Time
	DateModified           time.Time
	DateSold               *time.Time
	LastSeen               *time.Time
	OriginalImageURLs      []string
	S3ImageURLs            []string
	S3FirstImageThumbnail  string
	ImageDownloadFailed    bool
	RequiresAttention      bool
	ExtractedID            string
	ItemType               string
	Grade                  string
	Conflict               string
	Nation                 string
	Supergroup             string
	Categories             []string
	ConflictAIGenerated    string
	NationAIGenerated      string
	ItemTypeAIGenerated    string
	SupergroupAIGenerated  string
	OpenAIVector           []float32
}

// CatalogSnapshot is an in-memory index of one site's known rows, built once
// per pass so the differ can classify tiles without a per-tile DB round trip.
type CatalogSnapshot struct {
	BySite map[string]map[string]*ProductRecord // site -> url -> record
}

// NewCatalogSnapshot returns an empty snapshot ready for population.
func NewCatalogSnapshot() *CatalogSnapshot {
	return &CatalogSnapshot{BySite: make(map[string]map[string]*ProductRecord)}
}

// Lookup returns the known record for (site, url), if any.
func (s *CatalogSnapshot) Lookup(site, url string) (*ProductRecord, bool) {
	m, ok := s.BySite[site]
	if !ok {
		return nil, false
	}
	rec, ok := m[url]
	return rec, ok
}

// Put inserts or replaces a record in the snapshot.
func (s *CatalogSnapshot) Put(rec *ProductRecord) {
	m, ok := s.BySite[rec.Site]
	if !ok {
		m = make(map[string]*ProductRecord)
		s.BySite[rec.Site] = m
	}
	m[rec.URL] = rec
}

// Counters tracks per-pass, per-site progress. It is always constructed
// fresh for a pass and threaded explicitly through the pipeline call chain
// — never a package-level singleton.
type Counters struct {
	SourceName              string
	CurrentPage             int
	EmptyPageRun            int
	TotalSeen               int
	NewCount                int
	UnchangedCount          int
	AvailabilityUpdateCount int
	PagesWalked             int
	Continue                bool
}

// NewCounters returns a fresh, zeroed Counters for one pass over one site.
func NewCounters(sourceName string, startPage int) *Counters {
	return &Counters{SourceName: sourceName, CurrentPage: startPage, Continue: true}
}

// DiffClassification is the outcome of comparing a Tile against the catalog.
type DiffClassification string

const (
	DiffUnchanged         DiffClassification = "unchanged"
	DiffAvailabilityOnly  DiffClassification = "availability_update"
	DiffNeedsDetail       DiffClassification = "needs_detail"
)
