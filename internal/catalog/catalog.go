// Package catalog is the relational gateway to the product store: pooled
// connections, schema management, and the parameterized read/write
// operations the rest of the crawler core needs. It is the single place
// that sets date_sold on an availability flip (see models.ProductRecord).
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

// Gateway wraps a pooled *sql.DB with the product schema's CRUD operations.
type Gateway struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *utils.Logger
}

// Open connects to dsn (a sqlite3 file path by default), applies pool
// bounds, and ensures the schema exists.
func Open(dsn string, minConns, maxConns int) (*Gateway, error) {
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(time.Hour)

	g := &Gateway{db: db, logger: utils.GetLogger()}
	if err := g.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

func (g *Gateway) createTables() error {
	_, err := g.db.Exec(`
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	site TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT,
	description TEXT,
	price REAL,
	currency TEXT,
	available INTEGER NOT NULL DEFAULT 1,
	date TEXT,
	date_modified TEXT,
	date_sold TEXT,
	last_seen TEXT,
	original_image_urls TEXT,
	s3_image_urls TEXT,
	s3_first_image_thumbnail TEXT,
	image_download_failed INTEGER NOT NULL DEFAULT 0,
	requires_attention INTEGER NOT NULL DEFAULT 0,
	extracted_id TEXT,
	item_type TEXT,
	grade TEXT,
	conflict TEXT,
	nation TEXT,
	supergroup TEXT,
	categories TEXT,
	conflict_ai_generated TEXT,
	nation_ai_generated TEXT,
	item_type_ai_generated TEXT,
	supergroup_ai_generated TEXT,
	openai_vector TEXT,
	UNIQUE(site, url)
);
CREATE INDEX IF NOT EXISTS idx_products_site ON products(site);
CREATE INDEX IF NOT EXISTS idx_products_site_available ON products(site, available);
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var count int
	if err := g.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err == nil && count == 0 {
		g.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`)
	}
	return nil
}

func joinJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// InsertProduct creates a new row. Callers must ensure (site, url) is not
// already present; this funnels through the application-level "new" path
// (the detail processor's snapshot-miss branch), not a DB-level upsert.
func (g *Gateway) InsertProduct(rec *models.ProductRecord) error {
	res, err := g.db.Exec(`
INSERT INTO products (
	site, url, title, description, price, currency, available, date, date_modified, date_sold, last_seen,
	original_image_urls, s3_image_urls, s3_first_image_thumbnail, image_download_failed, requires_attention,
	extracted_id, item_type, grade, conflict, nation, supergroup, categories,
	conflict_ai_generated, nation_ai_generated, item_type_ai_generated, supergroup_ai_generated, openai_vector
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.Site, rec.URL, rec.Title, rec.Description, nullableFloat(rec.Price), rec.Currency,
		boolToInt(rec.Available), rec.Date.Format(time.RFC3339), rec.DateModified.Format(time.RFC3339),
		nullableTime(rec.DateSold), nullableTime(rec.LastSeen),
		joinJSON(rec.OriginalImageURLs), joinJSON(rec.S3ImageURLs), rec.S3FirstImageThumbnail,
		boolToInt(rec.ImageDownloadFailed), boolToInt(rec.RequiresAttention),
		rec.ExtractedID, rec.ItemType, rec.Grade, rec.Conflict, rec.Nation, rec.Supergroup, joinJSON(rec.Categories),
		rec.ConflictAIGenerated, rec.NationAIGenerated, rec.ItemTypeAIGenerated, rec.SupergroupAIGenerated,
		joinJSON(rec.OpenAIVector),
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	id, _ := res.LastInsertId()
	rec.ID = id
	return nil
}

// UpdateProductFields updates only the supplied columns (differ-driven
// partial writes) plus date_modified, which is bumped on every call.
func (g *Gateway) UpdateProductFields(site, url string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+3)
	for col, val := range fields {
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}
	setClauses = append(setClauses, "date_modified = ?")
	args = append(args, time.Now().Format(time.RFC3339))
	args = append(args, site, url)

	query := "UPDATE products SET "
	for i, c := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += " WHERE site = ? AND url = ?"

	_, err := g.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update product fields: %w", err)
	}
	return nil
}

// UpdateProductFieldsByID is UpdateProductFields keyed by surrogate id
// instead of (site, url) — used by the image subsystem callback, which only
// knows the product's id.
func (g *Gateway) UpdateProductFieldsByID(id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	setClauses := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for col, val := range fields {
		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}
	setClauses = append(setClauses, "date_modified = ?")
	args = append(args, time.Now().Format(time.RFC3339))
	args = append(args, id)

	query := "UPDATE products SET "
	for i, c := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += " WHERE id = ?"

	_, err := g.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update product fields by id: %w", err)
	}
	return nil
}

// SetAvailability writes available for (site, url). On a write of false it
// sets date_sold only while date_sold is still null, so the first observed
// sale time is kept. MarkStaleUnseen is the one other write that sets
// date_sold, with the same null check.
func (g *Gateway) SetAvailability(site, url string, available bool, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if available {
		_, err := g.db.Exec(`UPDATE products SET available = 1, date_modified = ? WHERE site = ? AND url = ?`,
			now.Format(time.RFC3339), site, url)
		return err
	}

	_, err := g.db.Exec(`
UPDATE products SET available = 0, date_modified = ?,
	date_sold = CASE WHEN date_sold IS NULL THEN ? ELSE date_sold END
WHERE site = ? AND url = ?`,
		now.Format(time.RFC3339), now.Format(time.RFC3339), site, url)
	return err
}

// TouchLastSeen updates last_seen for last_seen-mode availability tracking.
func (g *Gateway) TouchLastSeen(site, url string, now time.Time) error {
	_, err := g.db.Exec(`UPDATE products SET last_seen = ? WHERE site = ? AND url = ?`, now.Format(time.RFC3339), site, url)
	return err
}

// MarkStaleUnseen flips available=false for every row of site whose
// last_seen is null or older than cutoff, implementing last_seen-mode
// sweep semantics.
func (g *Gateway) MarkStaleUnseen(site string, cutoff time.Time) (int64, error) {
	res, err := g.db.Exec(`
UPDATE products SET available = 0, date_modified = ?, date_sold = CASE WHEN date_sold IS NULL THEN ? ELSE date_sold END
WHERE site = ? AND available = 1 AND (last_seen IS NULL OR last_seen < ?)`,
		cutoff.Format(time.RFC3339), cutoff.Format(time.RFC3339), site, cutoff.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepAbsent marks every available row for site whose URL is not in
// seenURLs as unavailable, through SetAvailability — the tile-mode
// availability tracker's absence-based write. A single row's update failing
// (connection drop, constraint violation) does not abort the rest of the
// sweep: each URL is retried once, then skipped. When fewer rows are marked
// than were eligible, SweepAbsent itself logs the expected and actual
// counts. Rows are updated one at a time, with no enclosing transaction; the
// return value is the number of rows marked.
func (g *Gateway) SweepAbsent(site string, seenURLs map[string]bool, now time.Time) (int64, error) {
	rows, err := g.db.Query(`SELECT url FROM products WHERE site = ? AND available = 1`, site)
	if err != nil {
		return 0, err
	}
	var toMark []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return 0, err
		}
		if !seenURLs[u] {
			toMark = append(toMark, u)
		}
	}
	rows.Close()

	var marked int64
	for _, u := range toMark {
		err := g.SetAvailability(site, u, false, now)
		if err != nil {
			err = g.SetAvailability(site, u, false, now) // one retry before giving up on this row
		}
		if err != nil {
			g.logger.Warn("sweep-absent update failed, skipping row", map[string]any{"site": site, "url": u, "error": err.Error()})
			continue
		}
		marked++
	}
	if marked != int64(len(toMark)) {
		g.logger.Warn("sweep-absent marked fewer rows than expected", map[string]any{
			"site": site, "expected": len(toMark), "actual": marked,
		})
	}
	return marked, nil
}

// CountsForSite returns (available, sold, total) for safety-gate and
// success-rate calculations.
func (g *Gateway) CountsForSite(site string) (available, sold, total int, err error) {
	err = g.db.QueryRow(`SELECT COUNT(*) FROM products WHERE site = ?`, site).Scan(&total)
	if err != nil {
		return
	}
	err = g.db.QueryRow(`SELECT COUNT(*) FROM products WHERE site = ? AND available = 1`, site).Scan(&available)
	if err != nil {
		return
	}
	sold = total - available
	return
}

// LoadSnapshot builds a CatalogSnapshot for site, used once at the start of
// a pass so the differ avoids a per-tile round trip.
func (g *Gateway) LoadSnapshot(site string) (*models.CatalogSnapshot, error) {
	rows, err := g.db.Query(`
SELECT id, url, title, description, price, available, date, date_modified, date_sold
FROM products WHERE site = ?`, site)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	snap := models.NewCatalogSnapshot()
	for rows.Next() {
		var rec models.ProductRecord
		rec.Site = site
		var price sql.NullFloat64
		var dateStr, dateModStr sql.NullString
		var dateSoldStr sql.NullString
		var available int
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Title, &rec.Description, &price, &available, &dateStr, &dateModStr, &dateSoldStr); err != nil {
			return nil, err
		}
		rec.Available = available != 0
		if price.Valid {
			rec.Price = &price.Float64
		}
		if dateStr.Valid {
			rec.Date, _ = time.Parse(time.RFC3339, dateStr.String)
		}
		if dateModStr.Valid {
			rec.DateModified, _ = time.Parse(time.RFC3339, dateModStr.String)
		}
		if dateSoldStr.Valid {
			t, perr := time.Parse(time.RFC3339, dateSoldStr.String)
			if perr == nil {
				rec.DateSold = &t
			}
		}
		snap.Put(&rec)
	}
	return snap, nil
}

// GetByURL loads the full row for (site, url), including the columns
// LoadSnapshot omits (imagery, AI-generated fields, the embedding vector).
// Used where a caller needs the complete record rather than the differ's
// pass-scoped projection.
func (g *Gateway) GetByURL(site, url string) (*models.ProductRecord, error) {
	row := g.db.QueryRow(`
SELECT id, site, url, title, description, price, currency, available, date, date_modified, date_sold, last_seen,
	original_image_urls, s3_image_urls, s3_first_image_thumbnail, image_download_failed, requires_attention,
	extracted_id, item_type, grade, conflict, nation, supergroup, categories,
	conflict_ai_generated, nation_ai_generated, item_type_ai_generated, supergroup_ai_generated, openai_vector
FROM products WHERE site = ? AND url = ?`, site, url)

	var rec models.ProductRecord
	var price sql.NullFloat64
	var dateStr, dateModStr, dateSoldStr, lastSeenStr sql.NullString
	var available, downloadFailed, requiresAttention int
	var originalImages, s3Images, categories, vector string

	err := row.Scan(&rec.ID, &rec.Site, &rec.URL, &rec.Title, &rec.Description, &price, &rec.Currency,
		&available, &dateStr, &dateModStr, &dateSoldStr, &lastSeenStr,
		&originalImages, &s3Images, &rec.S3FirstImageThumbnail, &downloadFailed, &requiresAttention,
		&rec.ExtractedID, &rec.ItemType, &rec.Grade, &rec.Conflict, &rec.Nation, &rec.Supergroup, &categories,
		&rec.ConflictAIGenerated, &rec.NationAIGenerated, &rec.ItemTypeAIGenerated, &rec.SupergroupAIGenerated, &vector)
	if err != nil {
		return nil, fmt.Errorf("get product %s/%s: %w", site, url, err)
	}

	rec.Available = available != 0
	rec.ImageDownloadFailed = downloadFailed != 0
	rec.RequiresAttention = requiresAttention != 0
	if price.Valid {
		rec.Price = &price.Float64
	}
	if dateStr.Valid {
		rec.Date, _ = time.Parse(time.RFC3339, dateStr.String)
	}
	if dateModStr.Valid {
		rec.DateModified, _ = time.Parse(time.RFC3339, dateModStr.String)
	}
	if dateSoldStr.Valid {
		if t, perr := time.Parse(time.RFC3339, dateSoldStr.String); perr == nil {
			rec.DateSold = &t
		}
	}
	if lastSeenStr.Valid {
		if t, perr := time.Parse(time.RFC3339, lastSeenStr.String); perr == nil {
			rec.LastSeen = &t
		}
	}
	json.Unmarshal([]byte(originalImages), &rec.OriginalImageURLs)
	json.Unmarshal([]byte(s3Images), &rec.S3ImageURLs)
	json.Unmarshal([]byte(categories), &rec.Categories)
	json.Unmarshal([]byte(vector), &rec.OpenAIVector)
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
