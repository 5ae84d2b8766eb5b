package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nickheyer/militaria-crawler/internal/availability"
	"github.com/nickheyer/militaria-crawler/internal/catalog"
	"github.com/nickheyer/militaria-crawler/internal/detail"
	"github.com/nickheyer/militaria-crawler/internal/httpfetch"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/pipeline"
	"github.com/nickheyer/militaria-crawler/internal/scheduler"
	"github.com/nickheyer/militaria-crawler/internal/selector"
)

func testServer(t *testing.T) (*Server, *catalog.Gateway) {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), 1, 4)
	if err != nil {
		t.Fatalf("catalog.Open() error = %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	walker := pipeline.New(httpfetch.New(), selector.New())
	tracker := availability.New(walker, cat)
	proc := &detail.Processor{HTTP: httpfetch.New(), Selector: selector.New(), Catalog: cat}
	profiles := []*models.SiteProfile{{SourceName: "site", AccessConfig: models.AccessConfig{BaseURL: "https://site.test"}}}

	sched := scheduler.New(walker, tracker, proc, cat, profiles, nil, 4)
	return New(sched, cat, profiles), cat
}

func TestListProfiles(t *testing.T) {
	srv, _ := testServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/profiles", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/profiles status = %d, want 200", w.Code)
	}
	var out []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 1 || out[0]["source_name"] != "site" {
		t.Errorf("GET /api/profiles = %v, want one profile named 'site'", out)
	}
}

func TestRunPassUnknownSource(t *testing.T) {
	srv, _ := testServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/passes/no-such-site/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("POST /api/passes/no-such-site/run status = %d, want 404", w.Code)
	}
}

func TestListProducts(t *testing.T) {
	srv, cat := testServer(t)
	if err := cat.InsertProduct(&models.ProductRecord{Site: "site", URL: "https://site.test/item/1", Title: "x", Available: true}); err != nil {
		t.Fatalf("InsertProduct() error = %v", err)
	}
	r := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/products/site", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/products/site status = %d, want 200", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["total"].(float64) != 1 {
		t.Errorf("total = %v, want 1", out["total"])
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	r := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want 200", w.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %v, want ok", out["status"])
	}
}
