package selector

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/nickheyer/militaria-crawler/internal/models"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse fixture html: %v", err)
	}
	return doc
}

func TestExtractDomQueryText(t *testing.T) {
	doc := mustDoc(t, `<div class="tile"><h3 class="title">  M1 Helmet  </h3></div>`)
	e := New()
	sel := models.Selector{Kind: models.SelectorDomQuery, Method: "find", Args: []string{".title"}}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != "M1 Helmet" {
		t.Errorf("Extract() = %q, want %q", v, "M1 Helmet")
	}
}

func TestExtractDomQueryAttribute(t *testing.T) {
	doc := mustDoc(t, `<a class="details" href="/item/42">View</a>`)
	e := New()
	sel := models.Selector{Kind: models.SelectorDomQuery, Method: "find", Args: []string{".details"}, Attribute: "href"}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != "/item/42" {
		t.Errorf("Extract() = %q, want %q", v, "/item/42")
	}
}

func TestExtractMissingNodeReturnsNil(t *testing.T) {
	doc := mustDoc(t, `<div></div>`)
	e := New()
	sel := models.Selector{Kind: models.SelectorDomQuery, Method: "find", Args: []string{".nope"}}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != nil {
		t.Errorf("Extract() = %v, want nil", v)
	}
}

func TestExtractStaticSelector(t *testing.T) {
	doc := mustDoc(t, `<div></div>`)
	e := New()
	sel := models.Selector{Kind: models.SelectorStatic, StaticValue: "USD"}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != "USD" {
		t.Errorf("Extract() = %v, want USD", v)
	}
}

func TestPostProcessPipeline(t *testing.T) {
	doc := mustDoc(t, `<span class="price">45.00</span>`)
	e := New()
	sel := models.Selector{
		Kind: models.SelectorDomQuery, Method: "find", Args: []string{".price"},
		PostProcess: []models.PostProcessor{
			{Name: "prepend", Arg: "$"},
			{Name: "strip"},
		},
	}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != "$45.00" {
		t.Errorf("Extract() = %q, want %q", v, "$45.00")
	}
}

func TestPostProcessFromURLIgnoresNilShortCircuit(t *testing.T) {
	doc := mustDoc(t, `<div></div>`)
	e := New()
	sel := models.Selector{
		Kind: models.SelectorDomQuery, Method: "find", Args: []string{".missing"},
		PostProcess: []models.PostProcessor{{Name: "from_url"}},
	}

	v, err := e.Extract(doc.Selection, sel, "https://example.com/item/7")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != "https://example.com/item/7" {
		t.Errorf("Extract() = %v, want productURL passthrough", v)
	}
}

func TestLiveFallbackFetchNoRefetchConfigured(t *testing.T) {
	doc := mustDoc(t, `<div></div>`)
	e := New() // Refetch left nil
	sel := models.Selector{
		Kind: models.SelectorDomQuery, Method: "find", Args: []string{".missing"},
		PostProcess: []models.PostProcessor{{Name: "live_fallback_fetch", Arg: map[string]any{}}},
	}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != nil {
		t.Errorf("Extract() = %v, want nil when no refetch is configured", v)
	}
}

func TestSubmethodExistsMatchesAgainstOriginatingElement(t *testing.T) {
	doc := mustDoc(t, `<div class="tile"><span class="badge sold-out">Sold</span></div>`)
	e := New()
	sel := models.Selector{
		Kind: models.SelectorDomQuery, Method: "find", Args: []string{".tile"},
		PostProcess: []models.PostProcessor{
			{Name: "submethod_exists", Arg: map[string]any{"args": []any{".sold-out"}, "expect": true}},
		},
	}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != true {
		t.Errorf("Extract() = %v, want true (sub-query should match against the matched .tile element)", v)
	}
}

func TestSubmethodExistsFalseWhenSubQueryAbsent(t *testing.T) {
	doc := mustDoc(t, `<div class="tile"><span class="badge">In stock</span></div>`)
	e := New()
	sel := models.Selector{
		Kind: models.SelectorDomQuery, Method: "find", Args: []string{".tile"},
		PostProcess: []models.PostProcessor{
			{Name: "submethod_exists", Arg: map[string]any{"args": []any{".sold-out"}, "expect": true}},
		},
	}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != false {
		t.Errorf("Extract() = %v, want false (no .sold-out under .tile)", v)
	}
}

func TestSubmethodExistsFallsBackWithoutANode(t *testing.T) {
	e := New()
	sel := models.Selector{
		Kind: models.SelectorStatic, StaticValue: "anything",
		PostProcess: []models.PostProcessor{
			{Name: "submethod_exists", Arg: map[string]any{"args": []any{".sold-out"}, "expect": true}},
		},
	}

	v, err := e.Extract(nil, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if v != false {
		t.Errorf("Extract() = %v, want expect==false fallback when there is no originating element", v)
	}
}

func TestFindAllReturnsStringSlice(t *testing.T) {
	doc := mustDoc(t, `<ul><li class="tag">WWII</li><li class="tag">German</li></ul>`)
	e := New()
	sel := models.Selector{Kind: models.SelectorDomQuery, Method: "find_all", Args: []string{".tag"}}

	v, err := e.Extract(doc.Selection, sel, "")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	got, ok := v.([]string)
	if !ok || len(got) != 2 {
		t.Fatalf("Extract() = %#v, want 2-element []string", v)
	}
}
