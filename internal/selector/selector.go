// Package selector evaluates declarative Selector configurations against a
// parsed HTML document. It never panics on a missing node — it returns nil
// and lets the caller decide whether the field was required.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nickheyer/militaria-crawler/internal/models"
)

// RefetchFunc re-fetches a product's live document, used only by the
// live_fallback_fetch post-processor.
type RefetchFunc func() (*goquery.Document, error)

// Engine evaluates Selectors against goquery documents.
type Engine struct {
	// Refetch is consulted by live_fallback_fetch when non-nil. Left nil,
	// that post-processor degrades to a no-op (returns the prior value).
	Refetch RefetchFunc
}

// New returns an Engine with no live-refetch capability configured.
func New() *Engine {
	return &Engine{}
}

// Extract evaluates sel against root and returns the final post-processed
// value, or nil if the selector (or any non-null-tolerant step) comes up
// empty. productURL is passed through to the from_url post-processor.
func (e *Engine) Extract(root *goquery.Selection, sel models.Selector, productURL string) (any, error) {
	var value any
	var node *goquery.Selection

	switch sel.Kind {
	case models.SelectorStatic:
		value = sel.StaticValue
	case models.SelectorNamedFunction:
		// Named functions are resolved by the imageextract registry, not
		// here; a bare NamedFunction selector with no registered caller
		// yields nil.
		value = nil
	case models.SelectorDomQuery:
		v, n, err := e.evalDomQuery(root, sel)
		if err != nil {
			return nil, err
		}
		value, node = v, n
	default:
		return nil, fmt.Errorf("selector: unknown kind %q", sel.Kind)
	}

	return e.applyPostProcess(value, node, sel.PostProcess, productURL)
}

// evalDomQuery returns the extracted value and, for single-node queries, the
// matched element itself — the latter is only consulted by post-processors
// that need to run a further query against the originating node (e.g.
// submethod_exists), not by ones that just transform the string value.
func (e *Engine) evalDomQuery(root *goquery.Selection, sel models.Selector) (any, *goquery.Selection, error) {
	if sel.Method == "has_attr" {
		if len(sel.Args) == 0 {
			return nil, nil, fmt.Errorf("selector: has_attr requires an attribute name arg")
		}
		val, exists := root.Attr(sel.Args[0])
		if !exists {
			return nil, nil, nil
		}
		return val, nil, nil
	}

	if len(sel.Args) == 0 {
		return nil, nil, fmt.Errorf("selector: %s requires a css selector arg", sel.Method)
	}
	cssSel := buildCSSSelector(sel.Args[0], sel.Kwargs)

	switch sel.Method {
	case "find", "select_one":
		node := root.Find(cssSel).First()
		if node.Length() == 0 {
			return nil, nil, nil
		}
		return extractValue(node, sel.Attribute), node, nil

	case "find_all", "select":
		nodes := root.Find(cssSel)
		if nodes.Length() == 0 {
			return nil, nil, nil
		}
		var out []string
		nodes.Each(func(_ int, s *goquery.Selection) {
			out = append(out, fmt.Sprint(extractValue(s, sel.Attribute)))
		})
		return out, nil, nil

	default:
		return nil, nil, fmt.Errorf("selector: unknown dom query method %q", sel.Method)
	}
}

// buildCSSSelector appends common kwargs filters (class/id/attrs) onto a
// base CSS selector fragment.
func buildCSSSelector(base string, kwargs map[string]any) string {
	sel := base
	if kwargs == nil {
		return sel
	}
	if class, ok := kwargs["class"].(string); ok && class != "" {
		sel += "." + strings.ReplaceAll(class, " ", ".")
	}
	if id, ok := kwargs["id"].(string); ok && id != "" {
		sel += "#" + id
	}
	if attrs, ok := kwargs["attrs"].(map[string]any); ok {
		for k, v := range attrs {
			sel += fmt.Sprintf("[%s='%v']", k, v)
		}
	}
	return sel
}

// extractValue returns an attribute's value (joining list-valued attributes
// like "class" with a single space) or the node's collapsed text content.
func extractValue(node *goquery.Selection, attribute string) any {
	if attribute != "" {
		val, exists := node.Attr(attribute)
		if !exists {
			return nil
		}
		return val
	}
	return collapseWhitespace(node.Text())
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// applyPostProcess runs value through pipeline in order, short-circuiting on
// nil unless the transform explicitly tolerates it (set, from_url,
// submethod_exists, live_fallback_fetch).
func (e *Engine) applyPostProcess(value any, node *goquery.Selection, pipeline []models.PostProcessor, productURL string) (any, error) {
	for _, pp := range pipeline {
		if value == nil && pp.Name != "set" && pp.Name != "from_url" && pp.Name != "submethod_exists" && pp.Name != "live_fallback_fetch" {
			continue
		}
		v, err := e.runPostProcessor(pp, value, node, productURL)
		if err != nil {
			return nil, fmt.Errorf("post-process %s: %w", pp.Name, err)
		}
		value = v
	}
	return value, nil
}

func (e *Engine) runPostProcessor(pp models.PostProcessor, value any, node *goquery.Selection, productURL string) (any, error) {
	switch pp.Name {
	case "prepend":
		s := asString(value)
		if s == "" {
			return value, nil
		}
		return asString(pp.Arg) + strings.TrimSpace(s), nil

	case "append":
		s := asString(value)
		if s == "" {
			return value, nil
		}
		return strings.TrimSpace(s) + asString(pp.Arg), nil

	case "smart_prepend":
		s := asString(value)
		if s == "" {
			return value, nil
		}
		if strings.HasPrefix(s, "http") {
			return s, nil
		}
		return asString(pp.Arg) + s, nil

	case "strip":
		return strings.TrimSpace(asString(value)), nil

	case "strip_html_tags":
		return stripHTMLTagsRE.ReplaceAllString(asString(value), ""), nil

	case "replace_all":
		s := asString(value)
		pairs, _ := pp.Arg.([]any)
		for _, p := range pairs {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			s = strings.ReplaceAll(s, asString(m["old"]), asString(m["new"]))
		}
		return s, nil

	case "remove_prefix":
		s := asString(value)
		return strings.TrimSpace(strings.TrimPrefix(s, asString(pp.Arg))), nil

	case "remove_suffix":
		s := asString(value)
		return strings.TrimSpace(strings.TrimSuffix(s, asString(pp.Arg))), nil

	case "split":
		s := asString(value)
		m, _ := pp.Arg.(map[string]any)
		delim := asString(m["delimiter"])
		take := asString(m["take"])
		parts := strings.Split(s, delim)
		if len(parts) == 0 {
			return nil, nil
		}
		if take == "last" {
			return parts[len(parts)-1], nil
		}
		return parts[0], nil

	case "regex":
		s := asString(value)
		m, _ := pp.Arg.(map[string]any)
		pattern := asString(m["pattern"])
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		groups := re.FindStringSubmatch(s)
		if len(groups) < 2 {
			return nil, nil
		}
		return groups[1], nil

	case "set":
		return pp.Arg, nil

	case "find_text_contains":
		s := asString(value)
		m, _ := pp.Arg.(map[string]any)
		needle := asString(m["value"])
		caseInsensitive, _ := m["case_insensitive"].(bool)
		haystack := s
		if caseInsensitive {
			haystack = strings.ToLower(haystack)
			needle = strings.ToLower(needle)
		}
		if strings.Contains(haystack, needle) {
			return m["if_true"], nil
		}
		return m["if_false"], nil

	case "submethod_exists":
		// Runs a sub-query against the element the selector matched, not the
		// already-extracted string value. Selectors that don't match a
		// single element (find_all/select, static, named-function) have no
		// node to query and fall back to the non-match case.
		m, _ := pp.Arg.(map[string]any)
		expect, _ := m["expect"].(bool)
		if node == nil {
			return expect == false, nil
		}
		sub, _ := m["args"].([]any)
		if len(sub) == 0 {
			return expect == false, nil
		}
		exists := node.Find(asString(sub[0])).Length() > 0
		return exists == expect, nil

	case "validate_startswith":
		s := asString(value)
		if strings.HasPrefix(s, asString(pp.Arg)) {
			return s, nil
		}
		return nil, nil

	case "from_url":
		return productURL, nil

	case "live_fallback_fetch":
		if value != nil {
			return value, nil
		}
		if e.Refetch == nil {
			return nil, nil
		}
		doc, err := e.Refetch()
		if err != nil || doc == nil {
			return nil, nil
		}
		m, _ := pp.Arg.(map[string]any)
		rawSel, ok := m["selector"].(map[string]any)
		if !ok {
			return nil, nil
		}
		sub := decodeSelector(rawSel)
		return e.Extract(doc.Selection, sub, productURL)

	default:
		return nil, fmt.Errorf("unknown post-processor %q", pp.Name)
	}
}

var stripHTMLTagsRE = regexp.MustCompile(`<[^>]*>`)

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// decodeSelector rebuilds a models.Selector from an inline map, used only by
// live_fallback_fetch's embedded sub-selector argument.
func decodeSelector(m map[string]any) models.Selector {
	sel := models.Selector{
		Kind:      models.SelectorKind(asString(m["kind"])),
		Method:    asString(m["method"]),
		Attribute: asString(m["attribute"]),
	}
	if args, ok := m["args"].([]any); ok {
		for _, a := range args {
			sel.Args = append(sel.Args, asString(a))
		}
	}
	return sel
}
