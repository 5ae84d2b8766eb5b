// Package clean normalizes raw selector output into typed catalog fields.
// Every function here is pure and total over its input domain — no I/O, no
// panics, only returns the best-effort value or nil/zero on failure.
package clean

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)
var whitespaceRE = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

func stripTags(s string) string {
	return htmlTagRE.ReplaceAllString(s, "")
}

var fancyQuotes = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", "\"", "”", "\"",
)

// URL trims and validates an absolute http(s) URL, returning "" on failure.
func URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return raw
}

// URLList validates every entry; a single invalid URL fails the whole list,
// since a partially-valid gallery is treated as unreliable extraction.
func URLList(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		u := URL(r)
		if u == "" {
			return nil, fmt.Errorf("invalid image url: %q", r)
		}
		out = append(out, u)
	}
	return out, nil
}

// Title decodes entities, strips tags, normalizes fancy quotes, and
// collapses whitespace.
func Title(raw string) string {
	s := html.UnescapeString(raw)
	s = stripTags(s)
	s = fancyQuotes.Replace(s)
	return collapse(s)
}

// Description applies Title's cleanup plus a drop of a leading literal
// "Description" word and stray leading/trailing colons.
func Description(raw string) string {
	s := Title(raw)
	s = strings.TrimPrefix(s, "Description")
	s = strings.Trim(s, ": ")
	return collapse(s)
}

// Price implements the documented heuristic numeric parser: mixed separators
// let the rightmost decide the decimal point; a single dot with exactly
// three trailing digits and no comma is a thousands separator; a lone comma
// is the decimal separator; multiple dots with no comma collapse to one
// decimal point at the last occurrence.
func Price(raw string) *float64 {
	s := stripTags(raw)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	// KEEP ONLY DIGITS, DOTS AND COMMAS; A MINUS ANYWHERE IN THE INPUT IS
	// RECORDED SEPARATELY
	var b strings.Builder
	negative := strings.Contains(s, "-")
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return nil
	}

	hasDot := strings.Contains(digits, ".")
	hasComma := strings.Contains(digits, ",")

	var normalized string
	switch {
	case hasDot && hasComma:
		lastDot := strings.LastIndex(digits, ".")
		lastComma := strings.LastIndex(digits, ",")
		if lastComma > lastDot {
			// COMMA IS THE DECIMAL SEPARATOR; DOTS ARE THOUSANDS
			normalized = strings.ReplaceAll(digits[:lastComma], ".", "") + "." + digits[lastComma+1:]
		} else {
			// DOT IS THE DECIMAL SEPARATOR; COMMAS ARE THOUSANDS
			normalized = strings.ReplaceAll(digits[:lastDot], ",", "") + "." + digits[lastDot+1:]
		}

	case hasDot && !hasComma:
		lastDot := strings.LastIndex(digits, ".")
		trailing := digits[lastDot+1:]
		dotCount := strings.Count(digits, ".")
		if dotCount > 1 {
			// MULTIPLE DOTS, NO COMMA: COLLAPSE ALL BUT THE LAST
			normalized = strings.ReplaceAll(digits[:lastDot], ".", "") + "." + trailing
		} else if len(trailing) == 3 {
			// SINGLE DOT, THREE TRAILING DIGITS: THOUSANDS SEPARATOR
			normalized = strings.ReplaceAll(digits, ".", "")
		} else {
			normalized = digits
		}

	case hasComma && !hasDot:
		lastComma := strings.LastIndex(digits, ",")
		normalized = strings.ReplaceAll(digits[:lastComma], ",", "") + "." + digits[lastComma+1:]

	default:
		normalized = digits
	}

	val, err := strconv.ParseFloat(normalized, 64)
	if err != nil || val < 0 {
		return nil
	}
	if negative {
		// A NEGATIVE PRICE IS NEVER VALID; TREAT IT AS UNPARSEABLE
		return nil
	}
	return &val
}

var availableSynonyms = map[string]bool{
	"true": true, "yes": true, "in stock": true, "available": true,
	"1": true, "1 in stock": true, "stock in-stock": true, "in-stock": true,
	"false": false, "no": false, "sold": false, "unavailable": false,
	"out of stock": false, "0": false, "sold out": false,
}

// Availability coerces a string/bool synonym into a boolean; the second
// return is false when the input matched no known synonym.
func Availability(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if b, ok := availableSynonyms[s]; ok {
			return b, true
		}
		if strings.Contains(s, "in stock") || strings.Contains(s, "add to cart") {
			return true, true
		}
		if strings.Contains(s, "sold") || strings.Contains(s, "out of stock") {
			return false, true
		}
		return false, false
	default:
		return false, false
	}
}

// PostedDate permissively parses heterogeneous date strings seen across
// sites (US, European, RFC, relative-ish formats) via a date-guessing
// library rather than a hand-built format table.
func PostedDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}
	return dateparse.ParseAny(raw)
}

var itemTypeParenRE = regexp.MustCompile(`\(([^)]+)\)`)

// Nation trims and uppercases; unlike ItemType it carries none of the
// prefix/noise-word stripping, since site tiles encode nation as a bare
// value rather than a decorated category string.
func Nation(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Conflict mirrors Nation's cleanup rules.
func Conflict(raw string) string { return Nation(raw) }

// Grade trims and title-cases a condition/grade string.
func Grade(raw string) string {
	s := collapse(raw)
	return strings.Title(strings.ToLower(s)) //nolint:staticcheck // simple ASCII title-casing is sufficient here
}

// Categories title-cases and splits a combined category string on common
// delimiters, dropping placeholder noise entries.
func Categories(raw string) []string {
	s := collapse(raw)
	s = strings.TrimPrefix(strings.ToUpper(s), "CATEGORIES:")
	s = strings.TrimPrefix(s, "CATEGORY:")
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == '/' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "SOLD" || p == "NEW" || p == "NOT SPECIFIED" {
			continue
		}
		out = append(out, strings.Title(strings.ToLower(p))) //nolint:staticcheck
	}
	return out
}

// ItemType decodes entities, uppercases, drops the CATEGORY:/CATEGORIES:/
// ARCHIVE: prefix, splits on commas, and per comma-separated part: strips a
// trailing "(RELATED)" tag, extracts a parenthesized qualifier if present,
// keeps only the segment after a trailing hyphen, and drops generic noise
// values (SOLD, NOT SPECIFIED, ARCHIVE, MILITARIA, plus NEW/SOLD pre-split).
// The surviving parts are rejoined with ", ".
func ItemType(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ToUpper(strings.TrimSpace(html.UnescapeString(raw)))

	for _, prefix := range []string{"CATEGORIES:", "CATEGORY:", "ARCHIVE:"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}

	var parts []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" || p == "NEW" || p == "SOLD" {
			continue
		}
		parts = append(parts, p)
	}

	var cleaned []string
	for _, part := range parts {
		if strings.HasSuffix(part, "(RELATED)") {
			part = strings.TrimSpace(strings.ReplaceAll(part, "(RELATED)", ""))
		}
		if m := itemTypeParenRE.FindStringSubmatch(part); m != nil {
			part = strings.TrimSpace(m[1])
		}
		if idx := strings.LastIndex(part, "-"); idx != -1 {
			part = strings.TrimSpace(part[idx+1:])
		}
		switch part {
		case "SOLD", "NOT SPECIFIED", "ARCHIVE", "MILITARIA":
			continue
		}
		cleaned = append(cleaned, part)
	}

	return strings.Join(cleaned, ", ")
}

// ExtractedID trims and uppercases raw; a result longer than 20 characters
// is rejected as implausible for a product identifier.
func ExtractedID(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) > 20 {
		return ""
	}
	return s
}
