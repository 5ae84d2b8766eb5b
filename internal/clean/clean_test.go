package clean

import "testing"

func TestPrice(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want *float64
	}{
		{"plain dollar", "$1,250.00", f(1250.00)},
		{"lone comma decimal", "45,50", f(45.50)},
		{"thousands dot no comma", "1.250", f(1250)},
		{"decimal dot under three digits", "12.5", f(12.5)},
		{"multi dot no comma collapses to one decimal", "1.234.567", f(1234.567)},
		{"comma thousands dot decimal", "1,234.56", f(1234.56)},
		{"dot thousands comma decimal", "1.234,56", f(1234.56)},
		{"garbage", "Contact us", nil},
		{"empty", "", nil},
		{"negative rejected", "-5.00", nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Price(c.in)
			if (got == nil) != (c.want == nil) {
				t.Fatalf("Price(%q) = %v, want %v", c.in, got, c.want)
			}
			if got != nil && *got != *c.want {
				t.Fatalf("Price(%q) = %v, want %v", c.in, *got, *c.want)
			}
		})
	}
}

func f(v float64) *float64 { return &v }

func TestAvailability(t *testing.T) {
	cases := []struct {
		in        any
		wantBool  bool
		wantMatch bool
	}{
		{"In Stock", true, true},
		{"Add to Cart", true, true},
		{"Sold", false, true},
		{"Out of Stock", false, true},
		{"gibberish xyz", false, false},
		{nil, false, false},
	}
	for _, c := range cases {
		b, matched := Availability(c.in)
		if matched != c.wantMatch || (matched && b != c.wantBool) {
			t.Errorf("Availability(%v) = (%v, %v), want (%v, %v)", c.in, b, matched, c.wantBool, c.wantMatch)
		}
	}
}

func TestTitle(t *testing.T) {
	got := Title("  WWII  German   Helmet &amp; Liner  ")
	want := "WWII German Helmet & Liner"
	if got != want {
		t.Errorf("Title() = %q, want %q", got, want)
	}
}

func TestURL(t *testing.T) {
	if URL("not-a-url") != "" {
		t.Error("expected invalid URL to be rejected")
	}
	if URL("https://example.com/item/1") == "" {
		t.Error("expected valid absolute URL to be accepted")
	}
}

func TestExtractedID(t *testing.T) {
	if got := ExtractedID("  abc-123  "); got != "ABC-123" {
		t.Errorf("ExtractedID() = %q, want %q", got, "ABC-123")
	}
	if got := ExtractedID("product-nameWithAnImplausiblyLongTrailingSegment"); got != "" {
		t.Errorf("ExtractedID() should reject candidates over 20 chars, got %q", got)
	}
}

func TestNationAndConflictTrimUpperOnly(t *testing.T) {
	if got := Nation("  category: germany  "); got != "CATEGORY: GERMANY" {
		t.Errorf("Nation() = %q, want trim+upper only, no prefix stripping", got)
	}
	if got := Conflict(" wwii "); got != "WWII" {
		t.Errorf("Conflict() = %q, want %q", got, "WWII")
	}
}

func TestItemType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"drops category prefix", "CATEGORY: Helmet", "HELMET"},
		{"drops new and sold noise", "NEW, Helmet, SOLD", "HELMET"},
		{"extracts parenthesized qualifier", "Foo (Bar)", "BAR"},
		{"takes segment after trailing hyphen", "Headgear-Helmet", "HELMET"},
		{"drops related tag", "Helmet (RELATED)", "HELMET"},
		{"drops generic placeholder", "Militaria", ""},
		{"empty input", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ItemType(c.in); got != c.want {
				t.Errorf("ItemType(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
