// Package imageextract holds the named, per-site-family image gallery
// extractors dispatched by a SiteProfile's details_image_url NamedFunction
// selector. The registry is closed: adding a site family is a deliberate
// code change, not a data-driven one. Each entry encodes one site family's
// gallery idiom; nothing here is shared across unrelated families unless
// the two families really do share markup.
package imageextract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

// Func extracts an ordered, deduplicated list of full-size image URLs from a
// parsed product page. It must never panic and must never terminate the
// process — on total failure it returns an empty slice.
type Func func(doc *goquery.Selection, baseURL string) []string

var registry = map[string]Func{
	"woo_commerce":            wooCommerceGallery,
	"woo_commerce2":           wooCommerce2Gallery,
	"concept500":              concept500Gallery,
	"concept500_2":            concept500Gallery,
	"concept500_basmilitaria": concept500BasmilitariaGallery,
	"ea_militaria":            eaMilitariaGallery,
	"rg_militaria":            rgMilitariaGallery,
	"militaria_plaza":         militariaPlazaGallery,
	"circa1941":               mediaWrapperHookGallery,
	"frontkampfer45":          mediaWrapperHookGallery,
	"wars_end_shop":           warsEndShopGallery,
	"the_war_front":           theWarFrontGallery,
	"the_ruptured_duck":       theRupturedDuckGallery,
	"virtual_grenadier":       virtualGrenadierGallery,
	"tarnmilitaria":           tarnmilitariaGallery,
	"eagle_relics_gallery":    eagleRelicsGallery,
	"stewarts_militaria":      stewartsMilitariaGallery,
	"militaria_1944":          militaria1944Gallery,
	"ss_steel_inc":            ssSteelIncGallery,
	"bunker_militaria":        bunkerMilitariaGallery,
	"collectors_guild_images": collectorsGuildGallery,
	"axis_militaria":          axisMilitariaGallery,
}

// Get resolves a registered extractor by name. ok is false for an unknown
// name, distinguishing "no images found" from "no such extractor".
func Get(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// dedupAbsolute resolves every URL against base, strips thumbnail-size
// suffixes, and removes duplicates while preserving first-seen (visual
// gallery) order.
func dedupAbsolute(raw []string, base string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		abs := utils.ResolveURL(base, r)
		abs = utils.StripImageSizeSuffix(abs)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// wooCommerceGallery handles the common WooCommerce product-gallery markup:
// <div class="woocommerce-product-gallery__image" data-large_image="...">,
// falling back to the wrapped <a href> when the data attribute is absent.
func wooCommerceGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div.woocommerce-product-gallery__image").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("data-large_image"); ok && v != "" {
			urls = append(urls, v)
		}
	})
	if len(urls) == 0 {
		doc.Find("div.woocommerce-product-gallery__image a").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok && href != "" {
				urls = append(urls, href)
			}
		})
	}
	return dedupAbsolute(urls, baseURL)
}

// wooCommerce2Gallery handles the vertical imgzoom gallery variant:
// <div class="product item-image imgzoom" data-zoom="...">, falling back to
// the wrapped <a href>.
func wooCommerce2Gallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div.product.item-image.imgzoom").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("data-zoom"); ok && v != "" {
			urls = append(urls, v)
		}
	})
	if len(urls) == 0 {
		doc.Find("div.product.item-image.imgzoom a").Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok && href != "" {
				urls = append(urls, href)
			}
		})
	}
	return dedupAbsolute(urls, baseURL)
}

// eaMilitariaGallery reads only the data-zoom attribute of the imgzoom
// gallery; unlike wooCommerce2Gallery it has no <a href> fallback.
func eaMilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div.product.item-image.imgzoom").Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("data-zoom"); ok && v != "" {
			urls = append(urls, v)
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// concept500Gallery handles the Concept500-family storefront theme:
// <div class="content-part block-image"><a href="...">, with relative
// hrefs resolved against a <base href> or the page's canonical link rather
// than the requested URL.
func concept500Gallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div.content-part.block-image a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	if len(urls) == 0 {
		return nil
	}
	if !strings.HasPrefix(urls[0], "http") {
		inferred := baseURL
		if v, ok := doc.Find("base").Attr("href"); ok && v != "" {
			inferred = strings.TrimRight(v, "/")
		} else if v, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && v != "" {
			inferred = strings.TrimRight(v, "/")
		}
		for i, u := range urls {
			if !strings.HasPrefix(u, "http") {
				urls[i] = inferred + "/" + strings.TrimLeft(u, "/")
			}
		}
	}
	return dedupAbsolute(urls, baseURL)
}

// concept500BasmilitariaGallery handles BASMILITARIA's product carousel:
// <div class="carousel-inner"><img src="http...">.
func concept500BasmilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div.carousel-inner img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			src = strings.TrimSpace(src)
			if strings.HasPrefix(src, "http") {
				urls = append(urls, src)
			}
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// rgMilitariaGallery reads the gallery slide anchors' href attributes.
func rgMilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("a.image-gallery__slide-item").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// militariaPlazaGallery reads anchors carrying the vm-additional-images rel
// attribute used by Militaria Plaza's VirtueMart theme.
func militariaPlazaGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find(`a[rel="vm-additional-images"]`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// mediaWrapperHookGallery handles the shared Wix-style media wrapper markup
// used identically by Circa1941 and Frontkampfer45:
// [data-hook="main-media-image-wrapper"] div.media-wrapper-hook[href].
func mediaWrapperHookGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find(`[data-hook="main-media-image-wrapper"] div.media-wrapper-hook`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// warsEndShopGallery reads the photo-container gallery anchors, normalizing
// protocol-relative hrefs.
func warsEndShopGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("#product-photo-container a.gallery").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, normalizeProtocolRelative(href))
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// theWarFrontGallery reads the Wix media wrapper's href, normalizing
// protocol-relative URLs.
func theWarFrontGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find(`[data-hook="main-media-image-wrapper"] .media-wrapper-hook`).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, normalizeProtocolRelative(href))
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// theRupturedDuckGallery reads the Shopify thumbnail-item anchors,
// normalizing protocol-relative URLs.
func theRupturedDuckGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find(".product-single__thumbnail-item a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, normalizeProtocolRelative(href))
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// virtualGrenadierGallery combines the single album-main image with the
// album thumbnail anchors, resolving relative URLs against the site's fixed
// base (the original hardcodes it rather than inferring from the page).
func virtualGrenadierGallery(doc *goquery.Selection, baseURL string) []string {
	const fixedBase = "https://www.virtualgrenadier.com/"
	var urls []string
	if href, ok := doc.Find("a.album-main").First().Attr("href"); ok && href != "" {
		urls = append(urls, href)
	}
	doc.Find("a.album").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	if len(urls) > 0 && !strings.HasPrefix(urls[0], "http") {
		for i, u := range urls {
			urls[i] = fixedBase + strings.TrimLeft(u, "/")
		}
	}
	return dedupAbsolute(urls, fixedBase)
}

// tarnmilitariaGallery reads the gallery-thumb anchors, keeping only hrefs
// under /uploads/ and prefixing them with the site's bare domain.
func tarnmilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	const fixedBase = "https://tarnmilitaria.com"
	var urls []string
	doc.Find("div.gallery-thumb a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href != "" && strings.HasPrefix(href, "/uploads/") {
			urls = append(urls, fixedBase+href)
		}
	})
	return dedupAbsolute(urls, fixedBase)
}

// eagleRelicsGallery reads the product-slides gallery anchors.
func eagleRelicsGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div#product-slides div.item-slide a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	return dedupAbsolute(urls, baseURL)
}

// stewartsMilitariaGallery reads every img served from the site's own /img/
// path, excluding thumbnail, small, and placeholder-icon variants.
func stewartsMilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	const prefix = "https://stewartsmilitaryantiques.com/img/"
	var urls []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		src = strings.TrimSpace(src)
		if !strings.HasPrefix(src, prefix) {
			return
		}
		if strings.Contains(src, "thumb") || strings.Contains(src, "thumbnail") ||
			strings.Contains(src, "small") || strings.Contains(src, "icons/help.png") {
			return
		}
		urls = append(urls, src)
	})
	return dedupAbsolute(urls, baseURL)
}

// militaria1944Gallery reads the page's JSON-LD Product "image" field, which
// may be a single string, an array, or (uniquely to this site) an object
// keyed by numeric position.
func militaria1944Gallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &payload); err != nil {
			return true
		}
		switch img := payload["image"].(type) {
		case string:
			urls = append(urls, img)
			return false
		case []any:
			for _, v := range img {
				if sv, ok := v.(string); ok {
					urls = append(urls, sv)
				}
			}
			return false
		case map[string]any:
			type keyedURL struct {
				key int
				url string
			}
			var kept []keyedURL
			for k, v := range img {
				sv, ok := v.(string)
				if !ok {
					continue
				}
				n, err := strconv.Atoi(k)
				if err != nil {
					continue
				}
				kept = append(kept, keyedURL{key: n, url: sv})
			}
			sort.Slice(kept, func(a, b int) bool { return kept[a].key < kept[b].key })
			for _, k := range kept {
				urls = append(urls, k.url)
			}
			return false
		}
		return true
	})
	return dedupAbsolute(urls, baseURL)
}

var ssSteelThumbSuffix = regexp.MustCompile(`(?i)-\d+x\d+\.(jpg|jpeg|png|webp)$`)

// ssSteelIncGallery reads every uploads-served img, strips the query string
// and any thumbnail-dimension suffix immediately before the extension, and
// keeps only recognized image extensions.
func ssSteelIncGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		if !strings.Contains(src, "/uploads/") {
			return
		}
		base := src
		if idx := strings.Index(base, "?"); idx != -1 {
			base = base[:idx]
		}
		clean := ssSteelThumbSuffix.ReplaceAllString(base, ".$1")
		lower := strings.ToLower(clean)
		if strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") ||
			strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".webp") {
			urls = append(urls, clean)
		}
	})
	return dedupAbsolute(urls, baseURL)
}

var bunkerGraphicsRef = regexp.MustCompile(`"graphics\\/[^"]+\.jpg"`)
var bunkerResSuffix = regexp.MustCompile(`_\d+x\d+\.jpg$`)

// bunkerMilitariaGallery scrapes inline <script> blocks containing serialized
// image_data for escaped "graphics/....jpg" references, skipping known
// thumbnail resolutions and deduplicating by the image's base name.
func bunkerMilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	const fixedBase = "https://www.bunkermilitaria.com/Merchant2/"
	var urls []string
	seenBase := make(map[string]bool)
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if !strings.Contains(text, "image_data") {
			return
		}
		for _, m := range bunkerGraphicsRef.FindAllString(text, -1) {
			cleaned := strings.ReplaceAll(strings.Trim(m, `"`), `\/`, "/")
			if strings.Contains(cleaned, "_64x48") || strings.Contains(cleaned, "_48x64") {
				continue
			}
			baseKey := bunkerResSuffix.ReplaceAllString(cleaned, ".jpg")
			if seenBase[baseKey] {
				continue
			}
			seenBase[baseKey] = true
			urls = append(urls, utils.ResolveURL(fixedBase, cleaned))
		}
	})
	return dedupAbsolute(urls, fixedBase)
}

// collectorsGuildGallery reads every relative .jpg img src on the page and
// prefixes it with the fixed GermanMilitaria.com Heer photos base.
func collectorsGuildGallery(doc *goquery.Selection, baseURL string) []string {
	const fixedBase = "https://www.germanmilitaria.com/Heer/photos/"
	var urls []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}
		if strings.HasSuffix(strings.ToLower(src), ".jpg") && !strings.HasPrefix(src, "http") {
			urls = append(urls, fixedBase+src)
		}
	})
	return dedupAbsolute(urls, fixedBase)
}

// axisMilitariaGallery reads the WooCommerce product gallery's raw <img src>
// attributes directly (no data-large_image idiom here), filtering out
// placeholder images.
func axisMilitariaGallery(doc *goquery.Selection, baseURL string) []string {
	var urls []string
	doc.Find("div.woocommerce-product-gallery img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		if strings.Contains(strings.ToLower(src), "placeholder") {
			return
		}
		urls = append(urls, src)
	})
	return dedupAbsolute(urls, baseURL)
}

func normalizeProtocolRelative(href string) string {
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}
