// Package httpfetch provides the shared, pooled HTTP client the crawler uses
// to retrieve listing and product-detail pages, adapted from the scraper's
// browser-mimicking fetch helper.
package httpfetch

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/publicsuffix"

	"github.com/nickheyer/militaria-crawler/internal/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Client wraps a pooled http.Client sized for the crawler's concurrency
// model (100 connections, shared across every site).
type Client struct {
	http *http.Client
}

// New builds the shared client: relaxed TLS (some militaria storefronts run
// expired/self-signed certs), a cookie jar for session-stateful sites, and a
// capped connection pool.
func New() *Client {
	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // matches sites with broken cert chains
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
	}

	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &Client{http: &http.Client{
		Transport: transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			for key, val := range via[0].Header {
				if _, ok := req.Header[key]; !ok {
					req.Header[key] = val
				}
			}
			return nil
		},
	}}
}

// FetchHTML retrieves url's body as a string with a 3-attempt exponential
// backoff, gzip-aware decoding, and a 10MB response cap.
func (c *Client) FetchHTML(ctx context.Context, url, userAgent string) (string, error) {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req, userAgent)

	var resp *http.Response
	var lastErr error
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err = c.http.Do(req)
		if err == nil && resp.StatusCode < 500 {
			break
		}
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(2<<attempt) * time.Second):
		}
		utils.GetLogger().Warn("retrying http fetch", map[string]any{"url": url, "attempt": attempt + 1, "error": lastErr.Error()})
	}

	if resp == nil {
		return "", fmt.Errorf("http fetch failed after %d attempts: %w", maxRetries, lastErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("server returned status code %d", resp.StatusCode)
	}

	var reader io.ReadCloser
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return "", fmt.Errorf("gzip reader: %w", gzErr)
		}
		defer gz.Close()
		reader = gz
	} else {
		reader = resp.Body
	}

	body, err := io.ReadAll(io.LimitReader(reader, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(body), nil
}

func setBrowserHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Cache-Control", "max-age=0")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
}

// RobotsChecker caches one site's parsed robots.txt and answers whether a
// given path is crawlable; robots.txt is fetched once per walk rather than
// once per page.
type RobotsChecker struct {
	group *robotstxt.Group
}

// LoadRobots fetches and parses baseURL's robots.txt for userAgent's group.
// A fetch or parse failure is treated as "no restrictions" — most militaria
// storefronts carry no robots.txt at all, and a broken one shouldn't halt
// the crawler.
func (c *Client) LoadRobots(ctx context.Context, baseURL, userAgent string) *RobotsChecker {
	u, err := url.Parse(baseURL)
	if err != nil {
		return &RobotsChecker{}
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &RobotsChecker{}
	}
	setBrowserHeaders(req, userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &RobotsChecker{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &RobotsChecker{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return &RobotsChecker{}
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return &RobotsChecker{}
	}
	return &RobotsChecker{group: data.FindGroup(userAgent)}
}

// Allowed reports whether path may be fetched; an absolute URL is checked by
// its path and query. A checker with no loaded group (fetch failed, or none
// was ever loaded) allows everything.
func (r *RobotsChecker) Allowed(path string) bool {
	if r == nil || r.group == nil {
		return true
	}
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		path = u.RequestURI()
	}
	return r.group.Test(path)
}

// TestAccessibility probes a site with no redirect-following for common
// bot-protection fingerprints, used before a fresh profile's first pass.
func (c *Client) TestAccessibility(ctx context.Context, url string) error {
	probe := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setBrowserHeaders(req, defaultUserAgent)

	resp, err := probe.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("site returned error status: %d", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	lower := strings.ToLower(string(bodyBytes))
	if strings.Contains(lower, "captcha") ||
		(strings.Contains(lower, "cloudflare") && strings.Contains(lower, "security")) ||
		strings.Contains(lower, "ddos") ||
		strings.Contains(lower, "checking your browser") {
		return fmt.Errorf("site appears to have bot protection active")
	}
	return nil
}
