// Package availability implements the bulk availability reconciliation pass:
// a cheaper, tile-only walk that keeps stock status fresh between full
// scrape passes, gated by hard abort conditions so a broken selector or a
// dead site never wipes out a catalog.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/nickheyer/militaria-crawler/internal/catalog"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/pipeline"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

const (
	minPagesHardAbort = 5
	minPagesWarn      = 10
	minSuccessRate    = 0.10
	targetMatchRun    = 3
	staleUnseenWindow = 7 * 24 * time.Hour
)

// AbortedError signals a safety gate tripped; the pass made no destructive
// writes and the caller should simply log and move on.
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string { return "availability pass aborted: " + e.Reason }

// Tracker runs bulk availability passes for one profile at a time.
type Tracker struct {
	Walker  *pipeline.Walker
	Catalog *catalog.Gateway
	Logger  *utils.Logger
}

// New builds a Tracker.
func New(walker *pipeline.Walker, cat *catalog.Gateway) *Tracker {
	return &Tracker{Walker: walker, Catalog: cat, Logger: utils.GetLogger()}
}

// Run executes one availability pass over profile, routing to tile-mode or
// last-seen-mode per profile.BulkAvailabilityMode. Sold-archive profiles are
// never absence-marked: their listings only ever shrink by genuine removal,
// so a detail-only scrape pass is a better fit and this tracker refuses them.
func (t *Tracker) Run(ctx context.Context, profile *models.SiteProfile) error {
	if profile.IsSoldArchive {
		return fmt.Errorf("availability tracker: %s is a sold archive, route to scrape pass instead", profile.SourceName)
	}

	switch profile.BulkAvailabilityMode {
	case models.AvailabilityModeLastSeen:
		return t.runLastSeen(ctx, profile)
	default:
		return t.runTileMode(ctx, profile)
	}
}

func (t *Tracker) runTileMode(ctx context.Context, profile *models.SiteProfile) error {
	counters := models.NewCounters(profile.SourceName, profile.AccessConfig.StartPage)
	seenURLs := make(map[string]bool)

	var markedSoldDuringWalk int
	err := t.Walker.Walk(ctx, profile, counters, targetMatchRun, func(tiles []models.Tile) error {
		for _, tile := range tiles {
			seenURLs[tile.URL] = true
			// A tile explicitly signaling sold is applied immediately; this is a
			// confirmed signal from the site itself, not an absence inference,
			// so it is never subject to the safety gates below.
			if !tile.Available {
				if err := t.Catalog.SetAvailability(profile.SourceName, tile.URL, false, time.Now()); err != nil {
					t.Logger.Warn("mark tile-sold failed", map[string]any{"site": profile.SourceName, "url": tile.URL, "error": err.Error()})
					continue
				}
				markedSoldDuringWalk++
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("availability walk %s: %w", profile.SourceName, err)
	}

	if counters.PagesWalked < minPagesHardAbort {
		return &AbortedError{Reason: fmt.Sprintf("%s: only %d pages walked (< %d)", profile.SourceName, counters.PagesWalked, minPagesHardAbort)}
	}
	if counters.TotalSeen == 0 {
		return &AbortedError{Reason: fmt.Sprintf("%s: zero tiles seen", profile.SourceName)}
	}

	_, _, total, err := t.Catalog.CountsForSite(profile.SourceName)
	if err != nil {
		return fmt.Errorf("counts for %s: %w", profile.SourceName, err)
	}
	if total > 0 {
		rate := float64(counters.TotalSeen) / float64(total)
		if rate < minSuccessRate {
			return &AbortedError{Reason: fmt.Sprintf("%s: scrape success rate %.2f below %.2f", profile.SourceName, rate, minSuccessRate)}
		}
	}

	if counters.PagesWalked < minPagesWarn {
		t.Logger.Warn("availability pass walked fewer pages than expected", map[string]any{
			"site": profile.SourceName, "pages_walked": counters.PagesWalked,
		})
	}

	marked, err := t.Catalog.SweepAbsent(profile.SourceName, seenURLs, time.Now())
	if err != nil {
		return fmt.Errorf("sweep absent for %s: %w", profile.SourceName, err)
	}
	t.Logger.Info("availability sweep complete", map[string]any{
		"site": profile.SourceName, "seen": len(seenURLs),
		"marked_sold_during_walk": markedSoldDuringWalk, "marked_unavailable_by_absence": marked,
	})
	return nil
}

func (t *Tracker) runLastSeen(ctx context.Context, profile *models.SiteProfile) error {
	counters := models.NewCounters(profile.SourceName, profile.AccessConfig.StartPage)
	now := time.Now()

	err := t.Walker.Walk(ctx, profile, counters, targetMatchRun, func(tiles []models.Tile) error {
		for _, tile := range tiles {
			if err := t.Catalog.TouchLastSeen(profile.SourceName, tile.URL, now); err != nil {
				t.Logger.Warn("touch last seen failed", map[string]any{"site": profile.SourceName, "url": tile.URL, "error": err.Error()})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("availability walk %s: %w", profile.SourceName, err)
	}

	if counters.PagesWalked < minPagesHardAbort || counters.TotalSeen == 0 {
		return &AbortedError{Reason: fmt.Sprintf("%s: insufficient coverage (pages=%d seen=%d)", profile.SourceName, counters.PagesWalked, counters.TotalSeen)}
	}

	marked, err := t.Catalog.MarkStaleUnseen(profile.SourceName, now.Add(-staleUnseenWindow))
	if err != nil {
		return fmt.Errorf("mark stale unseen for %s: %w", profile.SourceName, err)
	}
	t.Logger.Info("last-seen sweep complete", map[string]any{
		"site": profile.SourceName, "marked_unavailable": marked,
	})
	return nil
}
