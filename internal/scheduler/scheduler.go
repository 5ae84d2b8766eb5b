// Package scheduler drives the two cadence loops the crawler core runs
// forever: a cheap, frequent availability pass and a full, slower scrape
// pass, both iterating over the loaded site profiles.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/nickheyer/militaria-crawler/internal/availability"
	"github.com/nickheyer/militaria-crawler/internal/catalog"
	"github.com/nickheyer/militaria-crawler/internal/detail"
	"github.com/nickheyer/militaria-crawler/internal/differ"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/pipeline"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

// PassKind distinguishes the two recurring loops for status reporting.
type PassKind string

const (
	PassAvailability PassKind = "availability"
	PassScrape       PassKind = "scrape"
)

// PassStatus is the last-known state of one recurring pass, exposed to the
// admin surface.
type PassStatus struct {
	Kind      PassKind
	LastRun   time.Time
	LastError error
	Running   bool
}

// Scheduler owns the gocron cron instance and runs both cadence loops across
// a configured set of profiles, respecting the profile-level concurrency cap
// and per-source mutual exclusion.
type Scheduler struct {
	cron    *gocron.Scheduler
	walker  *pipeline.Walker
	tracker *availability.Tracker
	detail  *detail.Processor
	catalog *catalog.Gateway

	profiles       []*models.SiteProfile
	sensitiveSites map[string]bool
	maxConcurrent  int

	mu       sync.Mutex
	statuses map[string]*PassStatus
	running  map[string]bool // source_name currently mid-pass, for mutual exclusion
}

// New builds a Scheduler over the given profile set.
func New(walker *pipeline.Walker, tracker *availability.Tracker, proc *detail.Processor, cat *catalog.Gateway, profiles []*models.SiteProfile, sensitiveSites []string, maxConcurrent int) *Scheduler {
	sensitive := make(map[string]bool, len(sensitiveSites))
	for _, s := range sensitiveSites {
		sensitive[s] = true
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Scheduler{
		cron:           gocron.NewScheduler(time.UTC),
		walker:         walker,
		tracker:        tracker,
		detail:         proc,
		catalog:        cat,
		profiles:       profiles,
		sensitiveSites: sensitive,
		maxConcurrent:  maxConcurrent,
		statuses:       make(map[string]*PassStatus),
		running:        make(map[string]bool),
	}
}

// Start wires both cadence loops and launches the cron scheduler.
func (s *Scheduler) Start(ctx context.Context, availabilitySleep, scrapeSleep time.Duration) error {
	if availabilitySleep <= 0 {
		availabilitySleep = 900 * time.Second
	}
	if scrapeSleep <= 0 {
		scrapeSleep = 3600 * time.Second
	}

	if _, err := s.cron.Every(uint64(availabilitySleep.Seconds())).Seconds().Do(func() {
		s.RunAvailabilityPass(ctx, s.profiles)
	}); err != nil {
		return fmt.Errorf("schedule availability pass: %w", err)
	}

	if _, err := s.cron.Every(uint64(scrapeSleep.Seconds())).Seconds().Do(func() {
		s.RunScrapePass(ctx, s.profiles)
	}); err != nil {
		return fmt.Errorf("schedule scrape pass: %w", err)
	}

	s.cron.StartAsync()
	return nil
}

// Stop halts the cron scheduler, letting in-flight passes finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunAvailabilityPass runs the availability tracker over profiles, grouped
// by source name for mutual exclusion and bounded to maxConcurrent in flight.
func (s *Scheduler) RunAvailabilityPass(ctx context.Context, profiles []*models.SiteProfile) {
	s.forEachProfile(ctx, profiles, PassAvailability, func(ctx context.Context, p *models.SiteProfile) error {
		if p.IsSoldArchive {
			return nil // sold archives are routed to scrape-only
		}
		return s.tracker.Run(ctx, p)
	})
}

// RunScrapePass walks every profile's full listing, diffing each tile
// against the catalog snapshot and dispatching detail fetches only where the
// differ says something changed.
func (s *Scheduler) RunScrapePass(ctx context.Context, profiles []*models.SiteProfile) {
	s.forEachProfile(ctx, profiles, PassScrape, func(ctx context.Context, p *models.SiteProfile) error {
		return s.scrapeOne(ctx, p)
	})
}

func (s *Scheduler) scrapeOne(ctx context.Context, profile *models.SiteProfile) error {
	snapshot, err := s.catalog.LoadSnapshot(profile.SourceName)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", profile.SourceName, err)
	}

	sensitive := s.sensitiveSites[profile.SourceName]
	counters := models.NewCounters(profile.SourceName, profile.AccessConfig.StartPage)

	return s.walker.Walk(ctx, profile, counters, 1, func(tiles []models.Tile) error {
		for _, tile := range tiles {
			class, existing := differ.Classify(snapshot, profile.SourceName, tile)
			switch class {
			case models.DiffUnchanged:
				counters.UnchangedCount++
				continue
			case models.DiffAvailabilityOnly:
				counters.AvailabilityUpdateCount++
				if err := s.catalog.SetAvailability(profile.SourceName, tile.URL, tile.Available, time.Now()); err != nil {
					utils.GetLogger().Warn("availability-only update failed", map[string]any{"site": profile.SourceName, "url": tile.URL, "error": err.Error()})
				}
				continue
			case models.DiffNeedsDetail:
				if existing == nil {
					counters.NewCount++
				}
				if err := s.detail.Process(ctx, profile, tile, existing, sensitive); err != nil {
					utils.GetLogger().Warn("detail processing failed", map[string]any{"site": profile.SourceName, "url": tile.URL, "error": err.Error()})
				}
			}
		}
		return nil
	})
}

// forEachProfile runs fn over profiles with per-source mutual exclusion and
// a bound of s.maxConcurrent in flight at once.
func (s *Scheduler) forEachProfile(ctx context.Context, profiles []*models.SiteProfile, kind PassKind, fn func(context.Context, *models.SiteProfile) error) {
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	for _, p := range profiles {
		if !p.IsWorking {
			continue
		}
		p := p

		s.mu.Lock()
		key := kind.key(p.SourceName)
		if s.running[key] {
			s.mu.Unlock()
			continue
		}
		s.running[key] = true
		s.mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				s.mu.Lock()
				delete(s.running, key)
				s.mu.Unlock()
			}()

			status := &PassStatus{Kind: kind, Running: true}
			s.setStatus(key, status)

			err := fn(ctx, p)

			status = &PassStatus{Kind: kind, LastRun: time.Now(), LastError: err}
			s.setStatus(key, status)

			if err != nil {
				utils.GetLogger().Warn(string(kind)+" pass failed", map[string]any{"site": p.SourceName, "error": err.Error()})
			}
		}()
	}
	wg.Wait()
}

func (k PassKind) key(source string) string { return string(k) + ":" + source }

func (s *Scheduler) setStatus(key string, status *PassStatus) {
	s.mu.Lock()
	s.statuses[key] = status
	s.mu.Unlock()
}

// Statuses returns a snapshot of every pass's last-known state.
func (s *Scheduler) Statuses() map[string]*PassStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*PassStatus, len(s.statuses))
	for k, v := range s.statuses {
		cp := *v
		out[k] = &cp
	}
	return out
}

// ParseSiteSelection parses the CLI's `1,3-5,7` range syntax into the
// 1-based profile indices it names.
func ParseSiteSelection(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			for i := lo; i <= hi; i++ {
				out = append(out, i)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid index %q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// SelectProfiles resolves 1-based indices from ParseSiteSelection against
// the loaded profile slice, in the order profiles were loaded.
func SelectProfiles(all []*models.SiteProfile, indices []int) ([]*models.SiteProfile, error) {
	if len(indices) == 0 {
		return all, nil
	}
	out := make([]*models.SiteProfile, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(all) {
			return nil, fmt.Errorf("site index %d out of range (1-%d)", idx, len(all))
		}
		out = append(out, all[idx-1])
	}
	return out, nil
}

// RunDataIntegrity runs a scrape pass synchronously over profiles and
// returns each site's error (nil on success), short-circuiting the cron
// loops entirely — the CLI's `-mode=integrity` one-shot invocation.
func (s *Scheduler) RunDataIntegrity(ctx context.Context, profiles []*models.SiteProfile) map[string]error {
	results := make(map[string]error, len(profiles))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConcurrent)

	for _, p := range profiles {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := s.scrapeOne(ctx, p)
			mu.Lock()
			results[p.SourceName] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
