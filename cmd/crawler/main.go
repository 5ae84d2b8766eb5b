package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/nickheyer/militaria-crawler/internal/api"
	"github.com/nickheyer/militaria-crawler/internal/assets"
	"github.com/nickheyer/militaria-crawler/internal/availability"
	"github.com/nickheyer/militaria-crawler/internal/catalog"
	"github.com/nickheyer/militaria-crawler/internal/config"
	"github.com/nickheyer/militaria-crawler/internal/detail"
	"github.com/nickheyer/militaria-crawler/internal/httpfetch"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/objectstore"
	"github.com/nickheyer/militaria-crawler/internal/pipeline"
	"github.com/nickheyer/militaria-crawler/internal/profiles"
	"github.com/nickheyer/militaria-crawler/internal/scheduler"
	"github.com/nickheyer/militaria-crawler/internal/selector"
	"github.com/nickheyer/militaria-crawler/internal/utils"
)

const VERSION = "v0.1.0"

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	siteSpec := flag.String("sites", "", "Comma/range site index selection (e.g. 1,3-5,7); empty runs all")
	mode := flag.String("mode", "serve", "serve | integrity")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("WARNING: failed to load config file: %v, using default settings", err)
		cfg = config.GetDefaultConfig()
	}
	if *port != 0 {
		cfg.Port = *port
	}

	createDirs(cfg)
	utils.SetDefaultLogDir(cfg.LogsPath)
	logger := utils.GetLogger()
	defer logger.Close()

	cat, err := catalog.Open(cfg.CatalogDSN, cfg.MinDBConns, cfg.MaxDBConns)
	if err != nil {
		log.Fatalf("failed to open catalog: %v", err)
	}
	defer cat.Close()

	allProfiles, err := profiles.LoadDir(cfg.ProfilesPath)
	if err != nil {
		log.Fatalf("failed to load site profiles: %v", err)
	}
	selected, err := resolveSites(allProfiles, *siteSpec)
	if err != nil {
		log.Fatalf("invalid -sites selection: %v", err)
	}
	log.Printf("loaded %d site profiles, %d selected", len(allProfiles), len(selected))

	httpClient := httpfetch.New()
	selEngine := selector.New()
	walker := pipeline.New(httpClient, selEngine)
	tracker := availability.New(walker, cat)

	var imageSubsystem *assets.Subsystem
	if cfg.S3CredentialsPath != "" {
		if creds, err := objectstore.LoadCredentials(cfg.S3CredentialsPath); err != nil {
			logger.Warn("s3 credentials unavailable, running without image subsystem", map[string]any{"error": err.Error()})
		} else {
			store, err := objectstore.New(context.Background(), creds)
			if err != nil {
				logger.Warn("failed to build object store, running without image subsystem", map[string]any{"error": err.Error()})
			} else {
				imageSubsystem = assets.New(store, cfg.MaxImageWorkers, cfg.BadImageListPath)
			}
		}
	}

	proc := &detail.Processor{
		HTTP: httpClient, Selector: selEngine, Catalog: cat,
		DisableItemType: cfg.DisableItemType, DisableConflict: cfg.DisableConflict, DisableNation: cfg.DisableNation,
	}
	if imageSubsystem != nil {
		proc.Images = imageSubsystem
	}

	sched := scheduler.New(walker, tracker, proc, cat, selected, cfg.SensitiveSites, cfg.MaxConcurrentSites)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mode == "integrity" {
		results := sched.RunDataIntegrity(ctx, selected)
		for site, rerr := range results {
			if rerr != nil {
				log.Printf("integrity pass FAILED for %s: %v", site, rerr)
			} else {
				log.Printf("integrity pass OK for %s", site)
			}
		}
		return
	}

	if err := sched.Start(ctx, cfg.AvailabilitySleep, cfg.ScrapeSleep); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	server := api.New(sched, cat, allProfiles)
	router := server.Router()

	listenPort := cfg.Port
	if listenPort == 0 {
		listenPort = 8080
	}
	addr := ":" + strconv.Itoa(listenPort)
	srv := &http.Server{
		Handler:      router,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("militaria-crawler %s admin surface on http://localhost%s", VERSION, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("exited properly")
}

func resolveSites(all []*models.SiteProfile, spec string) ([]*models.SiteProfile, error) {
	indices, err := scheduler.ParseSiteSelection(spec)
	if err != nil {
		return nil, err
	}
	return scheduler.SelectProfiles(all, indices)
}

func createDirs(cfg *config.Config) {
	for _, dir := range []string{cfg.StoragePath, cfg.ThumbnailsPath, cfg.DataPath, cfg.LogsPath, cfg.ProfilesPath} {
		if dir == "" {
			continue
		}
		if !utils.FileExists(dir) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Printf("WARNING: failed to create directory %s: %v", dir, err)
			}
		}
		if abs, err := filepath.Abs(dir); err == nil {
			log.Printf("using directory: %s", abs)
		}
	}
}

