// Package api is the admin HTTP surface: profile inspection, pass status,
// manual pass triggers, and a health endpoint backed by gopsutil process
// stats. It carries no UI — this core is headless by design.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/nickheyer/militaria-crawler/internal/catalog"
	"github.com/nickheyer/militaria-crawler/internal/models"
	"github.com/nickheyer/militaria-crawler/internal/scheduler"
)

// Server holds the dependencies the admin routes need.
type Server struct {
	Scheduler *scheduler.Scheduler
	Catalog   *catalog.Gateway
	Profiles  []*models.SiteProfile
	startedAt time.Time
}

// New builds a Server and records process start time for uptime reporting.
func New(sched *scheduler.Scheduler, cat *catalog.Gateway, profiles []*models.SiteProfile) *Server {
	return &Server{Scheduler: sched, Catalog: cat, Profiles: profiles, startedAt: time.Now()}
}

// Router builds the gin engine exposing the admin surface.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/profiles", s.listProfiles)
		api.GET("/passes", s.listPasses)
		api.POST("/passes/:source/run", s.runPass)
		api.GET("/products/:site", s.listProducts)
	}
	r.GET("/healthz", s.health)

	return r
}

func (s *Server) listProfiles(c *gin.Context) {
	type profileSummary struct {
		SourceName    string `json:"source_name"`
		IsWorking     bool   `json:"is_working"`
		IsSoldArchive bool   `json:"is_sold_archive"`
		Mode          string `json:"bulk_availability_mode"`
		BaseURL       string `json:"base_url"`
	}
	out := make([]profileSummary, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		out = append(out, profileSummary{
			SourceName: p.SourceName, IsWorking: p.IsWorking, IsSoldArchive: p.IsSoldArchive,
			Mode: string(p.BulkAvailabilityMode), BaseURL: p.AccessConfig.BaseURL,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listPasses(c *gin.Context) {
	statuses := s.Scheduler.Statuses()
	out := make(map[string]any, len(statuses))
	for k, v := range statuses {
		errMsg := ""
		if v.LastError != nil {
			errMsg = v.LastError.Error()
		}
		out[k] = gin.H{
			"kind": v.Kind, "last_run": v.LastRun, "running": v.Running, "error": errMsg,
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) runPass(c *gin.Context) {
	source := c.Param("source")
	var target *models.SiteProfile
	for _, p := range s.Profiles {
		if p.SourceName == source {
			target = p
			break
		}
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
		return
	}

	kind := c.DefaultQuery("kind", "availability")
	ctx := context.Background()

	switch kind {
	case "scrape":
		go s.Scheduler.RunScrapePass(ctx, []*models.SiteProfile{target})
	default:
		go s.Scheduler.RunAvailabilityPass(ctx, []*models.SiteProfile{target})
	}

	c.JSON(http.StatusAccepted, gin.H{"source": source, "kind": kind, "status": "started"})
}

func (s *Server) listProducts(c *gin.Context) {
	site := c.Param("site")
	available, sold, total, err := s.Catalog.CountsForSite(site)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"site": site, "available": available, "sold": sold, "total": total})
}

func (s *Server) health(c *gin.Context) {
	pid := int32(0)
	cpuPercent := float64(0)
	memRSS := uint64(0)
	if proc, err := process.NewProcess(getPidSafe(&pid)); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			cpuPercent = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			memRSS = info.RSS
		}
	}

	vm, _ := mem.VirtualMemory()
	cpuCounts, _ := cpu.Counts(true)

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"process_cpu_pct": cpuPercent,
		"process_rss":     memRSS,
		"system_mem_used": vmUsedOrZero(vm),
		"cpu_count":       cpuCounts,
	})
}

func getPidSafe(pid *int32) int32 {
	if *pid == 0 {
		*pid = int32(os.Getpid())
	}
	return *pid
}

func vmUsedOrZero(vm *mem.VirtualMemoryStat) uint64 {
	if vm == nil {
		return 0
	}
	return vm.Used
}
