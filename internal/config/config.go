// Package config loads and saves the crawler's typed process configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config holds every filesystem, pool-sizing, and cadence knob the crawler
// needs at startup. It is loaded once from a JSON file and shared read-only
// thereafter; nothing in the core mutates it after LoadConfig returns.
type Config struct {
	Port               int           `json:"port"`
	StoragePath        string        `json:"storagePath"`
	ThumbnailsPath     string        `json:"thumbnailsPath"`
	DataPath           string        `json:"dataPath"`
	LogsPath           string        `json:"logsPath"`
	ProfilesPath       string        `json:"profilesPath"`
	CatalogDSN         string        `json:"catalogDsn"`
	S3CredentialsPath  string        `json:"s3CredentialsPath"`
	S3Bucket           string        `json:"s3Bucket"`
	S3Region           string        `json:"s3Region"`
	BadImageListPath   string        `json:"badImageListPath"`
	MaxConcurrentSites int           `json:"maxConcurrentSites"`
	MaxImageWorkers    int           `json:"maxImageWorkers"`
	SensitiveSites     []string      `json:"sensitiveSites"`
	AvailabilitySleep  time.Duration `json:"availabilitySleep"`
	ScrapeSleep        time.Duration `json:"scrapeSleep"`
	DefaultTimeout     time.Duration `json:"defaultTimeout"`
	MinDBConns         int           `json:"minDbConns"`
	MaxDBConns         int           `json:"maxDbConns"`
	StoreErrorDetails  bool          `json:"storeErrorDetails"`
	DevMode            bool          `json:"devMode"`
	DisableItemType    bool          `json:"-"`
	DisableConflict    bool          `json:"-"`
	DisableNation      bool          `json:"-"`
}

// LoadConfig reads and validates a Config from a JSON file, sanitizing
// filesystem paths and folding in the ML_DISABLE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := json.Unmarshal(file, &raw); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	cfg.StoragePath = sanitizePath(cfg.StoragePath)
	cfg.ThumbnailsPath = sanitizePath(cfg.ThumbnailsPath)
	cfg.DataPath = sanitizePath(cfg.DataPath)
	cfg.LogsPath = sanitizePath(cfg.LogsPath)
	cfg.ProfilesPath = sanitizePath(cfg.ProfilesPath)

	if cfg.MaxConcurrentSites <= 0 {
		cfg.MaxConcurrentSites = 10
	}
	if cfg.MaxImageWorkers <= 0 {
		cfg.MaxImageWorkers = 4
	}
	if cfg.MinDBConns <= 0 {
		cfg.MinDBConns = 5
	}
	if cfg.MaxDBConns <= 0 {
		cfg.MaxDBConns = 10
	}
	if cfg.AvailabilitySleep <= 0 {
		cfg.AvailabilitySleep = 900 * time.Second
	}
	if cfg.ScrapeSleep <= 0 {
		cfg.ScrapeSleep = 3600 * time.Second
	}

	cfg.DisableItemType = isTruthyEnv("ML_DISABLE_ITEM_TYPE")
	cfg.DisableConflict = isTruthyEnv("ML_DISABLE_CONFLICT")
	cfg.DisableNation = isTruthyEnv("ML_DISABLE_NATION")

	return &cfg, nil
}

// SaveConfig writes cfg back to path as indented JSON.
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetDefaultConfig returns sane defaults for a fresh deployment.
func GetDefaultConfig() *Config {
	return &Config{
		Port:               8080,
		StoragePath:        "./storage",
		ThumbnailsPath:     "./thumbnails",
		DataPath:           "./data",
		LogsPath:           "./logs",
		ProfilesPath:       "./profiles",
		CatalogDSN:         "./data/catalog.db",
		S3CredentialsPath:  "./s3-credentials.json",
		BadImageListPath:   "./data/bad_images.json",
		MaxConcurrentSites: 10,
		MaxImageWorkers:    4,
		AvailabilitySleep:  900 * time.Second,
		ScrapeSleep:        3600 * time.Second,
		DefaultTimeout:     30 * time.Second,
		MinDBConns:         5,
		MaxDBConns:         10,
	}
}

func sanitizePath(path string) string {
	if path == "" {
		return "."
	}
	return filepath.Clean(path)
}

func isTruthyEnv(name string) bool {
	v := os.Getenv(name)
	switch v {
	case "1", "true", "yes", "on", "TRUE", "YES", "ON":
		return true
	default:
		return false
	}
}
