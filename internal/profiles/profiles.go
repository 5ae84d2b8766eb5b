// Package profiles loads SiteProfile configurations from a directory of
// JSON files, one profile per file.
package profiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nickheyer/militaria-crawler/internal/models"
)

// LoadDir reads every *.json file directly under dir and decodes it as a
// SiteProfile, returning them sorted by filename for deterministic CLI
// site-index selection.
func LoadDir(dir string) ([]*models.SiteProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	profiles := make([]*models.SiteProfile, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", name, err)
		}
		var p models.SiteProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", name, err)
		}
		if p.SourceName == "" {
			return nil, fmt.Errorf("profile %s missing source_name", name)
		}
		profiles = append(profiles, &p)
	}
	return profiles, nil
}
