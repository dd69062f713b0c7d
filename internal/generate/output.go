package generate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"variant-engine/internal/shared/model"
)

// ManifestName is the filename of the run manifest within an output directory.
const ManifestName = "manifest.json"

// manifestEntry is one row of the manifest file.
type manifestEntry struct {
	ID         string         `json:"id"`
	Index      int            `json:"index"`
	Assignment map[string]any `json:"assignment"`
}

// WriteOutputs writes one JSON file per variant plus a manifest enumerating
// all variant identifiers and their assignments, under dir.
func WriteOutputs(dir string, variants []model.Variant) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir %s: %w", dir, err)
	}

	manifest := make([]manifestEntry, 0, len(variants))
	for _, v := range variants {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal variant %s: %w", v.ID, err)
		}
		path := filepath.Join(dir, v.ID+".json")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write variant file %s: %w", path, err)
		}
		manifest = append(manifest, manifestEntry{
			ID:         v.ID,
			Index:      v.Index,
			Assignment: v.Assignment,
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}
