package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FolderMap maps a normalized folder display name (lower-cased, trimmed) to
// its Drive folder ID. Produced by the drive-walker, read-only afterwards.
type FolderMap map[string]string

// NormalizeFolderName is the canonical key form for folder lookups.
func NormalizeFolderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LoadFolderMap reads the walker's {display name: folder id} artifact and
// normalizes the keys. Duplicate names that normalize to the same key keep
// the last entry seen.
func LoadFolderMap(path string) (FolderMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read folder map %s: %w", path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse folder map %s: %w", path, err)
	}

	m := make(FolderMap, len(raw))
	for name, id := range raw {
		m[NormalizeFolderName(name)] = id
	}
	return m, nil
}
