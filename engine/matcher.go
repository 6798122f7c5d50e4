package engine

import (
	"strings"

	"github.com/StorX2-0/Share-Tools/cache"
)

// Matcher resolves a human-entered recipient name to a folder ID over the
// preloaded folder map. Names in the spreadsheet drift from folder names by
// punctuation, honorifics and spacing, so resolution runs three ordered
// stages, first hit wins:
//
//  1. exact lookup of the normalized name
//  2. lookup with internal whitespace runs collapsed to single spaces
//  3. bidirectional substring scan over the map entries
//
// Stage 3 iterates in Go map order, so when several entries satisfy the
// substring predicate the winner is not deterministic across processes.
type Matcher struct {
	folders cache.FolderMap
}

func NewMatcher(folders cache.FolderMap) *Matcher {
	return &Matcher{folders: folders}
}

// FindFolderID returns the folder ID for name, or "" and false when no
// stage matches.
func (m *Matcher) FindFolderID(name string) (string, bool) {
	normalized := cache.NormalizeFolderName(name)
	if normalized == "" {
		return "", false
	}

	if id, ok := m.folders[normalized]; ok {
		return id, true
	}

	collapsed := collapseWhitespace(normalized)
	if id, ok := m.folders[collapsed]; ok {
		return id, true
	}

	for key, id := range m.folders {
		if strings.Contains(key, collapsed) || strings.Contains(collapsed, key) {
			return id, true
		}
	}

	return "", false
}

// collapseWhitespace reduces internal whitespace runs to a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
