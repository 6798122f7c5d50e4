package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Recipient is one row of the source-of-truth spreadsheet as captured by the
// recipient-loader. Row is the 1-based spreadsheet row.
type Recipient struct {
	Row      int    `json:"row"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsShared bool   `json:"isShared"`
	LastLog  string `json:"lastLog"`
}

// Key is the de-duplication identity used by the processed-keys set.
func (r Recipient) Key() string {
	return r.Name + "|" + r.Email
}

// ParticipantCache is the loader's JSON artifact plus write-through updates
// applied by the engine as grants succeed.
type ParticipantCache struct {
	Timestamp         time.Time   `json:"timestamp"`
	TotalParticipants int         `json:"totalParticipants"`
	Participants      []Recipient `json:"participants"`

	path string
}

// LoadParticipants reads the recipient-cache artifact.
func LoadParticipants(path string) (*ParticipantCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read participant cache %s: %w", path, err)
	}

	var pc ParticipantCache
	if err := json.Unmarshal(data, &pc); err != nil {
		return nil, fmt.Errorf("failed to parse participant cache %s: %w", path, err)
	}
	pc.path = path
	return &pc, nil
}

// MarkShared flips the terminal flag for the recipient at the given row and
// records the log annotation. Returns false when the row is unknown.
func (p *ParticipantCache) MarkShared(row int, lastLog string) bool {
	for i := range p.Participants {
		if p.Participants[i].Row == row {
			p.Participants[i].IsShared = true
			p.Participants[i].LastLog = lastLog
			return true
		}
	}
	return false
}

// SharedCount returns how many participants carry the terminal flag.
func (p *ParticipantCache) SharedCount() int {
	n := 0
	for _, r := range p.Participants {
		if r.IsShared {
			n++
		}
	}
	return n
}

// Save rewrites the artifact in place with a refreshed timestamp.
func (p *ParticipantCache) Save() error {
	p.Timestamp = time.Now()
	p.TotalParticipants = len(p.Participants)

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode participant cache: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write participant cache %s: %w", p.path, err)
	}
	return nil
}
