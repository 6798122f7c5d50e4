package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/StorX2-0/Share-Tools/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scripted RemoteClient shared by all workers.
type fakeClient struct {
	mu sync.Mutex

	grantErrs  map[string]error // keyed by recipient email
	granted    []string
	blockGrant bool

	sheets    []SheetInfo
	sheetsErr error

	written      []CellUpdate
	writtenSheet string
	writeFails   int
	writeCalls   int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		grantErrs: map[string]error{},
		sheets:    []SheetInfo{{Title: "Participants", SheetID: 0}},
	}
}

func (f *fakeClient) GrantRead(ctx context.Context, folderID, email string) (string, error) {
	if f.blockGrant {
		<-ctx.Done()
		return "", ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.grantErrs[email]; err != nil {
		return "", err
	}
	f.granted = append(f.granted, email)
	return "perm-" + email, nil
}

func (f *fakeClient) ListSheets(ctx context.Context, spreadsheetID string) ([]SheetInfo, error) {
	if f.sheetsErr != nil {
		return nil, f.sheetsErr
	}
	return f.sheets, nil
}

func (f *fakeClient) BatchWriteCells(ctx context.Context, spreadsheetID, sheetTitle string, updates []CellUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeCalls++
	if f.writeCalls <= f.writeFails {
		return errors.New("backend unavailable")
	}
	f.writtenSheet = sheetTitle
	f.written = append(f.written, updates...)
	return nil
}

func (f *fakeClient) grantedEmails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.granted...)
}

type codedError struct {
	code string
}

func (e *codedError) Error() string     { return "grant rejected" }
func (e *codedError) ErrorCode() string { return e.code }

func writeJSONFile(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// newTestConfig lays the input artifacts out in a temp dir and returns a
// config pointing at them.
func newTestConfig(t *testing.T, folders map[string]string, participants []cache.Recipient) *Config {
	t.Helper()
	dir := t.TempDir()

	writeJSONFile(t, filepath.Join(dir, "folder-map.json"), folders)
	writeJSONFile(t, filepath.Join(dir, "participants-cache.json"), cache.ParticipantCache{
		Timestamp:         time.Now(),
		TotalParticipants: len(participants),
		Participants:      participants,
	})

	return &Config{
		SpreadsheetID:    "doc-123",
		SheetTitle:       "participants", // resolved case-insensitively
		WorkerCount:      2,
		HistoryBatchSize: 2,
		RateLimitDelay:   0,
		InitTimeout:      2 * time.Second,
		FolderMapFile:    filepath.Join(dir, "folder-map.json"),
		ParticipantsFile: filepath.Join(dir, "participants-cache.json"),
		HistoryFile:      filepath.Join(dir, "share-history.json"),
		ResultsFile:      filepath.Join(dir, "share-results.json"),
	}
}

func staticFactory(client RemoteClient) ClientFactory {
	return func(ctx context.Context, workerID int) (RemoteClient, error) {
		return client, nil
	}
}

func TestRunHappyPath(t *testing.T) {
	fake := newFakeClient()
	cfg := newTestConfig(t,
		map[string]string{
			"Alice Smith":   "folder-alice",
			"Bob Jones":     "folder-bob",
			"Charlie Brown": "folder-charlie",
		},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith"},
			{Row: 3, Email: "bob@example.com", Name: "Bob Jones"},
			{Row: 4, Email: "charlie@example.com", Name: "Charlie Brown"},
		})

	eng := New(cfg, staticFactory(fake), &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	c := eng.Counters()
	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 3, c.Processed)
	assert.Equal(t, 3, c.Successful)
	assert.Equal(t, 0, c.Failed)
	assert.Equal(t, 0, c.Errors)

	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com", "charlie@example.com"}, fake.grantedEmails())

	// Status and log cell per recipient, against the canonical sheet title
	assert.Equal(t, "Participants", fake.writtenSheet)
	assert.Len(t, fake.written, 6)
	ranges := map[string]string{}
	for _, u := range fake.written {
		ranges[u.Range] = u.Value
	}
	assert.Equal(t, "TRUE", ranges["I2"])
	assert.Equal(t, "TRUE", ranges["I3"])
	assert.Equal(t, "TRUE", ranges["I4"])
	assert.NotEmpty(t, ranges["J2"])

	// Clean completion removes history and writes the results artifact
	assert.NoFileExists(t, cfg.HistoryFile)
	var results ResultsFile
	data, err := os.ReadFile(cfg.ResultsFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &results))
	assert.Len(t, results.SuccessfulSummary, 3)
	assert.Empty(t, results.FailedResults)
	assert.Equal(t, 3, results.Statistics.TotalProcessed)

	// Write-through: the participant cache now carries the terminal flags
	pc, err := cache.LoadParticipants(cfg.ParticipantsFile)
	require.NoError(t, err)
	assert.Equal(t, 3, pc.SharedCount())
}

func TestRunSkipsAlreadyShared(t *testing.T) {
	fake := newFakeClient()
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice", "Bob Jones": "folder-bob"},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith", IsShared: true},
			{Row: 3, Email: "bob@example.com", Name: "Bob Jones"},
		})

	eng := New(cfg, staticFactory(fake), &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, []string{"bob@example.com"}, fake.grantedEmails())
	c := eng.Counters()
	assert.Equal(t, 1, c.Total)
	assert.Equal(t, 1, c.Processed)
}

func TestRunRecordsUnmatchedRecipient(t *testing.T) {
	fake := newFakeClient()
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice"},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith"},
			{Row: 3, Email: "nobody@example.com", Name: "Recipient Without Folder"},
		})

	sink := &captureSink{}
	eng := New(cfg, staticFactory(fake), sink)
	require.NoError(t, eng.Run(context.Background()))

	c := eng.Counters()
	assert.Equal(t, 2, c.Total)
	assert.Equal(t, 2, c.Processed)
	assert.Equal(t, 1, c.Successful)
	assert.Equal(t, 0, c.Failed)
	assert.Equal(t, 1, c.Errors)

	assert.Equal(t, []string{"alice@example.com"}, fake.grantedEmails())

	ranges := map[string]string{}
	for _, u := range fake.written {
		ranges[u.Range] = u.Value
	}
	assert.Equal(t, "FALSE", ranges["I3"])
	assert.Contains(t, ranges["J3"], "Issue: No folder found")

	foundError := false
	for _, line := range sink.all() {
		if line == "ERROR: No folder found for Recipient Without Folder <nobody@example.com> (row 3)" {
			foundError = true
		}
	}
	assert.True(t, foundError)
}

func TestRunResumeSkipsProcessedKeys(t *testing.T) {
	fake := newFakeClient()
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice", "Bob Jones": "folder-bob"},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith"},
			{Row: 3, Email: "bob@example.com", Name: "Bob Jones"},
		})

	// Prior interrupted run already granted Alice
	store := NewHistoryStore(cfg.HistoryFile)
	require.NoError(t, store.Save(&Snapshot{
		ProcessedParticipants: []string{"Alice Smith|alice@example.com"},
		ShareResults: []ShareResult{
			{Success: true, PermissionID: "perm-alice", Recipient: cache.Recipient{Row: 2, Email: "alice@example.com", Name: "Alice Smith"}},
		},
		BatchUpdates:  []CellUpdate{{Range: "I2", Value: "TRUE"}},
		ProgressStats: Counters{Total: 2, Processed: 1, Successful: 1},
	}))

	eng := New(cfg, staticFactory(fake), &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	// Only Bob is granted this run
	assert.Equal(t, []string{"bob@example.com"}, fake.grantedEmails())

	c := eng.Counters()
	assert.Equal(t, 2, c.Total)
	assert.Equal(t, 2, c.Processed)
	assert.Equal(t, 2, c.Successful)

	// Restored pending updates flush together with the new ones
	ranges := map[string]string{}
	for _, u := range fake.written {
		ranges[u.Range] = u.Value
	}
	assert.Equal(t, "TRUE", ranges["I2"])
	assert.Equal(t, "TRUE", ranges["I3"])

	assert.NoFileExists(t, cfg.HistoryFile)
}

func TestRunResumeDedupesPendingCellUpdates(t *testing.T) {
	fake := newFakeClient()
	cfg := newTestConfig(t,
		map[string]string{},
		[]cache.Recipient{
			{Row: 2, Email: "nobody@example.com", Name: "Recipient Without Folder"},
		})

	// An interrupted prior run already recorded the matchless recipient
	store := NewHistoryStore(cfg.HistoryFile)
	require.NoError(t, store.Save(&Snapshot{
		BatchUpdates: []CellUpdate{
			{Range: "I2", Value: "FALSE"},
			{Range: "J2", Value: "Issue: No folder found - stale"},
		},
		ProgressStats: Counters{Total: 1, Processed: 1, Errors: 1},
	}))

	eng := New(cfg, staticFactory(fake), &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	// Re-recording replaces the pending entries instead of stacking them
	counts := map[string]int{}
	values := map[string]string{}
	for _, u := range fake.written {
		counts[u.Range]++
		values[u.Range] = u.Value
	}
	assert.Equal(t, 1, counts["I2"])
	assert.Equal(t, 1, counts["J2"])
	assert.Equal(t, "FALSE", values["I2"])
	assert.NotContains(t, values["J2"], "stale")
	assert.Contains(t, values["J2"], "Issue: No folder found")
}

func TestRunGrantFailureClassified(t *testing.T) {
	fake := newFakeClient()
	fake.grantErrs["bob@example.com"] = fmt.Errorf("create permission: %w", &codedError{code: "NOT_FOUND"})
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice", "Bob Jones": "folder-bob"},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith"},
			{Row: 3, Email: "bob@example.com", Name: "Bob Jones"},
		})

	eng := New(cfg, staticFactory(fake), &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	c := eng.Counters()
	assert.Equal(t, 2, c.Processed)
	assert.Equal(t, 1, c.Successful)
	assert.Equal(t, 1, c.Failed)

	ranges := map[string]string{}
	for _, u := range fake.written {
		ranges[u.Range] = u.Value
	}
	assert.Equal(t, "FALSE", ranges["I3"])
	assert.Contains(t, ranges["J3"], "Failed: ")

	var results ResultsFile
	data, err := os.ReadFile(cfg.ResultsFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results.FailedResults, 1)
	assert.Equal(t, "NOT_FOUND", results.FailedResults[0].ErrorCode)
	require.Len(t, results.ErrorLog, 1)
	assert.Contains(t, results.ErrorLog[0], "NOT_FOUND")
}

func TestRunFlushRetriesTransientFailure(t *testing.T) {
	fake := newFakeClient()
	fake.writeFails = 1
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice"},
		[]cache.Recipient{{Row: 2, Email: "alice@example.com", Name: "Alice Smith"}})

	eng := New(cfg, staticFactory(fake), &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	assert.Equal(t, 2, fake.writeCalls)
	assert.Len(t, fake.written, 2)
	assert.NoFileExists(t, cfg.HistoryFile)
}

func TestRunFlushFailureKeepsHistory(t *testing.T) {
	fake := newFakeClient()
	fake.sheetsErr = errors.New("document unavailable")
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice"},
		[]cache.Recipient{{Row: 2, Email: "alice@example.com", Name: "Alice Smith"}})

	eng := New(cfg, staticFactory(fake), &captureSink{})
	err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush")

	// History survives so the next run resumes instead of re-granting
	store := NewHistoryStore(cfg.HistoryFile)
	snap := store.Load(context.Background())
	require.NotNil(t, snap)
	assert.Contains(t, snap.ProcessedParticipants, "Alice Smith|alice@example.com")
	assert.NotEmpty(t, snap.BatchUpdates)
}

func TestRunInterruptSavesHistory(t *testing.T) {
	fake := newFakeClient()
	fake.blockGrant = true
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice", "Bob Jones": "folder-bob"},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith"},
			{Row: 3, Email: "bob@example.com", Name: "Bob Jones"},
		})
	cfg.WorkerCount = 1

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	eng := New(cfg, staticFactory(fake), &captureSink{})
	err := eng.Run(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)

	assert.FileExists(t, cfg.HistoryFile)
	snap := NewHistoryStore(cfg.HistoryFile).Load(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.ProgressStats.Total)
}

type panickingClient struct{}

func (panickingClient) GrantRead(ctx context.Context, folderID, email string) (string, error) {
	panic("client wedged")
}

func (panickingClient) ListSheets(ctx context.Context, spreadsheetID string) ([]SheetInfo, error) {
	return []SheetInfo{{Title: "Participants"}}, nil
}

func (panickingClient) BatchWriteCells(ctx context.Context, spreadsheetID, sheetTitle string, updates []CellUpdate) error {
	return nil
}

func TestRunFailsWhenAllWorkersDie(t *testing.T) {
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice", "Bob Jones": "folder-bob"},
		[]cache.Recipient{
			{Row: 2, Email: "alice@example.com", Name: "Alice Smith"},
			{Row: 3, Email: "bob@example.com", Name: "Bob Jones"},
		})
	cfg.WorkerCount = 1

	eng := New(cfg, staticFactory(panickingClient{}), &captureSink{})

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all workers stopped")
	case <-time.After(5 * time.Second):
		t.Fatal("run hung after the only worker died with a task queued")
	}

	// The panicked task is accounted and history is kept for resume
	c := eng.Counters()
	assert.Equal(t, 1, c.Processed)
	assert.Equal(t, 1, c.Failed)

	snap := NewHistoryStore(cfg.HistoryFile).Load(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, []string{"Alice Smith|alice@example.com"}, snap.ProcessedParticipants)
}

func TestRunFailsWhenNoWorkerInitializes(t *testing.T) {
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice"},
		[]cache.Recipient{{Row: 2, Email: "alice@example.com", Name: "Alice Smith"}})
	cfg.InitTimeout = 200 * time.Millisecond

	factory := func(ctx context.Context, workerID int) (RemoteClient, error) {
		return nil, errors.New("credentials rejected")
	}

	eng := New(cfg, factory, &captureSink{})
	err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workers initialized")
}

func TestRunNothingToDo(t *testing.T) {
	fake := newFakeClient()
	cfg := newTestConfig(t,
		map[string]string{"Alice Smith": "folder-alice"},
		[]cache.Recipient{{Row: 2, Email: "alice@example.com", Name: "Alice Smith", IsShared: true}})

	factoryCalled := false
	factory := func(ctx context.Context, workerID int) (RemoteClient, error) {
		factoryCalled = true
		return fake, nil
	}

	eng := New(cfg, factory, &captureSink{})
	require.NoError(t, eng.Run(context.Background()))

	// No pending updates, so no flush client is ever built
	assert.False(t, factoryCalled)
	assert.Equal(t, 0, eng.Counters().Total)
	assert.FileExists(t, cfg.ResultsFile)
}

func TestRunMissingInputsFail(t *testing.T) {
	cfg := newTestConfig(t, map[string]string{}, nil)
	cfg.FolderMapFile = filepath.Join(t.TempDir(), "absent.json")

	eng := New(cfg, staticFactory(newFakeClient()), &captureSink{})
	assert.Error(t, eng.Run(context.Background()))
}
