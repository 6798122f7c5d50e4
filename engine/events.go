package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// maxEventPayload caps serialized JSON events. Oversize payloads emit a
// fallback event instead of a possibly unparseable line.
const maxEventPayload = 100 * 1024

// maxFreeTextLen truncates free-text fields inside JSON payloads.
const maxFreeTextLen = 100

// Sink receives one event line at a time. Implementations must be safe for
// concurrent use.
type Sink interface {
	EmitLine(line string)
}

// WriterSink writes lines to an io.Writer (typically stdout, consumed by a
// parent process).
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) EmitLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

// MultiSink fans one line out to several sinks.
type MultiSink []Sink

func (m MultiSink) EmitLine(line string) {
	for _, s := range m {
		s.EmitLine(line)
	}
}

// Emitter serializes the engine's progress vocabulary into tagged,
// line-delimited events: `<TAG>: <payload>`. Consumers parse the tags they
// know and treat everything else as plain log output.
type Emitter struct {
	sink Sink
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

func (e *Emitter) emit(tag, payload string) {
	e.sink.EmitLine(tag + ": " + payload)
}

func (e *Emitter) emitJSON(tag string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil || len(data) > maxEventPayload {
		fallback, _ := json.Marshal(map[string]string{"error": "Data too large"})
		e.emit(tag, string(fallback))
		return
	}
	e.emit(tag, string(data))
}

func (e *Emitter) Progress(c Counters) {
	e.emit("PROGRESS", fmt.Sprintf("Processed %d / %d (%d%%)", c.Processed, c.Total, c.Percent()))
}

func (e *Emitter) Status(c Counters) {
	e.emit("STATUS", fmt.Sprintf("%d successful, %d failed, %d errors", c.Successful, c.Failed, c.Errors))
}

func (e *Emitter) Workers(active, workerCount, queued int) {
	e.emit("WORKERS", fmt.Sprintf("%d/%d active, %d in queue", active, workerCount, queued))
}

func (e *Emitter) Speed(perSecond float64, etaSeconds int) {
	e.emit("SPEED", fmt.Sprintf("%.2f per second, ETA: %ds", perSecond, etaSeconds))
}

// SpeedUpdate is the machine-readable companion of PROGRESS/SPEED.
type SpeedUpdate struct {
	Speed         float64 `json:"speed"`
	Unit          string  `json:"unit"`
	Processed     int     `json:"processed"`
	Total         int     `json:"total"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	ActiveWorkers int     `json:"activeWorkers"`
	WorkerCount   int     `json:"workerCount"`
	ETA           int     `json:"eta"`
	Timestamp     string  `json:"timestamp"`
}

func (e *Emitter) SpeedUpdate(u SpeedUpdate) {
	e.emitJSON("SPEED_UPDATE", u)
}

func (e *Emitter) WorkerStatus(workerID int, status string) {
	e.emit("WORKER_STATUS", fmt.Sprintf("Worker %d is now %s", workerID, SanitizeText(status)))
}

func (e *Emitter) DashboardUpdate(v interface{}) {
	e.emitJSON("DASHBOARD_UPDATE", v)
}

// Issue is one row of the latest-issues table in RESULTS_UPDATE.
type Issue struct {
	Row       int    `json:"row"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	IssueType string `json:"issueType,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type resultsUpdate struct {
	Timestamp      string  `json:"timestamp"`
	Issues         []Issue `json:"issues"`
	TotalIssues    int     `json:"totalIssues"`
	TruncatedCount int     `json:"truncatedCount"`
}

// ResultsUpdate emits the latest issues, truncated to at most 50 with an
// explicit truncatedCount.
func (e *Emitter) ResultsUpdate(issues []Issue) {
	const maxIssues = 50

	truncated := 0
	shown := issues
	if len(issues) > maxIssues {
		truncated = len(issues) - maxIssues
		shown = issues[len(issues)-maxIssues:]
	}

	cleaned := make([]Issue, len(shown))
	for i, issue := range shown {
		issue.Name = SanitizeText(issue.Name)
		issue.Email = SanitizeText(issue.Email)
		issue.Error = SanitizeText(issue.Error)
		cleaned[i] = issue
	}

	e.emitJSON("RESULTS_UPDATE", resultsUpdate{
		Timestamp:      time.Now().Format(time.RFC3339),
		Issues:         cleaned,
		TotalIssues:    len(issues),
		TruncatedCount: truncated,
	})
}

func (e *Emitter) Success(msg string) {
	e.emit("SUCCESS", SanitizeText(msg))
}

func (e *Emitter) Error(msg string) {
	e.emit("ERROR", SanitizeText(msg))
}

func (e *Emitter) FinalStats(c Counters, elapsed time.Duration) {
	speed := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(c.Processed) / secs
	}
	e.emit("FINAL_STATS", fmt.Sprintf("Processed=%d, Successful=%d, Failed=%d, Time=%ds, Speed=%.2f/s",
		c.Processed, c.Successful, c.Failed, int(elapsed.Seconds()), speed))
}

// SanitizeText strips control characters, line/paragraph separators and
// zero-width characters, and truncates to the free-text limit, counted in
// characters. Quote and backslash escaping is left to the JSON encoder.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\u2028' || r == '\u2029':
			continue
		case r >= '\u200B' && r <= '\u200D':
			continue
		case r == '\uFEFF':
			continue
		case unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if utf8.RuneCountInString(out) > maxFreeTextLen {
		runes := []rune(out)
		out = string(runes[:maxFreeTextLen])
	}
	return out
}
