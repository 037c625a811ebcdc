// Package recorder keeps a rotating JSONL trace of watcher sessions, the
// diagnostic log every failure is written to.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Event types written by the agent.
const (
	EventSessionStart   = "session_start"
	EventSessionEnd     = "session_end"
	EventDetected       = "compose_detected"
	EventInjected       = "control_injected"
	EventToolbarMissing = "toolbar_missing"
	EventActivated      = "control_activated"
	EventGenerated      = "reply_generated"
	EventFailure        = "failure"
)

// Event represents a single record in the trace.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Recorder writes events for one session at a time. A nil *Recorder is
// valid and drops everything.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	session  string
}

// NewRecorder creates a recorder rooted at basePath, creating it if needed.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
	}, nil
}

// Start opens a new trace file for sessionID, pruning older traces so at
// most MaxRotatedFiles remain.
func (r *Recorder) Start(sessionID string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", sessionID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	r.session = sessionID
	return nil
}

// Record appends an event to the current trace.
func (r *Recorder) Record(eventType string, data interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	_ = r.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		SessionID: r.session,
		Data:      data,
	})
}

// Failure records err under stage.
func (r *Recorder) Failure(stage string, err error) {
	if err == nil {
		return
	}
	r.Record(EventFailure, map[string]string{"stage": stage, "error": err.Error()})
}

// rotate deletes the oldest traces, leaving room for one new file.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		return traces[i].mod.After(traces[j].mod)
	})

	keep := MaxRotatedFiles - 1
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.encoder = nil
	r.session = ""
	return err
}
