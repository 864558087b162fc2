// Package heartbeat records daemon liveness so `foundry status` can tell a
// running worker from a crashed one.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Status classifies how fresh a heartbeat file is.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Beat is the state written to the heartbeat file.
type Beat struct {
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	CurrentTask string    `json:"current_task,omitempty"`
}

// Writer keeps the heartbeat file current while the daemon runs.
type Writer struct {
	path     string
	interval time.Duration
	started  time.Time

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWriter creates a writer that refreshes path every 30s.
func NewWriter(path string) *Writer {
	return &Writer{
		path:     path,
		interval: 30 * time.Second,
	}
}

// SetTask records the task the daemon is working on; it lands in the file
// immediately. An empty id marks the daemon idle.
func (w *Writer) SetTask(id string) {
	w.mu.Lock()
	w.current = id
	running := w.cancel != nil
	w.mu.Unlock()

	if running {
		w.write()
	}
}

// Start begins refreshing the heartbeat file in a background goroutine.
// The first beat lands before Start returns, so a status check never races
// the ticker.
func (w *Writer) Start() {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts refreshing and removes the heartbeat file. The wait happens
// outside the lock so an in-flight write can finish.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done

	os.Remove(w.path)
}

func (w *Writer) write() {
	w.mu.Lock()
	beat := Beat{
		PID:         os.Getpid(),
		StartedAt:   w.started,
		Timestamp:   time.Now(),
		Uptime:      time.Since(w.started).Truncate(time.Second).String(),
		CurrentTask: w.current,
	}
	w.mu.Unlock()

	data, err := json.MarshalIndent(beat, "", "  ")
	if err != nil {
		return
	}

	// Atomic swap keeps readers from seeing a half-written file.
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, w.path)
}

// Check reads the heartbeat file and classifies it. A beat older than
// maxAge is stale; a missing file is dead.
func Check(path string, maxAge time.Duration) (Status, *Beat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var beat Beat
	if err := json.Unmarshal(data, &beat); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	if time.Since(beat.Timestamp) > maxAge {
		return StatusStale, &beat, nil
	}
	return StatusAlive, &beat, nil
}
