package terminal

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjsadow/drawbridge/internal/backend"
)

// FlushThreshold is how many buffered events trigger a write to disk.
const FlushThreshold = 50

// recorderQueueSize bounds the handoff channel between the session loop and
// the writer goroutine. Write blocks when the writer falls this far behind.
const recorderQueueSize = 512

type castHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title"`
	Env       map[string]string `json:"env"`
}

// Recorder writes an asciicast v2 file for a terminal session. Events are
// handed to a dedicated writer goroutine so recording never stalls the
// session read loop on disk latency; the writer batches events and flushes
// every FlushThreshold entries. Flush failures are logged, never fatal: a
// session must not die because its recording does.
type Recorder struct {
	f     *os.File
	path  string
	start time.Time

	mu     sync.Mutex
	closed bool
	events chan []byte
	done   chan struct{}
}

// NewRecorder creates <root>/<username>/<ip>.<yyyymmddHHMMSS>.cast and
// writes the asciicast header.
func NewRecorder(root, username, ip string, start time.Time) (*Recorder, error) {
	dir := filepath.Join(root, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s.%s.cast", ip, start.Format("20060102150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create record file %s: %w", path, err)
	}

	header, err := json.Marshal(castHeader{
		Version:   2,
		Width:     backend.PtyCols,
		Height:    backend.PtyRows,
		Timestamp: start.Unix(),
		Title:     "ssh",
		Env:       map[string]string{"SHELL": "/bin/bash", "TERM": "xterm"},
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(append(header, '\n')); err != nil {
		f.Close()
		return nil, fmt.Errorf("write record header: %w", err)
	}

	r := &Recorder{
		f:      f,
		path:   path,
		start:  start,
		events: make(chan []byte, recorderQueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Path returns the cast file location on local disk.
func (r *Recorder) Path() string { return r.path }

// Write records one output event stamped relative to the session start.
func (r *Recorder) Write(text string) {
	elapsed := time.Since(r.start).Seconds()
	line, err := json.Marshal([]interface{}{elapsed, "o", text})
	if err != nil {
		log.Printf("recorder: failed to encode event: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events <- append(line, '\n')
}

// Close flushes buffered events and closes the cast file. After Close the
// file holds every event ever passed to Write; later Writes are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
	return r.f.Close()
}

func (r *Recorder) run() {
	defer close(r.done)

	var buf []byte
	var n int
	flush := func() {
		if n == 0 {
			return
		}
		if _, err := r.f.Write(buf); err != nil {
			log.Printf("recorder: failed to flush %d events to %s: %v", n, r.path, err)
		}
		buf = buf[:0]
		n = 0
	}

	for line := range r.events {
		buf = append(buf, line...)
		n++
		if n >= FlushThreshold {
			flush()
		}
	}
	flush()
}
