package logging

import (
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the default capacity of the ring buffer.
const DefaultBufferSize = 1000

// LogEntry is one captured log line, as served by the management API.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Query filters entries returned by Entries.
type Query struct {
	// Level is the minimum level. Empty means all.
	Level string
	// Session matches the "session" field.
	Session string
	Since   time.Time
	// Limit keeps the most recent entries. 0 means no limit.
	Limit int
}

// RingBuffer is a bounded in-memory log capture. It implements log.Hook.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// NewRingBuffer creates a buffer. Non-positive capacity means DefaultBufferSize.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Levels implements log.Hook.
func (rb *RingBuffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements log.Hook.
func (rb *RingBuffer) Fire(entry *log.Entry) error {
	var source string
	if entry.Caller != nil {
		source = formatSource(entry.Caller.File, entry.Caller.Line)
	}
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	rb.Write(LogEntry{
		Timestamp: entry.Time,
		Level:     levelName(entry.Level),
		Message:   entry.Message,
		Source:    source,
		Fields:    fields,
	})
	return nil
}

// Write appends an entry, overwriting the oldest once full.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
}

// Entries returns copies of the entries matching q, oldest first.
func (rb *RingBuffer) Entries(q Query) []LogEntry {
	minLevel := log.TraceLevel
	if q.Level != "" {
		if lvl, err := log.ParseLevel(q.Level); err == nil {
			minLevel = lvl
		}
	}

	rb.mu.RLock()
	out := make([]LogEntry, 0, rb.count)
	start := (rb.head - rb.count + rb.capacity) % rb.capacity
	for i := 0; i < rb.count; i++ {
		e := rb.entries[(start+i)%rb.capacity]
		if !q.Since.IsZero() && !e.Timestamp.After(q.Since) {
			continue
		}
		if lvl, err := log.ParseLevel(e.Level); err == nil && lvl > minLevel {
			continue
		}
		if q.Session != "" {
			if s, _ := e.Fields["session"].(string); s != q.Session {
				continue
			}
		}
		out = append(out, copyEntry(e))
	}
	rb.mu.RUnlock()

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Len returns the number of buffered entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}

// Clear drops all entries.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
	for i := range rb.entries {
		rb.entries[i] = LogEntry{}
	}
}

// GlobalBuffer captures the standard logger once SetupBaseLogger has run.
var GlobalBuffer = NewRingBuffer(DefaultBufferSize)

func copyEntry(e LogEntry) LogEntry {
	if e.Fields != nil {
		fields := make(map[string]interface{}, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = v
		}
		e.Fields = fields
	}
	return e
}

func levelName(l log.Level) string {
	if l == log.WarnLevel {
		return "warn"
	}
	return l.String()
}

func formatSource(file string, line int) string {
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' || file[i] == '\\' {
			short = file[i+1:]
			break
		}
	}
	return short + ":" + strconv.Itoa(line)
}

func sortedKeys(m log.Fields) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
