package persist

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/prunepilot/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const writeTimeout = 10 * time.Second

// Writer saves snapshots in the background. Each session has its own drain
// goroutine; while a write is in flight newer snapshots replace older pending
// ones, so a session never has more than one write queued.
type Writer struct {
	store Store

	mu     sync.Mutex
	queues map[string]*sessionQueue
	closed bool
	wg     sync.WaitGroup
}

type sessionQueue struct {
	pending *Snapshot
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store, queues: make(map[string]*sessionQueue)}
}

// Enqueue schedules snap to be saved. It never blocks on I/O.
func (w *Writer) Enqueue(sessionID string, snap Snapshot) {
	if w == nil || w.store == nil || sessionID == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		log.WithField("session", sessionID).Warn("prune writer closed, dropping snapshot")
		return
	}
	if q, ok := w.queues[sessionID]; ok {
		q.pending = &snap
		return
	}
	q := &sessionQueue{pending: &snap}
	w.queues[sessionID] = q
	w.wg.Add(1)
	go w.drain(sessionID, q)
}

func (w *Writer) drain(sessionID string, q *sessionQueue) {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		snap := q.pending
		if snap == nil {
			delete(w.queues, sessionID)
			w.mu.Unlock()
			return
		}
		q.pending = nil
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.store.Save(ctx, sessionID, *snap)
		cancel()
		if err != nil {
			metrics.PersistFailures.Inc()
			log.WithError(err).WithField("session", sessionID).Error("failed to persist prune state")
		}
	}
}

// Flush waits until every queued snapshot has been written.
func (w *Writer) Flush() {
	if w == nil {
		return
	}
	w.wg.Wait()
}

// Close rejects further snapshots, waits for pending writes and closes the store.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
	if w.store == nil {
		return nil
	}
	return w.store.Close()
}
