package collab

import (
	"context"
	"sync"
	"time"

	"collabpad/core"

	"github.com/sirupsen/logrus"
)

// DefaultAutosaveInterval is the quiet period that must elapse after the
// last edit before the document content is flushed to the store.
const DefaultAutosaveInterval = 30 * time.Second

type pendingSave struct {
	content string
	timer   *time.Timer
}

// SaveScheduler debounces document writes. Each Schedule call replaces the
// pending content and restarts the timer, so only the content present when
// the timer finally fires is written (trailing debounce). At most one live
// timer exists per document.
type SaveScheduler struct {
	mu       sync.Mutex
	interval time.Duration
	store    core.DocumentStore
	pending  map[string]*pendingSave
}

// NewSaveScheduler creates a scheduler flushing to store after interval of
// inactivity per document.
func NewSaveScheduler(store core.DocumentStore, interval time.Duration) *SaveScheduler {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &SaveScheduler{
		interval: interval,
		store:    store,
		pending:  make(map[string]*pendingSave),
	}
}

// Schedule records content as the document's latest snapshot and restarts
// its debounce timer. Any previously pending snapshot for the document is
// discarded, never written.
func (s *SaveScheduler) Schedule(docID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[docID]; ok {
		prev.timer.Stop()
	}
	p := &pendingSave{content: content}
	p.timer = time.AfterFunc(s.interval, func() {
		s.flush(docID, p)
	})
	s.pending[docID] = p
}

// Cancel discards the pending snapshot for a document, if any.
func (s *SaveScheduler) Cancel(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[docID]; ok {
		p.timer.Stop()
		delete(s.pending, docID)
	}
}

// CancelAll discards every pending snapshot. Used on shutdown.
func (s *SaveScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for docID, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, docID)
	}
}

// Pending reports whether a snapshot is waiting to be flushed.
func (s *SaveScheduler) Pending(docID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[docID]
	return ok
}

// flush writes the snapshot captured when the timer was armed. The entry
// identity check closes the race with a concurrent Schedule: if the entry
// was replaced after this timer fired but before the lock was taken, the
// newer snapshot owns the document and this flush backs off.
func (s *SaveScheduler) flush(docID string, p *pendingSave) {
	s.mu.Lock()
	if s.pending[docID] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, docID)
	content := p.content
	s.mu.Unlock()

	log := logrus.WithField("document_id", docID)
	if err := s.store.UpdateContent(context.Background(), docID, content); err != nil {
		// No retry and no re-arm; the next edit reschedules naturally.
		log.WithError(err).Error("Autosave failed")
		return
	}
	log.WithField("content_length", len(content)).Debug("Autosave flushed")
}
