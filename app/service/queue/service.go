// Package queue holds caller records whose save failed until the engine
// manages to persist them. A pending record is the newest copy of that
// caller's data and must be preferred over the store.
package queue

import (
	"log/slog"
	"sync"
	"triagecall/app/service/record"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	mu      sync.Mutex
	pending map[string]*record.Record
	queued  map[string]bool

	queue chan string
}

func New(_ *do.Injector) (*Service, error) {
	return NewService(bufferSize), nil
}

func NewService(size int) *Service {
	return &Service{
		pending: make(map[string]*record.Record),
		queued:  make(map[string]bool),
		queue:   make(chan string, size),
	}
}

// Add keeps rec as the unsaved record of callerID and schedules a retry.
func (s *Service) Add(callerID string, rec *record.Record) {
	s.mu.Lock()
	s.pending[callerID] = rec
	s.mu.Unlock()

	s.schedule(callerID)
}

// Pending returns the unsaved record of callerID, if any.
func (s *Service) Pending(callerID string) (*record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[callerID]
	return rec, ok
}

// Forget drops the pending record once a save went through.
func (s *Service) Forget(callerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, callerID)
}

// Done marks a delivered id as handled so it can be scheduled again.
func (s *Service) Done(callerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queued, callerID)
}

// Requeue schedules every pending record that is not waiting already and
// reports how many were scheduled.
func (s *Service) Requeue() int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if s.schedule(id) {
			count++
		}
	}

	return count
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

func (s *Service) schedule(callerID string) (scheduled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queued[callerID] {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("save queue is closed", "phone_number", callerID)
			scheduled = false
		}
	}()

	select {
	case s.queue <- callerID:
		s.queued[callerID] = true
		return true
	default:
		slog.Warn("save queue is full", "phone_number", callerID)
		return false
	}
}

func (s *Service) Channel() <-chan string {
	return s.queue
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	close(s.queue)

	return nil
}
