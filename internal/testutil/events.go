package testutil

import (
	"sync"

	"github.com/iconidentify/likevault/internal/domain"
)

// RecordingEmitter captures emitted events and catalog counts.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
	counts []int
}

func (r *RecordingEmitter) Emit(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *RecordingEmitter) CatalogUpdated(source string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, count)
}

// Events returns a copy of the emitted events.
func (r *RecordingEmitter) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// Counts returns every count passed to CatalogUpdated.
func (r *RecordingEmitter) Counts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.counts...)
}
