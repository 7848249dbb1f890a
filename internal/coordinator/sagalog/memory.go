package sagalog

import (
	"context"
	"sync"
)

// MemoryRepository keeps the log in process memory. Nothing survives a
// restart, so recovery only covers sagas interrupted within the process.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []SagaLog
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Save(_ context.Context, entry *SagaLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) GetLatest(_ context.Context, sagaID string) (*SagaLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].SagaID == sagaID {
			entry := r.entries[i]
			return &entry, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) Incomplete(_ context.Context) ([]Pending, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[string]int)
	payload := make(map[string]string)
	var order []string
	for i, e := range r.entries {
		if _, seen := latest[e.SagaID]; !seen {
			order = append(order, e.SagaID)
		}
		latest[e.SagaID] = i
		if e.Status == StatusStarted {
			if _, ok := payload[e.SagaID]; !ok {
				payload[e.SagaID] = e.Payload
			}
		}
	}

	var pending []Pending
	for _, id := range order {
		entry := r.entries[latest[id]]
		if entry.Status.Terminal() {
			continue
		}
		pending = append(pending, Pending{Latest: entry, Payload: payload[id]})
	}
	return pending, nil
}

// History returns every entry written for sagaID, oldest first.
func (r *MemoryRepository) History(sagaID string) []SagaLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SagaLog
	for _, e := range r.entries {
		if e.SagaID == sagaID {
			out = append(out, e)
		}
	}
	return out
}
