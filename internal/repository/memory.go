package repository

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/debemdeboas/the-calendar/internal/model"
)

// MemoryTextRepository keeps records in process. Insert on an occupied slot
// is rejected with a conflict, as the remote table's unique key does.
type MemoryTextRepository struct { // implements TextRepository, Upserter
	mu      sync.Mutex
	texts   map[model.Slot]model.TextRecord
	lastID  int64
	nowFunc func() time.Time
}

func NewMemoryTextRepository() *MemoryTextRepository {
	return &MemoryTextRepository{
		texts:   make(map[model.Slot]model.TextRecord),
		nowFunc: time.Now,
	}
}

func (m *MemoryTextRepository) ListAll(_ context.Context) ([]model.TextRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]model.TextRecord, 0, len(m.texts))
	for _, rec := range m.texts {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b model.TextRecord) int {
		return int(a.Slot) - int(b.Slot)
	})
	return records, nil
}

func (m *MemoryTextRepository) Insert(_ context.Context, rec model.TextRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.texts[rec.Slot]; ok {
		return &TransportError{
			Op:         "insert",
			StatusCode: http.StatusConflict,
			Body:       fmt.Sprintf(`{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (text_number)=(%d) already exists."}`, rec.Slot),
		}
	}
	m.store(rec)
	return nil
}

func (m *MemoryTextRepository) Upsert(_ context.Context, rec model.TextRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.texts[rec.Slot]; ok {
		existing.Title = rec.Title
		existing.Content = rec.Content
		existing.UpdatedAt = rec.UpdatedAt
		m.texts[rec.Slot] = existing
		return nil
	}
	m.store(rec)
	return nil
}

func (m *MemoryTextRepository) Update(_ context.Context, slot model.Slot, patch model.TextPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.texts[slot]
	if !ok {
		// Zero rows matched, which is not an error.
		return nil
	}
	existing.Title = patch.Title
	existing.Content = patch.Content
	existing.UpdatedAt = patch.UpdatedAt
	m.texts[slot] = existing
	return nil
}

func (m *MemoryTextRepository) Delete(_ context.Context, slot model.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.texts, slot)
	return nil
}

// store must be called with mu held.
func (m *MemoryTextRepository) store(rec model.TextRecord) {
	m.lastID++
	id := m.lastID
	created := m.nowFunc().UTC()
	rec.ID = &id
	rec.CreatedAt = &created
	m.texts[rec.Slot] = rec
}
