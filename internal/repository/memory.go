package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/models"
)

// MemoryServiceRepository keeps service records in process memory
type MemoryServiceRepository struct {
	mu      sync.RWMutex
	records map[string]*models.ServiceRecord
	now     func() time.Time
}

// NewMemoryServiceRepository creates an empty in-memory repository
func NewMemoryServiceRepository() *MemoryServiceRepository {
	return &MemoryServiceRepository{
		records: make(map[string]*models.ServiceRecord),
		now:     time.Now,
	}
}

func (m *MemoryServiceRepository) Create(ctx context.Context, record *models.ServiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.Id]; ok {
		return ErrAlreadyExists
	}
	m.records[record.Id] = record.Clone()
	return nil
}

func (m *MemoryServiceRepository) Get(ctx context.Context, id string) (*models.ServiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryServiceRepository) List(ctx context.Context) ([]*models.ServiceRecord, error) {
	return m.filter(func(*models.ServiceRecord) bool { return true }), nil
}

func (m *MemoryServiceRepository) ListByUserId(ctx context.Context, userId string) ([]*models.ServiceRecord, error) {
	return m.filter(func(r *models.ServiceRecord) bool { return r.UserId == userId }), nil
}

func (m *MemoryServiceRepository) filter(keep func(*models.ServiceRecord) bool) []*models.ServiceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ServiceRecord, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func (m *MemoryServiceRepository) Update(ctx context.Context, id string, patch *models.ServicePatch) (*models.ServiceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.RejectsTerminalOverride(r.Status) {
		return nil, ErrTerminalState
	}

	patch.ApplyTo(r, m.now())
	return r.Clone(), nil
}

// sortNewestFirst orders records by creation time, most recent first, with the
// id as a tie breaker so listings are stable
func sortNewestFirst(records []*models.ServiceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Id < records[j].Id
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
