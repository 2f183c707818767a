package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relief/model"
)

// MemoryRegistry keeps donations in process memory. It backs local runs
// without a data directory and the service tests.
type MemoryRegistry struct {
	mu        sync.Mutex
	recorded  map[string]struct{}
	donations []model.DonationRecord
	now       func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		recorded:  make(map[string]struct{}),
		donations: []model.DonationRecord{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRegistry) Initialize(context.Context) error {
	return nil
}

func (m *MemoryRegistry) Load(context.Context) ([]model.DonationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DonationRecord{}, m.donations...), nil
}

func (m *MemoryRegistry) Append(_ context.Context, record model.DonationRecord) ([]model.DonationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.recorded[record.ID]; exists {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateDonation, record.ID)
	}
	record.Timestamp = m.now()
	m.recorded[record.ID] = struct{}{}
	m.donations = append(m.donations, record)
	return append([]model.DonationRecord{}, m.donations...), nil
}

func (m *MemoryRegistry) FindByID(_ context.Context, id string) (model.DonationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.donations {
		if d.ID == id {
			return d, nil
		}
	}
	return model.DonationRecord{}, model.ErrNotFound
}

func (m *MemoryRegistry) FindByEmailAndAmount(_ context.Context, email string, amountMinorUnits int64) (model.DonationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.donations {
		if d.Email == email && d.AmountMinorUnits == amountMinorUnits {
			return d, nil
		}
	}
	return model.DonationRecord{}, model.ErrNotFound
}
