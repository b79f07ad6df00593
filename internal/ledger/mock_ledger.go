package ledger

import (
	"context"
	"sync"

	"github.com/looptrader/riskengine/internal/models"
)

// MockLedger implements Interface for testing.
type MockLedger struct {
	mu        sync.Mutex
	positions []models.Position
	queryErr  error
	saveErr   error
	nextID    int64
}

// NewMockLedger creates a new mock ledger for testing.
func NewMockLedger(positions ...models.Position) *MockLedger {
	m := &MockLedger{nextID: 1}
	for i := range positions {
		if positions[i].ID == 0 {
			positions[i].ID = m.nextID
		}
		if positions[i].ID >= m.nextID {
			m.nextID = positions[i].ID + 1
		}
		m.positions = append(m.positions, positions[i])
	}
	return m
}

// SetQueryError makes all read methods fail with err.
func (m *MockLedger) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// SetSaveError makes SavePosition fail with err.
func (m *MockLedger) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// GetActivePositions returns the stored positions with Active set.
func (m *MockLedger) GetActivePositions(_ context.Context) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var active []models.Position
	for _, p := range m.positions {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// GetAllPositions returns every stored position.
func (m *MockLedger) GetAllPositions(_ context.Context) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return append([]models.Position(nil), m.positions...), nil
}

// GetPositionByID returns the stored position or ErrPositionNotFound.
func (m *MockLedger) GetPositionByID(_ context.Context, id int64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	for i := range m.positions {
		if m.positions[i].ID == id {
			p := m.positions[i]
			return &p, nil
		}
	}
	return nil, ErrPositionNotFound
}

// SavePosition stores the position, assigning an id when missing.
func (m *MockLedger) SavePosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if p.ID == 0 {
		p.ID = m.nextID
	}
	if p.ID >= m.nextID {
		m.nextID = p.ID + 1
	}
	for i := range p.Orders {
		p.Orders[i].PositionID = p.ID
		p.Orders[i].Side = models.ClassifySide(p.Orders[i].OrderType)
	}
	m.positions = append(m.positions, *p)
	return nil
}

// Close is a no-op for the mock.
func (m *MockLedger) Close() error { return nil }
