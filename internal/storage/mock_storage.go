package storage

import (
	"sync"
	"time"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu            sync.Mutex
	book          *book
	saveError     error
	loadError     error
	fillError     error
	saveCallCount int
	loadCallCount int
	now           func() time.Time
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{book: newBook(), now: func() time.Time { return time.Now().UTC() }}
}

// Positions returns a copy of the held positions.
func (m *MockStorage) Positions() []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.positions()
}

// Position returns one held position by ID.
func (m *MockStorage) Position(id string) (models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.position(id)
}

// ApplyFill nets a fill into the in-memory book.
func (m *MockStorage) ApplyFill(fill Fill) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fillError != nil {
		return Fill{}, m.fillError
	}
	fill, err := normalizeFill(fill, m.now())
	if err != nil {
		return Fill{}, err
	}
	if _, err := m.book.apply(fill); err != nil {
		return Fill{}, err
	}
	return fill, nil
}

// Replace overwrites the in-memory book.
func (m *MockStorage) Replace(positions []models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.replace(positions)
}

// Fills returns a copy of the fill journal.
func (m *MockStorage) Fills() []Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.fills()
}

// Data persistence methods (mocked)
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	return m.saveError
}

func (m *MockStorage) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	return m.loadError
}

// Mock control methods for testing
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SetFillError makes every subsequent ApplyFill fail with err.
func (m *MockStorage) SetFillError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillError = err
}

func (m *MockStorage) GetSaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) GetLoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)
