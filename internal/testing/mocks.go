package testing

import (
	"context"
	"sync"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
)

// MockLoader is a panel.Loader that records calls and can inject errors
type MockLoader struct {
	mu       sync.Mutex
	universe *domain.Universe
	panel    *panel.Panel
	err      error
	calls    int
}

// NewMockLoader creates a loader serving one universe and panel
func NewMockLoader(u *domain.Universe, p *panel.Panel) *MockLoader {
	return &MockLoader{universe: u, panel: p}
}

// SetError makes every subsequent call fail with err
func (m *MockLoader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of Load calls
func (m *MockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Universe implements panel.Loader
func (m *MockLoader) Universe(ctx context.Context, universeID string) (*domain.Universe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.universe, nil
}

// Load implements panel.Loader
func (m *MockLoader) Load(ctx context.Context, req panel.Request) (*panel.Panel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.panel, nil
}
