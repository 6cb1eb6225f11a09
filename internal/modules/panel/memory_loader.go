package panel

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/quanterr"
)

// MemoryLoader serves universes and panels held in memory
type MemoryLoader struct {
	mu        sync.RWMutex
	universes map[string]*domain.Universe
	panels    map[string]*Panel
}

// NewMemoryLoader creates an empty in-memory loader
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{
		universes: make(map[string]*domain.Universe),
		panels:    make(map[string]*Panel),
	}
}

// Put registers a universe with its full panel
func (l *MemoryLoader) Put(universe *domain.Universe, p *Panel) error {
	if dup := universe.Duplicate(); dup != "" {
		return fmt.Errorf("universe %s lists %s twice", universe.ID, dup)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if err := p.Align(universe); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.universes[universe.ID] = universe
	l.panels[universe.ID] = p
	return nil
}

// Universe returns a registered universe
func (l *MemoryLoader) Universe(ctx context.Context, universeID string) (*domain.Universe, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, ok := l.universes[universeID]
	if !ok {
		return nil, quanterr.Configuration("panel.load", "universe not found: %s", universeID)
	}
	return u, nil
}

// Load returns the requested fields over the requested date range
func (l *MemoryLoader) Load(ctx context.Context, req Request) (*Panel, error) {
	l.mu.RLock()
	full, ok := l.panels[req.UniverseID]
	l.mu.RUnlock()
	if !ok {
		return nil, quanterr.Configuration("panel.load", "universe not found: %s", req.UniverseID)
	}
	return selectRange(full, req), nil
}

func selectRange(full *Panel, req Request) *Panel {
	from, to := 0, len(full.Dates)-1
	if !req.From.IsZero() {
		for from < len(full.Dates) && full.Dates[from].Before(normalizeDate(req.From)) {
			from++
		}
	}
	if !req.To.IsZero() {
		for to >= 0 && full.Dates[to].After(normalizeDate(req.To)) {
			to--
		}
	}
	if from > to {
		return &Panel{Instruments: append([]string(nil), full.Instruments...), Fields: map[string][]domain.Values{}}
	}

	out := full.Window(from, to)
	if len(req.Fields) > 0 {
		keep := make(map[string][]domain.Values, len(req.Fields))
		for _, f := range req.Fields {
			if grid, ok := out.Fields[f]; ok {
				keep[f] = grid
			}
		}
		out.Fields = keep
	}
	return out
}
