package work

import (
	"sort"
	"sync"
)

// Snapshot is a point-in-time view of the pool
type Snapshot struct {
	Capacity       int               `json:"capacity"`
	TenantCapacity int               `json:"tenant_capacity"`
	Queued         int               `json:"queued"`
	Running        int               `json:"running"`
	Tenants        []TenantLoad      `json:"tenants"`
	Finished       map[Outcome]int64 `json:"finished"`
}

// TenantLoad is the load of one tenant
type TenantLoad struct {
	Tenant  string `json:"tenant"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
}

// tracker counts jobs by state. Tenants with no queued or running jobs are
// forgotten.
type tracker struct {
	tenants  map[string]*TenantLoad
	finished map[Outcome]int64
	mu       sync.Mutex
}

func newTracker() *tracker {
	return &tracker{
		tenants:  make(map[string]*TenantLoad),
		finished: make(map[Outcome]int64),
	}
}

func (t *tracker) load(tenant string) *TenantLoad {
	l, ok := t.tenants[tenant]
	if !ok {
		l = &TenantLoad{Tenant: tenant}
		t.tenants[tenant] = l
	}
	return l
}

func (t *tracker) queued(tenant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load(tenant).Queued++
}

func (t *tracker) started(tenant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.load(tenant)
	l.Queued--
	l.Running++
}

// done records the outcome; wasRunning is false for jobs that gave up
// while queued.
func (t *tracker) done(tenant string, outcome Outcome, wasRunning bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.load(tenant)
	if wasRunning {
		l.Running--
	} else {
		l.Queued--
	}
	if l.Queued == 0 && l.Running == 0 {
		delete(t.tenants, tenant)
	}
	t.finished[outcome]++
}

func (t *tracker) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Tenants:  make([]TenantLoad, 0, len(t.tenants)),
		Finished: make(map[Outcome]int64, len(t.finished)),
	}
	for _, l := range t.tenants {
		snap.Queued += l.Queued
		snap.Running += l.Running
		snap.Tenants = append(snap.Tenants, *l)
	}
	sort.Slice(snap.Tenants, func(i, j int) bool {
		return snap.Tenants[i].Tenant < snap.Tenants[j].Tenant
	})
	for k, v := range t.finished {
		snap.Finished[k] = v
	}
	return snap
}
