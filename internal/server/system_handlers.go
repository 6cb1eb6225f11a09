package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/quantcore/internal/database"
	"github.com/aristath/quantcore/internal/work"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Databases map[string]string `json:"databases"`
	Pool      work.Snapshot     `json:"pool"`
}

// DBInfo describes one database file
type DBInfo struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	SizeMB float64 `json:"size_mb"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Uptime     string        `json:"uptime"`
	CPUPercent float64       `json:"cpu_percent"`
	MemPercent float64       `json:"memory_percent"`
	Pool       work.Snapshot `json:"pool"`
	Databases  []DBInfo      `json:"databases"`
	LastCheck  string        `json:"last_check"`
}

// SystemHandlers serves health and host status
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	pool        *work.Pool
	databases   []*database.DB
}

// NewSystemHandlers creates system handlers. Nil databases are skipped.
func NewSystemHandlers(log zerolog.Logger, pool *work.Pool, dbs ...*database.DB) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		pool:        pool,
	}
	for _, db := range dbs {
		if db != nil {
			h.databases = append(h.databases, db)
		}
	}
	return h
}

// HandleHealth handles GET /health. A database that does not answer a
// ping marks the service degraded.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Service:   "quantcore",
		Databases: make(map[string]string, len(h.databases)),
	}
	if h.pool != nil {
		response.Pool = h.pool.Snapshot()
	}
	for _, db := range h.databases {
		if err := db.Conn().PingContext(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Database ping failed")
			response.Databases[db.Name()] = "unavailable"
			response.Status = "degraded"
			continue
		}
		response.Databases[db.Name()] = "ok"
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// HandleStatus handles GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Uptime:     time.Since(h.startupTime).Round(time.Second).String(),
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
		Databases:  []DBInfo{},
		LastCheck:  time.Now().Format(time.RFC3339),
	}
	if h.pool != nil {
		response.Pool = h.pool.Snapshot()
	}
	for _, db := range h.databases {
		info := DBInfo{Name: db.Name(), Path: db.Path()}
		if stat, err := os.Stat(db.Path()); err == nil {
			info.SizeMB = float64(stat.Size()) / 1024 / 1024
		}
		response.Databases = append(response.Databases, info)
	}

	h.writeJSON(w, http.StatusOK, response)
}

func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// Short sample so the endpoint stays responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
