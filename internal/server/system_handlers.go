package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantfold/bulwark/internal/database"
)

// SystemHandlers serves process and host-level status endpoints
type SystemHandlers struct {
	startedAt time.Time
	log       zerolog.Logger
	dataDir   string
	databases []*database.DB
}

// NewSystemHandlers creates new system status handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases []*database.DB) *SystemHandlers {
	return &SystemHandlers{
		startedAt: time.Now().UTC(),
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		databases: databases,
	}
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
			"cpu_percent":    cpuPercent,
			"memory_percent": memPercent,
			"data_dir":       h.dataDir,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, response)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]map[string]interface{}, 0, len(h.databases))

	for _, db := range h.databases {
		entry := map[string]interface{}{
			"name": db.Name(),
			"path": db.Path(),
		}

		if info, err := os.Stat(db.Path()); err == nil {
			entry["size_mb"] = float64(info.Size()) / 1024 / 1024
		}

		if err := db.Conn().Ping(); err != nil {
			entry["reachable"] = false
		} else {
			entry["reachable"] = true
		}

		stats = append(stats, entry)
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"databases": stats,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, response)
}

// HandleDiskUsage handles GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"data_dir_mb": h.getDirSize(h.dataDir),
	}

	if usage, err := disk.Usage(h.dataDir); err == nil {
		data["total_gb"] = float64(usage.Total) / 1024 / 1024 / 1024
		data["free_gb"] = float64(usage.Free) / 1024 / 1024 / 1024
		data["used_percent"] = usage.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	}

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, response)
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages.
// The CPU sample uses a 100ms window so the endpoint stays fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
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

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
