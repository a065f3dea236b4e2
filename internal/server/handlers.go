package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// healthCheckTimeout bounds the database checks behind /health
const healthCheckTimeout = 5 * time.Second

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Service   string            `json:"service"`
	Databases map[string]string `json:"databases,omitempty"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	Goroutines    int     `json:"goroutines"`
	MaxInFlight   int     `json:"maxInFlight"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// handleHealth reports liveness plus the state of every collaborator store
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Service: "riskengine",
	}
	status := http.StatusOK

	if len(s.databases) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		names := make([]string, 0, len(s.databases))
		for name := range s.databases {
			names = append(names, name)
		}
		sort.Strings(names)

		response.Databases = make(map[string]string, len(names))
		for _, name := range names {
			db := s.databases[name]
			if db == nil {
				response.Databases[name] = "not configured"
				continue
			}
			if err := db.HealthCheck(ctx); err != nil {
				s.log.Warn().Err(err).Str("database", name).Msg("Health check failed")
				response.Databases[name] = "unavailable"
				response.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			response.Databases[name] = "ok"
		}
	}

	s.writeJSON(w, status, response)
}

// handleSystemStatus reports host load alongside the worker pool bound
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuAvg, memUsed := s.getSystemStats()

	s.writeJSON(w, http.StatusOK, SystemStatusResponse{
		CPUPercent:    cpuAvg,
		MemoryPercent: memUsed,
		Goroutines:    runtime.NumGoroutine(),
		MaxInFlight:   s.maxInFlight,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	})
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
