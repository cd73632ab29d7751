package models

import (
	"time"

	"gorm.io/gorm"
)

// Server is a monitored fleet member. Agents identify themselves by
// ServerID when pushing heartbeats.
type Server struct {
	gorm.Model
	ServerID          string     `json:"id" gorm:"uniqueIndex;size:36"`
	Name              string     `json:"name"`
	Category          string     `json:"category"` // e.g. bare-metal, vm, edge
	TDPWatts          int        `json:"tdp_watts"`
	HeartbeatInterval int        `json:"heartbeat_interval"` // expected seconds between samples
	LastSeen          *time.Time `json:"last_seen,omitempty"`
	Enabled           bool       `json:"enabled" gorm:"default:true"`
}

// MetricSample is one heartbeat's worth of readings for a server.
type MetricSample struct {
	gorm.Model
	ServerID      string    `json:"server_id" gorm:"index"`
	Timestamp     time.Time `json:"timestamp" gorm:"index"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
}

// ConditionValue returns the reading for a numeric condition.
func (m *MetricSample) ConditionValue(c Condition) float64 {
	switch c {
	case ConditionCPU:
		return m.CPUPercent
	case ConditionMemory:
		return m.MemoryPercent
	case ConditionDisk:
		return m.DiskPercent
	default:
		return 0
	}
}
