package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fleeteye/internal/config"
	"github.com/fleeteye/internal/logger"
	"github.com/fleeteye/internal/monitor"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Agent collects local host metrics and pushes heartbeats to the server.
type Agent struct {
	cfg    config.AgentConfig
	client *http.Client
	log    zerolog.Logger
}

func New(cfg config.AgentConfig) *Agent {
	log := logger.WithServer(cfg.ServerID)
	return &Agent{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log.With().Str("component", "agent").Logger(),
	}
}

// Run collects and pushes on the configured interval until ctx is done.
// A failed push is logged and retried on the next tick; the server's
// at-least-once delivery and timestamp-ordering rules make this safe.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.ServerURL == "" || a.cfg.ServerID == "" {
		return fmt.Errorf("agent requires server_url and server_id")
	}

	interval := time.Duration(a.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	a.log.Info().
		Str("server_url", a.cfg.ServerURL).
		Dur("interval", interval).
		Msg("agent started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.pushOnce(ctx); err != nil {
			a.log.Error().Err(err).Msg("heartbeat push failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) pushOnce(ctx context.Context) error {
	hb, err := a.collect(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	url := a.cfg.ServerURL + "/api/v1/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (a *Agent) collect(ctx context.Context) (monitor.Heartbeat, error) {
	hb := monitor.Heartbeat{
		ServerID:  a.cfg.ServerID,
		Timestamp: time.Now(),
	}

	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return hb, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(cpuPercents) > 0 {
		hb.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return hb, fmt.Errorf("failed to read memory usage: %w", err)
	}
	hb.MemoryPercent = vm.UsedPercent

	diskPath := a.cfg.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return hb, fmt.Errorf("failed to read disk usage: %w", err)
	}
	hb.DiskPercent = du.UsedPercent

	return hb, nil
}
