package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance runs the scheduled housekeeping pass (stale-salt purge,
// counter retention, query-planner statistics) on a fixed interval, independent of
// request traffic. Each statement is short, so an in-flight ingestion
// transaction is never blocked for longer than one statement.
type Maintenance struct {
	cron  *cron.Cron
	store Store
}

// StartMaintenance schedules the hourly pass and runs it once immediately.
func StartMaintenance(s Store) *Maintenance {
	m := &Maintenance{cron: cron.New(), store: s}
	_, _ = m.cron.AddFunc("@every 1h", m.run)
	m.cron.Start()
	go m.run()
	return m
}

// Stop halts scheduling; a pass already running finishes.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := m.store.PurgeStaleSalts(ctx, time.Now())
	if err != nil {
		slog.Error("maintenance: purge salts failed", "error", err)
	} else if purged > 0 {
		slog.Info("maintenance: purged stale salts", "count", purged)
	}

	counters, err := m.store.PurgeOldCounters(ctx, time.Now())
	if err != nil {
		slog.Error("maintenance: purge counters failed", "error", err)
	} else if counters > 0 {
		slog.Info("maintenance: purged old counters", "count", counters)
	}

	if err := m.store.Optimize(ctx); err != nil {
		slog.Error("maintenance: optimize failed", "error", err)
	}
}
