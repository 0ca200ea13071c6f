// Package archive expires old job history rows on a daily schedule.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/orrn/printapp/internal/db"
)

// SettingHistoryDays overrides Config.HistoryDays once stored.
const SettingHistoryDays = "history_days"

type Config struct {
	HistoryDays int
	Interval    time.Duration
	Logger      *slog.Logger
}

type Archiver struct {
	historyDays int
	defaultDays int
	interval    time.Duration
	now         func() time.Time
	log         *slog.Logger
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	mu          sync.Mutex
}

func NewArchiver(config Config) *Archiver {
	if config.HistoryDays <= 0 {
		config.HistoryDays = 30
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Archiver{
		historyDays: config.HistoryDays,
		defaultDays: config.HistoryDays,
		interval:    config.Interval,
		now:         time.Now,
		log:         config.Logger.With("component", "archive"),
		stopCh:      make(chan struct{}),
	}
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.runDailyArchive()
}

func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

// LoadSettings applies a stored history_days value, if any.
func (a *Archiver) LoadSettings(ctx context.Context) error {
	s, err := db.Settings.GetSetting(ctx, SettingHistoryDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	days, err := strconv.Atoi(s.Value)
	if err != nil || days <= 0 {
		a.log.Warn("ignoring invalid stored history_days", "value", s.Value)
		return nil
	}

	a.mu.Lock()
	a.historyDays = days
	a.mu.Unlock()
	return nil
}

func (a *Archiver) HistoryDays() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.historyDays
}

// SetHistoryDays persists and applies a new retention period.
func (a *Archiver) SetHistoryDays(ctx context.Context, days int) error {
	if days <= 0 {
		return fmt.Errorf("history days must be positive, got %d", days)
	}
	if err := db.Settings.SetSetting(ctx, SettingHistoryDays, strconv.Itoa(days), false); err != nil {
		return err
	}

	a.mu.Lock()
	a.historyDays = days
	a.mu.Unlock()
	a.log.Info("history retention changed", "days", days)
	return nil
}

// ResetHistoryDays drops the stored override and returns to the configured
// retention period.
func (a *Archiver) ResetHistoryDays(ctx context.Context) (int, error) {
	if err := db.Settings.DeleteSetting(ctx, SettingHistoryDays); err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.historyDays = a.defaultDays
	a.mu.Unlock()
	return a.defaultDays, nil
}

func (a *Archiver) runDailyArchive() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.RunArchive(context.Background()); err != nil {
				a.log.Error("history pruning failed", "error", err)
			}
		}
	}
}

// RunArchive deletes history of jobs completed more than historyDays ago and
// returns how many records were removed.
func (a *Archiver) RunArchive(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().AddDate(0, 0, -a.historyDays)
	n, err := db.History.PruneHistory(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	if n > 0 {
		a.log.Info("pruned job history", "records", n, "cutoff", cutoff)
	}
	return n, nil
}
