package integrity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ampos-license-server/internal/metrics"
	"ampos-license-server/internal/repository"
	"ampos-license-server/pkg/logger"
)

type Mode string

const (
	ModeEnforce         Mode = "enforce"
	ModeAllowRebaseline Mode = "allow-rebaseline"
)

const settingPrefix = "integrity:"

type Config struct {
	Secret         string
	FingerprintKey string
	Files          []string
	Mode           Mode
	Interval       time.Duration
}

// Monitor fingerprints the server's own files with a keyed hash and compares
// them to baselines captured on first run. In enforce mode a mismatch trips
// the monitor for the rest of the process lifetime, and every verification
// served by this instance reports disabled.
type Monitor struct {
	settings repository.SettingRepository
	cfg      Config
	key      []byte
	tripped  atomic.Bool
	mu       sync.Mutex
}

func NewMonitor(settings repository.SettingRepository, cfg Config) *Monitor {
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforce
	}

	return &Monitor{
		settings: settings,
		cfg:      cfg,
		key:      []byte(cfg.Secret + "|" + cfg.FingerprintKey),
	}
}

func (m *Monitor) Tripped() bool {
	return m.tripped.Load()
}

// Fingerprint returns the hex HMAC-SHA256 of the file contents.
func (m *Monitor) Fingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, m.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Check fingerprints every configured file once. Unreadable files are
// skipped. It returns an error only when the baseline store fails.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, path := range m.cfg.Files {
		fingerprint, err := m.Fingerprint(path)
		if err != nil {
			logger.Warn("unable to fingerprint file", "path", path, "error", err)
			continue
		}

		settingKey := settingPrefix + path
		stored, err := m.settings.Get(ctx, settingKey)
		if errors.Is(err, repository.ErrSettingNotFound) || (err == nil && stored == "") {
			logger.Info("capturing integrity baseline", "path", path)
			if err := m.settings.Set(ctx, settingKey, fingerprint); err != nil {
				return fmt.Errorf("failed to store integrity baseline: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load integrity baseline: %w", err)
		}

		if hmac.Equal([]byte(stored), []byte(fingerprint)) {
			continue
		}

		logger.Error("integrity fingerprint mismatch", "path", path, "mode", m.cfg.Mode)

		if m.cfg.Mode == ModeAllowRebaseline {
			if err := m.settings.Set(ctx, settingKey, fingerprint); err != nil {
				return fmt.Errorf("failed to rebaseline %s: %w", path, err)
			}
			continue
		}

		if !m.tripped.Swap(true) {
			logger.Error("server integrity check failed, disabling license verification", "path", path)
			metrics.IntegrityTripped.Set(1)
		}
	}

	return nil
}

// Run checks at startup and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if err := m.Check(ctx); err != nil {
		logger.Error("integrity check failed", "error", err)
	}
	m.Watch(ctx)
}

// Watch re-checks every interval until ctx is done. Callers that already ran
// the startup Check use it instead of Run.
func (m *Monitor) Watch(ctx context.Context) {
	if m.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Check(ctx); err != nil {
				logger.Error("integrity check failed", "error", err)
			}
		}
	}
}
