package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/pkg/hash"
	"ampos-license-server/pkg/logger"
)

const (
	DefaultInterval     = 7 * 24 * time.Hour
	DefaultOfflineGrace = 7 * 24 * time.Hour
	DefaultGracePeriod  = 7 * 24 * time.Hour
)

type GuardConfig struct {
	BaseURL    string
	Secret     string
	LicenseKey string
	UserID     string
	AppVersion string

	// InstallationID wins over InstallationIDPath when both are set.
	InstallationID     string
	InstallationIDPath string

	// ChecksumFiles are hashed into the code checksum sent on every check.
	ChecksumFiles []string
	// BaselinePath enables the local per-file comparison of ChecksumFiles.
	BaselinePath string

	Interval     time.Duration
	OfflineGrace time.Duration
	GracePeriod  time.Duration
	Timeout      time.Duration

	Fingerprinter DeviceFingerprinter
}

// Guard caches the entitlement of one installation and re-verifies it with
// the portal once per interval.
type Guard struct {
	cfg            GuardConfig
	client         *Client
	installationID string
	baseline       *Baseline

	// refreshMu serializes portal exchanges. mu guards current and tampered
	// and is never held across a network call.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	current   Entitlement
	tampered  string

	now func() time.Time
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.OfflineGrace <= 0 {
		cfg.OfflineGrace = DefaultOfflineGrace
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Fingerprinter == nil {
		cfg.Fingerprinter = HostFingerprinter{}
	}
	if cfg.UserID == "" {
		cfg.UserID = "anonymous"
	}

	c, err := New(cfg.BaseURL, cfg.Secret, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	id := cfg.InstallationID
	if id == "" && cfg.InstallationIDPath != "" {
		id, err = LoadOrCreateInstallationID(cfg.InstallationIDPath)
		if err != nil {
			return nil, err
		}
	}

	g := &Guard{
		cfg:            cfg,
		client:         c,
		installationID: id,
		current:        DefaultEntitlement(),
		now:            time.Now,
	}
	if cfg.BaselinePath != "" && len(cfg.ChecksumFiles) > 0 {
		g.baseline = NewBaseline(cfg.BaselinePath, c.cipher)
	}
	return g, nil
}

func (g *Guard) InstallationID() string {
	return g.installationID
}

// Entitlement returns a copy of the cached entitlement.
func (g *Guard) Entitlement() Entitlement {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.clone()
}

// Allowed reports whether the cached entitlement lets the application run.
func (g *Guard) Allowed() bool {
	return g.Entitlement().Usable(g.now(), g.cfg.OfflineGrace)
}

// Due reports whether the cache is older than the verification interval.
func (g *Guard) Due() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.LastVerified.IsZero() || g.now().Sub(g.current.LastVerified) >= g.cfg.Interval
}

// Check verifies the local file baseline and returns the cached
// entitlement, refreshing it first when due.
func (g *Guard) Check(ctx context.Context) Entitlement {
	if e, locked := g.verifyBaseline(ctx); locked {
		return e
	}
	if !g.Due() {
		return g.Entitlement()
	}
	return g.Refresh(ctx)
}

// Refresh re-verifies with the portal regardless of the cache age.
func (g *Guard) Refresh(ctx context.Context) Entitlement {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	if g.Tampered() != "" {
		return g.Entitlement()
	}

	now := g.now()
	next := g.Entitlement()
	next.LastVerified = now

	switch {
	case g.cfg.LicenseKey == "":
		next.reset(domain.StatusUnconfigured, "Application license key is missing.")
	case g.installationID == "":
		next.reset(domain.StatusUnconfigured, "Application installation ID is missing. Please re-run setup.")
	default:
		g.exchange(ctx, now, &next)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tampered != "" {
		return g.current.clone()
	}
	g.current = next
	return next.clone()
}

// verifyBaseline locks the guard when a checked file no longer matches its
// recorded checksum. Once locked the guard stays locked for the life of the
// process.
func (g *Guard) verifyBaseline(ctx context.Context) (Entitlement, bool) {
	g.mu.RLock()
	locked := g.tampered != ""
	g.mu.RUnlock()
	if locked {
		return g.Entitlement(), true
	}
	if g.baseline == nil {
		return Entitlement{}, false
	}

	modified, err := g.baseline.Verify(g.cfg.ChecksumFiles)
	var reason string
	switch {
	case errors.Is(err, ErrBaselineUnreadable):
		reason = "Checksum baseline corrupted"
	case err != nil:
		logger.Warn("failed to verify local checksum baseline", "error", err)
		return Entitlement{}, false
	case len(modified) > 0:
		reason = "File modified - " + strings.Join(modified, ", ")
	default:
		return Entitlement{}, false
	}

	logger.Error("tampering detected, locking application", "reason", reason)
	g.report(ctx, reason)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tampered = reason
	g.current.reset(domain.StatusSuspended, "Security violation detected. This installation has been locked. Please contact support.")
	g.current.LastVerified = g.now()
	return g.current.clone(), true
}

func (g *Guard) report(ctx context.Context, reason string) {
	if g.cfg.LicenseKey == "" {
		return
	}
	deviceID, hostname, err := g.cfg.Fingerprinter.Fingerprint()
	if err != nil {
		logger.Warn("failed to fingerprint device", "error", err)
	}

	err = g.client.ReportTampering(ctx, domain.SecurityAlertRequest{
		LicenseKey: g.cfg.LicenseKey,
		Event:      domain.EventTamperingDetected,
		Reason:     reason,
		DeviceID:   deviceID,
		Hostname:   hostname,
		Timestamp:  g.now().Unix(),
	})
	if err != nil {
		logger.Warn("failed to report tampering to license portal", "error", err)
	}
}

// Tampered returns the reason the guard locked itself, if it did.
func (g *Guard) Tampered() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tampered
}

func (g *Guard) exchange(ctx context.Context, now time.Time, next *Entitlement) {
	req := domain.BindInstallationRequest{
		AppLicenseKey:  g.cfg.LicenseKey,
		UserID:         domain.LooseString(g.cfg.UserID),
		InstallationID: g.installationID,
		AppVersion:     g.cfg.AppVersion,
	}

	if len(g.cfg.ChecksumFiles) > 0 {
		sum, err := hash.Files(g.cfg.ChecksumFiles)
		if err != nil {
			logger.Warn("failed to compute code checksum", "error", err)
		}
		req.Checksum = sum
	}

	deviceID, hostname, err := g.cfg.Fingerprinter.Fingerprint()
	if err != nil {
		logger.Warn("failed to fingerprint device", "error", err)
	}
	req.DeviceID = deviceID
	req.Hostname = hostname

	payload, err := g.client.Bind(ctx, req)
	switch {
	case errors.Is(err, ErrPortalUnreachable), errors.Is(err, ErrRateLimited):
		logger.Warn("license portal unreachable, keeping cached entitlement", "error", err)
		next.Status = domain.StatusPortalUnreachable
		next.Message = "Could not connect to license server. Will retry next week."
		return
	case err != nil:
		logger.Error("failed to read license portal response", "error", err)
		next.reset(domain.StatusError, "Failed to decrypt license response. Key mismatch or corrupted data.")
		return
	}

	g.apply(now, payload, next)
	logger.Info("license verification completed",
		"status", next.Status,
		"tier", next.Tier,
		"expires_at", payload.ExpiresAt,
	)
}

func (g *Guard) apply(now time.Time, p *domain.EntitlementPayload, next *Entitlement) {
	basic := domain.LookupTier(domain.DefaultTier)

	next.Status = p.ActualStatus
	if next.Status == "" {
		next.Status = domain.StatusError
	}
	next.Message = p.Message
	if next.Message == "" {
		next.Message = "License is invalid."
	}
	next.Tier = orDefault(p.Tier, basic.Tier)
	next.MaxProducts = p.MaxProducts
	if next.MaxProducts == 0 {
		next.MaxProducts = basic.MaxProducts
	}
	next.MaxUsers = p.MaxUsers
	if next.MaxUsers == 0 {
		next.MaxUsers = basic.MaxUsers
	}
	next.Features = p.Features
	if next.Features == nil {
		next.Features = basic.Features
	}
	next.ProductName = orDefault(p.ProductName, "AMPOS Basic")
	next.ExpiresAt = parseTime(p.ExpiresAt)
	next.GracePeriodEnd = parseTime(p.GracePeriodEnd)
	next.LastStatus = next.Status
	next.LastSuccess = now

	if next.Status != domain.StatusExpired || next.ExpiresAt == nil {
		if next.Status != domain.StatusGracePeriod {
			next.GracePeriodEnd = nil
		}
		return
	}

	end := next.ExpiresAt.Add(g.cfg.GracePeriod)
	next.GracePeriodEnd = &end
	if now.Before(end) {
		next.Status = domain.StatusGracePeriod
		next.Message = fmt.Sprintf("Your license has expired. You are in a grace period until %s. Please renew your license.",
			end.Format("2006-01-02 15:04"))
	} else {
		next.Status = domain.StatusDisabled
		next.Message = "Your license has expired and the grace period has ended. The application is now disabled."
	}
	next.LastStatus = next.Status
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.ParseInLocation(domain.TimestampLayout, s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
