package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/pkg/envelope"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "ITSupportBD_AMPOS_SecureKey_2024"
	testKey    = "AMPOS-1A2B-3C4D-5E6F-7A8B-9C0D-1E2F-3A4B-5C6D"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type portal struct {
	server *httptest.Server
	calls  atomic.Int32
	last   domain.BindInstallationRequest
}

func newPortal(t *testing.T, reply func(req domain.BindInstallationRequest) *domain.EntitlementPayload) *portal {
	t.Helper()

	cipher, err := envelope.New(testSecret)
	require.NoError(t, err)

	p := &portal{}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.calls.Add(1)
		assert.Equal(t, BindPath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p.last))

		token, err := cipher.Seal(reply(p.last))
		assert.NoError(t, err)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(token))
	}))
	t.Cleanup(p.server.Close)
	return p
}

func newTestGuard(t *testing.T, baseURL string, mutate func(*GuardConfig)) *Guard {
	t.Helper()

	cfg := GuardConfig{
		BaseURL:        baseURL,
		Secret:         testSecret,
		LicenseKey:     testKey,
		InstallationID: "inst-1",
		AppVersion:     "1.0.0",
		Fingerprinter:  StaticFingerprinter{DeviceID: "dev-1", Hostname: "till-01"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	g, err := NewGuard(cfg)
	require.NoError(t, err)
	g.now = func() time.Time { return testNow }
	return g
}

func activePayload(domain.BindInstallationRequest) *domain.EntitlementPayload {
	return &domain.EntitlementPayload{
		Success:      true,
		Message:      "License verified successfully for this installation",
		ActualStatus: domain.StatusActive,
		ExpiresAt:    "2027-01-01 00:00:00",
		Tier:         "professional",
		MaxProducts:  1000,
		MaxUsers:     5,
		Features:     []string{"basic_pos", "reports", "inventory", "multi_user"},
		ProductName:  "AMPOS Professional",
	}
}

func TestGuard_ActiveEntitlement(t *testing.T) {
	p := newPortal(t, activePayload)
	g := newTestGuard(t, p.server.URL, nil)

	e := g.Check(context.Background())

	assert.Equal(t, domain.StatusActive, e.Status)
	assert.Equal(t, "professional", e.Tier)
	assert.Equal(t, 1000, e.MaxProducts)
	assert.True(t, e.HasFeature("inventory"))
	assert.Equal(t, testNow, e.LastSuccess)
	assert.True(t, g.Allowed())

	assert.Equal(t, testKey, p.last.AppLicenseKey)
	assert.Equal(t, "inst-1", p.last.InstallationID)
	assert.Equal(t, "dev-1", p.last.DeviceID)
	assert.Equal(t, "till-01", p.last.Hostname)
	assert.Equal(t, domain.LooseString("anonymous"), p.last.UserID)
}

func TestGuard_UsesCacheWithinInterval(t *testing.T) {
	p := newPortal(t, activePayload)
	g := newTestGuard(t, p.server.URL, nil)

	g.Check(context.Background())
	g.now = func() time.Time { return testNow.Add(6 * 24 * time.Hour) }
	g.Check(context.Background())
	assert.Equal(t, int32(1), p.calls.Load())

	g.now = func() time.Time { return testNow.Add(7 * 24 * time.Hour) }
	g.Check(context.Background())
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestGuard_Unconfigured(t *testing.T) {
	p := newPortal(t, activePayload)

	noKey := newTestGuard(t, p.server.URL, func(c *GuardConfig) { c.LicenseKey = "" })
	e := noKey.Refresh(context.Background())
	assert.Equal(t, domain.StatusUnconfigured, e.Status)
	assert.Zero(t, e.MaxProducts)
	assert.Empty(t, e.Features)

	noInstall := newTestGuard(t, p.server.URL, func(c *GuardConfig) { c.InstallationID = "" })
	e = noInstall.Refresh(context.Background())
	assert.Equal(t, domain.StatusUnconfigured, e.Status)

	assert.Equal(t, int32(0), p.calls.Load())
	assert.False(t, noKey.Allowed())
}

func TestGuard_PortalUnreachableKeepsCache(t *testing.T) {
	p := newPortal(t, activePayload)
	g := newTestGuard(t, p.server.URL, nil)
	g.Refresh(context.Background())

	p.server.Close()

	g.now = func() time.Time { return testNow.Add(3 * 24 * time.Hour) }
	e := g.Refresh(context.Background())

	assert.Equal(t, domain.StatusPortalUnreachable, e.Status)
	assert.Equal(t, "professional", e.Tier)
	assert.Equal(t, 1000, e.MaxProducts)
	assert.Equal(t, testNow, e.LastSuccess)
	assert.True(t, g.Allowed())

	g.now = func() time.Time { return testNow.Add(8 * 24 * time.Hour) }
	assert.False(t, g.Allowed())
}

func TestGuard_PortalUnreachableBeforeFirstSuccess(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	g := newTestGuard(t, srv.URL, nil)
	e := g.Refresh(context.Background())

	assert.Equal(t, domain.StatusPortalUnreachable, e.Status)
	assert.False(t, g.Allowed())
}

func TestGuard_RateLimitedTreatedAsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"error":"Rate limit exceeded. Too many requests.","valid":false}`))
	}))
	defer srv.Close()

	g := newTestGuard(t, srv.URL, nil)
	e := g.Refresh(context.Background())
	assert.Equal(t, domain.StatusPortalUnreachable, e.Status)
}

func TestGuard_DecryptFailureResetsEntitlements(t *testing.T) {
	p := newPortal(t, activePayload)
	g := newTestGuard(t, p.server.URL, nil)
	g.Refresh(context.Background())

	other := newTestGuard(t, p.server.URL, func(c *GuardConfig) { c.Secret = "a-completely-different-shared-secret" })
	other.current = g.Entitlement()

	e := other.Refresh(context.Background())
	assert.Equal(t, domain.StatusError, e.Status)
	assert.Zero(t, e.MaxProducts)
	assert.Zero(t, e.MaxUsers)
	assert.Empty(t, e.Features)
	assert.Nil(t, e.ExpiresAt)
	assert.False(t, other.Allowed())
}

func TestGuard_ClientSideGrace(t *testing.T) {
	expired := func(expiresAt string) func(domain.BindInstallationRequest) *domain.EntitlementPayload {
		return func(domain.BindInstallationRequest) *domain.EntitlementPayload {
			return &domain.EntitlementPayload{
				Message:      "License has expired",
				ActualStatus: domain.StatusExpired,
				ExpiresAt:    expiresAt,
			}
		}
	}

	p := newPortal(t, expired("2026-02-27 12:00:00"))
	g := newTestGuard(t, p.server.URL, nil)
	e := g.Refresh(context.Background())

	assert.Equal(t, domain.StatusGracePeriod, e.Status)
	require.NotNil(t, e.GracePeriodEnd)
	assert.Equal(t, time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC), *e.GracePeriodEnd)
	assert.Contains(t, e.Message, "2026-03-06 12:00")
	assert.True(t, g.Allowed())

	p2 := newPortal(t, expired("2026-02-01 00:00:00"))
	g2 := newTestGuard(t, p2.server.URL, nil)
	e = g2.Refresh(context.Background())
	assert.Equal(t, domain.StatusDisabled, e.Status)
	assert.False(t, g2.Allowed())
}

func TestGuard_FailurePayloadDefaults(t *testing.T) {
	p := newPortal(t, func(domain.BindInstallationRequest) *domain.EntitlementPayload {
		return &domain.EntitlementPayload{
			Message:      "License is already in use by another installation.",
			ActualStatus: domain.StatusInUse,
		}
	})
	g := newTestGuard(t, p.server.URL, nil)

	e := g.Refresh(context.Background())
	assert.Equal(t, domain.StatusInUse, e.Status)
	assert.Equal(t, domain.DefaultTier, e.Tier)
	assert.Equal(t, 100, e.MaxProducts)
	assert.False(t, g.Allowed())
}

func TestGuard_SendsChecksum(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "index.php")
	require.NoError(t, os.WriteFile(f, []byte("<?php echo 1;"), 0o600))

	p := newPortal(t, activePayload)
	g := newTestGuard(t, p.server.URL, func(c *GuardConfig) { c.ChecksumFiles = []string{f} })

	g.Refresh(context.Background())
	assert.Len(t, p.last.Checksum, 64)
}

func TestGuard_InstallationIDFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "installation_id")

	p := newPortal(t, activePayload)
	g := newTestGuard(t, p.server.URL, func(c *GuardConfig) {
		c.InstallationID = ""
		c.InstallationIDPath = path
	})

	require.NotEmpty(t, g.InstallationID())
	g.Refresh(context.Background())
	assert.Equal(t, g.InstallationID(), p.last.InstallationID)
}

func TestGuard_ReadsDoNotWaitForPortal(t *testing.T) {
	cipher, err := envelope.New(testSecret)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		token, err := cipher.Seal(activePayload(domain.BindInstallationRequest{}))
		assert.NoError(t, err)
		w.Write([]byte(token))
	}))
	defer srv.Close()
	defer close(release)

	g := newTestGuard(t, srv.URL, nil)

	done := make(chan Entitlement, 1)
	go func() { done <- g.Refresh(context.Background()) }()
	<-entered

	reads := make(chan struct{})
	go func() {
		g.Entitlement()
		g.Allowed()
		g.Due()
		close(reads)
	}()

	select {
	case <-reads:
	case <-time.After(time.Second):
		t.Fatal("entitlement reads blocked behind the portal call")
	}

	release <- struct{}{}
	assert.Equal(t, domain.StatusActive, (<-done).Status)
}

type tamperPortal struct {
	server *httptest.Server
	binds  atomic.Int32
	alerts chan domain.SecurityAlertRequest
}

func newTamperPortal(t *testing.T) *tamperPortal {
	t.Helper()

	cipher, err := envelope.New(testSecret)
	require.NoError(t, err)

	p := &tamperPortal{alerts: make(chan domain.SecurityAlertRequest, 4)}
	mux := http.NewServeMux()
	mux.HandleFunc(BindPath, func(w http.ResponseWriter, r *http.Request) {
		p.binds.Add(1)
		token, err := cipher.Seal(activePayload(domain.BindInstallationRequest{}))
		assert.NoError(t, err)
		w.Write([]byte(token))
	})
	mux.HandleFunc(AlertPath, func(w http.ResponseWriter, r *http.Request) {
		var alert domain.SecurityAlertRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		p.alerts <- alert
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"incident_id":"inc-1"}}`))
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func TestGuard_LocalBaselineLocksOnModifiedFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "index.php")
	require.NoError(t, os.WriteFile(f, []byte("<?php echo 1;"), 0o600))

	p := newTamperPortal(t)
	g := newTestGuard(t, p.server.URL, func(c *GuardConfig) {
		c.ChecksumFiles = []string{f}
		c.BaselinePath = filepath.Join(dir, ".ampos_checksums")
	})

	e := g.Check(context.Background())
	require.Equal(t, domain.StatusActive, e.Status)
	assert.FileExists(t, filepath.Join(dir, ".ampos_checksums"))
	assert.Empty(t, g.Tampered())

	require.NoError(t, os.WriteFile(f, []byte("<?php /* patched */ echo 1;"), 0o600))

	e = g.Check(context.Background())
	assert.Equal(t, domain.StatusSuspended, e.Status)
	assert.Empty(t, e.Features)
	assert.False(t, g.Allowed())
	assert.Equal(t, "File modified - "+f, g.Tampered())

	select {
	case alert := <-p.alerts:
		assert.Equal(t, testKey, alert.LicenseKey)
		assert.Equal(t, domain.EventTamperingDetected, alert.Event)
		assert.Equal(t, "File modified - "+f, alert.Reason)
		assert.Equal(t, "dev-1", alert.DeviceID)
		assert.Equal(t, "till-01", alert.Hostname)
		assert.Equal(t, testNow.Unix(), alert.Timestamp)
	default:
		t.Fatal("tampering was not reported")
	}

	binds := p.binds.Load()
	e = g.Refresh(context.Background())
	assert.Equal(t, domain.StatusSuspended, e.Status, "a portal refresh does not unlock")
	assert.Equal(t, binds, p.binds.Load())
	g.Check(context.Background())
	assert.Len(t, p.alerts, 0, "reported once")
}

func TestGuard_LocalBaselineCorrupted(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "index.php")
	require.NoError(t, os.WriteFile(f, []byte("<?php echo 1;"), 0o600))
	baseline := filepath.Join(dir, ".ampos_checksums")
	require.NoError(t, os.WriteFile(baseline, []byte("garbage"), 0o600))

	p := newTamperPortal(t)
	g := newTestGuard(t, p.server.URL, func(c *GuardConfig) {
		c.ChecksumFiles = []string{f}
		c.BaselinePath = baseline
	})

	e := g.Check(context.Background())
	assert.Equal(t, domain.StatusSuspended, e.Status)
	assert.Equal(t, "Checksum baseline corrupted", g.Tampered())
	assert.Equal(t, int32(0), p.binds.Load())
}

func TestGuard_ReportFailureStillLocks(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "index.php")
	require.NoError(t, os.WriteFile(f, []byte("a"), 0o600))

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	g := newTestGuard(t, srv.URL, func(c *GuardConfig) {
		c.ChecksumFiles = []string{f}
		c.BaselinePath = filepath.Join(dir, ".ampos_checksums")
	})
	g.Check(context.Background())
	require.NoError(t, os.WriteFile(f, []byte("b"), 0o600))

	assert.Equal(t, domain.StatusSuspended, g.Check(context.Background()).Status)
}
