package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ampos-license-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_VerifyDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, VerifyPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("fail") != "" {
			w.Write([]byte(`{"success":false,"valid":false,"error":"License has expired","message":"License has expired","status":"grace_period","grace_period_end":"2026-03-06 12:00:00"}`))
			return
		}
		w.Write([]byte(`{"success":true,"valid":true,"message":"License is valid","license":{"key":"` + testKey + `","status":"active","max_devices":3,"current_devices":1},"warnings":[]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, testSecret, 0)
	require.NoError(t, err)

	res, err := c.Verify(context.Background(), domain.VerifyLicenseRequest{LicenseKey: testKey})
	require.NoError(t, err)
	require.True(t, res.Valid())
	assert.Equal(t, "active", res.Success.License.Status)
	assert.Equal(t, 3, res.Success.License.MaxDevices)

	c.http.SetQueryParam("fail", "1")
	res, err = c.Verify(context.Background(), domain.VerifyLicenseRequest{LicenseKey: testKey})
	require.NoError(t, err)
	require.False(t, res.Valid())
	assert.Equal(t, domain.StatusGracePeriod, res.Failure.Status)
	assert.Equal(t, "2026-03-06 12:00:00", res.Failure.GracePeriodEnd)
}

func TestClient_VerifyUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(srv.URL, testSecret, 0)
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), domain.VerifyLicenseRequest{LicenseKey: testKey})
	assert.ErrorIs(t, err, ErrPortalUnreachable)
}

func TestNew_RequiresBaseURLAndSecret(t *testing.T) {
	_, err := New("", testSecret, 0)
	assert.Error(t, err)

	_, err = New("http://localhost", "", 0)
	assert.Error(t, err)
}

func TestDeviceID(t *testing.T) {
	macs := []string{"aa:bb:cc:dd:ee:ff", "11:22:33:44:55:66"}
	want := sha256.Sum256([]byte("aa:bb:cc:dd:ee:ff:11:22:33:44:55:66|till-01"))
	assert.Equal(t, hex.EncodeToString(want[:]), DeviceID("till-01", macs))

	dupes := []string{"aa:bb:cc:dd:ee:ff", "", "11:22:33:44:55:66", "aa:bb:cc:dd:ee:ff"}
	assert.Equal(t, DeviceID("till-01", macs), DeviceID("till-01", dupes))

	swapped := []string{"11:22:33:44:55:66", "aa:bb:cc:dd:ee:ff"}
	assert.NotEqual(t, DeviceID("till-01", macs), DeviceID("till-01", swapped))
	assert.NotEqual(t, DeviceID("till-01", macs), DeviceID("till-02", macs))

	none := sha256.Sum256([]byte("|till-01"))
	assert.Equal(t, hex.EncodeToString(none[:]), DeviceID("till-01", nil))
}

func TestLoadOrCreateInstallationID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "installation_id")

	first, err := LoadOrCreateInstallationID(path)
	require.NoError(t, err)
	require.Len(t, first, 36)

	second, err := LoadOrCreateInstallationID(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("  legacy-id \n"), 0o600))
	third, err := LoadOrCreateInstallationID(path)
	require.NoError(t, err)
	assert.Equal(t, "legacy-id", third)
}

func TestEntitlement_Usable(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	tests := []struct {
		name string
		e    Entitlement
		want bool
	}{
		{"active", Entitlement{Status: domain.StatusActive}, true},
		{"free", Entitlement{Status: domain.StatusFree}, true},
		{"grace open", Entitlement{Status: domain.StatusGracePeriod, GracePeriodEnd: &future}, true},
		{"grace closed", Entitlement{Status: domain.StatusGracePeriod, GracePeriodEnd: &past}, false},
		{"suspended", Entitlement{Status: domain.StatusSuspended}, false},
		{"unknown", DefaultEntitlement(), false},
		{"offline within grace", Entitlement{Status: domain.StatusPortalUnreachable, LastStatus: domain.StatusActive, LastSuccess: testNow.Add(-2 * 24 * time.Hour)}, true},
		{"offline after revoked", Entitlement{Status: domain.StatusPortalUnreachable, LastStatus: domain.StatusRevoked, LastSuccess: testNow}, false},
		{"offline never succeeded", Entitlement{Status: domain.StatusPortalUnreachable}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.Usable(testNow, DefaultOfflineGrace))
		})
	}
}

func TestClient_ReportTampering(t *testing.T) {
	var got domain.SecurityAlertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AlertPath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"incident_id":"inc-1"}}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, testSecret, time.Second)
	require.NoError(t, err)

	err = c.ReportTampering(context.Background(), domain.SecurityAlertRequest{
		LicenseKey: testKey,
		Reason:     "File modified - index.php",
		Hostname:   "till-01",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventTamperingDetected, got.Event)
	assert.Equal(t, "File modified - index.php", got.Reason)
}

func TestClient_ReportTamperingFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"License not found"}`))
	}))
	c, err := New(srv.URL, testSecret, time.Second)
	require.NoError(t, err)

	err = c.ReportTampering(context.Background(), domain.SecurityAlertRequest{LicenseKey: testKey, Reason: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	srv.Close()
	err = c.ReportTampering(context.Background(), domain.SecurityAlertRequest{LicenseKey: testKey, Reason: "x"})
	assert.ErrorIs(t, err, ErrPortalUnreachable)
}
