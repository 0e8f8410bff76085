package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/internal/repository"
	"ampos-license-server/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_EndToEndOverSQLStore(t *testing.T) {
	db, err := repository.OpenSQL(repository.SQLConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()),
	})
	require.NoError(t, err)

	licenses := repository.NewSQLLicenseRepository(db)
	require.NoError(t, licenses.Create(context.Background(), &domain.License{
		Key:        testKey,
		Status:     domain.LicenseActive,
		Tier:       "basic",
		IssuedAt:   time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		MaxDevices: 1,
	}))

	svc := service.NewVerificationService(licenses, repository.NewSQLAuditRepository(db), nil, service.VerificationConfig{
		CheckinTimeout:    7 * 24 * time.Hour,
		ExpiryWarningDays: 30,
	})
	h, _ := newTestHandler(t, svc)

	first := decodeBody(t, postJSON(h.Verify, "/", `{"license_key":"`+testKey+`","device_id":"D1","checksum":"C1"}`))
	assert.Equal(t, true, first["valid"])
	assert.Len(t, first["warnings"], 1, "a license expiring tomorrow carries a renewal warning")

	second := postJSON(h.Verify, "/", `{"license_key":"`+testKey+`","device_id":"D2","checksum":"C1"}`)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "Device limit reached", decodeBody(t, second)["error"])

	third := decodeBody(t, postJSON(h.Verify, "/", `{"license_key":"`+testKey+`","device_id":"D1","checksum":"C2"}`))
	assert.Equal(t, "suspended", third["status"])
	assert.Equal(t, "checksum_mismatch", third["reason"])

	stored, err := licenses.FindByKey(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseSuspended, stored.Status)
	assert.Equal(t, "C1", stored.CodeChecksum)
	assert.Equal(t, 1, stored.CurrentDevices)
}
