package service

import (
	"context"
	"strconv"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/internal/repository"
)

type mockLicenseRepo struct {
	licenses map[string]*domain.License
	updates  int
	finds    int

	// conflicts makes the next N updates fail as if another request won.
	conflicts  int
	onConflict func()
}

func newMockLicenseRepo() *mockLicenseRepo {
	return &mockLicenseRepo{
		licenses: make(map[string]*domain.License),
	}
}

func cloneLicense(l *domain.License) *domain.License {
	c := *l
	c.Devices = append([]domain.Device(nil), l.Devices...)
	if l.LastCheckIn != nil {
		t := *l.LastCheckIn
		c.LastCheckIn = &t
	}
	if l.LastActiveAt != nil {
		t := *l.LastActiveAt
		c.LastActiveAt = &t
	}
	return &c
}

func (m *mockLicenseRepo) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	m.finds++
	l, ok := m.licenses[key]
	if !ok {
		return nil, repository.ErrLicenseNotFound
	}
	return cloneLicense(l), nil
}

func (m *mockLicenseRepo) Create(ctx context.Context, license *domain.License) error {
	if _, ok := m.licenses[license.Key]; ok {
		return repository.ErrLicenseExists
	}
	license.Revision = "1"
	m.licenses[license.Key] = cloneLicense(license)
	return nil
}

func (m *mockLicenseRepo) Update(ctx context.Context, license *domain.License) error {
	if m.conflicts > 0 {
		m.conflicts--
		if m.onConflict != nil {
			m.onConflict()
		}
		return repository.ErrRevisionConflict
	}

	stored, ok := m.licenses[license.Key]
	if !ok {
		return repository.ErrLicenseNotFound
	}
	if stored.Revision != license.Revision {
		return repository.ErrRevisionConflict
	}

	rev, _ := strconv.Atoi(stored.Revision)
	license.Revision = strconv.Itoa(rev + 1)
	license.CurrentDevices = len(license.Devices)
	m.licenses[license.Key] = cloneLicense(license)
	m.updates++
	return nil
}

func (m *mockLicenseRepo) stored(key string) *domain.License {
	return m.licenses[key]
}

type mockAuditRepo struct {
	verifications []*domain.VerificationLogEntry
	incidents     []*domain.SecurityIncident
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{}
}

func (m *mockAuditRepo) AppendVerification(ctx context.Context, entry *domain.VerificationLogEntry) error {
	m.verifications = append(m.verifications, entry)
	return nil
}

func (m *mockAuditRepo) AppendIncident(ctx context.Context, incident *domain.SecurityIncident) error {
	m.incidents = append(m.incidents, incident)
	return nil
}

type fakeKillSwitch struct {
	tripped bool
}

func (f *fakeKillSwitch) Tripped() bool {
	return f.tripped
}

const testKey = "AMPOS-0000-0000-0000-0000-0000-0000-0000-0000"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedLicense(repo *mockLicenseRepo, mutate func(l *domain.License)) *domain.License {
	l := &domain.License{
		ID:           "lic-1",
		Key:          testKey,
		Status:       domain.LicenseActive,
		ProductName:  "AMPOS Professional",
		Tier:         "professional",
		CustomerName: "Test Customer",
		IssuedAt:     testNow.Add(-365 * 24 * time.Hour),
		ExpiresAt:    testNow.Add(24 * time.Hour),
		MaxDevices:   1,
	}
	if mutate != nil {
		mutate(l)
	}
	repo.Create(context.Background(), l)
	return l
}
