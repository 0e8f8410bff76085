package client

import (
	"time"

	"ampos-license-server/internal/domain"
)

// Entitlement is the cached result of the last verification attempt.
type Entitlement struct {
	Status         domain.Status
	Message        string
	Tier           string
	MaxProducts    int
	MaxUsers       int
	Features       []string
	ProductName    string
	ExpiresAt      *time.Time
	GracePeriodEnd *time.Time

	// LastStatus is what the portal said on the last successful exchange.
	LastStatus   domain.Status
	LastVerified time.Time
	LastSuccess  time.Time
}

// DefaultEntitlement is the state before the first check.
func DefaultEntitlement() Entitlement {
	basic := domain.LookupTier(domain.DefaultTier)
	return Entitlement{
		Status:      "unknown",
		Message:     "License status unknown.",
		Tier:        basic.Tier,
		MaxProducts: basic.MaxProducts,
		MaxUsers:    basic.MaxUsers,
		Features:    basic.Features,
	}
}

// Usable reports whether the application may run on this entitlement.
// While the portal is unreachable the last good status is honored for
// offlineGrace after the last successful exchange.
func (e Entitlement) Usable(now time.Time, offlineGrace time.Duration) bool {
	switch e.Status {
	case domain.StatusGracePeriod:
		return e.GracePeriodEnd == nil || now.Before(*e.GracePeriodEnd)
	case domain.StatusPortalUnreachable:
		if e.LastSuccess.IsZero() || now.Sub(e.LastSuccess) >= offlineGrace {
			return false
		}
		return e.LastStatus.Usable()
	}
	return e.Status.Usable()
}

func (e Entitlement) HasFeature(feature string) bool {
	for _, f := range e.Features {
		if f == feature {
			return true
		}
	}
	return false
}

func (e *Entitlement) reset(status domain.Status, message string) {
	none := domain.NoEntitlements()
	e.Status = status
	e.Message = message
	e.Tier = none.Tier
	e.MaxProducts = none.MaxProducts
	e.MaxUsers = none.MaxUsers
	e.Features = none.Features
	e.ProductName = ""
	e.ExpiresAt = nil
	e.GracePeriodEnd = nil
}

func (e Entitlement) clone() Entitlement {
	e.Features = append([]string(nil), e.Features...)
	return e
}
