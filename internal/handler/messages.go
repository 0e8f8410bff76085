package handler

import (
	"fmt"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/internal/service"
)

// formatTime renders wire timestamps in UTC; the layout carries no offset.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(domain.TimestampLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func intPtr(v int) *int {
	return &v
}

func invalidRequest(msg string) domain.VerifyFailureResponse {
	return domain.VerifyFailureResponse{
		Error:   msg,
		Message: "License verification failed. The request was malformed.",
		Status:  domain.StatusInvalidRequest,
	}
}

func verifySuccess(key string, out *service.Outcome) domain.VerifySuccessResponse {
	l := out.License

	warnings := out.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	return domain.VerifySuccessResponse{
		Success: true,
		Valid:   true,
		Message: "License verified successfully",
		License: domain.LicenseInfo{
			Key:              key,
			Status:           string(l.Status),
			Product:          l.ProductName,
			Customer:         l.CustomerName,
			IssuedAt:         formatTime(l.IssuedAt),
			ExpiresAt:        formatTime(l.ExpiresAt),
			DaysRemaining:    out.DaysRemaining,
			MaxDevices:       l.MaxDevices,
			CurrentDevices:   l.CurrentDevices,
			LastCheckIn:      formatTime(out.CheckedInAt),
			ChecksumVerified: out.ChecksumVerified,
		},
		Warnings: warnings,
	}
}

func verifyFailure(out *service.Outcome) domain.VerifyFailureResponse {
	resp := domain.VerifyFailureResponse{Status: out.Status}
	l := out.License

	switch out.Status {
	case domain.StatusNotFound:
		resp.Error = "Invalid license key. This license does not exist or has been revoked."
		resp.Message = "License verification failed. Please contact support."
		resp.Status = ""

	case domain.StatusSuspended:
		if out.TamperDetected {
			resp.Error = "Code integrity check failed"
			resp.Message = "SECURITY ALERT: Code tampering detected. License has been suspended. Contact support immediately."
		} else {
			resp.Error = "License is suspended"
			resp.Message = "Your license has been deactivated. Please contact support or renew your license."
		}
		resp.Reason = out.Reason

	case domain.StatusRevoked, domain.StatusInactive:
		resp.Error = fmt.Sprintf("License is %s", out.Status)
		resp.Message = "Your license has been deactivated. Please contact support or renew your license."

	case domain.StatusExpired:
		resp.Error = "License expired"
		resp.Message = fmt.Sprintf("Your license expired on %s. Please renew to continue using AMPOS.", l.ExpiresAt.UTC().Format("2006-01-02"))
		resp.ExpiredAt = formatTime(l.ExpiresAt)

	case domain.StatusGracePeriod:
		resp.Error = "License expired"
		resp.Message = fmt.Sprintf("Your license has expired. You are in a grace period until %s. Please renew your license.", out.GraceDeadline.UTC().Format("2006-01-02 15:04"))
		resp.ExpiredAt = formatTime(l.ExpiresAt)
		resp.GracePeriodEnd = formatTime(out.GraceDeadline)

	case domain.StatusDisabled:
		resp.Error = "License disabled"
		if out.Reason == service.ReasonIntegrityFailure {
			resp.Message = "License system integrity check failed. Core files were modified."
			resp.Reason = out.Reason
		} else {
			resp.Message = "Your license has expired and the grace period has ended. The application is now disabled."
			resp.ExpiredAt = formatTime(l.ExpiresAt)
			resp.GracePeriodEnd = formatTime(out.GraceDeadline)
		}

	case domain.StatusCheckinTimeout:
		resp.Error = "License connection timeout"
		resp.Message = fmt.Sprintf("License Connection Failed: No connection to portal for %d days. Weekly check-ins are required to verify license validity.", out.DaysDisconnected)
		resp.DaysDisconnected = intPtr(out.DaysDisconnected)
		resp.LastCheckIn = formatTimePtr(out.LastCheckIn)
		resp.Warning = "Please ensure your server has internet connectivity to the license portal."

	case domain.StatusDeviceLimitReached:
		resp.Error = "Device limit reached"
		resp.Message = fmt.Sprintf("Maximum device limit (%d) reached. Please remove a device or upgrade your license.", l.MaxDevices)
		resp.CurrentDevices = intPtr(l.CurrentDevices)
		resp.MaxDevices = intPtr(l.MaxDevices)

	case domain.StatusInUse:
		resp.Error = "License in use"
		resp.Message = "This license is already bound to another installation."

	case domain.StatusInvalidRequest:
		return invalidRequest("Invalid license key format")

	default:
		resp.Error = "Verification failed"
		resp.Message = "License verification failed. Please contact support."
	}

	return resp
}

func entitlementPayload(out *service.Outcome) *domain.EntitlementPayload {
	p := &domain.EntitlementPayload{ActualStatus: out.Status}
	l := out.License

	withEntitlements := func() {
		p.ExpiresAt = formatTime(l.ExpiresAt)
		p.Tier = out.Entitlements.Tier
		p.MaxProducts = out.Entitlements.MaxProducts
		p.MaxUsers = out.Entitlements.MaxUsers
		p.Features = out.Entitlements.Features
		p.ProductName = l.ProductName
	}

	switch out.Status {
	case domain.StatusActive, domain.StatusFree:
		p.Success = true
		p.Message = "License verified successfully for this installation"
		withEntitlements()

	case domain.StatusGracePeriod:
		p.Success = true
		p.Message = fmt.Sprintf("Your license has expired. You are in a grace period until %s. Please renew your license.", out.GraceDeadline.UTC().Format("2006-01-02 15:04"))
		p.GracePeriodEnd = formatTime(out.GraceDeadline)
		withEntitlements()

	case domain.StatusExpired:
		p.Message = fmt.Sprintf("Your license expired on %s.", l.ExpiresAt.UTC().Format("2006-01-02"))
		withEntitlements()

	case domain.StatusDisabled:
		if out.Reason == service.ReasonIntegrityFailure {
			p.Message = "License system integrity check failed. Core files were modified."
		} else {
			p.Message = "Your license has expired and the grace period has ended. The application is now disabled."
			p.ExpiresAt = formatTime(l.ExpiresAt)
			p.GracePeriodEnd = formatTime(out.GraceDeadline)
		}

	case domain.StatusNotFound:
		p.Message = "License key not found."

	case domain.StatusInUse:
		p.Message = "This license is already in use by another installation."

	case domain.StatusSuspended:
		p.Message = "Your license has been suspended. Please contact support."

	case domain.StatusDeviceLimitReached:
		p.Message = fmt.Sprintf("Maximum device limit (%d) reached.", l.MaxDevices)

	case domain.StatusInvalidRequest:
		p.Message = "Invalid license key format."

	default:
		p.Message = fmt.Sprintf("License is %s.", out.Status)
	}

	return p
}
