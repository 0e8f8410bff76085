package handler

import (
	"context"
	"errors"
	"net/http"

	"ampos-license-server/internal/domain"
	"ampos-license-server/internal/middleware"
	"ampos-license-server/internal/repository"
	"ampos-license-server/internal/service"
	"ampos-license-server/pkg/logger"
	"ampos-license-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

type AlertReporter interface {
	Report(ctx context.Context, in service.AlertInput) (*domain.SecurityIncident, error)
}

type AlertHandler struct {
	service  AlertReporter
	validate *validator.Validate
}

func NewAlertHandler(svc AlertReporter) *AlertHandler {
	return &AlertHandler{
		service:  svc,
		validate: NewValidator(),
	}
}

type alertRecorded struct {
	IncidentID string `json:"incident_id"`
}

// Report accepts a tamper alert from a client.
func (h *AlertHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req domain.SecurityAlertRequest
	if err := decodeRequest(r, &req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, validationMessage(err))
		return
	}

	incident, err := h.service.Report(r.Context(), service.AlertInput{
		LicenseKey: req.LicenseKey,
		Reason:     req.Reason,
		DeviceID:   req.DeviceID,
		Hostname:   req.Hostname,
		IPAddress:  middleware.GetClientIP(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLicenseNotFound):
			response.NotFound(w, "License not found")
			return
		case errors.Is(err, service.ErrInvalidLicenseKey):
			response.BadRequest(w, "Invalid license key format")
			return
		}
		logger.Error("failed to record security alert", "license_key", req.LicenseKey, "error", err)
		response.InternalError(w, "Internal server error")
		return
	}

	response.Success(w, alertRecorded{IncidentID: incident.ID})
}
