package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ampos-license-server/internal/domain"
	"ampos-license-server/internal/middleware"
	"ampos-license-server/internal/service"
	"ampos-license-server/pkg/envelope"
	"ampos-license-server/pkg/logger"
	"ampos-license-server/pkg/response"

	"github.com/go-playground/validator/v10"
)

const maxRequestBytes = 64 << 10

type Verifier interface {
	Verify(ctx context.Context, in service.VerifyInput) (*service.Outcome, error)
}

type VerificationHandler struct {
	service  Verifier
	cipher   *envelope.Cipher
	validate *validator.Validate
}

func NewVerificationHandler(svc Verifier, cipher *envelope.Cipher) *VerificationHandler {
	return &VerificationHandler{
		service:  svc,
		cipher:   cipher,
		validate: NewValidator(),
	}
}

// NewValidator returns a validator that understands the license_key tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("license_key", func(fl validator.FieldLevel) bool {
		return domain.IsValidLicenseKey(fl.Field().String())
	})
	return v
}

// Verify is the direct verification call. Business outcomes, including
// malformed keys, are reported with HTTP 200 in a plaintext JSON body.
func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyLicenseRequest
	if err := decodeRequest(r, &req); err != nil {
		response.Raw(w, http.StatusOK, invalidRequest("Invalid request payload"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Raw(w, http.StatusOK, invalidRequest(validationMessage(err)))
		return
	}

	out, err := h.service.Verify(r.Context(), service.VerifyInput{
		Mode:       service.ModeDirect,
		LicenseKey: req.LicenseKey,
		Checksum:   req.Checksum,
		DeviceID:   req.DeviceID,
		Hostname:   req.Hostname,
		Version:    req.Version,
		IPAddress:  middleware.GetClientIP(r),
	})
	if err != nil {
		logger.Error("license verification failed", "license_key", req.LicenseKey, "error", err)
		response.Raw(w, http.StatusInternalServerError, domain.VerifyFailureResponse{
			Error:   "Verification failed",
			Message: "An internal error occurred. Please try again later.",
		})
		return
	}

	if out.Valid() {
		response.Raw(w, http.StatusOK, verifySuccess(req.LicenseKey, out))
		return
	}

	response.Raw(w, http.StatusOK, verifyFailure(out))
}

// Bind is the installation-binding call. Every response, including
// failures, is an encrypted envelope.
func (h *VerificationHandler) Bind(w http.ResponseWriter, r *http.Request) {
	var req domain.BindInstallationRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeEnvelope(w, http.StatusOK, &domain.EntitlementPayload{
			Message:      "Invalid request payload.",
			ActualStatus: domain.StatusInvalidRequest,
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeEnvelope(w, http.StatusOK, &domain.EntitlementPayload{
			Message:      validationMessage(err),
			ActualStatus: domain.StatusInvalidRequest,
		})
		return
	}

	out, err := h.service.Verify(r.Context(), service.VerifyInput{
		Mode:           service.ModeBinding,
		LicenseKey:     req.AppLicenseKey,
		Checksum:       req.Checksum,
		DeviceID:       req.DeviceID,
		Hostname:       req.Hostname,
		Version:        req.AppVersion,
		UserID:         string(req.UserID),
		InstallationID: req.InstallationID,
		IPAddress:      middleware.GetClientIP(r),
	})
	if err != nil {
		logger.Error("installation binding failed", "license_key", req.AppLicenseKey, "error", err)
		h.writeEnvelope(w, http.StatusInternalServerError, &domain.EntitlementPayload{
			Message:      "License verification failed. Please try again later.",
			ActualStatus: domain.StatusError,
		})
		return
	}

	h.writeEnvelope(w, http.StatusOK, entitlementPayload(out))
}

func (h *VerificationHandler) writeEnvelope(w http.ResponseWriter, status int, payload *domain.EntitlementPayload) {
	token, err := h.cipher.Seal(payload)
	if err != nil {
		logger.Error("failed to seal entitlement payload", "error", err)
		response.InternalError(w, "Internal server error")
		return
	}
	response.Envelope(w, status, token)
}

// decodeRequest reads a JSON body and falls back to query parameters when
// the body is empty or not JSON.
func decodeRequest(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}

	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dst); err == nil {
			return nil
		}
	}

	query := r.URL.Query()
	if len(query) == 0 {
		if len(bytes.TrimSpace(body)) > 0 {
			return errors.New("request body is not valid JSON")
		}
		return nil
	}

	params := make(map[string]string, len(query))
	for k := range query {
		params[k] = query.Get(k)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}

	fe := verrs[0]
	switch {
	case fe.Tag() == "required" && (fe.Field() == "LicenseKey" || fe.Field() == "AppLicenseKey"):
		return "License key is required"
	case fe.Tag() == "license_key":
		return "Invalid license key format"
	case fe.Tag() == "required" && fe.Field() == "InstallationID":
		return "Installation ID is required"
	default:
		return "Invalid value for " + fe.Field()
	}
}
