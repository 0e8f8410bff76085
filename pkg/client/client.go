package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/pkg/envelope"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout = 15 * time.Second

	BindPath   = "/api/v1/licenses/bind"
	VerifyPath = "/api/v1/licenses/verify"
	AlertPath  = "/api/v1/security/alerts"
)

var (
	ErrPortalUnreachable = errors.New("license portal unreachable")
	ErrRateLimited       = errors.New("license portal rate limit exceeded")
)

// Client talks to the license portal over both verification variants.
type Client struct {
	http   *resty.Client
	cipher *envelope.Cipher
}

func New(baseURL, secret string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("portal base URL is required")
	}

	cipher, err := envelope.New(secret)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: rc, cipher: cipher}, nil
}

// Bind performs the installation-binding call and opens the encrypted reply.
// Transport failures wrap ErrPortalUnreachable; a reply that cannot be
// opened returns the envelope error.
func (c *Client) Bind(ctx context.Context, req domain.BindInstallationRequest) (*domain.EntitlementPayload, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(BindPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortalUnreachable, err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	var payload domain.EntitlementPayload
	if err := c.cipher.Open(resp.String(), &payload); err != nil {
		return nil, fmt.Errorf("failed to open portal response: %w", err)
	}

	return &payload, nil
}

// DirectResult holds exactly one of Success or Failure.
type DirectResult struct {
	StatusCode int
	Success    *domain.VerifySuccessResponse
	Failure    *domain.VerifyFailureResponse
}

func (r *DirectResult) Valid() bool {
	return r.Success != nil
}

// Verify performs the direct verification call with a plaintext reply.
func (c *Client) Verify(ctx context.Context, req domain.VerifyLicenseRequest) (*DirectResult, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(VerifyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortalUnreachable, err)
	}

	var head struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(resp.Body(), &head); err != nil {
		return nil, fmt.Errorf("failed to decode portal response (HTTP %d): %w", resp.StatusCode(), err)
	}

	result := &DirectResult{StatusCode: resp.StatusCode()}
	if head.Valid {
		result.Success = &domain.VerifySuccessResponse{}
		if err := json.Unmarshal(resp.Body(), result.Success); err != nil {
			return nil, fmt.Errorf("failed to decode success response: %w", err)
		}
		return result, nil
	}

	result.Failure = &domain.VerifyFailureResponse{}
	if err := json.Unmarshal(resp.Body(), result.Failure); err != nil {
		return nil, fmt.Errorf("failed to decode failure response: %w", err)
	}
	return result, nil
}

// ReportTampering tells the portal that this client found its own files
// modified. The portal only records the report.
func (c *Client) ReportTampering(ctx context.Context, alert domain.SecurityAlertRequest) error {
	if alert.Event == "" {
		alert.Event = domain.EventTamperingDetected
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(alert).
		Post(AlertPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortalUnreachable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.IsError():
		return fmt.Errorf("portal rejected security alert (HTTP %d)", resp.StatusCode())
	}
	return nil
}
