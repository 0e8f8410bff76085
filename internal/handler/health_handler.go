package handler

import (
	"net/http"

	"ampos-license-server/pkg/response"
)

const serviceName = "ampos-license-server"

func Health(w http.ResponseWriter, r *http.Request) {
	response.Raw(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

func Root(w http.ResponseWriter, r *http.Request) {
	response.Raw(w, http.StatusOK, map[string]interface{}{
		"message": "AMPOS License Server API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"/api/v1/licenses/verify":   "POST|GET",
			"/api/v1/licenses/bind":     "POST|GET",
			"/api/v1/security/alerts":   "POST",
			"/verify_ampos_license.php": "POST|GET",
			"/verify_license.php":       "POST|GET",
			"/ampos_security_alert.php": "POST",
			"/health":                   "GET",
			"/metrics":                  "GET",
		},
	})
}
