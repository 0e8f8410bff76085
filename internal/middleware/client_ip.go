package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

const ClientIPKey contextKey = "clientIP"

// NormalizeIP returns the canonical IP of a bare address or host:port pair
// without zone identifiers. ok is false when raw is not an IP.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		return addrPort.Addr().WithZone("").Unmap().String(), true
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.WithZone("").Unmap().String(), true
	}
	if strings.HasPrefix(raw, "[") && strings.Contains(raw, "]") {
		if addr, err := netip.ParseAddr(raw[1:strings.LastIndex(raw, "]")]); err == nil {
			return addr.WithZone("").Unmap().String(), true
		}
	}
	return raw, false
}

// ClientIPMiddleware resolves the caller address once per request. Forwarding
// headers are honoured only when trustProxy is set, otherwise any client
// could pick its own rate-limit bucket.
func ClientIPMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trustProxy)
			ctx := context.WithValue(r.Context(), ClientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.Split(xff, ",")[0]
			if ip, ok := NormalizeIP(first); ok {
				return ip
			}
		}
		if ip, ok := NormalizeIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	ip, _ := NormalizeIP(r.RemoteAddr)
	return ip
}

func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	ip, _ := NormalizeIP(r.RemoteAddr)
	return ip
}
