// Package middleware carries the HTTP cross-cutting concerns: client
// IP resolution, device fingerprinting, rate limiting and token auth.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const (
	fingerprintKey ctxKey = iota
	clientIPKey
	claimsKey
)

const (
	headerPlatform   = "X-Platform"    // ios|android|web
	headerAppVersion = "X-App-Version" // semver
	headerDeviceID   = "X-Device-Instance-Id"
)

// FingerprintConfig controls device fingerprinting and client IP
// resolution.
type FingerprintConfig struct {
	Pepper                string
	TrustedProxyIPHeaders []string
	TrustedProxyCIDRs     []string
}

// FingerprintFromContext returns the device fingerprint computed for
// the request, if the middleware ran.
func FingerprintFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(fingerprintKey).(string)
	return v, ok && v != ""
}

// ClientIPFromContext returns the resolved client IP for the request.
func ClientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// Fingerprint resolves the client IP (honoring trusted proxy headers)
// and derives a stable device fingerprint from the device headers and
// user agent. Both land in the request context for the handlers.
func Fingerprint(cfg FingerprintConfig) func(next http.Handler) http.Handler {
	trusted := parseCIDRs(cfg.TrustedProxyCIDRs)
	headers := cfg.TrustedProxyIPHeaders
	if len(headers) == 0 {
		headers = []string{"X-Forwarded-For", "X-Real-Ip"}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, headers, trusted)
			ctx := context.WithValue(r.Context(), clientIPKey, ip)

			if fp := computeFingerprint(r, cfg.Pepper); fp != "" {
				ctx = context.WithValue(ctx, fingerprintKey, fp)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// computeFingerprint hashes the stable device-identifying inputs. An
// explicit device instance id wins; otherwise the platform headers and
// user agent have to do.
func computeFingerprint(r *http.Request, pepper string) string {
	deviceID := sanitizeHeader(r.Header.Get(headerDeviceID), 128)
	platform := sanitizeHeader(r.Header.Get(headerPlatform), 16)
	version := sanitizeHeader(r.Header.Get(headerAppVersion), 32)
	ua := sanitizeHeader(r.UserAgent(), 256)

	var material string
	if deviceID != "" {
		material = "id:" + deviceID
	} else if ua != "" || platform != "" {
		material = "ua:" + ua + "|" + platform + "|" + version
	} else {
		return ""
	}

	h := sha256.New()
	h.Write([]byte(pepper))
	h.Write([]byte(material))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:16])
}

// clientIP resolves the caller's IP, trusting forwarding headers only
// when the direct peer is a trusted proxy.
func clientIP(r *http.Request, headers []string, trusted []*net.IPNet) string {
	peer := remoteAddrIP(r.RemoteAddr)
	if peer != nil && ipInCIDRs(peer, trusted) {
		for _, h := range headers {
			v := strings.TrimSpace(r.Header.Get(h))
			if v == "" {
				continue
			}
			if strings.EqualFold(h, "X-Forwarded-For") {
				// leftmost entry is the original client
				if idx := strings.IndexByte(v, ','); idx >= 0 {
					v = v[:idx]
				}
			}
			if ip := net.ParseIP(strings.TrimSpace(v)); ip != nil {
				return ip.String()
			}
		}
	}
	if peer != nil {
		return peer.String()
	}
	return ""
}

func remoteAddrIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

func ipInCIDRs(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	var out []*net.IPNet
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(strings.TrimSpace(c)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func sanitizeHeader(v string, maxLen int) string {
	v = strings.TrimSpace(v)
	if len(v) > maxLen {
		v = v[:maxLen]
	}
	var b strings.Builder
	for _, r := range v {
		if r >= 32 && r < 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
