package server

import (
	"net/http"
	"strings"
)

const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig sets the hardening headers attached to every response. The
// defaults restrict the dashboard to same-origin resources and forbid
// framing; set FrameAncestors or ContentSecurityPolicy when the UI is
// embedded in an estate portal.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	cfg.FrameAncestors = orDefault(cfg.FrameAncestors, defaultFrameAncestors)
	cfg.FrameOptions = orDefault(cfg.FrameOptions, defaultFrameOptions)
	cfg.ReferrerPolicy = orDefault(cfg.ReferrerPolicy, defaultReferrerPolicy)
	cfg.PermissionsPolicy = orDefault(cfg.PermissionsPolicy, defaultPermissionsPolicy)
	cfg.ContentTypeOptions = orDefault(cfg.ContentTypeOptions, defaultContentTypeOptions)
	cfg.ContentSecurityPolicy = orDefault(cfg.ContentSecurityPolicy, defaultContentSecurityPolicy(cfg.FrameAncestors))
	return cfg
}

func defaultContentSecurityPolicy(frameAncestors string) string {
	directives := []string{
		"default-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		"script-src 'self'",
		"style-src 'self'",
		"font-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + orDefault(frameAncestors, defaultFrameAncestors),
		"form-action 'self'",
	}
	return strings.Join(directives, "; ")
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()
	headers := [][2]string{
		{"Content-Security-Policy", effective.ContentSecurityPolicy},
		{"X-Frame-Options", effective.FrameOptions},
		{"X-Content-Type-Options", effective.ContentTypeOptions},
		{"Referrer-Policy", effective.ReferrerPolicy},
		{"Permissions-Policy", effective.PermissionsPolicy},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, header := range headers {
			if header[1] != "" {
				w.Header().Set(header[0], header[1])
			}
		}
		next.ServeHTTP(w, r)
	})
}
