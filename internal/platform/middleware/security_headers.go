package middleware

import (
	"github.com/labstack/echo/v4"
)

// securityHeaderPolicy is applied to every response. The service is a
// JSON API carrying patient data, so the policy denies embedding,
// caching and every browser capability outright.
var securityHeaderPolicy = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "0",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Referrer-Policy":           "no-referrer",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=()",
	"Cache-Control":             "no-store",
}

// SecurityHeaders returns middleware that writes the header policy before
// the handler runs, so error responses carry it as well.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for name, value := range securityHeaderPolicy {
				h.Set(name, value)
			}
			return next(c)
		}
	}
}
