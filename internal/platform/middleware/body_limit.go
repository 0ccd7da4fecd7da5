package middleware

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mentis/mentis/internal/platform/fhir"
)

// BodyLimit returns middleware that caps request body sizes. Most endpoints
// get defaultLimit. Endpoints that accept a full instrument definition
// (scale create and update, FHIR Questionnaire import) get importLimit,
// since a definition with dozens of items and interpretation bands dwarfs
// a routine payload such as a response submission.
//
// Sizes are strings like "256K", "1M" or "10M". The K, M and G suffixes
// scale by powers of 1024 and may carry a trailing B. A bare number is
// bytes. Oversized requests receive 413 with an OperationOutcome body.
func BodyLimit(defaultLimit, importLimit string) echo.MiddlewareFunc {
	defaultBytes := parseSizeLimit(defaultLimit)
	importBytes := parseSizeLimit(importLimit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			limit := defaultBytes
			if definitionEndpoint(req.Method, req.URL.Path) {
				limit = importBytes
			}

			// A declared Content-Length over the limit is rejected before
			// reading a single byte.
			if req.ContentLength > limit {
				return payloadTooLarge(c, limit)
			}

			// Clients can omit Content-Length or understate it, so the
			// body is also capped during reads.
			req.Body = &limitedBody{ReadCloser: req.Body, remaining: limit}

			return next(c)
		}
	}
}

// definitionEndpoint reports whether the request carries an instrument
// definition rather than a routine payload.
func definitionEndpoint(method, path string) bool {
	path = strings.TrimSuffix(path, "/")
	switch method {
	case http.MethodPost:
		return path == "/api/v1/scales" || path == "/fhir/Questionnaire"
	case http.MethodPut:
		id, ok := strings.CutPrefix(path, "/api/v1/scales/")
		return ok && id != "" && !strings.Contains(id, "/")
	}
	return false
}

// errBodyTooLarge propagates from a handler's body read up to the HTTP
// error handler, which renders it as a 413.
var errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// limitedBody wraps a request body and fails the read that crosses the
// limit. Each read is capped at one byte past the remaining allowance;
// that extra byte is how an over-limit body is detected without buffering
// the whole thing.
type limitedBody struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, errBodyTooLarge
	}

	if room := b.remaining + 1; int64(len(p)) > room {
		p = p[:room]
	}

	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		b.exceeded = true
		return 0, errBodyTooLarge
	}

	return n, err
}

func payloadTooLarge(c echo.Context, limit int64) error {
	msg := fmt.Sprintf("request body exceeds the %d byte limit", limit)
	return c.JSON(http.StatusRequestEntityTooLarge, fhir.NewOperationOutcome("error", "too-costly", msg))
}

// parseSizeLimit converts a human readable size such as "1M" or "512K"
// into bytes. Unparseable or non-positive input falls back to 1 MB so a
// misconfigured limit never disables the cap entirely.
func parseSizeLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))

	var unit int64 = 1
	for _, suffix := range []struct {
		text string
		size int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
		{"K", 1 << 10},
		{"M", 1 << 20},
		{"G", 1 << 30},
	} {
		if rest, ok := strings.CutSuffix(s, suffix.text); ok {
			s, unit = rest, suffix.size
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n * unit
}
