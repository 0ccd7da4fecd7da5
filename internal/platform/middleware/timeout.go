package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mentis/mentis/internal/platform/fhir"
)

// RequestTimeout returns middleware that puts a deadline on the request
// context. When the deadline is why a request failed, the client receives
// 504 with an OperationOutcome body instead of whatever error the aborted
// handler surfaced.
//
// The cutoff is cooperative. A handler that never consults its context
// runs to completion regardless, but every handler in this service hands
// the request context to the database driver, which aborts in-flight
// queries on cancellation.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return timeoutResponse(c)
			}
			return err
		}
	}
}

func timeoutResponse(c echo.Context) error {
	outcome := fhir.NewOperationOutcome("error", "timeout",
		"request processing exceeded the allowed time")
	return c.JSON(http.StatusGatewayTimeout, outcome)
}
