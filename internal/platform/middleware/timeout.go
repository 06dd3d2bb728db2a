package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on every request context. Store calls made
// by handlers inherit it and fail once it passes.
//
// The handler runs on the calling goroutine, so the response is written at
// most once. An error returned after the deadline becomes a 504 unless the
// handler already wrote a response; a handler that finishes its work late
// (an ingestion whose consultation already committed) still answers normally.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && !c.Response().Committed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errTimedOut()
			}
			return err
		}
	}
}

func errTimedOut() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded the allowed time limit")
}
