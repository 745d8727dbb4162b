package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveRequest(route, method, status string, elapsed time.Duration)
}

func recoverMiddleware(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					logger.Error().Err(perr).Bytes("stack", debug.Stack()).Msg("panic in handler")
					err = internal(perr)
				}
			}()
			return next(c)
		}
	}
}

func requestLogger(logger zerolog.Logger, observer RequestObserver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			elapsed := time.Since(start)
			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if observer != nil {
				observer.ObserveRequest(route, req.Method, strconv.Itoa(status), elapsed)
			}

			evt := logger.Info()
			if status >= http.StatusInternalServerError {
				evt = logger.Error().Err(err)
			}
			evt.Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote", c.RealIP()).
				Int("status", status).
				Dur("latency", elapsed).
				Msg("http request")
			return nil
		}
	}
}
