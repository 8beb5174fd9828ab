package middleware

import (
	"time"

	"CoinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one debug line per request; 4xx are logged at info.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req, res := c.Request(), c.Response()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("uri", req.RequestURI),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Duration("latency_ms", time.Since(start)),
			}
			if res.Status >= 400 && res.Status < 500 {
				l.Info("http request", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
