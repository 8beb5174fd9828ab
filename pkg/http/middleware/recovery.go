package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"CoinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var httpPanicsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coinpulse_http_panics_total",
		Help: "Handler panics recovered by the HTTP server",
	},
	[]string{"route"},
)

func init() { prometheus.MustRegister(httpPanicsTotal) }

// panicBody mirrors the API error envelope; this package cannot import pkg/http.
type panicBody struct {
	Status  int           `json:"status"`
	Message string        `json:"message"`
	Data    []panicDetail `json:"data"`
}

type panicDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Recover turns a handler panic into a 500 in the usual error envelope.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				httpPanicsTotal.WithLabelValues(c.Path()).Inc()
				l.Error("http handler panic",
					logger.String("method", c.Request().Method),
					logger.String("route", c.Path()),
					logger.Error(perr),
					logger.String("stack", string(debug.Stack())))
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, panicBody{
					Status:  http.StatusInternalServerError,
					Message: http.StatusText(http.StatusInternalServerError),
					Data:    []panicDetail{{Code: "ERR_INTERNAL", Message: "internal error"}},
				})
			}()
			return next(c)
		}
	}
}
