package api

import (
	"errors"
	"net/http"

	"CoinPulse/internal/domain/models"
	xhttp "CoinPulse/pkg/http"
	xlogger "CoinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// toAppError maps a domain error kind onto the HTTP error envelope.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return xhttp.BadRequestError(ve.Field, ve.Message).WithError(err)
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrConflict):
		return xhttp.ConflictError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrFeature):
		return xhttp.NewAppError("ERR_FEATURE", "", err.Error(), http.StatusBadRequest).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}

func respondError(c echo.Context, lgr *xlogger.Logger, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		lgr.Error(op+" failed", xlogger.Error(err))
	} else {
		lgr.Debug(op+" rejected", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
