package api

import (
	"context"
	"strconv"

	"CoinPulse/internal/domain/models"
	"CoinPulse/internal/service/ratelimit"
	xhttp "CoinPulse/pkg/http"
	xlogger "CoinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

type ActiveModelAPI interface {
	Import(ctx context.Context, req *models.ImportModelRequest) (*models.ActiveModel, error)
	List(ctx context.Context, activeOnly bool) ([]*models.ActiveModel, error)
	Activate(ctx context.Context, id int64) (*models.ActiveModel, error)
	Deactivate(ctx context.Context, id int64) (*models.ActiveModel, error)
	UpdateConfig(ctx context.Context, id int64, req *models.UpdateActiveConfigRequest) (*models.ActiveModel, error)
	Delete(ctx context.Context, id int64) error
}

type PredictionAPI interface {
	Predict(ctx context.Context, req *models.PredictRequest) ([]models.PredictionResult, error)
	ListPredictions(ctx context.Context, f models.PredictionFilter) ([]*models.Prediction, int64, error)
}

type AlertAPI interface {
	List(ctx context.Context, f models.AlertFilter) ([]*models.AlertEvaluation, int64, error)
	Stats(ctx context.Context) (*models.AlertStats, error)
}

// PredictionHandler serves the prediction service's registry, scoring and alert routes.
type PredictionHandler struct {
	logger      *xlogger.Logger
	active      ActiveModelAPI
	predictions PredictionAPI
	alerts      AlertAPI
	limiter     *ratelimit.Limiter
}

func NewPredictionHandler(logger *xlogger.Logger, active ActiveModelAPI, predictions PredictionAPI, alerts AlertAPI) *PredictionHandler {
	return &PredictionHandler{logger: logger, active: active, predictions: predictions, alerts: alerts}
}

// SetLimiter rate-limits the synchronous predict route per client.
func (h *PredictionHandler) SetLimiter(l *ratelimit.Limiter) { h.limiter = l }

func (h *PredictionHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/models", h.ListModels)
	g.POST("/models/import", h.ImportModel)
	g.POST("/models/:id/activate", h.Activate)
	g.POST("/models/:id/deactivate", h.Deactivate)
	g.PATCH("/models/:id/config", h.UpdateConfig)
	g.DELETE("/models/:id", h.DeleteModel)

	var mw []echo.MiddlewareFunc
	if h.limiter != nil {
		mw = append(mw, h.limiter.Middleware("predict"))
	}
	g.POST("/predict", h.Predict, mw...)
	g.GET("/predictions", h.ListPredictions)

	g.GET("/alerts", h.ListAlerts)
	g.GET("/alerts/stats", h.AlertStats)
}

func activeID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func (h *PredictionHandler) ListModels(c echo.Context) error {
	q := &models.ListActiveModelsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.active.List(c.Request().Context(), q.ActiveOnly)
	if err != nil {
		return respondError(c, h.logger, "list active models", err)
	}
	if rows == nil {
		rows = []*models.ActiveModel{}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *PredictionHandler) ImportModel(c echo.Context) error {
	req := &models.ImportModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.active.Import(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, "import model", err)
	}
	return xhttp.CreatedResponse(c, a)
}

func (h *PredictionHandler) Activate(c echo.Context) error {
	return h.toggle(c, true)
}

func (h *PredictionHandler) Deactivate(c echo.Context) error {
	return h.toggle(c, false)
}

func (h *PredictionHandler) toggle(c echo.Context, on bool) error {
	id, err := activeID(c)
	if err != nil {
		return respondError(c, h.logger, "toggle model", err)
	}
	var a *models.ActiveModel
	if on {
		a, err = h.active.Activate(c.Request().Context(), id)
	} else {
		a, err = h.active.Deactivate(c.Request().Context(), id)
	}
	if err != nil {
		return respondError(c, h.logger, "toggle model", err)
	}
	return xhttp.SuccessResponse(c, a)
}

func (h *PredictionHandler) UpdateConfig(c echo.Context) error {
	id, err := activeID(c)
	if err != nil {
		return respondError(c, h.logger, "update config", err)
	}
	req := &models.UpdateActiveConfigRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	a, err := h.active.UpdateConfig(c.Request().Context(), id, req)
	if err != nil {
		return respondError(c, h.logger, "update config", err)
	}
	return xhttp.SuccessResponse(c, a)
}

func (h *PredictionHandler) DeleteModel(c echo.Context) error {
	id, err := activeID(c)
	if err != nil {
		return respondError(c, h.logger, "delete model", err)
	}
	if err := h.active.Delete(c.Request().Context(), id); err != nil {
		return respondError(c, h.logger, "delete model", err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"id": id, "deleted": true})
}

func (h *PredictionHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.predictions.Predict(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, "predict", err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"coin_id": req.CoinID, "predictions": res})
}

func (h *PredictionHandler) ListPredictions(c echo.Context) error {
	q := &models.ListPredictionsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, total, err := h.predictions.ListPredictions(c.Request().Context(), q.Filter())
	if err != nil {
		return respondError(c, h.logger, "list predictions", err)
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *PredictionHandler) ListAlerts(c echo.Context) error {
	q := &models.ListAlertsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, total, err := h.alerts.List(c.Request().Context(), q.Filter())
	if err != nil {
		return respondError(c, h.logger, "list alerts", err)
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *PredictionHandler) AlertStats(c echo.Context) error {
	st, err := h.alerts.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, h.logger, "alert stats", err)
	}
	return xhttp.SuccessResponse(c, st)
}
