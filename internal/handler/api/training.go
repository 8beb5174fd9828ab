package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"CoinPulse/internal/domain/models"
	"CoinPulse/pkg/cache"
	xhttp "CoinPulse/pkg/http"
	xlogger "CoinPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

type JobAPI interface {
	SubmitTrain(ctx context.Context, req *models.CreateModelRequest) (*models.Job, error)
	SubmitTest(ctx context.Context, req *models.TestModelRequest) (*models.Job, error)
	SubmitCompare(ctx context.Context, req *models.CompareModelsRequest) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	Cancel(ctx context.Context, id string) error
}

type ModelAPI interface {
	Get(ctx context.Context, id string) (*models.TrainedModel, error)
	List(ctx context.Context, f models.ModelFilter) ([]*models.TrainedModel, int64, error)
	Artifact(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Availability(ctx context.Context) (*models.DataAvailability, error)
}

// TrainingHandler serves the training service's job and registry routes.
type TrainingHandler struct {
	logger *xlogger.Logger
	jobs   JobAPI
	models ModelAPI
	cache  cache.Service
}

const availabilityTTL = 30 * time.Second

func NewTrainingHandler(logger *xlogger.Logger, jobs JobAPI, registry ModelAPI) *TrainingHandler {
	return &TrainingHandler{logger: logger, jobs: jobs, models: registry}
}

// SetCache enables response caching for the data-availability route.
func (h *TrainingHandler) SetCache(c cache.Service) { h.cache = c }

func (h *TrainingHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/models/create", h.CreateModel)
	g.POST("/test-model", h.TestModel)
	g.POST("/models/compare", h.CompareModels)

	g.GET("/queue", h.ListJobs)
	g.GET("/queue/:id", h.GetJob)
	g.DELETE("/queue/:id", h.CancelJob)

	g.GET("/models", h.ListModels)
	g.GET("/models/:id", h.GetModel)
	g.GET("/models/:id/download", h.DownloadModel)
	g.DELETE("/models/:id", h.DeleteModel)

	g.GET("/data-availability", h.DataAvailability)
}

func (h *TrainingHandler) CreateModel(c echo.Context) error {
	req := &models.CreateModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.SubmitTrain(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, "create model", err)
	}
	return xhttp.CreatedResponse(c, map[string]any{"job_id": job.ID, "status": "created"})
}

func (h *TrainingHandler) TestModel(c echo.Context) error {
	req := &models.TestModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.SubmitTest(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, "test model", err)
	}
	return xhttp.CreatedResponse(c, map[string]any{"job_id": job.ID})
}

func (h *TrainingHandler) CompareModels(c echo.Context) error {
	req := &models.CompareModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.SubmitCompare(c.Request().Context(), req)
	if err != nil {
		return respondError(c, h.logger, "compare models", err)
	}
	return xhttp.CreatedResponse(c, map[string]any{"job_id": job.ID})
}

func (h *TrainingHandler) ListJobs(c echo.Context) error {
	q := &models.ListJobsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	jobs, err := h.jobs.List(c.Request().Context(), q.Status, q.Limit)
	if err != nil {
		return respondError(c, h.logger, "list jobs", err)
	}
	return xhttp.ListResponse(c, jobs, int64(len(jobs)))
}

func (h *TrainingHandler) GetJob(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, "get job", err)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *TrainingHandler) CancelJob(c echo.Context) error {
	id := c.Param("id")
	if err := h.jobs.Cancel(c.Request().Context(), id); err != nil {
		return respondError(c, h.logger, "cancel job", err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"job_id": id, "status": models.JobCancelled})
}

func (h *TrainingHandler) ListModels(c echo.Context) error {
	q := &models.ListModelsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, q); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, total, err := h.models.List(c.Request().Context(), models.ModelFilter{Status: q.Status, Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		return respondError(c, h.logger, "list models", err)
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *TrainingHandler) GetModel(c echo.Context) error {
	m, err := h.models.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, h.logger, "get model", err)
	}
	return xhttp.SuccessResponse(c, m)
}

// DownloadModel streams the raw artifact; the prediction service imports through it.
func (h *TrainingHandler) DownloadModel(c echo.Context) error {
	id := c.Param("id")
	b, err := h.models.Artifact(c.Request().Context(), id)
	if err != nil {
		return respondError(c, h.logger, "download model", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id+".bin"))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, b)
}

func (h *TrainingHandler) DeleteModel(c echo.Context) error {
	id := c.Param("id")
	if err := h.models.Delete(c.Request().Context(), id); err != nil {
		return respondError(c, h.logger, "delete model", err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"id": id, "deleted": true})
}

func (h *TrainingHandler) DataAvailability(c echo.Context) error {
	var (
		av  *models.DataAvailability
		err error
	)
	if h.cache != nil {
		av, err = cache.GetOrLoad(c.Request().Context(), h.cache, "data-availability", availabilityTTL, h.models.Availability)
	} else {
		av, err = h.models.Availability(c.Request().Context())
	}
	if err != nil {
		return respondError(c, h.logger, "data availability", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=30")
	return xhttp.SuccessResponse(c, av)
}
