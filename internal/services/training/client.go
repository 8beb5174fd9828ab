package training

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CoinPulse/internal/domain/models"
	xhttp "CoinPulse/pkg/http"
)

// Client talks to the training service API for model metadata and artifact recovery.
type Client struct {
	baseURL string
	client  *xhttp.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithRetry(2, 200*time.Millisecond)),
	}
}

// GetModel fetches a trained model record. Unknown ids return a NotFoundError.
func (c *Client) GetModel(ctx context.Context, modelID string) (*models.TrainedModel, error) {
	var env struct {
		Data *models.TrainedModel `json:"data"`
	}
	if err := c.get(ctx, "/api/models/"+url.PathEscape(modelID), modelID, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, models.NewNotFoundError("model", modelID)
	}
	return env.Data, nil
}

// DownloadArtifact returns the raw artifact bytes of a ready model.
func (c *Client) DownloadArtifact(ctx context.Context, modelID string) ([]byte, error) {
	var body []byte
	if err := c.get(ctx, "/api/models/"+url.PathEscape(modelID)+"/download", modelID, &body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, path, modelID string, dest interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("training service url not configured")
	}
	err := c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + path,
	}, dest)
	if err == nil {
		return nil
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) && !se.Temporary() {
		if se.Code == http.StatusNotFound {
			return models.NewNotFoundError("model", modelID)
		}
		return models.NewValidationError("model_id", "training service rejected %s: %s", modelID, se.Body)
	}
	return fmt.Errorf("get %s: %w", path, err)
}
