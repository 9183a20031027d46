package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"git-context-agent/internal/logger"
	"git-context-agent/models"
)

// ErrRetryExhausted is returned when a remote call still fails after the
// bounded retry loop gives up.
var ErrRetryExhausted = errors.New("remote call retries exhausted")

// StatusClient is the callback used by workers to report terminal saga
// status. The remote endpoint idempotently overwrites status for the record.
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewStatusClient(baseURL string, maxRetries int, retryDelay time.Duration) *StatusClient {
	return &StatusClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

type statusUpdateRequest struct {
	RepositoryID string                  `json:"repository_id"`
	Status       models.ProcessingStatus `json:"status"`
}

// StatusUpdate PUTs the new status. Transport failures and 501/503 responses
// are retried with linear backoff up to the bound; any other non-200 response
// fails immediately.
func (c *StatusClient) StatusUpdate(ctx context.Context, repositoryID string, status models.ProcessingStatus) error {
	body, err := json.Marshal(statusUpdateRequest{RepositoryID: repositoryID, Status: status})
	if err != nil {
		return fmt.Errorf("failed to encode status update: %v", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
			logger.Warn("Retrying status update", "repository_id", repositoryID, "attempt", attempt)
		}

		request, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/git", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build status update request: %v", err)
		}
		request.Header.Set("Content-Type", "application/json")

		response, err := c.httpClient.Do(request)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, response.Body)
		response.Body.Close()

		switch response.StatusCode {
		case http.StatusOK:
			return nil
		case http.StatusNotImplemented, http.StatusServiceUnavailable:
			lastErr = fmt.Errorf("status update got %d", response.StatusCode)
		default:
			return fmt.Errorf("status update rejected with %d", response.StatusCode)
		}
	}
	return fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
}
