package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LCodingX/influence-dashboard/internal/logger"
	"github.com/LCodingX/influence-dashboard/internal/utils"
)

// Client is the low-level RunPod serverless HTTP client shared by both
// adapter variants. API keys are passed per call, never stored here, so one
// client serves the hosted endpoint and every user-supplied one.
type Client struct {
	log           *logger.Logger
	baseURL       string
	managementURL string
	httpClient    *http.Client
	maxRetries    int
}

func NewClient(log *logger.Logger) *Client {
	baseURL := utils.GetEnv("RUNPOD_BASE_URL", "https://api.runpod.ai", log)
	managementURL := utils.GetEnv("RUNPOD_MANAGEMENT_URL", "https://rest.runpod.io/v1", log)
	timeoutSec := utils.GetEnvAsInt("RUNPOD_TIMEOUT_SECONDS", 30, log)
	maxRetries := utils.GetEnvAsInt("RUNPOD_MAX_RETRIES", 2, log)

	return &Client{
		log:           log.With("service", "RunPodClient"),
		baseURL:       strings.TrimRight(baseURL, "/"),
		managementURL: strings.TrimRight(managementURL, "/"),
		httpClient:    &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:    maxRetries,
	}
}

type runpodHTTPError struct {
	StatusCode int
	Body       string
}

func (e *runpodHTTPError) Error() string {
	return fmt.Sprintf("runpod http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *runpodHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*(2*delta)
	return time.Duration(v * float64(time.Second))
}

func (c *Client) doOnce(ctx context.Context, apiKey, method, url string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &runpodHTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, raw, nil
}

func (c *Client) do(ctx context.Context, apiKey, method, url string, body any, out any) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return classify(ctx.Err())
		}
		resp, raw, err := c.doOnce(ctx, apiKey, method, url, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return &RemoteError{Message: fmt.Sprintf("decode response: %v", uErr)}
			}
			return nil
		}
		if !isRetryableErr(err) || attempt == c.maxRetries {
			return classify(err)
		}
		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)
		c.log.Warn("RunPod request retrying",
			"url", url,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return &RemoteError{Message: "unreachable retry loop"}
}

// classify maps transport and HTTP failures onto the adapter error
// taxonomy. Everything unrecognized becomes a RemoteError so no failure is
// ever silently flattened.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var httpErr *runpodHTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return fmt.Errorf("%w: %s", ErrAuthentication, httpErr.Body)
		case httpErr.StatusCode == 503:
			return fmt.Errorf("%w: %s", ErrEndpointUnavailable, httpErr.Body)
		case httpErr.StatusCode == 408 || httpErr.StatusCode == 504:
			return fmt.Errorf("%w: %s", ErrTimeout, httpErr.Body)
		default:
			return &RemoteError{Message: httpErr.Error()}
		}
	}
	return &RemoteError{Message: err.Error()}
}

// ---- serverless job API ----

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// streamFrame is one worker progress update, mirroring what the serverless
// handler yields.
type streamFrame struct {
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	CurrentEpoch *int      `json:"current_epoch,omitempty"`
	TotalEpochs  *int      `json:"total_epochs,omitempty"`
	TrainingLoss *float64  `json:"training_loss,omitempty"`
	ETASeconds   *float64  `json:"eta_seconds,omitempty"`
	Logs         []LogLine `json:"logs,omitempty"`
}

type streamResponse struct {
	Status string `json:"status"`
	Stream []struct {
		Output streamFrame `json:"output"`
	} `json:"stream"`
}

func (c *Client) Run(ctx context.Context, apiKey, endpointID string, input any) (string, error) {
	url := fmt.Sprintf("%s/v2/%s/run", c.baseURL, endpointID)
	var resp runResponse
	if err := c.do(ctx, apiKey, http.MethodPost, url, map[string]any{"input": input}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &RemoteError{Message: "run response missing job id"}
	}
	return resp.ID, nil
}

func (c *Client) Status(ctx context.Context, apiKey, endpointID, jobID string) (statusResponse, error) {
	url := fmt.Sprintf("%s/v2/%s/status/%s", c.baseURL, endpointID, jobID)
	var resp statusResponse
	if err := c.do(ctx, apiKey, http.MethodGet, url, nil, &resp); err != nil {
		return statusResponse{}, err
	}
	return resp, nil
}

// errStreamUnsupported signals that this endpoint has no aggregate stream;
// callers degrade to the point-in-time status query.
var errStreamUnsupported = errors.New("runpod: stream not supported by endpoint")

func (c *Client) Stream(ctx context.Context, apiKey, endpointID, jobID string) (streamResponse, error) {
	url := fmt.Sprintf("%s/v2/%s/stream/%s", c.baseURL, endpointID, jobID)
	var resp streamResponse
	if err := c.do(ctx, apiKey, http.MethodGet, url, nil, &resp); err != nil {
		var remoteErr *RemoteError
		if errors.As(err, &remoteErr) && (strings.Contains(remoteErr.Message, "http 404") || strings.Contains(remoteErr.Message, "http 405")) {
			return streamResponse{}, errStreamUnsupported
		}
		return streamResponse{}, err
	}
	return resp, nil
}

func (c *Client) CancelJob(ctx context.Context, apiKey, endpointID, jobID string) error {
	url := fmt.Sprintf("%s/v2/%s/cancel/%s", c.baseURL, endpointID, jobID)
	return c.do(ctx, apiKey, http.MethodPost, url, nil, nil)
}

// ---- endpoint management API ----

type createEndpointRequest struct {
	Name       string   `json:"name"`
	GPUTypeIDs []string `json:"gpuTypeIds"`
	WorkersMin int      `json:"workersMin"`
	WorkersMax int      `json:"workersMax"`
	TemplateID string   `json:"templateId,omitempty"`
}

type endpointResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateEndpoint provisions a serverless endpoint under the given API key.
// Used once per user-supplied credential; the resulting id is persisted and
// reused for every later submit.
func (c *Client) CreateEndpoint(ctx context.Context, apiKey, name, gpuClass, templateID string, maxWorkers int) (string, error) {
	url := c.managementURL + "/endpoints"
	req := createEndpointRequest{
		Name:       name,
		GPUTypeIDs: []string{gpuClass},
		WorkersMin: 0,
		WorkersMax: maxWorkers,
		TemplateID: templateID,
	}
	var resp endpointResponse
	if err := c.do(ctx, apiKey, http.MethodPost, url, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &RemoteError{Message: "create endpoint response missing id"}
	}
	return resp.ID, nil
}

// Verify checks an API key against the management API without mutating
// anything. A 401/403 surfaces as ErrAuthentication.
func (c *Client) Verify(ctx context.Context, apiKey string) error {
	url := c.managementURL + "/endpoints"
	return c.do(ctx, apiKey, http.MethodGet, url, nil, nil)
}
