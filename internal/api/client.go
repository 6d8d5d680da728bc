// Package api talks to a model server that publishes argument specs and
// validates argument sets.
//
// Endpoints:
//
//	GET  /api/models               list of {module, model_name, pyname}
//	POST /api/getspec              body: module name, reply: model spec
//	POST /api/validate             body: {"model_module", "args"}, reply: [[keys, message], ...]
//
// The "args" field of a validate request is itself a JSON document encoded
// as a string, as parameter sets store it.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/modelbench/internal/config"
	"github.com/rescale/modelbench/internal/constants"
	"github.com/rescale/modelbench/internal/http"
	"github.com/rescale/modelbench/internal/logging"
	"github.com/rescale/modelbench/internal/models"
	"github.com/rescale/modelbench/internal/ratelimit"
)

// retryLogger implements the retryablehttp.LeveledLogger interface on top of
// the workbench logger.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only errors and warnings are interesting
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Option configures a Client.
type Option func(*retryablehttp.Client)

// WithRetryWait overrides the wait bounds between retries.
func WithRetryWait(min, max time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

// WithRetryMax overrides the number of retries.
func WithRetryMax(n int) Option {
	return func(c *retryablehttp.Client) { c.RetryMax = n }
}

// Client is a model server client. It serves as both a spec provider and a
// validator for the core.
type Client struct {
	httpClient *nethttp.Client
	baseURL    string
	logger     *logging.Logger
	limiter    *ratelimit.RateLimiter
}

// NewClient creates a client for the server at cfg.URL.
func NewClient(cfg *config.ServerSettings, logger *logging.Logger, opts ...Option) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("server URL is empty: set server.url or %s_SERVER_URL", config.EnvPrefix)
	}

	httpClient, err := http.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	logger = logger.Named("api")
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.MaxRetries
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.Logger = &retryLogger{logger: logger}
	for _, opt := range opts {
		opt(retryClient)
	}

	return &Client{
		httpClient: retryClient.StandardClient(),
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		logger:     logger,
		limiter:    ratelimit.NewServerRateLimiter(logger),
	}, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest sends body (JSON-encoded unless it is a string) and returns the
// response. Non-2xx responses are turned into *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case string:
		reqBody = strings.NewReader(b)
		contentType = "text/plain; charset=utf-8"
	default:
		jsonData, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Str("method", method).Str("path", path).Err(err).Msg("request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return resp, nil
}

func decodeJSON(resp *nethttp.Response, what string, v interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return nil
}

// modelEntry is one element of the /api/models reply.
type modelEntry struct {
	Module    string `json:"module"`
	ModelName string `json:"model_name"`
	PyName    string `json:"pyname"`
}

// ListModels returns the models the server offers.
func (c *Client) ListModels(ctx context.Context) ([]models.ModelMeta, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, "/api/models", nil)
	if err != nil {
		return nil, fmt.Errorf("list models failed: %w", err)
	}
	var entries []modelEntry
	if err := decodeJSON(resp, "model list", &entries); err != nil {
		return nil, err
	}
	out := make([]models.ModelMeta, 0, len(entries))
	for _, e := range entries {
		py := e.PyName
		if py == "" {
			py = e.Module
		}
		out = append(out, models.ModelMeta{ModuleName: e.Module, ModelName: e.ModelName, PyName: py})
	}
	return out, nil
}

// GetSpec fetches and normalizes the spec of moduleName.
func (c *Client) GetSpec(ctx context.Context, moduleName string) (models.ModelSpec, error) {
	resp, err := c.doRequest(ctx, nethttp.MethodPost, "/api/getspec", moduleName)
	if err != nil {
		return models.ModelSpec{}, fmt.Errorf("get spec for %s failed: %w", moduleName, err)
	}
	var spec models.ModelSpec
	if err := decodeJSON(resp, "model spec", &spec); err != nil {
		return models.ModelSpec{}, err
	}
	if spec.ModuleName == "" {
		spec.ModuleName = moduleName
	}
	if err := spec.Normalize(); err != nil {
		return models.ModelSpec{}, fmt.Errorf("server returned an invalid spec for %s: %w", moduleName, err)
	}
	return spec, nil
}

type validateRequest struct {
	ModelModule string `json:"model_module"`
	Args        string `json:"args"`
}

// Validate asks the server to validate args. Each request is bounded by
// constants.ValidationRequestTimeout on top of ctx.
func (c *Client) Validate(ctx context.Context, moduleName string, args map[string]string) ([]models.ValidationError, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.ValidationRequestTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, nethttp.MethodPost, "/api/validate", validateRequest{
		ModelModule: moduleName,
		Args:        string(encoded),
	})
	if err != nil {
		return nil, fmt.Errorf("validate %s failed: %w", moduleName, err)
	}

	var raw []json.RawMessage
	if err := decodeJSON(resp, "validation result", &raw); err != nil {
		return nil, err
	}
	return decodeValidationErrors(raw)
}

// decodeValidationErrors accepts both [[keys, message], ...] and
// [{"keys": [...], "message": "..."}, ...].
func decodeValidationErrors(raw []json.RawMessage) ([]models.ValidationError, error) {
	out := make([]models.ValidationError, 0, len(raw))
	for i, item := range raw {
		var ve models.ValidationError
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err == nil {
			if len(pair) != 2 {
				return nil, fmt.Errorf("validation result %d: want [keys, message], got %d elements", i, len(pair))
			}
			if err := json.Unmarshal(pair[0], &ve.AffectedKeys); err != nil {
				return nil, fmt.Errorf("validation result %d: keys: %w", i, err)
			}
			if err := json.Unmarshal(pair[1], &ve.Message); err != nil {
				return nil, fmt.Errorf("validation result %d: message: %w", i, err)
			}
		} else if err := json.Unmarshal(item, &ve); err != nil {
			return nil, fmt.Errorf("validation result %d: %w", i, err)
		}
		out = append(out, ve)
	}
	return out, nil
}
