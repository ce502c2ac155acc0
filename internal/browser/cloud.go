// internal/browser/cloud.go
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/api/schemas"
	"github.com/hxkal/stagehand/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrVendorUnavailable indicates the session vendor API could not be reached
// or kept failing after retries.
var ErrVendorUnavailable = errors.New("browser: session vendor unavailable")

// CloudClient talks to the remote browser vendor's REST API. It creates and
// releases hosted browser sessions and fetches the operator live view URL.
type CloudClient struct {
	baseURL        string
	apiKey         string
	projectID      string
	sessionTimeout time.Duration
	httpClient     *http.Client
	logger         *zap.Logger
}

type createSessionRequest struct {
	ProjectID       string           `json:"projectId"`
	Timeout         int              `json:"timeout,omitempty"`
	BrowserSettings *browserSettings `json:"browserSettings,omitempty"`
}

type browserSettings struct {
	Fingerprint *fingerprintSettings `json:"fingerprint,omitempty"`
	Viewport    *viewportSettings    `json:"viewport,omitempty"`
}

type fingerprintSettings struct {
	Browsers         []string `json:"browsers,omitempty"`
	Devices          []string `json:"devices,omitempty"`
	Locales          []string `json:"locales,omitempty"`
	OperatingSystems []string `json:"operatingSystems,omitempty"`
}

type viewportSettings struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

type sessionResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ConnectURL string `json:"connectUrl"`
	CreatedAt  string `json:"createdAt"`
}

type debugResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
}

type releaseSessionRequest struct {
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// NewCloudClient builds a vendor API client from configuration.
func NewCloudClient(cfg config.VendorConfig, logger *zap.Logger) (*CloudClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vendor API key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vendor base URL is required")
	}

	return &CloudClient{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		projectID:      cfg.ProjectID,
		sessionTimeout: cfg.SessionTimeout,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("vendor"),
	}, nil
}

// CreateSession requests a new hosted browser session configured with the
// given persona and returns its connection info. Transient vendor failures
// are retried with exponential backoff.
func (c *CloudClient) CreateSession(ctx context.Context, persona schemas.Persona) (*schemas.RemoteSessionInfo, error) {
	payload := createSessionRequest{
		ProjectID: c.projectID,
		Timeout:   int(c.sessionTimeout.Seconds()),
		BrowserSettings: &browserSettings{
			Fingerprint: &fingerprintSettings{
				Browsers:         []string{"chrome"},
				Devices:          []string{"desktop"},
				Locales:          persona.Languages,
				OperatingSystems: []string{"windows"},
			},
			Viewport: &viewportSettings{
				Width:  persona.Width,
				Height: persona.Height,
			},
		},
	}

	var resp sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/sessions", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.ConnectURL == "" {
		return nil, fmt.Errorf("%w: session response missing id or connect URL", ErrVendorUnavailable)
	}

	c.logger.Info("Remote browser session created",
		zap.String("session_id", resp.ID),
		zap.String("status", resp.Status),
	)

	return &schemas.RemoteSessionInfo{
		ID:         resp.ID,
		ConnectURL: resp.ConnectURL,
		CreatedAt:  time.Now(),
		Timeout:    c.sessionTimeout,
	}, nil
}

// LiveViewURL fetches the operator-facing fullscreen debugger URL for a
// running session.
func (c *CloudClient) LiveViewURL(ctx context.Context, sessionID string) (string, error) {
	var resp debugResponse
	url := fmt.Sprintf("%s/v1/sessions/%s/debug", c.baseURL, sessionID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", err
	}

	if resp.DebuggerFullscreenURL != "" {
		return resp.DebuggerFullscreenURL, nil
	}
	return resp.DebuggerURL, nil
}

// ReleaseSession asks the vendor to tear down a hosted session. Releasing a
// session that already expired is not an error worth surfacing; callers
// treat failures here as soft.
func (c *CloudClient) ReleaseSession(ctx context.Context, sessionID string) error {
	payload := releaseSessionRequest{
		ProjectID: c.projectID,
		Status:    "REQUEST_RELEASE",
	}

	var resp sessionResponse
	url := fmt.Sprintf("%s/v1/sessions/%s", c.baseURL, sessionID)
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return err
	}

	c.logger.Info("Remote browser session released",
		zap.String("session_id", sessionID),
		zap.String("status", resp.Status),
	)
	return nil
}

// doJSON executes one vendor API call with retries. 429/5xx responses and
// network errors retry; all other failures are permanent.
func (c *CloudClient) doJSON(ctx context.Context, method, url string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal vendor request: %w", err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 45 * time.Second

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create vendor request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-BB-API-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Vendor API network error, retrying", zap.Error(err))
			return fmt.Errorf("vendor request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read vendor response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode vendor response: %w", err))
			}
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrVendorUnavailable, err)
	}
	return nil
}

func (c *CloudClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Vendor API returned error status",
		zap.Int("status", statusCode),
		zap.String("response", string(body)),
	)
	err := fmt.Errorf("vendor API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return err
	default:
		return backoff.Permanent(err)
	}
}
