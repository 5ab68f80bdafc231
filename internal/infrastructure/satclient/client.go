package satclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fiscaldesk/backend/internal/domain/download"
)

// maxResponseSize caps authority responses; packages arrive base64-encoded so
// the raw budget is generous (200MB)
const maxResponseSize = 200 * 1024 * 1024

const dateLayout = "2006-01-02T15:04:05"

// Client implements download.AuthorityClient against the bulk download HTTP
// service. Every call authenticates with the taxpayer's signing credential and
// classifies failures so the lifecycle engine can decide between retry and
// permanent failure.
type Client struct {
	config     *SATConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an authority client with the given configuration
func NewClient(config *SATConfig, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

var _ download.AuthorityClient = (*Client)(nil)

// SubmitQuery registers a bulk export query and returns the authority-assigned
// request id
func (c *Client) SubmitQuery(ctx context.Context, cred download.Credential, query download.Query) (string, error) {
	direction := "recibidos"
	if query.Kind == download.KindIssued {
		direction = "emitidos"
	}
	body := submitRequest{
		RFC:       query.TaxpayerRFC,
		DateFrom:  query.PeriodStart.Format(dateLayout),
		DateTo:    query.PeriodEnd.Format(dateLayout),
		Direction: direction,
		Serial:    cred.SerialNumber,
	}

	var resp submitResponse
	if err := c.doJSON(ctx, cred, http.MethodPost, "/api/v1/solicitudes", body, &resp); err != nil {
		return "", err
	}

	if resp.Status != remoteStatusAccepted {
		// The authority refused the query itself: a retry with the same
		// parameters cannot succeed.
		return "", download.NewPermanentError("submit",
			fmt.Errorf("query rejected with status %s: %s", resp.Status, resp.Message))
	}
	if resp.RequestID == "" {
		return "", download.NewTransientError("submit",
			fmt.Errorf("accepted response missing request id"))
	}
	return resp.RequestID, nil
}

// VerifyStatus reports the preparation state of a registered query
func (c *Client) VerifyStatus(ctx context.Context, cred download.Credential, remoteRequestID string) (download.VerifyResult, error) {
	var resp verifyResponse
	path := "/api/v1/solicitudes/" + remoteRequestID
	if err := c.doJSON(ctx, cred, http.MethodGet, path, nil, &resp); err != nil {
		return download.VerifyResult{}, err
	}

	result := download.VerifyResult{RemoteStatus: resp.Status}
	switch resp.Status {
	case remoteStatusAccepted, remoteStatusInProgress:
		result.State = download.VerifyStatePending
	case remoteStatusReady:
		result.State = download.VerifyStateReady
		result.PackageIDs = resp.PackageIDs
	case remoteStatusError, remoteStatusRejected:
		result.State = download.VerifyStateRejected
	case remoteStatusExpired:
		result.State = download.VerifyStateExpired
	default:
		return download.VerifyResult{}, download.NewTransientError("verify",
			fmt.Errorf("unknown remote status %q: %s", resp.Status, resp.Message))
	}
	return result, nil
}

// FetchPackage downloads one prepared package and returns its raw bytes
func (c *Client) FetchPackage(ctx context.Context, cred download.Credential, packageID string) ([]byte, error) {
	var resp packageResponse
	path := "/api/v1/paquetes/" + packageID
	if err := c.doJSON(ctx, cred, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Package == "" {
		return nil, download.NewTransientError("fetch",
			fmt.Errorf("package %s not included in response: %s", packageID, resp.Message))
	}
	data, err := base64.StdEncoding.DecodeString(resp.Package)
	if err != nil {
		return nil, download.NewPermanentError("fetch",
			fmt.Errorf("package %s is not valid base64: %w", packageID, err))
	}
	return data, nil
}

// doJSON performs one authenticated request and decodes the JSON response.
// Transport failures and 5xx/429 are transient; other 4xx are permanent.
func (c *Client) doJSON(ctx context.Context, cred download.Credential, method, path string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return download.NewPermanentError(op, fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return download.NewPermanentError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-RFC", cred.RFC)
	req.Header.Set("X-Certificate-Serial", cred.SerialNumber)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failure: always worth retrying
		return download.NewTransientError(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Authority call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return download.NewTransientError(op, fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return download.NewTransientError(op,
			fmt.Errorf("authority returned %d: %s", resp.StatusCode, truncate(raw, 200)))
	case resp.StatusCode >= 400:
		return download.NewPermanentError(op,
			fmt.Errorf("authority returned %d: %s", resp.StatusCode, truncate(raw, 200)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return download.NewTransientError(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
