package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blurai/pkg/types"
)

// DefaultBaseURL is used when no service location is configured
const DefaultBaseURL = "http://localhost:8000"

// RequestIDHeader carries a per-request id for correlating client and server logs
const RequestIDHeader = "X-Request-ID"

// StatusError is returned when the service answers with a non-2xx status
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: server returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: server returned status %d: %s", e.Op, e.Code, e.Body)
}

// Client talks to the remote detection and effect service
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid service URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized service location
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload sends the image as multipart field "file" and returns the reported detections
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*types.UploadResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, "copy image data")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	respBody, err := c.do(ctx, "upload", http.MethodPost, "/upload", writer.FormDataContentType(), body)
	if err != nil {
		return nil, err
	}

	var result types.UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, errors.Wrap(err, "decode upload response")
	}
	if result.Detections == nil {
		result.Detections = []types.Detection{}
	}
	return &result, nil
}

// Detect implements client.Detector on top of Upload
func (c *Client) Detect(ctx context.Context, filename string, data []byte) ([]types.Detection, error) {
	result, err := c.Upload(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	return result.Detections, nil
}

// ApplyEffect asks the service to render an effect and returns the processed file name
func (c *Client) ApplyEffect(ctx context.Context, payload types.EffectPayload) (types.EffectResult, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return types.EffectResult{}, errors.Wrap(err, "marshal effect request")
	}

	respBody, err := c.do(ctx, "apply-effect", http.MethodPost, "/apply-effect", "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return types.EffectResult{}, err
	}

	var result types.EffectResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return types.EffectResult{}, errors.Wrap(err, "decode effect response")
	}
	if result.ProcessedFilename == "" {
		return types.EffectResult{}, errors.New("apply-effect: response has no processed_filename")
	}
	return result, nil
}

// Download fetches a stored image, selecting the resolution variant with high_res
func (c *Client) Download(ctx context.Context, filename string, highRes bool) ([]byte, error) {
	q := url.Values{}
	q.Set("high_res", strconv.FormatBool(highRes))
	path := "/download/" + url.PathEscape(filename) + "?" + q.Encode()
	return c.do(ctx, "download", http.MethodGet, path, "", nil)
}

// AssetURL returns the download location of a stored image
func (c *Client) AssetURL(filename string) string {
	return c.baseURL + "/download/" + url.PathEscape(filename)
}

// Health checks that the service is reachable
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, "health", http.MethodGet, "/health", "", nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: create request", op)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)

	log := c.log.WithFields(logrus.Fields{"op": op, "request_id": requestID})
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return nil, errors.Wrapf(err, "%s: send request", op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read response", op)
	}

	log.WithFields(logrus.Fields{
		"status":  resp.StatusCode,
		"bytes":   len(body),
		"elapsed": time.Since(start),
	}).Debug("request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
