package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"
)

const (
	healthCacheTTL     = 30 * time.Second
	healthCheckTimeout = 2 * time.Second
)

// HTTPDetector calls an inference service that accepts a JPEG upload on
// POST {endpoint}/detect and answers with JSON detections
type HTTPDetector struct {
	endpoint    string
	client      *http.Client
	logger      *slog.Logger
	healthy     bool
	healthCheck time.Time
	mu          sync.Mutex
}

// NewHTTPDetector creates a detector client for endpoint
func NewHTTPDetector(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPDetector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDetector{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "http-detector", "endpoint", endpoint),
	}
}

// IsHealthy checks if the detection service is available. A positive
// answer is cached for 30 seconds. The check gives up when ctx is done or
// after two seconds, whichever comes first.
func (d *HTTPDetector) IsHealthy(ctx context.Context) bool {
	d.mu.Lock()
	if d.healthy && time.Since(d.healthCheck) < healthCacheTTL {
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		d.setHealthy(false)
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("health check failed", "error", err)
		d.setHealthy(false)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.logger.Warn("health check returned unexpected status", "status", resp.StatusCode)
		d.setHealthy(false)
		return false
	}

	d.setHealthy(true)
	return true
}

func (d *HTTPDetector) setHealthy(healthy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.healthy = healthy
	if healthy {
		d.healthCheck = time.Now()
	}
}

// DetectPersons uploads a JPEG frame and returns every detection the service reports
func (d *HTTPDetector) DetectPersons(ctx context.Context, imageData []byte, confThreshold float32) (*DetectionResult, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}
	if err := w.WriteField("conf_threshold", fmt.Sprintf("%.2f", confThreshold)); err != nil {
		return nil, err
	}
	if err := w.WriteField("classes", "person"); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &b)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		d.setHealthy(false)
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detection service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	d.setHealthy(true)
	return &result, nil
}

// Close releases idle connections
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
