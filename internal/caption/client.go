// Package caption provides an image-to-text client for the Hugging Face
// inference API.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/story-service/internal/core"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJPEG     = "image/jpeg"
	bearerPrefix        = "Bearer "
)

// Error messages.
const (
	errFmtServiceError     = "captioning service returned %s: %s"
	errFmtServiceNonOK     = "captioning service returned non-OK status: %s, body: %s"
	maxErrorBodyBytes      = 4096
	errMsgNoCandidates     = "captioning service returned no candidates"
	errMsgBlankTopCaption  = "captioning service returned a blank caption"
	errMsgUndecodableReply = "failed to decode captioning response"
)

var (
	errNoCandidates = errors.New(errMsgNoCandidates)
	errBlankCaption = errors.New(errMsgBlankTopCaption)
)

// jpegMagic is the SOI marker followed by the first marker prefix.
var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// Candidate is one ranked caption returned by the model.
type Candidate struct {
	GeneratedText string  `json:"generated_text"`
	Score         float64 `json:"score,omitempty"`
}

// errorResponse is the error body the inference API sends while a model is
// loading or when a request is rejected.
type errorResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// Client captions images through a hosted image-to-text model.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// NewClient creates a captioning client for the given model endpoint. The
// timeout applies to every request made by this client.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		token:      token,
	}
}

// Caption returns the top-ranked caption for a JPEG image.
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	if !IsJPEG(image) {
		return "", core.ErrUnsupportedImage
	}

	candidates, err := c.candidates(ctx, image)
	if err != nil {
		return "", core.NewExternalModelError(core.StageCaption, err)
	}

	if len(candidates) == 0 {
		return "", core.NewExternalModelError(core.StageCaption, errNoCandidates)
	}

	caption := strings.TrimSpace(candidates[0].GeneratedText)
	if caption == "" {
		return "", core.NewExternalModelError(core.StageCaption, errBlankCaption)
	}

	return caption, nil
}

// HealthCheck verifies that the captioning endpoint answers at all. The
// inference API replies to GET on a model URL with model metadata or a
// method error; either proves reachability, so only transport errors and
// 5xx statuses fail.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for captioning service at %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("captioning health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *Client) candidates(ctx context.Context, image []byte) ([]Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(req)
	req.Header.Set(headerContentType, contentTypeJPEG)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to captioning service at %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var candidates []Candidate

	err = json.NewDecoder(resp.Body).Decode(&candidates)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMsgUndecodableReply, err)
	}

	return candidates, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set(headerAuthorization, bearerPrefix+c.token)
}

// parseErrorResponse prefers the inference API's JSON error and falls back to
// the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp errorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Error != "" {
		return fmt.Errorf(errFmtServiceError, resp.Status, errorResp.Error)
	}

	return fmt.Errorf(errFmtServiceNonOK, resp.Status, string(body))
}

// IsJPEG reports whether data starts with a JPEG marker.
func IsJPEG(data []byte) bool {
	return bytes.HasPrefix(data, jpegMagic)
}
