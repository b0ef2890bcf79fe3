// Package synth provides the speech-synthesis client.
//
// The client speaks the Hugging Face inference contract: a JSON body with
// a single "inputs" field, a bearer credential, and raw audio bytes in the
// response body.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/audio"
	"github.com/book-expert/story-service/internal/core"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// Error messages.
const (
	errFmtServiceError = "speech service returned %s: %s"
	errFmtServiceNonOK = "speech service returned non-OK status: %s, body: %s"
	errFmtNotAudio     = "%w: content type %q, body: %s"
	maxErrorBodyBytes  = 4096
	maxQuotedBodyBytes = 256
	opSynthesize       = "speech synthesis request"
)

// Request defines the JSON payload of a synthesis request.
type Request struct {
	Inputs string `json:"inputs"`
}

// errorResponse is the JSON error body the inference API sends.
type errorResponse struct {
	Error string `json:"error"`
}

// Options configure a Client.
type Options struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
	// MaxRetries bounds how many times a transport failure is retried.
	MaxRetries int
	// ValidateAudio rejects 200 responses that do not carry audio.
	ValidateAudio bool
	// NormalizeText sends SpeechText(story) instead of the raw story.
	NormalizeText bool
}

// Client synthesizes speech through a hosted text-to-speech model.
type Client struct {
	httpClient *http.Client
	opts       Options
	log        *logger.Logger
}

// NewClient creates a speech client. log may be nil.
func NewClient(opts Options, log *logger.Logger) *Client {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		log:        log,
	}
}

// Synthesize posts the story and returns the audio payload.
func (c *Client) Synthesize(ctx context.Context, story string) ([]byte, error) {
	if strings.TrimSpace(story) == "" {
		return nil, core.ErrStoryEmpty
	}

	if c.opts.NormalizeText {
		story = SpeechText(story)
	}

	requestBody, err := json.Marshal(Request{Inputs: story})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.send(ctx, requestBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewExternalModelError(core.StageSynthesize, parseErrorResponse(resp))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.NetworkError{Op: "reading speech response", Attempts: 1, Err: err}
	}

	if c.opts.ValidateAudio {
		err = validateAudio(resp.Header.Get(headerContentType), audioData)
		if err != nil {
			return nil, core.NewExternalModelError(core.StageSynthesize, err)
		}
	}

	return audioData, nil
}

// HealthCheck verifies that the speech endpoint is reachable. Only transport
// errors and 5xx statuses count as unhealthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.Endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearerPrefix+c.opts.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for speech service at %s: %w", c.opts.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("speech health check failed with status: %s", resp.Status)
	}

	return nil
}

// send performs the POST, retrying transport failures up to MaxRetries times.
// Any HTTP response, whatever its status, ends the loop.
func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	attempts := c.opts.MaxRetries + 1

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set(headerAuthorization, bearerPrefix+c.opts.Token)
		req.Header.Set(headerContentType, contentTypeJSON)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, &core.NetworkError{Op: opSynthesize, Attempts: attempt, Err: errors.Join(ctx.Err(), err)}
		}

		if attempt < attempts && c.log != nil {
			c.log.Warn("Speech request attempt %d/%d failed, retrying: %v", attempt, attempts, err)
		}
	}

	return nil, &core.NetworkError{Op: opSynthesize, Attempts: attempts, Err: lastErr}
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

func validateAudio(contentType string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf(errFmtNotAudio, core.ErrNotAudio, contentType, "<empty>")
	}

	if isTextContentType(contentType) {
		return fmt.Errorf(errFmtNotAudio, core.ErrNotAudio, contentType, quote(data))
	}

	if !audio.IsAudio(data) {
		return fmt.Errorf(errFmtNotAudio, core.ErrNotAudio, contentType, quote(data))
	}

	return nil
}

// isTextContentType reports JSON and text/* media types, which the inference
// API uses for error payloads.
func isTextContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == contentTypeJSON || strings.HasPrefix(mediaType, "text/") || strings.HasSuffix(mediaType, "+json")
}

func quote(data []byte) string {
	if len(data) > maxQuotedBodyBytes {
		data = data[:maxQuotedBodyBytes]
	}

	return fmt.Sprintf("%q", data)
}
