package speech

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
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeMPEG   = "audio/mpeg"
)

// Default values.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "speech service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "speech service returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned when there is nothing to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrUnexpectedContentType is returned when the service answers with something other than audio.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyAudio is returned when the service answers with no audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// HTTPClient is a Synthesizer backed by a standalone TTS HTTP service.
type HTTPClient struct {
	httpClient     *http.Client
	baseURL        string
	speakerRefPath string
	language       string
}

// SpeechRequest is the JSON payload of a generation request.
type SpeechRequest struct {
	Text string `json:"text"`
	// SpeakerRefPath optionally names a server-side reference clip for voice cloning.
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
}

// ServiceError is a structured error response from the service.
type ServiceError struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the service at baseURL (for example "http://localhost:8000").
func NewHTTPClient(baseURL, speakerRefPath, language string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		speakerRefPath: speakerRefPath,
		language:       language,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize implements Synthesizer.
func (c *HTTPClient) Synthesize(ctx context.Context, text string) (Clip, error) {
	return c.GenerateSpeech(ctx, SpeechRequest{
		Text:           text,
		SpeakerRefPath: c.speakerRefPath,
		Language:       c.language,
		Temperature:    0,
	})
}

// GenerateSpeech sends a generation request and returns the audio clip.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req SpeechRequest) (Clip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Clip{}, ErrTextEmpty
	}

	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiGenerateSpeech, bytes.NewReader(requestBody))
	if err != nil {
		return Clip{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV+", "+contentTypeMPEG)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to send request to speech service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Clip{}, c.parseErrorResponse(resp)
	}

	ext, err := extensionFor(resp.Header.Get(headerContentType))
	if err != nil {
		return Clip{}, err
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return Clip{}, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return Clip{}, ErrEmptyAudio
	}

	return Clip{Audio: audioData, Ext: ext}, nil
}

// HealthCheck verifies that the speech service is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var serviceErr ServiceError

	err := json.Unmarshal(body, &serviceErr)
	if err == nil && serviceErr.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, serviceErr.Detail, serviceErr.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}

func extensionFor(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedContentType, contentType)
	}

	switch mediaType {
	case contentTypeWAV, "audio/x-wav", "audio/wave":
		return ".wav", nil
	case contentTypeMPEG, "audio/mp3":
		return ".mp3", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnexpectedContentType, mediaType)
	}
}
