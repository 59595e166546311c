// Package conversion talks to the voice-conversion service that re-sings
// downloaded songs with the performer's voice model.
package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
)

// API endpoints.
const (
	apiCreateSong   = "/create_song"
	apiSongProgress = "/song_progress"
)

// Conversion defaults.
const (
	defaultTimeout             = 30 * time.Second
	defaultF0Method            = "rmvpe"
	defaultOutputFormat        = "mp3_320k"
	defaultStemmingMethod      = "UVR-MDX-NET Voc FT"
	defaultDevice              = "cuda"
	defaultIndexRatio          = 0.75
	defaultConsonantProtection = 0.35
	modelWeight                = 1
	maxErrorBody               = 512
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Config configures the conversion client.
type Config struct {
	BaseURL     string
	Device      string
	ModelsPath  string
	OutputDir   string
	WeightsPath string
	Timeout     time.Duration
}

// Client implements core.Converter over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        Config
	log        *logger.Logger
}

type modelData struct {
	ModelID string `json:"modelId"`
	Weight  int    `json:"weight"`
}

type songOptions struct {
	Pitch               int     `json:"pitch"`
	PreStemmed          bool    `json:"preStemmed"`
	VocalsOnly          bool    `json:"vocalsOnly"`
	SampleMode          bool    `json:"sampleMode"`
	DeEchoDeReverb      bool    `json:"deEchoDeReverb"`
	F0Method            string  `json:"f0Method"`
	TorchCompile        string  `json:"torchCompile"`
	Device              string  `json:"device"`
	StemmingMethod      string  `json:"stemmingMethod"`
	IndexRatio          float64 `json:"indexRatio"`
	ConsonantProtection float64 `json:"consonantProtection"`
	OutputFormat        string  `json:"outputFormat"`
	VolumeEnvelope      int     `json:"volumeEnvelope"`
	AcceptWebmFormat    bool    `json:"acceptWebmFormat"`
}

// CreateSongRequest is the payload of a conversion job submission.
type CreateSongRequest struct {
	SongURLOrFilePath string      `json:"songUrlOrFilePath"`
	ModelData         []modelData `json:"modelData"`
	Options           songOptions `json:"options"`
	ModelsPath        string      `json:"modelsPath,omitempty"`
	OutputDirectory   string      `json:"outputDirectory,omitempty"`
	WeightsPath       string      `json:"weightsPath,omitempty"`
}

type createSongResponse struct {
	JobID string `json:"jobId"`
	Type  string `json:"type"`
	Error string `json:"error"`
}

type progressRequest struct {
	JobID string `json:"jobId"`
}

type progressResponse struct {
	Status         string `json:"status"`
	Percent        int    `json:"percent"`
	Message        string `json:"message"`
	OutputFilepath string `json:"outputFilepath"`
	Error          string `json:"error"`
}

// New creates a conversion client.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.Device == "" {
		cfg.Device = defaultDevice
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cfg:        cfg,
		log:        log,
	}
}

// Submit checks that the service answers and then creates a conversion job.
// It returns core.ErrConversionUnavailable when the service cannot be reached.
func (c *Client) Submit(ctx context.Context, req core.ConversionRequest) (core.Job, error) {
	err := c.ping(ctx)
	if err != nil {
		return core.Job{}, fmt.Errorf("%w: %w", core.ErrConversionUnavailable, err)
	}

	payload := c.buildRequest(req)

	c.log.Info("Submitting conversion of %s with model %s (pitch %d)", req.AudioPath, req.VoiceModelID, req.Transpose)

	var resp createSongResponse

	err = c.postJSON(ctx, apiCreateSong, payload, &resp)
	if err != nil {
		return core.Job{}, fmt.Errorf("%w: %w", core.ErrConversionJobFailed, err)
	}

	if resp.JobID == "" {
		if resp.Error != "" {
			return core.Job{}, fmt.Errorf("%w: %s", core.ErrConversionJobFailed, resp.Error)
		}

		return core.Job{}, fmt.Errorf("%w: no job ID received", core.ErrConversionJobFailed)
	}

	return core.Job{ID: resp.JobID, Type: resp.Type}, nil
}

// Progress reports the state of a submitted job.
func (c *Client) Progress(ctx context.Context, jobID string) (core.JobStatus, error) {
	var resp progressResponse

	err := c.postJSON(ctx, apiSongProgress, progressRequest{JobID: jobID}, &resp)
	if err != nil {
		return core.JobStatus{}, fmt.Errorf("failed to check progress of job %s: %w", jobID, err)
	}

	status := core.JobStatus{
		Status:     resp.Status,
		Percent:    resp.Percent,
		Message:    resp.Message,
		OutputPath: resp.OutputFilepath,
		Error:      resp.Error,
	}

	if status.Error != "" {
		status.Status = core.JobStatusFailed
	}

	return status, nil
}

func (c *Client) buildRequest(req core.ConversionRequest) CreateSongRequest {
	return CreateSongRequest{
		SongURLOrFilePath: req.AudioPath,
		ModelData:         []modelData{{ModelID: req.VoiceModelID, Weight: modelWeight}},
		Options: songOptions{
			Pitch:               req.Transpose,
			DeEchoDeReverb:      true,
			F0Method:            defaultF0Method,
			TorchCompile:        "none",
			Device:              c.cfg.Device,
			StemmingMethod:      defaultStemmingMethod,
			IndexRatio:          defaultIndexRatio,
			ConsonantProtection: defaultConsonantProtection,
			OutputFormat:        defaultOutputFormat,
			VolumeEnvelope:      1,
			AcceptWebmFormat:    true,
		},
		ModelsPath:      c.cfg.ModelsPath,
		OutputDirectory: c.cfg.OutputDir,
		WeightsPath:     c.cfg.WeightsPath,
	}
}

// ping issues a GET against the service root. Any HTTP answer counts as reachable.
func (c *Client) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("conversion service at %s unreachable: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("conversion service at %s answered %s", c.baseURL, resp.Status)
	}

	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}

		return fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return nil
}
