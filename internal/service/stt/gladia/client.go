// Package gladia implements the transcription provider contracts against
// the Gladia REST and live WebSocket APIs.
package gladia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/service/stt"
)

const (
	DefaultAPIURL  = "https://api.gladia.io"
	DefaultLiveURL = "wss://api.gladia.io/audio/text/audio-transcription"

	apiKeyHeader = "x-gladia-key"
)

// Config configures the REST client.
type Config struct {
	APIKey     string
	APIURL     string
	HTTPClient *http.Client
}

// Client is the batch side of the provider: upload, submit, poll.
type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ stt.BatchClient = (*Client)(nil)

// NewClient builds a REST client.
func NewClient(cfg Config) *Client {
	c := &Client{
		apiKey:     cfg.APIKey,
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		httpClient: cfg.HTTPClient,
		logger:     logging.WithComponent("gladia"),
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return c
}

// UploadAudio posts audio as the multipart field "audio".
func (c *Client) UploadAudio(ctx context.Context, audio []byte, filename, contentType string) (models.Upload, error) {
	if len(audio) == 0 {
		return models.Upload{}, fmt.Errorf("%w: empty audio", stt.ErrUpload)
	}
	if filename == "" {
		filename = "audio.webm"
	}
	if contentType == "" {
		contentType = "audio/webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return models.Upload{}, fmt.Errorf("%w: %v", stt.ErrUpload, err)
	}
	if _, err := part.Write(audio); err != nil {
		return models.Upload{}, fmt.Errorf("%w: %v", stt.ErrUpload, err)
	}
	if err := mw.Close(); err != nil {
		return models.Upload{}, fmt.Errorf("%w: %v", stt.ErrUpload, err)
	}

	var out models.Upload
	if err := c.do(ctx, http.MethodPost, "/v2/upload", mw.FormDataContentType(), &body, &out); err != nil {
		return models.Upload{}, fmt.Errorf("%w: %v", stt.ErrUpload, err)
	}
	if out.AudioURL == "" {
		return models.Upload{}, fmt.Errorf("%w: response has no audio_url", stt.ErrUpload)
	}
	c.logger.Debug().Str("audioUrl", out.AudioURL).Int("bytes", len(audio)).Msg("audio uploaded")
	return out, nil
}

// SubmitJob creates a pre-recorded transcription job.
func (c *Client) SubmitJob(ctx context.Context, req models.JobRequest) (models.JobRef, error) {
	if req.AudioURL == "" {
		return models.JobRef{}, fmt.Errorf("%w: missing audio_url", stt.ErrSubmit)
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return models.JobRef{}, fmt.Errorf("%w: %v", stt.ErrSubmit, err)
	}

	var out models.JobRef
	if err := c.do(ctx, http.MethodPost, "/v2/transcription", "application/json", bytes.NewReader(buf), &out); err != nil {
		return models.JobRef{}, fmt.Errorf("%w: %v", stt.ErrSubmit, err)
	}
	if out.ID == "" {
		return models.JobRef{}, fmt.Errorf("%w: response has no id", stt.ErrSubmit)
	}
	c.logger.Debug().Str("jobId", out.ID).Msg("transcription job submitted")
	return out, nil
}

// PollJob fetches the current job snapshot.
func (c *Client) PollJob(ctx context.Context, id string) (models.JobSnapshot, error) {
	if id == "" {
		return models.JobSnapshot{}, fmt.Errorf("%w: missing job id", stt.ErrPoll)
	}
	var out models.JobSnapshot
	if err := c.do(ctx, http.MethodGet, "/v2/transcription/"+id, "", nil, &out); err != nil {
		return models.JobSnapshot{}, fmt.Errorf("%w: %v", stt.ErrPoll, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
