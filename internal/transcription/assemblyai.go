package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	assemblyAIBaseURL      = "https://api.assemblyai.com/v2"
	assemblyAIPollInterval = 3 * time.Second
)

// AssemblyAIDriver transcribes audio through the AssemblyAI batch API:
// upload the payload, create a transcript job, poll until it settles.
type AssemblyAIDriver struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

type assemblyAIUploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type assemblyAITranscriptRequest struct {
	AudioURL  string   `json:"audio_url"`
	WordBoost []string `json:"word_boost,omitempty"`
}

type assemblyAITranscriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

func NewAssemblyAIDriver(apiKey string) (*AssemblyAIDriver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("AssemblyAI API key is required")
	}

	return &AssemblyAIDriver{
		apiKey:       apiKey,
		baseURL:      assemblyAIBaseURL,
		pollInterval: assemblyAIPollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (d *AssemblyAIDriver) TryRun(ctx context.Context, audio Audio, prompts []string) (Text, error) {
	audioURL, err := d.upload(ctx, audio.Data)
	if err != nil {
		return Text{}, err
	}

	// Prompts map onto AssemblyAI's word boost list.
	id, err := d.createTranscript(ctx, audioURL, prompts)
	if err != nil {
		return Text{}, err
	}

	for {
		transcript, err := d.getTranscript(ctx, id)
		if err != nil {
			return Text{}, err
		}

		switch transcript.Status {
		case "completed":
			return Text{
				Text: transcript.Text,
				Meta: map[string]string{"provider": "assemblyai", "transcript_id": id},
			}, nil
		case "error":
			return Text{}, fmt.Errorf("AssemblyAI transcript %s failed: %s", id, transcript.Error)
		}

		select {
		case <-ctx.Done():
			return Text{}, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

func (d *AssemblyAIDriver) upload(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", d.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp assemblyAIUploadResponse
	if err := d.do(req, &resp); err != nil {
		return "", fmt.Errorf("AssemblyAI upload: %w", err)
	}
	if resp.UploadURL == "" {
		return "", fmt.Errorf("AssemblyAI upload returned no URL")
	}
	return resp.UploadURL, nil
}

func (d *AssemblyAIDriver) createTranscript(ctx context.Context, audioURL string, prompts []string) (string, error) {
	body, err := json.Marshal(assemblyAITranscriptRequest{
		AudioURL:  audioURL,
		WordBoost: prompts,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build transcript request: %w", err)
	}
	req.Header.Set("Authorization", d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var resp assemblyAITranscriptResponse
	if err := d.do(req, &resp); err != nil {
		return "", fmt.Errorf("AssemblyAI create transcript: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("AssemblyAI create transcript returned no ID")
	}
	return resp.ID, nil
}

func (d *AssemblyAIDriver) getTranscript(ctx context.Context, id string) (*assemblyAITranscriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/transcript/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build poll request: %w", err)
	}
	req.Header.Set("Authorization", d.apiKey)

	var resp assemblyAITranscriptResponse
	if err := d.do(req, &resp); err != nil {
		return nil, fmt.Errorf("AssemblyAI poll transcript %s: %w", id, err)
	}
	return &resp, nil
}

func (d *AssemblyAIDriver) do(req *http.Request, out any) error {
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
