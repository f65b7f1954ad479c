package transcription

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperDriver transcribes audio in one shot through the OpenAI audio API.
type WhisperDriver struct {
	client *openai.Client
	model  string
}

func NewWhisperDriver(apiKey, model string) (*WhisperDriver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperDriver{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (d *WhisperDriver) TryRun(ctx context.Context, audio Audio, prompts []string) (Text, error) {
	format := audio.Format
	if format == "" {
		format = "wav"
	}

	req := openai.AudioRequest{
		Model: d.model,
		// FilePath carries only the extension hint; the payload comes from
		// Reader.
		FilePath: "audio." + format,
		Reader:   bytes.NewReader(audio.Data),
		Prompt:   strings.Join(prompts, " "),
	}

	resp, err := d.client.CreateTranscription(ctx, req)
	if err != nil {
		return Text{}, fmt.Errorf("openai transcription: %w", err)
	}

	return Text{
		Text: resp.Text,
		Meta: map[string]string{
			"provider": "whisper",
			"model":    d.model,
		},
	}, nil
}
