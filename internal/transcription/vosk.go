package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// voskChunkSize is the number of audio bytes sent per websocket frame
// (~500ms of 8kHz 16-bit audio).
const voskChunkSize = 8000

// VoskDriver transcribes a complete audio payload against a Vosk websocket
// server: configuration frame, chunked audio, EOF, then the accumulated final
// results.
type VoskDriver struct {
	serverURL  string
	sampleRate int
}

type voskConfig struct {
	Config struct {
		SampleRate int      `json:"sample_rate"`
		PhraseList []string `json:"phrase_list,omitempty"`
	} `json:"config"`
}

type voskResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

func NewVoskDriver(serverURL string, sampleRate int) (*VoskDriver, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("Vosk server URL is required")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	return &VoskDriver{
		serverURL:  serverURL,
		sampleRate: sampleRate,
	}, nil
}

func (d *VoskDriver) TryRun(ctx context.Context, audio Audio, prompts []string) (Text, error) {
	sampleRate := audio.SampleRate
	if sampleRate == 0 {
		sampleRate = d.sampleRate
	}

	url := fmt.Sprintf("%s/ws?sample_rate=%d", d.serverURL, sampleRate)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return Text{}, fmt.Errorf("failed to connect to Vosk server: %w", err)
	}
	defer conn.Close()

	// Prompts become a phrase list hint in the config frame.
	cfg := voskConfig{}
	cfg.Config.SampleRate = sampleRate
	cfg.Config.PhraseList = prompts
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return Text{}, fmt.Errorf("failed to encode Vosk config: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, cfgBytes); err != nil {
		return Text{}, fmt.Errorf("failed to send Vosk config: %w", err)
	}

	for offset := 0; offset < len(audio.Data); offset += voskChunkSize {
		end := offset + voskChunkSize
		if end > len(audio.Data) {
			end = len(audio.Data)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.Data[offset:end]); err != nil {
			return Text{}, fmt.Errorf("failed to send audio to Vosk: %w", err)
		}
	}

	// EOF asks the server to flush its final result and close.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`)); err != nil {
		return Text{}, fmt.Errorf("failed to send EOF to Vosk: %w", err)
	}

	var fullText strings.Builder
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Text{}, fmt.Errorf("Vosk websocket error: %w", err)
			}
			break
		}

		var result voskResult
		if err := json.Unmarshal(message, &result); err != nil {
			return Text{}, fmt.Errorf("failed to parse Vosk result: %w", err)
		}

		// Partial results are progress noise for a one-shot run.
		if result.Text == "" {
			continue
		}
		if fullText.Len() > 0 {
			fullText.WriteString(" ")
		}
		fullText.WriteString(result.Text)
	}

	return Text{
		Text: fullText.String(),
		Meta: map[string]string{"provider": "vosk"},
	}, nil
}
