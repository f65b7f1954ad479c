package metrics

import (
	"fmt"
	"sync"
	"time"
)

// RunMetrics collects timing and volume counters for one transcription run
// (a Runner.Run invocation, including its retries).
type RunMetrics struct {
	Provider         string
	SessionID        string
	StartTime        time.Time
	EndTime          time.Time
	Attempts         int
	AudioBytes       int
	TranscriptLength int
	FirstResultTime  *time.Time
	mu               sync.Mutex
}

func NewRunMetrics(provider, sessionID string) *RunMetrics {
	return &RunMetrics{
		Provider:  provider,
		SessionID: sessionID,
		StartTime: time.Now(),
	}
}

// AddAttempt records one transcription attempt starting.
func (m *RunMetrics) AddAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts++
}

func (m *RunMetrics) AddAudioBytes(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AudioBytes += bytes
}

// AddTranscript records the final transcript text arriving.
func (m *RunMetrics) AddTranscript(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstResultTime == nil {
		now := time.Now()
		m.FirstResultTime = &now
	}
	m.TranscriptLength += len(text)
}

func (m *RunMetrics) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *RunMetrics) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.EndTime.Sub(m.StartTime)
	var latency time.Duration
	if m.FirstResultTime != nil {
		latency = m.FirstResultTime.Sub(m.StartTime)
	}

	return fmt.Sprintf(
		"Provider: %s\n"+
			"Session: %s\n"+
			"Duration: %v\n"+
			"Attempts: %d\n"+
			"Audio Bytes: %d\n"+
			"Transcript Length: %d chars\n"+
			"Result Latency: %v\n",
		m.Provider,
		m.SessionID,
		duration,
		m.Attempts,
		m.AudioBytes,
		m.TranscriptLength,
		latency,
	)
}
