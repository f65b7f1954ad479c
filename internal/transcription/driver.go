// Package transcription defines the audio transcription driver contract and
// the retrying runner that wraps every concrete backend.
package transcription

import (
	"context"
	"fmt"

	"github.com/voxgraph/voxgraph/internal/events"
	"github.com/voxgraph/voxgraph/internal/retry"
)

// Audio is the caller-owned input payload. Drivers treat it as read-only.
type Audio struct {
	Data       []byte
	Format     string // file-extension style token: "wav", "mp3", "slin"
	SampleRate int
}

// Text is the transcription result, owned by the caller after return.
type Text struct {
	Text string
	Meta map[string]string
}

// Driver is the single capability a concrete backend must provide: one
// attempt at transcribing the audio. Retry, lifecycle events, and metrics
// live in Runner, not in implementations.
type Driver interface {
	TryRun(ctx context.Context, audio Audio, prompts []string) (Text, error)
}

// Runner wraps a Driver with the retry policy and lifecycle events. One
// Runner may be shared by concurrent callers; attempts within a single Run
// are strictly sequential.
type Runner struct {
	driver Driver
	policy retry.Policy
	bus    *events.Bus
}

// NewRunner builds a runner around driver. A nil bus disables lifecycle
// events.
func NewRunner(driver Driver, policy retry.Policy, bus *events.Bus) *Runner {
	return &Runner{
		driver: driver,
		policy: policy,
		bus:    bus,
	}
}

// Run transcribes audio, retrying failed attempts per the policy. Each
// attempt publishes a StartTranscription event before any work; a
// FinishTranscription event fires exactly once, on the attempt that
// succeeds. When the budget runs out the returned error wraps
// retry.ErrExhausted and the last attempt's underlying error.
func (r *Runner) Run(ctx context.Context, audio Audio, prompts []string) (Text, error) {
	var result Text
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		r.publish(events.NewStartTranscription())

		out, err := r.driver.TryRun(ctx, audio, prompts)
		if err != nil {
			return err
		}

		r.publish(events.NewFinishTranscription())
		result = out
		return nil
	})
	if err != nil {
		return Text{}, fmt.Errorf("transcription run: %w", err)
	}
	return result, nil
}

func (r *Runner) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
