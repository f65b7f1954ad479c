// Package server hosts the AudioSocket ingest service: it accepts call
// connections, buffers the caller's audio, and on hangup runs the
// transcription driver once over the whole call, optionally recording the
// outcome in the graph store.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/google/uuid"
	"github.com/voxgraph/voxgraph/internal/events"
	"github.com/voxgraph/voxgraph/internal/graph"
	"github.com/voxgraph/voxgraph/internal/metrics"
	"github.com/voxgraph/voxgraph/internal/retry"
	"github.com/voxgraph/voxgraph/internal/transcription"
)

type Config struct {
	Host            string
	Port            int
	Provider        string
	SampleRate      int
	OutputDir       string
	SaveTranscripts bool
	RunTimeout      time.Duration
}

type Server struct {
	config   Config
	driver   transcription.Driver
	policy   retry.Policy
	bus      *events.Bus // shared bus; per-session events are forwarded here
	store    *graph.Store
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New builds the ingest server. store may be nil, in which case transcripts
// are not recorded in the graph.
func New(config Config, driver transcription.Driver, policy retry.Policy, bus *events.Bus, store *graph.Store) (*Server, error) {
	if config.SaveTranscripts && config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 5 * time.Minute
	}

	return &Server{
		config:   config,
		driver:   driver,
		policy:   policy,
		bus:      bus,
		store:    store,
		shutdown: make(chan struct{}),
	}, nil
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	log.Printf("AudioSocket ingest listening on %s", addr)
	log.Printf("Transcription provider: %s", s.config.Provider)

	for {
		select {
		case <-s.shutdown:
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-s.shutdown:
					return nil
				default:
					log.Printf("Accept error: %v", err)
					continue
				}
			}

			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}
}

func (s *Server) Stop() {
	close(s.shutdown)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	log.Printf("New connection from %s", conn.RemoteAddr())

	id, err := audiosocket.GetID(conn)
	if err != nil {
		log.Printf("Failed to get ID: %v", err)
		return
	}

	log.Printf("Session %s started with %s", id, s.config.Provider)
	start := time.Now()

	audioBuffer := s.readCallAudio(id, conn)
	s.finalize(id, audioBuffer)

	log.Printf("Session %s ended (Duration: %v, Provider: %s)", id, time.Since(start), s.config.Provider)
}

// readCallAudio drains signed-linear frames from the connection until hangup
// or disconnect.
func (s *Server) readCallAudio(id uuid.UUID, conn net.Conn) []byte {
	buffer := make([]byte, 0, 16000)
	for {
		msg, err := audiosocket.NextMessage(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("Session %s: Failed to read message: %v", id, err)
			}
			return buffer
		}

		switch msg.Kind() {
		case audiosocket.KindSlin:
			buffer = append(buffer, msg.Payload()...)
		case audiosocket.KindHangup:
			log.Printf("Session %s: Received hangup", id)
			return buffer
		case audiosocket.KindError:
			log.Printf("Session %s: Error frame: %v", id, msg.ErrorCode())
		}
	}
}

// finalize runs the transcription driver over the buffered call audio and
// records the result. Graph failures are logged, not fatal to the session.
func (s *Server) finalize(id uuid.UUID, audioBuffer []byte) {
	if len(audioBuffer) == 0 {
		log.Printf("Session %s: No audio received, skipping transcription", id)
		return
	}

	m := metrics.NewRunMetrics(s.config.Provider, id.String())
	m.AddAudioBytes(len(audioBuffer))

	// A session-local bus attributes attempt counts to this run; events are
	// forwarded to the shared bus for anyone else listening.
	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		if _, ok := e.(events.StartTranscription); ok {
			m.AddAttempt()
		}
		if s.bus != nil {
			s.bus.Publish(e)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	runner := transcription.NewRunner(s.driver, s.policy, bus)
	result, err := runner.Run(ctx, transcription.Audio{
		Data:       audioBuffer,
		Format:     "slin",
		SampleRate: s.config.SampleRate,
	}, nil)
	if err != nil {
		m.Finalize()
		log.Printf("Session %s: Transcription failed: %v", id, err)
		return
	}

	m.AddTranscript(result.Text)
	m.Finalize()
	log.Printf("Session %s metrics:\n%s", id, m.Summary())

	if s.config.SaveTranscripts && s.config.OutputDir != "" {
		path := filepath.Join(s.config.OutputDir, id.String()+".txt")
		if err := os.WriteFile(path, []byte(result.Text), 0644); err != nil {
			log.Printf("Session %s: Failed to save transcript: %v", id, err)
		}
	}

	s.record(id, result)
}

// record stores the call outcome as a call node plus a triplet linking it to
// the provider that transcribed it.
func (s *Server) record(id uuid.UUID, result transcription.Text) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	callID := "call:" + id.String()
	if _, err := s.store.UpsertNode(ctx, graph.Entry{
		ID: callID,
		Properties: map[string]any{
			"transcript": result.Text,
			"provider":   s.config.Provider,
		},
	}); err != nil {
		log.Printf("Session %s: Failed to upsert call node: %v", id, err)
		return
	}

	if err := s.store.UpsertTriplet(ctx, callID, "transcribed by", "provider:"+s.config.Provider); err != nil {
		log.Printf("Session %s: Failed to upsert provider triplet: %v", id, err)
	}
}
