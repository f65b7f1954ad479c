package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/voxgraph/voxgraph/internal/events"
	"github.com/voxgraph/voxgraph/internal/graph"
	"github.com/voxgraph/voxgraph/internal/retry"
	"github.com/voxgraph/voxgraph/internal/server"
	"github.com/voxgraph/voxgraph/internal/transcription"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Provider string `yaml:"provider"`
	Vosk     struct {
		ServerURL  string `yaml:"server_url"`
		SampleRate int    `yaml:"sample_rate"`
	} `yaml:"vosk"`
	AssemblyAI struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"assemblyai"`
	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
	FalkorDB struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		Graph     string `yaml:"graph"`
		NodeLabel string `yaml:"node_label"`
	} `yaml:"falkordb"`
	Transcription struct {
		OutputDir        string `yaml:"output_dir"`
		SaveTranscripts  bool   `yaml:"save_transcripts"`
		MaxAttempts      int    `yaml:"max_attempts"`
		InitialBackoffMs int    `yaml:"initial_backoff_ms"`
		RunTimeoutSec    int    `yaml:"run_timeout_sec"`
	} `yaml:"transcription"`
}

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	// API keys may live in a .env file; missing files are fine.
	_ = godotenv.Load()

	config := &Config{}
	if err := loadConfig(configFile, config); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	driver, err := buildDriver(config)
	if err != nil {
		log.Fatalf("Failed to create transcription driver: %v", err)
	}

	policy := retry.NewPolicy()
	if config.Transcription.MaxAttempts > 0 {
		policy.MaxAttempts = config.Transcription.MaxAttempts
	}
	if config.Transcription.InitialBackoffMs > 0 {
		policy.InitialInterval = time.Duration(config.Transcription.InitialBackoffMs) * time.Millisecond
	}

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		switch e.(type) {
		case events.StartTranscription:
			log.Printf("Transcription attempt started")
		case events.FinishTranscription:
			log.Printf("Transcription finished")
		}
	})

	store, closeStore, err := buildStore(config)
	if err != nil {
		log.Fatalf("Failed to create graph store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	srv, err := server.New(server.Config{
		Host:            config.Server.Host,
		Port:            config.Server.Port,
		Provider:        config.Provider,
		SampleRate:      config.Vosk.SampleRate,
		OutputDir:       config.Transcription.OutputDir,
		SaveTranscripts: config.Transcription.SaveTranscripts,
		RunTimeout:      time.Duration(config.Transcription.RunTimeoutSec) * time.Second,
	}, driver, policy, bus, store)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	srv.Stop()
}

func buildDriver(config *Config) (transcription.Driver, error) {
	switch config.Provider {
	case "vosk":
		return transcription.NewVoskDriver(config.Vosk.ServerURL, config.Vosk.SampleRate)
	case "assemblyai":
		key := config.AssemblyAI.APIKey
		if key == "" {
			key = os.Getenv("ASSEMBLYAI_API_KEY")
		}
		return transcription.NewAssemblyAIDriver(key)
	case "whisper":
		key := config.OpenAI.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return transcription.NewWhisperDriver(key, config.OpenAI.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", config.Provider)
	}
}

func buildStore(config *Config) (*graph.Store, func(), error) {
	if !config.FalkorDB.Enabled {
		return nil, nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := graph.Connect(ctx, config.FalkorDB.Addr, config.FalkorDB.Password, config.FalkorDB.DB, config.FalkorDB.Graph)
	if err != nil {
		return nil, nil, err
	}

	store, err := graph.NewStore(ctx, client, config.FalkorDB.NodeLabel)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	return store, func() { client.Close() }, nil
}

func loadConfig(filename string, config *Config) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	return decoder.Decode(config)
}
