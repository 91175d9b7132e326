package transcription

import (
	"context"

	"github.com/relaycore/rtc/internal/config"
)

// AsrBackend is the batch-only capability tier every backend must
// satisfy: submit a full utterance, get one result back.
type AsrBackend interface {
	Name() string
	Transcribe(ctx context.Context, req AsrRequest) (AsrResult, error)
}

// StreamingAsrBackend is the optional richer tier: a backend that can
// accept audio incrementally and emit partial/final results from its
// own stream, preserving the backend's native is_final semantics.
// NimBackend implements it; the worker opens one session per utterance
// when the resolved backend supports it, bypassing its own VAD-driven
// segment-and-batch-transcribe path for that utterance. WhisperBackend
// has no streaming API and only ever satisfies AsrBackend.
type StreamingAsrBackend interface {
	AsrBackend
	StartStream(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// StreamingSession is an open streaming recognition session.
type StreamingSession interface {
	SendAudio(pcm []float32) error
	Results() <-chan StreamingResult
	Close() error
}

// BuildBackends wires the named backend table from configuration: a
// whisper.cpp HTTP backend whenever a server URL is configured, a
// remote NIM/Riva gRPC backend whenever an endpoint is configured.
// Whichever of the two matches cfg.Backend (or "whisper" by default)
// becomes the default entry.
func BuildBackends(cfg config.TranscriptionConfig) (backends map[string]AsrBackend, defaultName string) {
	backends = make(map[string]AsrBackend)

	if cfg.WhisperServerURL != "" {
		backends["whisper"] = NewWhisperBackend(cfg.WhisperServerURL, cfg.WhisperModel)
	}
	if cfg.NIMEndpoint != "" {
		backends["remote_nim"] = NewNimBackend(cfg.NIMEndpoint, cfg.NIMModel)
	}

	defaultName = cfg.Backend
	if _, ok := backends[defaultName]; !ok {
		for name := range backends {
			defaultName = name
			break
		}
	}
	return backends, defaultName
}
