package transcription

import (
	"fmt"

	speech "github.com/streamer45/silero-vad-go/speech"

	"github.com/relaycore/rtc/internal/config"
)

// vadChunkSamples is Silero's required frame size at 16kHz (32ms).
const vadChunkSamples = 512

// vadFrameMs is the duration of one vadChunkSamples frame, used to
// convert config.VADConfig's frame-count knobs into the millisecond
// durations silero-vad-go's DetectorConfig expects.
const vadFrameMs = 32

// vadState tracks whether the incremental wrapper currently believes
// speech is in progress, so it can translate Silero's batch-oriented
// segment output into SpeechStart/SpeechEnd transitions as new chunks
// arrive.
type vadState int

const (
	vadSilent vadState = iota
	vadSpeaking
)

// incrementalVAD buffers incoming audio into fixed 512-sample chunks
// and feeds each one to a Silero detector, turning its per-chunk
// speech-probability output into start/end events. The upstream
// Detector itself only exposes a batch Detect() call; this wrapper is
// the streaming adaptation the ingestion task needs.
type incrementalVAD struct {
	detector *speech.Detector
	pending  []float32
	state    vadState
	samplesSeen int64
}

func newIncrementalVAD(modelPath string, cfg config.VADConfig) (*incrementalVAD, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           asrSampleRate,
		Threshold:            cfg.StartThreshold,
		MinSilenceDurationMs: cfg.MinSilenceFrames * vadFrameMs,
		SpeechPadMs:          cfg.PreSpeechPadFrames * vadFrameMs,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription: new vad detector: %w", err)
	}
	return &incrementalVAD{detector: detector, state: vadSilent}, nil
}

type vadEvent int

const (
	vadNoEvent vadEvent = iota
	vadSpeechStart
	vadSpeechEnd
)

// feed appends samples to the pending buffer and, once a full 512-sample
// chunk is available, runs it through the detector. Returns the
// detected transition (if any) and the chunk's own boundary in
// fractional seconds since the worker started.
func (v *incrementalVAD) feed(samples []float32) (vadEvent, float64, error) {
	v.pending = append(v.pending, samples...)
	if len(v.pending) < vadChunkSamples {
		return vadNoEvent, 0, nil
	}

	chunk := v.pending[:vadChunkSamples]
	v.pending = v.pending[vadChunkSamples:]
	v.samplesSeen += vadChunkSamples
	timestamp := float64(v.samplesSeen) / float64(asrSampleRate)

	segments, err := v.detector.Detect(chunk)
	if err != nil {
		return vadNoEvent, timestamp, fmt.Errorf("transcription: vad detect: %w", err)
	}

	speaking := len(segments) > 0
	switch {
	case speaking && v.state == vadSilent:
		v.state = vadSpeaking
		return vadSpeechStart, timestamp, nil
	case !speaking && v.state == vadSpeaking:
		v.state = vadSilent
		return vadSpeechEnd, timestamp, nil
	default:
		return vadNoEvent, timestamp, nil
	}
}

func (v *incrementalVAD) close() error {
	return v.detector.Destroy()
}
