package transcription

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"time"

	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/relaycore/rtc/internal/config"
)

// trailingSilencePaddingMs is appended to the end of a file's audio so
// the VAD's trailing speech segment reliably closes instead of hanging
// open forever waiting for silence that will never arrive.
const trailingSilencePaddingMs = 500

// filePlaybackWorker reads a WAV file once, runs it through the same
// VAD -> ASR pipeline as a live producer, and publishes FINAL-only
// TranscriptEvents — there are no PARTIALs for pre-recorded audio
// since the whole file is available up front.
type filePlaybackWorker struct {
	roomID      string
	userID      string
	speakerName string
	playbackID  string
	backend     AsrBackend
	vadModel    string
	vadConfig   config.VADConfig
	logger      *slog.Logger
	publish     func(TranscriptEvent)
	onDone      func()

	cancel context.CancelFunc
	done   chan struct{}
}

func startFilePlayback(ctx context.Context, roomID, userID, speakerName, playbackID, path string, backend AsrBackend, vadModel string, vadConfig config.VADConfig, publish func(TranscriptEvent), onDone func(), logger *slog.Logger) (*filePlaybackWorker, error) {
	samples, sampleRate, err := readWAVMono(path)
	if err != nil {
		return nil, err
	}
	if sampleRate != asrSampleRate {
		rs, err := resampler.New(sampleRate, asrSampleRate, 1)
		if err != nil {
			return nil, fmt.Errorf("transcription: file playback resampler: %w", err)
		}
		samples, err = rs.Resample(samples)
		if err != nil {
			return nil, fmt.Errorf("transcription: file playback resample: %w", err)
		}
	}

	padSamples := asrSampleRate * trailingSilencePaddingMs / 1000
	samples = append(samples, make([]float32, padSamples)...)

	playbackCtx, cancel := context.WithCancel(ctx)
	w := &filePlaybackWorker{
		roomID:      roomID,
		userID:      userID,
		speakerName: speakerName,
		playbackID:  playbackID,
		backend:     backend,
		vadModel:    vadModel,
		vadConfig:   vadConfig,
		logger:      logger.With("room_id", roomID, "playback_id", playbackID),
		publish:     publish,
		onDone:      onDone,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go w.run(playbackCtx, samples)
	return w, nil
}

func (w *filePlaybackWorker) stop() {
	w.cancel()
	<-w.done
}

func (w *filePlaybackWorker) run(ctx context.Context, samples []float32) {
	defer close(w.done)
	defer w.onDone()

	vad, err := newIncrementalVAD(w.vadModel, w.vadConfig)
	if err != nil {
		w.logger.Error("vad init failed, file playback aborted", "error", err)
		return
	}
	defer vad.close()

	var utteranceStart float64
	var utterance []float32
	inUtterance := false

	for offset := 0; offset < len(samples); offset += vadChunkSamples {
		select {
		case <-ctx.Done():
			return
		default:
		}

		end := offset + vadChunkSamples
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[offset:end]

		if inUtterance {
			utterance = append(utterance, chunk...)
		}

		event, timestamp, err := vad.feed(chunk)
		if err != nil {
			w.logger.Warn("vad feed failed during file playback", "error", err)
			continue
		}

		switch event {
		case vadSpeechStart:
			inUtterance = true
			utteranceStart = timestamp
			utterance = append([]float32(nil), chunk...)
		case vadSpeechEnd:
			if inUtterance {
				w.transcribeAndPublish(ctx, utterance, utteranceStart, timestamp)
			}
			inUtterance = false
			utterance = nil
		}
	}

	if inUtterance {
		w.transcribeAndPublish(ctx, utterance, utteranceStart, float64(len(samples))/asrSampleRate)
	}
}

func (w *filePlaybackWorker) transcribeAndPublish(ctx context.Context, pcm []float32, start, end float64) {
	inferStart := time.Now()
	result, err := w.backend.Transcribe(ctx, AsrRequest{AudioPCM16kMono: pcm, SampleRate: asrSampleRate})
	if err != nil {
		w.logger.Warn("asr backend failed during file playback", "error", err)
		return
	}
	if isHallucination(result.Text) {
		return
	}

	w.publish(TranscriptEvent{
		RoomID:              w.roomID,
		UserID:              w.userID,
		SpeakerName:         w.speakerName,
		Text:                result.Text,
		Language:            result.Language,
		Confidence:          result.Confidence,
		StartTime:           start,
		EndTime:             end,
		InferenceDurationMs: time.Since(inferStart).Milliseconds(),
		IsFinal:             true,
		SegmentID:           segmentID(w.roomID, w.userID, start),
	})
}

// readWAVMono reads a PCM16 RIFF/WAV file and returns its samples as
// mono float32 in [-1, 1] plus the file's native sample rate. Stereo
// files are downmixed by averaging channels.
func readWAVMono(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("transcription: read wav file: %w", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("transcription: %s is not a RIFF/WAVE file", path)
	}

	var channels int
	var sampleRate int
	var bitsPerSample int
	var dataStart, dataLen int

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			dataStart = body
			dataLen = chunkSize
		}

		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if bitsPerSample != 16 || channels == 0 || dataLen == 0 {
		return nil, 0, fmt.Errorf("transcription: %s is not 16-bit PCM WAV", path)
	}
	if dataStart+dataLen > len(data) {
		dataLen = len(data) - dataStart
	}

	frameCount := dataLen / (2 * channels)
	samples := make([]float32, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			idx := dataStart + (i*channels+c)*2
			sum += int32(int16(binary.LittleEndian.Uint16(data[idx : idx+2])))
		}
		samples[i] = float32(sum) / float32(channels) / 32768.0
	}

	return samples, sampleRate, nil
}
