package transcription

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/rtc/internal/config"
	"github.com/relaycore/rtc/internal/domain"
	"github.com/relaycore/rtc/internal/realtime/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	name string
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Transcribe(ctx context.Context, req AsrRequest) (AsrResult, error) {
	return AsrResult{Text: "hello world"}, nil
}

type recordingSink struct {
	events []TranscriptEvent
}

func (s *recordingSink) SaveTranscript(ctx context.Context, ev TranscriptEvent) {
	s.events = append(s.events, ev)
}

func TestEngine_EnableRoomRejectsUnknownBackend(t *testing.T) {
	e := NewEngine(map[string]AsrBackend{"whisper": &fakeBackend{name: "whisper"}}, "whisper", "models/silero_vad.onnx", config.VADConfig{StartThreshold: 0.6, MinSilenceFrames: 10, PreSpeechPadFrames: 3}, 500*time.Millisecond, nil, testLogger())

	err := e.EnableRoom("room1", "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownBackend)
}

func TestEngine_EnableRoomDefaultsToDefaultBackend(t *testing.T) {
	e := NewEngine(map[string]AsrBackend{"whisper": &fakeBackend{name: "whisper"}}, "whisper", "models/silero_vad.onnx", config.VADConfig{StartThreshold: 0.6, MinSilenceFrames: 10, PreSpeechPadFrames: 3}, 500*time.Millisecond, nil, testLogger())

	require.NoError(t, e.EnableRoom("room1", ""))
	assert.True(t, e.isEnabled("room1"))
}

func TestEngine_NotifyProducerIgnoresVideoAndDisabledRooms(t *testing.T) {
	e := NewEngine(map[string]AsrBackend{"whisper": &fakeBackend{name: "whisper"}}, "whisper", "models/silero_vad.onnx", config.VADConfig{StartThreshold: 0.6, MinSilenceFrames: 10, PreSpeechPadFrames: 3}, 500*time.Millisecond, nil, testLogger())

	calls := 0
	createTap := func() (<-chan media.RTPPacket, error) {
		calls++
		return make(chan media.RTPPacket), nil
	}

	e.NotifyProducer("room1", "p1", "c1", "u1", "u1", media.KindAudio, createTap)
	assert.Equal(t, 0, calls, "disabled room must not create a tap")

	require.NoError(t, e.EnableRoom("room1", "whisper"))
	e.NotifyProducer("room1", "p1", "c1", "u1", "u1", media.KindVideo, createTap)
	assert.Equal(t, 0, calls, "video producer must not create a tap")
}

func TestEngine_DisableRoomStopsWorkersByPrefix(t *testing.T) {
	e := NewEngine(map[string]AsrBackend{"whisper": &fakeBackend{name: "whisper"}}, "whisper", "models/silero_vad.onnx", config.VADConfig{StartThreshold: 0.6, MinSilenceFrames: 10, PreSpeechPadFrames: 3}, 500*time.Millisecond, nil, testLogger())
	require.NoError(t, e.EnableRoom("room1", "whisper"))

	tap := make(chan media.RTPPacket)
	e.NotifyProducer("room1", "p1", "c1", "u1", "u1", media.KindAudio, func() (<-chan media.RTPPacket, error) {
		return tap, nil
	})

	e.mu.Lock()
	_, started := e.workers[workerKey("room1", "p1")]
	e.mu.Unlock()
	require.True(t, started)

	e.DisableRoom("room1")

	e.mu.Lock()
	_, stillThere := e.workers[workerKey("room1", "p1")]
	e.mu.Unlock()
	assert.False(t, stillThere)
	assert.False(t, e.isEnabled("room1"))
}

func TestEngine_StopPlaybacksForConnectionStopsOnlyItsOwn(t *testing.T) {
	e := NewEngine(map[string]AsrBackend{"whisper": &fakeBackend{name: "whisper"}}, "whisper", "models/silero_vad.onnx", config.VADConfig{StartThreshold: 0.6, MinSilenceFrames: 10, PreSpeechPadFrames: 3}, 500*time.Millisecond, nil, testLogger())

	e.mu.Lock()
	e.connPlaybacks["c1"] = []string{"pb-1", "pb-2"}
	e.connPlaybacks["c2"] = []string{"pb-3"}
	e.mu.Unlock()

	e.StopPlaybacksForConnection("c1")

	e.mu.Lock()
	_, c1Remains := e.connPlaybacks["c1"]
	_, c2Remains := e.connPlaybacks["c2"]
	e.mu.Unlock()
	assert.False(t, c1Remains)
	assert.True(t, c2Remains)
}
