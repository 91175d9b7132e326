package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/rtc/internal/config"
	"github.com/relaycore/rtc/internal/domain"
	"github.com/relaycore/rtc/internal/realtime/media"
)

// TranscriptSink persists a TranscriptEvent; the engine calls it fire-and-forget so a slow sink never
// stalls a worker.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, ev TranscriptEvent)
}

// Engine manages per-producer transcription pipelines across rooms
// with multi-backend support: a named backend map, per-room model
// selection (roomModels doubles as the enabled-room set; a room with
// no entry is disabled), and a workers table of cancel-guarded
// handles. There's no per-room broadcast set: every subscriber channel
// receives every room's events, and RunTranscriptFanout does the
// per-room filtering by checking room membership before forwarding.
type Engine struct {
	backends        map[string]AsrBackend
	defaultBackend  string
	vadModelPath    string
	vadConfig       config.VADConfig
	partialInterval time.Duration
	sink            TranscriptSink
	logger          *slog.Logger

	mu          sync.Mutex
	roomModels  map[string]string
	workers     map[string]*liveWorkerHandle
	playbacks   map[string]*playbackHandle
	connPlaybacks map[string][]string // connection_id -> playback_ids

	subscribersMu sync.Mutex
	subscribers   []chan TranscriptEvent
}

type liveWorkerHandle struct {
	w *worker
}

type playbackHandle struct {
	w            *filePlaybackWorker
	connectionID string
}

func NewEngine(backends map[string]AsrBackend, defaultBackend, vadModelPath string, vadConfig config.VADConfig, partialInterval time.Duration, sink TranscriptSink, logger *slog.Logger) *Engine {
	return &Engine{
		backends:        backends,
		defaultBackend:  defaultBackend,
		vadModelPath:    vadModelPath,
		vadConfig:       vadConfig,
		partialInterval: partialInterval,
		sink:            sink,
		logger:          logger,
		roomModels:      make(map[string]string),
		workers:         make(map[string]*liveWorkerHandle),
		playbacks:       make(map[string]*playbackHandle),
		connPlaybacks:   make(map[string][]string),
	}
}

// Subscribe returns a channel that receives every published
// TranscriptEvent. Grounded on the Rust engine's
// tokio::sync::broadcast channel; Go has no broadcast-channel
// primitive so subscribers are tracked in a slice and fanned out
// directly, non-blocking per subscriber.
func (e *Engine) Subscribe() <-chan TranscriptEvent {
	ch := make(chan TranscriptEvent, 64)
	e.subscribersMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subscribersMu.Unlock()
	return ch
}

func (e *Engine) publish(ev TranscriptEvent) {
	if e.sink != nil {
		go e.sink.SaveTranscript(context.Background(), ev)
	}

	e.subscribersMu.Lock()
	defer e.subscribersMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("transcript subscriber channel full, dropping event", "room_id", ev.RoomID)
		}
	}
}

func (e *Engine) resolveBackend(roomID string) (AsrBackend, error) {
	e.mu.Lock()
	name, ok := e.roomModels[roomID]
	e.mu.Unlock()
	if !ok {
		name = e.defaultBackend
	}

	if backend, ok := e.backends[name]; ok {
		return backend, nil
	}
	if backend, ok := e.backends[e.defaultBackend]; ok {
		e.logger.Warn("requested backend not found, using default", "requested", name, "default", e.defaultBackend)
		return backend, nil
	}
	for _, backend := range e.backends {
		e.logger.Warn("default backend not found, using first available", "fallback", backend.Name())
		return backend, nil
	}
	return nil, domain.ErrUnknownBackend
}

// EnableRoom marks a room as transcription-enabled with the given
// backend name (empty means the default). Live pipelines for already
// visible producers are started by the dispatcher calling
// NotifyProducer after this succeeds.
func (e *Engine) EnableRoom(roomID, backend string) error {
	if backend == "" {
		backend = e.defaultBackend
	}
	if _, ok := e.backends[backend]; !ok {
		return domain.ErrUnknownBackend
	}

	e.mu.Lock()
	e.roomModels[roomID] = backend
	e.mu.Unlock()

	e.logger.Info("transcription enabled for room", "room_id", roomID, "backend", backend)
	return nil
}

// DisableRoom stops every live and file-playback worker for the room
// and clears its model selection.
func (e *Engine) DisableRoom(roomID string) {
	e.mu.Lock()
	delete(e.roomModels, roomID)

	var toStop []*liveWorkerHandle
	prefix := roomID + ":"
	filePrefix := "file:" + roomID + ":"
	for key, h := range e.workers {
		if strings.HasPrefix(key, prefix) {
			toStop = append(toStop, h)
			delete(e.workers, key)
		}
	}
	var playbacksToStop []*playbackHandle
	for key, h := range e.playbacks {
		if strings.HasPrefix(key, filePrefix) {
			playbacksToStop = append(playbacksToStop, h)
			delete(e.playbacks, key)
		}
	}
	e.mu.Unlock()

	for _, h := range toStop {
		h.w.stop()
	}
	for _, h := range playbacksToStop {
		h.w.stop()
	}

	e.logger.Info("transcription disabled for room", "room_id", roomID)
}

func (e *Engine) isEnabled(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.roomModels[roomID]
	return ok
}

// NotifyProducer starts a live pipeline for an audio producer if the
// room currently has transcription enabled, replacing any existing
// pipeline for the same producer (model switch). No-op for video
// producers or disabled rooms.
func (e *Engine) NotifyProducer(roomID, producerID, connectionID, userID, speakerName string, kind media.Kind, createTap func() (<-chan media.RTPPacket, error)) {
	if kind != media.KindAudio || !e.isEnabled(roomID) {
		return
	}

	backend, err := e.resolveBackend(roomID)
	if err != nil {
		e.logger.Warn("no asr backend available, skipping pipeline", "room_id", roomID, "producer_id", producerID)
		return
	}

	tap, err := createTap()
	if err != nil {
		e.logger.Warn("failed to create rtp tap, skipping pipeline", "room_id", roomID, "producer_id", producerID, "error", err)
		return
	}

	key := workerKey(roomID, producerID)

	e.mu.Lock()
	existing, replacing := e.workers[key]
	delete(e.workers, key)
	e.mu.Unlock()
	if replacing {
		existing.w.stop()
	}

	w, err := startWorker(context.Background(), roomID, userID, speakerName, producerID, tap, backend, e.vadModelPath, e.vadConfig, e.partialInterval, e.publish, e.logger)
	if err != nil {
		e.logger.Warn("failed to start transcription worker", "room_id", roomID, "producer_id", producerID, "error", err)
		return
	}

	e.mu.Lock()
	e.workers[key] = &liveWorkerHandle{w: w}
	e.mu.Unlock()
}

// StopProducer stops the live pipeline for one producer, if any
// (called when a producer closes).
func (e *Engine) StopProducer(roomID, producerID string) {
	key := workerKey(roomID, producerID)
	e.mu.Lock()
	h, ok := e.workers[key]
	delete(e.workers, key)
	e.mu.Unlock()
	if ok {
		h.w.stop()
	}
}

// StartFilePlayback starts a one-shot file-playback pipeline and
// returns its playback ID, tracked against connectionID for
// StopPlaybacksForConnection cleanup.
func (e *Engine) StartFilePlayback(ctx context.Context, roomID, connectionID, userID, path, speaker string) (string, error) {
	backend, err := e.resolveBackend(roomID)
	if err != nil {
		return "", err
	}

	playbackID := fmt.Sprintf("%s-%d", roomID, len(e.playbacks)+1)
	key := filePlaybackKey(roomID, playbackID)

	var onDone func()
	onDone = func() {
		e.mu.Lock()
		delete(e.playbacks, key)
		e.mu.Unlock()
	}

	w, err := startFilePlayback(ctx, roomID, userID, speaker, playbackID, path, backend, e.vadModelPath, e.vadConfig, e.publish, onDone, e.logger)
	if err != nil {
		return "", fmt.Errorf("transcription: start file playback: %w", err)
	}

	e.mu.Lock()
	e.playbacks[key] = &playbackHandle{w: w, connectionID: connectionID}
	e.connPlaybacks[connectionID] = append(e.connPlaybacks[connectionID], playbackID)
	e.mu.Unlock()

	return playbackID, nil
}

func (e *Engine) StopPlayback(playbackID string) {
	e.mu.Lock()
	var key string
	var h *playbackHandle
	for k, candidate := range e.playbacks {
		if strings.HasSuffix(k, ":"+playbackID) {
			key, h = k, candidate
			break
		}
	}
	if h != nil {
		delete(e.playbacks, key)
	}
	e.mu.Unlock()

	if h != nil {
		h.w.stop()
	}
}

// StopPlaybacksForConnection stops every file playback the given
// connection started, used on disconnect cleanup.
func (e *Engine) StopPlaybacksForConnection(connectionID string) {
	e.mu.Lock()
	ids := e.connPlaybacks[connectionID]
	delete(e.connPlaybacks, connectionID)
	e.mu.Unlock()

	for _, id := range ids {
		e.StopPlayback(id)
	}
}
