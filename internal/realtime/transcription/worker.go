package transcription

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaycore/rtc/internal/config"
	"github.com/relaycore/rtc/internal/realtime/media"
)

const (
	// segmentChanCapacity bounds the ingestion-to-ASR handoff; a slow
	// backend drops newest segments rather than stalling decode.
	segmentChanCapacity = 16

	// maxSequenceGap is the largest RTP sequence jump PLC will attempt
	// to cover in one shot before the worker just resyncs silently.
	maxSequenceGap = 25

	// minPartialSamples is 0.5s of 16kHz audio, the least speech worth
	// buffering before a PARTIAL round-trip to the backend pays off.
	minPartialSamples = asrSampleRate / 2
)

// vadTransition reports what, if anything, changed in utterance state
// on one call to processSamples.
type vadTransition int

const (
	vadNoTransition vadTransition = iota
	vadTransitionStart
	vadTransitionEnd
)

// worker runs the two tasks of a live per-producer pipeline: ingestion
// (RTP -> decode -> resample -> VAD -> segment) and ASR (segment ->
// backend -> TranscriptEvent). When backend also implements
// StreamingAsrBackend, ingestion instead opens one streaming session
// per utterance and lets the backend's own stream emit partial/final
// results directly, bypassing the segment channel entirely.
type worker struct {
	roomID          string
	userID          string
	speakerName     string
	producerID      string
	backend         AsrBackend
	streamBackend   StreamingAsrBackend
	vadModel        string
	vadConfig       config.VADConfig
	partialInterval time.Duration
	logger          *slog.Logger

	publish func(TranscriptEvent)

	cancel context.CancelFunc
	done   chan struct{}
}

func startWorker(ctx context.Context, roomID, userID, speakerName, producerID string, taps <-chan media.RTPPacket, backend AsrBackend, vadModel string, vadConfig config.VADConfig, partialInterval time.Duration, publish func(TranscriptEvent), logger *slog.Logger) (*worker, error) {
	decoder, err := newOpusDecoder()
	if err != nil {
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w := &worker{
		roomID:          roomID,
		userID:          userID,
		speakerName:     speakerName,
		producerID:      producerID,
		backend:         backend,
		vadModel:        vadModel,
		vadConfig:       vadConfig,
		partialInterval: partialInterval,
		logger:          logger.With("room_id", roomID, "producer_id", producerID),
		publish:         publish,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
	if sb, ok := backend.(StreamingAsrBackend); ok {
		w.streamBackend = sb
	}

	segments := make(chan segment, segmentChanCapacity)
	go w.asrTask(workerCtx, segments)
	go w.ingestionTask(workerCtx, decoder, taps, segments)

	return w, nil
}

func (w *worker) stop() {
	w.cancel()
	<-w.done
}

// ingestionTask runs the per-packet pipeline: parse RTP, detect and
// conceal sequence gaps, decode Opus, resample to 16kHz mono, feed the
// VAD in 512-sample chunks, and turn the result into segments for the
// ASR task. While an utterance is in progress, it also emits PARTIAL
// segments on a fixed cadence (capped by partialInterval, gated on
// minPartialSamples) so a caller sees incremental text well before the
// utterance's FINAL — unless a streaming backend is driving this
// utterance instead, in which case the backend's own stream supplies
// partial/final results and the segment channel is bypassed for it.
func (w *worker) ingestionTask(ctx context.Context, decoder *opusDecoder, taps <-chan media.RTPPacket, segments chan<- segment) {
	defer close(w.done)

	vad, err := newIncrementalVAD(w.vadModel, w.vadConfig)
	if err != nil {
		w.logger.Error("vad init failed, ingestion task exiting", "error", err)
		return
	}
	defer vad.close()

	var lastSeq uint16
	haveLastSeq := false
	var utteranceStart float64
	var utteranceSamples []float32
	inUtterance := false
	var lastPartialAt time.Time
	var lastPartialLen int
	var stream StreamingSession

	elapsedEnd := func() float64 {
		return utteranceStart + float64(len(utteranceSamples))/float64(asrSampleRate)
	}

	emit := func(end float64, final bool) {
		id := segmentID(w.roomID, w.userID, utteranceStart)
		select {
		case segments <- segment{
			audioPCM16kMono: append([]float32(nil), utteranceSamples...),
			startTime:       utteranceStart,
			endTime:         end,
			isFinal:         final,
			segmentID:       id,
		}:
		default:
			w.logger.Warn("segment channel full, dropping segment", "final", final)
		}
	}

	startStreamIfSupported := func() {
		if w.streamBackend == nil {
			return
		}
		sess, err := w.streamBackend.StartStream(ctx, StreamingConfig{SampleRate: asrSampleRate})
		if err != nil {
			w.logger.Warn("failed to start streaming session, falling back to batch segments", "error", err)
			return
		}
		stream = sess
		go w.drainStream(sess, segmentID(w.roomID, w.userID, utteranceStart), utteranceStart)
	}

	endStream := func() {
		if stream == nil {
			return
		}
		_ = stream.Close()
		stream = nil
	}

	finalizeUtterance := func() {
		if !inUtterance {
			return
		}
		if stream != nil {
			endStream()
		} else {
			emit(elapsedEnd(), true)
		}
		inUtterance = false
		utteranceSamples = nil
	}

	maybeEmitPartial := func(now time.Time) {
		if !inUtterance || stream != nil {
			return
		}
		if !shouldEmitPartial(len(utteranceSamples), lastPartialLen, minPartialSamples, lastPartialAt, now, w.partialInterval) {
			return
		}
		emit(elapsedEnd(), false)
		lastPartialAt = now
		lastPartialLen = len(utteranceSamples)
	}

	processPCM := func(pcm []float32) {
		transition, ts := w.processSamples(pcm, vad, &inUtterance, &utteranceStart, &utteranceSamples)

		switch transition {
		case vadTransitionStart:
			lastPartialAt = time.Time{}
			lastPartialLen = 0
			startStreamIfSupported()
		case vadTransitionEnd:
			if stream != nil {
				endStream()
			} else {
				emit(ts, true)
			}
			utteranceSamples = nil
		}

		if stream != nil && inUtterance {
			if err := stream.SendAudio(pcm); err != nil {
				w.logger.Warn("streaming send audio failed, falling back to batch segments", "error", err)
				_ = stream.Close()
				stream = nil
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			finalizeUtterance()
			return
		case pkt, ok := <-taps:
			if !ok {
				finalizeUtterance()
				return
			}

			if haveLastSeq && seqGap(lastSeq, pkt.SequenceNumber) > 1 && seqGap(lastSeq, pkt.SequenceNumber) <= maxSequenceGap {
				if concealed, err := decoder.plc(); err == nil {
					processPCM(concealed)
				}
			}
			lastSeq = pkt.SequenceNumber
			haveLastSeq = true

			pcm, err := decoder.decodeAndResample(pkt.Payload)
			if err != nil {
				w.logger.Warn("opus decode failed, dropping packet", "error", err)
				continue
			}
			processPCM(pcm)
			maybeEmitPartial(time.Now())
		}
	}
}

// shouldEmitPartial decides whether enough new speech has buffered and
// enough time has passed since the last PARTIAL to emit another one.
func shouldEmitPartial(samplesLen, lastPartialLen, minPartialSamples int, lastPartialAt, now time.Time, interval time.Duration) bool {
	if samplesLen < minPartialSamples || samplesLen == lastPartialLen {
		return false
	}
	if !lastPartialAt.IsZero() && now.Sub(lastPartialAt) < interval {
		return false
	}
	return true
}

// processSamples feeds one chunk of PCM to the VAD and reports the
// speech-start/speech-end transition, if any. It mutates the
// utterance accumulator in place but leaves emitting a FINAL segment
// (or starting/ending a streaming session) to the caller, since that
// decision depends on whether a streaming backend currently owns this
// utterance.
func (w *worker) processSamples(pcm []float32, vad *incrementalVAD, inUtterance *bool, utteranceStart *float64, utteranceSamples *[]float32) (vadTransition, float64) {
	if *inUtterance {
		*utteranceSamples = append(*utteranceSamples, pcm...)
	}

	event, timestamp, err := vad.feed(pcm)
	if err != nil {
		w.logger.Warn("vad feed failed", "error", err)
		return vadNoTransition, 0
	}

	switch event {
	case vadSpeechStart:
		*inUtterance = true
		*utteranceStart = timestamp
		*utteranceSamples = append([]float32(nil), pcm...)
		return vadTransitionStart, timestamp
	case vadSpeechEnd:
		wasInUtterance := *inUtterance
		*inUtterance = false
		if wasInUtterance {
			return vadTransitionEnd, timestamp
		}
	}
	return vadNoTransition, 0
}

// drainStream forwards a streaming backend's own partial/final results
// for one utterance, tagged with the segment_id and start_time fixed
// at the moment the stream was opened.
func (w *worker) drainStream(sess StreamingSession, segID string, startTime float64) {
	for result := range sess.Results() {
		if isHallucination(result.Text) {
			continue
		}
		w.publish(TranscriptEvent{
			RoomID:      w.roomID,
			UserID:      w.userID,
			SpeakerName: w.speakerName,
			Text:        result.Text,
			Language:    result.Language,
			Confidence:  result.Confidence,
			StartTime:   startTime,
			IsFinal:     result.IsFinal,
			SegmentID:   segID,
		})
	}
}

// asrTask drains completed segments, filters hallucinated output, and
// publishes surviving TranscriptEvents. Only segments from utterances
// not claimed by a streaming session arrive here.
func (w *worker) asrTask(ctx context.Context, segments <-chan segment) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-segments:
			if !ok {
				return
			}
			w.transcribeAndPublish(ctx, seg)
		}
	}
}

func (w *worker) transcribeAndPublish(ctx context.Context, seg segment) {
	start := time.Now()
	result, err := w.backend.Transcribe(ctx, AsrRequest{AudioPCM16kMono: seg.audioPCM16kMono, SampleRate: asrSampleRate})
	if err != nil {
		w.logger.Warn("asr backend failed", "error", err)
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
		StartTime:           seg.startTime,
		EndTime:             seg.endTime,
		InferenceDurationMs: time.Since(start).Milliseconds(),
		IsFinal:             seg.isFinal,
		SegmentID:           seg.segmentID,
	})
}

func seqGap(last, current uint16) int {
	gap := int(current) - int(last)
	if gap < 0 {
		gap += 1 << 16
	}
	return gap
}
