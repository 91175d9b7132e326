// Package transcription runs per-producer pipelines that tap RTP
// audio, decode and resample it, segment it with VAD, transcribe each
// utterance, and broadcast TranscriptEvents back through the
// signaling plane. The engine/worker split is expressed with
// goroutines and context.CancelFunc rather than a single monolithic
// loop, so a slow or wedged backend for one producer never blocks
// another.
package transcription

import "fmt"

// TranscriptEvent is the unit published on the broadcast channel and
// forwarded to peer connections.
type TranscriptEvent struct {
	RoomID               string  `json:"room_id"`
	UserID               string  `json:"user_id"`
	SpeakerName          string  `json:"speaker_name"`
	Text                 string  `json:"text"`
	Language             string  `json:"language,omitempty"`
	Confidence           float64 `json:"confidence,omitempty"`
	StartTime            float64 `json:"start_time"`
	EndTime              float64 `json:"end_time"`
	InferenceDurationMs  int64   `json:"inference_duration_ms"`
	IsFinal              bool    `json:"is_final"`
	SegmentID            string  `json:"segment_id"`
}

// segmentID formats the stable identifier shared by a PARTIAL stream
// and its terminating FINAL.
func segmentID(roomID, userID string, utteranceStartSeconds float64) string {
	return fmt.Sprintf("%s:%s:%d", roomID, userID, int64(utteranceStartSeconds))
}

// segment is what the ingestion task hands to the ASR task over the
// bounded segment channel.
type segment struct {
	audioPCM16kMono []float32
	startTime       float64
	endTime         float64
	isFinal         bool
	segmentID       string
}

// AsrRequest is the input to a batch backend's Transcribe call.
type AsrRequest struct {
	AudioPCM16kMono []float32
	SampleRate      int
	LanguageHint    string
}

// AsrResult is a batch backend's output.
type AsrResult struct {
	Text       string
	Language   string
	Confidence float64
}

// StreamingConfig configures a streaming backend's session.
type StreamingConfig struct {
	SampleRate   int
	LanguageHint string
}

// StreamingResult is one increment from a streaming backend's result
// stream; IsFinal mirrors the backend's own partial/final distinction.
type StreamingResult struct {
	Text       string
	IsFinal    bool
	Language   string
	Confidence float64
}

// workerKey formats the live per-producer worker key.
func workerKey(roomID, producerID string) string {
	return fmt.Sprintf("%s:%s", roomID, producerID)
}

// filePlaybackKey formats the one-shot file-playback worker key.
func filePlaybackKey(roomID, playbackID string) string {
	return fmt.Sprintf("file:%s:%s", roomID, playbackID)
}
