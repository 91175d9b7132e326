package transcription

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperBackend is a batch backend over a running whisper.cpp server's
// POST /inference endpoint. Grounded on
// pkg/provider/stt/whisper.Provider.infer: encode PCM as a WAV file,
// multipart/form-data POST it, parse the JSON {"text": "..."} reply.
// whisper.cpp has no native streaming API, so this backend only ever
// satisfies AsrBackend, never StreamingAsrBackend.
type WhisperBackend struct {
	serverURL string
	model     string
	client    *http.Client
}

func NewWhisperBackend(serverURL, model string) *WhisperBackend {
	return &WhisperBackend{
		serverURL: serverURL,
		model:     model,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WhisperBackend) Name() string { return "whisper" }

func (w *WhisperBackend) Transcribe(ctx context.Context, req AsrRequest) (AsrResult, error) {
	pcm := encodePCM16LE(req.AudioPCM16kMono)
	wav := encodeWAV(pcm, req.SampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return AsrResult{}, fmt.Errorf("transcription: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return AsrResult{}, fmt.Errorf("transcription: write wav data: %w", err)
	}
	if req.LanguageHint != "" {
		if err := mw.WriteField("language", req.LanguageHint); err != nil {
			return AsrResult{}, fmt.Errorf("transcription: write language field: %w", err)
		}
	}
	if w.model != "" {
		if err := mw.WriteField("model", w.model); err != nil {
			return AsrResult{}, fmt.Errorf("transcription: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return AsrResult{}, fmt.Errorf("transcription: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.serverURL+"/inference", &body)
	if err != nil {
		return AsrResult{}, fmt.Errorf("transcription: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return AsrResult{}, fmt.Errorf("transcription: whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AsrResult{}, fmt.Errorf("transcription: whisper server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return AsrResult{}, fmt.Errorf("transcription: read whisper response: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return AsrResult{}, fmt.Errorf("transcription: parse whisper response: %w", err)
	}

	return AsrResult{Text: result.Text, Language: req.LanguageHint}, nil
}

// encodePCM16LE converts float32 samples in [-1, 1] to 16-bit signed
// little-endian PCM, the format whisper.cpp's WAV ingestion expects.
func encodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// encodeWAV wraps 16-bit signed little-endian PCM in a standard
// RIFF/WAV container, matching whisper.Provider's encodeWAV.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
