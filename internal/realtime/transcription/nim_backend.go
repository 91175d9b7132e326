package transcription

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName registers the JSON codec under a name distinct from
// gRPC's built-in "proto" codec, selected per-call via
// grpc.CallContentSubtype. This avoids depending on protoc-generated
// message stubs for the Riva ASR service while still genuinely
// speaking gRPC (HTTP/2 framing, codec negotiation, streaming) against
// a real NIM/Riva endpoint.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(jsonMarshaler)
	if !ok {
		return nil, fmt.Errorf("transcription: %T does not implement jsonMarshaler", v)
	}
	return m.MarshalJSON()
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(jsonUnmarshaler)
	if !ok {
		return fmt.Errorf("transcription: %T does not implement jsonUnmarshaler", v)
	}
	return m.UnmarshalJSON(data)
}

type jsonMarshaler interface {
	MarshalJSON() ([]byte, error)
}

type jsonUnmarshaler interface {
	UnmarshalJSON([]byte) error
}

// recognitionConfig and recognizeRequest/Response mirror the Riva ASR
// proto fields used in remote_nim.rs's RecognitionConfig/
// RecognizeRequest, reimplemented as plain JSON-tagged structs rather
// than protoc-generated stubs.
type recognitionConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sample_rate_hertz"`
	LanguageCode               string `json:"language_code"`
	MaxAlternatives            int    `json:"max_alternatives"`
	Model                      string `json:"model"`
	EnableAutomaticPunctuation bool   `json:"enable_automatic_punctuation"`
}

type recognizeRequest struct {
	Config *recognitionConfig `json:"config"`
	Audio  []byte             `json:"audio"`
}

func (r *recognizeRequest) MarshalJSON() ([]byte, error) { return marshalJSON(r) }
func (r *recognizeRequest) UnmarshalJSON(b []byte) error  { return unmarshalJSON(b, r) }

type recognitionAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
}

type speechRecognitionResult struct {
	Alternatives []recognitionAlternative `json:"alternatives"`
}

type recognizeResponse struct {
	Results []speechRecognitionResult `json:"results"`
}

func (r *recognizeResponse) MarshalJSON() ([]byte, error) { return marshalJSON(r) }
func (r *recognizeResponse) UnmarshalJSON(b []byte) error { return unmarshalJSON(b, r) }

// NimBackend is a streaming/batch backend speaking gRPC against an
// NVIDIA NIM or Riva ASR endpoint.
type NimBackend struct {
	endpoint  string
	modelName string
}

func NewNimBackend(endpoint, modelName string) *NimBackend {
	return &NimBackend{endpoint: endpoint, modelName: modelName}
}

func (b *NimBackend) Name() string { return "remote_nim" }

func (b *NimBackend) SupportsLanguage(lang string) bool {
	switch lang {
	case "en", "de", "fr", "es":
		return true
	default:
		return false
	}
}

var nimLanguageCodes = map[string]string{
	"en": "en-US",
	"de": "de-DE",
	"fr": "fr-FR",
	"es": "es-ES",
}

func (b *NimBackend) languageCode(hint string) string {
	if code, ok := nimLanguageCodes[hint]; ok {
		return code
	}
	if hint != "" {
		return hint
	}
	return "en-US"
}

func (b *NimBackend) dial(ctx context.Context) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(b.endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transcription: dial nim endpoint %q: %w", b.endpoint, err)
	}
	return conn, nil
}

func (b *NimBackend) Transcribe(ctx context.Context, req AsrRequest) (AsrResult, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return AsrResult{}, err
	}
	defer conn.Close()

	rpcReq := &recognizeRequest{
		Config: &recognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            req.SampleRate,
			LanguageCode:               b.languageCode(req.LanguageHint),
			MaxAlternatives:            1,
			Model:                      b.modelName,
			EnableAutomaticPunctuation: true,
		},
		Audio: encodePCM16LE(req.AudioPCM16kMono),
	}

	var rpcResp recognizeResponse
	err = conn.Invoke(ctx, "/nvidia.riva.asr.RivaSpeechRecognition/Recognize", rpcReq, &rpcResp, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return AsrResult{}, fmt.Errorf("transcription: nim recognize rpc: %w", err)
	}

	if len(rpcResp.Results) == 0 || len(rpcResp.Results[0].Alternatives) == 0 {
		return AsrResult{}, nil
	}
	best := rpcResp.Results[0].Alternatives[0]
	return AsrResult{Text: best.Transcript, Confidence: float64(best.Confidence)}, nil
}

// streamingRecognitionConfig carries a recognitionConfig plus
// StreamingRecognize's interim-results flag, sent as the first message
// on the stream.
type streamingRecognitionConfig struct {
	Config         *recognitionConfig `json:"config"`
	InterimResults bool               `json:"interim_results"`
}

// streamingRecognizeRequest is one message on a StreamingRecognize
// client stream: the first carries StreamingConfig, every subsequent
// one carries a chunk of raw PCM as AudioContent.
type streamingRecognizeRequest struct {
	StreamingConfig *streamingRecognitionConfig `json:"streaming_config,omitempty"`
	AudioContent    []byte                      `json:"audio_content,omitempty"`
}

func (r *streamingRecognizeRequest) MarshalJSON() ([]byte, error) { return marshalJSON(r) }
func (r *streamingRecognizeRequest) UnmarshalJSON(b []byte) error { return unmarshalJSON(b, r) }

type streamingRecognitionResult struct {
	Alternatives []recognitionAlternative `json:"alternatives"`
	IsFinal      bool                     `json:"is_final"`
}

type streamingRecognizeResponse struct {
	Results []streamingRecognitionResult `json:"results"`
}

func (r *streamingRecognizeResponse) MarshalJSON() ([]byte, error) { return marshalJSON(r) }
func (r *streamingRecognizeResponse) UnmarshalJSON(b []byte) error { return unmarshalJSON(b, r) }

var streamingRecognizeDesc = grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ClientStreams: true,
	ServerStreams: true,
}

// StartStream opens a bidirectional StreamingRecognize call against
// the same Riva endpoint Transcribe uses, and returns a session that
// forwards PCM chunks in and the backend's own partial/final results
// out, satisfying StreamingAsrBackend.
func (b *NimBackend) StartStream(ctx context.Context, cfg StreamingConfig) (StreamingSession, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(streamCtx, &streamingRecognizeDesc, "/nvidia.riva.asr.RivaSpeechRecognition/StreamingRecognize", grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("transcription: nim streaming recognize: %w", err)
	}

	cfgMsg := &streamingRecognizeRequest{
		StreamingConfig: &streamingRecognitionConfig{
			Config: &recognitionConfig{
				Encoding:                   "LINEAR16",
				SampleRateHertz:            cfg.SampleRate,
				LanguageCode:               b.languageCode(cfg.LanguageHint),
				MaxAlternatives:            1,
				Model:                      b.modelName,
				EnableAutomaticPunctuation: true,
			},
			InterimResults: true,
		},
	}
	if err := stream.SendMsg(cfgMsg); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("transcription: nim streaming config: %w", err)
	}

	sess := &nimStreamingSession{
		stream:  stream,
		conn:    conn,
		cancel:  cancel,
		results: make(chan StreamingResult, 8),
	}
	go sess.recvLoop()
	return sess, nil
}

// nimStreamingSession is one open StreamingRecognize call.
type nimStreamingSession struct {
	stream  grpc.ClientStream
	conn    *grpc.ClientConn
	cancel  context.CancelFunc
	results chan StreamingResult

	closeOnce sync.Once
}

func (s *nimStreamingSession) SendAudio(pcm []float32) error {
	return s.stream.SendMsg(&streamingRecognizeRequest{AudioContent: encodePCM16LE(pcm)})
}

func (s *nimStreamingSession) Results() <-chan StreamingResult {
	return s.results
}

// recvLoop drains responses until the server closes the stream or the
// caller cancels it, then tears down the connection. It owns the
// stream's lifetime: Close only half-closes the send side, letting any
// in-flight result still arrive before this loop exits.
func (s *nimStreamingSession) recvLoop() {
	defer close(s.results)
	defer s.cancel()
	defer s.conn.Close()

	for {
		var resp streamingRecognizeResponse
		if err := s.stream.RecvMsg(&resp); err != nil {
			return
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			best := result.Alternatives[0]
			s.results <- StreamingResult{
				Text:       best.Transcript,
				IsFinal:    result.IsFinal,
				Confidence: float64(best.Confidence),
			}
		}
	}
}

func (s *nimStreamingSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stream.CloseSend()
	})
	return nil
}
