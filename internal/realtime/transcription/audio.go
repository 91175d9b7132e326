package transcription

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	resampler "github.com/tphakala/go-audio-resampler"
)

const (
	opusSampleRate = 48000
	opusChannels   = 1
	asrSampleRate  = 16000
)

// opusDecoder decodes a single producer's Opus RTP payloads to 48kHz
// mono PCM, then downsamples to the 16kHz mono the VAD and ASR stages
// expect.
type opusDecoder struct {
	dec      *opus.Decoder
	resample *resampler.Resampler
	pcmBuf   []int16
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := opus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("transcription: new opus decoder: %w", err)
	}
	rs, err := resampler.New(opusSampleRate, asrSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("transcription: new resampler: %w", err)
	}
	return &opusDecoder{
		dec:      dec,
		resample: rs,
		pcmBuf:   make([]int16, opusSampleRate/1000*60), // 60ms worst case frame
	}, nil
}

// decodeAndResample decodes one Opus RTP payload and returns 16kHz
// mono float32 PCM.
func (d *opusDecoder) decodeAndResample(payload []byte) ([]float32, error) {
	n, err := d.dec.Decode(payload, d.pcmBuf)
	if err != nil {
		return nil, fmt.Errorf("transcription: opus decode: %w", err)
	}
	pcm48k := make([]float32, n)
	for i := 0; i < n; i++ {
		pcm48k[i] = float32(d.pcmBuf[i]) / 32768.0
	}
	return d.resample.Resample(pcm48k)
}

// plc asks the decoder for packet-loss-concealed samples covering a
// detected RTP sequence gap, then resamples them the same as real
// audio.
func (d *opusDecoder) plc() ([]float32, error) {
	n, err := d.dec.DecodePLC(d.pcmBuf)
	if err != nil {
		return nil, fmt.Errorf("transcription: opus plc: %w", err)
	}
	pcm48k := make([]float32, n)
	for i := 0; i < n; i++ {
		pcm48k[i] = float32(d.pcmBuf[i]) / 32768.0
	}
	return d.resample.Resample(pcm48k)
}
