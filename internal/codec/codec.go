// Package codec implements the binary conversions of the playback pipeline:
// base64 text to raw bytes, data URI assembly, and interpretation of raw
// little-endian 16-bit PCM as normalized float sample buffers.
//
// Every function in this package is a pure transform with no side effects.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// PCM interpretation constants.
const (
	bytesPerSample = 2
	// pcm16Scale is the signed 16-bit magnitude used to normalize samples,
	// mapping [-32768, 32767] to [-1.0, 0.99997).
	pcm16Scale = 32768.0
)

// Data URI framing constants.
const (
	dataURIScheme = "data:"
	dataURIMarker = ";base64,"
)

// Static errors.
var (
	// ErrMalformedInput indicates that a base64 string contains characters
	// outside the base64 alphabet or invalid padding.
	ErrMalformedInput = errors.New("malformed base64 input")
	// ErrInvalidAudioFormat indicates an empty PCM payload or a nonsensical
	// sample rate or channel count.
	ErrInvalidAudioFormat = errors.New("invalid audio format")
	// ErrInvalidDataURI indicates a string that is not a base64 data URI.
	ErrInvalidDataURI = errors.New("invalid data URI")
)

// FloatBuffer is a decoded audio clip: one plane of normalized float samples
// per channel, all planes the same length, at a fixed sample rate.
type FloatBuffer struct {
	SampleRate int
	Data       [][]float32
}

// Channels returns the number of channel planes in the buffer.
func (b *FloatBuffer) Channels() int {
	return len(b.Data)
}

// Frames returns the number of samples per channel.
func (b *FloatBuffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}

	return len(b.Data[0])
}

// DecodeBase64 decodes a base64 string into the exact byte sequence it
// encodes. The input must be bare base64; callers strip any data URI prefix
// first. Invalid characters or padding fail with ErrMalformedInput.
func DecodeBase64(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	return data, nil
}

// EncodeDataURI builds a self-describing data URI from a MIME type and a raw
// payload.
func EncodeDataURI(mimeType string, data []byte) string {
	return dataURIScheme + mimeType + dataURIMarker + base64.StdEncoding.EncodeToString(data)
}

// SplitDataURI splits a base64 data URI into its MIME type and its still
// encoded payload. It is the inverse of EncodeDataURI up to the base64
// decode, which is left to the caller.
func SplitDataURI(uri string) (mimeType, payload string, err error) {
	rest, found := strings.CutPrefix(uri, dataURIScheme)
	if !found {
		return "", "", fmt.Errorf("%w: missing %q scheme", ErrInvalidDataURI, dataURIScheme)
	}

	mimeType, payload, found = strings.Cut(rest, dataURIMarker)
	if !found {
		return "", "", fmt.Errorf("%w: missing %q marker", ErrInvalidDataURI, dataURIMarker)
	}

	return mimeType, payload, nil
}

// PCM16ToFloatBuffer interprets data as interleaved signed 16-bit
// little-endian PCM and produces a normalized FloatBuffer with one plane per
// channel. Samples per channel is floor(len(data)/2/channels); a trailing
// incomplete sample is silently discarded rather than treated as an error.
// An empty payload, or a non-positive sample rate or channel count, fails
// with ErrInvalidAudioFormat.
func PCM16ToFloatBuffer(data []byte, sampleRate, channels int) (*FloatBuffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty PCM payload", ErrInvalidAudioFormat)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidAudioFormat, sampleRate)
	}

	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count must be positive, got %d", ErrInvalidAudioFormat, channels)
	}

	frames := len(data) / bytesPerSample / channels

	planes := make([][]float32, channels)
	for channel := range planes {
		planes[channel] = make([]float32, frames)
	}

	for frame := range frames {
		for channel := range channels {
			offset := (frame*channels + channel) * bytesPerSample
			sample := int16(binary.LittleEndian.Uint16(data[offset:]))
			planes[channel][frame] = float32(sample) / pcm16Scale
		}
	}

	return &FloatBuffer{
		SampleRate: sampleRate,
		Data:       planes,
	}, nil
}
