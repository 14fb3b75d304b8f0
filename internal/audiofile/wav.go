// Package audiofile writes decoded audio buffers to WAV files so a narration
// can be kept after playback.
package audiofile

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/book-expert/story-reader/internal/codec"
)

const (
	bitDepth       = 16
	audioFormatPCM = 1
	pcm16Scale     = 32768.0
	pcm16Max       = 32767
	pcm16Min       = -32768
)

// ErrEmptyBuffer indicates an export attempt without any samples.
var ErrEmptyBuffer = errors.New("audio buffer is empty")

// SaveWAV writes the buffer to path as 16-bit PCM WAV, re-quantizing the
// normalized float samples. Values outside [-1.0, 1.0] are clamped.
func SaveWAV(path string, buf *codec.FloatBuffer) error {
	if buf == nil || buf.Frames() == 0 {
		return ErrEmptyBuffer
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	encoder := wav.NewEncoder(out, buf.SampleRate, bitDepth, buf.Channels(), audioFormatPCM)

	writeErr := encoder.Write(toIntBuffer(buf))

	closeErr := encoder.Close()
	fileErr := out.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write WAV data to %s: %w", path, writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to finalize WAV file %s: %w", path, closeErr)
	}

	if fileErr != nil {
		return fmt.Errorf("failed to close output file %s: %w", path, fileErr)
	}

	return nil
}

// toIntBuffer interleaves the channel planes back into the integer frame
// layout the WAV encoder consumes.
func toIntBuffer(buf *codec.FloatBuffer) *audio.IntBuffer {
	frames := buf.Frames()
	channels := buf.Channels()
	data := make([]int, frames*channels)

	for frame := range frames {
		for channel := range channels {
			data[frame*channels+channel] = quantize(buf.Data[channel][frame])
		}
	}

	return &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  buf.SampleRate,
		},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
}

func quantize(sample float32) int {
	scaled := int(math.Round(float64(sample) * pcm16Scale))
	if scaled > pcm16Max {
		return pcm16Max
	}

	if scaled < pcm16Min {
		return pcm16Min
	}

	return scaled
}
