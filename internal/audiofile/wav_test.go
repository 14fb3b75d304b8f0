// Package audiofile_test tests WAV export of decoded buffers.
package audiofile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/story-reader/internal/audiofile"
	"github.com/book-expert/story-reader/internal/codec"
)

func TestSaveWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	buf := &codec.FloatBuffer{
		SampleRate: 24000,
		Data: [][]float32{
			{0.0, 0.5, -0.5, float32(32767) / 32768.0},
		},
	}

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, audiofile.SaveWAV(path, buf))

	file, err := os.Open(path)
	require.NoError(t, err)

	defer func() {
		_ = file.Close()
	}()

	decoder := wav.NewDecoder(file)
	require.True(t, decoder.IsValidFile())

	decoded, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	require.Equal(t, 1, decoded.Format.NumChannels)
	require.Equal(t, 24000, decoded.Format.SampleRate)
	require.Len(t, decoded.Data, 4)
	assert.Equal(t, 0, decoded.Data[0])
	assert.Equal(t, 16384, decoded.Data[1])
	assert.Equal(t, -16384, decoded.Data[2])
	assert.Equal(t, 32767, decoded.Data[3])
}

func TestSaveWAV_ClampsOutOfRangeSamples(t *testing.T) {
	t.Parallel()

	buf := &codec.FloatBuffer{
		SampleRate: 24000,
		Data:       [][]float32{{1.5, -1.5}},
	}

	path := filepath.Join(t.TempDir(), "clamped.wav")
	require.NoError(t, audiofile.SaveWAV(path, buf))

	file, err := os.Open(path)
	require.NoError(t, err)

	defer func() {
		_ = file.Close()
	}()

	decoded, err := wav.NewDecoder(file).FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 32767, decoded.Data[0])
	assert.Equal(t, -32768, decoded.Data[1])
}

func TestSaveWAV_EmptyBuffer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.wav")

	err := audiofile.SaveWAV(path, nil)
	require.ErrorIs(t, err, audiofile.ErrEmptyBuffer)

	err = audiofile.SaveWAV(path, &codec.FloatBuffer{SampleRate: 24000})
	require.ErrorIs(t, err, audiofile.ErrEmptyBuffer)
}
