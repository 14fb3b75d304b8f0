package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/book-expert/logger"
	"github.com/gen2brain/malgo"

	"github.com/book-expert/story-reader/internal/codec"
)

const bytesPerFloatSample = 4

// ErrRendererBusy indicates that the device is already rendering a clip.
var ErrRendererBusy = errors.New("renderer device is already in use")

// MalgoRenderer renders float buffers on the default playback device through
// the miniaudio bindings. The miniaudio context is owned by the renderer and
// held until Close, so device acquisition stays an explicit, scoped resource
// rather than ambient process state.
type MalgoRenderer struct {
	ctx *malgo.AllocatedContext
	log *logger.Logger

	mu     sync.Mutex
	device *malgo.Device
}

// NewMalgoRenderer initializes a miniaudio context for the host platform.
func NewMalgoRenderer(log *logger.Logger) (*MalgoRenderer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Info("miniaudio: %s", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	return &MalgoRenderer{
		ctx: ctx,
		log: log,
	}, nil
}

// Start acquires a playback device for the buffer's format and begins
// feeding it interleaved samples. onComplete is invoked once, after the
// final frame has been handed to the device, from a separate goroutine so
// the device can be torn down outside its own data callback.
func (r *MalgoRenderer) Start(buf *codec.FloatBuffer, onComplete func()) error {
	r.mu.Lock()

	if r.device != nil {
		r.mu.Unlock()

		return ErrRendererBusy
	}
	r.mu.Unlock()

	interleaved := interleave(buf)
	channels := buf.Channels()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(buf.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	var (
		offset     int
		finishOnce sync.Once
	)

	finish := func() {
		finishOnce.Do(func() {
			// Tear down from a fresh goroutine; miniaudio does not
			// allow stopping a device inside its data callback.
			go func() {
				stopErr := r.Stop()
				if stopErr != nil {
					r.log.Warn("Failed to release playback device: %v", stopErr)
				}

				if onComplete != nil {
					onComplete()
				}
			}()
		})
	}

	onSendFrames := func(pOutput, _ []byte, _ uint32) {
		copied := copy(pOutput, interleaved[offset:])
		offset += copied

		// Zero-fill the remainder of the final period.
		for i := copied; i < len(pOutput); i++ {
			pOutput[i] = 0
		}

		if offset >= len(interleaved) {
			finish()
		}
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: onSendFrames,
	}

	device, err := malgo.InitDevice(r.ctx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	r.mu.Lock()
	r.device = device
	r.mu.Unlock()

	err = device.Start()
	if err != nil {
		r.mu.Lock()
		r.device = nil
		r.mu.Unlock()

		device.Uninit()

		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

// Stop halts rendering and releases the playback device. It is a no-op when
// no device is active.
func (r *MalgoRenderer) Stop() error {
	r.mu.Lock()

	device := r.device
	r.device = nil
	r.mu.Unlock()

	if device == nil {
		return nil
	}

	device.Uninit()

	return nil
}

// Close releases the device, if any, and the miniaudio context.
func (r *MalgoRenderer) Close() error {
	stopErr := r.Stop()
	if stopErr != nil {
		return stopErr
	}

	uninitErr := r.ctx.Uninit()
	r.ctx.Free()

	if uninitErr != nil {
		return fmt.Errorf("failed to release audio context: %w", uninitErr)
	}

	return nil
}

// interleave flattens per-channel planes into the little-endian 32-bit float
// frame layout the device callback consumes.
func interleave(buf *codec.FloatBuffer) []byte {
	frames := buf.Frames()
	channels := buf.Channels()
	out := make([]byte, frames*channels*bytesPerFloatSample)

	for frame := range frames {
		for channel := range channels {
			offset := (frame*channels + channel) * bytesPerFloatSample
			bits := math.Float32bits(buf.Data[channel][frame])
			binary.LittleEndian.PutUint32(out[offset:], bits)
		}
	}

	return out
}
