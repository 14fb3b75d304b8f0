// Package playback owns the single active audio output session. The
// Controller enforces the one-session invariant and tracks its Idle/Playing
// state; the actual device I/O sits behind the Renderer interface.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/story-reader/internal/codec"
)

// Static errors.
var (
	// ErrConcurrentPlayback indicates a Start call while a session is still
	// active. The controller never auto-stops a prior session; callers must
	// call Stop first.
	ErrConcurrentPlayback = errors.New("a playback session is already active")
	// ErrNilBuffer indicates a Start call without a decoded buffer.
	ErrNilBuffer = errors.New("playback buffer cannot be nil")
)

// Renderer is the audio output device collaborator. Start begins rendering
// the buffer and invokes onComplete exactly once when the clip has fully
// played; Stop halts rendering without invoking onComplete. Close releases
// the underlying device resources.
type Renderer interface {
	Start(buf *codec.FloatBuffer, onComplete func()) error
	Stop() error
	Close() error
}

// Session is the opaque handle for one active rendering, from Start until
// explicit Stop or natural completion.
type Session struct {
	ID string
}

// Controller manages exactly one active playback session at a time.
type Controller struct {
	mu       sync.Mutex
	renderer Renderer
	active   *Session
	log      *logger.Logger
}

// NewController creates a Controller that renders through the given device.
func NewController(renderer Renderer, log *logger.Logger) *Controller {
	return &Controller{
		renderer: renderer,
		log:      log,
	}
}

// Playing reports whether a session is currently active.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active != nil
}

// Start begins rendering the buffer and returns the new session handle. The
// onComplete callback fires after natural end of clip, once the controller
// has already transitioned back to idle; it does not fire on explicit Stop.
func (c *Controller) Start(buf *codec.FloatBuffer, onComplete func()) (*Session, error) {
	if buf == nil {
		return nil, ErrNilBuffer
	}

	c.mu.Lock()

	if c.active != nil {
		c.mu.Unlock()

		return nil, ErrConcurrentPlayback
	}

	session := &Session{ID: uuid.NewString()}
	c.active = session
	c.mu.Unlock()

	err := c.renderer.Start(buf, func() {
		c.finish(session)

		if onComplete != nil {
			onComplete()
		}
	})
	if err != nil {
		c.finish(session)

		return nil, fmt.Errorf("failed to start renderer: %w", err)
	}

	c.log.Info("Playback session %s started: %d frames at %d Hz",
		session.ID, buf.Frames(), buf.SampleRate)

	return session, nil
}

// Stop halts the active session and releases the device. It is a no-op, not
// an error, when no session is active.
func (c *Controller) Stop() error {
	c.mu.Lock()

	if c.active == nil {
		c.mu.Unlock()

		return nil
	}

	session := c.active
	c.active = nil
	c.mu.Unlock()

	err := c.renderer.Stop()
	if err != nil {
		return fmt.Errorf("failed to stop renderer: %w", err)
	}

	c.log.Info("Playback session %s stopped", session.ID)

	return nil
}

// Close stops any active session and releases the renderer.
func (c *Controller) Close() error {
	stopErr := c.Stop()

	closeErr := c.renderer.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close renderer: %w", closeErr)
	}

	return stopErr
}

// finish clears the active session after natural completion. A stale session
// (already replaced or stopped) is ignored.
func (c *Controller) finish(session *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == session {
		c.active = nil
	}
}
