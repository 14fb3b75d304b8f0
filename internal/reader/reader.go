// Package reader implements the orchestration state machine that sequences
// image selection, story generation, speech generation, and playback. It owns
// the current image, story, and phase, and it is the only caller of the
// playback controller, so the one-session playback invariant is enforced here
// rather than by any outer surface.
package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/story-reader/internal/codec"
	"github.com/book-expert/story-reader/internal/core"
	"github.com/book-expert/story-reader/internal/playback"
	"github.com/book-expert/story-reader/internal/storytext"
)

// State is the orchestrator phase. Playing is tracked separately; it is
// orthogonal to the generation phases.
type State string

// Orchestrator states.
const (
	StateIdle            State = "idle"
	StateGeneratingStory State = "generating-story"
	StateGeneratingAudio State = "generating-audio"
	StateError           State = "error"
)

// User-facing messages. Underlying causes are logged, never surfaced.
const (
	MsgInvalidImage = "Please upload a valid image file."
	MsgStoryFailed  = "failed to generate story"
	MsgAudioFailed  = "failed to generate audio"
)

const imageMIMEPrefix = "image/"

// Static errors.
var (
	// ErrInvalidInput indicates that the selected file is not an image.
	ErrInvalidInput = errors.New("selected file is not an image")
	// ErrInvalidState indicates an operation that is not allowed while a
	// generation is in flight.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	State       State
	Playing     bool
	Story       string
	ImageURI    string
	UserMessage string
}

// Reader sequences the upload, generation, and playback pipeline. At most one
// remote call is outstanding at any time.
type Reader struct {
	mu             sync.Mutex
	state          State
	playing        bool
	story          string
	imageURI       string
	userMessage    string
	cancelInFlight context.CancelFunc

	stories      core.StoryGenerator
	speech       core.SpeechGenerator
	player       *playback.Controller
	preprocessor *storytext.Preprocessor
	clipSink     func(*codec.FloatBuffer)
	log          *logger.Logger
}

// New creates an idle Reader wired to its collaborators.
func New(
	stories core.StoryGenerator,
	speech core.SpeechGenerator,
	player *playback.Controller,
	log *logger.Logger,
) *Reader {
	return &Reader{
		state:        StateIdle,
		stories:      stories,
		speech:       speech,
		player:       player,
		preprocessor: storytext.NewPreprocessor(),
		log:          log,
	}
}

// SetClipSink registers an observer that receives each decoded clip right
// before playback starts, for example to export it as a WAV file. The buffer
// is not retained by the reader afterwards.
func (r *Reader) SetClipSink(sink func(*codec.FloatBuffer)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clipSink = sink
}

// Status returns a snapshot of the current orchestrator state.
func (r *Reader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Status{
		State:       r.state,
		Playing:     r.playing,
		Story:       r.story,
		ImageURI:    r.imageURI,
		UserMessage: r.userMessage,
	}
}

// SelectImage validates the file, stores it as the current image, and
// generates a new story for it. The previous story is cleared first. While a
// generation is already in flight the call is rejected with ErrInvalidState;
// a non-image file moves the reader to the error state with ErrInvalidInput
// and never reaches the story service.
func (r *Reader) SelectImage(ctx context.Context, file core.ImageAttachment) error {
	r.mu.Lock()

	if r.state == StateGeneratingStory || r.state == StateGeneratingAudio {
		r.mu.Unlock()

		return fmt.Errorf("%w: generation already in progress", ErrInvalidState)
	}

	if !strings.HasPrefix(file.MIMEType, imageMIMEPrefix) {
		r.state = StateError
		r.userMessage = MsgInvalidImage
		r.mu.Unlock()

		r.log.Warn("Rejected non-image file of type %q", file.MIMEType)

		return fmt.Errorf("%w: got MIME type %q", ErrInvalidInput, file.MIMEType)
	}

	callCtx, cancel := context.WithCancel(ctx)
	r.cancelInFlight = cancel
	r.state = StateGeneratingStory
	r.story = ""
	r.userMessage = ""
	r.imageURI = codec.EncodeDataURI(file.MIMEType, file.Data)
	r.mu.Unlock()

	story, err := r.stories.GenerateStory(callCtx, file)

	r.mu.Lock()
	defer r.mu.Unlock()

	cancel()

	r.cancelInFlight = nil

	if err != nil {
		r.state = StateError
		r.userMessage = MsgStoryFailed

		r.log.Error("Story generation failed: %v", err)

		return fmt.Errorf("%s: %w", MsgStoryFailed, err)
	}

	r.story = story
	r.state = StateIdle

	r.log.Info("Story generated: %d characters", len(story))

	return nil
}

// TogglePlayback starts or stops narration of the current story. While
// playing it stops the active session. Otherwise it synthesizes speech for
// the story, decodes the payload, and starts playback. The toggle is ignored
// when there is no story yet or a generation is in flight.
func (r *Reader) TogglePlayback(ctx context.Context) error {
	r.mu.Lock()

	if r.playing {
		r.playing = false
		r.mu.Unlock()

		stopErr := r.player.Stop()
		if stopErr != nil {
			return fmt.Errorf("failed to stop playback: %w", stopErr)
		}

		return nil
	}

	if r.story == "" || r.state == StateGeneratingStory || r.state == StateGeneratingAudio {
		r.mu.Unlock()

		return nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	r.cancelInFlight = cancel
	r.state = StateGeneratingAudio
	r.userMessage = ""
	text := r.preprocessor.Prepare(r.story)
	r.mu.Unlock()

	defer cancel()

	clip, err := r.speech.GenerateSpeech(callCtx, text)
	if err != nil {
		return r.failAudio("speech generation failed", err)
	}

	raw, err := codec.DecodeBase64(clip.Base64PCM)
	if err != nil {
		return r.failAudio("audio payload decode failed", err)
	}

	buf, err := codec.PCM16ToFloatBuffer(raw, clip.SampleRate, clip.Channels)
	if err != nil {
		return r.failAudio("PCM interpretation failed", err)
	}

	r.mu.Lock()
	sink := r.clipSink
	r.mu.Unlock()

	if sink != nil {
		sink(buf)
	}

	// Mark playing before handing the buffer to the device: for a very
	// short clip the completion callback can fire before Start returns,
	// and it must find the flag set so it can clear it rather than be
	// overwritten afterwards.
	r.mu.Lock()
	r.playing = true
	r.mu.Unlock()

	_, err = r.player.Start(buf, r.playbackFinished)
	if err != nil {
		return r.failAudio("playback start failed", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelInFlight = nil
	r.state = StateIdle

	return nil
}

// Close cancels any in-flight generation and stops playback.
func (r *Reader) Close() error {
	r.mu.Lock()

	cancel := r.cancelInFlight
	r.cancelInFlight = nil
	r.playing = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	stopErr := r.player.Stop()
	if stopErr != nil {
		return fmt.Errorf("failed to stop playback: %w", stopErr)
	}

	return nil
}

// playbackFinished is the completion observer handed to the playback
// controller; it runs on the audio device goroutine.
func (r *Reader) playbackFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.playing = false

	r.log.Info("Playback finished")
}

// failAudio records an audio-phase failure: error state, playing forced
// false, generic user message, cause logged only.
func (r *Reader) failAudio(phase string, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelInFlight = nil
	r.state = StateError
	r.playing = false
	r.userMessage = MsgAudioFailed

	r.log.Error("%s: %v", phase, err)

	return fmt.Errorf("%s: %w", MsgAudioFailed, err)
}
