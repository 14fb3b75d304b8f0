// Package reader_test tests the orchestration state machine with mocked
// generation collaborators and a fake output device.
package reader_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/story-reader/internal/codec"
	"github.com/book-expert/story-reader/internal/core"
	"github.com/book-expert/story-reader/internal/playback"
	"github.com/book-expert/story-reader/internal/reader"
)

var errUpstreamDown = errors.New("upstream down")

// mockStoryGenerator returns a canned story or error and counts calls.
type mockStoryGenerator struct {
	story string
	err   error
	calls int
}

func (m *mockStoryGenerator) GenerateStory(_ context.Context, _ core.ImageAttachment) (string, error) {
	m.calls++

	if m.err != nil {
		return "", m.err
	}

	return m.story, nil
}

// mockSpeechGenerator returns a canned clip or error and records the text it
// was asked to synthesize.
type mockSpeechGenerator struct {
	clip     core.SpeechClip
	err      error
	calls    int
	lastText string
}

func (m *mockSpeechGenerator) GenerateSpeech(_ context.Context, text string) (core.SpeechClip, error) {
	m.calls++
	m.lastText = text

	if m.err != nil {
		return core.SpeechClip{}, m.err
	}

	return m.clip, nil
}

// fakeRenderer stays open until the test fires the completion callback.
type fakeRenderer struct {
	onComplete func()
	stopCalls  int
}

func (f *fakeRenderer) Start(_ *codec.FloatBuffer, onComplete func()) error {
	f.onComplete = onComplete

	return nil
}

func (f *fakeRenderer) Stop() error {
	f.stopCalls++

	return nil
}

func (f *fakeRenderer) Close() error {
	return nil
}

type fixture struct {
	reader   *reader.Reader
	stories  *mockStoryGenerator
	speech   *mockSpeechGenerator
	renderer *fakeRenderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "reader-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	// Base64 of two mono 16-bit samples: 0x0000 and 0x7FFF.
	payload := base64.StdEncoding.EncodeToString([]byte{0x00, 0x00, 0xFF, 0x7F})

	stories := &mockStoryGenerator{story: "The tide forgot to turn that morning."}
	speech := &mockSpeechGenerator{
		clip: core.SpeechClip{
			Base64PCM:  payload,
			SampleRate: core.SpeechSampleRate,
			Channels:   core.SpeechChannels,
		},
	}
	renderer := &fakeRenderer{}
	controller := playback.NewController(renderer, log)

	return &fixture{
		reader:   reader.New(stories, speech, controller, log),
		stories:  stories,
		speech:   speech,
		renderer: renderer,
	}
}

func validJPEG() core.ImageAttachment {
	return core.ImageAttachment{
		MIMEType: "image/jpeg",
		Data:     []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
	}
}

func TestSelectImage_GeneratesStory(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	err := fix.reader.SelectImage(context.Background(), validJPEG())
	require.NoError(t, err)

	status := fix.reader.Status()
	assert.Equal(t, reader.StateIdle, status.State)
	assert.Equal(t, "The tide forgot to turn that morning.", status.Story)
	assert.True(t, strings.HasPrefix(status.ImageURI, "data:image/jpeg;base64,"))
	assert.Empty(t, status.UserMessage)
	assert.Equal(t, 1, fix.stories.calls)
}

func TestSelectImage_NonImageFile(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	file := core.ImageAttachment{
		MIMEType: "application/pdf",
		Data:     []byte("%PDF-1.4"),
	}

	err := fix.reader.SelectImage(context.Background(), file)
	require.ErrorIs(t, err, reader.ErrInvalidInput)

	status := fix.reader.Status()
	assert.Equal(t, reader.StateError, status.State)
	assert.Equal(t, reader.MsgInvalidImage, status.UserMessage)

	// The story service is never reached.
	assert.Equal(t, 0, fix.stories.calls)
}

func TestSelectImage_StoryFailure(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.stories.err = errUpstreamDown

	err := fix.reader.SelectImage(context.Background(), validJPEG())
	require.Error(t, err)

	status := fix.reader.Status()
	assert.Equal(t, reader.StateError, status.State)
	assert.Equal(t, reader.MsgStoryFailed, status.UserMessage)
	assert.Empty(t, status.Story)

	// The raw cause stays out of the user-facing message.
	assert.NotContains(t, status.UserMessage, errUpstreamDown.Error())
}

func TestSelectImage_ReplacesPriorStory(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))

	fix.stories.story = "A second beginning."
	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))

	assert.Equal(t, "A second beginning.", fix.reader.Status().Story)
	assert.Equal(t, 2, fix.stories.calls)
}

func TestTogglePlayback_HappyPath(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	var decoded *codec.FloatBuffer

	fix.reader.SetClipSink(func(buf *codec.FloatBuffer) {
		decoded = buf
	})

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))
	require.NoError(t, fix.reader.TogglePlayback(context.Background()))

	status := fix.reader.Status()
	assert.Equal(t, reader.StateIdle, status.State)
	assert.True(t, status.Playing)

	// The mocked payload decodes to approximately [0.0, 0.99997].
	require.NotNil(t, decoded)
	require.Equal(t, 1, decoded.Channels())
	require.Equal(t, 2, decoded.Frames())
	assert.InDelta(t, 0.0, decoded.Data[0][0], 1e-9)
	assert.InDelta(t, 0.99997, decoded.Data[0][1], 1e-4)
}

func TestTogglePlayback_IgnoredWithoutStory(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	require.NoError(t, fix.reader.TogglePlayback(context.Background()))

	assert.Equal(t, 0, fix.speech.calls)
	assert.False(t, fix.reader.Status().Playing)
}

func TestTogglePlayback_StopWhilePlaying(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))
	require.NoError(t, fix.reader.TogglePlayback(context.Background()))
	require.True(t, fix.reader.Status().Playing)

	// Second toggle stops immediately and only flips the playing flag.
	require.NoError(t, fix.reader.TogglePlayback(context.Background()))

	status := fix.reader.Status()
	assert.False(t, status.Playing)
	assert.Equal(t, reader.StateIdle, status.State)
	assert.Equal(t, 1, fix.renderer.stopCalls)
	assert.Equal(t, 1, fix.speech.calls)
}

func TestTogglePlayback_SpeechFailure(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.speech.err = core.ErrService

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))

	err := fix.reader.TogglePlayback(context.Background())
	require.ErrorIs(t, err, core.ErrService)

	status := fix.reader.Status()
	assert.Equal(t, reader.StateError, status.State)
	assert.False(t, status.Playing)
	assert.Equal(t, reader.MsgAudioFailed, status.UserMessage)
}

func TestTogglePlayback_MalformedPayload(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.speech.clip.Base64PCM = "not!base64"

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))

	err := fix.reader.TogglePlayback(context.Background())
	require.ErrorIs(t, err, codec.ErrMalformedInput)

	status := fix.reader.Status()
	assert.Equal(t, reader.StateError, status.State)
	assert.False(t, status.Playing)
	assert.Equal(t, reader.MsgAudioFailed, status.UserMessage)
}

func TestTogglePlayback_EmptyPayload(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.speech.clip.Base64PCM = ""

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))

	err := fix.reader.TogglePlayback(context.Background())
	require.ErrorIs(t, err, codec.ErrInvalidAudioFormat)
	assert.False(t, fix.reader.Status().Playing)
}

func TestTogglePlayback_PreprocessesStoryText(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.stories.story = "The **lantern** flickered—twice."

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))
	require.NoError(t, fix.reader.TogglePlayback(context.Background()))

	assert.Equal(t, "The lantern flickered, twice.", fix.speech.lastText)
}

func TestNaturalCompletionClearsPlaying(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))
	require.NoError(t, fix.reader.TogglePlayback(context.Background()))
	require.True(t, fix.reader.Status().Playing)
	require.NotNil(t, fix.renderer.onComplete)

	fix.renderer.onComplete()

	assert.False(t, fix.reader.Status().Playing)
	assert.Equal(t, reader.StateIdle, fix.reader.Status().State)
}

func TestClose_StopsPlayback(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	require.NoError(t, fix.reader.SelectImage(context.Background(), validJPEG()))
	require.NoError(t, fix.reader.TogglePlayback(context.Background()))

	require.NoError(t, fix.reader.Close())
	assert.False(t, fix.reader.Status().Playing)
}

// completingRenderer finishes the clip inside Start itself, the way a real
// device goroutine can for a clip shorter than the Start call.
type completingRenderer struct{}

func (c *completingRenderer) Start(_ *codec.FloatBuffer, onComplete func()) error {
	onComplete()

	return nil
}

func (c *completingRenderer) Stop() error {
	return nil
}

func (c *completingRenderer) Close() error {
	return nil
}

func TestTogglePlayback_ClipCompletesBeforeStartReturns(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "reader-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	payload := base64.StdEncoding.EncodeToString([]byte{0x00, 0x00, 0xFF, 0x7F})
	stories := &mockStoryGenerator{story: "A very short story."}
	speech := &mockSpeechGenerator{
		clip: core.SpeechClip{
			Base64PCM:  payload,
			SampleRate: core.SpeechSampleRate,
			Channels:   core.SpeechChannels,
		},
	}
	controller := playback.NewController(&completingRenderer{}, log)
	storyReader := reader.New(stories, speech, controller, log)

	require.NoError(t, storyReader.SelectImage(context.Background(), validJPEG()))
	require.NoError(t, storyReader.TogglePlayback(context.Background()))

	// The clip already finished, so the reader must agree with the
	// controller that nothing is playing anymore.
	assert.False(t, controller.Playing())
	assert.False(t, storyReader.Status().Playing)
	assert.Equal(t, reader.StateIdle, storyReader.Status().State)
}

// blockingStoryGenerator parks inside GenerateStory until released, so tests
// can observe the reader while a generation is in flight.
type blockingStoryGenerator struct {
	entered chan struct{}
	release chan struct{}
	story   string
}

func (b *blockingStoryGenerator) GenerateStory(_ context.Context, _ core.ImageAttachment) (string, error) {
	close(b.entered)
	<-b.release

	return b.story, nil
}

func TestSelectImage_RejectedWhileGenerationInFlight(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "reader-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = log.Close()
	})

	stories := &blockingStoryGenerator{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		story:   "A story worth waiting for.",
	}
	speech := &mockSpeechGenerator{}
	renderer := &fakeRenderer{}
	controller := playback.NewController(renderer, log)
	storyReader := reader.New(stories, speech, controller, log)

	firstSelect := make(chan error, 1)

	go func() {
		firstSelect <- storyReader.SelectImage(context.Background(), validJPEG())
	}()

	<-stories.entered
	require.Equal(t, reader.StateGeneratingStory, storyReader.Status().State)

	// A second selection is rejected by the reader itself, not by any
	// disabled control in front of it.
	err = storyReader.SelectImage(context.Background(), validJPEG())
	require.ErrorIs(t, err, reader.ErrInvalidState)

	// Toggling playback during the generation is ignored and never
	// reaches the speech service.
	require.NoError(t, storyReader.TogglePlayback(context.Background()))
	assert.Equal(t, 0, speech.calls)
	assert.False(t, storyReader.Status().Playing)

	close(stories.release)
	require.NoError(t, <-firstSelect)

	status := storyReader.Status()
	assert.Equal(t, reader.StateIdle, status.State)
	assert.Equal(t, "A story worth waiting for.", status.Story)
}
