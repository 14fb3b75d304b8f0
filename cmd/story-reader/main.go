// main package for the story-reader command: pick an image, generate a story
// opening for it, and optionally have it read aloud.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/story-reader/internal/audiofile"
	"github.com/book-expert/story-reader/internal/codec"
	"github.com/book-expert/story-reader/internal/config"
	"github.com/book-expert/story-reader/internal/core"
	"github.com/book-expert/story-reader/internal/gemini"
	"github.com/book-expert/story-reader/internal/playback"
	"github.com/book-expert/story-reader/internal/reader"
)

// Flag names and descriptions.
const (
	flagImage       = "image"
	flagSave        = "save"
	flagStoryOnly   = "story-only"
	flagImageDesc   = "Path to the image to tell a story about"
	flagSaveDesc    = "Also save the narration as a WAV file at this path"
	flagStoryDesc   = "Generate the story but skip speech and playback"
	defaultKeyEnv   = "GEMINI_API_KEY"
	logFileName     = "story-reader.log"
	bootLogFileName = "story-reader-bootstrap.log"
)

// playbackPollInterval is how often the wait loop samples the reader state.
const playbackPollInterval = 100 * time.Millisecond

// ErrImageRequired indicates that no image path was given.
var ErrImageRequired = errors.New("an image path is required (use -image)")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	image     string
	save      string
	storyOnly bool
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()
	if flags.image == "" {
		return ErrImageRequired
	}

	bootstrapLog, err := logger.New(os.TempDir(), bootLogFileName)
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return tellStory(ctx, cfg, log, flags)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.image, flagImage, "", flagImageDesc)
	flag.StringVar(&flags.save, flagSave, "", flagSaveDesc)
	flag.BoolVar(&flags.storyOnly, flagStoryOnly, false, flagStoryDesc)
	flag.Parse()

	return flags
}

// tellStory runs the full pipeline: select the image, print the story, then
// narrate it unless -story-only was given.
func tellStory(ctx context.Context, cfg *config.Config, log *logger.Logger, flags appFlags) error {
	file, err := loadImage(flags.image)
	if err != nil {
		return err
	}

	client := gemini.NewClient(geminiSettings(cfg), log)

	renderer, err := playback.NewMalgoRenderer(log)
	if err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}

	controller := playback.NewController(renderer, log)

	defer func() {
		closeErr := controller.Close()
		if closeErr != nil {
			log.Warn("Failed to close playback controller: %v", closeErr)
		}
	}()

	storyReader := reader.New(client, client, controller, log)

	defer func() {
		closeErr := storyReader.Close()
		if closeErr != nil {
			log.Warn("Failed to close reader: %v", closeErr)
		}
	}()

	if flags.save != "" {
		storyReader.SetClipSink(func(buf *codec.FloatBuffer) {
			saveErr := audiofile.SaveWAV(flags.save, buf)
			if saveErr != nil {
				log.Warn("Failed to save narration to %s: %v", flags.save, saveErr)

				return
			}

			log.Info("Narration saved to %s", flags.save)
		})
	}

	err = storyReader.SelectImage(ctx, file)
	if err != nil {
		return describeFailure(err, storyReader)
	}

	fmt.Println(storyReader.Status().Story)

	if flags.storyOnly {
		return nil
	}

	err = storyReader.TogglePlayback(ctx)
	if err != nil {
		return describeFailure(err, storyReader)
	}

	return waitForPlayback(ctx, storyReader)
}

// waitForPlayback blocks until the narration finishes or the user interrupts.
func waitForPlayback(ctx context.Context, storyReader *reader.Reader) error {
	ticker := time.NewTicker(playbackPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Interrupt: stop any remaining narration and leave
			// quietly. Close is a plain shutdown, so an interrupt
			// that lands after the clip already finished cannot
			// kick off a fresh narration the way a toggle would.
			return storyReader.Close()
		case <-ticker.C:
			if !storyReader.Status().Playing {
				return nil
			}
		}
	}
}

// loadImage reads the image file and resolves its MIME type from the file
// extension, falling back to content sniffing.
func loadImage(path string) (core.ImageAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.ImageAttachment{}, fmt.Errorf("failed to read image file: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return core.ImageAttachment{
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// geminiSettings maps the loaded configuration onto client settings.
func geminiSettings(cfg *config.Config) gemini.Settings {
	keyEnv := cfg.Gemini.APIKeyEnvVar
	if keyEnv == "" {
		keyEnv = defaultKeyEnv
	}

	return gemini.Settings{
		BaseURL:     cfg.Gemini.BaseURL,
		APIKey:      os.Getenv(keyEnv),
		StoryModel:  cfg.Gemini.StoryModel,
		SpeechModel: cfg.Gemini.SpeechModel,
		Voice:       cfg.Gemini.Voice,
		Timeout:     time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
	}
}

// describeFailure prefers the reader's user-facing message over the raw error
// so the terminal shows the same text the interface would.
func describeFailure(err error, storyReader *reader.Reader) error {
	message := storyReader.Status().UserMessage
	if message == "" || strings.Contains(err.Error(), message) {
		return err
	}

	return fmt.Errorf("%s: %w", message, err)
}
