// Package gemini implements the two remote generation collaborators against
// the Gemini generateContent REST endpoint: image to story text, and story
// text to raw PCM speech.
//
// Every failure at this boundary, whether network, quota, content policy, or
// a malformed response, is collapsed into core.ErrService; callers never
// branch on the underlying cause.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/story-reader/internal/core"
)

// API paths and headers.
const (
	apiGenerateContentFormat = "/v1beta/models/%s:generateContent"
	headerContentType        = "Content-Type"
	headerAPIKey             = "x-goog-api-key"
	contentTypeJSON          = "application/json"
)

// Defaults applied when the configuration leaves a field empty.
const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultStoryModel  = "gemini-2.5-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice       = "Kore"
	defaultTimeout     = 60 * time.Second
)

// storyPrompt asks for a short opening rather than a full story; the service
// otherwise tends to run far past what a single clip should carry.
const storyPrompt = "Write a short, evocative opening of a story (three to " +
	"four sentences) inspired by this image. Respond with the story text " +
	"only, no title and no preamble."

// modalityAudio requests a speech response instead of text.
const modalityAudio = "AUDIO"

// Static errors.
var (
	// ErrEmptyText indicates a speech request without any text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyImage indicates a story request without image bytes.
	ErrEmptyImage = errors.New("image cannot be empty")
)

// Settings carries the client configuration resolved from the config file
// and environment.
type Settings struct {
	BaseURL     string
	APIKey      string
	StoryModel  string
	SpeechModel string
	Voice       string
	Timeout     time.Duration
	// SampleRate and Channels describe the PCM stream the speech model is
	// expected to return; they default to the documented service contract.
	SampleRate int
	Channels   int
}

// Client calls the Gemini generateContent endpoint for story and speech
// generation. It implements core.StoryGenerator and core.SpeechGenerator.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	storyModel  string
	speechModel string
	voice       string
	sampleRate  int
	channels    int
	log         *logger.Logger
}

// NewClient creates a configured Gemini client. Empty settings fall back to
// the package defaults; the API key is required by the remote service but is
// deliberately not validated here, so a missing key surfaces as an ordinary
// service failure.
func NewClient(settings Settings, log *logger.Logger) *Client {
	if settings.BaseURL == "" {
		settings.BaseURL = DefaultBaseURL
	}

	if settings.StoryModel == "" {
		settings.StoryModel = DefaultStoryModel
	}

	if settings.SpeechModel == "" {
		settings.SpeechModel = DefaultSpeechModel
	}

	if settings.Voice == "" {
		settings.Voice = DefaultVoice
	}

	if settings.Timeout <= 0 {
		settings.Timeout = defaultTimeout
	}

	return NewClientWithHTTPClient(settings, &http.Client{Timeout: settings.Timeout}, log)
}

// NewClientWithHTTPClient creates a Gemini client around a caller-supplied
// HTTP client. This constructor is primarily for testing, allowing a mock
// transport to be injected while keeping the same client behavior.
func NewClientWithHTTPClient(settings Settings, httpClient *http.Client, log *logger.Logger) *Client {
	if settings.SampleRate <= 0 {
		settings.SampleRate = core.SpeechSampleRate
	}

	if settings.Channels <= 0 {
		settings.Channels = core.SpeechChannels
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     settings.BaseURL,
		apiKey:      settings.APIKey,
		storyModel:  settings.StoryModel,
		speechModel: settings.SpeechModel,
		voice:       settings.Voice,
		sampleRate:  settings.SampleRate,
		channels:    settings.Channels,
		log:         log,
	}
}

// GenerateStory sends the image to the story model and returns the generated
// opening as plain text.
func (c *Client) GenerateStory(ctx context.Context, image core.ImageAttachment) (string, error) {
	if len(image.Data) == 0 {
		return "", ErrEmptyImage
	}

	request := generateContentRequest{
		Contents: []content{
			{
				Parts: []part{
					{
						InlineData: &inlineData{
							MIMEType: image.MIMEType,
							Data:     base64.StdEncoding.EncodeToString(image.Data),
						},
					},
					{Text: storyPrompt},
				},
			},
		},
	}

	response, err := c.generateContent(ctx, c.storyModel, request)
	if err != nil {
		return "", fmt.Errorf("%w: story generation: %w", core.ErrService, err)
	}

	story := response.firstText()
	if story == "" {
		return "", fmt.Errorf("%w: story generation: response carried no text", core.ErrService)
	}

	c.log.Info("Story generated by %s: %d characters", c.storyModel, len(story))

	return story, nil
}

// GenerateSpeech sends the story text to the speech model and returns the
// base64 PCM payload it answers with. The payload is returned still encoded;
// decoding belongs to the codec package.
func (c *Client) GenerateSpeech(ctx context.Context, text string) (core.SpeechClip, error) {
	if text == "" {
		return core.SpeechClip{}, ErrEmptyText
	}

	request := generateContentRequest{
		Contents: []content{
			{
				Parts: []part{
					{Text: text},
				},
			},
		},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{modalityAudio},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{
						VoiceName: c.voice,
					},
				},
			},
		},
	}

	response, err := c.generateContent(ctx, c.speechModel, request)
	if err != nil {
		return core.SpeechClip{}, fmt.Errorf("%w: speech generation: %w", core.ErrService, err)
	}

	payload := response.firstInlineData()
	if payload == "" {
		return core.SpeechClip{}, fmt.Errorf(
			"%w: speech generation: response carried no audio payload", core.ErrService)
	}

	c.log.Info("Speech synthesized by %s: %d base64 characters", c.speechModel, len(payload))

	return core.SpeechClip{
		Base64PCM:  payload,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
	}, nil
}

// generateContent performs one generateContent call against the given model.
func (c *Client) generateContent(
	ctx context.Context,
	model string,
	request generateContentRequest,
) (*generateContentResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + fmt.Sprintf(apiGenerateContentFormat, model)

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response generateContentResponse

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

// parseErrorResponse attempts to decode the structured error body the API
// returns on non-OK status. If that fails, the raw body is preserved so
// diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errorResp apiErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil && errorResp.Error.Message != "" {
		return fmt.Errorf("service returned %s: %s (%s)",
			resp.Status, errorResp.Error.Message, errorResp.Error.Status)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("service returned %s: %s", resp.Status, string(body))
}
