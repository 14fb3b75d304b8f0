// Package core defines the interfaces and shared data types for the story-reader
// pipeline: the two remote generation collaborators and the payloads that flow
// between them.
package core

import (
	"context"
	"errors"
)

// Speech payload format returned by the speech generation service. The service
// contract fixes both values; they are carried on every SpeechClip so the
// decoding stage never has to assume them.
const (
	SpeechSampleRate = 24000
	SpeechChannels   = 1
)

// ErrService indicates that a remote generation call failed. Network faults,
// quota errors, content-policy rejections, and malformed responses are all
// collapsed into this one error kind at the collaborator boundary.
var ErrService = errors.New("generation service request failed")

// ImageAttachment is a user-chosen image: its raw bytes plus the MIME type
// declared by whatever supplied the file.
type ImageAttachment struct {
	MIMEType string
	Data     []byte
}

// SpeechClip is the synthesized speech payload exactly as the speech service
// returns it: base64-encoded signed 16-bit little-endian PCM, plus the fixed
// sample rate and channel count of that stream.
type SpeechClip struct {
	Base64PCM  string
	SampleRate int
	Channels   int
}

// StoryGenerator produces a short story opening inspired by an image.
type StoryGenerator interface {
	GenerateStory(ctx context.Context, image ImageAttachment) (string, error)
}

// SpeechGenerator renders story text as synthesized speech.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text string) (SpeechClip, error)
}
