package gemini

// Wire types for the generateContent endpoint. Only the fields this client
// reads or writes are modeled.

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// firstText returns the first non-empty text part of the first candidate.
func (r *generateContentResponse) firstText() string {
	for _, cand := range r.Candidates {
		for _, candidatePart := range cand.Content.Parts {
			if candidatePart.Text != "" {
				return candidatePart.Text
			}
		}
	}

	return ""
}

// firstInlineData returns the first non-empty inline payload of the first
// candidate.
func (r *generateContentResponse) firstInlineData() string {
	for _, cand := range r.Candidates {
		for _, candidatePart := range cand.Content.Parts {
			if candidatePart.InlineData != nil && candidatePart.InlineData.Data != "" {
				return candidatePart.InlineData.Data
			}
		}
	}

	return ""
}
