package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnTengye/photoinsight/config"
	"github.com/AnTengye/photoinsight/model"
)

const (
	DefaultVoice = "Joanna"

	TextTypePlain = "text"
	TextTypeSSML  = "ssml"

	OutputFormatMP3 = "mp3"

	emptyNarration = "I'm afraid I didn't find anything in your image"

	labelNarrationTemplate = `<speak>
It appears that this image includes <amazon:breath/><break time="1s"/><emphasis>
 %s</emphasis><break time="1s"/> with a confidence of %.2f percent.
</speak>`
)

// SpeechService turns narration text into audio
type SpeechService struct {
	providerClient
}

// SpeechRequest is the body sent to the synthesis endpoint
type SpeechRequest struct {
	Text         string `json:"text"`
	TextType     string `json:"text_type"`
	OutputFormat string `json:"output_format"`
	VoiceID      string `json:"voice_id"`
}

func NewSpeechService(cfg *config.ProviderConfig) *SpeechService {
	return &SpeechService{providerClient: newProviderClient("speech", cfg)}
}

// Synthesize returns the encoded audio stream for req
func (s *SpeechService) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.OutputFormat == "" {
		req.OutputFormat = OutputFormatMP3
	}
	if req.VoiceID == "" {
		req.VoiceID = DefaultVoice
	}

	audio, err := s.post(ctx, "/speech", req)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, errors.New("speech API returned no audio")
	}
	return audio, nil
}

// Narrate describes the most confident label. Without labels it falls back
// to a plain text apology.
func Narrate(labels *model.LabelSet) (text, textType string) {
	top, ok := labels.TopLabel()
	if !ok {
		return emptyNarration, TextTypePlain
	}
	return fmt.Sprintf(labelNarrationTemplate, top.Name, top.Confidence), TextTypeSSML
}
