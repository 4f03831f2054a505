package twilio

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

const (
	gatherTimeout       = "8"
	gatherSpeechTimeout = "1"
	// translated audio takes a moment to be fetched
	translatedPause = "7"
)

// Prompt is what the caller hears on one turn: a clip when AudioURL is set,
// transport speech of Text otherwise.
type Prompt struct {
	Text     string
	AudioURL string
	// Language is the conversation language, GatherLanguage its recognizer
	// code, e.g. hi and hi-IN.
	Language       string
	GatherLanguage string
}

func (p Prompt) elements() []twiml.Element {
	var result []twiml.Element

	if p.Language != "" && p.Language != "en" {
		result = append(result, &twiml.VoicePause{Length: translatedPause})
	}

	if p.AudioURL != "" {
		result = append(result, &twiml.VoicePlay{Url: p.AudioURL})
	} else {
		result = append(result, &twiml.VoiceSay{Message: p.Text, Language: p.GatherLanguage})
	}

	return result
}

// GatherTwiML speaks p and listens for the next answer, posted to action.
func GatherTwiML(p Prompt, action string) (string, error) {
	elements := append(p.elements(), &twiml.VoiceGather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		Language:      p.GatherLanguage,
		Timeout:       gatherTimeout,
		SpeechTimeout: gatherSpeechTimeout,
	})

	result, err := twiml.Voice(elements)
	if err != nil {
		return "", fmt.Errorf("failed to build voice twiml: %w", err)
	}

	return result, nil
}

// HangupTwiML speaks p and ends the call.
func HangupTwiML(p Prompt) (string, error) {
	elements := append(p.elements(), &twiml.VoiceHangup{})

	result, err := twiml.Voice(elements)
	if err != nil {
		return "", fmt.Errorf("failed to build voice twiml: %w", err)
	}

	return result, nil
}

// MessageTwiML answers an inbound text with body.
func MessageTwiML(body string) (string, error) {
	result, err := twiml.Messages([]twiml.Element{
		&twiml.MessagingMessage{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("failed to build messaging twiml: %w", err)
	}

	return result, nil
}
