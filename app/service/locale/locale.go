// Package locale holds the fixed caller-facing phrases per language.
package locale

import (
	"fmt"
	"strings"
)

const Default = "en"

type Phrases struct {
	// Name is the language name given to the translator
	Name string
	// GatherLanguage is the speech recognition language of the transport
	GatherLanguage string

	Welcome             string
	WelcomeBack         string
	DidntCatch          string
	CouldntUnderstand   string
	ConsultProfessional string
	ThankYou            string
	ErrorProcessing     string
	ErrorOccurred       string
	ContinueByText      string
}

var phrases = map[string]Phrases{
	"en": {
		Name:                "English",
		GatherLanguage:      "en-US",
		Welcome:             "Hello, welcome to the AI-assisted medical diagnosis.",
		WelcomeBack:         "Hello %s, welcome back to the AI-assisted medical diagnosis.",
		DidntCatch:          "I'm sorry, I didn't catch that. Could you please repeat?",
		CouldntUnderstand:   "I couldn't understand your response.",
		ConsultProfessional: "Based on your answers, you may have %s. Please consult a medical professional for proper diagnosis.",
		ThankYou:            "Thank you for your time. Goodbye!",
		ErrorProcessing:     "I'm sorry, I'm having trouble processing your response. Let's try again.",
		ErrorOccurred:       "I'm sorry, an error occurred. Please try again later.",
		ContinueByText:      "The call has been disconnected due to unknown issues. Please text this number to continue the conversation.",
	},
	"hi": {
		Name:                "Hindi",
		GatherLanguage:      "hi-IN",
		Welcome:             "नमस्ते, AI-सहायता प्राप्त चिकित्सा निदान में आपका स्वागत है।",
		WelcomeBack:         "नमस्ते %s, AI-सहायता प्राप्त चिकित्सा निदान में आपका फिर से स्वागत है।",
		DidntCatch:          "क्षमा करें, मुझे वह समझ नहीं आया। कृपया दोहराएं?",
		CouldntUnderstand:   "मैं आपके जवाब को समझ नहीं पाया।",
		ConsultProfessional: "आपके जवाबों के आधार पर, आपको %s हो सकता है। कृपया उचित निदान के लिए चिकित्सा पेशेवर से परामर्श करें।",
		ThankYou:            "आपके समय के लिए धन्यवाद। अलविदा!",
		ErrorProcessing:     "क्षमा करें, मुझे आपके जवाब को संसाधित करने में समस्या हो रही है। फिर से प्रयास करें।",
		ErrorOccurred:       "क्षमा करें, एक त्रुटि हुई। कृपया बाद में पुनः प्रयास करें।",
	},
	"ta": {
		Name:                "Tamil",
		GatherLanguage:      "ta-IN",
		Welcome:             "வணக்கம், AI உதவியாளர் மருத்துவக் கண்டறிதலில் உங்களை வரவேற்கிறது.",
		WelcomeBack:         "வணக்கம் %s, AI உதவியாளர் மருத்துவக் கண்டறிதலில் உங்களை மீண்டும் வரவேற்கிறது.",
		DidntCatch:          "மன்னிக்கவும், எனக்குப் புரியவில்லை. தயவுசெய்து மறுபடியும் சொல்க!",
		CouldntUnderstand:   "உங்கள் பதில் எனக்குப் புரியவில்லை.",
		ConsultProfessional: "உங்கள் பதில்களின் அடிப்படையில், உங்களுக்கு %s இருக்கலாம். சரியான கண்டறிதலுக்காக ஒரு மருத்துவ நிபுணரின் ஆலோசனைப் பெறவும்.",
		ThankYou:            "உங்கள் நேரத்திற்காக நன்றி. விடை!",
		ErrorProcessing:     "மன்னிக்கவும், உங்கள் பதிலைப் புரிந்துகொள்வதில் சிரமமாகிறது. மீண்டும் முயற்சிப்போம்.",
		ErrorOccurred:       "மன்னிக்கவும், ஒரு பிழை ஏற்பட்டது. பின்னர் மீண்டும் முயற்சிக்கவும்.",
	},
}

func Supported(lang string) bool {
	_, ok := phrases[lang]
	return ok
}

// Normalize maps an unsupported or empty tag to Default.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if Supported(lang) {
		return lang
	}

	return Default
}

// Get returns the phrases of lang; missing phrases fall back to English.
func Get(lang string) Phrases {
	p, ok := phrases[lang]
	if !ok {
		return phrases[Default]
	}

	if p.ContinueByText == "" {
		p.ContinueByText = phrases[Default].ContinueByText
	}

	return p
}

// Greeting welcomes a caller, by first name when it is known.
func (p Phrases) Greeting(firstName string) string {
	if firstName == "" {
		return p.Welcome
	}

	return fmt.Sprintf(p.WelcomeBack, firstName)
}

// Diagnosis announces a terminal state, e.g. common_cold -> "common cold".
func (p Phrases) Diagnosis(state string) string {
	return fmt.Sprintf(p.ConsultProfessional, strings.ReplaceAll(state, "_", " "))
}
