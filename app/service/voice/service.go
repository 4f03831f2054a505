// Package voice turns reply text into something a caller can hear: the text
// is translated to the caller's language and synthesized when a voice for it
// is configured. Callers fall back to transport speech when no audio comes out.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"triagecall/app/client/oracle"
	"triagecall/app/client/speechkit"
	"triagecall/app/config"
	"triagecall/app/service/locale"

	_ "embed"

	"github.com/samber/do"
)

//go:embed translate_prompt_template.txt
var translatePromptTemplate string

const AudioExt = ".wav"

type Synthesizer interface {
	Voice(lang string) (string, bool)
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

type Service struct {
	oracle      oracle.Oracle
	synthesizer Synthesizer
	cache       *AudioCache
	publicURL   string
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	var synthesizer Synthesizer
	if !cfg.SpeechKit.Disabled {
		synthesizer = do.MustInvoke[*speechkit.YandexSpeechKit](di)
	}

	return NewService(
		do.MustInvoke[oracle.Oracle](di),
		synthesizer,
		NewAudioCache(cfg.SpeechKit.AudioTTL),
		cfg.Server.PublicURL,
	), nil
}

// NewService builds a renderer; a nil synthesizer disables audio.
func NewService(o oracle.Oracle, synthesizer Synthesizer, cache *AudioCache, publicURL string) *Service {
	return &Service{
		oracle:      o,
		synthesizer: synthesizer,
		cache:       cache,
		publicURL:   strings.TrimSuffix(publicURL, "/"),
	}
}

func (s *Service) Cache() *AudioCache {
	return s.cache
}

// Translate returns text in lang. English text and failed translations are
// returned unchanged.
func (s *Service) Translate(ctx context.Context, text, lang string) string {
	if lang == "" || lang == locale.Default || !locale.Supported(lang) {
		return text
	}

	prompt := strings.NewReplacer(
		"{language}", locale.Get(lang).Name,
		"{text}", text,
	).Replace(translatePromptTemplate)

	translated, err := s.oracle.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Failed to translate reply",
			"language", lang,
			"error", err,
		)
		return text
	}

	translated = strings.TrimSpace(translated)
	if translated == "" {
		return text
	}

	return translated
}

// Speak synthesizes text as is and returns the URL of the clip.
func (s *Service) Speak(ctx context.Context, text, lang string) (string, bool) {
	if s.synthesizer == nil {
		return "", false
	}

	voice, ok := s.synthesizer.Voice(lang)
	if !ok {
		return "", false
	}

	audio, err := s.synthesizer.Synthesize(ctx, text, voice)
	if err != nil {
		slog.Warn("Failed to synthesize reply",
			"language", lang,
			"error", err,
		)
		return "", false
	}

	return s.AudioURL(s.cache.Put(audio)), true
}

func (s *Service) AudioURL(id string) string {
	return fmt.Sprintf("%s/audio/%s%s", s.publicURL, id, AudioExt)
}

// Audio returns a cached clip by the last path element of its URL.
func (s *Service) Audio(name string) ([]byte, bool) {
	return s.cache.Get(strings.TrimSuffix(name, AudioExt))
}
