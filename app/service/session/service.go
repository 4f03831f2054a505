// Package session is the transport-facing side of a conversation: it loads
// the caller's record under a per-caller lock, runs one conversation step,
// saves the record and tells the transport what to say next.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"triagecall/app/client/hermes"
	"triagecall/app/client/oracle"
	"triagecall/app/config"
	"triagecall/app/service/conversation"
	"triagecall/app/service/locale"
	"triagecall/app/service/queue"
	"triagecall/app/service/record"
	"triagecall/app/service/transcript"
	"triagecall/app/service/tree"
	"triagecall/app/service/voice"
	"triagecall/app/util/keylock"
	"triagecall/app/util/mylog"

	"github.com/samber/do"
)

var stopWords = []string{"stop", "stop call", "hang up", "goodbye"}

type Renderer interface {
	Translate(ctx context.Context, text, lang string) string
	Speak(ctx context.Context, text, lang string) (string, bool)
}

type Service struct {
	conversation *conversation.Service
	store        record.Store
	queue        *queue.Service
	locks        *keylock.Map
	transcript   *transcript.Service
	renderer     Renderer
	publisher    Publisher
	oracle       oracle.Oracle
	transport    Transport

	maxTurns int
	language string

	now func() time.Time
}

type Options struct {
	MaxTurns int
	Language string
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		do.MustInvoke[*conversation.Service](di),
		do.MustInvoke[record.Store](di),
		do.MustInvoke[*queue.Service](di),
		do.MustInvoke[*keylock.Map](di),
		do.MustInvoke[*transcript.Service](di),
		do.MustInvoke[*voice.Service](di),
		do.MustInvoke[*hermes.Client](di),
		do.MustInvoke[oracle.Oracle](di),
		Options{
			MaxTurns: cfg.Conversation.MaxTurns,
			Language: cfg.Conversation.Language,
		},
	), nil
}

func NewService(
	conv *conversation.Service,
	store record.Store,
	queueSvc *queue.Service,
	locks *keylock.Map,
	transcriptSvc *transcript.Service,
	renderer Renderer,
	publisher Publisher,
	o oracle.Oracle,
	opts Options,
) *Service {
	return &Service{
		conversation: conv,
		store:        store,
		queue:        queueSvc,
		locks:        locks,
		transcript:   transcriptSvc,
		renderer:     renderer,
		publisher:    publisher,
		oracle:       o,
		maxTurns:     opts.MaxTurns,
		language:     locale.Normalize(opts.Language),
		now:          time.Now,
	}
}

// SetTransport wires the telephony side, which itself depends on the
// session service for webhooks.
func (s *Service) SetTransport(t Transport) {
	s.transport = t
}

// SMSSessionID is the transcript id of a caller's text conversation.
func SMSSessionID(callerID string) string {
	return "sms:" + callerID
}

// Start opens a session with callerID: the position is reset to the root
// question and the caller is greeted, by name when known. It returns the
// session id.
func (s *Service) Start(ctx context.Context, callerID, channel, language string) (string, OutboundAction, error) {
	if !record.ValidID(callerID) {
		return "", OutboundAction{}, record.ErrInvalidID
	}

	lang := locale.Normalize(language)
	if language == "" {
		lang = s.language
	}
	phrases := locale.Get(lang)

	unlock := s.locks.Lock(callerID)
	defer unlock()

	rec, err := s.load(ctx, callerID)
	if err != nil {
		return "", OutboundAction{}, fmt.Errorf("failed to load record: %w", err)
	}

	rec.ResetPosition()
	rec.State = tree.RootKey
	rec.Language = lang

	question := s.renderer.Translate(ctx, s.conversation.Tree().Root().Question, lang)
	action := s.render(ctx, phrases.Greeting(rec.FirstName)+" "+question, lang, channel, false)
	action.NextListen = true

	var sessionID string

	switch channel {
	case ChannelVoice:
		if s.transport == nil {
			return "", OutboundAction{}, errors.New("no transport configured")
		}
		if sessionID, err = s.transport.StartCall(callerID, action); err != nil {
			return "", OutboundAction{}, fmt.Errorf("failed to start call: %w", err)
		}
	case ChannelSMS:
		if s.transport == nil {
			return "", OutboundAction{}, errors.New("no transport configured")
		}
		if _, err = s.transport.SendText(callerID, action.ReplyText); err != nil {
			return "", OutboundAction{}, fmt.Errorf("failed to send text: %w", err)
		}
		sessionID = SMSSessionID(callerID)
	default:
		sessionID = channel + ":" + callerID
	}

	s.save(ctx, callerID, rec)

	s.transcript.Begin(sessionID, callerID)
	s.transcript.Append(sessionID, transcript.SpeakerAgent, action.ReplyText)

	slog.Info("Session started",
		"phone_number", callerID,
		"session_id", sessionID,
		"channel", channel,
		"language", lang,
	)

	return sessionID, action, nil
}

// HandleTurn answers one caller utterance. It always produces something to
// say; failures end the session with an apology instead of surfacing.
func (s *Service) HandleTurn(ctx context.Context, ev InboundEvent) OutboundAction {
	lang := s.language
	if ev.Language != "" {
		lang = locale.Normalize(ev.Language)
	}

	if !record.ValidID(ev.CallerID) {
		slog.Warn("Rejected turn of invalid caller", "phone_number", ev.CallerID)
		return s.render(ctx, locale.Get(lang).ErrorOccurred, lang, ev.Channel, false).ending()
	}

	unlock := s.locks.Lock(ev.CallerID)
	defer unlock()

	utterance := strings.TrimSpace(ev.Utterance)

	rec, err := s.load(ctx, ev.CallerID)
	if err != nil {
		slog.Error("Failed to load record",
			"phone_number", ev.CallerID,
			"error", err,
			mylog.TelegramKey, true,
		)
		return s.render(ctx, locale.Get(lang).ErrorProcessing, lang, ev.Channel, false).listening()
	}

	if ev.Language == "" && rec.Language != "" {
		lang = rec.Language
	}
	phrases := locale.Get(lang)

	if utterance == "" {
		return s.reply(ctx, ev, phrases.DidntCatch, lang, false).listening()
	}

	if rec.State == "" {
		// a fresh position opens a new conversation under the same session id
		s.transcript.Begin(ev.SessionID, ev.CallerID)
	}
	s.transcript.Append(ev.SessionID, transcript.SpeakerCaller, utterance)

	if isStopWord(utterance) {
		s.finish(ctx, ev, rec, ReasonStopped)
		return s.reply(ctx, ev, phrases.ThankYou, lang, false).ending()
	}

	if rec.State == "" {
		rec.State = tree.RootKey
	}
	rec.Language = lang
	rec.Turns++

	if s.maxTurns > 0 && rec.Turns > s.maxTurns {
		slog.Warn("Session reached max turns",
			"phone_number", ev.CallerID,
			"turns", rec.Turns,
		)
		s.finish(ctx, ev, rec, ReasonMaxTurns)
		return s.reply(ctx, ev, phrases.ThankYou, lang, false).ending()
	}

	res, err := s.conversation.Step(ctx, rec.State, utterance, lang, rec)
	if err != nil {
		return s.abort(ctx, ev, rec, lang, err)
	}

	slog.Info("Processed turn",
		"phone_number", ev.CallerID,
		"state", res.State,
		"label", res.Label,
	)

	if res.SessionEnded {
		s.publish(hermes.SubjectDiagnosisReached, hermes.DiagnosisReached{
			CallerID:  ev.CallerID,
			SessionID: ev.SessionID,
			Diagnosis: res.Diagnosis,
			At:        s.now(),
		})
		rec.State = res.State
		s.finish(ctx, ev, rec, ReasonDiagnosis)
		return s.reply(ctx, ev, res.Reply, lang, true).ending()
	}

	rec.State = res.State
	s.save(ctx, ev.CallerID, rec)

	return s.reply(ctx, ev, res.Reply, lang, true).listening()
}

// End handles a transport-level disconnect: whatever the caller said is
// committed and the next session starts over.
func (s *Service) End(ctx context.Context, callerID, sessionID, status string) error {
	if !record.ValidID(callerID) {
		return record.ErrInvalidID
	}

	unlock := s.locks.Lock(callerID)
	defer unlock()

	rec, err := s.load(ctx, callerID)
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}

	s.transcript.Append(sessionID, transcript.SpeakerSystem, "call "+status)

	// the session already ended on its own
	if rec.State == "" {
		return nil
	}

	ev := InboundEvent{CallerID: callerID, SessionID: sessionID, Channel: ChannelVoice}
	s.finish(ctx, ev, rec, ReasonDisconnect)

	return nil
}

// Record returns the newest known record of callerID, unsaved retries included.
func (s *Service) Record(ctx context.Context, callerID string) (*record.Record, error) {
	if !record.ValidID(callerID) {
		return nil, record.ErrInvalidID
	}

	unlock := s.locks.Lock(callerID)
	defer unlock()

	return s.load(ctx, callerID)
}

func (s *Service) load(ctx context.Context, callerID string) (*record.Record, error) {
	if rec, ok := s.queue.Pending(callerID); ok {
		return rec, nil
	}

	return s.store.Load(ctx, callerID)
}

// save never fails a turn: a record that cannot be written is kept for the
// engine to retry.
func (s *Service) save(ctx context.Context, callerID string, rec *record.Record) {
	if err := s.store.Save(ctx, callerID, rec); err != nil {
		slog.Error("Failed to save record, queued for retry",
			"phone_number", callerID,
			"error", err,
			mylog.TelegramKey, true,
		)
		s.queue.Add(callerID, rec)
		return
	}

	s.queue.Forget(callerID)
}

func (s *Service) finish(ctx context.Context, ev InboundEvent, rec *record.Record, reason string) {
	s.conversation.Finalize(rec)

	state, turns := rec.State, rec.Turns
	rec.ResetPosition()
	s.save(ctx, ev.CallerID, rec)

	s.transcript.End(ev.SessionID)

	s.publish(hermes.SubjectSessionFinalized, hermes.SessionFinalized{
		CallerID:  ev.CallerID,
		SessionID: ev.SessionID,
		Channel:   ev.Channel,
		Reason:    reason,
		State:     state,
		Turns:     turns,
		At:        s.now(),
	})

	slog.Info("Session finished",
		"phone_number", ev.CallerID,
		"session_id", ev.SessionID,
		"reason", reason,
	)
}

func (s *Service) abort(ctx context.Context, ev InboundEvent, rec *record.Record, lang string, cause error) OutboundAction {
	slog.Error("Conversation step failed",
		"phone_number", ev.CallerID,
		"state", rec.State,
		"error", cause,
		mylog.TelegramKey, true,
	)

	s.finish(ctx, ev, rec, ReasonError)

	phrases := locale.Get(lang)

	if ev.Channel == ChannelVoice && s.transport != nil {
		body := phrases.ErrorOccurred + " " + phrases.ContinueByText
		if _, err := s.transport.SendText(ev.CallerID, body); err != nil {
			slog.Warn("Failed to offer text conversation",
				"phone_number", ev.CallerID,
				"error", err,
			)
		}
	}

	return s.reply(ctx, ev, phrases.ErrorOccurred, lang, false).ending()
}

// reply renders text and records it on the transcript.
func (s *Service) reply(ctx context.Context, ev InboundEvent, text, lang string, translate bool) OutboundAction {
	action := s.render(ctx, text, lang, ev.Channel, translate)
	s.transcript.Append(ev.SessionID, transcript.SpeakerAgent, action.ReplyText)

	return action
}

// render prepares text for the channel. Conversation replies are produced in
// English and need translating; fixed phrases are localized already.
func (s *Service) render(ctx context.Context, text, lang, channel string, translate bool) OutboundAction {
	if translate {
		text = s.renderer.Translate(ctx, text, lang)
	}

	action := OutboundAction{
		ReplyText:      text,
		Language:       lang,
		GatherLanguage: locale.Get(lang).GatherLanguage,
	}

	if channel == ChannelVoice {
		if url, ok := s.renderer.Speak(ctx, text, lang); ok {
			action.AudioURL = url
		}
	}

	return action
}

func (s *Service) publish(subject string, data any) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(subject, data); err != nil {
		slog.Warn("Failed to publish event",
			"subject", subject,
			"error", err,
		)
	}
}

func (a OutboundAction) listening() OutboundAction {
	a.NextListen = true
	return a
}

func (a OutboundAction) ending() OutboundAction {
	a.EndSession = true
	a.NextListen = false
	return a
}

func isStopWord(utterance string) bool {
	text := strings.ToLower(strings.Trim(utterance, " .!?\t\r\n"))

	for _, word := range stopWords {
		if text == word {
			return true
		}
	}

	return false
}
