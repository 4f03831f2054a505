package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"triagecall/app/client/oracle"
	"triagecall/app/service/conversation"
	"triagecall/app/service/queue"
	"triagecall/app/service/record"
	"triagecall/app/service/transcript"
	"triagecall/app/service/tree"
	"triagecall/app/util/keylock"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	saves   int
	failing bool
	loadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string][]byte{}}
}

func (m *memoryStore) Load(_ context.Context, id string) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}

	data, ok := m.records[id]
	if !ok {
		return record.New(id), nil
	}

	var rec record.Record
	if err := rec.UnmarshalJSON(data); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (m *memoryStore) Save(_ context.Context, id string, rec *record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.failing {
		return errors.New("disk full")
	}

	data, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	m.records[id] = data

	return nil
}

func (m *memoryStore) get(t *testing.T, id string) *record.Record {
	t.Helper()

	rec, err := m.Load(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}

	return rec
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []OutboundAction
	texts []string
	err   error
}

func (f *fakeTransport) StartCall(_ string, opening OutboundAction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, opening)

	return "CA123", nil
}

func (f *fakeTransport) SendText(_ string, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	f.texts = append(f.texts, body)

	return "SM123", nil
}

type fakeRenderer struct {
	audio bool
}

func (f *fakeRenderer) Translate(_ context.Context, text, lang string) string {
	if lang == "en" {
		return text
	}

	return "[" + lang + "] " + text
}

func (f *fakeRenderer) Speak(_ context.Context, text, _ string) (string, bool) {
	if !f.audio {
		return "", false
	}

	return "https://x/audio/" + strings.ReplaceAll(text, " ", "_") + ".wav", true
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subjects = append(f.subjects, subject)
	f.events = append(f.events, data)

	return nil
}

// triageOracle answers like a cooperative model: a few known utterances map to
// labels, everything else is invalid.
func triageOracle() oracle.Oracle {
	labels := map[string]string{
		"I have a bad cough": "cough",
		"yes":                "yes",
		"no":                 "no",
	}

	return oracle.Func(func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Interpret the response"):
			for utterance, label := range labels {
				if strings.Contains(prompt, `Given the user response: "`+utterance+`"`) {
					return label, nil
				}
			}
			return "invalid", nil
		case strings.Contains(prompt, "Extract the following information"):
			if strings.Contains(prompt, "my name is Ada") {
				return `{"fname": "Ada"}`, nil
			}
			return "{}", nil
		case strings.Contains(prompt, "bullet point summary"):
			return "- noted", nil
		case strings.Contains(prompt, "reason for visit"):
			return "- Knee pain\n- Swelling after running", nil
		default:
			return "REPHRASED", nil
		}
	})
}

type harness struct {
	svc        *Service
	store      *memoryStore
	queue      *queue.Service
	transcript *transcript.Service
	transport  *fakeTransport
	publisher  *fakePublisher
}

func newHarness(t *testing.T, o oracle.Oracle, maxTurns int) *harness {
	t.Helper()

	tr, err := tree.Default()
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:      newMemoryStore(),
		queue:      queue.NewService(16),
		transcript: transcript.NewService(100, 100, time.Minute),
		transport:  &fakeTransport{},
		publisher:  &fakePublisher{},
	}

	h.svc = NewService(
		conversation.NewService(tr, o),
		h.store,
		h.queue,
		&keylock.Map{},
		h.transcript,
		&fakeRenderer{audio: true},
		h.publisher,
		o,
		Options{MaxTurns: maxTurns, Language: "en"},
	)
	h.svc.SetTransport(h.transport)
	h.svc.now = func() time.Time {
		return time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC)
	}

	return h
}

func (h *harness) turn(callerID, utterance string) OutboundAction {
	return h.svc.HandleTurn(context.Background(), InboundEvent{
		CallerID:  callerID,
		SessionID: "CA123",
		Utterance: utterance,
		Language:  "en",
		Channel:   ChannelVoice,
	})
}
