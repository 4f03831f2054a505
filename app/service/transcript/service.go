// Package transcript keeps the live, ephemeral view of running sessions that
// dashboards poll. Nothing here is durable; the caller record is.
package transcript

import (
	"log/slog"
	"sync"
	"time"
	"triagecall/app/config"

	"github.com/samber/do"
)

const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
	SpeakerSystem = "system"
)

type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Snapshot is the part of a session a poller has not seen yet.
type Snapshot struct {
	SessionID string `json:"session_id"`
	CallerID  string `json:"caller_id"`
	Turns     []Turn `json:"turns"`
	// Next is the offset to ask for on the following poll.
	Next  int  `json:"next"`
	Ended bool `json:"ended"`
}

type session struct {
	callerID string
	turns    []Turn
	// base is the offset of turns[0]; it grows as old turns are dropped.
	base    int
	ended   bool
	endedAt time.Time
}

type Service struct {
	mu       sync.Mutex
	sessions map[string]*session
	order    []string

	maxTurns    int
	maxSessions int
	retention   time.Duration

	now func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(cfg.Transcript.MaxTurns, cfg.Transcript.MaxSessions, cfg.Transcript.Retention), nil
}

func NewService(maxTurns, maxSessions int, retention time.Duration) *Service {
	return &Service{
		sessions:    make(map[string]*session),
		maxTurns:    maxTurns,
		maxSessions: maxSessions,
		retention:   retention,
		now:         time.Now,
	}
}

// Begin opens a session, replacing any earlier one with the same id.
func (s *Service) Begin(sessionID, callerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		s.removeLocked(sessionID)
	}

	s.createLocked(sessionID, callerID)
}

// Append adds a turn, opening the session if needed. Turns appended to an
// ended session are dropped.
func (s *Service) Append(sessionID, speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = s.createLocked(sessionID, "")
	}
	if sess.ended {
		return
	}

	sess.turns = append(sess.turns, Turn{
		Speaker: speaker,
		Text:    text,
		At:      s.now(),
	})

	if over := len(sess.turns) - s.maxTurns; s.maxTurns > 0 && over > 0 {
		sess.turns = append([]Turn(nil), sess.turns[over:]...)
		sess.base += over
	}
}

// Since returns the turns from offset on. Offsets older than what is kept
// are moved up to the oldest kept turn.
func (s *Service) Since(sessionID string, offset int) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}

	if offset < sess.base {
		offset = sess.base
	}

	end := sess.base + len(sess.turns)
	if offset > end {
		offset = end
	}

	return &Snapshot{
		SessionID: sessionID,
		CallerID:  sess.callerID,
		Turns:     append([]Turn{}, sess.turns[offset-sess.base:]...),
		Next:      end,
		Ended:     sess.ended,
	}, true
}

// End marks the session finished; it stays readable until the retention
// window passes.
func (s *Service) End(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.ended {
		return
	}

	sess.ended = true
	sess.endedAt = s.now()
}

// Evict drops ended sessions older than the retention window and reports
// how many were removed.
func (s *Service) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for _, id := range append([]string(nil), s.order...) {
		sess := s.sessions[id]
		if sess.ended && now.Sub(sess.endedAt) >= s.retention {
			s.removeLocked(id)
			removed++
		}
	}

	return removed
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Service) createLocked(sessionID, callerID string) *session {
	for s.maxSessions > 0 && len(s.order) >= s.maxSessions {
		oldest := s.order[0]
		slog.Debug("Evicting transcript", "session_id", oldest)
		s.removeLocked(oldest)
	}

	sess := &session{callerID: callerID}
	s.sessions[sessionID] = sess
	s.order = append(s.order, sessionID)

	return sess
}

func (s *Service) removeLocked(sessionID string) {
	delete(s.sessions, sessionID)

	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
