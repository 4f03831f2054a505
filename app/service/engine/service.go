// Package engine runs the background work of the process: retrying record
// saves that failed during a turn and periodically evicting ephemeral data.
package engine

import (
	"context"
	"log/slog"
	"time"
	"triagecall/app/service/queue"
	"triagecall/app/service/record"
	"triagecall/app/service/transcript"
	"triagecall/app/service/voice"
	"triagecall/app/util/keylock"
	"triagecall/app/util/mylog"

	"github.com/robfig/cron/v3"
	"github.com/samber/do"
)

const (
	saveAttempts    = 3
	janitorSchedule = "@every 1m"
)

type Service struct {
	store         record.Store
	queueSvc      *queue.Service
	locks         *keylock.Map
	transcriptSvc *transcript.Service
	voiceSvc      *voice.Service

	backoff time.Duration
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		store:         do.MustInvoke[record.Store](di),
		queueSvc:      do.MustInvoke[*queue.Service](di),
		locks:         do.MustInvoke[*keylock.Map](di),
		transcriptSvc: do.MustInvoke[*transcript.Service](di),
		voiceSvc:      do.MustInvoke[*voice.Service](di),
		backoff:       time.Second,
	}, nil
}

// Run blocks until ctx is done or the queue is closed.
func (s *Service) Run(ctx context.Context) {
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(janitorSchedule, s.janitor); err != nil {
		slog.Error("Failed to schedule janitor", "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case callerID, ok := <-s.queueSvc.Channel():
			if !ok {
				return
			}

			s.queueSvc.Done(callerID)

			start := time.Now()
			if s.retrySave(ctx, callerID) {
				slog.Info("Saved pending record",
					"phone_number", callerID,
					"duration", time.Since(start))
			}
		}
	}
}

// retrySave persists the pending record of callerID with growing pauses
// between attempts. The record stays pending when every attempt fails.
func (s *Service) retrySave(ctx context.Context, callerID string) bool {
	var lastErr error

	for attempt := 1; attempt <= saveAttempts; attempt++ {
		saved, err := s.trySave(ctx, callerID)
		if err == nil {
			return saved
		}
		lastErr = err

		slog.Warn("Record save attempt failed",
			"phone_number", callerID,
			"attempt", attempt,
			"error", err)

		if attempt == saveAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}

	slog.Error("Giving up saving record",
		"phone_number", callerID,
		"attempts", saveAttempts,
		"error", lastErr,
		mylog.TelegramKey, true)

	return false
}

func (s *Service) trySave(ctx context.Context, callerID string) (bool, error) {
	unlock := s.locks.Lock(callerID)
	defer unlock()

	rec, ok := s.queueSvc.Pending(callerID)
	if !ok {
		return false, nil
	}

	if err := s.store.Save(ctx, callerID, rec); err != nil {
		return false, err
	}

	s.queueSvc.Forget(callerID)

	return true, nil
}

func (s *Service) janitor() {
	transcripts := s.transcriptSvc.Evict()
	clips := s.voiceSvc.Cache().Evict()
	requeued := s.queueSvc.Requeue()

	if transcripts+clips+requeued > 0 {
		slog.Debug("Janitor run",
			"transcripts", transcripts,
			"audio_clips", clips,
			"requeued_records", requeued)
	}
}
