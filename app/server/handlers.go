package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"triagecall/app/client/twilio"
	"triagecall/app/service/locale"
	"triagecall/app/service/record"
	"triagecall/app/service/session"
	"triagecall/app/service/transcript"

	"github.com/elliotchance/pie/v2"
	"github.com/gofiber/fiber/v2"
)

type loginResponse struct {
	SessionID     string `json:"session_id"`
	ToNumber      string `json:"to_number"`
	ContactMethod string `json:"contact_method"`
	Language      string `json:"language"`
}

// login starts a call or a text conversation with to_number.
func (s *Server) login(c *fiber.Ctx) error {
	toNumber, err := session.NormalizePhone(c.FormValue("to_number"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	method := c.FormValue("contact_method", "call")
	channel := session.ChannelVoice

	switch method {
	case "call":
	case "text":
		channel = session.ChannelSMS
	default:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown contact method %q", method))
	}

	lang := locale.Normalize(c.FormValue("language"))

	sessionID, _, err := s.session.Start(c.UserContext(), toNumber, channel, lang)
	if err != nil {
		return fmt.Errorf("failed to initiate contact: %w", err)
	}

	return c.JSON(loginResponse{
		SessionID:     sessionID,
		ToNumber:      toNumber,
		ContactMethod: method,
		Language:      lang,
	})
}

// handleInput answers one speech result of a running call.
func (s *Server) handleInput(c *fiber.Ctx) error {
	ev := session.InboundEvent{
		CallerID:  c.FormValue("To"),
		SessionID: c.FormValue("CallSid"),
		Utterance: c.FormValue("SpeechResult"),
		Language:  c.Query("language"),
		Channel:   session.ChannelVoice,
	}

	action := s.session.HandleTurn(c.UserContext(), ev)

	twiml, err := voiceTwiML(s.cfg.PublicURL, action)
	if err != nil {
		return err
	}

	c.Type("xml")
	return c.SendString(twiml)
}

// handleSMS answers an inbound text, continuing the sender's conversation.
func (s *Server) handleSMS(c *fiber.Ctx) error {
	from := c.FormValue("From")

	action := s.session.HandleTurn(c.UserContext(), session.InboundEvent{
		CallerID:  from,
		SessionID: session.SMSSessionID(from),
		Utterance: c.FormValue("Body"),
		Channel:   session.ChannelSMS,
	})

	twiml, err := twilio.MessageTwiML(action.ReplyText)
	if err != nil {
		return err
	}

	c.Type("xml")
	return c.SendString(twiml)
}

// callStatus commits the caller's answers once the provider reports the call
// as over.
func (s *Server) callStatus(c *fiber.Ctx) error {
	status := c.FormValue("CallStatus")

	if pie.Contains(twilio.FinalCallStatuses, status) {
		err := s.session.End(c.UserContext(), c.FormValue("To"), c.FormValue("CallSid"), status)
		if err != nil {
			slog.Error("Failed to finalize call",
				"call_sid", c.FormValue("CallSid"),
				"status", status,
				"error", err,
			)
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	snap, ok := s.transcript.Since(c.Query("call_sid"), 0)
	if !ok {
		return c.JSON([]transcript.Turn{})
	}

	return c.JSON(snap.Turns)
}

// stream pushes transcript turns of a session as server-sent events until the
// session ends or the client goes away.
func (s *Server) stream(c *fiber.Ctx) error {
	sessionID := c.Params("sid")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		offset := 0
		seen := false
		lastWrite := time.Now()

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			snap, ok := s.transcript.Since(sessionID, offset)
			switch {
			case ok:
				seen = true
				for _, turn := range snap.Turns {
					data, _ := json.Marshal(turn)
					fmt.Fprintf(w, "data: %s\n\n", data)
				}
				offset = snap.Next
				if snap.Ended {
					fmt.Fprint(w, "event: end\ndata: {}\n\n")
					_ = w.Flush()
					return
				}
				if len(snap.Turns) > 0 {
					lastWrite = time.Now()
				}
			case seen:
				// evicted while we were watching
				fmt.Fprint(w, "event: end\ndata: {}\n\n")
				_ = w.Flush()
				return
			}

			if time.Since(lastWrite) >= keepaliveInterval {
				fmt.Fprint(w, ": keepalive\n\n")
				lastWrite = time.Now()
			}

			if err := w.Flush(); err != nil {
				slog.Debug("Stream client gone", "session_id", sessionID)
				return
			}

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	})

	return nil
}

// medicalRecord returns a caller's record. The number may come without its
// leading plus since query strings mangle it.
func (s *Server) medicalRecord(c *fiber.Ctx) error {
	phone := c.Query("phone_number")
	if phone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone number is required")
	}

	callerID, err := session.NormalizePhone("+" + phone)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	rec, err := s.session.Record(c.UserContext(), callerID)
	if err != nil {
		return s.recordError(err)
	}

	return c.JSON(rec)
}

func (s *Server) submitWebform(c *fiber.Ctx) error {
	var form session.IntakeForm

	if err := c.BodyParser(&form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(form); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	rec, err := s.session.Intake(c.UserContext(), form)
	if err != nil {
		return s.recordError(err)
	}

	return c.JSON(rec)
}

func (s *Server) audio(c *fiber.Ctx) error {
	data, ok := s.voice.Audio(c.Params("id"))
	if !ok {
		return fiber.ErrNotFound
	}

	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.Send(data)
}

func (s *Server) recordError(err error) error {
	if errors.Is(err, session.ErrInvalidPhone) || errors.Is(err, record.ErrInvalidID) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return err
}
