// Package server exposes the telephony webhooks, the caller-facing forms and
// the clinician views over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"triagecall/app/client/twilio"
	"triagecall/app/config"
	"triagecall/app/service/session"
	"triagecall/app/service/transcript"
	"triagecall/app/service/tree"
	"triagecall/app/service/voice"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	keepaliveInterval   = 15 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// SignatureValidator checks that a webhook was sent by the telephony provider.
type SignatureValidator interface {
	ValidSignature(url string, params map[string]string, signature string) bool
}

type Server struct {
	cfg        config.Server
	app        *fiber.App
	session    *session.Service
	transcript *transcript.Service
	voice      *voice.Service
	tree       *tree.Tree
	signatures SignatureValidator
	validate   *validator.Validate

	pollInterval time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)
	twilioClient := do.MustInvoke[*twilio.Client](di)
	sessionSvc := do.MustInvoke[*session.Service](di)

	sessionSvc.SetTransport(NewTransport(twilioClient, cfg.Server.PublicURL))

	return NewServer(
		cfg.Server,
		sessionSvc,
		do.MustInvoke[*transcript.Service](di),
		do.MustInvoke[*voice.Service](di),
		do.MustInvoke[*tree.Tree](di),
		twilioClient,
	), nil
}

func NewServer(
	cfg config.Server,
	sessionSvc *session.Service,
	transcriptSvc *transcript.Service,
	voiceSvc *voice.Service,
	t *tree.Tree,
	signatures SignatureValidator,
) *Server {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	s := &Server{
		cfg:          cfg,
		session:      sessionSvc,
		transcript:   transcriptSvc,
		voice:        voiceSvc,
		tree:         t,
		signatures:   signatures,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		pollInterval: defaultPollInterval,
		done:         make(chan struct{}),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())

	s.routes()

	return s
}

func (s *Server) routes() {
	mcpHandler := mcpserver.NewStreamableHTTPServer(s.newMCPServer(), mcpserver.WithStateLess(true))

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Post("/login", s.login)
	s.app.Post("/handle_input", s.verifySignature, s.handleInput)
	s.app.Post("/sms", s.verifySignature, s.handleSMS)
	s.app.Post("/call_status", s.verifySignature, s.callStatus)

	s.app.Get("/get_conversation", s.getConversation)
	s.app.Get("/stream/:sid", s.stream)
	s.app.Get("/medical-record", s.medicalRecord)
	s.app.Post("/submit_webform", s.submitWebform)
	s.app.Get("/audio/:id", s.audio)

	s.app.All("/mcp", adaptor.HTTPHandler(mcpHandler))
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := s.Shutdown(); err != nil {
			slog.Warn("Failed to stop server", "error", err)
		}
	}()

	slog.Info("Server listening", "listen", s.cfg.Listen)

	if err := s.app.Listen(s.cfg.Listen); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return nil
}

func (s *Server) Shutdown() error {
	s.doneOnce.Do(func() {
		close(s.done)
	})

	return s.app.ShutdownWithTimeout(shutdownTimeout)
}

// verifySignature rejects provider webhooks with a bad signature when
// validation is enabled.
func (s *Server) verifySignature(c *fiber.Ctx) error {
	if !s.cfg.ValidateSignature {
		return c.Next()
	}

	params := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})

	url := s.cfg.PublicURL + c.OriginalURL()

	if !s.signatures.ValidSignature(url, params, c.Get("X-Twilio-Signature")) {
		slog.Warn("Rejected webhook with invalid signature", "path", c.Path())
		return fiber.ErrForbidden
	}

	return c.Next()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("Request failed",
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
