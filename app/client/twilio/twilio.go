package twilio

import (
	"fmt"
	"log/slog"
	"triagecall/app/config"

	"github.com/samber/do"
	twiliogo "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// FinalCallStatuses end a call from the provider's point of view.
var FinalCallStatuses = []string{"completed", "busy", "no-answer", "failed", "canceled"}

type Client struct {
	cfg       config.Twilio
	rest      *twiliogo.RestClient
	validator client.RequestValidator
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewClient(cfg.Twilio), nil
}

func NewClient(cfg config.Twilio) *Client {
	return &Client{
		cfg: cfg,
		rest: twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		validator: client.NewRequestValidator(cfg.AuthToken),
	}
}

// Call dials to and runs twiml once answered. Status changes are posted to
// statusCallback. It returns the call SID.
func (c *Client) Call(to, twiml, statusCallback string) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.cfg.PhoneNumber)
	params.SetTwiml(twiml)
	params.SetStatusCallback(statusCallback)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"completed"})

	call, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create call: %w", err)
	}

	sid := deref(call.Sid)

	slog.Info("Call created",
		"to", to,
		"call_sid", sid,
	)

	return sid, nil
}

// SendSMS texts body to and returns the message SID.
func (c *Client) SendSMS(to, body string) (string, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.cfg.PhoneNumber)
	params.SetBody(body)

	msg, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}

	return deref(msg.Sid), nil
}

// ValidSignature checks the X-Twilio-Signature of a form webhook.
func (c *Client) ValidSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
