package server

import (
	"net/url"
	"triagecall/app/client/twilio"
	"triagecall/app/service/session"
)

// Transport places calls and texts through the provider, pointing its
// webhooks back at this server.
type Transport struct {
	client    *twilio.Client
	publicURL string
}

func NewTransport(client *twilio.Client, publicURL string) *Transport {
	return &Transport{
		client:    client,
		publicURL: publicURL,
	}
}

func (t *Transport) StartCall(callerID string, opening session.OutboundAction) (string, error) {
	twiml, err := voiceTwiML(t.publicURL, opening)
	if err != nil {
		return "", err
	}

	return t.client.Call(callerID, twiml, t.publicURL+"/call_status")
}

func (t *Transport) SendText(callerID, body string) (string, error) {
	return t.client.SendSMS(callerID, body)
}

// voiceTwiML speaks an action and either listens for the answer or hangs up.
func voiceTwiML(publicURL string, action session.OutboundAction) (string, error) {
	prompt := twilio.Prompt{
		Text:           action.ReplyText,
		AudioURL:       action.AudioURL,
		Language:       action.Language,
		GatherLanguage: action.GatherLanguage,
	}

	if action.EndSession || !action.NextListen {
		return twilio.HangupTwiML(prompt)
	}

	return twilio.GatherTwiML(prompt, handleInputURL(publicURL, action.Language))
}

func handleInputURL(publicURL, lang string) string {
	return publicURL + "/handle_input?language=" + url.QueryEscape(lang)
}
