package session

const (
	ChannelVoice    = "voice"
	ChannelSMS      = "sms"
	ChannelTerminal = "terminal"
)

const (
	ReasonDiagnosis  = "diagnosis"
	ReasonStopped    = "stopped"
	ReasonMaxTurns   = "max_turns"
	ReasonError      = "error"
	ReasonDisconnect = "disconnect"
)

// InboundEvent is one caller turn as delivered by a transport.
type InboundEvent struct {
	CallerID  string
	SessionID string
	Utterance string
	// Language is the session language tag; empty keeps the stored one.
	Language string
	Channel  string
}

// OutboundAction tells the transport what to do next.
type OutboundAction struct {
	// ReplyText is in the session language.
	ReplyText string
	// AudioURL is set when a synthesized clip of ReplyText is available.
	AudioURL   string
	EndSession bool
	NextListen bool

	Language       string
	GatherLanguage string
}

// Transport starts sessions on behalf of the service.
type Transport interface {
	// StartCall dials callerID and plays opening; it returns the session id.
	StartCall(callerID string, opening OutboundAction) (string, error)
	// SendText texts callerID and returns the message id.
	SendText(callerID, body string) (string, error)
}

// Publisher receives conversation events.
type Publisher interface {
	Publish(subject string, data any) error
}
