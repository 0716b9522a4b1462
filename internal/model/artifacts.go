package model

import "time"

// TransportHTTP and TransportSocketIO name the built-in transports a
// request template can select.
const (
	TransportHTTP     = "http"
	TransportSocketIO = "socketio"
)

// Profile is the match stage's artifact: how the eventual response should
// be interpreted for this request.
type Profile struct {
	// StatusLow and StatusHigh bound the inclusive status range considered
	// a success for HTTP transports.
	StatusLow  int
	StatusHigh int

	// OnEvent names the event that counts as the response for socket.io
	// transports.
	OnEvent string
}

// SocketIOOptions carries the socket.io connection parameters of an
// outbound request.
type SocketIOOptions struct {
	Namespace          string
	EmitEvent          string
	OnEvent            string
	Timeout            string
	InsecureSkipVerify bool
}

// Outbound is the render stage's artifact: a fully materialized request
// ready to be sent, with every template expression resolved.
type Outbound struct {
	Request   string
	Transport string
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	SocketIO  *SocketIOOptions
}

// Inbound is the fetch stage's artifact: the raw response as received.
type Inbound struct {
	Status   int
	Headers  map[string]string
	Body     string
	Event    string
	Data     any
	Duration time.Duration
}

// Outcome is the process stage's artifact: the response interpreted under
// the request's profile.
type Outcome struct {
	Request string
	OK      bool
	Status  int
	Body    string
	Event   string
	Data    any
	Reason  string
}

// Dependency identifies another request whose result a stage computation
// causally consumed. The session tracks one of these per awaited request;
// the pipeline surfaces them in stage metadata for dependency
// visualization.
type Dependency struct {
	Request string
	Trace   int64
}
