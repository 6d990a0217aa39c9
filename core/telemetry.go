package core

import "time"

// TelemetryHook receives request lifecycle notifications.
//
// Events never include credentials, request bodies or response bodies.
// Only routing metadata, status codes and timing are exposed, so events can be
// logged or exported without further scrubbing.
type TelemetryHook interface {
	// OnRequestStart is called before a request is handed to the transport.
	OnRequestStart(e RequestStartEvent)

	// OnRequestEnd is called once the status is known or the request failed.
	// For streams it fires when headers arrive, not when the body ends.
	OnRequestEnd(e RequestEndEvent)
}

// RequestStartEvent describes a request about to be sent.
type RequestStartEvent struct {
	Method Method
	Path   string
	Auth   AuthType
	Retry  bool // true for the single post-refresh retry
	Stream bool
	Start  time.Time
}

// RequestEndEvent describes a finished request.
type RequestEndEvent struct {
	Method Method
	Path   string
	Auth   AuthType
	Retry  bool
	Stream bool
	Status int // 0 when no response was received
	Start  time.Time
	End    time.Time
	Err    error // transport failure, nil when a status was received
}

// Duration returns the elapsed time for the request.
func (e RequestEndEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// NoopTelemetryHook ignores all events.
type NoopTelemetryHook struct{}

// OnRequestStart does nothing.
func (NoopTelemetryHook) OnRequestStart(RequestStartEvent) {}

// OnRequestEnd does nothing.
func (NoopTelemetryHook) OnRequestEnd(RequestEndEvent) {}

var _ TelemetryHook = NoopTelemetryHook{}
