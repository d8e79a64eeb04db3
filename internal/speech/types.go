// Package speech coordinates a single speech-recognition session against an
// external recognition engine: it starts the engine for a language, routes the
// engine's start/result/error/end events to caller handlers and owns the one
// path that stops or aborts the session.
package speech

import (
	"fmt"
	"time"
)

// Category names one of the four engine event kinds.
type Category int

const (
	CategoryResult Category = iota
	CategoryError
	CategoryStart
	CategoryEnd

	categoryCount
)

func (c Category) String() string {
	switch c {
	case CategoryResult:
		return "result"
	case CategoryError:
		return "error"
	case CategoryStart:
		return "start"
	case CategoryEnd:
		return "end"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// State is the controller's session state.
type State int

const (
	Idle State = iota
	Starting
	Listening
	Ending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Ending:
		return "ending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Alternative is one candidate transcription for a result.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the payload of a result event. Everything except Text is passed
// through from the engine untouched.
type Result struct {
	Text         string        `json:"text"`
	Confidence   float64       `json:"confidence"`
	IsFinal      bool          `json:"is_final"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Error codes reported by engines. They mirror the Web Speech API values so the
// browser bridge can pass them through unchanged.
const (
	ErrorNoSpeech             = "no-speech"
	ErrorAborted              = "aborted"
	ErrorAudioCapture         = "audio-capture"
	ErrorNetwork              = "network"
	ErrorNotAllowed           = "not-allowed"
	ErrorServiceNotAllowed    = "service-not-allowed"
	ErrorBadGrammar           = "bad-grammar"
	ErrorLanguageNotSupported = "language-not-supported"

	// ErrorRecognizer is reported by local engines when decoding fails.
	ErrorRecognizer = "recognizer"
)

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e ErrorEvent) Error() string {
	if e.Message == "" {
		return "recognition error: " + e.Code
	}
	return fmt.Sprintf("recognition error: %s: %s", e.Code, e.Message)
}

// SessionInfo describes the active session.
type SessionInfo struct {
	ID        string
	Language  string
	State     State
	StartedAt time.Time
}
