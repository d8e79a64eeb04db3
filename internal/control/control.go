package control

import "time"

// Request is one line sent over the control socket.
type Request struct {
	Op       string `json:"op"`                 // status, health, listen, cancel
	Language string `json:"language,omitempty"` // listen
	Abort    bool   `json:"abort,omitempty"`    // cancel
}

type Status struct {
	Running     bool         `json:"running"`
	UptimeSec   float64      `json:"uptime_sec"`
	Engine      string       `json:"engine"`
	State       string       `json:"state"`
	SessionID   string       `json:"session_id,omitempty"`
	Language    string       `json:"language,omitempty"`
	Violations  int64        `json:"protocol_violations"`
	Transcripts []Transcript `json:"transcripts"`
}

type SimpleResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type Transcript struct {
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
