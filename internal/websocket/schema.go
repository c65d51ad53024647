package websocket

import "time"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload carries every client action; fields unused by an action are empty.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QuestionID string `json:"question_id,omitempty"`
	Value      string `json:"value,omitempty"`

	// submit
	Answers    map[string]string `json:"answers,omitempty"`
	AutoSubmit bool              `json:"auto_submit,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady       Event = "ready"
	EventSaved       Event = "saved"
	EventSubmitted   Event = "submitted"
	EventTimeExpired Event = "time_expired"
	EventError       Event = "error"
	EventPong        Event = "pong"
)

// ReadyResponse is sent once after the upgrade. The client timer is advisory; the
// server deadline is authoritative.
type ReadyResponse struct {
	Event            Event     `json:"event"`
	SessionID        string    `json:"session_id"`
	Deadline         time.Time `json:"deadline"`
	ServerTime       time.Time `json:"server_time"`
	RemainingSeconds float64   `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
	Changed    bool   `json:"changed"`
}

// SubmittedResponse is sent for voluntary submissions and, with EventTimeExpired,
// for forced ones so clients can tell the two apart.
type SubmittedResponse struct {
	Event         Event     `json:"event"`
	Status        string    `json:"status"`
	AutoSubmitted bool      `json:"auto_submitted"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Score         float64   `json:"score"`
	TotalPoints   float64   `json:"total_points"`
	PendingManual int       `json:"pending_manual"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event            Event   `json:"event"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}
