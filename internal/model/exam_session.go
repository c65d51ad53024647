package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states. Transitions are monotonic:
// in_progress -> submitted -> graded.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusSubmitted  SessionStatus = "submitted"
	SessionStatusGraded     SessionStatus = "graded"
)

// Rank orders statuses along the state machine.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionStatusInProgress:
		return 0
	case SessionStatusSubmitted:
		return 1
	case SessionStatusGraded:
		return 2
	}
	return -1
}

// Answers maps question id to the raw answer value.
type Answers map[uuid.UUID]string

// Answered reports whether a non-empty value is stored for the question.
func (a Answers) Answered(questionID uuid.UUID) bool {
	return a[questionID] != ""
}

// Clone returns a copy safe to mutate.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Session is one participant's single attempt at one exam.
type Session struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	ParticipantRef string        `json:"participant_ref"`
	StartedAt      time.Time     `json:"started_at"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	AutoSubmitted  bool          `json:"auto_submitted"`
	Answers        Answers       `json:"answers"`
	Status         SessionStatus `json:"status"`
	Score          *float64      `json:"score,omitempty"`
	TotalPoints    *float64      `json:"total_points,omitempty"`
}

// Open reports whether the session still accepts answers.
func (s *Session) Open() bool {
	return s.Status == SessionStatusInProgress
}

// SubmitSessionRequest is the payload for a participant submission.
type SubmitSessionRequest struct {
	Answers    map[string]string `json:"answers" binding:"omitempty,dive,keys,uuid,endkeys,max=20000"`
	AutoSubmit bool              `json:"auto_submit"`
}

// RecordAnswerRequest is the payload for a single answer edit.
type RecordAnswerRequest struct {
	Value string `json:"value" binding:"max=20000"`
}

// BufferOutcome is the result of writing an answer edit to the answer buffer.
type BufferOutcome int

const (
	// BufferStored means the value changed and was queued for persistence.
	BufferStored BufferOutcome = iota
	// BufferUnchanged means the same value was already buffered.
	BufferUnchanged
	// BufferClosed means the session was submitted and no longer accepts edits.
	BufferClosed
)

// ParseAnswers converts a wire answer map keyed by question id strings.
func ParseAnswers(raw map[string]string) (Answers, error) {
	out := make(Answers, len(raw))
	for k, v := range raw {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
