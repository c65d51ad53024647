package model

import (
	"time"

	"github.com/google/uuid"
)

// ManualGradeEntry is a grader-assigned score for one question of one session.
// It is stored apart from the answer values, keyed by (session, question).
type ManualGradeEntry struct {
	SessionID     uuid.UUID `json:"session_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	GraderRef     string    `json:"grader_ref"`
	AwardedPoints float64   `json:"awarded_points"`
	GradedAt      time.Time `json:"graded_at"`
}

// IssueCode identifies a data-integrity condition found while scoring.
type IssueCode string

const (
	IssueMissingKey IssueCode = "MISSING_KEY"
)

// GradingIssue records a data-integrity problem that scored a question 0.
type GradingIssue struct {
	SessionID  uuid.UUID `json:"session_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Code       IssueCode `json:"code"`
	Detail     string    `json:"detail"`
	DetectedAt time.Time `json:"detected_at"`
}

// ApplyManualGradeRequest is the payload for a grader decision.
type ApplyManualGradeRequest struct {
	Points *float64 `json:"points" binding:"required,min=0"`
}
