package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Course is the owning scope of an exam. Its tenant is authoritative for isolation checks.
type Course struct {
	ID        uuid.UUID `json:"id"`
	TenantRef string    `json:"tenant_ref"`
	Title     string    `json:"title"`
}

// Exam represents an exam entity. Exams are authored elsewhere; the core only reads them.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	CourseID        uuid.UUID  `json:"course_id"`
	TenantRef       string     `json:"tenant_ref"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	AvailableFrom   *time.Time `json:"available_from,omitempty"`
	AvailableUntil  *time.Time `json:"available_until,omitempty"`
	Published       bool       `json:"published"`

	// ProctoringSettings is stored for clients but never enforced by the core.
	ProctoringSettings json.RawMessage `json:"proctoring_settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the configured attempt length.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// ExamPaper is the Redis-cached payload sent to participants (no correct answers).
type ExamPaper struct {
	ExamID          uuid.UUID                `json:"exam_id"`
	TenantRef       string                   `json:"tenant_ref"`
	Title           string                   `json:"title"`
	DurationMinutes int                      `json:"duration_minutes"`
	Questions       []QuestionForParticipant `json:"questions"`
}

// QuestionForParticipant is a question without its answer key.
type QuestionForParticipant struct {
	ID               uuid.UUID         `json:"id"`
	Type             QuestionType      `json:"type"`
	Prompt           string            `json:"prompt"`
	Options          json.RawMessage   `json:"options,omitempty"`
	OrderIndex       int               `json:"order_index"`
	Points           float64           `json:"points"`
	FileRequirements *FileRequirements `json:"file_requirements,omitempty"`
}
