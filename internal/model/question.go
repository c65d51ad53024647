package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
	QuestionTypeFileUpload     QuestionType = "file_upload"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse,
		QuestionTypeShortAnswer, QuestionTypeEssay, QuestionTypeFileUpload:
		return true
	}
	return false
}

// AutoGraded reports whether answers are scored by exact comparison with a stored key.
func (t QuestionType) AutoGraded() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeTrueFalse
}

// ManuallyGraded reports whether a grader has to award the points.
func (t QuestionType) ManuallyGraded() bool {
	return t == QuestionTypeShortAnswer || t == QuestionTypeEssay || t == QuestionTypeFileUpload
}

// Question represents a single exam question.
type Question struct {
	ID               uuid.UUID         `json:"id"`
	ExamID           uuid.UUID         `json:"exam_id"`
	Type             QuestionType      `json:"type"`
	Prompt           string            `json:"prompt"`
	OrderIndex       int               `json:"order_index"`
	Points           float64           `json:"points"`
	Options          json.RawMessage   `json:"options,omitempty"`
	CorrectAnswer    *string           `json:"correct_answer,omitempty"`
	FileRequirements *FileRequirements `json:"file_requirements,omitempty"`
}

// ForParticipant strips the answer key.
func (q *Question) ForParticipant() QuestionForParticipant {
	return QuestionForParticipant{
		ID:               q.ID,
		Type:             q.Type,
		Prompt:           q.Prompt,
		Options:          q.Options,
		OrderIndex:       q.OrderIndex,
		Points:           q.Points,
		FileRequirements: q.FileRequirements,
	}
}

// FileRequirements constrains uploads for file_upload questions.
type FileRequirements struct {
	MaxSizeBytes int64    `json:"max_size_bytes,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
}

// Allows reports whether an upload with the given content type and size satisfies the requirements.
func (r *FileRequirements) Allows(contentType string, size int64) bool {
	if r == nil {
		return true
	}
	if r.MaxSizeBytes > 0 && size > r.MaxSizeBytes {
		return false
	}
	if len(r.ContentTypes) == 0 {
		return true
	}
	for _, ct := range r.ContentTypes {
		if ct == contentType {
			return true
		}
	}
	return false
}
