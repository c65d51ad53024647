package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examcore/internal/model"
)

// ExamReader reads exam definitions owned by the authoring system.
type ExamReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetCourse(ctx context.Context, id uuid.UUID) (*model.Course, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// SessionStore persists sessions, their final answers, manual grades and grading issues.
// Lookups return pgx.ErrNoRows when nothing matches.
type SessionStore interface {
	// Create inserts s unless a session for the same (exam, participant) exists.
	// It reports false when another writer won.
	Create(ctx context.Context, s *model.Session) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	GetByExamAndParticipant(ctx context.Context, examID uuid.UUID, participantRef string) (*model.Session, error)
	ListByExam(ctx context.Context, examID uuid.UUID, filter SessionFilter) ([]model.Session, int, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) (model.Answers, error)

	// Submit moves an in_progress session to its submitted state and stores the final
	// answers atomically. It returns pgx.ErrNoRows when the session is no longer in_progress.
	Submit(ctx context.Context, rec *SubmitRecord) error

	// Regrade locks the session, upserts entry (when non-nil) for its single question,
	// hands the locked session and all entries to fn and stores fn's recomputation.
	// An error from fn rolls everything back.
	Regrade(ctx context.Context, sessionID uuid.UUID, entry *model.ManualGradeEntry, fn RecomputeFunc) (*model.Session, error)

	ListManualGrades(ctx context.Context, sessionID uuid.UUID) ([]model.ManualGradeEntry, error)
	ListIssues(ctx context.Context, sessionID uuid.UUID) ([]model.GradingIssue, error)

	// ListExpired returns in_progress sessions whose deadline is before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// AnswerBuffer is the fast, non-blocking side of the answer store. Writes are
// accepted immediately and persisted later by the autosave worker.
type AnswerBuffer interface {
	Put(ctx context.Context, sessionID, questionID uuid.UUID, value string) (model.BufferOutcome, error)
	All(ctx context.Context, sessionID uuid.UUID) (model.Answers, error)
	Close(ctx context.Context, sessionID uuid.UUID) error
}

// PaperCache caches the participant-facing exam paper. Get returns nil on a miss.
type PaperCache interface {
	Get(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)
	Set(ctx context.Context, paper *model.ExamPaper) error
}

// Uploader is the upload service contract. The core keeps only the returned reference.
type Uploader interface {
	Store(ctx context.Context, u Upload) (model.FileRef, error)
	Delete(ctx context.Context, referenceID string) error
	Confirmed(ctx context.Context, referenceID string) (bool, error)
	// Open returns ErrFileNotFound for unknown or unconfirmed references.
	Open(ctx context.Context, referenceID string) (io.ReadSeekCloser, error)
}

// Upload is a file handed to the upload service.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SessionFilter narrows ListByExam.
type SessionFilter struct {
	Status *model.SessionStatus
	Limit  int
	Offset int
}

// SubmitRecord is everything written when a session leaves in_progress.
type SubmitRecord struct {
	SessionID     uuid.UUID
	Answers       model.Answers
	SubmittedAt   time.Time
	AutoSubmitted bool
	Status        model.SessionStatus
	Score         float64
	TotalPoints   float64
	Issues        []model.GradingIssue
}

// Recomputation is the aggregate written back by Regrade.
type Recomputation struct {
	Score       float64
	TotalPoints float64
	Status      model.SessionStatus
	Issues      []model.GradingIssue
}

// RecomputeFunc derives the new aggregate from the locked session and all its grade entries.
type RecomputeFunc func(locked *model.Session, grades []model.ManualGradeEntry) (*Recomputation, error)
