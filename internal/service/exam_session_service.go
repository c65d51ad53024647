package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/model"
)

// ExamSessionService owns the at-most-one-session-per-participant invariant.
type ExamSessionService struct {
	sessions SessionStore
	exams    ExamReader
	buffer   AnswerBuffer
	log      zerolog.Logger
	now      func() time.Time
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(sessions SessionStore, exams ExamReader, buffer AnswerBuffer, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		sessions: sessions,
		exams:    exams,
		buffer:   buffer,
		log:      log.With().Str("component", "session_service").Logger(),
		now:      time.Now,
	}
}

// SessionView is a session enriched with its server-side deadline.
type SessionView struct {
	model.Session
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	Resumed          bool      `json:"resumed"`
}

// OpenOrResume returns the participant's in-progress session for the exam, creating it
// when none exists. A finished session is never reopened. Concurrent opens from the same
// participant converge on the session created by the first insert.
func (s *ExamSessionService) OpenOrResume(ctx context.Context, ident Identity, examID uuid.UUID) (*SessionView, error) {
	exam, course, err := loadExam(ctx, s.exams, examID)
	if err != nil {
		return nil, err
	}

	if d := CheckTenant(exam, course, ident.TenantRef); d != DecisionAllow {
		return nil, d.Err()
	}

	existing, err := s.sessions.GetByExamAndParticipant(ctx, examID, ident.Subject)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}
	if existing != nil {
		return s.resume(ctx, existing, exam)
	}

	if !exam.Published {
		return nil, ErrExamNotPublished
	}

	now := s.now()
	if d := CheckWindow(exam, course, ident.TenantRef, now); d != DecisionAllow {
		return nil, d.Err()
	}

	sess := &model.Session{
		ExamID:         examID,
		ParticipantRef: ident.Subject,
		StartedAt:      now,
		Status:         model.SessionStatusInProgress,
		Answers:        model.Answers{},
	}

	created, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !created {
		// Concurrent open detected; the winner's row is authoritative.
		winner, err := s.sessions.GetByExamAndParticipant(ctx, examID, ident.Subject)
		if err != nil {
			return nil, fmt.Errorf("concurrent open detected, but fetch failed: %w", err)
		}
		return s.resume(ctx, winner, exam)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("exam_id", examID.String()).
		Str("participant", ident.Subject).
		Msg("Session created")

	return s.view(sess, exam, false), nil
}

// GetState returns the caller's session with buffered answers and the remaining time.
// It covers page reloads and reconnects.
func (s *ExamSessionService) GetState(ctx context.Context, ident Identity, sessionID uuid.UUID) (*SessionView, error) {
	sess, err := getSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ParticipantRef != ident.Subject {
		return nil, ErrNotSessionOwner
	}

	exam, course, err := loadExam(ctx, s.exams, sess.ExamID)
	if err != nil {
		return nil, err
	}
	if d := CheckTenant(exam, course, ident.TenantRef); d != DecisionAllow {
		return nil, d.Err()
	}

	answers, err := currentAnswers(ctx, s.sessions, s.buffer, sess)
	if err != nil {
		return nil, err
	}
	sess.Answers = answers

	return s.view(sess, exam, true), nil
}

func (s *ExamSessionService) resume(ctx context.Context, sess *model.Session, exam *model.Exam) (*SessionView, error) {
	if !sess.Open() {
		return nil, ErrAlreadyCompleted
	}

	answers, err := currentAnswers(ctx, s.sessions, s.buffer, sess)
	if err != nil {
		return nil, err
	}
	sess.Answers = answers

	s.log.Debug().
		Str("session_id", sess.ID.String()).
		Int("answers", len(answers)).
		Msg("Session resumed")

	return s.view(sess, exam, true), nil
}

func (s *ExamSessionService) view(sess *model.Session, exam *model.Exam, resumed bool) *SessionView {
	deadline := SessionDeadline(sess, exam)
	v := &SessionView{Session: *sess, Deadline: deadline, Resumed: resumed}
	if sess.Open() {
		v.RemainingSeconds = Remaining(deadline, s.now()).Seconds()
	}
	return v
}

// ─── shared lookups ──────────────────────────────────────────────────

func loadExam(ctx context.Context, exams ExamReader, examID uuid.UUID) (*model.Exam, *model.Course, error) {
	exam, err := exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrExamNotFound
		}
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}

	course, err := exams.GetCourse(ctx, exam.CourseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// An exam without its owning course cannot be attributed to any tenant.
			return exam, nil, nil
		}
		return nil, nil, fmt.Errorf("get course: %w", err)
	}
	return exam, course, nil
}

func getSession(ctx context.Context, sessions SessionStore, id uuid.UUID) (*model.Session, error) {
	sess, err := sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// currentAnswers returns persisted answers overlaid with buffered edits that the
// autosave worker may not have written yet. Closed sessions only have persisted answers.
func currentAnswers(ctx context.Context, sessions SessionStore, buffer AnswerBuffer, sess *model.Session) (model.Answers, error) {
	answers, err := sessions.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = model.Answers{}
	}
	if !sess.Open() {
		return answers, nil
	}

	buffered, err := buffer.All(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("read answer buffer: %w", err)
	}
	for qid, v := range buffered {
		answers[qid] = v
	}
	return answers, nil
}
