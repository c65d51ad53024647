package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examcore/internal/model"
)

// AnswerService accepts per-question answer edits during an attempt.
// Edits land in the answer buffer and are persisted asynchronously by the autosave worker.
type AnswerService struct {
	sessions SessionStore
	exams    ExamReader
	buffer   AnswerBuffer
	uploader Uploader
	log      zerolog.Logger
	now      func() time.Time
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(sessions SessionStore, exams ExamReader, buffer AnswerBuffer, uploader Uploader, log zerolog.Logger) *AnswerService {
	return &AnswerService{
		sessions: sessions,
		exams:    exams,
		buffer:   buffer,
		uploader: uploader,
		log:      log.With().Str("component", "answer_service").Logger(),
		now:      time.Now,
	}
}

// Attempt is an explicit reference to one participant's running session, resolved once
// and threaded through every edit of a connection.
type Attempt struct {
	Session   *model.Session
	Exam      *model.Exam
	Questions map[uuid.UUID]model.Question
	Deadline  time.Time
}

// Bind resolves the caller's session together with its exam and questions.
func (s *AnswerService) Bind(ctx context.Context, ident Identity, sessionID uuid.UUID) (*Attempt, error) {
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

	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	return &Attempt{
		Session:   sess,
		Exam:      exam,
		Questions: byID,
		Deadline:  SessionDeadline(sess, exam),
	}, nil
}

// RecordAnswer binds the session and records one edit.
func (s *AnswerService) RecordAnswer(ctx context.Context, ident Identity, sessionID, questionID uuid.UUID, value string) (model.BufferOutcome, error) {
	a, err := s.Bind(ctx, ident, sessionID)
	if err != nil {
		return 0, err
	}
	return s.Record(ctx, a, questionID, value)
}

// Record stores the latest value for one question of a bound attempt.
// Repeating the current value is a no-op. A file_upload value must be the token of a
// confirmed upload; an empty value clears the answer.
func (s *AnswerService) Record(ctx context.Context, a *Attempt, questionID uuid.UUID, value string) (model.BufferOutcome, error) {
	q, err := s.accepting(a, questionID)
	if err != nil {
		return 0, err
	}

	if q.Type == model.QuestionTypeFileUpload && value != "" {
		refID, ok := model.ParseFileToken(value)
		if !ok {
			return 0, ErrUploadNotConfirmed
		}
		confirmed, err := s.uploader.Confirmed(ctx, refID)
		if err != nil {
			return 0, fmt.Errorf("confirm upload: %w", err)
		}
		if !confirmed {
			return 0, ErrUploadNotConfirmed
		}
	}

	return s.put(ctx, a, questionID, value)
}

// RecordFile hands the upload to the upload service and records the confirmed reference
// as the answer. A replaced reference is released afterwards.
func (s *AnswerService) RecordFile(ctx context.Context, ident Identity, sessionID, questionID uuid.UUID, u Upload) (*model.FileRef, error) {
	a, err := s.Bind(ctx, ident, sessionID)
	if err != nil {
		return nil, err
	}

	q, err := s.accepting(a, questionID)
	if err != nil {
		return nil, err
	}
	if q.Type != model.QuestionTypeFileUpload {
		return nil, ErrNotFileQuestion
	}
	if !q.FileRequirements.Allows(u.ContentType, u.Size) {
		return nil, ErrUploadRejected
	}

	previous, err := s.buffer.All(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read answer buffer: %w", err)
	}

	ref, err := s.uploader.Store(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	outcome, err := s.put(ctx, a, questionID, ref.Token())
	if err != nil {
		s.release(ctx, ref.ReferenceID)
		return nil, err
	}

	if outcome == model.BufferStored {
		if oldID, ok := model.ParseFileToken(previous[questionID]); ok && oldID != ref.ReferenceID {
			s.release(ctx, oldID)
		}
	}

	return &ref, nil
}

// OpenAnswerFile returns the file recorded as the answer to questionID. Participants
// may read their own sessions only; graders any session of their tenant.
func (s *AnswerService) OpenAnswerFile(ctx context.Context, ident Identity, sessionID, questionID uuid.UUID) (io.ReadSeekCloser, error) {
	sess, err := getSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if ident.Role != RoleGrader && sess.ParticipantRef != ident.Subject {
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
	refID, ok := model.ParseFileToken(answers[questionID])
	if !ok {
		return nil, ErrFileNotFound
	}
	return s.uploader.Open(ctx, refID)
}

// accepting validates that the attempt still takes edits for questionID.
func (s *AnswerService) accepting(a *Attempt, questionID uuid.UUID) (model.Question, error) {
	if !a.Session.Open() {
		return model.Question{}, ErrAlreadySubmitted
	}
	if Expired(a.Deadline, s.now()) {
		return model.Question{}, ErrDeadlinePassed
	}
	q, ok := a.Questions[questionID]
	if !ok {
		return model.Question{}, ErrUnknownQuestion
	}
	return q, nil
}

func (s *AnswerService) put(ctx context.Context, a *Attempt, questionID uuid.UUID, value string) (model.BufferOutcome, error) {
	outcome, err := s.buffer.Put(ctx, a.Session.ID, questionID, value)
	if err != nil {
		return 0, fmt.Errorf("buffer answer: %w", err)
	}
	if outcome == model.BufferClosed {
		// Submitted from another connection after Bind.
		a.Session.Status = model.SessionStatusSubmitted
		return outcome, ErrAlreadySubmitted
	}

	s.log.Debug().
		Str("session_id", a.Session.ID.String()).
		Str("question_id", questionID.String()).
		Int("outcome", int(outcome)).
		Msg("Answer recorded")

	return outcome, nil
}

func (s *AnswerService) release(ctx context.Context, referenceID string) {
	if err := s.uploader.Delete(ctx, referenceID); err != nil {
		s.log.Warn().Err(err).Str("reference_id", referenceID).Msg("Failed to release upload")
	}
}
