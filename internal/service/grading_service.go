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

// GradingService moves sessions through in_progress -> submitted -> graded.
type GradingService struct {
	sessions SessionStore
	exams    ExamReader
	buffer   AnswerBuffer
	log      zerolog.Logger
	now      func() time.Time
}

// NewGradingService creates a new GradingService.
func NewGradingService(sessions SessionStore, exams ExamReader, buffer AnswerBuffer, log zerolog.Logger) *GradingService {
	return &GradingService{
		sessions: sessions,
		exams:    exams,
		buffer:   buffer,
		log:      log.With().Str("component", "grading_service").Logger(),
		now:      time.Now,
	}
}

// SubmissionResult is returned after a submission or a grade change.
type SubmissionResult struct {
	Session   *model.Session       `json:"session"`
	Scorecard Scorecard            `json:"scorecard"`
	Issues    []model.GradingIssue `json:"issues,omitempty"`
}

// Submit closes the caller's session with its final answers. The autoSubmitted flag
// is derived from the server clock; the client claim is only logged.
func (s *GradingService) Submit(ctx context.Context, ident Identity, sessionID uuid.UUID, finalAnswers model.Answers, clientAutoSubmit bool) (*SubmissionResult, error) {
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

	return s.submit(ctx, sess, exam, finalAnswers, clientAutoSubmit, "participant")
}

// ForceSubmit closes a session whose deadline has passed using the answers captured
// before it. It is the server-side expiry path and needs no identity.
func (s *GradingService) ForceSubmit(ctx context.Context, sessionID uuid.UUID) (*SubmissionResult, error) {
	sess, err := getSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	exam, _, err := loadExam(ctx, s.exams, sess.ExamID)
	if err != nil {
		return nil, err
	}
	if !Expired(SessionDeadline(sess, exam), s.now()) {
		return nil, ErrDeadlineNotReached
	}
	return s.submit(ctx, sess, exam, nil, true, "deadline")
}

// SubmitExpired force-submits up to limit sessions whose deadline has passed and
// reports how many were closed.
func (s *GradingService) SubmitExpired(ctx context.Context, limit int) (int, error) {
	ids, err := s.sessions.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	closed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if _, err := s.ForceSubmit(ctx, id); err != nil {
			if errors.Is(err, ErrAlreadySubmitted) {
				continue
			}
			s.log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to force-submit expired session")
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *GradingService) submit(ctx context.Context, sess *model.Session, exam *model.Exam, finalAnswers model.Answers, clientAutoSubmit bool, initiator string) (*SubmissionResult, error) {
	if !sess.Open() {
		return nil, ErrAlreadySubmitted
	}

	now := s.now()
	late := Expired(SessionDeadline(sess, exam), now)

	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	answers, err := currentAnswers(ctx, s.sessions, s.buffer, sess)
	if err != nil {
		return nil, err
	}

	// Final answers are kept on late submissions too; lateness only marks the
	// submission as auto-submitted.
	for qid, v := range finalAnswers {
		q, ok := byID[qid]
		if !ok {
			return nil, ErrUnknownQuestion
		}
		// File answers only come from confirmed uploads recorded earlier.
		if q.Type == model.QuestionTypeFileUpload {
			continue
		}
		answers[qid] = v
	}
	for qid, v := range answers {
		if v == "" {
			delete(answers, qid)
		}
	}

	if clientAutoSubmit != late {
		s.log.Warn().
			Str("session_id", sess.ID.String()).
			Bool("client_auto_submit", clientAutoSubmit).
			Bool("past_deadline", late).
			Msg("Client auto-submit claim disagrees with server clock")
	}

	card := Score(questions, answers, nil)
	issues := stampIssues(card.Issues, sess.ID, now)
	status := card.Status()

	rec := &SubmitRecord{
		SessionID:     sess.ID,
		Answers:       answers,
		SubmittedAt:   now,
		AutoSubmitted: late,
		Status:        status,
		Score:         card.Score,
		TotalPoints:   card.TotalPoints,
		Issues:        issues,
	}
	if err := s.sessions.Submit(ctx, rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("submit session: %w", err)
	}

	if err := s.buffer.Close(ctx, sess.ID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to close answer buffer")
	}

	sess.Answers = answers
	sess.SubmittedAt = &now
	sess.AutoSubmitted = late
	sess.Status = status
	sess.Score = &card.Score
	sess.TotalPoints = &card.TotalPoints

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("initiator", initiator).
		Bool("auto_submitted", late).
		Float64("score", card.Score).
		Float64("total_points", card.TotalPoints).
		Int("pending", len(card.Pending)).
		Int("issues", len(issues)).
		Msg("Session submitted")

	return &SubmissionResult{
		Session:   sess,
		Scorecard: card,
		Issues:    issues,
	}, nil
}

// ApplyManualGrade records a grader's points for one question and recomputes the
// aggregate. Only that question's entry is written; sibling entries are untouched.
func (s *GradingService) ApplyManualGrade(ctx context.Context, ident Identity, sessionID, questionID uuid.UUID, points float64) (*SubmissionResult, error) {
	sess, exam, questions, err := s.loadForGrading(ctx, ident, sessionID)
	if err != nil {
		return nil, err
	}

	var q *model.Question
	for i := range questions {
		if questions[i].ID == questionID {
			q = &questions[i]
			break
		}
	}
	if q == nil {
		return nil, ErrUnknownQuestion
	}
	if !q.Type.ManuallyGraded() {
		return nil, ErrNotManuallyGraded
	}
	if points < 0 || points > q.Points {
		return nil, ErrOutOfRange
	}
	if sess.Open() {
		return nil, ErrNotYetSubmitted
	}

	entry := &model.ManualGradeEntry{
		SessionID:     sessionID,
		QuestionID:    questionID,
		GraderRef:     ident.Subject,
		AwardedPoints: points,
		GradedAt:      s.now(),
	}

	res, err := s.regrade(ctx, sessionID, entry, questions)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("question_id", questionID.String()).
		Str("exam_id", exam.ID.String()).
		Str("grader", ident.Subject).
		Float64("points", points).
		Str("status", string(res.Session.Status)).
		Msg("Manual grade applied")

	return res, nil
}

// Recompute rebuilds a submitted session's aggregate from the current answer keys and
// stored manual grades, e.g. after a key correction.
func (s *GradingService) Recompute(ctx context.Context, ident Identity, sessionID uuid.UUID) (*SubmissionResult, error) {
	sess, _, questions, err := s.loadForGrading(ctx, ident, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Open() {
		return nil, ErrNotYetSubmitted
	}
	return s.regrade(ctx, sessionID, nil, questions)
}

func (s *GradingService) loadForGrading(ctx context.Context, ident Identity, sessionID uuid.UUID) (*model.Session, *model.Exam, []model.Question, error) {
	sess, err := getSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	exam, course, err := loadExam(ctx, s.exams, sess.ExamID)
	if err != nil {
		return nil, nil, nil, err
	}
	if d := CheckTenant(exam, course, ident.TenantRef); d != DecisionAllow {
		return nil, nil, nil, d.Err()
	}
	questions, err := s.exams.ListQuestions(ctx, exam.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list questions: %w", err)
	}
	return sess, exam, questions, nil
}

// regrade runs the recomputation against the locked session row so concurrent graders
// of the same session serialize on the aggregate while keeping their own entries.
func (s *GradingService) regrade(ctx context.Context, sessionID uuid.UUID, entry *model.ManualGradeEntry, questions []model.Question) (*SubmissionResult, error) {
	var card Scorecard
	var issues []model.GradingIssue

	updated, err := s.sessions.Regrade(ctx, sessionID, entry, func(locked *model.Session, grades []model.ManualGradeEntry) (*Recomputation, error) {
		if locked.Open() {
			return nil, ErrNotYetSubmitted
		}
		if entry != nil && !locked.Answers.Answered(entry.QuestionID) {
			return nil, ErrQuestionNotAnswered
		}

		card = Score(questions, locked.Answers, grades)
		issues = stampIssues(card.Issues, locked.ID, s.now())

		status := card.Status()
		if status.Rank() < locked.Status.Rank() {
			status = locked.Status
		}

		return &Recomputation{
			Score:       card.Score,
			TotalPoints: card.TotalPoints,
			Status:      status,
			Issues:      issues,
		}, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("regrade session: %w", err)
	}

	return &SubmissionResult{Session: updated, Scorecard: card, Issues: issues}, nil
}

func stampIssues(issues []model.GradingIssue, sessionID uuid.UUID, at time.Time) []model.GradingIssue {
	out := make([]model.GradingIssue, len(issues))
	for i, is := range issues {
		is.SessionID = sessionID
		is.DetectedAt = at
		out[i] = is
	}
	return out
}
