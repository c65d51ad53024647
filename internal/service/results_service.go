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
	"github.com/stemsi/examcore/internal/response"
)

// ResultsService is the read side used by graders and reporting.
type ResultsService struct {
	sessions SessionStore
	exams    ExamReader
	log      zerolog.Logger
}

// NewResultsService creates a new ResultsService.
func NewResultsService(sessions SessionStore, exams ExamReader, log zerolog.Logger) *ResultsService {
	return &ResultsService{
		sessions: sessions,
		exams:    exams,
		log:      log.With().Str("component", "results_service").Logger(),
	}
}

// SessionResult is a session with its grading state.
type SessionResult struct {
	Session  *model.Session           `json:"session"`
	Deadline time.Time                `json:"deadline"`
	Grades   []model.ManualGradeEntry `json:"grades"`
	Pending  []uuid.UUID              `json:"pending"`
	Issues   []model.GradingIssue     `json:"issues"`
}

// GetSession returns the participant's session for the exam.
func (s *ResultsService) GetSession(ctx context.Context, ident Identity, examID uuid.UUID, participantRef string) (*SessionResult, error) {
	exam, err := s.authorize(ctx, ident, examID)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.GetByExamAndParticipant(ctx, examID, participantRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	answers, err := s.sessions.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if answers == nil {
		answers = model.Answers{}
	}
	sess.Answers = answers

	grades, err := s.sessions.ListManualGrades(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list manual grades: %w", err)
	}
	if grades == nil {
		grades = []model.ManualGradeEntry{}
	}

	issues, err := s.sessions.ListIssues(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list grading issues: %w", err)
	}
	if issues == nil {
		issues = []model.GradingIssue{}
	}

	pending := []uuid.UUID{}
	if !sess.Open() {
		questions, err := s.exams.ListQuestions(ctx, examID)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		card := Score(questions, answers, grades)
		pending = card.Pending
	}

	return &SessionResult{
		Session:  sess,
		Deadline: SessionDeadline(sess, exam),
		Grades:   grades,
		Pending:  pending,
		Issues:   issues,
	}, nil
}

// ListSessions returns a page of the exam's sessions, optionally filtered by status.
func (s *ResultsService) ListSessions(ctx context.Context, ident Identity, examID uuid.UUID, status *model.SessionStatus, page, perPage int) ([]model.Session, *response.Pagination, error) {
	if _, err := s.authorize(ctx, ident, examID); err != nil {
		return nil, nil, err
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	sessions, total, err := s.sessions.ListByExam(ctx, examID, SessionFilter{
		Status: status,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	pagination := &response.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}

	return sessions, pagination, nil
}

func (s *ResultsService) authorize(ctx context.Context, ident Identity, examID uuid.UUID) (*model.Exam, error) {
	exam, course, err := loadExam(ctx, s.exams, examID)
	if err != nil {
		return nil, err
	}
	if d := CheckTenant(exam, course, ident.TenantRef); d != DecisionAllow {
		return nil, d.Err()
	}
	return exam, nil
}
